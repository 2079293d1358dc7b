// Copyright 2022 The kubegems.io Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"kubegems.io/jobnet/pkg/log"
)

const ConfigFileFlag = "config"

// Parse fills flag values from several sources. Precedence, highest first:
//
//  1. command line flags
//  2. environment variables
//  3. config file
//  4. defaults
//
// A flag "foo-bar" maps to the environment variable "FOO_BAR" and to the config file key "foo.bar".
// Flags already set on the command line are never overwritten.
// The returned viper instance gives access to config file sections that have no flag.
func Parse(fs *pflag.FlagSet) (*viper.Viper, error) {
	v, err := LoadConfigFile(fs)
	if err != nil {
		return nil, err
	}
	LoadEnv(fs)
	Print(fs)
	return v, nil
}

func Print(fs *pflag.FlagSet) {
	fs.VisitAll(func(flag *pflag.Flag) {
		if flag.Changed {
			log.V(1).Info("config", "flag", flag.Name, "value", flag.Value.String())
		}
	})
}

// EnvName is the environment variable read for a flag.
func EnvName(flagname string) string {
	return strings.ToUpper(strings.ReplaceAll(flagname, "-", "_"))
}

func LoadEnv(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		envname := EnvName(f.Name)
		if val, ok := os.LookupEnv(envname); ok {
			log.V(1).Info("config from env", "env", envname)
			_ = f.Value.Set(val)
		}
	})
}

// LoadConfigFile reads the file named by the --config flag, or config.yaml in "." and "config/".
// A missing default file is not an error, a missing explicit file is.
func LoadConfigFile(fs *pflag.FlagSet) (*viper.Viper, error) {
	flagNameToConfigKey := func(fname string) string {
		return strings.ToLower(strings.ReplaceAll(fname, "-", "."))
	}

	v := viper.New()
	explicit := ""
	if f := fs.Lookup(ConfigFileFlag); f != nil {
		explicit = f.Value.String()
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}
	if err := v.ReadInConfig(); err != nil {
		if explicit != "" {
			return nil, err
		}
		if _, notfound := err.(viper.ConfigFileNotFoundError); !notfound {
			return nil, err
		}
		log.V(1).Info("no config file found")
		return v, nil
	}

	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || f.Name == ConfigFileFlag {
			return
		}
		filekeyname := flagNameToConfigKey(f.Name)
		if val := v.GetString(filekeyname); val != "" {
			log.V(1).Info("config from file", "key", filekeyname)
			_ = f.Value.Set(val)
		}
	})
	return v, nil
}

func JoinFlagName(prefix, key string) string {
	if prefix == "" {
		return strings.ToLower(key)
	}
	return strings.ToLower(prefix + "-" + key)
}
