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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvName(t *testing.T) {
	tests := []struct {
		flag string
		want string
	}{
		{flag: "loglevel", want: "LOGLEVEL"},
		{flag: "jobnet-home", want: "JOBNET_HOME"},
		{flag: JoinFlagName("database", "Addr"), want: "DATABASE_ADDR"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EnvName(tt.flag))
	}
}

func TestParsePrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := "jobnet:\n  home: /from/file\n  queue: database\n  isolation: inprocess\nschedules:\n  - jobnet: dwh/daily.jobnet\n    cron: \"@daily\"\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))
	t.Setenv("JOBNET_QUEUE", "redis")
	t.Setenv("JOBNET_ISOLATION", "process")

	var home, queue, isolation string
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String(ConfigFileFlag, "", "")
	fs.StringVar(&home, "jobnet-home", "", "")
	fs.StringVar(&queue, "jobnet-queue", "file", "")
	fs.StringVar(&isolation, "jobnet-isolation", "process", "")
	require.NoError(t, fs.Parse([]string{"--config", file, "--jobnet-isolation", "inprocess"}))

	v, err := Parse(fs)
	require.NoError(t, err)
	assert.Equal(t, "/from/file", home)
	assert.Equal(t, "redis", queue, "env wins over the config file")
	assert.Equal(t, "inprocess", isolation, "flags win over env")

	var schedules []struct{ Jobnet, Cron string }
	require.NoError(t, v.UnmarshalKey("schedules", &schedules))
	require.Len(t, schedules, 1)
	assert.Equal(t, "@daily", schedules[0].Cron)
}

func TestParseMissingExplicitFile(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String(ConfigFileFlag, "", "")
	require.NoError(t, fs.Parse([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}))
	_, err := Parse(fs)
	assert.Error(t, err)
}

func TestGenerateConfig(t *testing.T) {
	type sub struct {
		Addr string `json:"addr" description:"listen address"`
	}
	opts := struct {
		Level  string `yaml:"loglevel"`
		Server *sub   `json:"server" head_comment:"http server"`
		Hidden string `json:"-"`
	}{Level: "info", Server: &sub{Addr: "localhost"}}

	buf := &bytes.Buffer{}
	require.NoError(t, GenerateConfig(buf, opts))
	out := buf.String()
	assert.Contains(t, out, "loglevel: info")
	assert.Contains(t, out, "# http server")
	assert.Contains(t, out, "addr: localhost # listen address")
	assert.NotContains(t, out, "hidden")
}
