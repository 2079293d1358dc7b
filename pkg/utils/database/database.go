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

package database

import (
	"time"

	driver "github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"kubegems.io/jobnet/pkg/log"
	"kubegems.io/jobnet/pkg/utils/config"
)

type Options struct {
	Addr     string `json:"addr" description:"mysql host addr"`
	Username string `json:"username" description:"mysql username"`
	Password string `json:"password" description:"mysql password"`
	Database string `json:"database" description:"database to use"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Addr:     "", // keep empty to avoid using mysql
		Username: "root",
		Password: "",
		Database: "jobnet",
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Addr, config.JoinFlagName(prefix, "addr"), o.Addr, "mysql address, empty disables the database")
	fs.StringVar(&o.Username, config.JoinFlagName(prefix, "username"), o.Username, "mysql username")
	fs.StringVar(&o.Password, config.JoinFlagName(prefix, "password"), o.Password, "mysql password")
	fs.StringVar(&o.Database, config.JoinFlagName(prefix, "database"), o.Database, "mysql database")
}

func (o *Options) Enabled() bool {
	return o != nil && o.Addr != ""
}

type Database struct {
	db      *gorm.DB
	options *Options
}

func (o *Database) DB() *gorm.DB {
	return o.db
}

func (o *Database) Options() *Options {
	return o.options
}

func NewDatabase(options *Options) (*Database, error) {
	db, err := Open(mysql.Open(options.ToDsn()))
	if err != nil {
		return nil, err
	}
	return &Database{db: db, options: options}, nil
}

// Open opens any gorm dialector with the shared zap backed logger.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	return gorm.Open(dialector, &gorm.Config{
		Logger: log.NewDefaultGormZapLogger(),
	})
}

func (opts *Options) ToDsn() string {
	return opts.ToDriverConfig().FormatDSN()
}

func (opts *Options) ToDriverConfig() *driver.Config {
	cfg := driver.NewConfig()
	cfg.User = opts.Username
	cfg.Passwd = opts.Password
	cfg.Net = "tcp"
	cfg.Addr = opts.Addr
	cfg.DBName = opts.Database
	cfg.ParseTime = true
	cfg.Collation = "utf8mb4_general_ci"
	cfg.Loc = time.Local
	cfg.AllowNativePasswords = true
	return cfg
}
