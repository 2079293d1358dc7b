// Copyright 2024 The kubegems.io Authors
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

package orchestrator

import (
	"github.com/spf13/pflag"
	"kubegems.io/jobnet/pkg/jobnet/scheduler"
	"kubegems.io/jobnet/pkg/utils/config"
	"kubegems.io/jobnet/pkg/utils/database"
	"kubegems.io/jobnet/pkg/utils/exporter"
	"kubegems.io/jobnet/pkg/utils/redis"
)

const (
	QueueFile     = "file"
	QueueDatabase = "database"
	QueueRedis    = "redis"

	IsolationProcess   = "process"
	IsolationInProcess = "inprocess"

	DefaultQueueDirName = ".queue"
)

type Options struct {
	Jobnet    *JobnetOptions            `json:"jobnet" head_comment:"jobnet engine"`
	LogLevel  string                    `json:"loglevel"`
	Database  *database.Options         `json:"database" head_comment:"mysql, required by the database queue and sql jobs"`
	Redis     *redis.Options            `json:"redis" head_comment:"redis, required by the redis queue and scheduler leader election"`
	Exporter  *exporter.ExporterOptions `json:"exporter"`
	Schedules []scheduler.Schedule      `json:"schedules" head_comment:"cron schedules of the schedule command, config file only"`
}

type JobnetOptions struct {
	Home      string `json:"home" description:"root of <subsystem>/<name>.jobnet and .job files, defaults to the grandparent of the jobnet file"`
	Queue     string `json:"queue" description:"queue backing: file, database or redis"`
	QueueDir  string `json:"queuedir" description:"directory of file queues, defaults to <home>/.queue"`
	Isolation string `json:"isolation" description:"job isolation: process or inprocess"`
	MaxJobs   int    `json:"maxjobs" description:"jobs run concurrently, 1 runs the queue in order"`
}

func DefaultOptions() *Options {
	return &Options{
		Jobnet: &JobnetOptions{
			Queue:     QueueFile,
			Isolation: IsolationProcess,
			MaxJobs:   1,
		},
		LogLevel:  "info",
		Database:  database.NewDefaultOptions(),
		Redis:     redis.NewDefaultOptions(),
		Exporter:  exporter.DefaultExporterOptions(),
		Schedules: []scheduler.Schedule{},
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.LogLevel, config.JoinFlagName(prefix, "loglevel"), o.LogLevel, "log level")
	o.Jobnet.RegistFlags(config.JoinFlagName(prefix, "jobnet"), fs)
	o.Database.RegistFlags(config.JoinFlagName(prefix, "database"), fs)
	o.Redis.RegistFlags(config.JoinFlagName(prefix, "redis"), fs)
	o.Exporter.RegistFlags(config.JoinFlagName(prefix, "exporter"), fs)
}

func (o *JobnetOptions) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Home, config.JoinFlagName(prefix, "home"), o.Home, "root directory of jobnet and job definitions")
	fs.StringVar(&o.Queue, config.JoinFlagName(prefix, "queue"), o.Queue, "queue backing: file, database or redis")
	fs.StringVar(&o.QueueDir, config.JoinFlagName(prefix, "queuedir"), o.QueueDir, "directory of file queues")
	fs.StringVar(&o.Isolation, config.JoinFlagName(prefix, "isolation"), o.Isolation, "job isolation: process or inprocess")
	fs.IntVar(&o.MaxJobs, config.JoinFlagName(prefix, "maxjobs"), o.MaxJobs, "jobs run concurrently")
}
