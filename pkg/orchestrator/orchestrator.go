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

// Package orchestrator wires graphs, queues, runners and their storage into the jobnet commands.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"kubegems.io/jobnet/pkg/jobnet/graph"
	"kubegems.io/jobnet/pkg/jobnet/job"
	"kubegems.io/jobnet/pkg/jobnet/queue"
	"kubegems.io/jobnet/pkg/jobnet/ref"
	"kubegems.io/jobnet/pkg/jobnet/runner"
	"kubegems.io/jobnet/pkg/jobnet/scheduler"
	"kubegems.io/jobnet/pkg/log"
	"kubegems.io/jobnet/pkg/utils/config"
	"kubegems.io/jobnet/pkg/utils/database"
	"kubegems.io/jobnet/pkg/utils/exporter"
	"kubegems.io/jobnet/pkg/utils/redis"
)

// ExecJobCommand is the hidden command a job process is started with.
const ExecJobCommand = "exec-job"

type Dependencies struct {
	Database *gorm.DB
	Redis    *redis.Client
}

func prepareDependencies(ctx context.Context, options *Options) (*Dependencies, error) {
	// logger
	log.SetLevel(options.LogLevel)

	deps := &Dependencies{}
	// database
	if options.Database.Enabled() {
		db, err := database.NewDatabase(options.Database)
		if err != nil {
			return nil, errors.Wrap(err, "open database")
		}
		deps.Database = db.DB()
	}
	// redis
	if options.Redis.Enabled() {
		cli, err := redis.NewClient(ctx, options.Redis)
		if err != nil {
			return nil, errors.Wrap(err, "connect redis")
		}
		deps.Redis = cli
	}
	return deps, nil
}

// Orchestrator builds jobnets, keeps their queues and drains them.
type Orchestrator struct {
	Options    *Options
	Registry   *job.Registry
	Database   *gorm.DB
	Redis      *redis.Client
	Exporter   *exporter.Handler
	Metrics    *runner.Metrics
	ExecutorID string
	// NewIsolation overrides the isolation selected by the options.
	NewIsolation func(home string) (runner.Isolation, error)
}

func (o *Options) Validate() error {
	switch o.Jobnet.Queue {
	case QueueFile, QueueDatabase, QueueRedis:
	default:
		return errors.Errorf("unknown queue %q, use %s, %s or %s", o.Jobnet.Queue, QueueFile, QueueDatabase, QueueRedis)
	}
	switch o.Jobnet.Isolation {
	case IsolationProcess, IsolationInProcess:
	default:
		return errors.Errorf("unknown isolation %q, use %s or %s", o.Jobnet.Isolation, IsolationProcess, IsolationInProcess)
	}
	if o.Jobnet.MaxJobs < 1 {
		return errors.Errorf("maxjobs must be at least 1, got %d", o.Jobnet.MaxJobs)
	}
	return nil
}

func New(ctx context.Context, options *Options) (*Orchestrator, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	deps, err := prepareDependencies(ctx, options)
	if err != nil {
		return nil, err
	}
	return NewWithDependencies(options, deps)
}

func NewWithDependencies(options *Options, deps *Dependencies) (*Orchestrator, error) {
	if options.Jobnet.Queue == QueueDatabase && deps.Database != nil {
		if err := queue.Migrate(deps.Database); err != nil {
			return nil, errors.Wrap(err, "migrate queue tables")
		}
	}
	registry := job.NewRegistry()
	if err := job.RegisterBuiltins(registry, deps.Database); err != nil {
		return nil, err
	}
	handler := exporter.NewHandler(options.Exporter.IncludeExporterMetrics)
	return &Orchestrator{
		Options:    options,
		Registry:   registry,
		Database:   deps.Database,
		Redis:      deps.Redis,
		Exporter:   handler,
		Metrics:    runner.NewMetrics(handler.Registry),
		ExecutorID: queue.NewExecutorID(),
	}, nil
}

func (o *Orchestrator) Close() error {
	var errs []error
	if o.Redis != nil {
		errs = append(errs, o.Redis.Close())
	}
	if o.Database != nil {
		if sqlDB, err := o.Database.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Locate resolves a jobnet argument to its file and the home its references resolve against.
// Relative names that do not exist in the working directory are looked up below the home.
func (o *Orchestrator) Locate(name string) (path, home string) {
	home = o.Options.Jobnet.Home
	path = name
	if !filepath.IsAbs(name) && home != "" {
		if _, err := os.Stat(name); err != nil {
			path = filepath.Join(home, name)
		}
	}
	if home == "" {
		home = filepath.Dir(filepath.Dir(path))
	}
	return path, home
}

// Check builds and validates a jobnet without touching its queue.
func (o *Orchestrator) Check(ctx context.Context, name string) (*graph.Graph, error) {
	path, home := o.Locate(name)
	return o.build(ctx, path, home)
}

func (o *Orchestrator) build(ctx context.Context, path, home string) (*graph.Graph, error) {
	log.FromContextOrDiscard(ctx).V(1).Info("building jobnet", "path", path, "home", home)
	return graph.NewBuilder(graph.NewFileLoader(home)).Build(path)
}

// OpenQueue opens the queue of a jobnet on the configured backing.
func (o *Orchestrator) OpenQueue(ctx context.Context, home string, net ref.Reference) (queue.Queue, error) {
	switch o.Options.Jobnet.Queue {
	case QueueDatabase:
		if o.Database == nil {
			return nil, errors.New("database queue needs a database, set --database-addr")
		}
		return queue.NewDBQueue(ctx, o.Database, net, o.ExecutorID)
	case QueueRedis:
		if o.Redis == nil {
			return nil, errors.New("redis queue needs redis, set --redis-addr")
		}
		return queue.NewRedisQueue(o.Redis.Client, net, o.ExecutorID), nil
	default:
		dir := o.Options.Jobnet.QueueDir
		if dir == "" {
			dir = filepath.Join(home, DefaultQueueDirName)
		}
		return queue.NewFileQueue(queue.FileQueuePath(dir, net), o.ExecutorID), nil
	}
}

func (o *Orchestrator) isolation(home string) (runner.Isolation, error) {
	if o.NewIsolation != nil {
		return o.NewIsolation(home)
	}
	if o.Options.Jobnet.Isolation == IsolationInProcess {
		return &runner.InProcess{Compiler: job.NewFileCompiler(home, o.Registry)}, nil
	}
	sub, err := runner.NewSubprocess(ExecJobCommand)
	if err != nil {
		return nil, err
	}
	sub.Env = o.childEnv(home)
	return sub, nil
}

// childEnv hands the configuration an exec-job child needs over through the environment,
// which the child reads like any other config source.
func (o *Orchestrator) childEnv(home string) []string {
	env := os.Environ()
	set := func(flag, value string) {
		env = append(env, config.EnvName(flag)+"="+value)
	}
	set("jobnet-home", home)
	set("jobnet-queue", QueueFile)
	set("loglevel", o.Options.LogLevel)
	set("database-addr", o.Options.Database.Addr)
	set("database-username", o.Options.Database.Username)
	set("database-password", o.Options.Database.Password)
	set("database-database", o.Options.Database.Database)
	set("redis-addr", "")
	return env
}

// Run builds the jobnet, queues its jobs unless an earlier run left entries behind, and drains
// the queue. Invalid jobnets and queue setup problems are Error results.
func (o *Orchestrator) Run(ctx context.Context, name string) job.Result {
	path, home := o.Locate(name)
	logger := log.FromContextOrDiscard(ctx).WithName("orchestrator").WithValues("jobnet", path)
	ctx = log.NewContext(ctx, logger)

	g, err := o.build(ctx, path, home)
	if err != nil {
		logger.Error(err, "invalid jobnet")
		return job.Errored(err)
	}
	q, err := o.OpenQueue(ctx, home, g.Root)
	if err != nil {
		logger.Error(err, "open queue")
		return job.Errored(err)
	}
	// a refused run leaves the queue of the lock holder untouched
	locked, err := q.Locked(ctx)
	if err != nil {
		logger.Error(err, "check queue lock")
		return job.Errored(err)
	}
	if locked {
		err := errors.Wrapf(queue.ErrDoubleLock, "jobnet %s", g.Root)
		logger.Error(err, "queue locked")
		return job.Errored(err)
	}
	order := g.ExecutionOrder()
	resumed, err := queue.EnqueueOrResume(ctx, q, order)
	if err != nil {
		logger.Error(err, "enqueue jobs")
		return job.Errored(err)
	}
	if resumed {
		size, _ := q.Size(ctx)
		logger.Info("resuming queued jobs", "remaining", size)
	} else {
		logger.Info("queued jobs", "jobs", len(order))
	}

	isolation, err := o.isolation(home)
	if err != nil {
		return job.Errored(err)
	}
	var result job.Result
	if o.Options.Jobnet.MaxJobs > 1 {
		p := &runner.ParallelRunner{
			Queue:        q,
			Isolation:    isolation,
			Dependencies: g.JobDependencies(),
			MaxJobs:      o.Options.Jobnet.MaxJobs,
			Metrics:      o.Metrics,
		}
		result = p.Run(ctx)
	} else {
		r := &runner.Runner{Queue: q, Isolation: isolation, Metrics: o.Metrics}
		result = r.Run(ctx)
	}
	logger.Info("jobnet finished", "result", result.String(), "exitcode", result.ExitCode())
	return result
}

// ExecJob is the child side of process isolation. It runs one job in this process and, when
// resultFile is set, writes the result there before the caller exits with its code.
func (o *Orchestrator) ExecJob(ctx context.Context, jobref, resultFile string) job.Result {
	var result job.Result
	r, err := ref.Parse(jobref)
	if err != nil {
		result = job.Errored(err)
	} else {
		inprocess := &runner.InProcess{Compiler: job.NewFileCompiler(o.Options.Jobnet.Home, o.Registry)}
		result = inprocess.Run(ctx, r)
	}
	if resultFile != "" {
		if err := job.WriteSidecar(resultFile, result); err != nil {
			log.FromContextOrDiscard(ctx).Error(err, "write result file", "path", resultFile)
		}
	}
	return result
}

type QueueStatus struct {
	Jobnet  ref.Reference
	Locked  bool
	Entries []queue.Entry
}

func (o *Orchestrator) queueOf(ctx context.Context, name string) (queue.Queue, ref.Reference, error) {
	path, home := o.Locate(name)
	net, err := ref.NetOfPath(path)
	if err != nil {
		return nil, ref.Reference{}, err
	}
	q, err := o.OpenQueue(ctx, home, net)
	return q, net, err
}

// Status lists the jobs still queued for a jobnet.
func (o *Orchestrator) Status(ctx context.Context, name string) (*QueueStatus, error) {
	q, net, err := o.queueOf(ctx, name)
	if err != nil {
		return nil, err
	}
	locked, err := q.Locked(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := q.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueStatus{Jobnet: net, Locked: locked, Entries: entries}, nil
}

// ClearLock removes the lock a crashed run left behind. The queued jobs are kept.
func (o *Orchestrator) ClearLock(ctx context.Context, name string) error {
	q, _, err := o.queueOf(ctx, name)
	if err != nil {
		return err
	}
	log.FromContextOrDiscard(ctx).Info("clearing queue lock", "jobnet", name)
	return q.ClearLock(ctx)
}

// Cancel drops the queued jobs so the next run starts from scratch.
func (o *Orchestrator) Cancel(ctx context.Context, name string) (int, error) {
	q, _, err := o.queueOf(ctx, name)
	if err != nil {
		return 0, err
	}
	n, err := q.Cancel(ctx)
	if err != nil {
		return 0, err
	}
	log.FromContextOrDiscard(ctx).Info("canceled queued jobs", "jobnet", name, "jobs", n)
	return n, nil
}

// Schedule runs the configured schedules until ctx is done.
func (o *Orchestrator) Schedule(ctx context.Context) error {
	s, err := scheduler.New(o.Options.Schedules, o.Run, o.redisClient())
	if err != nil {
		return err
	}
	if len(s.Schedules) == 0 {
		return errors.New("no schedules configured")
	}
	return s.Start(ctx)
}

func (o *Orchestrator) redisClient() *goredis.Client {
	if o.Redis == nil {
		return nil
	}
	return o.Redis.Client
}

// Serve runs fn next to the metrics exporter, when one is configured.
// The exporter stops once fn returns.
func (o *Orchestrator) Serve(ctx context.Context, fn func(ctx context.Context) error) error {
	if o.Options.Exporter.Listen == "" {
		return fn(ctx)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return o.Exporter.Run(ctx, o.Options.Exporter)
	})
	eg.Go(func() error {
		defer cancel()
		return fn(ctx)
	})
	return eg.Wait()
}
