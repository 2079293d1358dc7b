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

// Package scheduler triggers jobnet runs on cron expressions.
package scheduler

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"kubegems.io/jobnet/pkg/jobnet/job"
	"kubegems.io/jobnet/pkg/log"
)

const (
	DefaultLockName      = "jobnet-scheduler-lock"
	DefaultLockExpiry    = 30 * time.Second
	DefaultCampaignDelay = 5 * time.Second
)

type Schedule struct {
	Jobnet string `json:"jobnet,omitempty" description:"jobnet file, absolute or relative to the home"`
	Cron   string `json:"cron,omitempty" description:"standard cron expression or @every <duration>"`
}

// RunFunc runs one jobnet to completion.
type RunFunc func(ctx context.Context, jobnet string) job.Result

// Scheduler triggers RunFunc for every schedule. With a redis client only the replica holding
// the leader lock triggers anything.
type Scheduler struct {
	Schedules []Schedule
	Run       RunFunc
	Redis     *redis.Client

	LockName      string
	LockExpiry    time.Duration
	CampaignDelay time.Duration
}

func New(schedules []Schedule, run RunFunc, cli *redis.Client) (*Scheduler, error) {
	for _, s := range schedules {
		if s.Jobnet == "" {
			return nil, errors.New("schedule without jobnet")
		}
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return nil, errors.Wrapf(err, "schedule of %s", s.Jobnet)
		}
	}
	return &Scheduler{
		Schedules:     schedules,
		Run:           run,
		Redis:         cli,
		LockName:      DefaultLockName,
		LockExpiry:    DefaultLockExpiry,
		CampaignDelay: DefaultCampaignDelay,
	}, nil
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.Redis == nil {
		return s.serve(ctx)
	}
	return s.campaign(ctx)
}

// serve runs the crontab until ctx is done and waits for triggered runs to finish.
// A run still going when its next trigger fires is not started twice.
func (s *Scheduler) serve(ctx context.Context) error {
	logger := log.FromContextOrDiscard(ctx).WithName("scheduler")
	crontab := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
	for _, sch := range s.Schedules {
		sch := sch
		if _, err := crontab.AddFunc(sch.Cron, func() {
			logger.Info("trigger jobnet", "jobnet", sch.Jobnet, "cron", sch.Cron)
			result := s.Run(ctx, sch.Jobnet)
			if result.OK() {
				logger.Info("jobnet finished", "jobnet", sch.Jobnet)
			} else {
				logger.Info("jobnet stopped", "jobnet", sch.Jobnet, "result", result.String())
			}
		}); err != nil {
			return errors.Wrapf(err, "schedule of %s", sch.Jobnet)
		}
	}
	logger.Info("scheduler started", "schedules", len(s.Schedules))
	crontab.Start()
	<-ctx.Done()
	<-crontab.Stop().Done()
	return nil
}

// campaign keeps trying to become leader and serves while it is.
func (s *Scheduler) campaign(ctx context.Context) error {
	logger := log.FromContextOrDiscard(ctx).WithName("scheduler")
	rs := redsync.New(goredis.NewPool(s.Redis))
	mutex := rs.NewMutex(s.LockName, redsync.WithExpiry(s.LockExpiry), redsync.WithTries(1))

	for {
		if err := mutex.LockContext(ctx); err == nil {
			logger.Info("became leader", "lock", s.LockName)
			s.lead(ctx, mutex)
			if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
				logger.V(1).Info("release leader lock", "err", err.Error())
			}
		} else {
			logger.V(1).Info("another scheduler is leading", "err", err.Error())
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.CampaignDelay):
		}
	}
}

// lead serves until ctx is done or the lock can no longer be extended.
func (s *Scheduler) lead(ctx context.Context, mutex *redsync.Mutex) {
	logger := log.FromContextOrDiscard(ctx).WithName("scheduler")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = s.serve(ctx)
	}()

	ticker := time.NewTicker(s.LockExpiry / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-served
			return
		case <-ticker.C:
			if ok, err := mutex.ExtendContext(ctx); !ok || err != nil {
				logger.Info("lost leader lock", "err", errString(err))
				cancel()
				<-served
				return
			}
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
