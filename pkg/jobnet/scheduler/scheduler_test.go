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

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kubegems.io/jobnet/pkg/jobnet/job"
)

func TestNewValidates(t *testing.T) {
	tests := []struct {
		name      string
		schedules []Schedule
		wantErr   bool
	}{
		{name: "valid", schedules: []Schedule{{Jobnet: "dwh/daily.jobnet", Cron: "0 2 * * *"}, {Jobnet: "x.jobnet", Cron: "@every 1h"}}},
		{name: "bad cron", schedules: []Schedule{{Jobnet: "dwh/daily.jobnet", Cron: "every night"}}, wantErr: true},
		{name: "no jobnet", schedules: []Schedule{{Cron: "@daily"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.schedules, nil, nil)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSchedulerTriggers(t *testing.T) {
	triggered := make(chan string, 8)
	s, err := New([]Schedule{{Jobnet: "dwh/daily.jobnet", Cron: "@every 1s"}}, func(ctx context.Context, jobnet string) job.Result {
		triggered <- jobnet
		return job.Succeeded()
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case jobnet := <-triggered:
		assert.Equal(t, "dwh/daily.jobnet", jobnet)
	case <-time.After(5 * time.Second):
		t.Fatal("schedule never triggered")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerSingleLeader(t *testing.T) {
	mr := miniredis.RunT(t)
	var counts [2]int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 2)
	for i := range counts {
		i := i
		cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { cli.Close() })
		s, err := New([]Schedule{{Jobnet: "dwh/daily.jobnet", Cron: "@every 1s"}}, func(ctx context.Context, jobnet string) job.Result {
			atomic.AddInt32(&counts[i], 1)
			return job.Succeeded()
		}, cli)
		require.NoError(t, err)
		s.LockExpiry = 3 * time.Second
		s.CampaignDelay = 50 * time.Millisecond
		go func() { done <- s.Start(ctx) }()
	}

	time.Sleep(2500 * time.Millisecond)
	cancel()
	for range counts {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("scheduler did not stop")
		}
	}

	a, b := atomic.LoadInt32(&counts[0]), atomic.LoadInt32(&counts[1])
	assert.True(t, (a > 0) != (b > 0), "exactly one scheduler must trigger, got %d and %d", a, b)
	assert.False(t, mr.Exists(DefaultLockName), "leader lock released on stop")
}
