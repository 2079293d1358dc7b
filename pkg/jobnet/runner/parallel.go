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

package runner

import (
	"context"

	"github.com/pkg/errors"
	"kubegems.io/jobnet/pkg/jobnet/job"
	"kubegems.io/jobnet/pkg/jobnet/queue"
	"kubegems.io/jobnet/pkg/jobnet/ref"
	"kubegems.io/jobnet/pkg/log"
)

// ParallelRunner runs up to MaxJobs jobs at once. A job starts once every job it depends on
// has finished, dependencies missing from the queue count as finished.
// After the first job that does not succeed no further job is started; running ones are
// waited for and the first bad result is returned.
type ParallelRunner struct {
	Queue     queue.Queue
	Isolation Isolation
	// Dependencies maps a job to the jobs it waits for, see graph.Graph.JobDependencies.
	Dependencies map[string][]ref.Reference
	MaxJobs      int
	Metrics      *Metrics
}

type finished struct {
	ref    ref.Reference
	result job.Result
}

func (p *ParallelRunner) Run(ctx context.Context) (result job.Result) {
	logger := log.FromContextOrDiscard(ctx).WithName("runner")
	ctx = log.NewContext(ctx, logger)

	if err := p.Queue.Lock(ctx); err != nil {
		return finish(ctx, logger, job.Succeeded(), err)
	}
	defer func() {
		if err := p.Queue.Unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Error(err, "unlock queue")
			if result.OK() {
				result = job.Errored(err)
			}
		}
	}()

	entries, err := p.Queue.Entries(ctx)
	if err != nil {
		return finish(ctx, logger, job.Succeeded(), err)
	}

	maxJobs := p.MaxJobs
	if maxJobs < 1 {
		maxJobs = 1
	}
	pending := map[string]bool{}
	for _, e := range entries {
		pending[e.Ref.String()] = true
	}
	ready := func(r ref.Reference) bool {
		for _, dep := range p.Dependencies[r.String()] {
			if pending[dep.String()] {
				return false
			}
		}
		return true
	}

	results := make(chan finished)
	started := map[string]bool{}
	running := 0
	var failed *job.Result
	for {
		if failed == nil && ctx.Err() == nil {
			for _, e := range entries {
				if running >= maxJobs {
					break
				}
				key := e.Ref.String()
				if started[key] || !ready(e.Ref) {
					continue
				}
				started[key] = true
				running++
				go func(r ref.Reference) {
					results <- finished{ref: r, result: runJob(ctx, logger, p.Queue, p.Isolation, p.Metrics, r)}
				}(e.Ref)
			}
		}
		if running == 0 {
			break
		}

		done := <-results
		running--
		if !done.result.OK() {
			if failed == nil {
				failed = &done.result
				logger.Info("stop starting jobs", "job", done.ref.String(), "running", running)
			}
			continue
		}
		if err := p.Queue.Remove(context.WithoutCancel(ctx), done.ref); err != nil {
			logger.Error(err, "dequeue finished job", "job", done.ref.String())
			if failed == nil {
				errored := job.Errored(errors.Wrapf(err, "dequeue %s", done.ref))
				failed = &errored
			}
			continue
		}
		delete(pending, done.ref.String())
	}

	switch {
	case failed != nil:
		return *failed
	case ctx.Err() != nil:
		return job.Failed("interrupted: %v", ctx.Err())
	case len(pending) > 0:
		// unreachable with dependencies taken from a validated graph
		return job.Errored(errors.Errorf("%d jobs never became ready", len(pending)))
	}
	return job.Succeeded()
}
