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
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"kubegems.io/jobnet/pkg/jobnet/job"
	"kubegems.io/jobnet/pkg/jobnet/queue"
	"kubegems.io/jobnet/pkg/jobnet/ref"
	"kubegems.io/jobnet/pkg/log"
)

var errStopped = errors.New("stopped on job result")

// Runner drains a queue one job at a time.
type Runner struct {
	Queue     queue.Queue
	Isolation Isolation
	Metrics   *Metrics
}

// Run consumes the queue until it is empty or a job does not succeed. A job that fails stays
// at the head of the queue and its result is returned, so the exit code follows the job.
func (r *Runner) Run(ctx context.Context) job.Result {
	logger := log.FromContextOrDiscard(ctx).WithName("runner")
	ctx = log.NewContext(ctx, logger)

	final := job.Succeeded()
	err := queue.ConsumeEach(ctx, r.Queue, func(ctx context.Context, next ref.Reference) error {
		result := runJob(ctx, logger, r.Queue, r.Isolation, r.Metrics, next)
		if !result.OK() {
			final = result
			return errStopped
		}
		return nil
	})
	return finish(ctx, logger, final, err)
}

func finish(ctx context.Context, logger logr.Logger, final job.Result, err error) job.Result {
	switch {
	case err == nil || errors.Is(err, errStopped):
		return final
	case errors.Is(err, queue.ErrDoubleLock):
		logger.Error(err, "queue locked")
		return job.Errored(err)
	case ctx.Err() != nil:
		return job.Failed("interrupted: %v", err)
	default:
		logger.Error(err, "queue")
		return job.Errored(err)
	}
}

// runJob runs one job and records its state on queues that keep one.
func runJob(ctx context.Context, logger logr.Logger, q queue.Queue, isolation Isolation, metrics *Metrics, r ref.Reference) job.Result {
	logger = logger.WithValues("job", r.String())
	recorder, _ := q.(queue.Recorder)
	if recorder != nil {
		if err := recorder.Started(ctx, r); err != nil {
			return job.Errored(errors.Wrap(err, "record job start"))
		}
	}

	logger.Info("job started")
	metrics.started()
	start := time.Now()
	result := isolation.Run(ctx, r)
	elapsed := time.Since(start)
	metrics.finished(r, result, elapsed)

	switch result.Status {
	case job.Success:
		logger.Info("job succeeded", "elapsed", elapsed.String())
	case job.Failure:
		logger.Info("job failed", "elapsed", elapsed.String(), "message", result.Message)
	case job.Error:
		logger.Error(errors.New(result.Message), "job errored", "elapsed", elapsed.String())
	}

	if !result.OK() && recorder != nil {
		if err := recorder.Failed(context.WithoutCancel(ctx), r, result.String()); err != nil {
			logger.Error(err, "record job failure")
		}
	}
	return result
}
