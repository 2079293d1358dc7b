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

// Package queue persists the pending jobs of a jobnet run.
//
// A queue belongs to one jobnet instance. It holds the jobs still to run in execution order,
// survives process crashes and carries an advisory lock so that only one runner drains it
// at a time. The lock has no timeout: a crashed runner leaves it behind until an operator
// clears it.
package queue

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"kubegems.io/jobnet/pkg/jobnet/ref"
	"kubegems.io/jobnet/pkg/log"
)

var (
	ErrDoubleLock  = errors.New("queue is locked by another runner, resume it or clear the lock explicitly")
	ErrLockNotHeld = errors.New("queue lock is not held by this runner")
	ErrEmpty       = errors.New("queue is empty")
)

type Entry struct {
	Ref      ref.Reference
	Sequence int64
}

type Queue interface {
	// Enqueue appends refs in order and persists them.
	Enqueue(ctx context.Context, refs []ref.Reference) error
	// Peek returns the head, ErrEmpty when there is none.
	Peek(ctx context.Context) (ref.Reference, error)
	// Dequeue removes the head and persists the removal.
	Dequeue(ctx context.Context) (ref.Reference, error)
	// Remove removes one entry wherever it is, used when jobs finish out of order.
	Remove(ctx context.Context, r ref.Reference) error
	Entries(ctx context.Context) ([]Entry, error)
	Size(ctx context.Context) (int, error)

	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	// ClearLock removes the lock whoever holds it.
	ClearLock(ctx context.Context) error
	Locked(ctx context.Context) (bool, error)

	// Queued reports whether persisted state exists, in which case a run resumes instead of enqueuing.
	Queued(ctx context.Context) (bool, error)
	// Cancel drops every pending entry and returns how many were dropped.
	// A job that is running is not touched.
	Cancel(ctx context.Context) (int, error)
}

// Recorder is implemented by queues that keep the state of every job.
type Recorder interface {
	Started(ctx context.Context, r ref.Reference) error
	Failed(ctx context.Context, r ref.Reference, message string) error
}

// NewExecutorID identifies this process as a lock owner.
func NewExecutorID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	return hostname + "/" + uuid.NewString()
}

// ConsumeEach locks q and hands its entries to fn one at a time, head first.
// An entry is dequeued only after fn returned nil. When fn fails the entry stays at the head,
// the loop stops and the error is returned. The lock is released however the loop ends,
// including a panic in fn.
func ConsumeEach(ctx context.Context, q Queue, fn func(ctx context.Context, r ref.Reference) error) (err error) {
	logger := log.FromContextOrDiscard(ctx).WithName("queue")
	if err := q.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if uerr := q.Unlock(context.WithoutCancel(ctx)); uerr != nil {
			logger.Error(uerr, "unlock queue")
			if err == nil {
				err = uerr
			}
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		head, err := q.Peek(ctx)
		if errors.Is(err, ErrEmpty) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(ctx, head); err != nil {
			return err
		}
		if _, err := q.Dequeue(ctx); err != nil {
			if errors.Is(err, ErrEmpty) {
				// canceled while the job was running
				logger.Info("queue emptied during run", "job", head.String())
				return nil
			}
			return err
		}
	}
}

// EnqueueOrResume enqueues refs unless q already holds persisted state.
// It reports whether the queue was resumed.
func EnqueueOrResume(ctx context.Context, q Queue, refs []ref.Reference) (bool, error) {
	queued, err := q.Queued(ctx)
	if err != nil {
		return false, err
	}
	if queued {
		return true, nil
	}
	return false, q.Enqueue(ctx, refs)
}
