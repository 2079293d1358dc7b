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

package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"kubegems.io/jobnet/pkg/jobnet/ref"
)

type ExecutionStatus string

const (
	StatusQueued    ExecutionStatus = "queued"
	StatusRunning   ExecutionStatus = "running"
	StatusSucceeded ExecutionStatus = "succeeded"
	StatusFailed    ExecutionStatus = "failed"
	StatusCanceled  ExecutionStatus = "canceled"
)

// unfinished rows are still part of the queue. A failed job is retried on resume.
var unfinished = []ExecutionStatus{StatusQueued, StatusRunning, StatusFailed}

// JobNet is one jobnet instance; a non null ExecutorID is the queue lock.
type JobNet struct {
	ID         uint    `gorm:"primarykey"`
	Subsystem  string  `gorm:"size:64;not null;uniqueIndex:uniq_jobnet"`
	Name       string  `gorm:"size:128;not null;uniqueIndex:uniq_jobnet"`
	ExecutorID *string `gorm:"size:255"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (JobNet) TableName() string { return "jobnets" }

// JobExecution is one queue entry, ID is the submission sequence.
type JobExecution struct {
	ID          int64           `gorm:"primarykey"`
	JobNetID    uint            `gorm:"column:jobnet_id;not null;index:idx_jobnet_status"`
	Subsystem   string          `gorm:"size:64;not null"`
	JobName     string          `gorm:"size:128;not null"`
	Status      ExecutionStatus `gorm:"size:16;not null;index:idx_jobnet_status"`
	ExecutorID  *string         `gorm:"size:255"`
	Message     string          `gorm:"type:text"`
	SubmittedAt time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

func (JobExecution) TableName() string { return "job_executions" }

func (e JobExecution) Ref() ref.Reference {
	return ref.Job(e.Subsystem, e.JobName)
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&JobNet{}, &JobExecution{})
}

// DBQueue keeps a jobnet instance in the jobnets table and its entries in job_executions.
// Every state change is a single conditional update.
type DBQueue struct {
	db         *gorm.DB
	jobnet     JobNet
	ExecutorID string
}

// NewDBQueue opens the queue of net, creating its jobnets row when missing.
func NewDBQueue(ctx context.Context, db *gorm.DB, net ref.Reference, executorID string) (*DBQueue, error) {
	jobnet := JobNet{Subsystem: net.Subsystem, Name: net.Name}
	if err := db.WithContext(ctx).
		Where(JobNet{Subsystem: net.Subsystem, Name: net.Name}).
		FirstOrCreate(&jobnet).Error; err != nil {
		return nil, errors.Wrapf(err, "open jobnet %s", net)
	}
	return &DBQueue{db: db, jobnet: jobnet, ExecutorID: executorID}, nil
}

func (q *DBQueue) pending(ctx context.Context) *gorm.DB {
	return q.db.WithContext(ctx).Model(&JobExecution{}).
		Where("jobnet_id = ? AND status IN ?", q.jobnet.ID, unfinished)
}

func (q *DBQueue) Enqueue(ctx context.Context, refs []ref.Reference) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		for _, r := range refs {
			var count int64
			if err := tx.Model(&JobExecution{}).
				Where("jobnet_id = ? AND subsystem = ? AND job_name = ? AND status IN ?",
					q.jobnet.ID, r.Subsystem, r.Name, unfinished).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			execution := &JobExecution{
				JobNetID:    q.jobnet.ID,
				Subsystem:   r.Subsystem,
				JobName:     r.Name,
				Status:      StatusQueued,
				SubmittedAt: now,
			}
			if err := tx.Create(execution).Error; err != nil {
				return errors.Wrapf(err, "enqueue %s", r)
			}
		}
		return nil
	})
}

func (q *DBQueue) head(ctx context.Context) (*JobExecution, error) {
	execution := &JobExecution{}
	err := q.pending(ctx).Order("id").First(execution).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEmpty
	}
	return execution, err
}

func (q *DBQueue) Peek(ctx context.Context) (ref.Reference, error) {
	execution, err := q.head(ctx)
	if err != nil {
		return ref.Reference{}, err
	}
	return execution.Ref(), nil
}

func (q *DBQueue) Dequeue(ctx context.Context) (ref.Reference, error) {
	execution, err := q.head(ctx)
	if err != nil {
		return ref.Reference{}, err
	}
	now := time.Now()
	result := q.pending(ctx).Where("id = ?", execution.ID).
		Updates(map[string]any{"status": StatusSucceeded, "finished_at": &now})
	if result.Error != nil {
		return ref.Reference{}, result.Error
	}
	if result.RowsAffected == 0 {
		return ref.Reference{}, ErrEmpty
	}
	return execution.Ref(), nil
}

func (q *DBQueue) Remove(ctx context.Context, r ref.Reference) error {
	now := time.Now()
	return q.pending(ctx).Where("subsystem = ? AND job_name = ?", r.Subsystem, r.Name).
		Updates(map[string]any{"status": StatusSucceeded, "finished_at": &now}).Error
}

func (q *DBQueue) Entries(ctx context.Context) ([]Entry, error) {
	var executions []JobExecution
	if err := q.pending(ctx).Order("id").Find(&executions).Error; err != nil {
		return nil, err
	}
	entries := make([]Entry, len(executions))
	for i, e := range executions {
		entries[i] = Entry{Ref: e.Ref(), Sequence: e.ID}
	}
	return entries, nil
}

// Executions lists every row of the jobnet instance, finished ones included.
func (q *DBQueue) Executions(ctx context.Context) ([]JobExecution, error) {
	var executions []JobExecution
	err := q.db.WithContext(ctx).Where("jobnet_id = ?", q.jobnet.ID).Order("id").Find(&executions).Error
	return executions, err
}

func (q *DBQueue) Size(ctx context.Context) (int, error) {
	var count int64
	err := q.pending(ctx).Count(&count).Error
	return int(count), err
}

func (q *DBQueue) Lock(ctx context.Context) error {
	result := q.db.WithContext(ctx).Model(&JobNet{}).
		Where("id = ? AND executor_id IS NULL", q.jobnet.ID).
		Update("executor_id", q.ExecutorID)
	if result.Error != nil {
		return errors.Wrap(result.Error, "lock jobnet")
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(ErrDoubleLock, "jobnet %s/%s", q.jobnet.Subsystem, q.jobnet.Name)
	}
	return nil
}

func (q *DBQueue) Unlock(ctx context.Context) error {
	result := q.db.WithContext(ctx).Model(&JobNet{}).
		Where("id = ? AND executor_id = ?", q.jobnet.ID, q.ExecutorID).
		Update("executor_id", nil)
	if result.Error != nil {
		return errors.Wrap(result.Error, "unlock jobnet")
	}
	if result.RowsAffected == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (q *DBQueue) ClearLock(ctx context.Context) error {
	return q.db.WithContext(ctx).Model(&JobNet{}).
		Where("id = ?", q.jobnet.ID).
		Update("executor_id", nil).Error
}

func (q *DBQueue) Locked(ctx context.Context) (bool, error) {
	jobnet := &JobNet{}
	if err := q.db.WithContext(ctx).First(jobnet, q.jobnet.ID).Error; err != nil {
		return false, err
	}
	return jobnet.ExecutorID != nil, nil
}

func (q *DBQueue) Queued(ctx context.Context) (bool, error) {
	size, err := q.Size(ctx)
	return size > 0, err
}

func (q *DBQueue) Cancel(ctx context.Context) (int, error) {
	now := time.Now()
	result := q.db.WithContext(ctx).Model(&JobExecution{}).
		Where("jobnet_id = ? AND status IN ?", q.jobnet.ID, []ExecutionStatus{StatusQueued, StatusFailed}).
		Updates(map[string]any{"status": StatusCanceled, "finished_at": &now})
	return int(result.RowsAffected), result.Error
}

func (q *DBQueue) Started(ctx context.Context, r ref.Reference) error {
	now := time.Now()
	return q.pending(ctx).Where("subsystem = ? AND job_name = ?", r.Subsystem, r.Name).
		Updates(map[string]any{
			"status":      StatusRunning,
			"executor_id": q.ExecutorID,
			"started_at":  &now,
			"finished_at": nil,
			"message":     "",
		}).Error
}

func (q *DBQueue) Failed(ctx context.Context, r ref.Reference, message string) error {
	now := time.Now()
	return q.pending(ctx).Where("subsystem = ? AND job_name = ?", r.Subsystem, r.Name).
		Updates(map[string]any{"status": StatusFailed, "message": message, "finished_at": &now}).Error
}
