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

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"kubegems.io/jobnet/pkg/jobnet/ref"
)

const DefaultRedisPrefix = "/jobnet-queue/"

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisQueue keeps the entries of a jobnet instance in a redis list.
// The lock is a key set with SETNX, without expiry, holding the executor id.
type RedisQueue struct {
	cli        *redis.Client
	key        string
	ExecutorID string
}

func NewRedisQueue(cli *redis.Client, net ref.Reference, executorID string) *RedisQueue {
	return &RedisQueue{
		cli:        cli,
		key:        DefaultRedisPrefix + net.Subsystem + "/" + net.Name,
		ExecutorID: executorID,
	}
}

func (q *RedisQueue) lockKey() string {
	return q.key + ".LOCK"
}

func (q *RedisQueue) Enqueue(ctx context.Context, refs []ref.Reference) error {
	if len(refs) == 0 {
		return nil
	}
	values := make([]any, len(refs))
	for i, r := range refs {
		values[i] = r.String()
	}
	return q.cli.RPush(ctx, q.key, values...).Err()
}

func (q *RedisQueue) Peek(ctx context.Context) (ref.Reference, error) {
	val, err := q.cli.LIndex(ctx, q.key, 0).Result()
	if errors.Is(err, redis.Nil) {
		return ref.Reference{}, ErrEmpty
	}
	if err != nil {
		return ref.Reference{}, err
	}
	return ref.Parse(val)
}

func (q *RedisQueue) Dequeue(ctx context.Context) (ref.Reference, error) {
	val, err := q.cli.LPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return ref.Reference{}, ErrEmpty
	}
	if err != nil {
		return ref.Reference{}, err
	}
	return ref.Parse(val)
}

func (q *RedisQueue) Remove(ctx context.Context, r ref.Reference) error {
	return q.cli.LRem(ctx, q.key, 1, r.String()).Err()
}

func (q *RedisQueue) Entries(ctx context.Context) ([]Entry, error) {
	vals, err := q.cli.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(vals))
	for i, val := range vals {
		r, err := ref.Parse(val)
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d of %s", i, q.key)
		}
		entries = append(entries, Entry{Ref: r, Sequence: int64(i + 1)})
	}
	return entries, nil
}

func (q *RedisQueue) Size(ctx context.Context) (int, error) {
	n, err := q.cli.LLen(ctx, q.key).Result()
	return int(n), err
}

func (q *RedisQueue) Lock(ctx context.Context) error {
	ok, err := q.cli.SetNX(ctx, q.lockKey(), q.ExecutorID, 0).Result()
	if err != nil {
		return errors.Wrap(err, "lock queue")
	}
	if !ok {
		return errors.Wrapf(ErrDoubleLock, "key %s exists", q.lockKey())
	}
	return nil
}

func (q *RedisQueue) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, q.cli, []string{q.lockKey()}, q.ExecutorID).Int()
	if err != nil {
		return errors.Wrap(err, "unlock queue")
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (q *RedisQueue) ClearLock(ctx context.Context) error {
	return q.cli.Del(ctx, q.lockKey()).Err()
}

func (q *RedisQueue) Locked(ctx context.Context) (bool, error) {
	n, err := q.cli.Exists(ctx, q.lockKey()).Result()
	return n > 0, err
}

func (q *RedisQueue) Queued(ctx context.Context) (bool, error) {
	n, err := q.cli.Exists(ctx, q.key).Result()
	return n > 0, err
}

func (q *RedisQueue) Cancel(ctx context.Context) (int, error) {
	var llen *redis.IntCmd
	_, err := q.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		llen = pipe.LLen(ctx, q.key)
		pipe.Del(ctx, q.key)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(llen.Val()), nil
}
