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
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"kubegems.io/jobnet/pkg/jobnet/ref"
)

const (
	FileExt     = ".queue"
	LockFileExt = ".LOCK"
)

// FileQueue stores one reference per line. Every change rewrites the file through a
// temporary file and a rename, an empty queue has no file at all.
// The lock is the sibling file <Path>.LOCK holding the executor id.
type FileQueue struct {
	Path       string
	ExecutorID string
}

func NewFileQueue(path, executorID string) *FileQueue {
	return &FileQueue{Path: path, ExecutorID: executorID}
}

// FileQueuePath is where the queue of a jobnet lives below dir.
func FileQueuePath(dir string, net ref.Reference) string {
	return filepath.Join(dir, net.Subsystem, net.Name+FileExt)
}

func (q *FileQueue) LockPath() string {
	return q.Path + LockFileExt
}

func (q *FileQueue) read() ([]ref.Reference, error) {
	data, err := os.ReadFile(q.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read queue %s", q.Path)
	}
	var refs []ref.Reference
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for lineno := 1; scanner.Scan(); lineno++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r, err := ref.Parse(line)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", q.Path, lineno)
		}
		refs = append(refs, r)
	}
	return refs, scanner.Err()
}

func (q *FileQueue) write(refs []ref.Reference) error {
	if len(refs) == 0 {
		if err := os.Remove(q.Path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove queue %s", q.Path)
		}
		return nil
	}
	var buf bytes.Buffer
	for _, r := range refs {
		buf.WriteString(r.String())
		buf.WriteByte('\n')
	}
	return errors.Wrapf(writeFileAtomic(q.Path, buf.Bytes(), 0o644), "write queue %s", q.Path)
}

func (q *FileQueue) Enqueue(ctx context.Context, refs []ref.Reference) error {
	current, err := q.read()
	if err != nil {
		return err
	}
	return q.write(append(current, refs...))
}

func (q *FileQueue) Peek(ctx context.Context) (ref.Reference, error) {
	refs, err := q.read()
	if err != nil {
		return ref.Reference{}, err
	}
	if len(refs) == 0 {
		return ref.Reference{}, ErrEmpty
	}
	return refs[0], nil
}

func (q *FileQueue) Dequeue(ctx context.Context) (ref.Reference, error) {
	refs, err := q.read()
	if err != nil {
		return ref.Reference{}, err
	}
	if len(refs) == 0 {
		return ref.Reference{}, ErrEmpty
	}
	return refs[0], q.write(refs[1:])
}

func (q *FileQueue) Remove(ctx context.Context, r ref.Reference) error {
	refs, err := q.read()
	if err != nil {
		return err
	}
	for i := range refs {
		if refs[i].Equal(r) {
			return q.write(append(refs[:i:i], refs[i+1:]...))
		}
	}
	return nil
}

func (q *FileQueue) Entries(ctx context.Context) ([]Entry, error) {
	refs, err := q.read()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(refs))
	for i, r := range refs {
		entries[i] = Entry{Ref: r, Sequence: int64(i + 1)}
	}
	return entries, nil
}

func (q *FileQueue) Size(ctx context.Context) (int, error) {
	refs, err := q.read()
	return len(refs), err
}

func (q *FileQueue) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(q.Path), 0o755); err != nil {
		return errors.Wrapf(err, "create queue dir")
	}
	f, err := os.OpenFile(q.LockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if os.IsExist(err) {
		return errors.Wrapf(ErrDoubleLock, "lock file %s exists", q.LockPath())
	}
	if err != nil {
		return errors.Wrapf(err, "create lock %s", q.LockPath())
	}
	defer f.Close()
	if _, err := f.WriteString(q.ExecutorID + "\n"); err != nil {
		return errors.Wrapf(err, "write lock %s", q.LockPath())
	}
	return f.Sync()
}

func (q *FileQueue) Unlock(ctx context.Context) error {
	data, err := os.ReadFile(q.LockPath())
	if os.IsNotExist(err) {
		return ErrLockNotHeld
	}
	if err != nil {
		return errors.Wrapf(err, "read lock %s", q.LockPath())
	}
	// an empty lock file carries no owner
	if owner := strings.TrimSpace(string(data)); owner != "" && owner != q.ExecutorID {
		return errors.Wrapf(ErrLockNotHeld, "held by %s", owner)
	}
	return q.ClearLock(ctx)
}

func (q *FileQueue) ClearLock(ctx context.Context) error {
	if err := os.Remove(q.LockPath()); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove lock %s", q.LockPath())
	}
	return nil
}

func (q *FileQueue) Locked(ctx context.Context) (bool, error) {
	return fileExists(q.LockPath())
}

func (q *FileQueue) Queued(ctx context.Context) (bool, error) {
	return fileExists(q.Path)
}

func (q *FileQueue) Cancel(ctx context.Context) (int, error) {
	refs, err := q.read()
	if err != nil {
		return 0, err
	}
	return len(refs), q.write(nil)
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

// writeFileAtomic replaces path so that readers see either the old or the new content.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
