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

package job

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"kubegems.io/jobnet/pkg/jobnet/ref"
	"kubegems.io/jobnet/pkg/log"
)

const ClassShell = "shell"

// maxOutputTail bounds the command output kept for the result message.
const maxOutputTail = 2048

const killWaitDelay = time.Second

type ShellParams struct {
	Command string            `yaml:"command"`
	Dir     string            `yaml:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// ShellClass runs params.command with "sh -c". A non zero exit is a failure.
func ShellClass() Class {
	return ClassFunc(func(def *Definition) (Unit, error) {
		params := &ShellParams{}
		if err := def.DecodeParams(params); err != nil {
			return nil, err
		}
		if strings.TrimSpace(params.Command) == "" {
			return nil, errors.New("params.command is required")
		}
		dir := filepath.Join(def.Home, def.Ref.Subsystem)
		if params.Dir != "" {
			if filepath.IsAbs(params.Dir) {
				dir = params.Dir
			} else {
				dir = filepath.Join(dir, params.Dir)
			}
		}
		return &ShellUnit{ref: def.Ref, params: *params, dir: dir}, nil
	})
}

type ShellUnit struct {
	ref    ref.Reference
	params ShellParams
	dir    string
}

func (u *ShellUnit) Ref() ref.Reference { return u.ref }

func (u *ShellUnit) Execute(ctx context.Context) Result {
	logger := log.FromContextOrDiscard(ctx).WithValues("job", u.ref.String())

	cmd := exec.CommandContext(ctx, "sh", "-c", u.params.Command)
	cmd.Dir = u.dir
	cmd.Env = os.Environ()
	for k, v := range u.params.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	out := &tailBuffer{max: maxOutputTail}
	cmd.Stdout, cmd.Stderr = out, out
	// grandchildren may keep the output pipe open after sh is killed
	cmd.WaitDelay = killWaitDelay

	logger.V(1).Info("exec", "command", u.params.Command, "dir", u.dir)
	err := cmd.Run()
	if err == nil {
		return Succeeded()
	}
	if ctx.Err() != nil {
		return Failed("%v: %s", ctx.Err(), out.String())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		logger.Info("command failed", "exitcode", exitErr.ExitCode(), "output", out.String())
		return Failed("exit status %d: %s", exitErr.ExitCode(), out.String())
	}
	return Errored(errors.Wrap(err, "start command"))
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
