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

// Package runner drains a jobnet queue and turns every job into a classified result.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	"kubegems.io/jobnet/pkg/jobnet/job"
	"kubegems.io/jobnet/pkg/jobnet/ref"
	"kubegems.io/jobnet/pkg/log"
)

const (
	FlagRef        = "ref"
	FlagResultFile = "result-file"
)

// Isolation runs a single job. It never panics and always returns a classified result.
type Isolation interface {
	Run(ctx context.Context, r ref.Reference) job.Result
}

// InProcess compiles and executes jobs in the runner process.
type InProcess struct {
	Compiler job.Compiler
}

func (i *InProcess) Run(ctx context.Context, r ref.Reference) (result job.Result) {
	defer func() {
		if e := recover(); e != nil {
			log.FromContextOrDiscard(ctx).Error(fmt.Errorf("%v", e), "job panicked", "job", r.String())
			result = job.Result{Status: job.Error, Message: fmt.Sprintf("panic: %v", e)}
		}
	}()
	return Execute(ctx, i.Compiler, r)
}

// Execute compiles and runs r. A compile error is an Error result.
func Execute(ctx context.Context, compiler job.Compiler, r ref.Reference) job.Result {
	unit, err := compiler.Compile(ctx, r)
	if err != nil {
		return job.Errored(err)
	}
	return unit.Execute(ctx)
}

// Subprocess runs every job in a child process:
//
//	<Executable> <Args...> --ref <ref> --result-file <tmp>
//
// The child reports through its exit code, the result file only adds the message.
type Subprocess struct {
	Executable string
	Args       []string
	// Env is the child environment, the current one when nil.
	Env     []string
	TempDir string
	Stdout  io.Writer
	Stderr  io.Writer
	// WaitDelay bounds the wait for output pipes once a child has been killed.
	WaitDelay time.Duration
}

// NewSubprocess re-executes the running binary with args.
func NewSubprocess(args ...string) (*Subprocess, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "locate executable")
	}
	return &Subprocess{Executable: exe, Args: args}, nil
}

func (s *Subprocess) Run(ctx context.Context, r ref.Reference) job.Result {
	logger := log.FromContextOrDiscard(ctx).WithValues("job", r.String())

	f, err := os.CreateTemp(s.TempDir, "jobnet-result-*.json")
	if err != nil {
		return job.Errored(errors.Wrap(err, "create result file"))
	}
	resultFile := f.Name()
	_ = f.Close()
	defer os.Remove(resultFile)

	args := append(append([]string{}, s.Args...), "--"+FlagRef, r.String(), "--"+FlagResultFile, resultFile)
	cmd := exec.CommandContext(ctx, s.Executable, args...)
	cmd.Env = s.Env
	cmd.Stdout, cmd.Stderr = s.Stdout, s.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.WaitDelay = s.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	err = cmd.Run()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			if ctx.Err() != nil {
				return job.Failed("job process aborted: %v", ctx.Err())
			}
			return job.Errored(errors.Wrap(err, "run job process"))
		}
		code = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		logger.Info("job process killed", "exitcode", code)
		return job.Failed("job process aborted: %v", ctx.Err())
	}

	status := job.StatusOfExitCode(code)
	result, err := job.ReadSidecar(resultFile)
	if err != nil {
		logger.V(1).Info("no result from job process", "err", err.Error())
		return job.Result{Status: status, Message: fmt.Sprintf("job process exited with code %d", code)}
	}
	if result.Status != status {
		logger.Info("result file disagrees with exit code", "exitcode", code, "result", result.Status.String())
		result.Status = status
	}
	return result
}
