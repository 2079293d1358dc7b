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

package apps

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"kubegems.io/jobnet/pkg/jobnet/job"
	"kubegems.io/jobnet/pkg/jobnet/runner"
	"kubegems.io/jobnet/pkg/orchestrator"
)

// NewExecJobCmd is the entry point of the job processes started by process isolation.
func NewExecJobCmd() *cobra.Command {
	var jobref, resultFile string
	cmd := &cobra.Command{
		Use:    orchestrator.ExecJobCommand,
		Short:  "run a single job in this process",
		Hidden: true,
		Args:   cobra.NoArgs,
	}
	cmd = newCommand(cmd, func(ctx context.Context, o *orchestrator.Orchestrator, _ []string) error {
		return resultError(o.ExecJob(ctx, jobref, resultFile))
	})
	// the parent reads the exit code as the job status, so a child that
	// cannot start the job reports an Error rather than a Failure.
	run := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if jobref == "" {
			return setupError(errors.Errorf("required flag --%s not set", runner.FlagRef))
		}
		return setupError(run(cmd, args))
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return setupError(err)
	})
	cmd.Flags().StringVar(&jobref, runner.FlagRef, "", "job reference, <subsystem>/<name>")
	cmd.Flags().StringVar(&resultFile, runner.FlagResultFile, "", "file the result is written to")
	return cmd
}

// setupError gives errors without an exit code the code of an Error result.
func setupError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return &ExitError{Code: job.Error.ExitCode(), Err: err}
}
