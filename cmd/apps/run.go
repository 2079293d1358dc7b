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
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"kubegems.io/jobnet/pkg/jobnet/job"
	"kubegems.io/jobnet/pkg/orchestrator"
)

func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <jobnet-file>",
		Short: "run a jobnet, resuming the jobs an earlier run left queued",
		Long: `Builds the jobnet, queues its jobs in dependency order and runs them.

A job that does not succeed stops the run and stays queued, the next run of the same
jobnet starts from it. The exit code is 0 on success, 1 on a job failure and 2 on an
error such as an invalid jobnet or a locked queue.`,
		Args: cobra.ExactArgs(1),
	}
	return newCommand(cmd, func(ctx context.Context, o *orchestrator.Orchestrator, args []string) error {
		var result job.Result
		err := o.Serve(ctx, func(ctx context.Context) error {
			result = o.Run(ctx, args[0])
			return nil
		})
		if err != nil {
			return err
		}
		return resultError(result)
	})
}

func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <jobnet-file>",
		Short: "validate a jobnet and print its jobs in execution order",
		Args:  cobra.ExactArgs(1),
	}
	return newCommand(cmd, func(ctx context.Context, o *orchestrator.Orchestrator, args []string) error {
		g, err := o.Check(ctx, args[0])
		if err != nil {
			return configurationError(err)
		}
		deps := g.JobDependencies()
		out := cmd.OutOrStdout()
		for _, r := range g.ExecutionOrder() {
			names := []string{}
			for _, dep := range deps[r.String()] {
				names = append(names, dep.String())
			}
			if len(names) == 0 {
				fmt.Fprintln(out, r.String())
				continue
			}
			fmt.Fprintf(out, "%s <- %s\n", r.String(), strings.Join(names, ", "))
		}
		return nil
	})
}
