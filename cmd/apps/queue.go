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

	"github.com/spf13/cobra"
	"kubegems.io/jobnet/pkg/orchestrator"
)

func NewQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "inspect and repair jobnet queues",
	}
	cmd.AddCommand(
		newQueueListCmd(),
		newQueueClearLockCmd(),
		newQueueCancelCmd(),
	)
	return cmd
}

func newQueueListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <jobnet-file>",
		Short: "list the jobs still queued",
		Args:  cobra.ExactArgs(1),
	}
	return newCommand(cmd, func(ctx context.Context, o *orchestrator.Orchestrator, args []string) error {
		status, err := o.Status(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s locked=%t queued=%d\n", status.Jobnet.String(), status.Locked, len(status.Entries))
		for _, e := range status.Entries {
			fmt.Fprintf(out, "%d\t%s\n", e.Sequence, e.Ref.String())
		}
		return nil
	})
}

func newQueueClearLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear-lock <jobnet-file>",
		Short: "remove the lock of a crashed run, queued jobs are kept",
		Long: `Removes the queue lock left behind by a run that did not exit cleanly.
Only use it once that run is known to be gone, a running run keeps going unlocked.`,
		Args: cobra.ExactArgs(1),
	}
	return newCommand(cmd, func(ctx context.Context, o *orchestrator.Orchestrator, args []string) error {
		return o.ClearLock(ctx, args[0])
	})
}

func newQueueCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <jobnet-file>",
		Short: "drop the queued jobs so the next run starts over",
		Args:  cobra.ExactArgs(1),
	}
	return newCommand(cmd, func(ctx context.Context, o *orchestrator.Orchestrator, args []string) error {
		n, err := o.Cancel(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "canceled %d jobs\n", n)
		return nil
	})
}
