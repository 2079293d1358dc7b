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

	"github.com/spf13/cobra"
	"kubegems.io/jobnet/pkg/orchestrator"
)

func NewScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "run jobnets on the cron schedules of the config file",
		Long: `Runs the jobnets listed under "schedules" of the config file:

  schedules:
    - jobnet: dwh/daily.jobnet
      cron: "30 2 * * *"

With redis configured only one of several schedulers triggers runs.`,
		Args: cobra.NoArgs,
	}
	return newCommand(cmd, func(ctx context.Context, o *orchestrator.Orchestrator, _ []string) error {
		return o.Serve(ctx, o.Schedule)
	})
}
