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

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"kubegems.io/jobnet/cmd/apps"
	"kubegems.io/jobnet/pkg/version"
)

const ErrExitCode = 1

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		code := ErrExitCode
		var exitErr *apps.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
		}
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "jobnet",
		Short:         "batch job orchestrator",
		Version:       version.Get().Short(),
		SilenceErrors: true,
	}
	cmd.AddCommand(
		apps.NewVersionCmd(),
		apps.NewConfigCmd(),
		apps.NewRunCmd(),
		apps.NewCheckCmd(),
		apps.NewQueueCmd(),
		apps.NewScheduleCmd(),
		apps.NewExecJobCmd(),
	)
	return cmd
}
