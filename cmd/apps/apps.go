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

// Package apps holds the jobnet commands.
package apps

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"kubegems.io/jobnet/pkg/jobnet/graph"
	"kubegems.io/jobnet/pkg/jobnet/job"
	"kubegems.io/jobnet/pkg/log"
	"kubegems.io/jobnet/pkg/orchestrator"
	"kubegems.io/jobnet/pkg/utils/config"
	"kubegems.io/jobnet/pkg/version"
)

// ExitError ends the process with Code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// resultError turns a jobnet result into the process exit status.
func resultError(result job.Result) error {
	if result.OK() {
		return nil
	}
	return &ExitError{Code: result.ExitCode(), Err: errors.New(result.String())}
}

// configurationError exits with the code of an Error result for invalid definitions.
func configurationError(err error) error {
	var cerr *job.ConfigurationError
	if graph.IsConfigurationError(err) || errors.As(err, &cerr) {
		return &ExitError{Code: job.Error.ExitCode(), Err: err}
	}
	return err
}

// newCommand builds a command running on an orchestrator configured from flags, env and config file.
func newCommand(cmd *cobra.Command, run func(ctx context.Context, o *orchestrator.Orchestrator, args []string) error) *cobra.Command {
	options := orchestrator.DefaultOptions()
	cmd.SilenceUsage = true
	cmd.Version = version.Get().Short()
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		v, err := config.Parse(cmd.Flags())
		if err != nil {
			return err
		}
		if err := v.UnmarshalKey("schedules", &options.Schedules); err != nil {
			return errors.Wrap(err, "parse schedules")
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		ctx = log.NewContext(ctx, log.LogrLogger)

		o, err := orchestrator.New(ctx, options)
		if err != nil {
			return err
		}
		defer o.Close()
		return run(ctx, o, args)
	}
	cmd.Flags().String(config.ConfigFileFlag, "", "config file, defaults to config.yaml in . or ./config")
	options.RegistFlags("", cmd.Flags())
	return cmd
}
