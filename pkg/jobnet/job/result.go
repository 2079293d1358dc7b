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

// Package job compiles queue references into runnable units and classifies their outcome.
package job

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is the closed set of job outcomes.
type Status int

const (
	// Success means the job did its work.
	Success Status = iota
	// Failure is an operational failure: bad data, a missing upstream, a timeout.
	Failure
	// Error is a defect in the job definition or in the runner itself.
	Error
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ExitCode is the process exit code of the status.
func (s Status) ExitCode() int {
	switch s {
	case Success:
		return 0
	case Failure:
		return 1
	default:
		return 2
	}
}

func StatusOfExitCode(code int) Status {
	switch code {
	case 0:
		return Success
	case 1:
		return Failure
	default:
		return Error
	}
}

func ParseStatus(s string) (Status, error) {
	switch s {
	case "success":
		return Success, nil
	case "failure":
		return Failure, nil
	case "error":
		return Error, nil
	default:
		return Error, errors.Errorf("unknown status %q", s)
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

func Succeeded() Result {
	return Result{Status: Success}
}

func Failed(format string, args ...any) Result {
	return Result{Status: Failure, Message: fmt.Sprintf(format, args...)}
}

func Errored(err error) Result {
	if err == nil {
		return Result{Status: Error}
	}
	return Result{Status: Error, Message: err.Error()}
}

func (r Result) ExitCode() int { return r.Status.ExitCode() }

func (r Result) OK() bool { return r.Status == Success }

func (r Result) String() string {
	if r.Message == "" {
		return r.Status.String()
	}
	return r.Status.String() + ": " + r.Message
}
