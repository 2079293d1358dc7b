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

package graph

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"kubegems.io/jobnet/pkg/jobnet/ref"
)

var (
	ErrSyntax           = errors.New("syntax error")
	ErrMissingSubsystem = ref.ErrMissingSubsystem
	ErrUnresolved       = errors.New("unresolved jobnet")
	ErrCycle            = errors.New("cycle detected")
	ErrOrphan           = errors.New("orphan node")
)

// Error is a configuration error found while building a graph.
// Kind is one of the Err* sentinels and is what errors.Is matches.
type Error struct {
	Kind     error
	Location ref.Location
	Msg      string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if loc := e.Location.String(); loc != "" {
		return loc + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

func errorf(kind error, loc ref.Location, format string, args ...any) error {
	return &Error{Kind: kind, Location: loc, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []ref.Reference) error {
	names := make([]string, len(path))
	for i, r := range path {
		names[i] = r.String()
	}
	var loc ref.Location
	if len(path) > 0 {
		loc = path[0].Location
	}
	return &Error{Kind: ErrCycle, Location: loc, Msg: strings.Join(names, " -> ")}
}

// IsConfigurationError reports whether err is a graph error of any kind.
func IsConfigurationError(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr)
}
