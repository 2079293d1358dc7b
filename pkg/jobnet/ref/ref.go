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

// Package ref identifies jobs and jobnets.
//
// A Reference is written "subsystem/name" for a job and "*subsystem/name" for a jobnet.
// Every jobnet is bounded by two dummy references, "subsystem/name@start" and
// "subsystem/name@end", which only exist inside the dependency graph.
package ref

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindJob Kind = iota
	KindNet
	KindStart
	KindEnd
)

const (
	NetPrefix   = "*"
	StartSuffix = "@start"
	EndSuffix   = "@end"

	JobFileExt     = ".job"
	NetFileExt     = ".jobnet"
	NetYAMLFileExt = ".jobnet.yaml"
)

var (
	ErrInvalidReference = errors.New("invalid reference")
	ErrMissingSubsystem = errors.New("missing subsystem")
)

var (
	nameRegexp = regexp.MustCompile(`^\w[\w-]*$`)
	nodeRegexp = regexp.MustCompile(`^(\*)?(?:(\w[\w-]*)/)?(\w[\w-]*)$`)
)

// Location is where a reference was written, used in error messages only.
type Location struct {
	File string
	Line int
}

func (l Location) String() string {
	switch {
	case l.File == "" && l.Line == 0:
		return ""
	case l.Line == 0:
		return l.File
	default:
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
}

// Reference is a value type. Two references are the same node when their String() are equal;
// Location never takes part in identity.
type Reference struct {
	Subsystem string
	Name      string
	Kind      Kind
	Location  Location
}

func Job(subsystem, name string) Reference {
	return Reference{Subsystem: subsystem, Name: name, Kind: KindJob}
}

func Net(subsystem, name string) Reference {
	return Reference{Subsystem: subsystem, Name: name, Kind: KindNet}
}

func (r Reference) String() string {
	id := r.Name
	if r.Subsystem != "" {
		id = r.Subsystem + "/" + r.Name
	}
	switch r.Kind {
	case KindNet:
		return NetPrefix + id
	case KindStart:
		return id + StartSuffix
	case KindEnd:
		return id + EndSuffix
	default:
		return id
	}
}

func (r Reference) Equal(o Reference) bool {
	return r.String() == o.String()
}

func (r Reference) IsNet() bool { return r.Kind == KindNet }

func (r Reference) IsJob() bool { return r.Kind == KindJob }

// IsDummy reports whether r is the start or end marker of a jobnet.
func (r Reference) IsDummy() bool { return r.Kind == KindStart || r.Kind == KindEnd }

// Start returns the start marker of the jobnet r.
func (r Reference) Start() Reference {
	return Reference{Subsystem: r.Subsystem, Name: r.Name, Kind: KindStart, Location: r.Location}
}

// End returns the end marker of the jobnet r.
func (r Reference) End() Reference {
	return Reference{Subsystem: r.Subsystem, Name: r.Name, Kind: KindEnd, Location: r.Location}
}

// Net returns the jobnet a dummy reference belongs to.
func (r Reference) Net() Reference {
	return Reference{Subsystem: r.Subsystem, Name: r.Name, Kind: KindNet, Location: r.Location}
}

func (r Reference) WithLocation(loc Location) Reference {
	r.Location = loc
	return r
}

// Path is the definition file of the job or jobnet below home.
func (r Reference) Path(home string) string {
	switch r.Kind {
	case KindJob:
		return filepath.Join(home, r.Subsystem, r.Name+JobFileExt)
	default:
		return filepath.Join(home, r.Subsystem, r.Name+NetFileExt)
	}
}

// ParseNode parses a node as written in a jobnet: ['*'] [subsystem '/'] name.
// defaultSubsystem is the subsystem of the enclosing jobnet; when it is empty every node must
// name its subsystem.
func ParseNode(text, defaultSubsystem string, loc Location) (Reference, error) {
	m := nodeRegexp.FindStringSubmatch(text)
	if m == nil {
		return Reference{}, errors.Wrapf(ErrInvalidReference, "%q", text)
	}
	r := Reference{Subsystem: m[2], Name: m[3], Kind: KindJob, Location: loc}
	if m[1] == NetPrefix {
		r.Kind = KindNet
	}
	if r.Subsystem == "" {
		if defaultSubsystem == "" {
			return Reference{}, errors.Wrapf(ErrMissingSubsystem, "%q", text)
		}
		r.Subsystem = defaultSubsystem
	}
	return r, nil
}

// Parse parses the canonical form produced by String, dummy markers included.
func Parse(text string) (Reference, error) {
	text = strings.TrimSpace(text)
	kind := KindJob
	switch {
	case strings.HasSuffix(text, StartSuffix):
		kind, text = KindStart, strings.TrimSuffix(text, StartSuffix)
	case strings.HasSuffix(text, EndSuffix):
		kind, text = KindEnd, strings.TrimSuffix(text, EndSuffix)
	}
	if kind != KindJob && strings.HasPrefix(text, NetPrefix) {
		return Reference{}, errors.Wrapf(ErrInvalidReference, "%q", text)
	}
	r, err := ParseNode(text, "", Location{})
	if err != nil {
		return Reference{}, err
	}
	if kind != KindJob {
		r.Kind = kind
	}
	return r, nil
}

// NetOfPath derives the jobnet reference from <home>/<subsystem>/<name>.jobnet[.yaml].
func NetOfPath(path string) (Reference, error) {
	base := filepath.Base(path)
	var name string
	switch {
	case strings.HasSuffix(base, NetYAMLFileExt):
		name = strings.TrimSuffix(base, NetYAMLFileExt)
	case strings.HasSuffix(base, NetFileExt):
		name = strings.TrimSuffix(base, NetFileExt)
	default:
		return Reference{}, errors.Wrapf(ErrInvalidReference, "not a jobnet file: %s", path)
	}
	subsystem := filepath.Base(filepath.Dir(path))
	if !nameRegexp.MatchString(name) || !nameRegexp.MatchString(subsystem) {
		return Reference{}, errors.Wrapf(ErrInvalidReference, "jobnet path %s", path)
	}
	return Reference{Subsystem: subsystem, Name: name, Kind: KindNet, Location: Location{File: path}}, nil
}

// StartOf is the start marker of a jobnet.
func StartOf(net Reference) Reference { return net.Start() }

// EndOf is the end marker of a jobnet.
func EndOf(net Reference) Reference { return net.End() }
