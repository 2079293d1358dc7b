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
	"bufio"
	"bytes"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"kubegems.io/jobnet/pkg/jobnet/ref"
)

const commentPrefix = "#"

var edgeRegexp = regexp.MustCompile(`^(\S*?)\s*->\s*(\S+)$`)

// lineParser carries the "previous destination" between lines.
type lineParser struct {
	flow *Flow
	prev *ref.Reference
}

func newLineParser(f *Flow) *lineParser {
	return &lineParser{flow: f}
}

func (p *lineParser) node(text string, loc ref.Location) (ref.Reference, error) {
	r, err := ref.ParseNode(text, p.flow.Ref.Subsystem, loc)
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, ref.ErrMissingSubsystem):
		return r, errorf(ErrMissingSubsystem, loc, "%q", text)
	default:
		return r, errorf(ErrSyntax, loc, "invalid node %q", text)
	}
}

func (p *lineParser) from() ref.Reference {
	if p.prev == nil {
		return p.flow.Start()
	}
	return *p.prev
}

// parse handles one line: `REF` or `[REF] -> REF`. Empty lines and comments are skipped.
func (p *lineParser) parse(line string, loc ref.Location) error {
	if i := strings.Index(line, commentPrefix); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	src := p.from()
	var destText string
	if m := edgeRegexp.FindStringSubmatch(line); m != nil {
		if m[1] != "" {
			r, err := p.node(m[1], loc)
			if err != nil {
				return err
			}
			src = r
		}
		destText = m[2]
	} else {
		if strings.ContainsAny(line, " \t") {
			return errorf(ErrSyntax, loc, "%q", line)
		}
		destText = line
	}
	dest, err := p.node(destText, loc)
	if err != nil {
		return err
	}
	p.flow.AddEdge(src, dest)
	p.prev = &dest
	return nil
}

// Parse reads a jobnet in the line format. net names the jobnet, file is only used for locations.
func Parse(r io.Reader, net ref.Reference, file string) (*Flow, error) {
	f := NewFlow(net)
	p := newLineParser(f)
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		if err := p.parse(scanner.Text(), ref.Location{File: file, Line: lineno}); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", file)
	}
	return f, nil
}

type yamlFlow struct {
	Nodes []yaml.Node `yaml:"nodes"`
	Edges []yaml.Node `yaml:"edges"`
}

// ParseYAML reads the YAML form of a jobnet:
//
//	nodes:
//	  - load_orders
//	edges:
//	  - extract -> load_orders
//
// Each edge entry uses the line format. Declared nodes that appear in no edge are kept
// unconnected.
func ParseYAML(data []byte, net ref.Reference, file string) (*Flow, error) {
	var spec yamlFlow
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, errorf(ErrSyntax, ref.Location{File: file}, "%v", err)
	}
	f := NewFlow(net)
	p := newLineParser(f)
	for i := range spec.Edges {
		item := &spec.Edges[i]
		loc := ref.Location{File: file, Line: item.Line}
		if item.Kind != yaml.ScalarNode {
			return nil, errorf(ErrSyntax, loc, "edge must be a string")
		}
		if err := p.parse(item.Value, loc); err != nil {
			return nil, err
		}
	}
	for i := range spec.Nodes {
		item := &spec.Nodes[i]
		loc := ref.Location{File: file, Line: item.Line}
		if item.Kind != yaml.ScalarNode {
			return nil, errorf(ErrSyntax, loc, "node must be a string")
		}
		r, err := p.node(strings.TrimSpace(item.Value), loc)
		if err != nil {
			return nil, err
		}
		f.Declare(r)
	}
	return f, nil
}

// ParseFile parses path according to its extension.
func ParseFile(path string) (*Flow, error) {
	net, err := ref.NetOfPath(path)
	if err != nil {
		return nil, errorf(ErrSyntax, ref.Location{File: path}, "%v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errorf(ErrUnresolved, ref.Location{File: path}, "%s not found", net)
		}
		return nil, errors.Wrapf(err, "read jobnet %s", path)
	}
	if strings.HasSuffix(path, ref.NetYAMLFileExt) {
		return ParseYAML(data, net, path)
	}
	return Parse(bytes.NewReader(data), net, path)
}
