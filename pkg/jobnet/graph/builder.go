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
	"kubegems.io/jobnet/pkg/jobnet/ref"
)

// Builder resolves nested jobnets and merges them into a validated Graph.
// Flows are kept in an arena keyed by the canonical jobnet reference, so every
// jobnet is loaded at most once per Builder.
type Builder struct {
	loader Loader
	flows  map[string]*Flow
}

func NewBuilder(loader Loader) *Builder {
	return &Builder{loader: loader, flows: map[string]*Flow{}}
}

// Resolve returns the flow of net, invoking the loader only the first time.
func (b *Builder) Resolve(net ref.Reference) (*Flow, error) {
	if f, ok := b.flows[net.String()]; ok {
		return f, nil
	}
	f, err := b.loader.Load(net)
	if err != nil {
		if IsConfigurationError(err) {
			return nil, err
		}
		return nil, errorf(ErrUnresolved, net.Location, "%s: %v", net, err)
	}
	b.flows[net.String()] = f
	return f, nil
}

// Build parses the jobnet file at path and builds its graph.
func (b *Builder) Build(path string) (*Graph, error) {
	root, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return b.BuildFlow(root)
}

// BuildRef builds the graph of a jobnet known to the loader.
func (b *Builder) BuildRef(net ref.Reference) (*Graph, error) {
	root, err := b.Resolve(net)
	if err != nil {
		return nil, err
	}
	return b.BuildFlow(root)
}

// BuildFlow resolves the nested jobnets of root, closes and merges every flow and validates the result.
func (b *Builder) BuildFlow(root *Flow) (*Graph, error) {
	if _, ok := b.flows[root.Ref.String()]; !ok {
		b.flows[root.Ref.String()] = root
	}

	order := []*Flow{root}
	seen := map[string]bool{root.Ref.String(): true}
	for i := 0; i < len(order); i++ {
		f := order[i]
		f.Close()
		for _, net := range f.Nets() {
			if seen[net.String()] {
				continue
			}
			seen[net.String()] = true
			nested, err := b.Resolve(net)
			if err != nil {
				return nil, err
			}
			order = append(order, nested)
		}
	}

	g := newGraph(root.Ref)
	for _, f := range order {
		for _, n := range f.Nodes() {
			dependent := asDependent(n)
			g.addNode(dependent)
			for _, up := range f.Upstream(n) {
				g.addDependency(dependent, asDependency(up))
			}
		}
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// asDependent maps a nested jobnet to its start marker: the jobnet begins when its
// upstream is done.
func asDependent(r ref.Reference) ref.Reference {
	if r.IsNet() {
		return r.Start()
	}
	return r
}

// asDependency maps a nested jobnet to its end marker: downstream waits for all of it.
func asDependency(r ref.Reference) ref.Reference {
	if r.IsNet() {
		return r.End()
	}
	return r
}
