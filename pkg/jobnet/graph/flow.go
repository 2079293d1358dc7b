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

import "kubegems.io/jobnet/pkg/jobnet/ref"

// Flow is the edge list of a single jobnet, before nested jobnets are merged.
// Nodes keep their first-seen order; the first occurrence also decides the location.
type Flow struct {
	Ref ref.Reference

	nodes      []ref.Reference
	index      map[string]int
	upstream   map[string][]ref.Reference
	downstream map[string][]ref.Reference
	closed     bool
}

func NewFlow(net ref.Reference) *Flow {
	f := &Flow{
		Ref:        net,
		index:      map[string]int{},
		upstream:   map[string][]ref.Reference{},
		downstream: map[string][]ref.Reference{},
	}
	f.add(net.Start())
	return f
}

func (f *Flow) Start() ref.Reference { return f.Ref.Start() }

func (f *Flow) End() ref.Reference { return f.Ref.End() }

func (f *Flow) add(r ref.Reference) {
	if _, ok := f.index[r.String()]; ok {
		return
	}
	f.index[r.String()] = len(f.nodes)
	f.nodes = append(f.nodes, r)
}

// Declare adds a node that takes part in no edge yet.
func (f *Flow) Declare(r ref.Reference) {
	f.add(r)
}

func (f *Flow) AddEdge(src, dest ref.Reference) {
	f.add(src)
	f.add(dest)
	for _, d := range f.downstream[src.String()] {
		if d.Equal(dest) {
			return
		}
	}
	f.downstream[src.String()] = append(f.downstream[src.String()], dest)
	f.upstream[dest.String()] = append(f.upstream[dest.String()], src)
}

// Nodes returns every node of the flow in first-seen order, markers included.
func (f *Flow) Nodes() []ref.Reference {
	return append([]ref.Reference(nil), f.nodes...)
}

func (f *Flow) Upstream(r ref.Reference) []ref.Reference {
	return f.upstream[r.String()]
}

func (f *Flow) Downstream(r ref.Reference) []ref.Reference {
	return f.downstream[r.String()]
}

// Nets returns the nested jobnet references of the flow.
func (f *Flow) Nets() []ref.Reference {
	var nets []ref.Reference
	for _, n := range f.nodes {
		if n.IsNet() {
			nets = append(nets, n)
		}
	}
	return nets
}

// Close links every connected node lacking an upstream to the start marker and
// every connected node lacking a downstream to the end marker.
// Declared nodes that take part in no edge are left alone.
func (f *Flow) Close() {
	if f.closed {
		return
	}
	f.closed = true

	start, end := f.Start(), f.End()
	connected := false
	for _, n := range f.Nodes() {
		if n.IsDummy() {
			continue
		}
		key := n.String()
		if len(f.upstream[key]) == 0 && len(f.downstream[key]) == 0 {
			continue
		}
		connected = true
		if len(f.upstream[key]) == 0 {
			f.AddEdge(start, n)
		}
		if len(f.downstream[key]) == 0 {
			f.AddEdge(n, end)
		}
	}
	if !connected {
		f.AddEdge(start, end)
	}
}
