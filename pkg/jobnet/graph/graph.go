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
	"sort"

	"kubegems.io/jobnet/pkg/jobnet/ref"
	"kubegems.io/jobnet/pkg/utils/set"
)

// Graph is the merged dependency map of a jobnet and every jobnet nested in it.
// Nested jobnet references are replaced by their start and end markers.
type Graph struct {
	Root ref.Reference

	nodes []ref.Reference
	index map[string]int
	deps  map[string][]ref.Reference
	order []ref.Reference
}

func newGraph(root ref.Reference) *Graph {
	return &Graph{
		Root:  root,
		index: map[string]int{},
		deps:  map[string][]ref.Reference{},
	}
}

func (g *Graph) addNode(r ref.Reference) {
	if _, ok := g.index[r.String()]; ok {
		return
	}
	g.index[r.String()] = len(g.nodes)
	g.nodes = append(g.nodes, r)
}

func (g *Graph) addDependency(r, dep ref.Reference) {
	g.addNode(r)
	g.addNode(dep)
	key := r.String()
	for _, d := range g.deps[key] {
		if d.Equal(dep) {
			return
		}
	}
	g.deps[key] = append(g.deps[key], dep)
}

// Nodes returns every node of the merged graph, markers included.
func (g *Graph) Nodes() []ref.Reference {
	return append([]ref.Reference(nil), g.nodes...)
}

// Dependencies returns the direct dependencies of r, markers included.
func (g *Graph) Dependencies(r ref.Reference) []ref.Reference {
	return g.deps[r.String()]
}

// ExecutionOrder lists the jobs so that every job comes after all of its dependencies.
func (g *Graph) ExecutionOrder() []ref.Reference {
	return append([]ref.Reference(nil), g.order...)
}

// JobDependencies maps every job to the jobs it waits for, looking through jobnet markers.
func (g *Graph) JobDependencies() map[string][]ref.Reference {
	out := make(map[string][]ref.Reference, len(g.order))
	for _, job := range g.order {
		var deps []ref.Reference
		seen := set.NewSet[string]()
		pending := append([]ref.Reference(nil), g.deps[job.String()]...)
		for len(pending) > 0 {
			d := pending[0]
			pending = pending[1:]
			if seen.Has(d.String()) {
				continue
			}
			seen.Append(d.String())
			if d.IsDummy() {
				pending = append(pending, g.deps[d.String()]...)
				continue
			}
			deps = append(deps, d)
		}
		out[job.String()] = deps
	}
	return out
}

func (g *Graph) validate() error {
	keys := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		keys[i] = n.String()
	}
	components := stronglyConnected(keys, func(v string) []string {
		deps := g.deps[v]
		out := make([]string, len(deps))
		for i, d := range deps {
			out[i] = d.String()
		}
		return out
	})

	for _, c := range components {
		if len(c) > 1 || g.dependsOn(c[0], c[0]) {
			return cycleError(g.cyclePath(c))
		}
	}

	rootStart := g.Root.Start().String()
	for _, n := range g.nodes {
		key := n.String()
		if key == rootStart || len(g.deps[key]) > 0 {
			continue
		}
		switch n.Kind {
		case ref.KindJob:
			return errorf(ErrOrphan, n.Location, "%s has no dependency and nothing depends on it", n)
		case ref.KindStart:
			net := n.Net()
			return errorf(ErrOrphan, net.Location, "%s has no dependency and nothing depends on it", net)
		}
	}

	g.order = g.order[:0]
	for _, c := range components {
		n := g.nodes[g.index[c[0]]]
		if !n.IsDummy() {
			g.order = append(g.order, n)
		}
	}
	return nil
}

func (g *Graph) dependsOn(v, dep string) bool {
	for _, d := range g.deps[v] {
		if d.String() == dep {
			return true
		}
	}
	return false
}

// cyclePath returns a closed walk in edge direction through every node of one
// component, starting and ending at the component's first node.
func (g *Graph) cyclePath(component []string) []ref.Reference {
	in := map[string]bool{}
	members := append([]string(nil), component...)
	for _, c := range members {
		in[c] = true
	}
	sort.Slice(members, func(i, j int) bool { return g.index[members[i]] < g.index[members[j]] })
	first := members[0]

	// hop finds a shortest walk of at least one dependency edge from v to target.
	hop := func(v, target string) []string {
		parent := map[string]string{}
		seen := map[string]bool{}
		if v != target {
			seen[v] = true
		}
		queue := []string{v}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, d := range g.deps[cur] {
				k := d.String()
				if !in[k] || seen[k] {
					continue
				}
				seen[k] = true
				parent[k] = cur
				if k == target {
					walk := []string{k}
					for p := parent[k]; ; p = parent[p] {
						walk = append(walk, p)
						if p == v {
							break
						}
					}
					for i, j := 0, len(walk)-1; i < j; i, j = i+1, j-1 {
						walk[i], walk[j] = walk[j], walk[i]
					}
					return walk[1:]
				}
				queue = append(queue, k)
			}
		}
		return nil
	}

	path := []string{first}
	covered := map[string]bool{first: true}
	cur := first
	for _, m := range members {
		if covered[m] {
			continue
		}
		for _, k := range hop(cur, m) {
			path = append(path, k)
			covered[k] = true
		}
		cur = m
	}
	path = append(path, hop(cur, first)...)

	out := make([]ref.Reference, len(path))
	for i, k := range path {
		out[len(path)-1-i] = g.nodes[g.index[k]]
	}
	return out
}
