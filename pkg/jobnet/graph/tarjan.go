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

// stronglyConnected is Tarjan's algorithm over string keyed nodes.
// Components are emitted after every component reachable through succ,
// so with succ being "depends on" the result is dependencies first.
func stronglyConnected(nodes []string, succ func(string) []string) [][]string {
	s := &tarjan{
		index:   map[string]int{},
		lowlink: map[string]int{},
		onStack: map[string]bool{},
		succ:    succ,
	}
	for _, v := range nodes {
		if _, visited := s.index[v]; !visited {
			s.strongConnect(v)
		}
	}
	return s.components
}

type tarjan struct {
	counter    int
	index      map[string]int
	lowlink    map[string]int
	onStack    map[string]bool
	stack      []string
	components [][]string
	succ       func(string) []string
}

func (s *tarjan) strongConnect(v string) {
	s.index[v] = s.counter
	s.lowlink[v] = s.counter
	s.counter++
	s.stack = append(s.stack, v)
	s.onStack[v] = true

	for _, w := range s.succ(v) {
		if _, visited := s.index[w]; !visited {
			s.strongConnect(w)
			s.lowlink[v] = min(s.lowlink[v], s.lowlink[w])
		} else if s.onStack[w] {
			s.lowlink[v] = min(s.lowlink[v], s.index[w])
		}
	}

	if s.lowlink[v] != s.index[v] {
		return
	}
	var component []string
	for {
		w := s.stack[len(s.stack)-1]
		s.stack = s.stack[:len(s.stack)-1]
		s.onStack[w] = false
		component = append(component, w)
		if w == v {
			break
		}
	}
	s.components = append(s.components, component)
}
