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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kubegems.io/jobnet/pkg/jobnet/ref"
)

func names(refs []ref.Reference) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}

func mustParse(t *testing.T, net ref.Reference, text string) *Flow {
	t.Helper()
	f, err := Parse(strings.NewReader(text), net, net.Name+".jobnet")
	require.NoError(t, err)
	return f
}

// mapLoader serves flows from text and counts loads per jobnet.
type mapLoader struct {
	t     *testing.T
	texts map[string]string
	loads map[string]int
}

func newMapLoader(t *testing.T, texts map[string]string) *mapLoader {
	return &mapLoader{t: t, texts: texts, loads: map[string]int{}}
}

func (l *mapLoader) Load(net ref.Reference) (*Flow, error) {
	l.loads[net.String()]++
	text, ok := l.texts[net.String()]
	if !ok {
		return nil, os.ErrNotExist
	}
	return Parse(strings.NewReader(text), ref.Net(net.Subsystem, net.Name), net.Name+".jobnet")
}

func indexOf(order []ref.Reference) map[string]int {
	idx := map[string]int{}
	for i, r := range order {
		idx[r.String()] = i
	}
	return idx
}

func TestExecutionOrderExample(t *testing.T) {
	root := ref.Net("dwh", "daily")
	flow := mustParse(t, root, `
# nightly load
job1
-> job2
-> job4
job3 -> job4
`)
	g, err := NewBuilder(newMapLoader(t, nil)).BuildFlow(flow)
	require.NoError(t, err)

	order := g.ExecutionOrder()
	assert.Equal(t, []string{"dwh/job1", "dwh/job2", "dwh/job3", "dwh/job4"}, names(order))

	idx := indexOf(order)
	assert.Less(t, idx["dwh/job1"], idx["dwh/job2"])
	assert.Less(t, idx["dwh/job1"], idx["dwh/job4"])
	assert.Less(t, idx["dwh/job3"], idx["dwh/job4"])
	assert.Equal(t, len(order)-1, idx["dwh/job4"])

	deps := g.JobDependencies()
	assert.Empty(t, deps["dwh/job1"])
	assert.Empty(t, deps["dwh/job3"])
	assert.ElementsMatch(t, []string{"dwh/job2", "dwh/job3"}, names(deps["dwh/job4"]))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		net      ref.Reference
		text     string
		wantKind error
		wantLine int
	}{
		{name: "two arrows", net: ref.Net("dwh", "x"), text: "a\nb -> c -> d", wantKind: ErrSyntax, wantLine: 2},
		{name: "bare arrow", net: ref.Net("dwh", "x"), text: "->", wantKind: ErrSyntax, wantLine: 1},
		{name: "spaces", net: ref.Net("dwh", "x"), text: "a b", wantKind: ErrSyntax, wantLine: 1},
		{name: "bad name", net: ref.Net("dwh", "x"), text: "\n\n-> $x", wantKind: ErrSyntax, wantLine: 3},
		{name: "no subsystem", net: ref.Net("", "x"), text: "sub/a\n-> b", wantKind: ErrMissingSubsystem, wantLine: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.text), tt.net, "x.jobnet")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantKind), "got %v", err)
			var gerr *Error
			require.True(t, errors.As(err, &gerr))
			assert.Equal(t, tt.wantLine, gerr.Location.Line)
			assert.Equal(t, "x.jobnet", gerr.Location.File)
		})
	}
}

func TestParseEdges(t *testing.T) {
	net := ref.Net("dwh", "x")
	f := mustParse(t, net, "a->b\n -> c # trailing\nother/d\n\n*sub")
	assert.Equal(t, []string{"dwh/a"}, names(f.Upstream(ref.Job("dwh", "b"))))
	assert.Equal(t, []string{"dwh/b"}, names(f.Upstream(ref.Job("dwh", "c"))))
	assert.Equal(t, []string{"dwh/c"}, names(f.Upstream(ref.Job("other", "d"))))
	assert.Equal(t, []string{"other/d"}, names(f.Upstream(ref.Net("dwh", "sub"))))
	assert.Equal(t, []string{"*dwh/sub"}, names(f.Nets()))
}

func TestCycle(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "three nodes", text: "a -> b\nb -> c\nc -> a", want: "dwh/a -> dwh/b -> dwh/c -> dwh/a"},
		{name: "self edge", text: "x\na -> a", want: "dwh/a -> dwh/a"},
		{name: "behind a chain", text: "x -> y\ny -> z\nz -> y", want: "dwh/y -> dwh/z -> dwh/y"},
		{name: "two loops sharing a node", text: "a -> b\nb -> a\nb -> c\nc -> b", want: "dwh/a -> dwh/b -> dwh/c -> dwh/b -> dwh/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := mustParse(t, ref.Net("dwh", "x"), tt.text)
			_, err := NewBuilder(newMapLoader(t, nil)).BuildFlow(flow)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCycle))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCycleThroughNestedJobnet(t *testing.T) {
	loader := newMapLoader(t, map[string]string{
		"*dwh/inner": "a -> *outer",
	})
	flow := mustParse(t, ref.Net("dwh", "outer"), "*inner")
	_, err := NewBuilder(loader).BuildFlow(flow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycle))
	assert.Contains(t, err.Error(), "dwh/a")
}

func TestOrphan(t *testing.T) {
	data := []byte(`
nodes:
  - load
  - lonely
edges:
  - extract -> load
`)
	flow, err := ParseYAML(data, ref.Net("dwh", "daily"), "daily.jobnet.yaml")
	require.NoError(t, err)

	_, err = NewBuilder(newMapLoader(t, nil)).BuildFlow(flow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOrphan))
	assert.Contains(t, err.Error(), "dwh/lonely")
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, ref.Location{File: "daily.jobnet.yaml", Line: 4}, gerr.Location)
}

func TestOrphanNestedJobnet(t *testing.T) {
	loader := newMapLoader(t, map[string]string{"*dwh/inner": "a"})
	flow, err := ParseYAML([]byte("nodes: ['*inner']\nedges: [x]\n"), ref.Net("dwh", "daily"), "daily.jobnet.yaml")
	require.NoError(t, err)
	_, err = NewBuilder(loader).BuildFlow(flow)
	assert.True(t, errors.Is(err, ErrOrphan), "got %v", err)
	assert.Contains(t, err.Error(), "*dwh/inner")
}

func TestNestedMerge(t *testing.T) {
	loader := newMapLoader(t, map[string]string{
		"*dwh/inner": "a -> b",
		"*mart/sales": "agg\n-> *dwh/inner",
	})
	flow := mustParse(t, ref.Net("dwh", "outer"), "extract -> *inner\n*inner -> report\n*mart/sales -> report")
	g, err := NewBuilder(loader).BuildFlow(flow)
	require.NoError(t, err)

	order := g.ExecutionOrder()
	for _, r := range order {
		assert.False(t, r.IsDummy())
	}
	assert.ElementsMatch(t, []string{"dwh/extract", "dwh/a", "dwh/b", "dwh/report", "mart/agg"}, names(order))

	// every merged edge points forward in the order
	idx := indexOf(order)
	for job, deps := range g.JobDependencies() {
		for _, d := range deps {
			assert.Less(t, idx[d.String()], idx[job], "%s before %s", d, job)
		}
	}
	deps := g.JobDependencies()
	assert.ElementsMatch(t, []string{"dwh/extract", "mart/agg"}, names(deps["dwh/a"]))
	assert.Equal(t, []string{"dwh/b"}, names(deps["dwh/report"]))
	assert.Equal(t, []string{"dwh/extract", "mart/agg"}, names(g.Dependencies(ref.Net("dwh", "inner").Start())))
}

func TestResolveIdempotent(t *testing.T) {
	loader := newMapLoader(t, map[string]string{
		"*dwh/shared": "a",
		"*dwh/left":   "*shared",
		"*dwh/right":  "*shared",
	})
	b := NewBuilder(loader)
	flow := mustParse(t, ref.Net("dwh", "root"), "*left\n*right -> done\n*left -> done")
	_, err := b.BuildFlow(flow)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.loads["*dwh/shared"])

	first, err := b.Resolve(ref.Net("dwh", "shared"))
	require.NoError(t, err)
	second, err := b.Resolve(ref.Net("dwh", "shared"))
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, loader.loads["*dwh/shared"])
}

func TestUnresolved(t *testing.T) {
	flow := mustParse(t, ref.Net("dwh", "root"), "a\n-> *missing")
	_, err := NewBuilder(newMapLoader(t, nil)).BuildFlow(flow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolved))
	assert.Contains(t, err.Error(), "root.jobnet:2")
}

func TestEmptyJobnet(t *testing.T) {
	flow := mustParse(t, ref.Net("dwh", "empty"), "# nothing yet\n")
	g, err := NewBuilder(newMapLoader(t, nil)).BuildFlow(flow)
	require.NoError(t, err)
	assert.Empty(t, g.ExecutionOrder())
}

func TestFileBuild(t *testing.T) {
	home := t.TempDir()
	write := func(rel, content string) string {
		path := filepath.Join(home, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	root := write("dwh/daily.jobnet", "extract\n-> *stage\n-> publish\n")
	write("dwh/stage.jobnet.yaml", "edges:\n  - orders\n  - -> customers\n")

	g, err := NewBuilder(NewFileLoader(home)).Build(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"dwh/extract", "dwh/orders", "dwh/customers", "dwh/publish"}, names(g.ExecutionOrder()))
	assert.Equal(t, "*dwh/daily", g.Root.String())

	write("dwh/broken.jobnet", "*nowhere\n")
	_, err = NewBuilder(NewFileLoader(home)).Build(filepath.Join(home, "dwh/broken.jobnet"))
	assert.True(t, errors.Is(err, ErrUnresolved), "got %v", err)

	_, err = NewBuilder(NewFileLoader(home)).Build(filepath.Join(home, "dwh/absent.jobnet"))
	assert.True(t, errors.Is(err, ErrUnresolved), "got %v", err)
}
