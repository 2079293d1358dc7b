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

package ref

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNode(t *testing.T) {
	tests := []struct {
		name             string
		text             string
		defaultSubsystem string
		want             string
		wantKind         Kind
		wantErr          error
	}{
		{name: "job with subsystem", text: "dwh/load-orders", want: "dwh/load-orders", wantKind: KindJob},
		{name: "job default subsystem", text: "load_orders", defaultSubsystem: "dwh", want: "dwh/load_orders", wantKind: KindJob},
		{name: "jobnet", text: "*dwh/daily", want: "*dwh/daily", wantKind: KindNet},
		{name: "jobnet default subsystem", text: "*daily", defaultSubsystem: "dwh", want: "*dwh/daily", wantKind: KindNet},
		{name: "missing subsystem", text: "daily", wantErr: ErrMissingSubsystem},
		{name: "leading dash", text: "dwh/-x", wantErr: ErrInvalidReference},
		{name: "empty", text: "", wantErr: ErrInvalidReference},
		{name: "arrow", text: "->", defaultSubsystem: "dwh", wantErr: ErrInvalidReference},
		{name: "nested path", text: "a/b/c", wantErr: ErrInvalidReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNode(tt.text, tt.defaultSubsystem, Location{File: "x.jobnet", Line: 3})
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, "x.jobnet:3", got.Location.String())
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, r := range []Reference{
		Job("dwh", "a"),
		Net("dwh", "daily"),
		StartOf(Net("dwh", "daily")),
		EndOf(Net("dwh", "daily")),
	} {
		got, err := Parse(r.String())
		require.NoError(t, err)
		assert.True(t, r.Equal(got), "%s != %s", r, got)
		assert.Equal(t, r.Kind, got.Kind)
	}

	_, err := Parse("*dwh/daily@start")
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestEqualIgnoresLocation(t *testing.T) {
	a := Job("dwh", "a").WithLocation(Location{File: "x", Line: 1})
	b := Job("dwh", "a").WithLocation(Location{File: "y", Line: 9})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(Net("dwh", "a")))
	assert.False(t, StartOf(Net("dwh", "a")).Equal(EndOf(Net("dwh", "a"))))
}

func TestDummy(t *testing.T) {
	net := Net("dwh", "daily")
	assert.Equal(t, "dwh/daily@start", net.Start().String())
	assert.Equal(t, "dwh/daily@end", net.End().String())
	assert.True(t, net.Start().IsDummy())
	assert.False(t, net.IsDummy())
	assert.True(t, net.End().Net().Equal(net))
}

func TestNetOfPath(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{path: "/home/jobs/dwh/daily.jobnet", want: "*dwh/daily"},
		{path: "/home/jobs/dwh/daily.jobnet.yaml", want: "*dwh/daily"},
		{path: "/home/jobs/dwh/daily.job", wantErr: true},
		{path: "/home/jobs/d w h/daily.jobnet", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := NetOfPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
			assert.Equal(t, tt.path, got.Location.File)
		})
	}
}

func TestPath(t *testing.T) {
	assert.Equal(t, "/h/dwh/a.job", Job("dwh", "a").Path("/h"))
	assert.Equal(t, "/h/dwh/daily.jobnet", Net("dwh", "daily").Path("/h"))
}
