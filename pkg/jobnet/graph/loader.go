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

	"kubegems.io/jobnet/pkg/jobnet/ref"
)

// Loader resolves a nested jobnet reference to its flow.
type Loader interface {
	Load(net ref.Reference) (*Flow, error)
}

type LoaderFunc func(net ref.Reference) (*Flow, error)

func (f LoaderFunc) Load(net ref.Reference) (*Flow, error) { return f(net) }

// FileLoader looks jobnets up at <Home>/<subsystem>/<name>.jobnet, then <name>.jobnet.yaml.
type FileLoader struct {
	Home string
}

func NewFileLoader(home string) *FileLoader {
	return &FileLoader{Home: home}
}

func (l *FileLoader) Load(net ref.Reference) (*Flow, error) {
	for _, ext := range []string{ref.NetFileExt, ref.NetYAMLFileExt} {
		path := filepath.Join(l.Home, net.Subsystem, net.Name+ext)
		if _, err := os.Stat(path); err == nil {
			return ParseFile(path)
		}
	}
	return nil, errorf(ErrUnresolved, net.Location, "%s: no %s or %s under %s",
		net, ref.NetFileExt, ref.NetYAMLFileExt, filepath.Join(l.Home, net.Subsystem))
}
