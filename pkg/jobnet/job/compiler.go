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

package job

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"kubegems.io/jobnet/pkg/jobnet/ref"
	"kubegems.io/jobnet/pkg/log"
	"kubegems.io/jobnet/pkg/utils/set"
)

// Definition is the content of a <home>/<subsystem>/<name>.job file:
//
//	class: shell
//	timeout: 30m
//	params:
//	  command: ./load_orders.sh
type Definition struct {
	Ref     ref.Reference `yaml:"-"`
	Home    string        `yaml:"-"`
	Class   string        `yaml:"class"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	Params  yaml.Node     `yaml:"params,omitempty"`
}

// DecodeParams decodes the params section into into, leaving it untouched when absent.
func (d *Definition) DecodeParams(into any) error {
	if d.Params.Kind == 0 {
		return nil
	}
	return d.Params.Decode(into)
}

// Class builds units of one kind from their definition.
type Class interface {
	Build(def *Definition) (Unit, error)
}

type ClassFunc func(def *Definition) (Unit, error)

func (f ClassFunc) Build(def *Definition) (Unit, error) { return f(def) }

// Registry holds the job classes known to a compiler.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]Class
}

func NewRegistry() *Registry {
	return &Registry{classes: map[string]Class{}}
}

func (r *Registry) Register(name string, class Class) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.classes[name]; ok {
		return errors.Errorf("job class %s already registered", name)
	}
	r.classes[name] = class
	return nil
}

func (r *Registry) MustRegister(name string, class Class) {
	if err := r.Register(name, class); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	class, ok := r.classes[name]
	return class, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := set.NewSet[string]()
	for name := range r.classes {
		names.Append(name)
	}
	return names.Slice()
}

// FileCompiler reads job definitions below Home and builds them with the registry.
type FileCompiler struct {
	Home     string
	Registry *Registry
}

func NewFileCompiler(home string, registry *Registry) *FileCompiler {
	return &FileCompiler{Home: home, Registry: registry}
}

func (c *FileCompiler) Load(r ref.Reference) (*Definition, error) {
	path := r.Path(c.Home)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Ref: r, Err: err}
	}
	def := &Definition{}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, &ConfigurationError{Ref: r, Err: errors.Wrapf(err, "parse %s", path)}
	}
	def.Ref, def.Home = r, c.Home
	if def.Class == "" {
		return nil, &ConfigurationError{Ref: r, Err: errors.Errorf("%s: class is required", path)}
	}
	return def, nil
}

func (c *FileCompiler) Compile(ctx context.Context, r ref.Reference) (Unit, error) {
	if !r.IsJob() {
		return nil, &ConfigurationError{Ref: r, Err: errors.New("not a job reference")}
	}
	def, err := c.Load(r)
	if err != nil {
		return nil, err
	}
	class, ok := c.Registry.Lookup(def.Class)
	if !ok {
		return nil, &ConfigurationError{Ref: r, Err: errors.Errorf("unknown class %q, known: %v", def.Class, c.Registry.Names())}
	}
	unit, err := class.Build(def)
	if err != nil {
		var cerr *ConfigurationError
		if errors.As(err, &cerr) {
			return nil, err
		}
		return nil, &ConfigurationError{Ref: r, Err: err}
	}
	log.FromContextOrDiscard(ctx).V(1).Info("compiled job", "job", r.String(), "class", def.Class)
	if def.Timeout > 0 {
		return &timeoutUnit{Unit: unit, timeout: def.Timeout}, nil
	}
	return unit, nil
}

type timeoutUnit struct {
	Unit
	timeout time.Duration
}

func (u *timeoutUnit) Execute(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	result := u.Unit.Execute(ctx)
	if !result.OK() && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Failed("timed out after %s: %s", u.timeout, result.Message)
	}
	return result
}
