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
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"k8s.io/apimachinery/pkg/util/wait"
	"kubegems.io/jobnet/pkg/jobnet/ref"
	"kubegems.io/jobnet/pkg/log"
)

const (
	ClassWaitFor = "wait-for"
	ClassTouch   = "touch"

	DefaultWaitInterval = 10 * time.Second
	DefaultWaitTimeout  = time.Hour
)

type WaitForParams struct {
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// WaitForClass waits for a marker file, usually written by a touch job of another jobnet.
// Not seeing it within the timeout is a failure.
func WaitForClass() Class {
	return ClassFunc(func(def *Definition) (Unit, error) {
		params := &WaitForParams{Interval: DefaultWaitInterval, Timeout: DefaultWaitTimeout}
		if err := def.DecodeParams(params); err != nil {
			return nil, err
		}
		if params.Path == "" {
			return nil, errors.New("params.path is required")
		}
		if params.Interval <= 0 || params.Timeout <= 0 {
			return nil, errors.New("params.interval and params.timeout must be positive")
		}
		params.Path = markerPath(def, params.Path)
		return &WaitForUnit{ref: def.Ref, params: *params}, nil
	})
}

type WaitForUnit struct {
	ref    ref.Reference
	params WaitForParams
}

func (u *WaitForUnit) Ref() ref.Reference { return u.ref }

func (u *WaitForUnit) Execute(ctx context.Context) Result {
	logger := log.FromContextOrDiscard(ctx).WithValues("job", u.ref.String(), "marker", u.params.Path)
	logger.Info("waiting for marker", "interval", u.params.Interval, "timeout", u.params.Timeout)
	err := wait.PollUntilContextTimeout(ctx, u.params.Interval, u.params.Timeout, true, func(ctx context.Context) (bool, error) {
		_, err := os.Stat(u.params.Path)
		switch {
		case err == nil:
			return true, nil
		case os.IsNotExist(err):
			return false, nil
		default:
			return false, err
		}
	})
	switch {
	case err == nil:
		return Succeeded()
	case wait.Interrupted(err):
		return Failed("marker %s not found within %s", u.params.Path, u.params.Timeout)
	default:
		return Errored(errors.Wrapf(err, "stat %s", u.params.Path))
	}
}

type TouchParams struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content,omitempty"`
}

// TouchClass writes a marker file.
func TouchClass() Class {
	return ClassFunc(func(def *Definition) (Unit, error) {
		params := &TouchParams{}
		if err := def.DecodeParams(params); err != nil {
			return nil, err
		}
		if params.Path == "" {
			return nil, errors.New("params.path is required")
		}
		params.Path = markerPath(def, params.Path)
		return &TouchUnit{ref: def.Ref, params: *params}, nil
	})
}

type TouchUnit struct {
	ref    ref.Reference
	params TouchParams
}

func (u *TouchUnit) Ref() ref.Reference { return u.ref }

func (u *TouchUnit) Execute(ctx context.Context) Result {
	if err := os.MkdirAll(filepath.Dir(u.params.Path), 0o755); err != nil {
		return Failed("%v", err)
	}
	if err := os.WriteFile(u.params.Path, []byte(u.params.Content), 0o644); err != nil {
		return Failed("%v", err)
	}
	log.FromContextOrDiscard(ctx).V(1).Info("marker written", "job", u.ref.String(), "marker", u.params.Path)
	return Succeeded()
}

// markerPath resolves relative marker paths against the job home.
func markerPath(def *Definition, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(def.Home, path)
}

// RegisterBuiltins adds the classes shipped with jobnet. db may be nil, sql jobs then fail to compile.
func RegisterBuiltins(r *Registry, db *gorm.DB) error {
	for name, class := range map[string]Class{
		ClassShell:   ShellClass(),
		ClassSQL:     &SQLClass{DB: db},
		ClassWaitFor: WaitForClass(),
		ClassTouch:   TouchClass(),
	} {
		if err := r.Register(name, class); err != nil {
			return err
		}
	}
	return nil
}
