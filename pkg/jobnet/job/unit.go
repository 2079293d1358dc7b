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
	"fmt"

	"kubegems.io/jobnet/pkg/jobnet/ref"
)

// Unit is a compiled job ready to run.
type Unit interface {
	Ref() ref.Reference
	Execute(ctx context.Context) Result
}

// Compiler turns a reference into a Unit. A compile error always classifies as Error.
type Compiler interface {
	Compile(ctx context.Context, r ref.Reference) (Unit, error)
}

type CompilerFunc func(ctx context.Context, r ref.Reference) (Unit, error)

func (f CompilerFunc) Compile(ctx context.Context, r ref.Reference) (Unit, error) { return f(ctx, r) }

// ConfigurationError reports a job definition that cannot be compiled.
type ConfigurationError struct {
	Ref ref.Reference
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("job %s: %v", e.Ref, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// UnitFunc adapts a function to Unit.
type UnitFunc struct {
	Reference ref.Reference
	Fn        func(ctx context.Context) Result
}

func (u *UnitFunc) Ref() ref.Reference { return u.Reference }

func (u *UnitFunc) Execute(ctx context.Context) Result { return u.Fn(ctx) }
