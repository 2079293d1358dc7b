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
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// WriteSidecar stores result where the parent of a job process can read it back.
func WriteSidecar(path string, result Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o600), "write result %s", path)
}

func ReadSidecar(path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, errors.Wrapf(err, "read result %s", path)
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, errors.Wrapf(err, "decode result %s", path)
	}
	return result, nil
}
