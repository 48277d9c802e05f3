// Copyright 2026 The AIEIO Authors.
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

package cdo

import (
	"fmt"
	"os"

	"aieio.dev/aieio/pkg/log"
	"github.com/gofrs/flock"
)

// lockPath returns the lock file guarding path.
func lockPath(path string) string {
	return path + ".lock"
}

// WriteFile writes the stream of w to path. Concurrent writers and readers of
// the same path are serialized through an advisory lock file next to it.
func WriteFile(path string, w *Writer) error {
	l := flock.NewFlock(lockPath(path))
	if err := l.Lock(); err != nil {
		return fmt.Errorf("locking CDO output %q: %w", path, err)
	}
	defer l.Unlock()

	if err := os.WriteFile(path, w.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing CDO output: %w", err)
	}
	log.Infof("Wrote %d CDO commands to %q", w.Len(), path)
	return nil
}

// ReadFile parses the stream stored at path.
func ReadFile(path string) ([]Cmd, error) {
	l := flock.NewFlock(lockPath(path))
	if err := l.RLock(); err != nil {
		return nil, fmt.Errorf("locking CDO input %q: %w", path, err)
	}
	defer l.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cmds, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cmds, nil
}
