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

package aiesim

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// WritePortFile publishes port in the file at path.
func WritePortFile(path string, port int) error {
	l := flock.NewFlock(path + ".lock")
	if err := l.Lock(); err != nil {
		return fmt.Errorf("locking port file %q: %w", path, err)
	}
	defer l.Unlock()
	return os.WriteFile(path, []byte(strconv.Itoa(port)+"\n"), 0644)
}

// ReadPortFile returns the port published at path.
func ReadPortFile(path string) (int, error) {
	l := flock.NewFlock(path + ".lock")
	if err := l.RLock(); err != nil {
		return 0, fmt.Errorf("locking port file %q: %w", path, err)
	}
	defer l.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || port <= 0 || port > 0xFFFF {
		return 0, fmt.Errorf("port file %q: bad port %q", path, data)
	}
	return port, nil
}
