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

//go:build !linux
// +build !linux

package baremetal

import (
	"fmt"
	"runtime"
)

func mapPhys(path string, base, size uint64) ([]byte, error) {
	return nil, fmt.Errorf("physical memory mapping is not supported on %s", runtime.GOOS)
}

func mapAnonymous(size uint64) ([]byte, error) {
	return make([]byte, size), nil
}

func unmap([]byte) error {
	return nil
}
