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

package baremetal

import (
	"fmt"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/log"
	"aieio.dev/aieio/pkg/refs"
)

// Region is a reference counted mapping of a physical register window.
//
// The creator holds the first reference. Every backend sharing the region
// takes another; the mapping is released with the last reference.
type Region struct {
	refs.AtomicRefCount

	name  string
	mem   []byte
	unmap func([]byte) error
}

// MapRegion maps size bytes of physical memory at base through the memory
// device at path. An empty path maps anonymous memory instead, which stands
// in for the hardware in bring-up and tests.
func MapRegion(path string, base, size uint64) (*Region, error) {
	if size == 0 || size%4 != 0 {
		return nil, fmt.Errorf("%w: region size %#x", aie.ErrInvalidArgs, size)
	}
	if path == "" {
		mem, err := mapAnonymous(size)
		if err != nil {
			return nil, aie.HardwareError("map anonymous region", base, err)
		}
		return &Region{name: "anonymous", mem: mem, unmap: unmap}, nil
	}
	mem, err := mapPhys(path, base, size)
	if err != nil {
		return nil, aie.HardwareError("map "+path, base, err)
	}
	log.Debugf("Mapped %s at %#x, %#x bytes", path, base, size)
	return &Region{name: path, mem: mem, unmap: unmap}, nil
}

// Size returns the size of the region in bytes.
func (r *Region) Size() uint64 {
	return uint64(len(r.mem))
}

func (r *Region) check(off uint64, words int) error {
	if off%4 != 0 || off+4*uint64(words) > uint64(len(r.mem)) || off+4*uint64(words) < off {
		return fmt.Errorf("%w: offset %#x, %d words outside %#x byte region", aie.ErrInvalidArgs, off, words, len(r.mem))
	}
	return nil
}

// Load32 loads the register at off.
func (r *Region) Load32(off uint64) (uint32, error) {
	if err := r.check(off, 1); err != nil {
		return 0, err
	}
	return load32(r.mem, off), nil
}

// Store32 stores v to the register at off.
func (r *Region) Store32(off uint64, v uint32) error {
	if err := r.check(off, 1); err != nil {
		return err
	}
	store32(r.mem, off, v)
	return nil
}

// Release drops a reference. The last reference unmaps the region.
func (r *Region) Release() error {
	var err error
	r.DecRefWithDestructor(func() {
		err = r.unmap(r.mem)
		r.mem = nil
		log.Debugf("Unmapped %s region", r.name)
	})
	return err
}
