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

package metal

import (
	"errors"
	"fmt"
)

// ErrRange is returned for accesses outside a region.
var ErrRange = errors.New("access outside region")

// IORegion is a window of device registers mapped into the process.
type IORegion struct {
	name string
	phys uint64
	mem  []byte
}

// NewIORegion returns a region over mem, which device phys is mapped at.
func NewIORegion(name string, phys uint64, mem []byte) *IORegion {
	return &IORegion{name: name, phys: phys, mem: mem}
}

// Name returns the name of the region.
func (r *IORegion) Name() string {
	return r.name
}

// Size returns the size of the region in bytes.
func (r *IORegion) Size() uint64 {
	return uint64(len(r.mem))
}

// PhysAddr returns the physical address of offset off.
func (r *IORegion) PhysAddr(off uint64) uint64 {
	return r.phys + off
}

func (r *IORegion) check(off uint64, words int) error {
	end := off + 4*uint64(words)
	if off%4 != 0 || end > uint64(len(r.mem)) || end < off {
		return fmt.Errorf("%s: offset %#x, %d words outside %#x bytes: %w", r.name, off, words, len(r.mem), ErrRange)
	}
	return nil
}

// Read32 reads the register at off.
func (r *IORegion) Read32(off uint64) (uint32, error) {
	if err := r.check(off, 1); err != nil {
		return 0, err
	}
	return load32(r.mem, off), nil
}

// Write32 writes the register at off.
func (r *IORegion) Write32(off uint64, v uint32) error {
	if err := r.check(off, 1); err != nil {
		return err
	}
	store32(r.mem, off, v)
	return nil
}

// BlockWrite32 writes data to consecutive registers starting at off.
func (r *IORegion) BlockWrite32(off uint64, data []uint32) error {
	if err := r.check(off, len(data)); err != nil {
		return err
	}
	for i, v := range data {
		store32(r.mem, off+uint64(i)*4, v)
	}
	return nil
}

// BlockSet32 writes v to count consecutive registers starting at off.
func (r *IORegion) BlockSet32(off uint64, v uint32, count int) error {
	if err := r.check(off, count); err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		store32(r.mem, off+uint64(i)*4, v)
	}
	return nil
}
