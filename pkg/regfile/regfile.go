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

// Package regfile provides a sparse 32-bit register file, ordered by address.
// Registers never written read as zero, and writing zero drops the register,
// so the file only holds what a program has set.
package regfile

import (
	"fmt"
	"io"
	"sync"

	"github.com/google/btree"
)

const degree = 16

type reg struct {
	addr uint64
	val  uint32
}

func less(a, b reg) bool {
	return a.addr < b.addr
}

// File is a sparse register file. It is safe for concurrent use.
type File struct {
	mu   sync.Mutex
	regs *btree.BTreeG[reg]
}

// New returns an empty register file.
func New() *File {
	return &File{regs: btree.NewG(degree, less)}
}

// Read32 returns the register at addr.
func (f *File) Read32(addr uint64) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, _ := f.regs.Get(reg{addr: addr})
	return r.val
}

// Preconditions: f.mu is held.
func (f *File) set(addr uint64, v uint32) {
	if v == 0 {
		f.regs.Delete(reg{addr: addr})
		return
	}
	f.regs.ReplaceOrInsert(reg{addr: addr, val: v})
}

// Write32 sets the register at addr.
func (f *File) Write32(addr uint64, v uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set(addr, v)
}

// MaskWrite32 replaces the bits of mask in the register at addr and returns
// the new value.
func (f *File) MaskWrite32(addr uint64, mask, v uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, _ := f.regs.Get(reg{addr: addr})
	nv := r.val&^mask | v&mask
	f.set(addr, nv)
	return nv
}

// Len returns the number of nonzero registers.
func (f *File) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs.Len()
}

// Range calls fn for the nonzero registers in [lo, hi) in address order,
// until fn returns false. fn must not modify the file.
func (f *File) Range(lo, hi uint64, fn func(addr uint64, v uint32) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs.AscendRange(reg{addr: lo}, reg{addr: hi}, func(r reg) bool {
		return fn(r.addr, r.val)
	})
}

// Snapshot returns the nonzero registers by address.
func (f *File) Snapshot() map[uint64]uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := make(map[uint64]uint32, f.regs.Len())
	f.regs.Ascend(func(r reg) bool {
		m[r.addr] = r.val
		return true
	})
	return m
}

// Reset clears every register.
func (f *File) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs.Clear(false)
}

// Dump writes the nonzero registers to w, one per line.
func (f *File) Dump(w io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	f.regs.Ascend(func(r reg) bool {
		_, err = fmt.Fprintf(w, "0x%016x 0x%08x\n", r.addr, r.val)
		return err == nil
	})
	return err
}
