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

// Package aietest provides an in-memory backend that records every call, for
// tests of code layered on aie.Backend.
package aietest

import (
	"errors"
	"fmt"
	"time"

	"aieio.dev/aieio/pkg/aie"
)

// ErrInjected is returned by calls selected with FailAt.
var ErrInjected = errors.New("injected failure")

// Call is one recorded backend call.
type Call struct {
	Name  string
	Off   uint64
	Mask  uint32
	Value uint32
	Count int
	Op    aie.Op
}

func (c Call) String() string {
	if c.Op != nil {
		return fmt.Sprintf("runop %s", c.Op.OpName())
	}
	return fmt.Sprintf("%s %#x mask %#x value %#x", c.Name, c.Off, c.Mask, c.Value)
}

// Backend is an in-memory register file implementing aie.Backend.
//
// Registers hold their last written value; unwritten registers read as zero.
// Secondary operations are recorded and, unless OpHook handles them, the
// protected register and shim reset state is tracked.
type Backend struct {
	Kind aie.BackendType

	Regs  map[uint64]uint32
	Npi   map[uint64]uint32
	Calls []Call

	// ProtRegEnabled and ShimReset track the partition gates.
	ProtRegEnabled bool
	ShimReset      bool

	// FailAt makes the n-th call (1-based, counting every call) fail with
	// ErrInjected. Zero disables injection.
	FailAt int

	// OpHook, if set, handles RunOp after it is recorded. Returning
	// aie.ErrFeatureNotSupported falls through to the default handling.
	OpHook func(op aie.Op) error

	Tid      uint64
	Finished int
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{
		Kind: aie.BackendDebug,
		Regs: make(map[uint64]uint32),
		Npi:  make(map[uint64]uint32),
	}
}

func (b *Backend) call(c Call) error {
	b.Calls = append(b.Calls, c)
	if b.FailAt != 0 && len(b.Calls) == b.FailAt {
		return fmt.Errorf("call %d (%v): %w", len(b.Calls), c, ErrInjected)
	}
	return nil
}

// Type implements aie.Backend.Type.
func (b *Backend) Type() aie.BackendType { return b.Kind }

// Finish implements aie.Backend.Finish.
func (b *Backend) Finish() error {
	b.Finished++
	return nil
}

// Read32 implements aie.Backend.Read32.
func (b *Backend) Read32(off uint64) (uint32, error) {
	if err := b.call(Call{Name: "read32", Off: off}); err != nil {
		return 0, err
	}
	return b.Regs[off], nil
}

// Write32 implements aie.Backend.Write32.
func (b *Backend) Write32(off uint64, v uint32) error {
	if err := b.call(Call{Name: "write32", Off: off, Value: v}); err != nil {
		return err
	}
	b.Regs[off] = v
	return nil
}

// MaskWrite32 implements aie.Backend.MaskWrite32.
func (b *Backend) MaskWrite32(off uint64, mask, v uint32) error {
	if err := b.call(Call{Name: "maskwrite32", Off: off, Mask: mask, Value: v}); err != nil {
		return err
	}
	b.Regs[off] = b.Regs[off]&^mask | v&mask
	return nil
}

// MaskPoll implements aie.Backend.MaskPoll. The register file does not change
// on its own, so the poll is decided by a single read.
func (b *Backend) MaskPoll(off uint64, mask, v uint32, timeout time.Duration) error {
	if err := b.call(Call{Name: "maskpoll", Off: off, Mask: mask, Value: v}); err != nil {
		return err
	}
	if b.Regs[off]&mask != v {
		return fmt.Errorf("%#x: %w", off, aie.ErrPollTimeout)
	}
	return nil
}

// BlockWrite32 implements aie.Backend.BlockWrite32.
func (b *Backend) BlockWrite32(off uint64, data []uint32) error {
	if err := b.call(Call{Name: "blockwrite32", Off: off, Count: len(data)}); err != nil {
		return err
	}
	for i, v := range data {
		b.Regs[off+uint64(i)*4] = v
	}
	return nil
}

// BlockSet32 implements aie.Backend.BlockSet32.
func (b *Backend) BlockSet32(off uint64, v uint32, count int) error {
	if err := b.call(Call{Name: "blockset32", Off: off, Value: v, Count: count}); err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		b.Regs[off+uint64(i)*4] = v
	}
	return nil
}

// CmdWrite implements aie.Backend.CmdWrite.
func (b *Backend) CmdWrite(col, row, cmd uint8, wd0, wd1 uint32, s string) error {
	return b.call(Call{Name: "cmdwrite", Value: uint32(cmd)})
}

// RunOp implements aie.Backend.RunOp.
func (b *Backend) RunOp(op aie.Op) error {
	if err := b.call(Call{Name: "runop", Op: op}); err != nil {
		return err
	}
	if b.OpHook != nil {
		if err := b.OpHook(op); !errors.Is(err, aie.ErrFeatureNotSupported) {
			return err
		}
	}
	switch o := op.(type) {
	case *aie.SetProtectedReg:
		b.ProtRegEnabled = o.Enable
	case *aie.AssertShimReset:
		b.ShimReset = o.Assert
	case *aie.NpiWrite32:
		b.Npi[o.Off] = o.Value
	case *aie.NpiMaskWrite32:
		b.Npi[o.Off] = b.Npi[o.Off]&^o.Mask | o.Value&o.Mask
	case *aie.NpiRead32:
		o.Value = b.Npi[o.Off]
	default:
		return aie.UnsupportedOp(b.Kind, op)
	}
	return nil
}

// MemAllocate implements aie.Backend.MemAllocate.
func (b *Backend) MemAllocate(size uint64, cache aie.CacheProp) (*aie.MemInst, error) {
	if err := b.call(Call{Name: "memallocate", Count: int(size)}); err != nil {
		return nil, err
	}
	return &aie.MemInst{VAddr: make([]byte, size), Size: size, Cache: cache, Owner: b}, nil
}

// MemFree implements aie.Backend.MemFree.
func (b *Backend) MemFree(m *aie.MemInst) error {
	return b.call(Call{Name: "memfree"})
}

// MemSyncForCPU implements aie.Backend.MemSyncForCPU.
func (b *Backend) MemSyncForCPU(m *aie.MemInst) error {
	return b.call(Call{Name: "memsyncforcpu"})
}

// MemSyncForDevice implements aie.Backend.MemSyncForDevice.
func (b *Backend) MemSyncForDevice(m *aie.MemInst) error {
	return b.call(Call{Name: "memsyncfordevice"})
}

// MemAttach implements aie.Backend.MemAttach.
func (b *Backend) MemAttach(m *aie.MemInst, handle uint64) error {
	if err := b.call(Call{Name: "memattach", Value: uint32(handle)}); err != nil {
		return err
	}
	m.Handle = handle
	return nil
}

// MemDetach implements aie.Backend.MemDetach.
func (b *Backend) MemDetach(m *aie.MemInst) error {
	return b.call(Call{Name: "memdetach"})
}

// GetTid implements aie.Backend.GetTid.
func (b *Backend) GetTid() uint64 { return b.Tid }

// Names returns the names of the recorded calls, with secondary operations
// named by their op.
func (b *Backend) Names() []string {
	names := make([]string, 0, len(b.Calls))
	for _, c := range b.Calls {
		if c.Op != nil {
			names = append(names, c.Op.OpName())
			continue
		}
		names = append(names, c.Name)
	}
	return names
}

// Reset clears the recorded calls.
func (b *Backend) Reset() {
	b.Calls = nil
}
