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

package aie

import (
	"fmt"
	"time"
)

// Op is a secondary operation run through Backend.RunOp. Concrete operations
// are the pointer types declared in this file; results are written back into
// the operation.
type Op interface {
	// OpName returns a short name used in logs and errors.
	OpName() string

	isOp()
}

// NpiWrite32 writes an NPI register. Off is relative to the NPI base.
type NpiWrite32 struct {
	Off   uint64
	Value uint32
}

// NpiMaskWrite32 replaces the bits of Mask in an NPI register.
type NpiMaskWrite32 struct {
	Off   uint64
	Mask  uint32
	Value uint32
}

// NpiRead32 reads an NPI register into Value.
type NpiRead32 struct {
	Off   uint64
	Value uint32
}

// NpiMaskPoll waits for (reg & Mask) == Value on an NPI register.
type NpiMaskPoll struct {
	Off     uint64
	Mask    uint32
	Value   uint32
	Timeout time.Duration
}

// NpiIrq routes an AIE interrupt line to an NPI interrupt.
type NpiIrq struct {
	NpiIrqID uint8
	AieIrqID uint8
	Enable   bool
}

// AssertShimReset asserts or deasserts the partition wide shim reset.
type AssertShimReset struct {
	Assert bool
}

// SetProtectedReg opens or closes access to protected registers for the
// partition columns [StartCol, StartCol+NumCols).
type SetProtectedReg struct {
	Enable   bool
	StartCol uint8
	NumCols  uint8
}

// ConfigShimDmaBd programs shim DMA buffer descriptor BdNum of the shim tile
// at Loc. When Mem is set the descriptor addresses that memory instance,
// otherwise VAddr.
type ConfigShimDmaBd struct {
	Mem     *MemInst
	VAddr   uint64
	Loc     Loc
	BdNum   uint8
	BdWords []uint32
}

// RequestTiles marks tiles as in use, enabling their clocks. An empty Locs
// requests the whole partition.
type RequestTiles struct {
	Locs []Loc
}

// ReleaseTiles marks tiles as unused. An empty Locs releases the whole
// partition.
type ReleaseTiles struct {
	Locs []Loc
}

// RequestResource allocates resources dynamically.
type RequestResource struct {
	Req *ResourceRequest
}

// ReleaseResource releases resources, both static and dynamic.
type ReleaseResource struct {
	Req *ResourceRequest
}

// FreeResource frees dynamically allocated resources.
type FreeResource struct {
	Req *ResourceRequest
}

// RequestAllocatedResource claims a specific resource id, marking it static.
type RequestAllocatedResource struct {
	Req *ResourceRequest
}

// PartitionInit brings the partition into a known state.
type PartitionInit struct {
	Opts PartInitOpts
}

// PartitionTeardown resets the partition and gates its clocks.
type PartitionTeardown struct{}

func (*NpiWrite32) isOp()               {}
func (*NpiMaskWrite32) isOp()           {}
func (*NpiRead32) isOp()                {}
func (*NpiMaskPoll) isOp()              {}
func (*NpiIrq) isOp()                   {}
func (*AssertShimReset) isOp()          {}
func (*SetProtectedReg) isOp()          {}
func (*ConfigShimDmaBd) isOp()          {}
func (*RequestTiles) isOp()             {}
func (*ReleaseTiles) isOp()             {}
func (*RequestResource) isOp()          {}
func (*ReleaseResource) isOp()          {}
func (*FreeResource) isOp()             {}
func (*RequestAllocatedResource) isOp() {}
func (*PartitionInit) isOp()            {}
func (*PartitionTeardown) isOp()        {}

func (*NpiWrite32) OpName() string               { return "npi-write32" }
func (*NpiMaskWrite32) OpName() string           { return "npi-maskwrite32" }
func (*NpiRead32) OpName() string                { return "npi-read32" }
func (*NpiMaskPoll) OpName() string              { return "npi-maskpoll" }
func (*NpiIrq) OpName() string                   { return "npi-irq" }
func (*AssertShimReset) OpName() string          { return "assert-shim-reset" }
func (*SetProtectedReg) OpName() string          { return "set-protected-reg" }
func (*ConfigShimDmaBd) OpName() string          { return "config-shim-dma-bd" }
func (*RequestTiles) OpName() string             { return "request-tiles" }
func (*ReleaseTiles) OpName() string             { return "release-tiles" }
func (*RequestResource) OpName() string          { return "request-resource" }
func (*ReleaseResource) OpName() string          { return "release-resource" }
func (*FreeResource) OpName() string             { return "free-resource" }
func (*RequestAllocatedResource) OpName() string { return "request-allocated-resource" }
func (*PartitionInit) OpName() string            { return "partition-init" }
func (*PartitionTeardown) OpName() string        { return "partition-teardown" }

// UnsupportedOp returns the error for an operation a backend does not run.
func UnsupportedOp(t BackendType, op Op) error {
	return fmt.Errorf("%v backend: op %s: %w", t, op.OpName(), ErrFeatureNotSupported)
}

// PartInitFlag selects optional steps of partition initialization.
type PartInitFlag uint32

// Partition initialization steps.
const (
	PartInitColReset PartInitFlag = 1 << iota
	PartInitShimReset
	PartInitBlockAxiErr
	PartInitIsolation
	PartInitZeroMem
)

// PartInitOpts are the options of partition initialization.
type PartInitOpts struct {
	Flags PartInitFlag

	// Locs are marked in use once the partition is up.
	Locs []Loc
}

// Has reports whether f is selected.
func (o *PartInitOpts) Has(f PartInitFlag) bool {
	return o.Flags&f != 0
}
