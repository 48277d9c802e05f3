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

// Package sim implements an in-process simulated array: registers live in a
// sparse register file at their absolute addresses, the same file aiesim
// serves over TCP. Nothing is timed; polls succeed once another goroutine
// has written the expected value.
package sim

import (
	"fmt"
	"sync"
	"time"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/aie/iocommon"
	"aieio.dev/aieio/pkg/aie/npi"
	"aieio.dev/aieio/pkg/aie/privilege"
	"aieio.dev/aieio/pkg/aie/rsc"
	"aieio.dev/aieio/pkg/log"
	"aieio.dev/aieio/pkg/regfile"
)

func init() {
	aie.Register(aie.BackendSim, func(cfg *aie.Config) (aie.Backend, error) {
		return New(cfg, regfile.New()), nil
	})
}

// memBase is the first device address handed out for simulated memory.
const memBase = 0x8_0000_0000

// Backend accesses a register file.
type Backend struct {
	cfg  *aie.Config
	regs *regfile.File

	tiles *rsc.TileMap
	rsc   *rsc.Manager

	// mu protects nextDev.
	mu      sync.Mutex
	nextDev uint64
}

// New returns a backend over regs.
func New(cfg *aie.Config, regs *regfile.File) *Backend {
	return &Backend{
		cfg:     cfg,
		regs:    regs,
		tiles:   rsc.NewTileMap(cfg),
		rsc:     rsc.NewManager(cfg),
		nextDev: memBase,
	}
}

// Regs returns the register file.
func (b *Backend) Regs() *regfile.File {
	return b.regs
}

// Type implements aie.Backend.Type.
func (b *Backend) Type() aie.BackendType {
	return aie.BackendSim
}

// Finish implements aie.Backend.Finish.
func (b *Backend) Finish() error {
	log.Debugf("Simulated array finished with %d registers set", b.regs.Len())
	return nil
}

func (b *Backend) addr(off uint64, words int) (uint64, error) {
	if words < 0 {
		return 0, fmt.Errorf("%w: negative count %d", aie.ErrInvalidArgs, words)
	}
	if size := b.cfg.PartitionSize(); off%4 != 0 || off >= size || uint64(words)*4 > size-off {
		return 0, fmt.Errorf("%w: %d words at %#x outside partition of %#x bytes", aie.ErrInvalidArgs, words, off, size)
	}
	return iocommon.AbsAddr(b.cfg, off), nil
}

// Read32 implements aie.Backend.Read32.
func (b *Backend) Read32(off uint64) (uint32, error) {
	a, err := b.addr(off, 1)
	if err != nil {
		return 0, err
	}
	return b.regs.Read32(a), nil
}

// Write32 implements aie.Backend.Write32.
func (b *Backend) Write32(off uint64, v uint32) error {
	a, err := b.addr(off, 1)
	if err != nil {
		return err
	}
	b.regs.Write32(a, v)
	return nil
}

// MaskWrite32 implements aie.Backend.MaskWrite32.
func (b *Backend) MaskWrite32(off uint64, mask, v uint32) error {
	a, err := b.addr(off, 1)
	if err != nil {
		return err
	}
	b.regs.MaskWrite32(a, mask, v)
	return nil
}

// MaskPoll implements aie.Backend.MaskPoll.
func (b *Backend) MaskPoll(off uint64, mask, v uint32, timeout time.Duration) error {
	a, err := b.addr(off, 1)
	if err != nil {
		return err
	}
	return iocommon.MaskPoll(func() (uint32, error) { return b.regs.Read32(a), nil }, mask, v, timeout)
}

// BlockWrite32 implements aie.Backend.BlockWrite32.
func (b *Backend) BlockWrite32(off uint64, data []uint32) error {
	a, err := b.addr(off, len(data))
	if err != nil {
		return err
	}
	for i, v := range data {
		b.regs.Write32(a+uint64(i)*4, v)
	}
	return nil
}

// BlockSet32 implements aie.Backend.BlockSet32.
func (b *Backend) BlockSet32(off uint64, v uint32, count int) error {
	a, err := b.addr(off, count)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		b.regs.Write32(a+uint64(i)*4, v)
	}
	return nil
}

// CmdWrite implements aie.Backend.CmdWrite.
func (b *Backend) CmdWrite(col, row, cmd uint8, wd0, wd1 uint32, s string) error {
	return aie.NotSupported(aie.BackendSim, "cmd write")
}

type npiRegs struct {
	b *Backend
}

func (n npiRegs) Write32(off uint64, v uint32) error {
	n.b.regs.Write32(n.b.cfg.NpiBaseAddr+off, v)
	return nil
}

func (n npiRegs) Read32(off uint64) (uint32, error) {
	return n.b.regs.Read32(n.b.cfg.NpiBaseAddr + off), nil
}

// RunOp implements aie.Backend.RunOp.
func (b *Backend) RunOp(op aie.Op) error {
	switch o := op.(type) {
	case *aie.PartitionInit:
		return privilege.InitPart(b, b.cfg, b.tiles, o.Opts)
	case *aie.PartitionTeardown:
		return privilege.TeardownPart(b, b.cfg, b.tiles)
	case *aie.ConfigShimDmaBd:
		off, words, err := iocommon.ShimDmaBd(b.cfg, o)
		if err != nil {
			return err
		}
		return b.BlockWrite32(off, words)
	case *aie.RequestTiles:
		return privilege.RequestTiles(b, b.cfg, b.tiles, o.Locs)
	case *aie.ReleaseTiles:
		return privilege.ReleaseTiles(b, b.cfg, b.tiles, o.Locs)
	}
	if handled, err := npi.RunOp(npiRegs{b}, b.cfg, op); handled {
		return err
	}
	if handled, err := b.rsc.Handle(op); handled {
		return err
	}
	return aie.UnsupportedOp(aie.BackendSim, op)
}

// MemAllocate implements aie.Backend.MemAllocate. Memory is process memory
// with a made up device address.
func (b *Backend) MemAllocate(size uint64, cache aie.CacheProp) (*aie.MemInst, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: zero sized allocation", aie.ErrInvalidArgs)
	}
	b.mu.Lock()
	dev := b.nextDev
	b.nextDev += (size + 0xFFF) &^ 0xFFF
	b.mu.Unlock()
	return &aie.MemInst{
		VAddr:   make([]byte, size),
		DevAddr: dev,
		Size:    size,
		Cache:   cache,
		Owner:   b,
	}, nil
}

// MemFree implements aie.Backend.MemFree.
func (b *Backend) MemFree(m *aie.MemInst) error {
	m.VAddr = nil
	return nil
}

// MemSyncForCPU implements aie.Backend.MemSyncForCPU.
func (b *Backend) MemSyncForCPU(*aie.MemInst) error {
	return nil
}

// MemSyncForDevice implements aie.Backend.MemSyncForDevice.
func (b *Backend) MemSyncForDevice(*aie.MemInst) error {
	return nil
}

// MemAttach implements aie.Backend.MemAttach.
func (b *Backend) MemAttach(*aie.MemInst, uint64) error {
	return aie.NotSupported(aie.BackendSim, "memory attach")
}

// MemDetach implements aie.Backend.MemDetach.
func (b *Backend) MemDetach(*aie.MemInst) error {
	return aie.NotSupported(aie.BackendSim, "memory detach")
}

// GetTid implements aie.Backend.GetTid.
func (b *Backend) GetTid() uint64 {
	return iocommon.Tid()
}
