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

// Package baremetal implements the backend for direct register access, with
// the array mapped into the address space of the caller.
package baremetal

import (
	"fmt"
	"time"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/aie/iocommon"
	"aieio.dev/aieio/pkg/aie/npi"
	"aieio.dev/aieio/pkg/aie/privilege"
	"aieio.dev/aieio/pkg/aie/rsc"
	"aieio.dev/aieio/pkg/cleanup"
	"aieio.dev/aieio/pkg/log"
)

func init() {
	aie.Register(aie.BackendBaremetal, func(cfg *aie.Config) (aie.Backend, error) {
		return New(cfg)
	})
}

// anonNpiSize is the NPI window mapped for anonymous regions.
const anonNpiSize = 0x1000

// Backend accesses registers through mapped regions.
//
// Memory allocated by the backend is ordinary process memory; the requested
// cache policy is recorded but not applied.
type Backend struct {
	cfg  *aie.Config
	regs *Region

	// npi is nil when the NPI window is not mapped.
	npi *Region

	tiles *rsc.TileMap
	rsc   *rsc.Manager
}

// New maps the partition and, if configured, the NPI window.
func New(cfg *aie.Config) (*Backend, error) {
	bc := &cfg.Baremetal
	regs, err := MapRegion(bc.MemPath, cfg.PartitionBase(), cfg.PartitionSize())
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(func() { regs.Release() })
	defer cu.Clean()

	npiSize := bc.NpiSize
	if bc.MemPath == "" && npiSize == 0 {
		npiSize = anonNpiSize
	}
	var npiRegion *Region
	if npiSize != 0 {
		npiRegion, err = MapRegion(bc.MemPath, cfg.NpiBaseAddr, npiSize)
		if err != nil {
			return nil, err
		}
	}
	cu.Release()
	return newBackend(cfg, regs, npiRegion), nil
}

// NewShared returns a backend over regions owned elsewhere. It takes a
// reference on each region; npiRegion may be nil.
func NewShared(cfg *aie.Config, regs, npiRegion *Region) *Backend {
	regs.IncRef()
	if npiRegion != nil {
		npiRegion.IncRef()
	}
	return newBackend(cfg, regs, npiRegion)
}

func newBackend(cfg *aie.Config, regs, npiRegion *Region) *Backend {
	return &Backend{
		cfg:   cfg,
		regs:  regs,
		npi:   npiRegion,
		tiles: rsc.NewTileMap(cfg),
		rsc:   rsc.NewManager(cfg),
	}
}

// Regions returns the register and NPI regions of the backend, for sharing
// with NewShared.
func (b *Backend) Regions() (*Region, *Region) {
	return b.regs, b.npi
}

// Type implements aie.Backend.Type.
func (b *Backend) Type() aie.BackendType {
	return aie.BackendBaremetal
}

// Finish implements aie.Backend.Finish.
func (b *Backend) Finish() error {
	err := b.regs.Release()
	if b.npi != nil {
		if nerr := b.npi.Release(); err == nil {
			err = nerr
		}
	}
	return err
}

// Read32 implements aie.Backend.Read32.
func (b *Backend) Read32(off uint64) (uint32, error) {
	return b.regs.Load32(off)
}

// Write32 implements aie.Backend.Write32.
func (b *Backend) Write32(off uint64, v uint32) error {
	return b.regs.Store32(off, v)
}

// MaskWrite32 implements aie.Backend.MaskWrite32.
func (b *Backend) MaskWrite32(off uint64, mask, v uint32) error {
	cur, err := b.regs.Load32(off)
	if err != nil {
		return err
	}
	return b.regs.Store32(off, cur&^mask|v&mask)
}

// MaskPoll implements aie.Backend.MaskPoll.
func (b *Backend) MaskPoll(off uint64, mask, v uint32, timeout time.Duration) error {
	if err := b.regs.check(off, 1); err != nil {
		return err
	}
	return iocommon.MaskPoll(func() (uint32, error) { return b.regs.Load32(off) }, mask, v, timeout)
}

// BlockWrite32 implements aie.Backend.BlockWrite32.
func (b *Backend) BlockWrite32(off uint64, data []uint32) error {
	if err := b.regs.check(off, len(data)); err != nil {
		return err
	}
	for i, v := range data {
		store32(b.regs.mem, off+uint64(i)*4, v)
	}
	return nil
}

// BlockSet32 implements aie.Backend.BlockSet32.
func (b *Backend) BlockSet32(off uint64, v uint32, count int) error {
	if count < 0 {
		return fmt.Errorf("%w: negative count %d", aie.ErrInvalidArgs, count)
	}
	if err := b.regs.check(off, count); err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		store32(b.regs.mem, off+uint64(i)*4, v)
	}
	return nil
}

// CmdWrite implements aie.Backend.CmdWrite.
func (b *Backend) CmdWrite(col, row, cmd uint8, wd0, wd1 uint32, s string) error {
	return aie.NotSupported(aie.BackendBaremetal, "cmd write")
}

// npiRegs gives the NPI helper access to the NPI region.
type npiRegs struct {
	r *Region
}

func (n npiRegs) Write32(off uint64, v uint32) error {
	return n.r.Store32(off, v)
}

func (n npiRegs) Read32(off uint64) (uint32, error) {
	return n.r.Load32(off)
}

// RunOp implements aie.Backend.RunOp.
func (b *Backend) RunOp(op aie.Op) error {
	switch o := op.(type) {
	case *aie.NpiWrite32, *aie.NpiMaskWrite32, *aie.NpiRead32, *aie.NpiMaskPoll, *aie.NpiIrq, *aie.AssertShimReset, *aie.SetProtectedReg:
		if b.npi == nil {
			return aie.UnsupportedOp(aie.BackendBaremetal, op)
		}
		_, err := npi.RunOp(npiRegs{b.npi}, b.cfg, op)
		return err
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
	if handled, err := b.rsc.Handle(op); handled {
		return err
	}
	return aie.UnsupportedOp(aie.BackendBaremetal, op)
}

// MemAllocate implements aie.Backend.MemAllocate.
func (b *Backend) MemAllocate(size uint64, cache aie.CacheProp) (*aie.MemInst, error) {
	buf := make([]byte, size)
	m := &aie.MemInst{
		VAddr:   buf,
		DevAddr: bufAddr(buf),
		Size:    size,
		Cache:   cache,
		Owner:   b,
	}
	log.Debugf("Allocated %#x bytes at %#x, %v (not applied)", size, m.DevAddr, cache)
	return m, nil
}

// MemFree implements aie.Backend.MemFree.
func (b *Backend) MemFree(m *aie.MemInst) error {
	m.VAddr = nil
	return nil
}

// MemSyncForCPU implements aie.Backend.MemSyncForCPU. Memory is coherent.
func (b *Backend) MemSyncForCPU(*aie.MemInst) error {
	return nil
}

// MemSyncForDevice implements aie.Backend.MemSyncForDevice. Memory is
// coherent.
func (b *Backend) MemSyncForDevice(*aie.MemInst) error {
	return nil
}

// MemAttach implements aie.Backend.MemAttach.
func (b *Backend) MemAttach(*aie.MemInst, uint64) error {
	return aie.NotSupported(aie.BackendBaremetal, "memory attach")
}

// MemDetach implements aie.Backend.MemDetach.
func (b *Backend) MemDetach(*aie.MemInst) error {
	return aie.NotSupported(aie.BackendBaremetal, "memory detach")
}

// GetTid implements aie.Backend.GetTid.
func (b *Backend) GetTid() uint64 {
	return iocommon.Tid()
}
