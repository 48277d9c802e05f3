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

// Package cdo implements the recording backend. Nothing reaches hardware:
// register operations are appended to a CDO stream at absolute addresses,
// to be replayed later by the platform loader or by aiectl.
//
// Reads return zero, so code branching on read values records only one of
// its paths.
package cdo

import (
	"fmt"
	"time"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/aie/iocommon"
	"aieio.dev/aieio/pkg/aie/npi"
	"aieio.dev/aieio/pkg/aie/privilege"
	"aieio.dev/aieio/pkg/aie/rsc"
	"aieio.dev/aieio/pkg/cdo"
	"aieio.dev/aieio/pkg/log"
)

func init() {
	aie.Register(aie.BackendCDO, func(cfg *aie.Config) (aie.Backend, error) {
		return New(cfg), nil
	})
}

// Backend records register operations.
type Backend struct {
	cfg   *aie.Config
	w     *cdo.Writer
	tiles *rsc.TileMap
	rsc   *rsc.Manager
}

// New returns a backend recording into an empty stream.
func New(cfg *aie.Config) *Backend {
	return &Backend{
		cfg:   cfg,
		w:     cdo.NewWriter(),
		tiles: rsc.NewTileMap(cfg),
		rsc:   rsc.NewManager(cfg),
	}
}

// Stream returns the stream recorded so far.
func (b *Backend) Stream() *cdo.Writer {
	return b.w
}

// Type implements aie.Backend.Type.
func (b *Backend) Type() aie.BackendType {
	return aie.BackendCDO
}

// Finish implements aie.Backend.Finish. The stream is written to the
// configured output, if any.
func (b *Backend) Finish() error {
	if b.cfg.CDO.Output == "" {
		log.Debugf("Discarding %d recorded CDO commands", b.w.Len())
		return nil
	}
	return cdo.WriteFile(b.cfg.CDO.Output, b.w)
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

// Read32 implements aie.Backend.Read32. It always reads zero.
func (b *Backend) Read32(off uint64) (uint32, error) {
	if _, err := b.addr(off, 1); err != nil {
		return 0, err
	}
	return 0, nil
}

// Write32 implements aie.Backend.Write32.
func (b *Backend) Write32(off uint64, v uint32) error {
	a, err := b.addr(off, 1)
	if err != nil {
		return err
	}
	b.w.Write64(a, v)
	return nil
}

// MaskWrite32 implements aie.Backend.MaskWrite32.
func (b *Backend) MaskWrite32(off uint64, mask, v uint32) error {
	a, err := b.addr(off, 1)
	if err != nil {
		return err
	}
	b.w.MaskWrite64(a, mask, v)
	return nil
}

// MaskPoll implements aie.Backend.MaskPoll. The poll is recorded, not run;
// the timeout is rounded up to whole milliseconds.
func (b *Backend) MaskPoll(off uint64, mask, v uint32, timeout time.Duration) error {
	a, err := b.addr(off, 1)
	if err != nil {
		return err
	}
	b.w.MaskPoll64(a, mask, v, timeout)
	return nil
}

// BlockWrite32 implements aie.Backend.BlockWrite32.
func (b *Backend) BlockWrite32(off uint64, data []uint32) error {
	a, err := b.addr(off, len(data))
	if err != nil {
		return err
	}
	if len(data) > 0 {
		b.w.DmaWrite(a, data)
	}
	return nil
}

// BlockSet32 implements aie.Backend.BlockSet32.
func (b *Backend) BlockSet32(off uint64, v uint32, count int) error {
	a, err := b.addr(off, count)
	if err != nil {
		return err
	}
	if count > 0 {
		b.w.Set64(a, v, uint32(count))
	}
	return nil
}

// CmdWrite implements aie.Backend.CmdWrite.
func (b *Backend) CmdWrite(col, row, cmd uint8, wd0, wd1 uint32, s string) error {
	return aie.NotSupported(aie.BackendCDO, "cmd write")
}

// npiWrite records an NPI register write.
func (b *Backend) npiWrite(off uint64, v uint32) error {
	b.w.Write64(b.cfg.NpiBaseAddr+off, v)
	return nil
}

// RunOp implements aie.Backend.RunOp.
func (b *Backend) RunOp(op aie.Op) error {
	switch o := op.(type) {
	case *aie.NpiMaskWrite32:
		b.w.MaskWrite64(b.cfg.NpiBaseAddr+o.Off, o.Mask, o.Value)
		return nil
	case *aie.NpiMaskPoll:
		b.w.MaskPoll64(b.cfg.NpiBaseAddr+o.Off, o.Mask, o.Value, o.Timeout)
		return nil
	case *aie.NpiRead32:
		return aie.UnsupportedOp(aie.BackendCDO, op)
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
	if handled, err := npi.RunOp(npi.WriterFunc(b.npiWrite), b.cfg, op); handled {
		return err
	}
	if handled, err := b.rsc.Handle(op); handled {
		return err
	}
	return aie.UnsupportedOp(aie.BackendCDO, op)
}

// MemAllocate implements aie.Backend.MemAllocate.
func (b *Backend) MemAllocate(uint64, aie.CacheProp) (*aie.MemInst, error) {
	return nil, aie.NotSupported(aie.BackendCDO, "memory allocate")
}

// MemFree implements aie.Backend.MemFree.
func (b *Backend) MemFree(*aie.MemInst) error {
	return aie.NotSupported(aie.BackendCDO, "memory free")
}

// MemSyncForCPU implements aie.Backend.MemSyncForCPU.
func (b *Backend) MemSyncForCPU(*aie.MemInst) error {
	return aie.NotSupported(aie.BackendCDO, "memory sync")
}

// MemSyncForDevice implements aie.Backend.MemSyncForDevice.
func (b *Backend) MemSyncForDevice(*aie.MemInst) error {
	return aie.NotSupported(aie.BackendCDO, "memory sync")
}

// MemAttach implements aie.Backend.MemAttach.
func (b *Backend) MemAttach(*aie.MemInst, uint64) error {
	return aie.NotSupported(aie.BackendCDO, "memory attach")
}

// MemDetach implements aie.Backend.MemDetach.
func (b *Backend) MemDetach(*aie.MemInst) error {
	return aie.NotSupported(aie.BackendCDO, "memory detach")
}

// GetTid implements aie.Backend.GetTid.
func (b *Backend) GetTid() uint64 {
	return iocommon.Tid()
}
