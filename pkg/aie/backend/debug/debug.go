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

// Package debug implements a backend that logs every operation and touches
// nothing. Reads return zero and every operation succeeds, except resource
// requests which are still accounted.
package debug

import (
	"fmt"
	"time"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/aie/iocommon"
	"aieio.dev/aieio/pkg/aie/rsc"
	"aieio.dev/aieio/pkg/log"
)

func init() {
	aie.Register(aie.BackendDebug, func(cfg *aie.Config) (aie.Backend, error) {
		return New(cfg, log.Log()), nil
	})
}

// Backend logs operations.
type Backend struct {
	cfg *aie.Config
	l   log.Logger
	rsc *rsc.Manager
}

// New returns a backend logging to l at info level.
func New(cfg *aie.Config, l log.Logger) *Backend {
	return &Backend{cfg: cfg, l: l, rsc: rsc.NewManager(cfg)}
}

// Type implements aie.Backend.Type.
func (b *Backend) Type() aie.BackendType {
	return aie.BackendDebug
}

// tile formats off as an absolute address with its tile.
func (b *Backend) tile(off uint64) string {
	loc, reg := b.cfg.TileLoc(off)
	return fmt.Sprintf("0x%016x tile %v reg %#x", iocommon.AbsAddr(b.cfg, off), loc, reg)
}

// Finish implements aie.Backend.Finish.
func (b *Backend) Finish() error {
	b.l.Infof("debug: finish")
	return nil
}

// Read32 implements aie.Backend.Read32.
func (b *Backend) Read32(off uint64) (uint32, error) {
	b.l.Infof("debug: read32 %s", b.tile(off))
	return 0, nil
}

// Write32 implements aie.Backend.Write32.
func (b *Backend) Write32(off uint64, v uint32) error {
	b.l.Infof("debug: write32 %s value 0x%08x", b.tile(off), v)
	return nil
}

// MaskWrite32 implements aie.Backend.MaskWrite32.
func (b *Backend) MaskWrite32(off uint64, mask, v uint32) error {
	b.l.Infof("debug: maskwrite32 %s mask 0x%08x value 0x%08x", b.tile(off), mask, v)
	return nil
}

// MaskPoll implements aie.Backend.MaskPoll.
func (b *Backend) MaskPoll(off uint64, mask, v uint32, timeout time.Duration) error {
	b.l.Infof("debug: maskpoll %s mask 0x%08x value 0x%08x timeout %v", b.tile(off), mask, v, timeout)
	return nil
}

// BlockWrite32 implements aie.Backend.BlockWrite32.
func (b *Backend) BlockWrite32(off uint64, data []uint32) error {
	for i, v := range data {
		b.l.Infof("debug: blockwrite32 %s value 0x%08x", b.tile(off+uint64(i)*4), v)
	}
	return nil
}

// BlockSet32 implements aie.Backend.BlockSet32.
func (b *Backend) BlockSet32(off uint64, v uint32, count int) error {
	b.l.Infof("debug: blockset32 %s value 0x%08x count %d", b.tile(off), v, count)
	return nil
}

// CmdWrite implements aie.Backend.CmdWrite.
func (b *Backend) CmdWrite(col, row, cmd uint8, wd0, wd1 uint32, s string) error {
	b.l.Infof("debug: cmdwrite tile (%d,%d) cmd %d words 0x%08x 0x%08x %q", col, row, cmd, wd0, wd1, s)
	return nil
}

// RunOp implements aie.Backend.RunOp.
func (b *Backend) RunOp(op aie.Op) error {
	b.l.Infof("debug: op %s %+v", op.OpName(), op)
	if handled, err := b.rsc.Handle(op); handled {
		return err
	}
	return nil
}

// MemAllocate implements aie.Backend.MemAllocate.
func (b *Backend) MemAllocate(size uint64, cache aie.CacheProp) (*aie.MemInst, error) {
	b.l.Infof("debug: mem allocate %#x bytes %v", size, cache)
	return &aie.MemInst{VAddr: make([]byte, size), Size: size, Cache: cache, Owner: b}, nil
}

// MemFree implements aie.Backend.MemFree.
func (b *Backend) MemFree(m *aie.MemInst) error {
	b.l.Infof("debug: mem free %#x bytes", m.Size)
	m.VAddr = nil
	return nil
}

// MemSyncForCPU implements aie.Backend.MemSyncForCPU.
func (b *Backend) MemSyncForCPU(m *aie.MemInst) error {
	b.l.Infof("debug: mem sync for cpu %#x bytes", m.Size)
	return nil
}

// MemSyncForDevice implements aie.Backend.MemSyncForDevice.
func (b *Backend) MemSyncForDevice(m *aie.MemInst) error {
	b.l.Infof("debug: mem sync for device %#x bytes", m.Size)
	return nil
}

// MemAttach implements aie.Backend.MemAttach.
func (b *Backend) MemAttach(m *aie.MemInst, handle uint64) error {
	b.l.Infof("debug: mem attach handle %d", handle)
	m.Owner = b
	return nil
}

// MemDetach implements aie.Backend.MemDetach.
func (b *Backend) MemDetach(m *aie.MemInst) error {
	b.l.Infof("debug: mem detach %#x bytes", m.Size)
	return nil
}

// GetTid implements aie.Backend.GetTid.
func (b *Backend) GetTid() uint64 {
	return iocommon.Tid()
}
