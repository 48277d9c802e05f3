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
	"errors"
	"fmt"
	"sync"
	"time"

	"aieio.dev/aieio/pkg/log"
	"github.com/mohae/deepcopy"
)

// ErrFinished is returned by operations on a finished device.
var ErrFinished = errors.New("device finished")

// Device is one AI Engine device instance bound to a single backend.
//
// Operations are synchronous and run on the caller's goroutine. Callers must
// serialize concurrent use of one Device, except for transaction recording
// which is tracked per thread.
type Device struct {
	cfg *Config

	// mu protects io and txn.
	mu  sync.Mutex
	io  Backend
	txn *txnState
}

// NewDevice selects the backend named by cfg.Backend and initializes it. The
// configuration is copied; later changes to cfg do not affect the device.
func NewDevice(cfg *Config) (*Device, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidArgs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := deepcopy.Copy(cfg).(*Config)
	ctor, err := Lookup(c.Backend)
	if err != nil {
		log.Warningf("Backend %v: %v", c.Backend, err)
		return nil, err
	}
	b, err := ctor(c)
	if err != nil {
		log.Warningf("Initializing %v backend failed: %v", c.Backend, err)
		return nil, fmt.Errorf("initializing %v backend: %w", c.Backend, err)
	}
	log.Infof("AIE device %v: %dx%d partition at %#x, %v backend", c.Generation, c.NumCols, c.NumRows, c.PartitionBase(), b.Type())
	return &Device{cfg: c, io: b}, nil
}

// NewDeviceWithBackend binds an initialized backend to a new device. It is
// used to share a reference counted transport between device instances.
func NewDeviceWithBackend(cfg *Config, b Backend) (*Device, error) {
	if cfg == nil || b == nil {
		return nil, fmt.Errorf("%w: nil config or backend", ErrInvalidArgs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Device{cfg: deepcopy.Copy(cfg).(*Config), io: b}, nil
}

// Config returns the device configuration. It must not be modified.
func (d *Device) Config() *Config {
	return d.cfg
}

// Backend returns the bound backend, or nil after Finish.
func (d *Device) Backend() Backend {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.io
}

func (d *Device) backend() (Backend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.io == nil {
		return nil, ErrFinished
	}
	return d.io, nil
}

// Finish releases the backend. A pending transaction is dropped. Only the
// goroutine that started it can release its OS thread: when Finish is
// called elsewhere, that goroutine stays wired until its next SubmitTxn or
// CancelTxn, which then fails with ErrFinished.
func (d *Device) Finish() error {
	d.mu.Lock()
	b := d.io
	d.io = nil
	t := d.txn
	owned := t != nil && t.owned()
	if owned {
		d.txn = nil
	}
	d.mu.Unlock()
	if b == nil {
		return ErrFinished
	}
	if t != nil {
		log.Warningf("Dropping %d uncommitted transaction commands", len(t.txn.Cmds))
		if owned {
			t.unlock()
		}
	}
	return b.Finish()
}

// Read32 reads a register.
func (d *Device) Read32(off uint64) (uint32, error) {
	b, err := d.backend()
	if err != nil {
		return 0, err
	}
	return b.Read32(off)
}

// Write32 writes a register.
func (d *Device) Write32(off uint64, v uint32) error {
	b, err := d.backend()
	if err != nil {
		return err
	}
	if d.record(b, TxnCmd{Op: TxnWrite, RegOff: off, Value: v}) {
		return nil
	}
	return b.Write32(off, v)
}

// MaskWrite32 replaces the bits of mask in a register.
func (d *Device) MaskWrite32(off uint64, mask, v uint32) error {
	b, err := d.backend()
	if err != nil {
		return err
	}
	if d.record(b, TxnCmd{Op: TxnMaskWrite, RegOff: off, Mask: mask, Value: v}) {
		return nil
	}
	return b.MaskWrite32(off, mask, v)
}

// MaskPoll waits for (reg & mask) == v.
func (d *Device) MaskPoll(off uint64, mask, v uint32, timeout time.Duration) error {
	b, err := d.backend()
	if err != nil {
		return err
	}
	if d.record(b, TxnCmd{Op: TxnMaskPoll, RegOff: off, Mask: mask, Value: v, Timeout: timeout}) {
		return nil
	}
	return b.MaskPoll(off, mask, v, timeout)
}

// BlockWrite32 writes consecutive registers.
func (d *Device) BlockWrite32(off uint64, data []uint32) error {
	b, err := d.backend()
	if err != nil {
		return err
	}
	if d.record(b, TxnCmd{Op: TxnBlockWrite, RegOff: off, Data: append([]uint32(nil), data...)}) {
		return nil
	}
	return b.BlockWrite32(off, data)
}

// BlockSet32 writes v to count consecutive registers.
func (d *Device) BlockSet32(off uint64, v uint32, count int) error {
	b, err := d.backend()
	if err != nil {
		return err
	}
	if d.record(b, TxnCmd{Op: TxnBlockSet, RegOff: off, Value: v, Count: count}) {
		return nil
	}
	return b.BlockSet32(off, v, count)
}

// CmdWrite issues a vendor command.
func (d *Device) CmdWrite(col, row, cmd uint8, wd0, wd1 uint32, s string) error {
	b, err := d.backend()
	if err != nil {
		return err
	}
	return b.CmdWrite(col, row, cmd, wd0, wd1, s)
}

// RunOp runs a secondary operation.
func (d *Device) RunOp(op Op) error {
	if op == nil {
		return fmt.Errorf("%w: nil op", ErrInvalidArgs)
	}
	b, err := d.backend()
	if err != nil {
		return err
	}
	return b.RunOp(op)
}

// PartitionInit initializes the partition.
func (d *Device) PartitionInit(opts PartInitOpts) error {
	return d.RunOp(&PartitionInit{Opts: opts})
}

// PartitionTeardown tears the partition down.
func (d *Device) PartitionTeardown() error {
	return d.RunOp(&PartitionTeardown{})
}

// RequestTiles marks tiles in use.
func (d *Device) RequestTiles(locs ...Loc) error {
	return d.RunOp(&RequestTiles{Locs: locs})
}

// ReleaseTiles marks tiles unused.
func (d *Device) ReleaseTiles(locs ...Loc) error {
	return d.RunOp(&ReleaseTiles{Locs: locs})
}

// MemAllocate allocates DMA-capable memory.
func (d *Device) MemAllocate(size uint64, cache CacheProp) (*MemInst, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: zero size allocation", ErrInvalidArgs)
	}
	b, err := d.backend()
	if err != nil {
		return nil, err
	}
	return b.MemAllocate(size, cache)
}

// owned returns the backend if m belongs to it.
func (d *Device) owned(m *MemInst) (Backend, error) {
	b, err := d.backend()
	if err != nil {
		return nil, err
	}
	if m == nil || m.Owner != b {
		return nil, fmt.Errorf("%w: memory instance not owned by this device", ErrInvalidArgs)
	}
	return b, nil
}

// MemFree releases memory returned by MemAllocate.
func (d *Device) MemFree(m *MemInst) error {
	b, err := d.owned(m)
	if err != nil {
		return err
	}
	return b.MemFree(m)
}

// MemSyncForCPU makes device writes visible to the CPU.
func (d *Device) MemSyncForCPU(m *MemInst) error {
	b, err := d.owned(m)
	if err != nil {
		return err
	}
	return b.MemSyncForCPU(m)
}

// MemSyncForDevice makes CPU writes visible to the device.
func (d *Device) MemSyncForDevice(m *MemInst) error {
	b, err := d.owned(m)
	if err != nil {
		return err
	}
	return b.MemSyncForDevice(m)
}

// MemAttach imports an external buffer. The returned instance is owned by
// the device until MemDetach.
func (d *Device) MemAttach(handle uint64, size uint64, cache CacheProp) (*MemInst, error) {
	b, err := d.backend()
	if err != nil {
		return nil, err
	}
	m := &MemInst{Size: size, Cache: cache, Owner: b}
	if err := b.MemAttach(m, handle); err != nil {
		return nil, err
	}
	return m, nil
}

// MemDetach releases a buffer imported by MemAttach.
func (d *Device) MemDetach(m *MemInst) error {
	b, err := d.owned(m)
	if err != nil {
		return err
	}
	return b.MemDetach(m)
}
