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

// Package metal implements the backend over a libmetal style device. The
// partition registers are region 0 of the main device; an optional second
// device exposes the NPI registers.
package metal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/aie/iocommon"
	"aieio.dev/aieio/pkg/aie/npi"
	"aieio.dev/aieio/pkg/aie/privilege"
	"aieio.dev/aieio/pkg/aie/rsc"
	"aieio.dev/aieio/pkg/bitmap"
	"aieio.dev/aieio/pkg/cleanup"
	"aieio.dev/aieio/pkg/log"
	"aieio.dev/aieio/pkg/metal"
)

func init() {
	aie.Register(aie.BackendMetal, func(cfg *aie.Config) (aie.Backend, error) {
		return New(cfg)
	})
}

// numShmIDs is the number of shared memory segments a backend can have
// allocated at once.
const numShmIDs = 512

// Backend accesses registers through metal IO regions.
type Backend struct {
	cfg  *aie.Config
	dev  *metal.Device
	regs *metal.IORegion

	// npiDev and npi are nil when the NPI device could not be opened.
	npiDev *metal.Device
	npi    *metal.IORegion

	// mu protects ids.
	mu  sync.Mutex
	ids bitmap.Bitmap

	tiles *rsc.TileMap
	rsc   *rsc.Manager
}

// shmHandle is the attachment state of a memory instance.
type shmHandle struct {
	// id is the shared memory id, or -1 for an imported buffer.
	id  int
	shm *metal.Shmem
	sg  *metal.ScatterList
}

// New opens the configured devices on the Linux bus.
func New(cfg *aie.Config) (*Backend, error) {
	bus, err := metal.NewLinuxBus(cfg.Metal.Bus)
	if err != nil {
		log.Warningf("Failed to open metal bus %q: %v", cfg.Metal.Bus, err)
		return nil, aie.HardwareError("open bus "+cfg.Metal.Bus, 0, err)
	}
	return NewWithBus(cfg, bus)
}

// NewWithBus opens the configured devices on bus. A missing NPI device is
// not an error; NPI operations fail instead.
func NewWithBus(cfg *aie.Config, bus metal.Bus) (*Backend, error) {
	dev, err := metal.Open(bus, cfg.Metal.Device)
	if err != nil {
		log.Warningf("Failed to open AI Engine device: %v", err)
		return nil, aie.HardwareError("open device "+cfg.Metal.Device, 0, err)
	}
	cu := cleanup.Make(func() { dev.Close() })
	defer cu.Clean()

	regs := dev.Region(0)
	if regs == nil || regs.Size() < cfg.PartitionSize() {
		log.Warningf("Device %s does not cover the partition", cfg.Metal.Device)
		return nil, fmt.Errorf("device %s: no region of %#x bytes: %w", cfg.Metal.Device, cfg.PartitionSize(), aie.ErrHardware)
	}

	var npiDev *metal.Device
	if name := cfg.Metal.NpiDevice; name != "" {
		npiDev, err = metal.Open(bus, name)
		if err != nil {
			log.Infof("NPI device unavailable, NPI operations disabled: %v", err)
			npiDev = nil
		} else if npiDev.Region(0) == nil {
			log.Infof("NPI device %s has no registers, NPI operations disabled", name)
			npiDev.Close()
			npiDev = nil
		}
	}
	cu.Release()
	return newBackend(cfg, dev, npiDev), nil
}

// NewShared returns a backend over devices opened elsewhere. It takes a
// reference on each device; npiDev may be nil.
func NewShared(cfg *aie.Config, dev, npiDev *metal.Device) *Backend {
	dev.IncRef()
	if npiDev != nil {
		npiDev.IncRef()
	}
	return newBackend(cfg, dev, npiDev)
}

func newBackend(cfg *aie.Config, dev, npiDev *metal.Device) *Backend {
	b := &Backend{
		cfg:    cfg,
		dev:    dev,
		regs:   dev.Region(0),
		npiDev: npiDev,
		ids:    bitmap.New(numShmIDs),
		tiles:  rsc.NewTileMap(cfg),
		rsc:    rsc.NewManager(cfg),
	}
	if npiDev != nil {
		b.npi = npiDev.Region(0)
	}
	return b
}

// Devices returns the main and NPI devices, for sharing with NewShared.
func (b *Backend) Devices() (*metal.Device, *metal.Device) {
	return b.dev, b.npiDev
}

// Type implements aie.Backend.Type.
func (b *Backend) Type() aie.BackendType {
	return aie.BackendMetal
}

// Finish implements aie.Backend.Finish.
func (b *Backend) Finish() error {
	b.mu.Lock()
	if n := b.ids.GetNumOnes(); n != 0 {
		log.Warningf("Metal backend finished with %d shared memory segments allocated", n)
	}
	b.mu.Unlock()
	var err error
	if b.npiDev != nil {
		err = b.npiDev.Close()
	}
	if derr := b.dev.Close(); err == nil {
		err = derr
	}
	return err
}

func (b *Backend) ioErr(op string, off uint64, err error) error {
	if err == nil {
		return nil
	}
	log.Warningf("Metal %s at %#x failed: %v", op, off, err)
	if errors.Is(err, metal.ErrRange) {
		return fmt.Errorf("%s at %#x: %w: %w", op, off, err, aie.ErrInvalidArgs)
	}
	return aie.HardwareError(op, off, err)
}

// Read32 implements aie.Backend.Read32.
func (b *Backend) Read32(off uint64) (uint32, error) {
	v, err := b.regs.Read32(off)
	return v, b.ioErr("read", off, err)
}

// Write32 implements aie.Backend.Write32.
func (b *Backend) Write32(off uint64, v uint32) error {
	return b.ioErr("write", off, b.regs.Write32(off, v))
}

// MaskWrite32 implements aie.Backend.MaskWrite32.
func (b *Backend) MaskWrite32(off uint64, mask, v uint32) error {
	cur, err := b.Read32(off)
	if err != nil {
		return err
	}
	return b.Write32(off, cur&^mask|v&mask)
}

// MaskPoll implements aie.Backend.MaskPoll.
func (b *Backend) MaskPoll(off uint64, mask, v uint32, timeout time.Duration) error {
	return iocommon.MaskPoll(func() (uint32, error) { return b.Read32(off) }, mask, v, timeout)
}

// BlockWrite32 implements aie.Backend.BlockWrite32.
func (b *Backend) BlockWrite32(off uint64, data []uint32) error {
	return b.ioErr("block write", off, b.regs.BlockWrite32(off, data))
}

// BlockSet32 implements aie.Backend.BlockSet32.
func (b *Backend) BlockSet32(off uint64, v uint32, count int) error {
	return b.ioErr("block set", off, b.regs.BlockSet32(off, v, count))
}

// CmdWrite implements aie.Backend.CmdWrite.
func (b *Backend) CmdWrite(col, row, cmd uint8, wd0, wd1 uint32, s string) error {
	return aie.NotSupported(aie.BackendMetal, "cmd write")
}

// RunOp implements aie.Backend.RunOp.
func (b *Backend) RunOp(op aie.Op) error {
	switch o := op.(type) {
	case *aie.NpiWrite32, *aie.NpiMaskWrite32, *aie.NpiRead32, *aie.NpiMaskPoll, *aie.NpiIrq, *aie.AssertShimReset, *aie.SetProtectedReg:
		if b.npi == nil {
			log.Debugf("No NPI device for %s", op.OpName())
			return aie.UnsupportedOp(aie.BackendMetal, op)
		}
		_, err := npi.RunOp(b.npi, b.cfg, op)
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
	return aie.UnsupportedOp(aie.BackendMetal, op)
}

func (b *Backend) shmName(id uint32) string {
	prefix := b.cfg.Metal.ShmPrefix
	if prefix == "" {
		prefix = "aie"
	}
	return fmt.Sprintf("%s_%d", prefix, id)
}

// MemAllocate implements aie.Backend.MemAllocate. Each allocation is a
// shared memory segment named after the first free id.
func (b *Backend) MemAllocate(size uint64, cache aie.CacheProp) (*aie.MemInst, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: zero sized allocation", aie.ErrInvalidArgs)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id, err := b.ids.FirstZero(0)
	if err != nil {
		log.Warningf("All %d shared memory ids in use", numShmIDs)
		return nil, fmt.Errorf("shared memory ids exhausted: %w", aie.ErrHardware)
	}
	name := b.shmName(id)
	shm, err := b.dev.Bus().OpenShmem(name, size)
	if err != nil {
		log.Warningf("Failed to open shared memory %s: %v", name, err)
		return nil, aie.HardwareError("open shared memory "+name, 0, err)
	}
	cu := cleanup.Make(func() { shm.Close() })
	defer cu.Clean()

	sg, err := shm.Attach(b.dev, metal.DirBidirectional)
	if err != nil {
		log.Warningf("Failed to attach shared memory %s: %v", name, err)
		return nil, aie.HardwareError("attach shared memory "+name, 0, err)
	}
	if err := b.ids.Add(id); err != nil {
		shm.Detach(b.dev, sg)
		return nil, fmt.Errorf("shared memory id %d: %v: %w", id, err, aie.ErrHardware)
	}
	cu.Release()
	log.Debugf("Allocated %s, %#x bytes at %#x", name, size, sg.DevAddr())
	return &aie.MemInst{
		VAddr:   shm.Mem,
		DevAddr: sg.DevAddr(),
		Size:    size,
		Cache:   cache,
		Owner:   b,
		Handle:  &shmHandle{id: int(id), shm: shm, sg: sg},
	}, nil
}

func handleOf(m *aie.MemInst) (*shmHandle, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil memory instance", aie.ErrInvalidArgs)
	}
	h, ok := m.Handle.(*shmHandle)
	if !ok || h == nil {
		return nil, fmt.Errorf("%w: memory instance not attached to a metal backend", aie.ErrInvalidArgs)
	}
	return h, nil
}

// release detaches and closes the segment of h.
func (b *Backend) release(h *shmHandle) error {
	err := h.shm.Detach(b.dev, h.sg)
	if cerr := h.shm.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Warningf("Failed to release %s: %v", h.shm.Name, err)
		return aie.HardwareError("release "+h.shm.Name, 0, err)
	}
	return nil
}

// MemFree implements aie.Backend.MemFree.
func (b *Backend) MemFree(m *aie.MemInst) error {
	h, err := handleOf(m)
	if err != nil {
		return err
	}
	if h.id < 0 {
		return fmt.Errorf("%w: imported memory is released with MemDetach", aie.ErrInvalidArgs)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.release(h)
	b.ids.Remove(uint32(h.id))
	m.Handle = nil
	m.VAddr = nil
	return err
}

func (b *Backend) sync(m *aie.MemInst, forDevice bool) error {
	h, err := handleOf(m)
	if err != nil {
		return err
	}
	if m.Cache != aie.MemCacheable {
		return nil
	}
	if err := h.shm.Sync(forDevice); err != nil {
		log.Warningf("Failed to sync %s: %v", h.shm.Name, err)
		return aie.HardwareError("sync "+h.shm.Name, 0, err)
	}
	return nil
}

// MemSyncForCPU implements aie.Backend.MemSyncForCPU.
func (b *Backend) MemSyncForCPU(m *aie.MemInst) error {
	return b.sync(m, false)
}

// MemSyncForDevice implements aie.Backend.MemSyncForDevice.
func (b *Backend) MemSyncForDevice(m *aie.MemInst) error {
	return b.sync(m, true)
}

// MemAttach implements aie.Backend.MemAttach. handle is a dma-buf
// descriptor; m.Size must be set and m.VAddr may hold an existing mapping.
func (b *Backend) MemAttach(m *aie.MemInst, handle uint64) error {
	if m == nil || m.Size == 0 {
		return fmt.Errorf("%w: memory instance without size", aie.ErrInvalidArgs)
	}
	// The bus only hands out its shared memory ops through a segment, so
	// borrow them from a throwaway allocation.
	dummy, err := b.MemAllocate(1, aie.MemNonCacheable)
	if err != nil {
		return err
	}
	ops := dummy.Handle.(*shmHandle).shm.Ops()
	if err := b.MemFree(dummy); err != nil {
		return err
	}

	shm := metal.NewShmem(fmt.Sprintf("dmabuf_%d", handle), int(handle), m.Size, m.VAddr, ops)
	sg, err := shm.Attach(b.dev, metal.DirBidirectional)
	if err != nil {
		log.Warningf("Failed to attach dma-buf %d: %v", handle, err)
		return aie.HardwareError("attach dma-buf", 0, err)
	}
	m.VAddr = shm.Mem
	m.DevAddr = sg.DevAddr()
	m.Owner = b
	m.Handle = &shmHandle{id: -1, shm: shm, sg: sg}
	return nil
}

// MemDetach implements aie.Backend.MemDetach. The dma-buf stays open.
func (b *Backend) MemDetach(m *aie.MemInst) error {
	h, err := handleOf(m)
	if err != nil {
		return err
	}
	if h.id >= 0 {
		return fmt.Errorf("%w: allocated memory is released with MemFree", aie.ErrInvalidArgs)
	}
	if err := b.release(h); err != nil {
		return err
	}
	m.Handle = nil
	return nil
}

// GetTid implements aie.Backend.GetTid.
func (b *Backend) GetTid() uint64 {
	return iocommon.Tid()
}
