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

//go:build linux
// +build linux

// Package linux implements the backend for the AI Engine kernel driver. The
// partition is requested from the driver; registers are read through a
// read-only mapping and written through ioctls, and tile program and data
// memories are mapped for block transfers.
package linux

import (
	"fmt"
	"runtime"
	"time"
	"unsafe"

	abi "aieio.dev/aieio/pkg/abi/aie"
	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/aie/iocommon"
	"aieio.dev/aieio/pkg/cleanup"
	"aieio.dev/aieio/pkg/log"
	"golang.org/x/sys/unix"
)

func init() {
	aie.Register(aie.BackendLinux, func(cfg *aie.Config) (aie.Backend, error) {
		return New(cfg)
	})
}

// maxMems is the number of tile memories the driver exports: program and
// data memory.
const maxMems = 2

// Backend drives one partition through the kernel driver.
type Backend struct {
	cfg *aie.Config
	sys sysIface

	devFD  int32
	partFD int32

	// ownPart is set when the partition was requested by the backend and
	// is released with it.
	ownPart bool

	regs    []byte
	memFDs  []int32
	windows []window
}

// New opens the device and requests the partition described by cfg.
func New(cfg *aie.Config) (*Backend, error) {
	return newBackend(cfg, hostSys{})
}

func newBackend(cfg *aie.Config, sys sysIface) (*Backend, error) {
	b := &Backend{cfg: cfg, sys: sys, devFD: -1, partFD: -1}
	path := cfg.Linux.DevicePath
	if path == "" {
		path = abi.DevicePath
	}
	fd, err := sys.Open(path, unix.O_RDWR)
	if err != nil {
		log.Warningf("Failed to open AI Engine device %s: %v", path, err)
		return nil, aie.HardwareError("open "+path, 0, err)
	}
	b.devFD = fd
	cu := cleanup.Make(b.release)
	defer cu.Clean()

	if err := b.getPartition(); err != nil {
		return nil, err
	}
	if err := b.mapMemory(); err != nil {
		return nil, err
	}
	cu.Release()
	return b, nil
}

// release unmaps and closes everything the backend holds.
func (b *Backend) release() {
	for _, w := range b.windows {
		if w.mem != nil {
			b.sys.Munmap(w.mem)
		}
	}
	b.windows = nil
	for _, fd := range b.memFDs {
		b.sys.Close(fd)
	}
	b.memFDs = nil
	if b.regs != nil {
		b.sys.Munmap(b.regs)
		b.regs = nil
	}
	if b.ownPart && b.partFD >= 0 {
		b.sys.Close(b.partFD)
	}
	b.partFD = -1
	if b.devFD >= 0 {
		b.sys.Close(b.devFD)
		b.devFD = -1
	}
}

func (b *Backend) ioctl(what string, fd int32, cmd uint32, arg unsafe.Pointer) (uintptr, error) {
	n, err := b.sys.Ioctl(fd, cmd, arg)
	if err != nil {
		log.Warningf("AI Engine ioctl %s (%#x) failed: %v", what, cmd, err)
		return n, aie.HardwareError(what, 0, err)
	}
	return n, nil
}

// getPartition obtains the partition descriptor and maps the registers.
// Only a single partition is supported; a query reporting more fails
// before the partitions are enumerated.
func (b *Backend) getPartition() error {
	if b.cfg.PartitionFD >= 0 {
		b.partFD = int32(b.cfg.PartitionFD)
	} else {
		var q abi.PartitionQuery
		if _, err := b.ioctl("enquire partitions", b.devFD, abi.AIE_ENQUIRE_PART_IOCTL, unsafe.Pointer(&q)); err != nil {
			return err
		}
		switch {
		case q.PartitionCnt == 0:
			log.Warningf("No AI Engine partition available")
			return fmt.Errorf("enquire partitions: none available: %w", aie.ErrHardware)
		case q.PartitionCnt > 1:
			log.Warningf("%d AI Engine partitions available, only one is supported", q.PartitionCnt)
			return fmt.Errorf("%d partitions: %w", q.PartitionCnt, aie.ErrFeatureNotSupported)
		}
		log.Debugf("%d partitions available", q.PartitionCnt)

		parts := make([]abi.RangeArgs, q.PartitionCnt)
		q.Partitions = sliceAddr(parts)
		_, err := b.ioctl("enquire partitions", b.devFD, abi.AIE_ENQUIRE_PART_IOCTL, unsafe.Pointer(&q))
		runtime.KeepAlive(parts)
		if err != nil {
			return err
		}
		id := parts[0].PartitionID
		if b.cfg.PartitionID != 0 && b.cfg.PartitionID != id {
			return fmt.Errorf("%w: partition %d requested, driver offers %d", aie.ErrInvalidArgs, b.cfg.PartitionID, id)
		}

		req := abi.PartitionReq{PartitionID: id, Flag: b.cfg.PartitionFlags}
		fd, err := b.ioctl("request partition", b.devFD, abi.AIE_REQUEST_PART_IOCTL, unsafe.Pointer(&req))
		if err != nil {
			return err
		}
		b.partFD = int32(fd)
		b.ownPart = true
		log.Debugf("Partition %d granted, fd %d", id, fd)
	}

	size := b.cfg.PartitionSize()
	regs, err := b.sys.Mmap(b.partFD, size, unix.PROT_READ)
	if err != nil {
		log.Warningf("Failed to map %#x bytes of registers: %v", size, err)
		return aie.HardwareError("map registers", 0, err)
	}
	b.regs = regs
	return nil
}

// mapMemory maps the program and data memories exported by the driver.
func (b *Backend) mapMemory() error {
	var args abi.MemArgs
	if _, err := b.ioctl("get memories", b.partFD, abi.AIE_GET_MEM_IOCTL, unsafe.Pointer(&args)); err != nil {
		return err
	}
	if args.NumMems > maxMems {
		log.Warningf("Driver reports %d memories", args.NumMems)
		return fmt.Errorf("get memories: %d memories: %w", args.NumMems, aie.ErrHardware)
	}
	mems := make([]abi.Mem, args.NumMems)
	args.Mems = sliceAddr(mems)
	_, err := b.ioctl("get memories", b.partFD, abi.AIE_GET_MEM_IOCTL, unsafe.Pointer(&args))
	runtime.KeepAlive(mems)
	if err != nil {
		return err
	}
	for _, m := range mems {
		b.memFDs = append(b.memFDs, m.FD)
	}

	l := &b.cfg.Layout
	for _, m := range mems {
		var w window
		switch m.Offset {
		case l.ProgMemHostOffset:
			w = window{base: l.ProgMemHostOffset, size: l.ProgMemSize}
		case l.DataMemAddr:
			w = window{base: l.DataMemAddr, size: l.DataMemSize}
		default:
			log.Warningf("Memory at offset %#x is not a tile memory", m.Offset)
			return fmt.Errorf("%w: memory offset %#x", aie.ErrHardware, m.Offset)
		}
		size := m.Size * uint64(m.Range.Size.Col) * uint64(m.Range.Size.Row)
		mem, err := b.sys.Mmap(m.FD, size, unix.PROT_READ|unix.PROT_WRITE)
		if err != nil {
			log.Warningf("Failed to map memory at offset %#x: %v", m.Offset, err)
			return aie.HardwareError("map memory", m.Offset, err)
		}
		w.mem = mem
		b.windows = append(b.windows, w)
		log.Debugf("Memory at offset %#x mapped, %#x bytes", m.Offset, size)
	}
	return nil
}

// Type implements aie.Backend.Type.
func (b *Backend) Type() aie.BackendType {
	return aie.BackendLinux
}

// Finish implements aie.Backend.Finish.
func (b *Backend) Finish() error {
	b.release()
	return nil
}

// Read32 implements aie.Backend.Read32.
func (b *Backend) Read32(off uint64) (uint32, error) {
	if off%4 != 0 || off+4 > uint64(len(b.regs)) {
		return 0, fmt.Errorf("%w: register %#x outside the partition", aie.ErrInvalidArgs, off)
	}
	return loadWord(b.regs, off), nil
}

func (b *Backend) regWrite(off uint64, mask, v uint32) error {
	args := abi.RegArgs{Op: abi.RegOpWrite, Mask: mask, Offset: off, Val: v}
	if _, err := b.sys.Ioctl(b.partFD, abi.AIE_REG_IOCTL, unsafe.Pointer(&args)); err != nil {
		log.Warningf("Register write at %#x failed: %v", off, err)
		return aie.HardwareError("register write", off, err)
	}
	return nil
}

// Write32 implements aie.Backend.Write32.
func (b *Backend) Write32(off uint64, v uint32) error {
	return b.regWrite(off, 0, v)
}

// MaskWrite32 implements aie.Backend.MaskWrite32.
func (b *Backend) MaskWrite32(off uint64, mask, v uint32) error {
	return b.regWrite(off, mask, v)
}

// MaskPoll implements aie.Backend.MaskPoll.
func (b *Backend) MaskPoll(off uint64, mask, v uint32, timeout time.Duration) error {
	return iocommon.MaskPoll(func() (uint32, error) { return b.Read32(off) }, mask, v, timeout)
}

// VirtAddr returns the mapped tile memory behind words registers at off, or
// nil if the range is not mapped.
func (b *Backend) VirtAddr(off uint64, words int) []byte {
	return tileMem(b.cfg, b.windows, off, words)
}

// BlockWrite32 implements aie.Backend.BlockWrite32.
func (b *Backend) BlockWrite32(off uint64, data []uint32) error {
	if mem := b.VirtAddr(off, len(data)); mem != nil {
		CopyWords(mem, data)
		return nil
	}
	for i, v := range data {
		if err := b.Write32(off+uint64(i)*4, v); err != nil {
			return err
		}
	}
	return nil
}

// BlockSet32 implements aie.Backend.BlockSet32.
func (b *Backend) BlockSet32(off uint64, v uint32, count int) error {
	if mem := b.VirtAddr(off, count); mem != nil {
		SetWords(mem, v, count)
		return nil
	}
	for i := 0; i < count; i++ {
		if err := b.Write32(off+uint64(i)*4, v); err != nil {
			return err
		}
	}
	return nil
}

// CmdWrite implements aie.Backend.CmdWrite.
func (b *Backend) CmdWrite(col, row, cmd uint8, wd0, wd1 uint32, s string) error {
	return aie.NotSupported(aie.BackendLinux, "cmd write")
}

// RunOp implements aie.Backend.RunOp.
func (b *Backend) RunOp(op aie.Op) error {
	switch o := op.(type) {
	case *aie.ConfigShimDmaBd:
		return b.configShimDmaBd(o)
	case *aie.RequestTiles:
		return b.tiles("request tiles", abi.AIE_REQUEST_TILES_IOCTL, o.Locs)
	case *aie.ReleaseTiles:
		return b.tiles("release tiles", abi.AIE_RELEASE_TILES_IOCTL, o.Locs)
	case *aie.RequestResource:
		return b.requestRsc(o.Req)
	case *aie.RequestAllocatedResource:
		return b.requestAllocatedRsc(o.Req)
	case *aie.ReleaseResource:
		return b.putRsc("release resource", abi.AIE_RSC_RELEASE_IOCTL, o.Req)
	case *aie.FreeResource:
		return b.putRsc("free resource", abi.AIE_RSC_FREE_IOCTL, o.Req)
	}
	log.Debugf("Linux backend does not support %s", op.OpName())
	return aie.UnsupportedOp(aie.BackendLinux, op)
}

func location(l aie.Loc) abi.Location {
	return abi.Location{Col: uint32(l.Col), Row: uint32(l.Row)}
}

func (b *Backend) configShimDmaBd(o *aie.ConfigShimDmaBd) error {
	if len(o.BdWords) == 0 {
		return fmt.Errorf("%w: empty buffer descriptor", aie.ErrInvalidArgs)
	}
	var err error
	if o.Mem == nil {
		args := abi.DmaBdArgs{
			Bd:     sliceAddr(o.BdWords),
			DataVA: o.VAddr,
			Loc:    location(o.Loc),
			BdID:   uint32(o.BdNum),
		}
		_, err = b.ioctl("set shim DMA BD", b.partFD, abi.AIE_SET_SHIMDMA_BD_IOCTL, unsafe.Pointer(&args))
	} else {
		h, ok := o.Mem.Handle.(*memHandle)
		if !ok || h == nil {
			log.Warningf("Shim DMA BD %d: memory instance has no dma-buf", o.BdNum)
			return fmt.Errorf("%w: memory instance without dma-buf", aie.ErrInvalidArgs)
		}
		args := abi.DmaBufBdArgs{
			Bd:    sliceAddr(o.BdWords),
			Loc:   location(o.Loc),
			BufFD: h.fd,
			BdID:  uint32(o.BdNum),
		}
		_, err = b.ioctl("set shim DMA dma-buf BD", b.partFD, abi.AIE_SET_SHIMDMA_DMABUF_BD_IOCTL, unsafe.Pointer(&args))
	}
	runtime.KeepAlive(o.BdWords)
	return err
}

func (b *Backend) tiles(what string, cmd uint32, locs []aie.Loc) error {
	arr := make([]abi.Location, len(locs))
	for i, l := range locs {
		arr[i] = location(l)
	}
	args := abi.TilesArray{Locs: sliceAddr(arr), NumTiles: uint32(len(arr))}
	_, err := b.ioctl(what, b.partFD, cmd, unsafe.Pointer(&args))
	runtime.KeepAlive(arr)
	return err
}

func rscFromABI(r abi.Rsc) aie.Resource {
	return aie.Resource{
		Loc:  aie.Loc{Col: uint8(r.Loc.Col), Row: uint8(r.Loc.Row)},
		Mod:  aie.ModuleType(r.Mod),
		Type: aie.RscType(r.Type),
		ID:   r.ID,
	}
}

func rscToABI(r aie.Resource) abi.Rsc {
	return abi.Rsc{Loc: location(r.Loc), Mod: uint32(r.Mod), Type: uint32(r.Type), ID: r.ID}
}

func checkRsc(req *aie.ResourceRequest) error {
	if req == nil {
		return fmt.Errorf("%w: nil resource request", aie.ErrInvalidArgs)
	}
	return nil
}

func (b *Backend) requestRsc(req *aie.ResourceRequest) error {
	if err := checkRsc(req); err != nil {
		return err
	}
	if req.Type == aie.RscBcastChannel {
		return b.requestBroadcast(req, true)
	}
	if req.NumPerTile == 0 {
		return fmt.Errorf("%w: zero resources requested", aie.ErrInvalidArgs)
	}
	rscs := make([]abi.Rsc, req.NumPerTile)
	var flag uint8
	if req.Flags&aie.RscFlagContiguous != 0 {
		flag = abi.RscFlagContiguous
	}
	args := abi.RscReqRsp{
		Req: abi.RscReq{
			Loc:     location(req.Loc),
			Mod:     uint32(req.Mod),
			Type:    uint32(req.Type),
			NumRscs: req.NumPerTile,
			Flag:    flag,
		},
		Rscs: sliceAddr(rscs),
	}
	_, err := b.ioctl("request resource", b.partFD, abi.AIE_RSC_REQ_IOCTL, unsafe.Pointer(&args))
	runtime.KeepAlive(rscs)
	if err != nil {
		return err
	}
	for _, r := range rscs {
		req.Granted = append(req.Granted, rscFromABI(r))
	}
	return nil
}

func (b *Backend) requestAllocatedRsc(req *aie.ResourceRequest) error {
	if err := checkRsc(req); err != nil {
		return err
	}
	if req.Type == aie.RscBcastChannel {
		return b.requestBroadcast(req, false)
	}
	r := aie.Resource{Loc: req.Loc, Mod: req.Mod, Type: req.Type, ID: req.ID}
	args := rscToABI(r)
	if _, err := b.ioctl("request specific resource", b.partFD, abi.AIE_RSC_REQ_SPECIFIC_IOCTL, unsafe.Pointer(&args)); err != nil {
		return err
	}
	req.Granted = append(req.Granted, r)
	return nil
}

// requestBroadcast asks the driver for a broadcast channel common to the
// tiles of req, either any free channel or channel req.ID.
func (b *Backend) requestBroadcast(req *aie.ResourceRequest, anyID bool) error {
	var rscs []abi.Rsc
	switch {
	case req.Flags&aie.RscFlagBroadcastAll != 0:
		// The driver fills one entry per module of the partition.
		rscs = make([]abi.Rsc, 2*int(b.cfg.NumCols)*int(b.cfg.NumRows))
	case len(req.Tiles) > 0:
		for _, t := range req.Tiles {
			rscs = append(rscs, rscToABI(aie.Resource{Loc: t.Loc, Mod: t.Mod, Type: aie.RscBcastChannel}))
		}
	default:
		rscs = []abi.Rsc{rscToABI(aie.Resource{Loc: req.Loc, Mod: req.Mod, Type: aie.RscBcastChannel})}
	}
	args := abi.RscBcReq{
		Rscs:    sliceAddr(rscs),
		NumRscs: uint32(len(rscs)),
		ID:      req.ID,
	}
	if req.Flags&aie.RscFlagBroadcastAll != 0 {
		args.Flag = abi.RscBcFlagAll
	}
	if anyID {
		args.ID = abi.RscIDAny
	}
	_, err := b.ioctl("request broadcast channel", b.partFD, abi.AIE_RSC_GET_COMMON_BROADCAST_IOCTL, unsafe.Pointer(&args))
	runtime.KeepAlive(rscs)
	if err != nil {
		return err
	}
	if int(args.NumRscs) > len(rscs) {
		return fmt.Errorf("request broadcast channel: %d resources returned for %d: %w", args.NumRscs, len(rscs), aie.ErrHardware)
	}
	for _, r := range rscs[:args.NumRscs] {
		g := rscFromABI(r)
		g.Type = aie.RscBcastChannel
		req.Granted = append(req.Granted, g)
	}
	return nil
}

// putRsc returns the resources named by req: its Tiles when set, otherwise
// req.ID in req.Loc.
func (b *Backend) putRsc(what string, cmd uint32, req *aie.ResourceRequest) error {
	if err := checkRsc(req); err != nil {
		return err
	}
	rs := req.Tiles
	if len(rs) == 0 {
		rs = []aie.Resource{{Loc: req.Loc, Mod: req.Mod, Type: req.Type, ID: req.ID}}
	}
	for _, r := range rs {
		args := rscToABI(r)
		if _, err := b.ioctl(what, b.partFD, cmd, unsafe.Pointer(&args)); err != nil {
			return err
		}
	}
	return nil
}

// GetTid implements aie.Backend.GetTid.
func (b *Backend) GetTid() uint64 {
	return iocommon.Tid()
}

// SubmitTxn implements aie.TxnSubmitter.SubmitTxn. The driver executes the
// commands in order.
func (b *Backend) SubmitTxn(txn *aie.Txn) error {
	if txn == nil || len(txn.Cmds) == 0 {
		return nil
	}
	cmds := make([]abi.TxnCmd, len(txn.Cmds))
	for i, c := range txn.Cmds {
		k := abi.TxnCmd{RegOff: c.RegOff, Mask: c.Mask, Value: c.Value}
		switch c.Op {
		case aie.TxnWrite:
			k.Opcode = abi.TxnOpWrite
		case aie.TxnMaskWrite:
			k.Opcode = abi.TxnOpMaskWrite
		case aie.TxnMaskPoll:
			k.Opcode = abi.TxnOpMaskPoll
			k.Size = uint32(c.Timeout / time.Microsecond)
		case aie.TxnBlockWrite:
			k.Opcode = abi.TxnOpBlockWrite
			k.DataPtr = sliceAddr(c.Data)
			k.Size = uint32(len(c.Data))
		case aie.TxnBlockSet:
			k.Opcode = abi.TxnOpBlockSet
			k.Size = uint32(c.Count)
		default:
			return fmt.Errorf("%w: transaction opcode %v", aie.ErrInvalidArgs, c.Op)
		}
		cmds[i] = k
	}
	args := abi.TxnInst{NumCmds: uint32(len(cmds)), CmdsPtr: sliceAddr(cmds)}
	_, err := b.ioctl("submit transaction", b.partFD, abi.AIE_TRANSACTION_IOCTL, unsafe.Pointer(&args))
	runtime.KeepAlive(cmds)
	runtime.KeepAlive(txn)
	return err
}
