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

// Package aie defines the user-visible ABI of the AI Engine partition
// character device and the allocators it is used with (ION, dma-buf).
//
// Structure layouts follow the paired kernel header. Pointers embedded in
// argument structures are carried as uint64 user virtual addresses.
package aie

import "unsafe"

// DevicePath is the default AI Engine character device.
const DevicePath = "/dev/aie0"

// IoctlBase is the ioctl type used by the AI Engine driver.
const IoctlBase = 'A'

// Location is a tile location in the kernel ABI.
type Location struct {
	Col uint32
	Row uint32
}

// Range is a rectangular range of tiles.
type Range struct {
	Start Location
	Size  Location
}

// RangeArgs describes one partition returned by ENQUIRE_PART.
type RangeArgs struct {
	PartitionID uint32
	UID         uint32
	Range       Range
	Status      uint32
}

// PartitionQuery is the argument of ENQUIRE_PART. A nil Partitions pointer
// asks only for the count.
type PartitionQuery struct {
	Partitions   uint64 // *RangeArgs
	PartitionCnt uint32
	_            uint32
}

// PartitionReq is the argument of REQUEST_PART.
type PartitionReq struct {
	PartitionID uint32
	UID         uint32
	MetaData    uint64
	Flag        uint32
	_           uint32
}

// RegOp selects the register ioctl operation.
type RegOp uint32

// Register ioctl operations.
const (
	RegOpWrite      RegOp = 0
	RegOpBlockWrite RegOp = 1
	RegOpBlockSet   RegOp = 2
)

// RegArgs is the argument of REG. A zero Mask performs an unconditional write.
type RegArgs struct {
	Op      RegOp
	Mask    uint32
	Offset  uint64
	Val     uint32
	_       uint32
	DataPtr uint64
	Len     uint32
	_       uint32
}

// Mem describes one memory region of the partition.
type Mem struct {
	Range  Range
	Offset uint64
	Size   uint64
	FD     int32
	_      uint32
}

// MemArgs is the argument of GET_MEM. A nil Mems pointer asks only for the
// count.
type MemArgs struct {
	NumMems uint32
	_       uint32
	Mems    uint64 // *Mem
}

// DmaBdArgs is the argument of SET_SHIMDMA_BD.
type DmaBdArgs struct {
	Bd     uint64 // *uint32
	DataVA uint64
	Loc    Location
	BdID   uint32
	_      uint32
}

// DmaBufBdArgs is the argument of SET_SHIMDMA_DMABUF_BD.
type DmaBufBdArgs struct {
	Bd    uint64 // *uint32
	Loc   Location
	BufFD int32
	BdID  uint32
}

// TilesArray is the argument of REQUEST_TILES and RELEASE_TILES. A zero
// NumTiles applies to the whole partition.
type TilesArray struct {
	Locs     uint64 // *Location
	NumTiles uint32
	_        uint32
}

// RscReq is a resource request.
type RscReq struct {
	Loc     Location
	Mod     uint32
	Type    uint32
	NumRscs uint32
	Flag    uint8
	_       [3]uint8
}

// Rsc identifies one resource.
type Rsc struct {
	Loc  Location
	Mod  uint32
	Type uint32
	ID   uint32
	_    uint32
}

// RscReqRsp is the argument of RSC_REQ. The kernel writes up to NumRscs
// granted resources into Rscs.
type RscReqRsp struct {
	Req  RscReq
	_    uint32
	Rscs uint64 // *Rsc
}

// RscBcReq is the argument of RSC_GET_COMMON_BROADCAST.
type RscBcReq struct {
	Rscs    uint64 // *Rsc
	NumRscs uint32
	Flag    uint32
	ID      uint32
	_       uint32
}

// Resource flags.
const (
	// RscFlagContiguous requests contiguous resource ids.
	RscFlagContiguous = 1 << 0

	// RscBcFlagAll requests a broadcast channel free in the whole
	// partition.
	RscBcFlagAll = 1 << 0

	// RscIDAny asks the kernel for any free broadcast channel.
	RscIDAny = 0xFFFFFFFF
)

// TxnCmd is one command of a transaction.
type TxnCmd struct {
	Opcode  uint32
	Mask    uint32
	RegOff  uint64
	Value   uint32
	Size    uint32
	DataPtr uint64
}

// Transaction opcodes.
const (
	TxnOpWrite uint32 = iota
	TxnOpBlockWrite
	TxnOpBlockSet
	TxnOpMaskWrite
	TxnOpMaskPoll
)

// TxnInst is the argument of TRANSACTION.
type TxnInst struct {
	NumCmds uint32
	_       uint32
	CmdsPtr uint64 // *TxnCmd
}

// AI Engine ioctls.
var (
	AIE_ENQUIRE_PART_IOCTL             = IOWR(IoctlBase, 0x1, uint32(unsafe.Sizeof(PartitionQuery{})))
	AIE_REQUEST_PART_IOCTL             = IOR(IoctlBase, 0x2, uint32(unsafe.Sizeof(PartitionReq{})))
	AIE_REG_IOCTL                      = IOWR(IoctlBase, 0x8, uint32(unsafe.Sizeof(RegArgs{})))
	AIE_GET_MEM_IOCTL                  = IOWR(IoctlBase, 0x9, uint32(unsafe.Sizeof(MemArgs{})))
	AIE_ATTACH_DMABUF_IOCTL            = IOR(IoctlBase, 0xa, 4)
	AIE_DETACH_DMABUF_IOCTL            = IOR(IoctlBase, 0xb, 4)
	AIE_SET_SHIMDMA_BD_IOCTL           = IOW(IoctlBase, 0xc, uint32(unsafe.Sizeof(DmaBdArgs{})))
	AIE_SET_SHIMDMA_DMABUF_BD_IOCTL    = IOW(IoctlBase, 0xd, uint32(unsafe.Sizeof(DmaBufBdArgs{})))
	AIE_REQUEST_TILES_IOCTL            = IOW(IoctlBase, 0xe, uint32(unsafe.Sizeof(TilesArray{})))
	AIE_RELEASE_TILES_IOCTL            = IOW(IoctlBase, 0xf, uint32(unsafe.Sizeof(TilesArray{})))
	AIE_TRANSACTION_IOCTL              = IOWR(IoctlBase, 0x10, uint32(unsafe.Sizeof(TxnInst{})))
	AIE_RSC_REQ_IOCTL                  = IOW(IoctlBase, 0x14, uint32(unsafe.Sizeof(RscReqRsp{})))
	AIE_RSC_REQ_SPECIFIC_IOCTL         = IOW(IoctlBase, 0x15, uint32(unsafe.Sizeof(Rsc{})))
	AIE_RSC_RELEASE_IOCTL              = IOW(IoctlBase, 0x16, uint32(unsafe.Sizeof(Rsc{})))
	AIE_RSC_FREE_IOCTL                 = IOW(IoctlBase, 0x17, uint32(unsafe.Sizeof(Rsc{})))
	AIE_RSC_GET_COMMON_BROADCAST_IOCTL = IOW(IoctlBase, 0x19, uint32(unsafe.Sizeof(RscBcReq{})))
)
