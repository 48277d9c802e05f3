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

import "unsafe"

// IonPath is the default ION allocator device.
const IonPath = "/dev/ion"

// IonIoctlMagic is the ioctl type used by the ION allocator.
const IonIoctlMagic = 'I'

// ION heap types.
const (
	ION_HEAP_TYPE_SYSTEM        = 0
	ION_HEAP_TYPE_SYSTEM_CONTIG = 1
	ION_HEAP_TYPE_CARVEOUT      = 2
	ION_HEAP_TYPE_CHUNK         = 3
	ION_HEAP_TYPE_DMA           = 4
)

// ION allocation flags.
const (
	ION_FLAG_CACHED = 1
)

// IonHeapData describes one heap returned by HEAP_QUERY.
type IonHeapData struct {
	Name      [32]byte
	Type      uint32
	HeapID    uint32
	Reserved0 uint32
	Reserved1 uint32
	Reserved2 uint32
}

// IonHeapQuery is the argument of HEAP_QUERY. A zero Heaps pointer asks
// only for the count.
type IonHeapQuery struct {
	Cnt       uint32
	Reserved0 uint32
	Heaps     uint64 // *IonHeapData
	Reserved1 uint32
	Reserved2 uint32
}

// IonAllocationData is the argument of ALLOC. The kernel returns the
// dma-buf fd in FD.
type IonAllocationData struct {
	Len        uint64
	HeapIDMask uint32
	Flags      uint32
	FD         uint32
	Unused     uint32
}

// ION ioctls.
var (
	ION_IOC_ALLOC      = IOWR(IonIoctlMagic, 0, uint32(unsafe.Sizeof(IonAllocationData{})))
	ION_IOC_HEAP_QUERY = IOWR(IonIoctlMagic, 8, uint32(unsafe.Sizeof(IonHeapQuery{})))
)

// DmaBufSync is the argument of DMA_BUF_IOCTL_SYNC.
type DmaBufSync struct {
	Flags uint64
}

// dma-buf sync flags.
const (
	DMA_BUF_SYNC_READ  = 1 << 0
	DMA_BUF_SYNC_WRITE = 2 << 0
	DMA_BUF_SYNC_RW    = DMA_BUF_SYNC_READ | DMA_BUF_SYNC_WRITE
	DMA_BUF_SYNC_START = 0 << 2
	DMA_BUF_SYNC_END   = 1 << 2
)

// DMA_BUF_IOCTL_SYNC brackets CPU access to a dma-buf.
var DMA_BUF_IOCTL_SYNC = IOW('b', 0, uint32(unsafe.Sizeof(DmaBufSync{})))
