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

package linux

import (
	"fmt"
	"runtime"
	"unsafe"

	abi "aieio.dev/aieio/pkg/abi/aie"
	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/cleanup"
	"aieio.dev/aieio/pkg/log"
	"golang.org/x/sys/unix"
)

// memHandle is the attachment state of a memory instance.
type memHandle struct {
	// fd is the dma-buf attached to the partition.
	fd int32

	// external is set for imported buffers, whose descriptor belongs to
	// the caller.
	external bool
}

func handleOf(m *aie.MemInst) (*memHandle, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil memory instance", aie.ErrInvalidArgs)
	}
	h, ok := m.Handle.(*memHandle)
	if !ok || h == nil {
		return nil, fmt.Errorf("%w: memory instance not attached to a Linux backend", aie.ErrInvalidArgs)
	}
	return h, nil
}

// contigHeap returns the id of the first physically contiguous ION heap.
func (b *Backend) contigHeap(ionFD int32) (uint32, error) {
	var q abi.IonHeapQuery
	if _, err := b.ioctl("query ION heaps", ionFD, abi.ION_IOC_HEAP_QUERY, unsafe.Pointer(&q)); err != nil {
		return 0, err
	}
	heaps := make([]abi.IonHeapData, q.Cnt)
	q.Heaps = sliceAddr(heaps)
	_, err := b.ioctl("query ION heaps", ionFD, abi.ION_IOC_HEAP_QUERY, unsafe.Pointer(&q))
	runtime.KeepAlive(heaps)
	if err != nil {
		return 0, err
	}
	for _, h := range heaps[:min(int(q.Cnt), len(heaps))] {
		if h.Type == abi.ION_HEAP_TYPE_SYSTEM_CONTIG {
			return h.HeapID, nil
		}
	}
	log.Warningf("No contiguous ION heap among %d heaps", q.Cnt)
	return 0, fmt.Errorf("no contiguous ION heap: %w", aie.ErrHardware)
}

func (b *Backend) attach(fd int32) error {
	if _, err := b.sys.IoctlInt(b.partFD, abi.AIE_ATTACH_DMABUF_IOCTL, uintptr(fd)); err != nil {
		log.Warningf("Failed to attach dma-buf %d: %v", fd, err)
		return aie.HardwareError("attach dma-buf", 0, err)
	}
	return nil
}

func (b *Backend) detach(fd int32) error {
	if _, err := b.sys.IoctlInt(b.partFD, abi.AIE_DETACH_DMABUF_IOCTL, uintptr(fd)); err != nil {
		log.Warningf("Failed to detach dma-buf %d: %v", fd, err)
		return aie.HardwareError("detach dma-buf", 0, err)
	}
	return nil
}

// MemAllocate implements aie.Backend.MemAllocate. The buffer comes from the
// contiguous ION heap and is attached to the partition as a dma-buf.
func (b *Backend) MemAllocate(size uint64, cache aie.CacheProp) (*aie.MemInst, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: zero sized allocation", aie.ErrInvalidArgs)
	}
	path := b.cfg.Linux.IonPath
	if path == "" {
		path = abi.IonPath
	}
	ionFD, err := b.sys.Open(path, unix.O_RDONLY)
	if err != nil {
		log.Warningf("Failed to open %s: %v", path, err)
		return nil, aie.HardwareError("open "+path, 0, err)
	}
	defer b.sys.Close(ionFD)

	heap, err := b.contigHeap(ionFD)
	if err != nil {
		return nil, err
	}
	alloc := abi.IonAllocationData{Len: size, HeapIDMask: 1 << heap}
	if cache == aie.MemCacheable {
		alloc.Flags = abi.ION_FLAG_CACHED
	}
	if _, err := b.ioctl("allocate ION buffer", ionFD, abi.ION_IOC_ALLOC, unsafe.Pointer(&alloc)); err != nil {
		return nil, err
	}
	fd := int32(alloc.FD)
	cu := cleanup.Make(func() { b.sys.Close(fd) })
	defer cu.Clean()

	vaddr, err := b.sys.Mmap(fd, size, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		log.Warningf("Failed to map dma-buf %d: %v", fd, err)
		return nil, aie.HardwareError("map dma-buf", 0, err)
	}
	cu.Add(func() { b.sys.Munmap(vaddr) })

	if err := b.attach(fd); err != nil {
		return nil, err
	}
	cu.Release()
	log.Debugf("Allocated %#x bytes, dma-buf %d, %v", size, fd, cache)
	return &aie.MemInst{
		VAddr:  vaddr,
		Size:   size,
		Cache:  cache,
		Owner:  b,
		Handle: &memHandle{fd: fd},
	}, nil
}

// MemFree implements aie.Backend.MemFree.
func (b *Backend) MemFree(m *aie.MemInst) error {
	h, err := handleOf(m)
	if err != nil {
		return err
	}
	if h.external {
		return fmt.Errorf("%w: imported memory is released with MemDetach", aie.ErrInvalidArgs)
	}
	err = b.detach(h.fd)
	if m.VAddr != nil {
		b.sys.Munmap(m.VAddr)
		m.VAddr = nil
	}
	b.sys.Close(h.fd)
	m.Handle = nil
	return err
}

func (b *Backend) sync(m *aie.MemInst, flags uint64) error {
	h, err := handleOf(m)
	if err != nil {
		return err
	}
	s := abi.DmaBufSync{Flags: flags}
	if _, err := b.sys.Ioctl(h.fd, abi.DMA_BUF_IOCTL_SYNC, unsafe.Pointer(&s)); err != nil {
		log.Warningf("dma-buf %d sync %#x failed: %v", h.fd, flags, err)
		return aie.HardwareError("dma-buf sync", 0, err)
	}
	return nil
}

// MemSyncForCPU implements aie.Backend.MemSyncForCPU.
func (b *Backend) MemSyncForCPU(m *aie.MemInst) error {
	return b.sync(m, abi.DMA_BUF_SYNC_RW|abi.DMA_BUF_SYNC_START)
}

// MemSyncForDevice implements aie.Backend.MemSyncForDevice.
func (b *Backend) MemSyncForDevice(m *aie.MemInst) error {
	return b.sync(m, abi.DMA_BUF_SYNC_RW|abi.DMA_BUF_SYNC_END)
}

// MemAttach implements aie.Backend.MemAttach. handle is a dma-buf
// descriptor owned by the caller.
func (b *Backend) MemAttach(m *aie.MemInst, handle uint64) error {
	if m == nil {
		return fmt.Errorf("%w: nil memory instance", aie.ErrInvalidArgs)
	}
	fd := int32(handle)
	if err := b.attach(fd); err != nil {
		return err
	}
	m.Owner = b
	m.Handle = &memHandle{fd: fd, external: true}
	return nil
}

// MemDetach implements aie.Backend.MemDetach. The descriptor stays open.
func (b *Backend) MemDetach(m *aie.MemInst) error {
	h, err := handleOf(m)
	if err != nil {
		return err
	}
	if err := b.detach(h.fd); err != nil {
		return err
	}
	m.Handle = nil
	return nil
}
