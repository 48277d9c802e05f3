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

package metal

import (
	"fmt"
	"sort"
	"sync"
)

// memPhysBase is where MemBus places shared memory in its device address
// space.
const memPhysBase = 0x80000000

// MemBus is a bus whose devices and shared memory live in process memory.
type MemBus struct {
	name string

	mu       sync.Mutex
	devices  map[string]*memDevice
	segments map[string]*memSegment
	dmabufs  map[int]*memSegment
	nextPhys uint64
	attached int
}

type memDevice struct {
	phys    uint64
	regions [][]byte
	opens   int
}

type memSegment struct {
	mem  []byte
	phys uint64
}

// NewMemBus returns an empty bus.
func NewMemBus(name string) *MemBus {
	return &MemBus{
		name:     name,
		devices:  make(map[string]*memDevice),
		segments: make(map[string]*memSegment),
		dmabufs:  make(map[int]*memSegment),
		nextPhys: memPhysBase,
	}
}

// AddDevice adds a device with regions of the given sizes, the first at
// physical address phys and the others following it.
func (b *MemBus) AddDevice(name string, phys uint64, sizes ...uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := &memDevice{phys: phys}
	for _, s := range sizes {
		d.regions = append(d.regions, make([]byte, s))
	}
	b.devices[name] = d
}

// AddDmaBuf registers an external buffer of size bytes under fd and returns
// its device address.
func (b *MemBus) AddDmaBuf(fd int, size uint64) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	seg := b.newSegmentLocked(size)
	b.dmabufs[fd] = seg
	return seg.phys
}

func (b *MemBus) newSegmentLocked(size uint64) *memSegment {
	seg := &memSegment{mem: make([]byte, size), phys: b.nextPhys}
	// Keep segments page aligned.
	b.nextPhys += (size + 0xFFF) &^ 0xFFF
	return seg
}

// Name implements Bus.Name.
func (b *MemBus) Name() string {
	return b.name
}

// OpenRegions implements Bus.OpenRegions.
func (b *MemBus) OpenRegions(name string) ([]*IORegion, func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.devices[name]
	if !ok {
		return nil, nil, fmt.Errorf("device %q: %w", name, ErrNotFound)
	}
	var regions []*IORegion
	phys := d.phys
	for i, mem := range d.regions {
		regions = append(regions, NewIORegion(fmt.Sprintf("%s.%d", name, i), phys, mem))
		phys += uint64(len(mem))
	}
	d.opens++
	return regions, func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		d.opens--
		return nil
	}, nil
}

// Opens returns how many times the named device is open.
func (b *MemBus) Opens(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.devices[name]; ok {
		return d.opens
	}
	return 0
}

// Region returns the backing memory of region i of the named device.
func (b *MemBus) Region(name string, i int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devices[name].regions[i]
}

// OpenShmem implements Bus.OpenShmem.
func (b *MemBus) OpenShmem(name string, size uint64) (*Shmem, error) {
	if size == 0 {
		return nil, fmt.Errorf("shared memory %q: zero size", name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	seg, ok := b.segments[name]
	if !ok {
		seg = b.newSegmentLocked(size)
		b.segments[name] = seg
	} else if uint64(len(seg.mem)) < size {
		return nil, fmt.Errorf("shared memory %q is %#x bytes, %#x requested", name, len(seg.mem), size)
	}
	return &Shmem{Name: name, Size: size, FD: -1, Mem: seg.mem[:size], ops: memOps{b}, path: name}, nil
}

// Segments returns the names of the existing shared memory segments.
func (b *MemBus) Segments() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.segments))
	for n := range b.segments {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Attached returns the number of attached buffers.
func (b *MemBus) Attached() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached
}

// memOps is the ShmemOps of MemBus. Segments are removed on Close.
type memOps struct {
	b *MemBus
}

func (o memOps) lookup(s *Shmem) (*memSegment, error) {
	if s.FD >= 0 {
		if seg, ok := o.b.dmabufs[s.FD]; ok {
			return seg, nil
		}
		return nil, fmt.Errorf("dma-buf %d: %w", s.FD, ErrNotFound)
	}
	if seg, ok := o.b.segments[s.path]; ok {
		return seg, nil
	}
	return nil, fmt.Errorf("shared memory %q: %w", s.Name, ErrNotFound)
}

// Attach implements ShmemOps.Attach.
func (o memOps) Attach(dev *Device, s *Shmem, dir Direction) (*ScatterList, error) {
	o.b.mu.Lock()
	defer o.b.mu.Unlock()
	seg, err := o.lookup(s)
	if err != nil {
		return nil, err
	}
	if s.Size > uint64(len(seg.mem)) {
		return nil, fmt.Errorf("%s: %#x bytes, buffer holds %#x", s.Name, s.Size, len(seg.mem))
	}
	if s.Mem == nil {
		s.Mem = seg.mem[:s.Size]
	}
	o.b.attached++
	return &ScatterList{Entries: []SGEntry{{Virt: s.Mem, Phys: seg.phys}}, Dir: dir}, nil
}

// Detach implements ShmemOps.Detach.
func (o memOps) Detach(dev *Device, s *Shmem, sg *ScatterList) error {
	o.b.mu.Lock()
	defer o.b.mu.Unlock()
	o.b.attached--
	return nil
}

// Sync implements ShmemOps.Sync. Process memory is coherent.
func (memOps) Sync(*Shmem, bool) error {
	return nil
}

// Close implements ShmemOps.Close.
func (o memOps) Close(s *Shmem) error {
	o.b.mu.Lock()
	defer o.b.mu.Unlock()
	if s.path != "" {
		delete(o.b.segments, s.path)
	}
	s.Mem = nil
	return nil
}
