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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIORegion(t *testing.T) {
	r := NewIORegion("regs", 0x1000, make([]byte, 0x40))
	if err := r.Write32(0x8, 0xDEADBEEF); err != nil {
		t.Fatalf("Write32 failed: %v", err)
	}
	if v, err := r.Read32(0x8); err != nil || v != 0xDEADBEEF {
		t.Errorf("Read32 got (%#x, %v), want (0xdeadbeef, nil)", v, err)
	}
	if err := r.BlockWrite32(0x30, []uint32{1, 2, 3, 4}); err != nil {
		t.Fatalf("BlockWrite32 failed: %v", err)
	}
	if err := r.BlockSet32(0x10, 7, 2); err != nil {
		t.Fatalf("BlockSet32 failed: %v", err)
	}
	var got []uint32
	for off := uint64(0x10); off < 0x40; off += 4 {
		v, _ := r.Read32(off)
		got = append(got, v)
	}
	want := []uint32{7, 7, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("region contents mismatch (-want +got):\n%s", diff)
	}
	if got := r.PhysAddr(0x10); got != 0x1010 {
		t.Errorf("PhysAddr(0x10) = %#x, want 0x1010", got)
	}

	for _, tc := range []struct {
		name string
		err  error
	}{
		{"unaligned", r.Write32(0x2, 0)},
		{"past end", r.Write32(0x40, 0)},
		{"block past end", r.BlockWrite32(0x38, []uint32{1, 2, 3})},
		{"set past end", r.BlockSet32(0x3C, 0, 2)},
	} {
		if tc.err == nil {
			t.Errorf("%s: access succeeded", tc.name)
		}
	}
}

func TestDeviceRefs(t *testing.T) {
	bus := NewMemBus("test")
	bus.AddDevice("aie", 0x20000000000, 0x1000, 0x100)

	d, err := Open(bus, "aie")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if d.NumRegions() != 2 || d.Region(1).PhysAddr(0) != 0x20000001000 || d.Region(2) != nil {
		t.Errorf("unexpected regions: %d, second at %#x", d.NumRegions(), d.Region(1).PhysAddr(0))
	}
	d.IncRef()
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if bus.Opens("aie") != 1 {
		t.Errorf("device closed while referenced")
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if bus.Opens("aie") != 0 {
		t.Errorf("device still open after the last reference")
	}

	if _, err := Open(bus, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open of a missing device got err %v, want %v", err, ErrNotFound)
	}
}

func TestMemShmem(t *testing.T) {
	bus := NewMemBus("test")
	bus.AddDevice("aie", 0, 0x100)
	d, err := Open(bus, "aie")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()

	a, err := bus.OpenShmem("aie_0", 0x10)
	if err != nil {
		t.Fatalf("OpenShmem failed: %v", err)
	}
	b, err := bus.OpenShmem("aie_1", 0x2000)
	if err != nil {
		t.Fatalf("OpenShmem failed: %v", err)
	}
	sgA, err := a.Attach(d, DirBidirectional)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	sgB, err := b.Attach(d, DirToDevice)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if sgA.DevAddr() != memPhysBase || sgB.DevAddr() != memPhysBase+0x1000 {
		t.Errorf("device addresses %#x and %#x", sgA.DevAddr(), sgB.DevAddr())
	}
	if sgB.Len() != 0x2000 || sgB.Dir != DirToDevice {
		t.Errorf("got scatter list of %#x bytes, %v", sgB.Len(), sgB.Dir)
	}
	if err := a.Close(); err == nil {
		t.Errorf("Close of an attached segment succeeded")
	}
	if diff := cmp.Diff([]string{"aie_0", "aie_1"}, bus.Segments()); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}

	for _, s := range []struct {
		shm *Shmem
		sg  *ScatterList
	}{{a, sgA}, {b, sgB}} {
		if err := s.shm.Detach(d, s.sg); err != nil {
			t.Fatalf("Detach failed: %v", err)
		}
		if err := s.shm.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}
	if n := len(bus.Segments()); n != 0 || bus.Attached() != 0 {
		t.Errorf("%d segments and %d attachments left", n, bus.Attached())
	}
	if err := a.Detach(d, sgA); err == nil {
		t.Errorf("second Detach succeeded")
	}
}

func TestImport(t *testing.T) {
	bus := NewMemBus("test")
	bus.AddDevice("aie", 0, 0x100)
	d, err := Open(bus, "aie")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()

	phys := bus.AddDmaBuf(5, 0x3000)
	donor, err := bus.OpenShmem("donor", 1)
	if err != nil {
		t.Fatalf("OpenShmem failed: %v", err)
	}
	s := NewShmem("dmabuf", 5, 0x3000, nil, donor.Ops())
	donor.Close()

	sg, err := s.Attach(d, DirBidirectional)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if sg.DevAddr() != phys || len(s.Mem) != 0x3000 {
		t.Errorf("imported buffer at %#x, %#x bytes; want %#x, 0x3000", sg.DevAddr(), len(s.Mem), phys)
	}
	if err := s.Detach(d, sg); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}

	bad := NewShmem("dmabuf", 6, 0x1000, nil, donor.Ops())
	if _, err := bad.Attach(d, DirBidirectional); !errors.Is(err, ErrNotFound) {
		t.Errorf("Attach of an unknown dma-buf got err %v, want %v", err, ErrNotFound)
	}
}
