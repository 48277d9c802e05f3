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
	"fmt"
	"math/rand"
	"testing"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/metal"
	"github.com/google/go-cmp/cmp"
)

func testConfig() *aie.Config {
	cfg := aie.DefaultConfig(aie.GenAIE)
	cfg.Backend = aie.BackendMetal
	cfg.NumCols = 1
	cfg.Metal.Device = "aie"
	cfg.Metal.NpiDevice = "npi"
	return cfg
}

func testBus(cfg *aie.Config, withNpi bool) *metal.MemBus {
	bus := metal.NewMemBus("test")
	bus.AddDevice("aie", cfg.BaseAddr, cfg.PartitionSize())
	if withNpi {
		bus.AddDevice("npi", cfg.NpiBaseAddr, 0x1000)
	}
	return bus
}

func testBackend(t *testing.T, withNpi bool) (*Backend, *metal.MemBus) {
	t.Helper()
	cfg := testConfig()
	bus := testBus(cfg, withNpi)
	b, err := NewWithBus(cfg, bus)
	if err != nil {
		t.Fatalf("NewWithBus failed: %v", err)
	}
	t.Cleanup(func() { b.Finish() })
	return b, bus
}

func TestRegisters(t *testing.T) {
	b, _ := testBackend(t, false)
	off := b.cfg.TileAddr(aie.Loc{Col: 0, Row: 2}, 0x32000)
	if err := b.Write32(off, 0xA5A5A5A5); err != nil {
		t.Fatalf("Write32 failed: %v", err)
	}
	if err := b.MaskWrite32(off, 0x0000FFFF, 0x1234); err != nil {
		t.Fatalf("MaskWrite32 failed: %v", err)
	}
	if v, err := b.Read32(off); err != nil || v != 0xA5A51234 {
		t.Errorf("Read32 got (%#x, %v), want (0xa5a51234, nil)", v, err)
	}
	if err := b.MaskPoll(off, 0xFFFF, 0x1234, 0); err != nil {
		t.Errorf("MaskPoll failed: %v", err)
	}
	if err := b.MaskPoll(off, 0xFFFF, 0x4321, 0); !errors.Is(err, aie.ErrPollTimeout) {
		t.Errorf("MaskPoll got err %v, want %v", err, aie.ErrPollTimeout)
	}
	if err := b.BlockSet32(off+4, 9, 3); err != nil {
		t.Fatalf("BlockSet32 failed: %v", err)
	}
	if err := b.BlockWrite32(off+8, []uint32{1}); err != nil {
		t.Fatalf("BlockWrite32 failed: %v", err)
	}
	var got []uint32
	for i := uint64(1); i <= 3; i++ {
		v, _ := b.Read32(off + 4*i)
		got = append(got, v)
	}
	if diff := cmp.Diff([]uint32{9, 1, 9}, got); diff != "" {
		t.Errorf("block mismatch (-want +got):\n%s", diff)
	}
	if err := b.Write32(b.cfg.PartitionSize(), 0); !errors.Is(err, aie.ErrInvalidArgs) {
		t.Errorf("Write32 past the partition got err %v, want %v", err, aie.ErrInvalidArgs)
	}
}

func TestIOErrors(t *testing.T) {
	b, _ := testBackend(t, false)
	for _, tc := range []struct {
		err  error
		want error
	}{
		{fmt.Errorf("regs: offset 0x10: %w", metal.ErrRange), aie.ErrInvalidArgs},
		{errors.New("bus fault"), aie.ErrHardware},
	} {
		err := b.ioErr("write", 0x10, tc.err)
		if !errors.Is(err, tc.want) || !errors.Is(err, tc.err) {
			t.Errorf("ioErr(%v) = %v, want wrapping %v", tc.err, err, tc.want)
		}
	}
	if err := b.ioErr("write", 0x10, nil); err != nil {
		t.Errorf("ioErr(nil) = %v, want nil", err)
	}
}

func TestInit(t *testing.T) {
	t.Run("missing device", func(t *testing.T) {
		cfg := testConfig()
		if _, err := NewWithBus(cfg, metal.NewMemBus("empty")); !errors.Is(err, aie.ErrHardware) {
			t.Errorf("NewWithBus got err %v, want %v", err, aie.ErrHardware)
		}
	})
	t.Run("short device", func(t *testing.T) {
		cfg := testConfig()
		bus := metal.NewMemBus("test")
		bus.AddDevice("aie", 0, 0x1000)
		if _, err := NewWithBus(cfg, bus); !errors.Is(err, aie.ErrHardware) {
			t.Errorf("NewWithBus got err %v, want %v", err, aie.ErrHardware)
		}
		if n := bus.Opens("aie"); n != 0 {
			t.Errorf("device left open %d times", n)
		}
	})
	t.Run("missing NPI", func(t *testing.T) {
		b, _ := testBackend(t, false)
		if b.npi != nil {
			t.Errorf("NPI region present without an NPI device")
		}
	})
}

func TestNpi(t *testing.T) {
	b, _ := testBackend(t, false)
	for _, op := range []aie.Op{
		&aie.NpiWrite32{Off: 0x10, Value: 1},
		&aie.NpiRead32{Off: 0x10},
		&aie.AssertShimReset{Assert: true},
	} {
		if err := b.RunOp(op); !errors.Is(err, aie.ErrFeatureNotSupported) {
			t.Errorf("%s without NPI got err %v, want %v", op.OpName(), err, aie.ErrFeatureNotSupported)
		}
	}

	b, _ = testBackend(t, true)
	if err := b.RunOp(&aie.NpiWrite32{Off: 0x10, Value: 5}); err != nil {
		t.Fatalf("NpiWrite32 failed: %v", err)
	}
	rd := &aie.NpiRead32{Off: 0x10}
	if err := b.RunOp(rd); err != nil || rd.Value != 5 {
		t.Errorf("NpiRead32 got (%d, %v), want (5, nil)", rd.Value, err)
	}
	if err := b.RunOp(&aie.AssertShimReset{Assert: true}); err != nil {
		t.Fatalf("AssertShimReset failed: %v", err)
	}
	if v, _ := b.npi.Read32(0xC); v != 0 {
		t.Errorf("PCSR lock left at %#x", v)
	}
}

func TestShared(t *testing.T) {
	cfg := testConfig()
	bus := testBus(cfg, true)
	b, err := NewWithBus(cfg, bus)
	if err != nil {
		t.Fatalf("NewWithBus failed: %v", err)
	}
	dev, npiDev := b.Devices()
	s := NewShared(cfg, dev, npiDev)
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if bus.Opens("aie") != 1 || bus.Opens("npi") != 1 {
		t.Fatalf("devices closed while shared")
	}
	if err := s.Write32(0, 1); err != nil {
		t.Errorf("Write32 on the shared backend failed: %v", err)
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if bus.Opens("aie") != 0 || bus.Opens("npi") != 0 {
		t.Errorf("devices open after the last backend finished")
	}
}

func TestMemIDAccounting(t *testing.T) {
	b, bus := testBackend(t, false)
	rng := rand.New(rand.NewSource(1))
	live := make(map[int]*aie.MemInst)
	for step := 0; step < 400; step++ {
		if len(live) == 0 || rng.Intn(3) != 0 {
			m, err := b.MemAllocate(uint64(1+rng.Intn(0x3000)), aie.MemNonCacheable)
			if err != nil {
				t.Fatalf("step %d: MemAllocate failed: %v", step, err)
			}
			id := m.Handle.(*shmHandle).id
			if _, dup := live[id]; dup {
				t.Fatalf("step %d: id %d handed out twice", step, id)
			}
			live[id] = m
		} else {
			for id, m := range live {
				if err := b.MemFree(m); err != nil {
					t.Fatalf("step %d: MemFree failed: %v", step, err)
				}
				delete(live, id)
				break
			}
		}
		if got := int(b.ids.GetNumOnes()); got != len(live) {
			t.Fatalf("step %d: %d ids in use, %d allocations live", step, got, len(live))
		}
		if got := len(bus.Segments()); got != len(live) {
			t.Fatalf("step %d: %d segments, %d allocations live", step, got, len(live))
		}
	}
	for _, m := range live {
		b.MemFree(m)
	}
	if b.ids.GetNumOnes() != 0 || bus.Attached() != 0 {
		t.Errorf("%d ids and %d attachments left", b.ids.GetNumOnes(), bus.Attached())
	}
}

func TestMemExhaustion(t *testing.T) {
	b, _ := testBackend(t, false)
	mems := make([]*aie.MemInst, numShmIDs)
	for i := range mems {
		m, err := b.MemAllocate(16, aie.MemNonCacheable)
		if err != nil {
			t.Fatalf("MemAllocate %d failed: %v", i, err)
		}
		mems[i] = m
	}
	if _, err := b.MemAllocate(16, aie.MemNonCacheable); !errors.Is(err, aie.ErrHardware) {
		t.Errorf("MemAllocate past %d ids got err %v, want %v", numShmIDs, err, aie.ErrHardware)
	}
	if err := b.MemFree(mems[100]); err != nil {
		t.Fatalf("MemFree failed: %v", err)
	}
	m, err := b.MemAllocate(16, aie.MemCacheable)
	if err != nil {
		t.Fatalf("MemAllocate failed: %v", err)
	}
	if id := m.Handle.(*shmHandle).id; id != 100 {
		t.Errorf("got id %d, want the freed id 100", id)
	}
	if err := b.MemSyncForDevice(m); err != nil {
		t.Errorf("MemSyncForDevice failed: %v", err)
	}
}

func TestMemAttach(t *testing.T) {
	b, bus := testBackend(t, false)
	phys := bus.AddDmaBuf(42, 0x2000)
	m := &aie.MemInst{Size: 0x2000}
	if err := b.MemAttach(m, 42); err != nil {
		t.Fatalf("MemAttach failed: %v", err)
	}
	if m.DevAddr != phys || len(m.VAddr) != 0x2000 || m.Owner != b {
		t.Errorf("imported memory at %#x, %#x bytes; want %#x, 0x2000", m.DevAddr, len(m.VAddr), phys)
	}
	if n := len(bus.Segments()); n != 0 || b.ids.GetNumOnes() != 0 {
		t.Errorf("dummy allocation left %d segments and %d ids", n, b.ids.GetNumOnes())
	}
	if err := b.MemFree(m); !errors.Is(err, aie.ErrInvalidArgs) {
		t.Errorf("MemFree of imported memory got err %v, want %v", err, aie.ErrInvalidArgs)
	}
	if err := b.MemDetach(m); err != nil {
		t.Fatalf("MemDetach failed: %v", err)
	}
	if bus.Attached() != 0 {
		t.Errorf("%d buffers attached after detach", bus.Attached())
	}
	if err := b.MemDetach(m); !errors.Is(err, aie.ErrInvalidArgs) {
		t.Errorf("second MemDetach got err %v, want %v", err, aie.ErrInvalidArgs)
	}
	if err := b.MemAttach(&aie.MemInst{Size: 0x1000}, 7); !errors.Is(err, aie.ErrHardware) {
		t.Errorf("MemAttach of an unknown buffer got err %v, want %v", err, aie.ErrHardware)
	}
}

func TestShimDmaBd(t *testing.T) {
	b, _ := testBackend(t, false)
	m, err := b.MemAllocate(0x100, aie.MemNonCacheable)
	if err != nil {
		t.Fatalf("MemAllocate failed: %v", err)
	}
	defer b.MemFree(m)
	loc := aie.Loc{Col: 0, Row: 0}
	op := &aie.ConfigShimDmaBd{Mem: m, Loc: loc, BdNum: 1, BdWords: make([]uint32, b.cfg.Layout.ShimDmaBdWords)}
	if err := b.RunOp(op); err != nil {
		t.Fatalf("RunOp failed: %v", err)
	}
	off := b.cfg.TileAddr(loc, b.cfg.Layout.ShimDmaBdBase+b.cfg.Layout.ShimDmaBdStride)
	if v, _ := b.Read32(off); v != uint32(m.DevAddr) {
		t.Errorf("BD address word = %#x, want %#x", v, uint32(m.DevAddr))
	}
}

func TestTilesAndResources(t *testing.T) {
	b, _ := testBackend(t, false)
	if err := b.RunOp(&aie.RequestTiles{Locs: []aie.Loc{{Col: 0, Row: 3}}}); err != nil {
		t.Fatalf("RequestTiles failed: %v", err)
	}
	if !b.tiles.InUse(aie.Loc{Col: 0, Row: 3}) {
		t.Errorf("tile not marked in use")
	}
	req := &aie.ResourceRequest{Loc: aie.Loc{Col: 0, Row: 3}, Mod: aie.ModCore, Type: aie.RscPerfCntr, NumPerTile: 1}
	if err := b.RunOp(&aie.RequestResource{Req: req}); err != nil || len(req.Granted) != 1 {
		t.Errorf("RequestResource got (%v, %v)", req.Granted, err)
	}
	if err := b.RunOp(&aie.PartitionInit{}); !errors.Is(err, aie.ErrFeatureNotSupported) {
		t.Errorf("PartitionInit got err %v, want %v", err, aie.ErrFeatureNotSupported)
	}
}
