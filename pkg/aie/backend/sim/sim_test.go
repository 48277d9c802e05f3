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

package sim

import (
	"errors"
	"testing"
	"time"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/aie/npi"
	"aieio.dev/aieio/pkg/regfile"
	"github.com/google/go-cmp/cmp"
)

func testConfig() *aie.Config {
	cfg := aie.DefaultConfig(aie.GenAIE)
	cfg.Backend = aie.BackendSim
	cfg.NumCols = 1
	return cfg
}

func TestRegisters(t *testing.T) {
	cfg := testConfig()
	b := New(cfg, regfile.New())
	off := cfg.TileAddr(aie.Loc{Col: 0, Row: 1}, 0x10)
	if err := b.Write32(off, 0xabcd); err != nil {
		t.Fatalf("Write32: %v", err)
	}
	if err := b.MaskWrite32(off, 0xff, 0x12); err != nil {
		t.Fatalf("MaskWrite32: %v", err)
	}
	if err := b.BlockWrite32(off+4, []uint32{1, 2}); err != nil {
		t.Fatalf("BlockWrite32: %v", err)
	}
	if err := b.BlockSet32(off+12, 3, 2); err != nil {
		t.Fatalf("BlockSet32: %v", err)
	}
	want := map[uint64]uint32{}
	for i, v := range []uint32{0xab12, 1, 2, 3, 3} {
		want[cfg.BaseAddr+off+uint64(i)*4] = v
	}
	if diff := cmp.Diff(want, b.Regs().Snapshot()); diff != "" {
		t.Errorf("register file mismatch (-want +got):\n%s", diff)
	}
	if err := b.MaskPoll(off, 0xffff, 0xab12, 0); err != nil {
		t.Errorf("MaskPoll: %v", err)
	}
	if err := b.MaskPoll(off, 0xffff, 0, time.Millisecond); !errors.Is(err, aie.ErrPollTimeout) {
		t.Errorf("MaskPoll = %v, want %v", err, aie.ErrPollTimeout)
	}
	if _, err := b.Read32(cfg.PartitionSize()); !errors.Is(err, aie.ErrInvalidArgs) {
		t.Errorf("Read32 outside the partition = %v, want %v", err, aie.ErrInvalidArgs)
	}
}

func TestPartitionLifecycle(t *testing.T) {
	cfg := testConfig()
	b := New(cfg, regfile.New())
	core := cfg.TileAddr(aie.Loc{Col: 0, Row: 2}, cfg.Layout.DataMemAddr+0x40)
	if err := b.Write32(core, 0x1234); err != nil {
		t.Fatalf("Write32: %v", err)
	}

	opts := aie.PartInitOpts{Flags: aie.PartInitShimReset | aie.PartInitZeroMem}
	if err := b.RunOp(&aie.PartitionInit{Opts: opts}); err != nil {
		t.Fatalf("PartitionInit: %v", err)
	}
	if v, _ := b.Read32(core); v != 0 {
		t.Errorf("data memory = %#x after zeroing", v)
	}
	clk := cfg.TileAddr(aie.Loc{Col: 0, Row: cfg.ShimRow}, cfg.Layout.ClockControlOff)
	if v, _ := b.Read32(clk); v&cfg.Layout.ClockEnableMask == 0 {
		t.Errorf("clock gated after init")
	}
	if v := b.Regs().Read32(cfg.NpiBaseAddr + npi.PCSRLock); v != npi.LockValue {
		t.Errorf("NPI left unlocked: %#x", v)
	}

	if err := b.RunOp(&aie.PartitionTeardown{}); err != nil {
		t.Fatalf("PartitionTeardown: %v", err)
	}
	if v, _ := b.Read32(clk); v&cfg.Layout.ClockEnableMask != 0 {
		t.Errorf("clock enabled after teardown")
	}
}

func TestTransaction(t *testing.T) {
	cfg := testConfig()
	d, err := aie.NewDevice(cfg)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	defer d.Finish()
	b := d.Backend().(*Backend)

	off := cfg.TileAddr(aie.Loc{Col: 0, Row: 1}, 0x100)
	if err := d.StartTxn(); err != nil {
		t.Fatalf("StartTxn: %v", err)
	}
	if err := d.Write32(off, 5); err != nil {
		t.Fatalf("Write32: %v", err)
	}
	if err := d.BlockSet32(off+4, 6, 3); err != nil {
		t.Fatalf("BlockSet32: %v", err)
	}
	if n := b.Regs().Len(); n != 0 {
		t.Errorf("%d registers written before submit", n)
	}
	if err := d.SubmitTxn(); err != nil {
		t.Fatalf("SubmitTxn: %v", err)
	}
	if n := b.Regs().Len(); n != 4 {
		t.Errorf("%d registers written after submit, want 4", n)
	}
}

func TestMem(t *testing.T) {
	b := New(testConfig(), regfile.New())
	m1, err := b.MemAllocate(100, aie.MemCacheable)
	if err != nil {
		t.Fatalf("MemAllocate: %v", err)
	}
	m2, err := b.MemAllocate(8192, aie.MemNonCacheable)
	if err != nil {
		t.Fatalf("MemAllocate: %v", err)
	}
	if m1.DevAddr != memBase || m2.DevAddr != memBase+0x1000 {
		t.Errorf("device addresses %#x, %#x, want %#x, %#x", m1.DevAddr, m2.DevAddr, memBase, memBase+0x1000)
	}
	if len(m1.VAddr) != 100 || m1.Owner != aie.Backend(b) {
		t.Errorf("bad memory instance %+v", m1)
	}
	if _, err := b.MemAllocate(0, aie.MemCacheable); !errors.Is(err, aie.ErrInvalidArgs) {
		t.Errorf("MemAllocate(0) = %v, want %v", err, aie.ErrInvalidArgs)
	}
	if err := b.MemAttach(m1, 3); !errors.Is(err, aie.ErrFeatureNotSupported) {
		t.Errorf("MemAttach = %v, want %v", err, aie.ErrFeatureNotSupported)
	}
}
