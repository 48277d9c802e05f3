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

package aie_test

import (
	"errors"
	"testing"
	"time"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/aie/aietest"
	"github.com/google/go-cmp/cmp"
)

func testConfig() *aie.Config {
	c := aie.DefaultConfig(aie.GenAIEML)
	c.NumCols = 4
	c.Backend = aie.BackendDebug
	return c
}

func TestParseBackendType(t *testing.T) {
	for _, bt := range []aie.BackendType{aie.BackendBaremetal, aie.BackendLinux, aie.BackendMetal, aie.BackendCDO, aie.BackendSocket, aie.BackendSim, aie.BackendDebug} {
		got, err := aie.ParseBackendType(bt.String())
		if err != nil {
			t.Errorf("ParseBackendType(%q): %v", bt, err)
			continue
		}
		if got != bt {
			t.Errorf("ParseBackendType(%q) = %v", bt, got)
		}
	}
	if _, err := aie.ParseBackendType("pcie"); !errors.Is(err, aie.ErrInvalidBackend) {
		t.Errorf("ParseBackendType(pcie) = %v, want ErrInvalidBackend", err)
	}
}

func TestNewDeviceUnregistered(t *testing.T) {
	c := testConfig()
	c.Backend = aie.BackendSim
	d, err := aie.NewDevice(c)
	if !errors.Is(err, aie.ErrInvalidBackend) {
		t.Fatalf("NewDevice(sim) = %v, %v, want ErrInvalidBackend", d, err)
	}
	if d != nil {
		t.Errorf("NewDevice returned a device on failure")
	}
}

func TestNewDeviceSelectsOnce(t *testing.T) {
	calls := 0
	fake := aietest.New()
	aie.Register(aie.BackendDebug, func(cfg *aie.Config) (aie.Backend, error) {
		calls++
		if cfg.NumCols != 4 {
			t.Errorf("constructor got %d columns, want 4", cfg.NumCols)
		}
		return fake, nil
	})
	c := testConfig()
	d, err := aie.NewDevice(c)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	// The device keeps its own copy of the configuration.
	c.NumCols = 9
	if got := d.Config().NumCols; got != 4 {
		t.Errorf("device config changed with caller's copy: %d columns", got)
	}
	for i := 0; i < 3; i++ {
		if err := d.Write32(uint64(i*4), uint32(i)); err != nil {
			t.Fatalf("Write32: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("constructor called %d times, want 1", calls)
	}
	if err := d.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if fake.Finished != 1 {
		t.Errorf("backend finished %d times, want 1", fake.Finished)
	}
	if err := d.Write32(0, 0); !errors.Is(err, aie.ErrFinished) {
		t.Errorf("Write32 after Finish = %v, want ErrFinished", err)
	}
}

func TestNewDeviceInitFailure(t *testing.T) {
	aie.Register(aie.BackendDebug, func(*aie.Config) (aie.Backend, error) {
		return nil, aie.HardwareError("open", 0, errors.New("no device"))
	})
	defer aie.Register(aie.BackendDebug, func(*aie.Config) (aie.Backend, error) { return aietest.New(), nil })
	if _, err := aie.NewDevice(testConfig()); !errors.Is(err, aie.ErrHardware) {
		t.Errorf("NewDevice = %v, want ErrHardware", err)
	}
}

func TestUnavailable(t *testing.T) {
	ctor := aie.Unavailable(aie.BackendLinux, "not built for this platform")
	if _, err := ctor(testConfig()); !errors.Is(err, aie.ErrInvalidBackend) {
		t.Errorf("Unavailable constructor = %v, want ErrInvalidBackend", err)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*aie.Config)
	}{
		{"no columns", func(c *aie.Config) { c.NumCols = 0 }},
		{"shift order", func(c *aie.Config) { c.ColShift = c.RowShift }},
		{"rows overflow", func(c *aie.Config) { c.NumRows = 64 }},
		{"core rows", func(c *aie.Config) { c.AieTileNumRows = 20 }},
		{"noc column", func(c *aie.Config) { c.NocColumns = []uint8{7} }},
		{"generation", func(c *aie.Config) { c.Generation = 0 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := testConfig()
			tc.mutate(c)
			if err := c.Validate(); !errors.Is(err, aie.ErrInvalidArgs) {
				t.Errorf("Validate() = %v, want ErrInvalidArgs", err)
			}
		})
	}
	if err := testConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if err := aie.DefaultConfig(aie.GenAIE).Validate(); err != nil {
		t.Errorf("default AIE config invalid: %v", err)
	}
}

func TestTileAddressing(t *testing.T) {
	c := testConfig()
	c.NocColumns = []uint8{1, 2}
	loc := aie.Loc{Col: 3, Row: 5}
	addr := c.TileAddr(loc, 0x1E020)
	if want := uint64(3)<<25 | uint64(5)<<20 | 0x1E020; addr != want {
		t.Fatalf("TileAddr = %#x, want %#x", addr, want)
	}
	gotLoc, off := c.TileLoc(addr)
	if gotLoc != loc || off != 0x1E020 {
		t.Errorf("TileLoc(%#x) = %v, %#x", addr, gotLoc, off)
	}
	for _, tc := range []struct {
		loc  aie.Loc
		want aie.TileType
	}{
		{aie.Loc{Col: 0, Row: 0}, aie.TileShimPL},
		{aie.Loc{Col: 1, Row: 0}, aie.TileShimNOC},
		{aie.Loc{Col: 1, Row: 1}, aie.TileMem},
		{aie.Loc{Col: 1, Row: 2}, aie.TileMem},
		{aie.Loc{Col: 1, Row: 3}, aie.TileAIE},
		{aie.Loc{Col: 1, Row: 10}, aie.TileAIE},
		{aie.Loc{Col: 1, Row: 11}, aie.TileInvalid},
		{aie.Loc{Col: 4, Row: 3}, aie.TileInvalid},
	} {
		if got := c.TileType(tc.loc); got != tc.want {
			t.Errorf("TileType(%v) = %v, want %v", tc.loc, got, tc.want)
		}
	}
}

func TestMemOwnership(t *testing.T) {
	a, err := aie.NewDeviceWithBackend(testConfig(), aietest.New())
	if err != nil {
		t.Fatal(err)
	}
	b, err := aie.NewDeviceWithBackend(testConfig(), aietest.New())
	if err != nil {
		t.Fatal(err)
	}
	m, err := a.MemAllocate(4096, aie.MemCacheable)
	if err != nil {
		t.Fatalf("MemAllocate: %v", err)
	}
	if err := b.MemFree(m); !errors.Is(err, aie.ErrInvalidArgs) {
		t.Errorf("MemFree on foreign device = %v, want ErrInvalidArgs", err)
	}
	if err := a.MemFree(m); err != nil {
		t.Errorf("MemFree: %v", err)
	}
	if _, err := a.MemAllocate(0, aie.MemCacheable); !errors.Is(err, aie.ErrInvalidArgs) {
		t.Errorf("MemAllocate(0) = %v, want ErrInvalidArgs", err)
	}
	att, err := a.MemAttach(42, 4096, aie.MemNonCacheable)
	if err != nil {
		t.Fatalf("MemAttach: %v", err)
	}
	if att.Handle != uint64(42) {
		t.Errorf("attached handle = %v, want 42", att.Handle)
	}
	if err := a.MemDetach(att); err != nil {
		t.Errorf("MemDetach: %v", err)
	}
}

func TestProgramOrder(t *testing.T) {
	fake := aietest.New()
	d, err := aie.NewDeviceWithBackend(testConfig(), fake)
	if err != nil {
		t.Fatal(err)
	}
	d.Write32(0x10, 1)
	d.MaskWrite32(0x10, 0xF0, 0x20)
	d.BlockWrite32(0x20, []uint32{1, 2})
	d.BlockSet32(0x40, 7, 3)
	d.MaskPoll(0x10, 0x21, 0x21, time.Millisecond)
	d.Read32(0x10)
	want := []string{"write32", "maskwrite32", "blockwrite32", "blockset32", "maskpoll", "read32"}
	if diff := cmp.Diff(want, fake.Names()); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
}

type submitter struct {
	*aietest.Backend
	got *aie.Txn
}

func (s *submitter) SubmitTxn(txn *aie.Txn) error {
	s.got = txn
	return nil
}

func TestTxnReplay(t *testing.T) {
	fake := aietest.New()
	fake.Tid = 7
	d, err := aie.NewDeviceWithBackend(testConfig(), fake)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.StartTxn(); err != nil {
		t.Fatalf("StartTxn: %v", err)
	}
	if err := d.StartTxn(); !errors.Is(err, aie.ErrInvalidArgs) {
		t.Errorf("nested StartTxn = %v, want ErrInvalidArgs", err)
	}
	d.Write32(0x100, 5)
	d.MaskWrite32(0x100, 0x4, 0)
	d.BlockSet32(0x200, 9, 2)
	if len(fake.Calls) != 0 {
		t.Fatalf("commands ran before submit: %v", fake.Names())
	}
	if err := d.SubmitTxn(); err != nil {
		t.Fatalf("SubmitTxn: %v", err)
	}
	want := []string{"write32", "maskwrite32", "blockset32"}
	if diff := cmp.Diff(want, fake.Names()); diff != "" {
		t.Errorf("replay mismatch (-want +got):\n%s", diff)
	}
	if got := fake.Regs[0x100]; got != 1 {
		t.Errorf("reg 0x100 = %d, want 1", got)
	}
	if err := d.SubmitTxn(); !errors.Is(err, aie.ErrInvalidArgs) {
		t.Errorf("SubmitTxn without StartTxn = %v, want ErrInvalidArgs", err)
	}
}

func TestTxnSubmitter(t *testing.T) {
	s := &submitter{Backend: aietest.New()}
	d, err := aie.NewDeviceWithBackend(testConfig(), s)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.StartTxn(); err != nil {
		t.Fatal(err)
	}
	d.Write32(0x4, 1)
	d.BlockWrite32(0x8, []uint32{2, 3})
	if err := d.SubmitTxn(); err != nil {
		t.Fatalf("SubmitTxn: %v", err)
	}
	want := &aie.Txn{Cmds: []aie.TxnCmd{
		{Op: aie.TxnWrite, RegOff: 0x4, Value: 1},
		{Op: aie.TxnBlockWrite, RegOff: 0x8, Data: []uint32{2, 3}},
	}}
	if diff := cmp.Diff(want, s.got); diff != "" {
		t.Errorf("submitted transaction mismatch (-want +got):\n%s", diff)
	}
	if len(s.Calls) != 0 {
		t.Errorf("submitter backend also replayed: %v", s.Names())
	}
}

func TestTxnCancel(t *testing.T) {
	fake := aietest.New()
	d, err := aie.NewDeviceWithBackend(testConfig(), fake)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.StartTxn(); err != nil {
		t.Fatal(err)
	}
	d.Write32(0x4, 1)
	if err := d.CancelTxn(); err != nil {
		t.Fatalf("CancelTxn: %v", err)
	}
	d.Write32(0x8, 2)
	if diff := cmp.Diff([]string{"write32"}, fake.Names()); diff != "" {
		t.Errorf("calls after cancel (-want +got):\n%s", diff)
	}
}

func TestRunOpNil(t *testing.T) {
	d, err := aie.NewDeviceWithBackend(testConfig(), aietest.New())
	if err != nil {
		t.Fatal(err)
	}
	if err := d.RunOp(nil); !errors.Is(err, aie.ErrInvalidArgs) {
		t.Errorf("RunOp(nil) = %v, want ErrInvalidArgs", err)
	}
	if err := d.RunOp(&aie.PartitionTeardown{}); !errors.Is(err, aie.ErrFeatureNotSupported) {
		t.Errorf("RunOp(teardown) on test backend = %v, want ErrFeatureNotSupported", err)
	}
}

func TestFinishLeavesForeignTxnWired(t *testing.T) {
	wired := 0
	defer aie.SetThreadHooks(func() { wired++ }, func() { wired-- })()

	fake := aietest.New()
	fake.Tid = 1
	d, err := aie.NewDeviceWithBackend(testConfig(), fake)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.StartTxn(); err != nil {
		t.Fatalf("StartTxn: %v", err)
	}
	fake.Tid = 2
	if err := d.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if wired != 1 {
		t.Errorf("Finish from another thread unwired the owner: wired %d, want 1", wired)
	}
	if err := d.CancelTxn(); !errors.Is(err, aie.ErrFinished) {
		t.Errorf("CancelTxn from another thread = %v, want ErrFinished", err)
	}
	if wired != 1 {
		t.Errorf("CancelTxn from another thread unwired the owner: wired %d, want 1", wired)
	}
	fake.Tid = 1
	if err := d.CancelTxn(); !errors.Is(err, aie.ErrFinished) {
		t.Errorf("CancelTxn by the owner = %v, want ErrFinished", err)
	}
	if wired != 0 {
		t.Errorf("owner still wired after CancelTxn: wired %d", wired)
	}

	d, err = aie.NewDeviceWithBackend(testConfig(), aietest.New())
	if err != nil {
		t.Fatal(err)
	}
	if err := d.StartTxn(); err != nil {
		t.Fatalf("StartTxn: %v", err)
	}
	if err := d.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if wired != 0 {
		t.Errorf("Finish by the owner left the thread wired: wired %d", wired)
	}
}
