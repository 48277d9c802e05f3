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

package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/aie/npi"
	"aieio.dev/aieio/pkg/aiesim"
	"aieio.dev/aieio/pkg/log"
	"aieio.dev/aieio/pkg/regfile"
	"github.com/google/go-cmp/cmp"
)

type simulator struct {
	*aiesim.Server
	cfg  *aie.Config
	stop func()
}

// startSim serves a register file and returns a configuration pointing at it.
func startSim(t *testing.T) *simulator {
	t.Helper()
	s, err := aiesim.Listen("127.0.0.1:0", regfile.New())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	stop := func() {
		if cancel != nil {
			cancel()
			cancel = nil
			if err := <-done; err != nil {
				t.Errorf("Serve: %v", err)
			}
		}
	}
	t.Cleanup(stop)

	cfg := aie.DefaultConfig(aie.GenAIEML)
	cfg.NumCols = 2
	cfg.Backend = aie.BackendSocket
	cfg.Socket.Host = "127.0.0.1"
	cfg.Socket.PortFile = filepath.Join(t.TempDir(), "aiesim.port")
	if err := aiesim.WritePortFile(cfg.Socket.PortFile, s.Port()); err != nil {
		t.Fatalf("WritePortFile: %v", err)
	}
	return &simulator{Server: s, cfg: cfg, stop: stop}
}

func testBackend(t *testing.T, sim *simulator) *Backend {
	t.Helper()
	b, err := New(sim.cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Finish() })
	return b
}

// settle waits for the simulator to apply the requests sent by b, so that
// its register file can be inspected directly.
func settle(t *testing.T, b *Backend) {
	t.Helper()
	if err := b.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestParseReply(t *testing.T) {
	for _, tc := range []struct {
		line string
		want uint32
	}{
		{"0X000002A5\n", 677},
		{"0xDEADBEEF\n", 0xDEADBEEF},
		{"677\n", 677},
		{"0X00000000\n", 0},
	} {
		got, err := parseReply(tc.line)
		if err != nil || got != tc.want {
			t.Errorf("parseReply(%q) = %d, %v, want %d", tc.line, got, err, tc.want)
		}
	}
	for _, line := range []string{"\n", "zz\n", "0X1FFFFFFFF\n"} {
		if _, err := parseReply(line); err == nil {
			t.Errorf("parseReply(%q) succeeded", line)
		}
	}
}

func TestRegisters(t *testing.T) {
	sim := startSim(t)
	b := testBackend(t, sim)
	off := sim.cfg.TileAddr(aie.Loc{Col: 1, Row: 3}, 0x100)

	if err := b.Write32(off, 0x2A5); err != nil {
		t.Fatalf("Write32: %v", err)
	}
	settle(t, b)
	if v := sim.Regs().Read32(sim.cfg.BaseAddr + off); v != 0x2A5 {
		t.Errorf("simulator register = %#x, want %#x", v, 0x2A5)
	}
	if err := b.MaskWrite32(off, 0xF0, 0x30); err != nil {
		t.Fatalf("MaskWrite32: %v", err)
	}
	if v, err := b.Read32(off); err != nil || v != 0x235 {
		t.Errorf("Read32 = %#x, %v, want %#x", v, err, 0x235)
	}

	if err := b.BlockWrite32(off+4, []uint32{1, 2, 3}); err != nil {
		t.Fatalf("BlockWrite32: %v", err)
	}
	if err := b.BlockSet32(off+16, 9, 2); err != nil {
		t.Fatalf("BlockSet32: %v", err)
	}
	settle(t, b)
	for i, want := range []uint32{0x235, 1, 2, 3, 9, 9} {
		if v := sim.Regs().Read32(sim.cfg.BaseAddr + off + uint64(i)*4); v != want {
			t.Errorf("word %d = %#x, want %#x", i, v, want)
		}
	}

	if err := b.Write32(sim.cfg.PartitionSize(), 0); !errors.Is(err, aie.ErrInvalidArgs) {
		t.Errorf("Write32 outside the partition = %v, want %v", err, aie.ErrInvalidArgs)
	}
}

func TestMaskPoll(t *testing.T) {
	sim := startSim(t)
	b := testBackend(t, sim)
	off := sim.cfg.TileAddr(aie.Loc{Col: 0, Row: 3}, 0x40)

	go func() {
		time.Sleep(20 * time.Millisecond)
		sim.Regs().Write32(sim.cfg.BaseAddr+off, 0x1)
	}()
	if err := b.MaskPoll(off, 0x1, 0x1, 10*time.Second); err != nil {
		t.Errorf("MaskPoll: %v", err)
	}

	const timeout = 5 * time.Millisecond
	start := time.Now()
	if err := b.MaskPoll(off, 0x2, 0x2, timeout); !errors.Is(err, aie.ErrPollTimeout) {
		t.Errorf("MaskPoll = %v, want %v", err, aie.ErrPollTimeout)
	}
	if elapsed := time.Since(start); elapsed < timeout {
		t.Errorf("MaskPoll gave up after %v, before the %v timeout", elapsed, timeout)
	}
}

func TestNpi(t *testing.T) {
	sim := startSim(t)
	b := testBackend(t, sim)
	nb := sim.cfg.NpiBaseAddr

	if err := b.RunOp(&aie.NpiWrite32{Off: 0x300, Value: 0x55}); err != nil {
		t.Fatalf("NpiWrite32: %v", err)
	}
	rd := &aie.NpiRead32{Off: 0x300}
	if err := b.RunOp(rd); err != nil || rd.Value != 0x55 {
		t.Errorf("NpiRead32 = %#x, %v, want %#x", rd.Value, err, 0x55)
	}
	if err := b.RunOp(&aie.NpiMaskPoll{Off: 0x300, Mask: 0x5, Value: 0x5, Timeout: time.Millisecond}); err != nil {
		t.Errorf("NpiMaskPoll: %v", err)
	}

	if err := b.RunOp(&aie.AssertShimReset{Assert: true}); err != nil {
		t.Fatalf("AssertShimReset: %v", err)
	}
	settle(t, b)
	if v := sim.Regs().Read32(nb + npi.PCSRControl); v != npi.ShimResetMask {
		t.Errorf("PCSR control = %#x, want %#x", v, npi.ShimResetMask)
	}
	if v := sim.Regs().Read32(nb + npi.PCSRLock); v != npi.LockValue {
		t.Errorf("PCSR lock = %#x, want locked", v)
	}
}

func TestPartitionInit(t *testing.T) {
	sim := startSim(t)
	b := testBackend(t, sim)
	cfg := sim.cfg
	l := &cfg.Layout

	opts := aie.PartInitOpts{Flags: aie.PartInitColReset | aie.PartInitShimReset | aie.PartInitBlockAxiErr}
	if err := b.RunOp(&aie.PartitionInit{Opts: opts}); err != nil {
		t.Fatalf("PartitionInit: %v", err)
	}
	settle(t, b)
	for col := uint8(0); col < cfg.NumCols; col++ {
		shim := cfg.BaseAddr + cfg.TileAddr(aie.Loc{Col: col, Row: cfg.ShimRow}, 0)
		if v := sim.Regs().Read32(shim + l.ClockControlOff); v&l.ClockEnableMask == 0 {
			t.Errorf("column %d clock gated after init", col)
		}
		if v := sim.Regs().Read32(shim + l.ColumnResetOff); v&l.ColumnResetMask != 0 {
			t.Errorf("column %d left in reset", col)
		}
	}
	if v := sim.Regs().Read32(cfg.NpiBaseAddr + npi.ProtRegCntr); v != 0 {
		t.Errorf("protected registers left open: %#x", v)
	}
	if !b.tiles.InUse(aie.Loc{Col: 1, Row: cfg.AieTileRowStart}) {
		t.Errorf("tiles not marked in use after init")
	}

	if err := b.RunOp(&aie.PartitionTeardown{}); err != nil {
		t.Fatalf("PartitionTeardown: %v", err)
	}
	settle(t, b)
	shim := cfg.BaseAddr + cfg.TileAddr(aie.Loc{Col: 0, Row: cfg.ShimRow}, 0)
	if v := sim.Regs().Read32(shim + l.ClockControlOff); v&l.ClockEnableMask != 0 {
		t.Errorf("column clock enabled after teardown")
	}
	if b.tiles.InUse(aie.Loc{Col: 1, Row: cfg.AieTileRowStart}) {
		t.Errorf("tiles in use after teardown")
	}
}

func TestTilesAndResources(t *testing.T) {
	sim := startSim(t)
	b := testBackend(t, sim)
	loc := aie.Loc{Col: 1, Row: sim.cfg.AieTileRowStart}
	if err := b.RunOp(&aie.RequestTiles{Locs: []aie.Loc{loc}}); err != nil {
		t.Fatalf("RequestTiles: %v", err)
	}
	req := &aie.ResourceRequest{Loc: loc, Mod: aie.ModCore, Type: aie.RscPerfCntr, NumPerTile: 1}
	if err := b.RunOp(&aie.RequestResource{Req: req}); err != nil || len(req.Granted) != 1 {
		t.Errorf("RequestResource = %v, granted %v", err, req.Granted)
	}
	if err := b.RunOp(&aie.ReleaseTiles{Locs: []aie.Loc{loc}}); err != nil {
		t.Errorf("ReleaseTiles: %v", err)
	}
	if _, err := b.MemAllocate(4096, aie.MemNonCacheable); !errors.Is(err, aie.ErrFeatureNotSupported) {
		t.Errorf("MemAllocate = %v, want %v", err, aie.ErrFeatureNotSupported)
	}
}

func TestFinishAppliesWrites(t *testing.T) {
	sim := startSim(t)
	off := sim.cfg.TileAddr(aie.Loc{Col: 1, Row: 3}, 0)
	const words = 64
	last := off + (words-1)*4
	for i := 0; i < 20; i++ {
		b, err := New(sim.cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		v := uint32(i + 1)
		if err := b.BlockSet32(off, v, words); err != nil {
			t.Fatalf("BlockSet32: %v", err)
		}
		if err := b.Finish(); err != nil {
			t.Fatalf("Finish: %v", err)
		}

		next, err := New(sim.cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		got, err := next.Read32(last)
		next.Finish()
		if err != nil {
			t.Fatalf("Read32: %v", err)
		}
		if got != v {
			t.Fatalf("round %d: last word on a new connection = %#x, want %#x", i, got, v)
		}
	}
}

// lineRecorder collects formatted log messages.
type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) Emit(_ int, _ log.Level, _ time.Time, format string, v ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

func (r *lineRecorder) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, l := range r.lines {
		if strings.HasPrefix(l, "socket -> ") {
			out = append(out, l)
		}
	}
	return out
}

func TestBlockWritesLogged(t *testing.T) {
	sim := startSim(t)
	b := testBackend(t, sim)
	off := sim.cfg.TileAddr(aie.Loc{Col: 0, Row: 3}, 0x20)

	rec := &lineRecorder{}
	old := log.Log()
	log.SetTarget(rec)
	log.SetLevel(log.Debug)
	t.Cleanup(func() {
		log.SetTarget(old.Emitter)
		log.SetLevel(old.Level)
	})

	if err := b.BlockSet32(off, 7, 2); err != nil {
		t.Fatalf("BlockSet32: %v", err)
	}
	if err := b.BlockWrite32(off+8, []uint32{1}); err != nil {
		t.Fatalf("BlockWrite32: %v", err)
	}
	base := sim.cfg.BaseAddr + off
	var want []string
	for i, v := range []uint32{7, 7, 1} {
		want = append(want, fmt.Sprintf("socket -> %q", fmt.Sprintf("W 0X%016X 0X%08X\n", base+uint64(i)*4, v)))
	}
	if diff := cmp.Diff(want, rec.sent()); diff != "" {
		t.Errorf("logged requests mismatch (-want +got):\n%s", diff)
	}
}

func TestConnectErrors(t *testing.T) {
	cfg := aie.DefaultConfig(aie.GenAIE)
	cfg.Socket.PortFile = filepath.Join(t.TempDir(), "missing.port")
	if _, err := New(cfg); !errors.Is(err, aie.ErrHardware) {
		t.Errorf("New without a port file = %v, want %v", err, aie.ErrHardware)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	if _, err := Dial(cfg, addr); !errors.Is(err, aie.ErrHardware) {
		t.Errorf("Dial of a closed port = %v, want %v", err, aie.ErrHardware)
	}

	cfg.Socket.ConnectTimeout = 100 * time.Millisecond
	start := time.Now()
	if _, err := Dial(cfg, addr); !errors.Is(err, aie.ErrHardware) {
		t.Errorf("Dial with retries = %v, want %v", err, aie.ErrHardware)
	}
	if elapsed := time.Since(start); elapsed < connectRetry {
		t.Errorf("Dial gave up after %v without retrying", elapsed)
	}
}

func TestConnectRetry(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	regs := regfile.New()
	regs.Write32(0xF6D10000+0x10, 0x2A5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listenErr := make(chan error, 1)
	go func() {
		time.Sleep(3 * connectRetry)
		s, err := aiesim.Listen(addr, regs)
		listenErr <- err
		if err == nil {
			s.Serve(ctx)
		}
	}()

	cfg := aie.DefaultConfig(aie.GenAIEML)
	cfg.Socket.ConnectTimeout = 10 * time.Second
	b, err := Dial(cfg, addr)
	if lerr := <-listenErr; lerr != nil {
		t.Skipf("port %s taken again: %v", addr, lerr)
	}
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer b.Finish()
	rd := &aie.NpiRead32{Off: 0x10}
	if err := b.RunOp(rd); err != nil || rd.Value != 677 {
		t.Errorf("NpiRead32 = %d, %v, want 677", rd.Value, err)
	}
}

func TestServerGone(t *testing.T) {
	sim := startSim(t)
	b := testBackend(t, sim)
	if _, err := b.Read32(0); err != nil {
		t.Fatalf("Read32: %v", err)
	}
	sim.stop()
	if _, err := b.Read32(0); !errors.Is(err, aie.ErrHardware) {
		t.Errorf("Read32 after the simulator exited = %v, want %v", err, aie.ErrHardware)
	}
}

func TestRegistered(t *testing.T) {
	sim := startSim(t)
	d, err := aie.NewDevice(sim.cfg)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	defer d.Finish()
	if got := d.Backend().Type(); got != aie.BackendSocket {
		t.Errorf("backend type = %v, want %v", got, aie.BackendSocket)
	}
}
