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

package npi

import (
	"errors"
	"testing"
	"time"

	"aieio.dev/aieio/pkg/aie"
	"github.com/google/go-cmp/cmp"
)

type write struct {
	Off uint64
	V   uint32
}

type regs struct {
	vals   map[uint64]uint32
	writes []write
	failAt int
}

func newRegs() *regs {
	return &regs{vals: make(map[uint64]uint32)}
}

var errWrite = errors.New("write failed")

func (r *regs) Write32(off uint64, v uint32) error {
	r.writes = append(r.writes, write{off, v})
	if r.failAt != 0 && len(r.writes) == r.failAt {
		return errWrite
	}
	r.vals[off] = v
	return nil
}

func (r *regs) Read32(off uint64) (uint32, error) {
	return r.vals[off], nil
}

func TestShimResetBracket(t *testing.T) {
	r := newRegs()
	if err := SetShimReset(r, true); err != nil {
		t.Fatalf("SetShimReset: %v", err)
	}
	want := []write{
		{PCSRLock, UnlockKey},
		{PCSRMask, ShimResetMask},
		{PCSRControl, ShimResetMask},
		{PCSRMask, 0},
		{PCSRLock, LockValue},
	}
	if diff := cmp.Diff(want, r.writes); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestBracketLocksOnFailure(t *testing.T) {
	for _, tc := range []struct {
		name   string
		writes int
		fn     func(w Writer) error
	}{
		{"shim reset", 5, func(w Writer) error { return SetShimReset(w, false) }},
		{"protected registers", 3, func(w Writer) error {
			return SetProtectedRegEnable(w, ProtRegReq{Enable: true, NumCols: 1})
		}},
		{"irq enable", 3, func(w Writer) error { return IrqEnable(w, 1, 3) }},
		{"irq disable", 3, func(w Writer) error { return IrqDisable(w, 1, 3) }},
	} {
		for k := 1; k <= tc.writes; k++ {
			r := newRegs()
			r.failAt = k
			if err := tc.fn(r); !errors.Is(err, errWrite) {
				t.Fatalf("%s, failAt %d: got %v, want %v", tc.name, k, err, errWrite)
			}
			if last := r.writes[len(r.writes)-1]; last != (write{PCSRLock, LockValue}) {
				t.Errorf("%s, failAt %d: last write %+v, want lock", tc.name, k, last)
			}
		}
	}
}

func TestProtRegValue(t *testing.T) {
	for _, tc := range []struct {
		req  ProtRegReq
		want uint32
	}{
		{ProtRegReq{Enable: false, StartCol: 1, NumCols: 4}, 0},
		{ProtRegReq{Enable: true, NumCols: 0}, 0},
		{ProtRegReq{Enable: true, StartCol: 0, NumCols: 1}, 0x1},
		{ProtRegReq{Enable: true, StartCol: 1, NumCols: 4}, 0x1 | 1<<1 | 4<<8},
		{ProtRegReq{Enable: true, StartCol: 0, NumCols: 50}, 0x1 | 49<<8},
	} {
		if got := ProtRegValue(tc.req); got != tc.want {
			t.Errorf("ProtRegValue(%+v) = %#x, want %#x", tc.req, got, tc.want)
		}
	}
}

func TestIrq(t *testing.T) {
	r := newRegs()
	if err := IrqEnable(r, 2, 5); err != nil {
		t.Fatalf("IrqEnable: %v", err)
	}
	if got, want := r.vals[IrqEnableBase+2*IrqStride], uint32(1<<5); got != want {
		t.Errorf("enable register = %#x, want %#x", got, want)
	}
	if err := IrqDisable(r, 2, 5); err != nil {
		t.Fatalf("IrqDisable: %v", err)
	}
	if got, want := r.vals[IrqDisableBase+2*IrqStride], uint32(1<<5); got != want {
		t.Errorf("disable register = %#x, want %#x", got, want)
	}
	if err := IrqEnable(r, NumIrqs, 0); !errors.Is(err, aie.ErrInvalidArgs) {
		t.Errorf("IrqEnable(out of range) = %v, want %v", err, aie.ErrInvalidArgs)
	}
}

func TestRunOp(t *testing.T) {
	cfg := aie.DefaultConfig(aie.GenAIEML)
	cfg.StartCol, cfg.NumCols = 2, 3
	r := newRegs()

	if handled, err := RunOp(r, cfg, &aie.NpiWrite32{Off: 0x100, Value: 0xff}); !handled || err != nil {
		t.Fatalf("NpiWrite32: handled %v, err %v", handled, err)
	}
	if handled, err := RunOp(r, cfg, &aie.NpiMaskWrite32{Off: 0x100, Mask: 0x0f, Value: 0x3}); !handled || err != nil {
		t.Fatalf("NpiMaskWrite32: handled %v, err %v", handled, err)
	}
	rd := &aie.NpiRead32{Off: 0x100}
	if _, err := RunOp(r, cfg, rd); err != nil {
		t.Fatalf("NpiRead32: %v", err)
	}
	if rd.Value != 0xf3 {
		t.Errorf("NpiRead32 = %#x, want 0xf3", rd.Value)
	}
	if _, err := RunOp(r, cfg, &aie.NpiMaskPoll{Off: 0x100, Mask: 0xf0, Value: 0xf0, Timeout: time.Millisecond}); err != nil {
		t.Errorf("NpiMaskPoll: %v", err)
	}

	// An empty column range covers the partition.
	if _, err := RunOp(r, cfg, &aie.SetProtectedReg{Enable: true}); err != nil {
		t.Fatalf("SetProtectedReg: %v", err)
	}
	if got, want := r.vals[ProtRegCntr], ProtRegValue(ProtRegReq{Enable: true, StartCol: 2, NumCols: 3}); got != want {
		t.Errorf("protected register = %#x, want %#x", got, want)
	}

	if handled, _ := RunOp(r, cfg, &aie.PartitionTeardown{}); handled {
		t.Errorf("PartitionTeardown handled as an NPI op")
	}
}

func TestRunOpFirstGenerationProtReg(t *testing.T) {
	r := newRegs()
	if _, err := RunOp(r, aie.DefaultConfig(aie.GenAIE), &aie.SetProtectedReg{Enable: true}); err != nil {
		t.Fatalf("SetProtectedReg: %v", err)
	}
	if len(r.writes) != 0 {
		t.Errorf("got writes %+v, want none", r.writes)
	}
}

func TestRunOpWriteOnly(t *testing.T) {
	var n int
	w := WriterFunc(func(uint64, uint32) error { n++; return nil })
	cfg := aie.DefaultConfig(aie.GenAIEML)
	if _, err := RunOp(w, cfg, &aie.NpiRead32{}); !errors.Is(err, aie.ErrFeatureNotSupported) {
		t.Errorf("NpiRead32 on write only region = %v, want %v", err, aie.ErrFeatureNotSupported)
	}
	if _, err := RunOp(w, cfg, &aie.AssertShimReset{Assert: true}); err != nil {
		t.Errorf("AssertShimReset: %v", err)
	}
	if n != 5 {
		t.Errorf("got %d writes, want 5", n)
	}
}
