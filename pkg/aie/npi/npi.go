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

// Package npi drives the NoC Peripheral Interconnect registers of the array:
// partition shim reset, protected register access and interrupt routing.
//
// Every control write is bracketed: the PCSR lock is opened with the unlock
// key, the written bits are enabled in the PCSR mask, the control register is
// written, the mask is cleared and the lock is closed again.
package npi

import (
	"errors"
	"fmt"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/aie/iocommon"
	"aieio.dev/aieio/pkg/log"
)

// NPI register offsets relative to the NPI base.
const (
	PCSRMask    = 0x00
	PCSRControl = 0x04
	PCSRLock    = 0x0C

	ProtRegCntr = 0x200

	IrqEnableBase  = 0x38
	IrqDisableBase = 0x3C
	IrqStride      = 0x10
)

// Register fields.
const (
	UnlockKey = 0xF9E8D7C6
	LockValue = 0x0

	ShimResetMask = 1 << 1

	ProtRegEnableMask   = 1 << 0
	ProtRegFirstColLSB  = 1
	ProtRegFirstColMask = 0x7F << ProtRegFirstColLSB
	ProtRegLastColLSB   = 8
	ProtRegLastColMask  = 0x7F << ProtRegLastColLSB

	NumIrqs = 4
)

// Writer writes NPI registers.
type Writer interface {
	Write32(off uint64, v uint32) error
}

// ReadWriter reads and writes NPI registers.
type ReadWriter interface {
	Writer
	Read32(off uint64) (uint32, error)
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(off uint64, v uint32) error

// Write32 implements Writer.Write32.
func (f WriterFunc) Write32(off uint64, v uint32) error {
	return f(off, v)
}

func unlock(w Writer) error {
	return w.Write32(PCSRLock, UnlockKey)
}

func lock(w Writer) error {
	return w.Write32(PCSRLock, LockValue)
}

// locked runs fn between an unlock and a lock of the PCSR. The lock is
// written on every path, including a failed unlock; the first error is
// returned.
func locked(w Writer, fn func() error) error {
	err := unlock(w)
	if err == nil {
		err = fn()
	}
	if lerr := lock(w); err == nil {
		err = lerr
	}
	return err
}

// writePCSR writes the bits of mask in the PCSR control register.
func writePCSR(w Writer, mask, v uint32) error {
	return locked(w, func() error {
		if err := w.Write32(PCSRMask, mask); err != nil {
			return err
		}
		if err := w.Write32(PCSRControl, v&mask); err != nil {
			return err
		}
		return w.Write32(PCSRMask, 0)
	})
}

// SetShimReset asserts or deasserts the shim reset of the partition.
func SetShimReset(w Writer, assert bool) error {
	var v uint32
	if assert {
		v = ShimResetMask
	}
	if err := writePCSR(w, ShimResetMask, v); err != nil {
		return fmt.Errorf("npi shim reset %v: %w", assert, err)
	}
	return nil
}

// ProtRegReq selects the columns whose protected registers are opened.
type ProtRegReq struct {
	Enable   bool
	StartCol uint8
	NumCols  uint8
}

// ProtRegValue encodes req into the protected register control value.
func ProtRegValue(req ProtRegReq) uint32 {
	if !req.Enable || req.NumCols == 0 {
		return 0
	}
	first := uint32(req.StartCol)
	last := first + uint32(req.NumCols) - 1
	return ProtRegEnableMask |
		(first<<ProtRegFirstColLSB)&ProtRegFirstColMask |
		(last<<ProtRegLastColLSB)&ProtRegLastColMask
}

// SetProtectedRegEnable opens or closes protected register access.
func SetProtectedRegEnable(w Writer, req ProtRegReq) error {
	err := locked(w, func() error {
		return w.Write32(ProtRegCntr, ProtRegValue(req))
	})
	if err != nil {
		return fmt.Errorf("npi protected registers enable=%v: %w", req.Enable, err)
	}
	return nil
}

func irqOff(base uint64, npiIrq uint8) uint64 {
	return base + uint64(npiIrq)*IrqStride
}

func checkIrq(npiIrq, aieIrq uint8) error {
	if npiIrq >= NumIrqs || aieIrq >= 32 {
		return fmt.Errorf("%w: npi irq %d, aie irq %d", aie.ErrInvalidArgs, npiIrq, aieIrq)
	}
	return nil
}

// IrqEnable routes AIE interrupt aieIrq to NPI interrupt npiIrq.
func IrqEnable(w Writer, npiIrq, aieIrq uint8) error {
	if err := checkIrq(npiIrq, aieIrq); err != nil {
		return err
	}
	return bracket(w, irqOff(IrqEnableBase, npiIrq), uint32(1)<<aieIrq)
}

// IrqDisable removes the routing of aieIrq to npiIrq.
func IrqDisable(w Writer, npiIrq, aieIrq uint8) error {
	if err := checkIrq(npiIrq, aieIrq); err != nil {
		return err
	}
	return bracket(w, irqOff(IrqDisableBase, npiIrq), uint32(1)<<aieIrq)
}

func bracket(w Writer, off uint64, v uint32) error {
	return locked(w, func() error {
		return w.Write32(off, v)
	})
}

// RunOp runs the NPI backed secondary operations against rw. It reports
// whether op is an NPI operation; other operations are left to the caller.
// Protected register access does not exist on the first generation and is a
// no-op there.
func RunOp(rw Writer, cfg *aie.Config, op aie.Op) (bool, error) {
	switch o := op.(type) {
	case *aie.NpiWrite32:
		return true, rw.Write32(o.Off, o.Value)
	case *aie.NpiMaskWrite32:
		r, err := reader(rw, op)
		if err != nil {
			return true, err
		}
		v, err := r.Read32(o.Off)
		if err != nil {
			return true, err
		}
		return true, rw.Write32(o.Off, v&^o.Mask|o.Value&o.Mask)
	case *aie.NpiRead32:
		r, err := reader(rw, op)
		if err != nil {
			return true, err
		}
		v, err := r.Read32(o.Off)
		o.Value = v
		return true, err
	case *aie.NpiMaskPoll:
		r, err := reader(rw, op)
		if err != nil {
			return true, err
		}
		return true, iocommon.MaskPoll(func() (uint32, error) { return r.Read32(o.Off) }, o.Mask, o.Value, o.Timeout)
	case *aie.NpiIrq:
		if o.Enable {
			return true, IrqEnable(rw, o.NpiIrqID, o.AieIrqID)
		}
		return true, IrqDisable(rw, o.NpiIrqID, o.AieIrqID)
	case *aie.AssertShimReset:
		return true, SetShimReset(rw, o.Assert)
	case *aie.SetProtectedReg:
		if cfg.Generation == aie.GenAIE {
			return true, nil
		}
		req := ProtRegReq{Enable: o.Enable, StartCol: o.StartCol, NumCols: o.NumCols}
		if req.NumCols == 0 {
			req.StartCol, req.NumCols = cfg.StartCol, cfg.NumCols
		}
		return true, SetProtectedRegEnable(rw, req)
	}
	return false, nil
}

var errNoRead = errors.New("npi region is write only")

func reader(w Writer, op aie.Op) (ReadWriter, error) {
	if r, ok := w.(ReadWriter); ok {
		return r, nil
	}
	log.Debugf("NPI op %s needs register reads", op.OpName())
	return nil, fmt.Errorf("%s: %w: %w", op.OpName(), aie.ErrFeatureNotSupported, errNoRead)
}
