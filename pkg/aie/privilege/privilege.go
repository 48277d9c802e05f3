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

// Package privilege sequences the privileged partition operations shared by
// the backends: partition initialization and teardown, and tile requests.
//
// Protected register access is opened first and closed last. It is closed
// on every return path, including failures.
package privilege

import (
	"fmt"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/aie/rsc"
	"aieio.dev/aieio/pkg/log"
)

// IO is the register access the sequencer needs. Every aie.Backend is an IO.
type IO interface {
	Write32(off uint64, v uint32) error
	MaskWrite32(off uint64, mask, v uint32) error
	BlockSet32(off uint64, v uint32, count int) error
	RunOp(op aie.Op) error
}

type seq struct {
	io  IO
	cfg *aie.Config
}

func (s *seq) protReg(enable bool) error {
	if err := s.io.RunOp(&aie.SetProtectedReg{Enable: enable, StartCol: s.cfg.StartCol, NumCols: s.cfg.NumCols}); err != nil {
		return fmt.Errorf("protected registers enable=%v: %w", enable, err)
	}
	return nil
}

// guard closes protected register access, keeping the first error.
func (s *seq) guard(err *error) {
	if perr := s.protReg(false); perr != nil {
		log.Warningf("Failed to disable protected registers: %v", perr)
		if *err == nil {
			*err = perr
		}
	}
}

func (s *seq) shimAddr(col uint8, off uint64) uint64 {
	return s.cfg.TileAddr(aie.Loc{Col: col, Row: s.cfg.ShimRow}, off)
}

// columnClock gates or ungates the clock buffer of col.
func (s *seq) columnClock(col uint8, enable bool) error {
	l := &s.cfg.Layout
	var v uint32
	if enable {
		v = l.ClockEnableMask
	}
	if err := s.io.MaskWrite32(s.shimAddr(col, l.ClockControlOff), l.ClockEnableMask, v); err != nil {
		return fmt.Errorf("column %d clock enable=%v: %w", col, enable, err)
	}
	return nil
}

func (s *seq) clocks(enable bool) error {
	for col := uint8(0); col < s.cfg.NumCols; col++ {
		if err := s.columnClock(col, enable); err != nil {
			return err
		}
	}
	return nil
}

func (s *seq) columnReset(assert bool) error {
	l := &s.cfg.Layout
	var v uint32
	if assert {
		v = l.ColumnResetMask
	}
	for col := uint8(0); col < s.cfg.NumCols; col++ {
		if err := s.io.MaskWrite32(s.shimAddr(col, l.ColumnResetOff), l.ColumnResetMask, v); err != nil {
			return fmt.Errorf("column %d reset assert=%v: %w", col, assert, err)
		}
	}
	return nil
}

func (s *seq) resetColumns() error {
	if err := s.columnReset(true); err != nil {
		return err
	}
	return s.columnReset(false)
}

func (s *seq) resetShim() error {
	for _, assert := range []bool{true, false} {
		if err := s.io.RunOp(&aie.AssertShimReset{Assert: assert}); err != nil {
			return fmt.Errorf("shim reset assert=%v: %w", assert, err)
		}
	}
	return nil
}

// blockAxiErrors makes SHIM NOC tiles raise events on AXI slave and decode
// errors instead of forwarding them.
func (s *seq) blockAxiErrors() error {
	l := &s.cfg.Layout
	mask := l.AxiSlvErrBlockMask | l.AxiDecErrBlockMask
	for col := uint8(0); col < s.cfg.NumCols; col++ {
		if !s.cfg.IsNocColumn(col) {
			continue
		}
		if err := s.io.MaskWrite32(s.shimAddr(col, l.AxiMMConfigOff), mask, mask); err != nil {
			return fmt.Errorf("column %d AXI-MM error blocking: %w", col, err)
		}
	}
	return nil
}

// isolate cuts the west edge of the first column and the east edge of the
// last one from the neighbouring partitions. Inner tiles are not isolated.
func (s *seq) isolate() error {
	l := &s.cfg.Layout
	last := s.cfg.NumCols - 1
	for col := uint8(0); col < s.cfg.NumCols; col++ {
		var v uint32
		if col == 0 {
			v |= l.IsolateWestMask
		}
		if col == last {
			v |= l.IsolateEastMask
		}
		for row := uint8(0); row < s.cfg.NumRows; row++ {
			loc := aie.Loc{Col: col, Row: row}
			var off uint64
			switch s.cfg.TileType(loc) {
			case aie.TileAIE:
				off = l.CoreTileCtrlOff
			case aie.TileMem:
				off = l.MemTileCtrlOff
			case aie.TileShimNOC, aie.TileShimPL:
				off = l.ShimTileCtrlOff
			default:
				continue
			}
			if err := s.io.Write32(s.cfg.TileAddr(loc, off), v); err != nil {
				return fmt.Errorf("tile %v isolation: %w", loc, err)
			}
		}
	}
	return nil
}

// zeroMem clears program and data memory of core tiles and the data memory
// of memory tiles.
func (s *seq) zeroMem() error {
	l := &s.cfg.Layout
	for col := uint8(0); col < s.cfg.NumCols; col++ {
		for row := uint8(0); row < s.cfg.NumRows; row++ {
			loc := aie.Loc{Col: col, Row: row}
			var windows [][2]uint64
			switch s.cfg.TileType(loc) {
			case aie.TileAIE:
				windows = [][2]uint64{
					{l.ProgMemHostOffset, l.ProgMemSize},
					{l.DataMemAddr, l.DataMemSize},
				}
			case aie.TileMem:
				windows = [][2]uint64{{l.MemTileDataMemAddr, l.MemTileDataMemSize}}
			}
			for _, w := range windows {
				if w[1] == 0 {
					continue
				}
				if err := s.io.BlockSet32(s.cfg.TileAddr(loc, w[0]), 0, int(w[1]/4)); err != nil {
					return fmt.Errorf("tile %v zero memory at %#x: %w", loc, w[0], err)
				}
			}
		}
	}
	return nil
}

// InitPart brings the partition into a known state. The steps selected by
// opts run in this order: column reset, shim reset, AXI error blocking,
// clock enable (always), isolation and memory zeroing. The tiles of
// opts.Locs, or the whole partition, are then marked in use.
func InitPart(io IO, cfg *aie.Config, tiles *rsc.TileMap, opts aie.PartInitOpts) (err error) {
	s := &seq{io: io, cfg: cfg}
	defer s.guard(&err)
	if err := s.protReg(true); err != nil {
		return err
	}

	if opts.Has(aie.PartInitColReset) {
		if err := s.clocks(false); err != nil {
			return err
		}
		if err := s.resetColumns(); err != nil {
			return err
		}
	}
	if opts.Has(aie.PartInitShimReset) {
		if err := s.resetShim(); err != nil {
			return err
		}
	}
	if opts.Has(aie.PartInitBlockAxiErr) {
		if err := s.blockAxiErrors(); err != nil {
			return err
		}
	}
	if err := s.clocks(true); err != nil {
		return err
	}
	if opts.Has(aie.PartInitIsolation) {
		if err := s.isolate(); err != nil {
			return err
		}
	}
	if opts.Has(aie.PartInitZeroMem) {
		if err := s.zeroMem(); err != nil {
			return err
		}
	}
	if tiles != nil {
		if err := tiles.Set(opts.Locs); err != nil {
			return err
		}
	}
	log.Debugf("Partition at column %d (%d columns) initialized, flags %#x", cfg.StartCol, cfg.NumCols, uint32(opts.Flags))
	return nil
}

// TeardownPart resets the partition, clears its memories and gates its
// clocks.
func TeardownPart(io IO, cfg *aie.Config, tiles *rsc.TileMap) (err error) {
	s := &seq{io: io, cfg: cfg}
	defer s.guard(&err)
	for _, step := range []func() error{
		func() error { return s.protReg(true) },
		func() error { return s.clocks(false) },
		s.resetColumns,
		s.resetShim,
		func() error { return s.clocks(true) },
		s.zeroMem,
		func() error { return s.clocks(false) },
	} {
		if err := step(); err != nil {
			return err
		}
	}
	if tiles != nil {
		if err := tiles.Clear(nil); err != nil {
			return err
		}
	}
	log.Debugf("Partition at column %d torn down", cfg.StartCol)
	return nil
}

// RequestTiles ungates the columns of locs, or of the whole partition when
// locs is empty, and marks the tiles in use. Generations after the first
// need protected register access for this.
func RequestTiles(io IO, cfg *aie.Config, tiles *rsc.TileMap, locs []aie.Loc) (err error) {
	s := &seq{io: io, cfg: cfg}
	if cfg.Generation != aie.GenAIE {
		defer s.guard(&err)
		if err := s.protReg(true); err != nil {
			return err
		}
	}
	locs = tiles.Expand(locs)
	for _, col := range rsc.Columns(locs) {
		if err := s.columnClock(col, true); err != nil {
			return err
		}
	}
	return tiles.Set(locs)
}

// ReleaseTiles marks locs unused and gates the columns left without a tile in
// use.
func ReleaseTiles(io IO, cfg *aie.Config, tiles *rsc.TileMap, locs []aie.Loc) (err error) {
	locs = tiles.Expand(locs)
	if err := tiles.Clear(locs); err != nil {
		return err
	}
	s := &seq{io: io, cfg: cfg}
	if cfg.Generation != aie.GenAIE {
		defer s.guard(&err)
		if err := s.protReg(true); err != nil {
			return err
		}
	}
	for _, col := range rsc.Columns(locs) {
		busy := false
		for row := uint8(0); row < cfg.NumRows && !busy; row++ {
			busy = tiles.InUse(aie.Loc{Col: col, Row: row})
		}
		if busy {
			continue
		}
		if err := s.columnClock(col, false); err != nil {
			return err
		}
	}
	return nil
}
