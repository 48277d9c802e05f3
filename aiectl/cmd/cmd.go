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


// Package cmd holds implementations of the aiectl commands.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"aieio.dev/aieio/aiectl/config"
	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/log"
)

// stdout is where commands print their results.
var stdout io.Writer = os.Stdout

// withDevice opens the device described by conf, runs fn on it and finishes
// the device. The error of fn takes precedence over the one of Finish.
func withDevice(conf *config.Config, fn func(d *aie.Device) error) error {
	dc, err := conf.DeviceConfig()
	if err != nil {
		return err
	}
	d, err := aie.NewDevice(dc)
	if err != nil {
		return err
	}
	log.Debugf("Opened %v device, columns [%d, +%d)", dc.Backend, dc.StartCol, dc.NumCols)
	if err := fn(d); err != nil {
		if ferr := d.Finish(); ferr != nil {
			log.Warningf("Finishing device: %v", ferr)
		}
		return err
	}
	return d.Finish()
}

func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a %d bit number", aie.ErrInvalidArgs, s, bits)
	}
	return v, nil
}

func parseLoc(s string) (aie.Loc, error) {
	col, row, ok := strings.Cut(s, ",")
	if !ok {
		return aie.Loc{}, fmt.Errorf("%w: tile %q is not col,row", aie.ErrInvalidArgs, s)
	}
	c, err := parseUint(strings.TrimSpace(col), 8)
	if err != nil {
		return aie.Loc{}, err
	}
	r, err := parseUint(strings.TrimSpace(row), 8)
	if err != nil {
		return aie.Loc{}, err
	}
	return aie.Loc{Col: uint8(c), Row: uint8(r)}, nil
}

// tileFlag selects the tile offsets are relative to. Unset, offsets are
// relative to the partition.
type tileFlag struct {
	loc aie.Loc
	set bool
}

// String implements flag.Value.
func (t *tileFlag) String() string {
	if !t.set {
		return ""
	}
	return fmt.Sprintf("%d,%d", t.loc.Col, t.loc.Row)
}

// Set implements flag.Value.
func (t *tileFlag) Set(s string) error {
	loc, err := parseLoc(s)
	if err != nil {
		return err
	}
	t.loc, t.set = loc, true
	return nil
}

func (t *tileFlag) addr(cfg *aie.Config, off uint64) uint64 {
	if !t.set {
		return off
	}
	return cfg.TileAddr(t.loc, off)
}

// tileList collects repeated -tile flags.
type tileList []aie.Loc

// String implements flag.Value.
func (l *tileList) String() string {
	s := make([]string, 0, len(*l))
	for _, loc := range *l {
		s = append(s, fmt.Sprintf("%d,%d", loc.Col, loc.Row))
	}
	return strings.Join(s, " ")
}

// Set implements flag.Value.
func (l *tileList) Set(s string) error {
	loc, err := parseLoc(s)
	if err != nil {
		return err
	}
	*l = append(*l, loc)
	return nil
}

// maskFlag is an optional 32 bit mask.
type maskFlag struct {
	mask uint32
	set  bool
}

// String implements flag.Value.
func (m *maskFlag) String() string {
	if !m.set {
		return ""
	}
	return fmt.Sprintf("%#x", m.mask)
}

// Set implements flag.Value.
func (m *maskFlag) Set(s string) error {
	v, err := parseUint(s, 32)
	if err != nil {
		return err
	}
	m.mask, m.set = uint32(v), true
	return nil
}
