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


package cmd

import (
	"context"
	"flag"
	"fmt"
	"time"

	"aieio.dev/aieio/aiectl/cmd/util"
	"aieio.dev/aieio/aiectl/config"
	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/cdo"
	"aieio.dev/aieio/pkg/log"
	"github.com/google/subcommands"
)

// Replay implements subcommands.Command for the "replay" command.
type Replay struct{}

// Name implements subcommands.Command.Name.
func (*Replay) Name() string {
	return "replay"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Replay) Synopsis() string {
	return "run a recorded CDO stream on the device"
}

// Usage implements subcommands.Command.Usage.
func (*Replay) Usage() string {
	return `replay <cdo file> - run the commands of a CDO file on the selected backend.

Addresses inside the partition window go to the array, addresses from the NPI
base up go to NPI registers.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Replay) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Replay) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	cmds, err := cdo.ReadFile(f.Arg(0))
	if err != nil {
		return util.Errorf("replay: %v", err)
	}
	if err := withDevice(conf, func(d *aie.Device) error {
		return cdo.Replay(cmds, 0, &replayTarget{d: d})
	}); err != nil {
		return util.Errorf("replay: %v", err)
	}
	log.Infof("Replayed %d commands from %q", len(cmds), f.Arg(0))
	return subcommands.ExitSuccess
}

// replayTarget routes absolute CDO addresses to the partition or to NPI.
type replayTarget struct {
	d *aie.Device
}

// route returns the offset of the words at addr, and whether they are NPI
// registers.
func (t *replayTarget) route(addr uint64, words int) (uint64, bool, error) {
	cfg := t.d.Config()
	if base := cfg.PartitionBase(); addr >= base && addr-base < cfg.PartitionSize() {
		return addr - base, false, nil
	}
	if addr >= cfg.NpiBaseAddr {
		if words != 1 {
			return 0, false, fmt.Errorf("%w: block of %d words at NPI address %#x", aie.ErrInvalidArgs, words, addr)
		}
		return addr - cfg.NpiBaseAddr, true, nil
	}
	return 0, false, fmt.Errorf("%w: address %#x outside the partition and NPI", aie.ErrInvalidArgs, addr)
}

// Write32 implements cdo.Target.Write32.
func (t *replayTarget) Write32(addr uint64, v uint32) error {
	off, npi, err := t.route(addr, 1)
	switch {
	case err != nil:
		return err
	case npi:
		return t.d.RunOp(&aie.NpiWrite32{Off: off, Value: v})
	default:
		return t.d.Write32(off, v)
	}
}

// MaskWrite32 implements cdo.Target.MaskWrite32.
func (t *replayTarget) MaskWrite32(addr uint64, mask, v uint32) error {
	off, npi, err := t.route(addr, 1)
	switch {
	case err != nil:
		return err
	case npi:
		return t.d.RunOp(&aie.NpiMaskWrite32{Off: off, Mask: mask, Value: v})
	default:
		return t.d.MaskWrite32(off, mask, v)
	}
}

// MaskPoll implements cdo.Target.MaskPoll.
func (t *replayTarget) MaskPoll(addr uint64, mask, v uint32, timeout time.Duration) error {
	off, npi, err := t.route(addr, 1)
	switch {
	case err != nil:
		return err
	case npi:
		return t.d.RunOp(&aie.NpiMaskPoll{Off: off, Mask: mask, Value: v, Timeout: timeout})
	default:
		return t.d.MaskPoll(off, mask, v, timeout)
	}
}

// BlockWrite32 implements cdo.Target.BlockWrite32.
func (t *replayTarget) BlockWrite32(addr uint64, data []uint32) error {
	off, npi, err := t.route(addr, len(data))
	switch {
	case err != nil:
		return err
	case npi:
		return t.d.RunOp(&aie.NpiWrite32{Off: off, Value: data[0]})
	default:
		return t.d.BlockWrite32(off, data)
	}
}

// BlockSet32 implements cdo.Target.BlockSet32.
func (t *replayTarget) BlockSet32(addr uint64, v uint32, count int) error {
	off, npi, err := t.route(addr, count)
	switch {
	case err != nil:
		return err
	case npi:
		return t.d.RunOp(&aie.NpiWrite32{Off: off, Value: v})
	default:
		return t.d.BlockSet32(off, v, count)
	}
}
