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

	"aieio.dev/aieio/aiectl/cmd/util"
	"aieio.dev/aieio/aiectl/config"
	"aieio.dev/aieio/pkg/aie"
	"github.com/google/subcommands"
)

// Write implements subcommands.Command for the "write" command.
type Write struct {
	tile   tileFlag
	mask   maskFlag
	repeat int
	npi    bool
}

// Name implements subcommands.Command.Name.
func (*Write) Name() string {
	return "write"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Write) Synopsis() string {
	return "write 32 bit registers"
}

// Usage implements subcommands.Command.Usage.
func (*Write) Usage() string {
	return `write [flags] <offset> <value> [value...] - write consecutive registers.

With -mask only the masked bits of a single register change. With -repeat the
single value is written to that many consecutive registers.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (w *Write) SetFlags(f *flag.FlagSet) {
	f.Var(&w.tile, "tile", "col,row of the tile the offset is relative to.")
	f.Var(&w.mask, "mask", "only change the bits set in mask.")
	f.IntVar(&w.repeat, "repeat", 0, "write the value to this many consecutive registers.")
	f.BoolVar(&w.npi, "npi", false, "write an NPI register, the offset is relative to the NPI base.")
}

// Execute implements subcommands.Command.Execute.
func (w *Write) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	single := w.mask.set || w.repeat > 0 || w.npi
	if single && f.NArg() != 2 {
		return util.Errorf("write: -mask, -repeat and -npi take a single value")
	}
	if w.npi && w.repeat > 0 {
		return util.Errorf("write: -repeat does not apply to NPI registers")
	}
	if w.repeat < 0 {
		return util.Errorf("write: negative repeat %d", w.repeat)
	}
	conf := args[0].(*config.Config)

	off, err := parseUint(f.Arg(0), 64)
	if err != nil {
		return util.Errorf("write: %v", err)
	}
	var vals []uint32
	for _, a := range f.Args()[1:] {
		v, err := parseUint(a, 32)
		if err != nil {
			return util.Errorf("write: %v", err)
		}
		vals = append(vals, uint32(v))
	}

	err = withDevice(conf, func(d *aie.Device) error {
		addr := w.tile.addr(d.Config(), off)
		switch {
		case w.npi && w.mask.set:
			return d.RunOp(&aie.NpiMaskWrite32{Off: addr, Mask: w.mask.mask, Value: vals[0]})
		case w.npi:
			return d.RunOp(&aie.NpiWrite32{Off: addr, Value: vals[0]})
		case w.mask.set:
			return d.MaskWrite32(addr, w.mask.mask, vals[0])
		case w.repeat > 0:
			return d.BlockSet32(addr, vals[0], w.repeat)
		case len(vals) == 1:
			return d.Write32(addr, vals[0])
		default:
			return d.BlockWrite32(addr, vals)
		}
	})
	if err != nil {
		return util.Errorf("write: %v", err)
	}
	return subcommands.ExitSuccess
}
