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

	"aieio.dev/aieio/aiectl/cmd/util"
	"aieio.dev/aieio/aiectl/config"
	"aieio.dev/aieio/pkg/aie"
	"github.com/google/subcommands"
)

// maxReadCount bounds the words a single read command dumps.
const maxReadCount = 1 << 16

// Read implements subcommands.Command for the "read" command.
type Read struct {
	tile tileFlag
	npi  bool
}

// Name implements subcommands.Command.Name.
func (*Read) Name() string {
	return "read"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Read) Synopsis() string {
	return "read 32 bit registers"
}

// Usage implements subcommands.Command.Usage.
func (*Read) Usage() string {
	return `read [flags] <offset> [count] - read count registers starting at offset.

Offsets are relative to the partition unless -tile or -npi is given.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Read) SetFlags(f *flag.FlagSet) {
	f.Var(&r.tile, "tile", "col,row of the tile the offset is relative to.")
	f.BoolVar(&r.npi, "npi", false, "read NPI registers, offsets are relative to the NPI base.")
}

// Execute implements subcommands.Command.Execute.
func (r *Read) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 || f.NArg() > 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	off, err := parseUint(f.Arg(0), 64)
	if err != nil {
		return util.Errorf("read: %v", err)
	}
	count := uint64(1)
	if f.NArg() == 2 {
		if count, err = parseUint(f.Arg(1), 32); err != nil {
			return util.Errorf("read: %v", err)
		}
		if count == 0 || count > maxReadCount {
			return util.Errorf("read: count %d outside [1, %d]", count, maxReadCount)
		}
	}

	err = withDevice(conf, func(d *aie.Device) error {
		base := r.tile.addr(d.Config(), off)
		for i := uint64(0); i < count; i++ {
			addr := base + 4*i
			var v uint32
			if r.npi {
				op := &aie.NpiRead32{Off: addr}
				if err := d.RunOp(op); err != nil {
					return err
				}
				v = op.Value
			} else {
				var err error
				if v, err = d.Read32(addr); err != nil {
					return err
				}
			}
			fmt.Fprintf(stdout, "0x%016x: 0x%08x\n", addr, v)
		}
		return nil
	})
	if err != nil {
		return util.Errorf("read: %v", err)
	}
	return subcommands.ExitSuccess
}
