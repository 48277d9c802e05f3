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
	"time"

	"aieio.dev/aieio/aiectl/cmd/util"
	"aieio.dev/aieio/aiectl/config"
	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/log"
	"github.com/google/subcommands"
)

// Poll implements subcommands.Command for the "poll" command.
type Poll struct {
	tile    tileFlag
	mask    maskFlag
	timeout time.Duration
	npi     bool
}

// Name implements subcommands.Command.Name.
func (*Poll) Name() string {
	return "poll"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Poll) Synopsis() string {
	return "wait for a register to hold a value"
}

// Usage implements subcommands.Command.Usage.
func (*Poll) Usage() string {
	return `poll [flags] <offset> <value> - wait until (register & mask) == value.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Poll) SetFlags(f *flag.FlagSet) {
	f.Var(&p.tile, "tile", "col,row of the tile the offset is relative to.")
	f.Var(&p.mask, "mask", "bits compared, default all.")
	f.DurationVar(&p.timeout, "timeout", time.Second, "how long to wait.")
	f.BoolVar(&p.npi, "npi", false, "poll an NPI register, the offset is relative to the NPI base.")
}

// Execute implements subcommands.Command.Execute.
func (p *Poll) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	off, err := parseUint(f.Arg(0), 64)
	if err != nil {
		return util.Errorf("poll: %v", err)
	}
	v, err := parseUint(f.Arg(1), 32)
	if err != nil {
		return util.Errorf("poll: %v", err)
	}
	mask := uint32(0xFFFFFFFF)
	if p.mask.set {
		mask = p.mask.mask
	}

	start := time.Now()
	err = withDevice(conf, func(d *aie.Device) error {
		addr := p.tile.addr(d.Config(), off)
		if p.npi {
			return d.RunOp(&aie.NpiMaskPoll{Off: addr, Mask: mask, Value: uint32(v), Timeout: p.timeout})
		}
		return d.MaskPoll(addr, mask, uint32(v), p.timeout)
	})
	if err != nil {
		return util.Errorf("poll: %v", err)
	}
	log.Debugf("Poll matched after %v", time.Since(start))
	return subcommands.ExitSuccess
}
