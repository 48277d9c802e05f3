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
	"aieio.dev/aieio/pkg/log"
	"github.com/google/subcommands"
)

// PartInit implements subcommands.Command for the "part-init" command.
type PartInit struct {
	colReset    bool
	shimReset   bool
	blockAxiErr bool
	isolation   bool
	zeroMem     bool
	tiles       tileList
}

// Name implements subcommands.Command.Name.
func (*PartInit) Name() string {
	return "part-init"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*PartInit) Synopsis() string {
	return "initialize the partition"
}

// Usage implements subcommands.Command.Usage.
func (*PartInit) Usage() string {
	return `part-init [flags] - reset, isolate and ungate the partition.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *PartInit) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&p.colReset, "col-reset", true, "reset the partition columns.")
	f.BoolVar(&p.shimReset, "shim-reset", true, "reset the shim tiles.")
	f.BoolVar(&p.blockAxiErr, "block-axi-err", true, "block AXI-MM slave and decode errors of SHIM NOC tiles.")
	f.BoolVar(&p.isolation, "isolation", true, "isolate the partition from its neighbours.")
	f.BoolVar(&p.zeroMem, "zero-mem", false, "zero program and data memories.")
	f.Var(&p.tiles, "tile", "col,row of a tile marked in use, may be repeated.")
}

func (p *PartInit) opts() aie.PartInitOpts {
	opts := aie.PartInitOpts{Locs: p.tiles}
	for _, s := range []struct {
		on   bool
		flag aie.PartInitFlag
	}{
		{p.colReset, aie.PartInitColReset},
		{p.shimReset, aie.PartInitShimReset},
		{p.blockAxiErr, aie.PartInitBlockAxiErr},
		{p.isolation, aie.PartInitIsolation},
		{p.zeroMem, aie.PartInitZeroMem},
	} {
		if s.on {
			opts.Flags |= s.flag
		}
	}
	return opts
}

// Execute implements subcommands.Command.Execute.
func (p *PartInit) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	opts := p.opts()
	if err := withDevice(conf, func(d *aie.Device) error {
		return d.PartitionInit(opts)
	}); err != nil {
		return util.Errorf("part-init: %v", err)
	}
	log.Infof("Partition initialized, flags %#x, %d tiles in use", uint32(opts.Flags), len(opts.Locs))
	return subcommands.ExitSuccess
}

// PartTeardown implements subcommands.Command for the "part-teardown" command.
type PartTeardown struct{}

// Name implements subcommands.Command.Name.
func (*PartTeardown) Name() string {
	return "part-teardown"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*PartTeardown) Synopsis() string {
	return "reset the partition and gate its clocks"
}

// Usage implements subcommands.Command.Usage.
func (*PartTeardown) Usage() string {
	return `part-teardown
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*PartTeardown) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*PartTeardown) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	if err := withDevice(conf, func(d *aie.Device) error {
		return d.PartitionTeardown()
	}); err != nil {
		return util.Errorf("part-teardown: %v", err)
	}
	return subcommands.ExitSuccess
}
