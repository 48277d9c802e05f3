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
	"aieio.dev/aieio/pkg/cdo"
	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
)

// CDODump implements subcommands.Command for the "cdo-dump" command.
type CDODump struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*CDODump) Name() string {
	return "cdo-dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*CDODump) Synopsis() string {
	return "print the commands of a CDO file"
}

// Usage implements subcommands.Command.Usage.
func (*CDODump) Usage() string {
	return `cdo-dump [flags] <cdo file>
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *CDODump) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.format, "format", "text", "output format: text or yaml.")
}

// Execute implements subcommands.Command.Execute.
func (c *CDODump) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if c.format != "text" && c.format != "yaml" {
		return util.Errorf("cdo-dump: invalid format %q, must be 'text' or 'yaml'", c.format)
	}

	cmds, err := cdo.ReadFile(f.Arg(0))
	if err != nil {
		return util.Errorf("cdo-dump: %v", err)
	}
	if c.format == "yaml" {
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cmds); err != nil {
			return util.Errorf("cdo-dump: %v", err)
		}
		if err := enc.Close(); err != nil {
			return util.Errorf("cdo-dump: %v", err)
		}
		return subcommands.ExitSuccess
	}
	for i, cmd := range cmds {
		fmt.Fprintf(stdout, "%5d  %v\n", i, cmd)
	}
	return subcommands.ExitSuccess
}
