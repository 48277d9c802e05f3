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

	"aieio.dev/aieio/pkg/aie"
	"github.com/google/subcommands"
)

// Backends implements subcommands.Command for the "backends" command.
type Backends struct{}

// Name implements subcommands.Command.Name.
func (*Backends) Name() string {
	return "backends"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Backends) Synopsis() string {
	return "print a list of backends compiled in"
}

// Usage implements subcommands.Command.Usage.
func (*Backends) Usage() string {
	return `backends
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Backends) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Backends) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	for _, t := range aie.Registered() {
		fmt.Fprintf(stdout, "%v\n", t)
	}
	return subcommands.ExitSuccess
}
