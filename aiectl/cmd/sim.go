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
	"errors"
	"flag"
	"os"
	"os/signal"
	"time"

	"aieio.dev/aieio/aiectl/cmd/util"
	"aieio.dev/aieio/aiectl/config"
	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/aiesim"
	"aieio.dev/aieio/pkg/log"
	"aieio.dev/aieio/pkg/regfile"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// Sim implements subcommands.Command for the "sim" command.
type Sim struct {
	addr          string
	dump          string
	statsInterval time.Duration
}

// Name implements subcommands.Command.Name.
func (*Sim) Name() string {
	return "sim"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Sim) Synopsis() string {
	return "run a register simulator for the socket backend"
}

// Usage implements subcommands.Command.Usage.
func (*Sim) Usage() string {
	return `sim [flags] - serve a register file over TCP until interrupted.

The port is published in the file given by --sim-port-file, or the default
port file of the device.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Sim) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.addr, "addr", "localhost:0", "address to listen on.")
	f.StringVar(&s.dump, "dump", "", "file the registers are dumped to on exit.")
	f.DurationVar(&s.statsInterval, "stats-interval", 0, "how often to log request counts, 0 never.")
}

// Execute implements subcommands.Command.Execute.
func (s *Sim) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	portFile := conf.SimPortFile
	if portFile == "" {
		portFile = aie.DefaultConfig(conf.Generation).Socket.PortFile
	}

	srv, err := aiesim.Listen(s.addr, regfile.New())
	if err != nil {
		return util.Errorf("sim: %v", err)
	}
	if err := aiesim.WritePortFile(portFile, srv.Port()); err != nil {
		return util.Errorf("sim: writing port file: %v", err)
	}
	defer os.Remove(portFile)
	log.Infof("Simulator listening on %v, port file %q", srv.Addr(), portFile)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx)
	})
	if s.statsInterval > 0 {
		g.Go(func() error {
			t := time.NewTicker(s.statsInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					reads, writes := srv.Stats()
					log.Infof("Simulator: %d reads, %d writes, %d registers set", reads, writes, srv.Regs().Len())
				}
			}
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return util.Errorf("sim: %v", err)
	}

	reads, writes := srv.Stats()
	log.Infof("Simulator stopped after %d reads, %d writes", reads, writes)
	if s.dump != "" {
		if err := dumpRegs(s.dump, srv.Regs()); err != nil {
			return util.Errorf("sim: %v", err)
		}
	}
	return subcommands.ExitSuccess
}

func dumpRegs(path string, regs *regfile.File) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := regs.Dump(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
