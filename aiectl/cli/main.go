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


// Package cli is the main entrypoint for aiectl.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime"
	"time"

	"aieio.dev/aieio/aiectl/cmd"
	"aieio.dev/aieio/aiectl/cmd/util"
	"aieio.dev/aieio/aiectl/config"
	"aieio.dev/aieio/pkg/log"
	"github.com/google/subcommands"

	// Register all backends.
	_ "aieio.dev/aieio/pkg/aie/backend/all"
)

var (
	// debugLog is a log file pattern, see log.FileOpts.
	debugLog    = flag.String("debug-log", "", "additional location for logs. If it ends with '/', log files are created inside the directory with default names. The following variables are available: %TIMESTAMP%, %COMMAND%, %BACKEND%.")
	logToStderr = flag.Bool("alsologtostderr", true, "send log messages to stderr.")
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		util.Fatalf("%v", err)
	}

	var errorLogger io.Writer
	if conf.LogFilename != "" {
		errorLogger, err = os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			util.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
	}
	util.ErrorLogger = errorLogger

	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	subcommand := flag.CommandLine.Arg(0)

	var emitters log.MultiEmitter
	if *logToStderr {
		emitters = append(emitters, newEmitter(conf.LogFormat, os.Stderr))
	}
	if *debugLog != "" {
		f, err := log.OpenFile(*debugLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, log.FileOpts{
			Command:   subcommand,
			Backend:   conf.Backend.String(),
			Timestamp: time.Now(),
		})
		if err != nil {
			util.Fatalf("error opening debug log file in %q: %v", *debugLog, err)
		}
		emitters = append(emitters, newEmitter(conf.LogFormat, f))
	}

	switch len(emitters) {
	case 0:
		log.SetTarget(newEmitter("text", io.Discard))
	case 1:
		// Use the singular emitter to avoid needless
		// `for` loop overhead when logging to a single place.
		log.SetTarget(emitters[0])
	default:
		log.SetTarget(&emitters)
	}

	log.Debugf("aiectl %s, %s, PID %d", runtime.Version(), runtime.GOARCH, os.Getpid())
	log.Debugf("Args: %v", os.Args)
	if log.IsLogging(log.Debug) {
		conf.Log()
	}

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(context.Background(), conf)
	if subcmdCode == subcommands.ExitSuccess {
		os.Exit(0)
	}
	log.Debugf("Failure to execute command, err: %v", subcmdCode)
	os.Exit(int(subcmdCode))
}

// forEachCmd invokes the passed callback for each command supported by aiectl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	// Register register access commands.
	cb(new(cmd.Read), "")
	cb(new(cmd.Write), "")
	cb(new(cmd.Poll), "")

	const partitionGroup = "partition"
	cb(new(cmd.PartInit), partitionGroup)
	cb(new(cmd.PartTeardown), partitionGroup)

	const cdoGroup = "cdo"
	cb(new(cmd.Replay), cdoGroup)
	cb(new(cmd.CDODump), cdoGroup)

	const helperGroup = "helpers"
	cb(new(cmd.Sim), helperGroup)
	cb(new(cmd.Backends), helperGroup)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Emitter: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	util.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}
