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


// Package config holds the aiectl command line configuration and builds the
// device description handed to the backends.
package config

import (
	"fmt"
	"time"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/log"
	"github.com/BurntSushi/toml"
)

// Config holds configuration that is not part of the device description.
// Fields tagged with "flag" are populated from the command line by
// NewFromFlags.
type Config struct {
	// DeviceFile is a TOML device description merged over the defaults of
	// its generation.
	DeviceFile string `flag:"device"`

	// Backend selects the IO backend.
	Backend aie.BackendType `flag:"backend"`

	// Generation selects the default device description.
	Generation aie.Generation `flag:"generation"`

	// StartCol is the absolute first column of the partition.
	StartCol uint `flag:"start-col"`

	// NumCols is the partition width. Zero keeps the device default.
	NumCols uint `flag:"num-cols"`

	// PartitionID is requested from the kernel by the linux backend.
	PartitionID uint `flag:"partition-id"`

	// MemPath is the physical memory device of the baremetal backend.
	MemPath string `flag:"mem-path"`

	// DevicePath is the AI engine character device of the linux backend.
	DevicePath string `flag:"dev"`

	// CDOOutput is the file the cdo backend writes on finish.
	CDOOutput string `flag:"cdo-output"`

	// SimPortFile is where the simulator publishes its port.
	SimPortFile string `flag:"sim-port-file"`

	// ConnectTimeout bounds simulator connection retries.
	ConnectTimeout time.Duration `flag:"connect-timeout"`

	// LogFilename is the destination of the error log.
	LogFilename string `flag:"log"`

	// LogFormat is the log format: "text" or "json".
	LogFormat string `flag:"log-format"`

	// Debug enables debug logging.
	Debug bool `flag:"debug"`

	// set records the flags given explicitly on the command line. Only
	// those override the device file.
	set map[string]bool
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if c.StartCol > 0xff || c.NumCols > 0xff {
		return fmt.Errorf("%w: columns [%d, +%d) out of range", aie.ErrInvalidArgs, c.StartCol, c.NumCols)
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("%w: negative connect timeout %v", aie.ErrInvalidArgs, c.ConnectTimeout)
	}
	return nil
}

// IsSet reports whether flag name was given on the command line.
func (c *Config) IsSet(name string) bool {
	return c.set[name]
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	for _, f := range c.ToFlags() {
		log.Infof("\t%s", f)
	}
}

// generationHeader is decoded first to pick the defaults a device file is
// merged over.
type generationHeader struct {
	Generation aie.Generation `toml:"generation"`
}

// DeviceConfig builds the device description: the defaults of the selected
// generation, then the device file, then flags given on the command line.
func (c *Config) DeviceConfig() (*aie.Config, error) {
	gen := c.Generation
	if c.DeviceFile != "" && !c.IsSet("generation") {
		var h generationHeader
		if _, err := toml.DecodeFile(c.DeviceFile, &h); err != nil {
			return nil, fmt.Errorf("reading device file %q: %w", c.DeviceFile, err)
		}
		if h.Generation != 0 {
			gen = h.Generation
		}
	}

	dc := aie.DefaultConfig(gen)
	if c.DeviceFile != "" {
		md, err := toml.DecodeFile(c.DeviceFile, dc)
		if err != nil {
			return nil, fmt.Errorf("reading device file %q: %w", c.DeviceFile, err)
		}
		if keys := md.Undecoded(); len(keys) > 0 {
			return nil, fmt.Errorf("device file %q: unknown keys %q", c.DeviceFile, keys)
		}
		// The generation picked above wins over a conflicting flag default.
		dc.Generation = gen
	}

	if c.DeviceFile == "" || c.IsSet("backend") {
		dc.Backend = c.Backend
	}
	if c.IsSet("start-col") {
		dc.StartCol = uint8(c.StartCol)
	}
	if c.NumCols != 0 {
		dc.NumCols = uint8(c.NumCols)
	}
	if c.IsSet("partition-id") {
		dc.PartitionID = uint32(c.PartitionID)
	}
	if c.MemPath != "" {
		dc.Baremetal.MemPath = c.MemPath
	}
	if c.DevicePath != "" {
		dc.Linux.DevicePath = c.DevicePath
	}
	if c.CDOOutput != "" {
		dc.CDO.Output = c.CDOOutput
	}
	if c.SimPortFile != "" {
		dc.Socket.PortFile = c.SimPortFile
	}
	if c.IsSet("connect-timeout") {
		dc.Socket.ConnectTimeout = c.ConnectTimeout
	}

	if err := dc.Validate(); err != nil {
		return nil, err
	}
	return dc, nil
}
