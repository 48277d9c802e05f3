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

package aie

import (
	"fmt"
	"strings"
	"time"
)

// Generation is the silicon generation of the array.
type Generation uint8

// Generations.
const (
	GenAIE Generation = iota + 1
	GenAIEML
)

func (g Generation) String() string {
	switch g {
	case GenAIE:
		return "aie"
	case GenAIEML:
		return "aieml"
	default:
		return fmt.Sprintf("Generation(%d)", uint8(g))
	}
}

// Set implements flag.Value.
func (g *Generation) Set(s string) error {
	switch strings.ToLower(s) {
	case "aie", "aie1":
		*g = GenAIE
	case "aieml", "aie-ml", "aie2":
		*g = GenAIEML
	default:
		return fmt.Errorf("%w: unknown generation %q", ErrInvalidArgs, s)
	}
	return nil
}

// Get implements flag.Getter.
func (g *Generation) Get() any {
	return *g
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *Generation) UnmarshalText(b []byte) error {
	return g.Set(string(b))
}

// MarshalText implements encoding.TextMarshaler.
func (g Generation) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// Loc is a tile location relative to the partition.
type Loc struct {
	Col uint8 `toml:"col" yaml:"col"`
	Row uint8 `toml:"row" yaml:"row"`
}

func (l Loc) String() string {
	return fmt.Sprintf("(%d,%d)", l.Col, l.Row)
}

// TileType classifies a tile by its row and column.
type TileType uint8

// Tile types.
const (
	TileInvalid TileType = iota
	TileAIE
	TileShimNOC
	TileShimPL
	TileMem
)

func (t TileType) String() string {
	switch t {
	case TileAIE:
		return "aie"
	case TileShimNOC:
		return "shimnoc"
	case TileShimPL:
		return "shimpl"
	case TileMem:
		return "mem"
	default:
		return "invalid"
	}
}

// Layout holds the register offsets and memory windows the backends and the
// partition sequencer need. Offsets are tile relative.
type Layout struct {
	// Program memory of core tiles as seen from the host.
	ProgMemHostOffset uint64 `toml:"prog_mem_host_offset"`
	ProgMemSize       uint64 `toml:"prog_mem_size"`

	// Data memory of core tiles.
	DataMemAddr uint64 `toml:"data_mem_addr"`
	DataMemSize uint64 `toml:"data_mem_size"`

	// Data memory of memory tiles.
	MemTileDataMemAddr uint64 `toml:"mem_tile_data_mem_addr"`
	MemTileDataMemSize uint64 `toml:"mem_tile_data_mem_size"`

	// Column clock buffer control in the shim tile.
	ClockControlOff uint64 `toml:"clock_control_off"`
	ClockEnableMask uint32 `toml:"clock_enable_mask"`

	// Column reset control in the shim tile.
	ColumnResetOff  uint64 `toml:"column_reset_off"`
	ColumnResetMask uint32 `toml:"column_reset_mask"`

	// AXI-MM error handling of SHIM NOC tiles.
	AxiMMConfigOff     uint64 `toml:"axi_mm_config_off"`
	AxiSlvErrBlockMask uint32 `toml:"axi_slverr_block_mask"`
	AxiDecErrBlockMask uint32 `toml:"axi_decerr_block_mask"`

	// Tile control registers holding the isolation bits.
	CoreTileCtrlOff uint64 `toml:"core_tile_ctrl_off"`
	MemTileCtrlOff  uint64 `toml:"mem_tile_ctrl_off"`
	ShimTileCtrlOff uint64 `toml:"shim_tile_ctrl_off"`
	IsolateWestMask uint32 `toml:"isolate_west_mask"`
	IsolateEastMask uint32 `toml:"isolate_east_mask"`

	// Shim DMA buffer descriptors.
	ShimDmaBdBase   uint64 `toml:"shim_dma_bd_base"`
	ShimDmaBdStride uint64 `toml:"shim_dma_bd_stride"`
	ShimDmaBdWords  int    `toml:"shim_dma_bd_words"`
	ShimDmaNumBds   int    `toml:"shim_dma_num_bds"`
}

// BaremetalConfig configures the baremetal backend.
type BaremetalConfig struct {
	// MemPath is the physical memory device mapped at BaseAddr. Empty
	// selects an anonymous in-memory region.
	MemPath string `toml:"mem_path"`

	// NpiSize is the size of the NPI window mapped at NpiBaseAddr. Zero
	// disables NPI operations.
	NpiSize uint64 `toml:"npi_size"`
}

// LinuxConfig configures the Linux kernel backend.
type LinuxConfig struct {
	DevicePath string `toml:"device_path"`
	IonPath    string `toml:"ion_path"`
}

// MetalConfig configures the libmetal style backend.
type MetalConfig struct {
	Bus       string `toml:"bus"`
	Device    string `toml:"device"`
	NpiDevice string `toml:"npi_device"`
	ShmPrefix string `toml:"shm_prefix"`
}

// SocketConfig configures the simulator socket backend.
type SocketConfig struct {
	// PortFile holds the TCP port published by the simulator.
	PortFile string `toml:"port_file"`
	Host     string `toml:"host"`

	// ConnectTimeout bounds connection retries. Zero tries once.
	ConnectTimeout time.Duration `toml:"connect_timeout"`
}

// CDOConfig configures the CDO recording backend.
type CDOConfig struct {
	// Output is the file written on Finish. Empty keeps the stream in
	// memory only.
	Output string `toml:"output"`
}

// Config describes the array, the partition and the backend to use.
type Config struct {
	Backend    BackendType `toml:"backend"`
	Generation Generation  `toml:"generation"`

	// BaseAddr is the absolute address of column 0 of the array. The
	// partition starts StartCol columns above it.
	BaseAddr    uint64 `toml:"base_addr"`
	NpiBaseAddr uint64 `toml:"npi_base_addr"`

	ColShift uint8 `toml:"col_shift"`
	RowShift uint8 `toml:"row_shift"`
	NumCols  uint8 `toml:"num_cols"`
	NumRows  uint8 `toml:"num_rows"`

	ShimRow         uint8 `toml:"shim_row"`
	MemTileRowStart uint8 `toml:"mem_tile_row_start"`
	MemTileNumRows  uint8 `toml:"mem_tile_num_rows"`
	AieTileRowStart uint8 `toml:"aie_tile_row_start"`
	AieTileNumRows  uint8 `toml:"aie_tile_num_rows"`

	// StartCol is the absolute index of the partition's first column.
	StartCol uint8 `toml:"start_col"`

	// NocColumns lists partition relative columns whose shim tile is a
	// SHIM NOC tile. Nil means every column.
	NocColumns []uint8 `toml:"noc_columns"`

	// PartitionID is the partition requested from the kernel.
	PartitionID uint32 `toml:"partition_id"`

	// PartitionFD is an already granted partition file descriptor, or -1.
	PartitionFD int `toml:"partition_fd"`

	// PartitionFlags are passed to the kernel with the partition request.
	PartitionFlags uint32 `toml:"partition_flags"`

	Layout Layout `toml:"layout"`

	Baremetal BaremetalConfig `toml:"baremetal"`
	Linux     LinuxConfig     `toml:"linux"`
	Metal     MetalConfig     `toml:"metal"`
	Socket    SocketConfig    `toml:"socket"`
	CDO       CDOConfig       `toml:"cdo"`
}

// DefaultConfig returns the configuration of a full array of generation gen.
func DefaultConfig(gen Generation) *Config {
	c := &Config{
		Backend:     BackendBaremetal,
		Generation:  gen,
		PartitionFD: -1,
		Linux: LinuxConfig{
			DevicePath: "/dev/aie0",
			IonPath:    "/dev/ion",
		},
		Metal: MetalConfig{
			Bus:       "platform",
			Device:    "xilinx-aiengine",
			ShmPrefix: "aie",
		},
		Socket: SocketConfig{
			PortFile: "/tmp/aiesim.port",
			Host:     "localhost",
		},
	}
	switch gen {
	case GenAIEML:
		c.BaseAddr = 0x20000000000
		c.NpiBaseAddr = 0xF6D10000
		c.ColShift = 25
		c.RowShift = 20
		c.NumCols = 38
		c.NumRows = 11
		c.MemTileRowStart = 1
		c.MemTileNumRows = 2
		c.AieTileRowStart = 3
		c.AieTileNumRows = 8
		c.Layout = Layout{
			ProgMemHostOffset:  0x20000,
			ProgMemSize:        0x4000,
			DataMemAddr:        0x0,
			DataMemSize:        0x10000,
			MemTileDataMemAddr: 0x0,
			MemTileDataMemSize: 0x80000,
			ClockControlOff:    0xFFF20,
			ClockEnableMask:    0x1,
			ColumnResetOff:     0xFFF28,
			ColumnResetMask:    0x1,
			AxiMMConfigOff:     0x1E020,
			AxiSlvErrBlockMask: 0x4,
			AxiDecErrBlockMask: 0x8,
			CoreTileCtrlOff:    0x60020,
			MemTileCtrlOff:     0x96030,
			ShimTileCtrlOff:    0x36030,
			IsolateWestMask:    0x2,
			IsolateEastMask:    0x8,
			ShimDmaBdBase:      0x1D000,
			ShimDmaBdStride:    0x20,
			ShimDmaBdWords:     8,
			ShimDmaNumBds:      16,
		}
	default:
		c.Generation = GenAIE
		c.BaseAddr = 0x20000000000
		c.NpiBaseAddr = 0xF70A0000
		c.ColShift = 23
		c.RowShift = 18
		c.NumCols = 50
		c.NumRows = 9
		c.AieTileRowStart = 1
		c.AieTileNumRows = 8
		c.Layout = Layout{
			ProgMemHostOffset:  0x20000,
			ProgMemSize:        0x4000,
			DataMemAddr:        0x0,
			DataMemSize:        0x8000,
			ClockControlOff:    0x33000,
			ClockEnableMask:    0x1,
			ColumnResetOff:     0x36048,
			ColumnResetMask:    0x1,
			AxiMMConfigOff:     0x1E020,
			AxiSlvErrBlockMask: 0x2,
			AxiDecErrBlockMask: 0x4,
			CoreTileCtrlOff:    0x36030,
			ShimTileCtrlOff:    0x36030,
			IsolateWestMask:    0x2,
			IsolateEastMask:    0x8,
			ShimDmaBdBase:      0x1D000,
			ShimDmaBdStride:    0x14,
			ShimDmaBdWords:     5,
			ShimDmaNumBds:      16,
		}
	}
	return c
}

// Validate checks that the configuration describes a usable partition.
func (c *Config) Validate() error {
	switch {
	case c.Generation != GenAIE && c.Generation != GenAIEML:
		return fmt.Errorf("%w: generation %v", ErrInvalidArgs, c.Generation)
	case c.NumCols == 0 || c.NumRows == 0:
		return fmt.Errorf("%w: empty array %dx%d", ErrInvalidArgs, c.NumCols, c.NumRows)
	case c.RowShift == 0 || c.ColShift <= c.RowShift || c.ColShift >= 56:
		return fmt.Errorf("%w: row shift %d, column shift %d", ErrInvalidArgs, c.RowShift, c.ColShift)
	case uint(c.NumRows) > uint(1)<<(c.ColShift-c.RowShift):
		return fmt.Errorf("%w: %d rows do not fit between shifts %d and %d", ErrInvalidArgs, c.NumRows, c.RowShift, c.ColShift)
	case c.AieTileNumRows == 0 || int(c.AieTileRowStart)+int(c.AieTileNumRows) > int(c.NumRows):
		return fmt.Errorf("%w: core tile rows [%d, +%d) outside %d rows", ErrInvalidArgs, c.AieTileRowStart, c.AieTileNumRows, c.NumRows)
	case int(c.MemTileRowStart)+int(c.MemTileNumRows) > int(c.NumRows):
		return fmt.Errorf("%w: memory tile rows [%d, +%d) outside %d rows", ErrInvalidArgs, c.MemTileRowStart, c.MemTileNumRows, c.NumRows)
	}
	for _, col := range c.NocColumns {
		if col >= c.NumCols {
			return fmt.Errorf("%w: NOC column %d outside %d columns", ErrInvalidArgs, col, c.NumCols)
		}
	}
	return nil
}

// TileAddr returns the partition relative address of register off in the
// tile at loc.
func (c *Config) TileAddr(loc Loc, off uint64) uint64 {
	return uint64(loc.Col)<<c.ColShift | uint64(loc.Row)<<c.RowShift | off
}

// TileLoc decodes the tile location and the tile relative register offset
// from a partition relative address.
func (c *Config) TileLoc(addr uint64) (Loc, uint64) {
	rowMask := (uint64(1) << (c.ColShift - c.RowShift)) - 1
	loc := Loc{
		Col: uint8(addr >> c.ColShift),
		Row: uint8((addr >> c.RowShift) & rowMask),
	}
	return loc, addr & ((uint64(1) << c.RowShift) - 1)
}

// TileType returns the type of the tile at loc.
func (c *Config) TileType(loc Loc) TileType {
	if loc.Col >= c.NumCols || loc.Row >= c.NumRows {
		return TileInvalid
	}
	switch {
	case loc.Row == c.ShimRow:
		if c.IsNocColumn(loc.Col) {
			return TileShimNOC
		}
		return TileShimPL
	case c.MemTileNumRows > 0 && loc.Row >= c.MemTileRowStart && loc.Row < c.MemTileRowStart+c.MemTileNumRows:
		return TileMem
	case loc.Row >= c.AieTileRowStart && loc.Row < c.AieTileRowStart+c.AieTileNumRows:
		return TileAIE
	}
	return TileInvalid
}

// IsNocColumn reports whether the shim tile of col is a SHIM NOC tile.
func (c *Config) IsNocColumn(col uint8) bool {
	if c.NocColumns == nil {
		return true
	}
	for _, n := range c.NocColumns {
		if n == col {
			return true
		}
	}
	return false
}

// PartitionBase returns the absolute address of the partition's first
// column. Partition relative offsets are added to it by every backend.
func (c *Config) PartitionBase() uint64 {
	return c.BaseAddr + uint64(c.StartCol)<<c.ColShift
}

// PartitionSize returns the number of bytes of register space spanned by the
// partition.
func (c *Config) PartitionSize() uint64 {
	return uint64(c.NumCols) << c.ColShift
}
