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

// Package cdo reads and writes Configuration Data Object streams: the
// command scripts the platform loader replays against the device.
//
// A stream is a header followed by commands. Every command starts with a
// word holding the payload length in bits 23:16, the module in bits 15:8 and
// the command id in bits 7:0. A length of 0xFF means the real length follows
// in the next word.
package cdo

import (
	"fmt"
	"time"
)

// Header fields.
const (
	// HeaderWords is the value of the first header word. Five words
	// precede the first command.
	HeaderWords = 0x4

	// ID is "CDO\0".
	ID = 0x004F4443

	// Version is the stream format version written.
	Version = 0x200

	headerLen = 5
)

// Module is the module of the generic commands.
const Module = 1

// extLen marks an extended length word.
const extLen = 0xFF

// Opcode is a command id.
type Opcode uint8

// Commands.
const (
	OpDelay       Opcode = 4
	OpDmaWrite    Opcode = 5
	OpMaskPoll64  Opcode = 6
	OpMaskWrite64 Opcode = 7
	OpWrite64     Opcode = 8
	OpSet64       Opcode = 12
)

var opNames = map[Opcode]string{
	OpDelay:       "delay",
	OpDmaWrite:    "dma_write",
	OpMaskPoll64:  "mask_poll64",
	OpMaskWrite64: "mask_write64",
	OpWrite64:     "write64",
	OpSet64:       "set64",
}

func (o Opcode) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("Opcode(%d)", uint8(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o Opcode) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Opcode) UnmarshalText(text []byte) error {
	for op, n := range opNames {
		if n == string(text) {
			*o = op
			return nil
		}
	}
	return fmt.Errorf("unknown CDO command %q", text)
}

// Cmd is one decoded command.
type Cmd struct {
	Op   Opcode `yaml:"op"`
	Addr uint64 `yaml:"addr,omitempty"`
	Mask uint32 `yaml:"mask,omitempty"`

	// Value is the written, or expected, value.
	Value uint32 `yaml:"value,omitempty"`

	// Count is the number of words set by OpSet64.
	Count uint32 `yaml:"count,omitempty"`

	// Micros is the poll timeout or the delay, in microseconds.
	Micros uint32 `yaml:"micros,omitempty"`

	// Data is the payload of OpDmaWrite.
	Data []uint32 `yaml:"data,omitempty,flow"`
}

// Timeout returns Micros as a duration.
func (c *Cmd) Timeout() time.Duration {
	return time.Duration(c.Micros) * time.Microsecond
}

func (c Cmd) String() string {
	switch c.Op {
	case OpWrite64:
		return fmt.Sprintf("write64 %#x %#x", c.Addr, c.Value)
	case OpMaskWrite64:
		return fmt.Sprintf("mask_write64 %#x %#x %#x", c.Addr, c.Mask, c.Value)
	case OpMaskPoll64:
		return fmt.Sprintf("mask_poll64 %#x %#x %#x %dus", c.Addr, c.Mask, c.Value, c.Micros)
	case OpDmaWrite:
		return fmt.Sprintf("dma_write %#x %d words", c.Addr, len(c.Data))
	case OpSet64:
		return fmt.Sprintf("set64 %#x %#x %d words", c.Addr, c.Value, c.Count)
	case OpDelay:
		return fmt.Sprintf("delay %dus", c.Micros)
	default:
		return c.Op.String()
	}
}

// payload returns the payload words of c.
func (c *Cmd) payload() ([]uint32, error) {
	hi, lo := uint32(c.Addr>>32), uint32(c.Addr)
	switch c.Op {
	case OpWrite64:
		return []uint32{hi, lo, c.Value}, nil
	case OpMaskWrite64:
		return []uint32{hi, lo, c.Mask, c.Value}, nil
	case OpMaskPoll64:
		return []uint32{hi, lo, c.Mask, c.Value, c.Micros}, nil
	case OpDmaWrite:
		return append([]uint32{hi, lo}, c.Data...), nil
	case OpSet64:
		return []uint32{hi, lo, c.Count, c.Value}, nil
	case OpDelay:
		return []uint32{c.Micros}, nil
	}
	return nil, fmt.Errorf("cannot encode %v", c.Op)
}

// payloadLen is the payload length of the fixed size commands.
var payloadLen = map[Opcode]int{
	OpWrite64:     3,
	OpMaskWrite64: 4,
	OpMaskPoll64:  5,
	OpSet64:       4,
	OpDelay:       1,
}

// decode fills c from the payload of a command of opcode op.
func (c *Cmd) decode(op Opcode, p []uint32) error {
	n, fixed := payloadLen[op]
	switch {
	case op == OpDmaWrite:
		if len(p) < 2 {
			return fmt.Errorf("%v: %d payload words", op, len(p))
		}
	case !fixed:
		return fmt.Errorf("unsupported command %v", op)
	case len(p) != n:
		return fmt.Errorf("%v: %d payload words, want %d", op, len(p), n)
	}
	c.Op = op
	if op != OpDelay {
		c.Addr = uint64(p[0])<<32 | uint64(p[1])
	}
	switch op {
	case OpWrite64:
		c.Value = p[2]
	case OpMaskWrite64:
		c.Mask, c.Value = p[2], p[3]
	case OpMaskPoll64:
		c.Mask, c.Value, c.Micros = p[2], p[3], p[4]
	case OpDmaWrite:
		c.Data = append([]uint32(nil), p[2:]...)
	case OpSet64:
		c.Count, c.Value = p[2], p[3]
	case OpDelay:
		c.Micros = p[0]
	}
	return nil
}
