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

package cdo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Writer accumulates a stream.
type Writer struct {
	body []uint32
	cmds int
}

// NewWriter returns an empty stream.
func NewWriter() *Writer {
	return &Writer{}
}

// Len returns the number of commands written.
func (w *Writer) Len() int {
	return w.cmds
}

// Reset discards the commands written.
func (w *Writer) Reset() {
	w.body = w.body[:0]
	w.cmds = 0
}

func (w *Writer) emit(op Opcode, payload []uint32) {
	hdr := uint32(Module)<<8 | uint32(op)
	if len(payload) < extLen {
		w.body = append(w.body, uint32(len(payload))<<16|hdr)
	} else {
		w.body = append(w.body, extLen<<16|hdr, uint32(len(payload)))
	}
	w.body = append(w.body, payload...)
	w.cmds++
}

// Add appends c.
func (w *Writer) Add(c Cmd) error {
	p, err := c.payload()
	if err != nil {
		return err
	}
	w.emit(c.Op, p)
	return nil
}

// Write64 records a write of v to addr.
func (w *Writer) Write64(addr uint64, v uint32) {
	w.emit(OpWrite64, []uint32{uint32(addr >> 32), uint32(addr), v})
}

// MaskWrite64 records a write of the bits of v selected by mask.
func (w *Writer) MaskWrite64(addr uint64, mask, v uint32) {
	w.emit(OpMaskWrite64, []uint32{uint32(addr >> 32), uint32(addr), mask, v})
}

// MaskPoll64 records a poll of addr until the bits selected by mask equal
// v. The timeout is kept in whole milliseconds, rounded up.
func (w *Writer) MaskPoll64(addr uint64, mask, v uint32, timeout time.Duration) {
	w.emit(OpMaskPoll64, []uint32{uint32(addr >> 32), uint32(addr), mask, v, pollMicros(timeout)})
}

func pollMicros(timeout time.Duration) uint32 {
	if timeout <= 0 {
		return 0
	}
	ms := (timeout + time.Millisecond - 1) / time.Millisecond
	us := ms * 1000
	if us > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(us)
}

// DmaWrite records a write of data to consecutive words at addr.
func (w *Writer) DmaWrite(addr uint64, data []uint32) {
	p := make([]uint32, 0, 2+len(data))
	p = append(p, uint32(addr>>32), uint32(addr))
	w.emit(OpDmaWrite, append(p, data...))
}

// Set64 records a write of v to count consecutive words at addr.
func (w *Writer) Set64(addr uint64, v uint32, count uint32) {
	w.emit(OpSet64, []uint32{uint32(addr >> 32), uint32(addr), count, v})
}

// Delay records a pause.
func (w *Writer) Delay(d time.Duration) {
	w.emit(OpDelay, []uint32{uint32(d / time.Microsecond)})
}

// Words returns the stream, header included.
func (w *Writer) Words() []uint32 {
	out := make([]uint32, headerLen, headerLen+len(w.body))
	out[0] = HeaderWords
	out[1] = ID
	out[2] = Version
	out[3] = uint32(len(w.body))
	out[4] = checksum(out[:4])
	return append(out, w.body...)
}

// Bytes returns the stream as little endian words.
func (w *Writer) Bytes() []byte {
	words := w.Words()
	buf := make([]byte, 4*len(words))
	for i, v := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], v)
	}
	return buf
}

// WriteTo implements io.WriterTo.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	n, err := out.Write(w.Bytes())
	return int64(n), err
}

func checksum(words []uint32) uint32 {
	var sum uint32
	for _, v := range words {
		sum += v
	}
	return ^sum
}

// ErrFormat is returned for malformed streams.
var ErrFormat = errors.New("malformed CDO stream")

// Parse decodes a stream.
func Parse(data []byte) ([]Cmd, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFormat, len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
	return ParseWords(words)
}

// ParseWords decodes a stream of words.
func ParseWords(words []uint32) ([]Cmd, error) {
	if len(words) < headerLen {
		return nil, fmt.Errorf("%w: short header", ErrFormat)
	}
	switch {
	case words[1] != ID:
		return nil, fmt.Errorf("%w: id %#x", ErrFormat, words[1])
	case words[4] != checksum(words[:4]):
		return nil, fmt.Errorf("%w: header checksum %#x, want %#x", ErrFormat, words[4], checksum(words[:4]))
	case int(words[3]) != len(words)-headerLen:
		return nil, fmt.Errorf("%w: %d body words, header says %d", ErrFormat, len(words)-headerLen, words[3])
	}

	var cmds []Cmd
	body := words[headerLen:]
	for i := 0; i < len(body); {
		hdr := body[i]
		i++
		n := int(hdr >> 16 & 0xFF)
		if n == extLen {
			if i == len(body) {
				return nil, fmt.Errorf("%w: missing extended length at word %d", ErrFormat, i)
			}
			n = int(body[i])
			i++
		}
		if mod := hdr >> 8 & 0xFF; mod != Module {
			return nil, fmt.Errorf("%w: module %d at word %d", ErrFormat, mod, i-1)
		}
		if n > len(body)-i {
			return nil, fmt.Errorf("%w: command at word %d overruns the stream", ErrFormat, i-1)
		}
		var c Cmd
		if err := c.decode(Opcode(hdr&0xFF), body[i:i+n]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		cmds = append(cmds, c)
		i += n
	}
	return cmds, nil
}
