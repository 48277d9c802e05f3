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
	"fmt"
	"time"
)

// Target receives replayed commands at offsets relative to the replay base.
type Target interface {
	Write32(off uint64, v uint32) error
	MaskWrite32(off uint64, mask, v uint32) error
	MaskPoll(off uint64, mask, v uint32, timeout time.Duration) error
	BlockWrite32(off uint64, data []uint32) error
	BlockSet32(off uint64, v uint32, count int) error
}

// sleep is replaced in tests.
var sleep = time.Sleep

// Replay runs cmds against t, translating absolute addresses by base.
func Replay(cmds []Cmd, base uint64, t Target) error {
	for i := range cmds {
		c := &cmds[i]
		if c.Op == OpDelay {
			sleep(c.Timeout())
			continue
		}
		if c.Addr < base {
			return fmt.Errorf("command %d (%v): address %#x below base %#x", i, c, c.Addr, base)
		}
		off := c.Addr - base
		var err error
		switch c.Op {
		case OpWrite64:
			err = t.Write32(off, c.Value)
		case OpMaskWrite64:
			err = t.MaskWrite32(off, c.Mask, c.Value)
		case OpMaskPoll64:
			err = t.MaskPoll(off, c.Mask, c.Value, c.Timeout())
		case OpDmaWrite:
			err = t.BlockWrite32(off, c.Data)
		case OpSet64:
			err = t.BlockSet32(off, c.Value, int(c.Count))
		default:
			err = fmt.Errorf("unsupported command")
		}
		if err != nil {
			return fmt.Errorf("command %d (%v): %w", i, c, err)
		}
	}
	return nil
}
