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

package linux

import (
	"testing"

	"aieio.dev/aieio/pkg/aie"
)

func TestTileMem(t *testing.T) {
	cfg := aie.DefaultConfig(aie.GenAIEML)
	cfg.NumCols = 2
	prog := window{mem: make([]byte, 2*8*0x4000), base: 0x20000, size: 0x4000}
	data := window{mem: make([]byte, 2*8*0x10000), base: 0, size: 0x10000}
	windows := []window{prog, data}

	for _, tc := range []struct {
		name  string
		loc   aie.Loc
		reg   uint64
		words int
		win   []byte
		start uint64
	}{
		{name: "first tile program", loc: aie.Loc{Col: 0, Row: 3}, reg: 0x20000, words: 4, win: prog.mem, start: 0},
		{name: "program", loc: aie.Loc{Col: 1, Row: 5}, reg: 0x20010, words: 2, win: prog.mem, start: (8+2)*0x4000 + 0x10},
		{name: "data", loc: aie.Loc{Col: 0, Row: 10}, reg: 0x200, words: 1, win: data.mem, start: 7*0x10000 + 0x200},
		{name: "last program word", loc: aie.Loc{Col: 1, Row: 10}, reg: 0x23FFC, words: 1, win: prog.mem, start: 15*0x4000 + 0x3FFC},
		{name: "past program memory", loc: aie.Loc{Col: 0, Row: 3}, reg: 0x23FFC, words: 2},
		{name: "between memories", loc: aie.Loc{Col: 0, Row: 3}, reg: 0x10000, words: 1},
		{name: "memory tile", loc: aie.Loc{Col: 0, Row: 1}, reg: 0x100, words: 1},
		{name: "shim tile", loc: aie.Loc{Col: 1, Row: 0}, reg: 0x100, words: 1},
		{name: "empty", loc: aie.Loc{Col: 0, Row: 3}, reg: 0x100},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := tileMem(cfg, windows, cfg.TileAddr(tc.loc, tc.reg), tc.words)
			if tc.win == nil {
				if got != nil {
					t.Fatalf("got %d mapped bytes, want none", len(got))
				}
				return
			}
			if len(got) != tc.words*4 {
				t.Fatalf("got %d mapped bytes, want %d", len(got), tc.words*4)
			}
			if &got[0] != &tc.win[tc.start] {
				t.Errorf("mapping does not start at window offset %#x", tc.start)
			}
		})
	}
}

func TestTileMemUnmapped(t *testing.T) {
	cfg := aie.DefaultConfig(aie.GenAIE)
	cfg.NumCols = 1
	off := cfg.TileAddr(aie.Loc{Col: 0, Row: 1}, 0x20000)
	if got := tileMem(cfg, nil, off, 1); got != nil {
		t.Errorf("got %d bytes without windows", len(got))
	}
	short := []window{{mem: make([]byte, 0x4000), base: 0x20000, size: 0x4000}}
	if got := tileMem(cfg, short, cfg.TileAddr(aie.Loc{Col: 0, Row: 2}, 0x20000), 1); got != nil {
		t.Errorf("got %d bytes beyond the mapping", len(got))
	}
}
