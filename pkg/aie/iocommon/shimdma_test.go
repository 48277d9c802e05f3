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

package iocommon

import (
	"errors"
	"testing"

	"aieio.dev/aieio/pkg/aie"
	"github.com/google/go-cmp/cmp"
)

func TestShimDmaBd(t *testing.T) {
	cfg := aie.DefaultConfig(aie.GenAIEML)
	words := make([]uint32, cfg.Layout.ShimDmaBdWords)
	words[2] = 0xABCD0000
	op := &aie.ConfigShimDmaBd{
		Mem:     &aie.MemInst{DevAddr: 0x12_3456_7890},
		Loc:     aie.Loc{Col: 2, Row: 0},
		BdNum:   3,
		BdWords: words,
	}
	off, got, err := ShimDmaBd(cfg, op)
	if err != nil {
		t.Fatalf("ShimDmaBd: %v", err)
	}
	if want := cfg.TileAddr(op.Loc, 0x1D000+3*0x20); off != want {
		t.Errorf("offset = %#x, want %#x", off, want)
	}
	want := []uint32{0, 0x34567890, 0xABCD0012, 0, 0, 0, 0, 0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
	}
	if words[1] != 0 {
		t.Errorf("caller's words modified")
	}
}

func TestShimDmaBdInvalid(t *testing.T) {
	cfg := aie.DefaultConfig(aie.GenAIE)
	cfg.NocColumns = []uint8{1}
	words := make([]uint32, cfg.Layout.ShimDmaBdWords)
	for _, tc := range []struct {
		name string
		op   aie.ConfigShimDmaBd
	}{
		{"core tile", aie.ConfigShimDmaBd{Loc: aie.Loc{Col: 1, Row: 1}, BdWords: words}},
		{"shim PL tile", aie.ConfigShimDmaBd{Loc: aie.Loc{Col: 0, Row: 0}, BdWords: words}},
		{"descriptor number", aie.ConfigShimDmaBd{Loc: aie.Loc{Col: 1, Row: 0}, BdNum: 16, BdWords: words}},
		{"word count", aie.ConfigShimDmaBd{Loc: aie.Loc{Col: 1, Row: 0}, BdWords: words[:2]}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ShimDmaBd(cfg, &tc.op); !errors.Is(err, aie.ErrInvalidArgs) {
				t.Errorf("ShimDmaBd = %v, want %v", err, aie.ErrInvalidArgs)
			}
		})
	}
}
