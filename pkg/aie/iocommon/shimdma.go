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
	"fmt"

	"aieio.dev/aieio/pkg/aie"
)

// ShimDmaBd validates a shim DMA buffer descriptor operation and returns the
// partition relative offset of the descriptor and its words with the buffer
// address filled in.
func ShimDmaBd(cfg *aie.Config, op *aie.ConfigShimDmaBd) (uint64, []uint32, error) {
	l := &cfg.Layout
	if tt := cfg.TileType(op.Loc); tt != aie.TileShimNOC {
		return 0, nil, fmt.Errorf("%w: tile %v is %v, not a SHIM NOC tile", aie.ErrInvalidArgs, op.Loc, tt)
	}
	if int(op.BdNum) >= l.ShimDmaNumBds {
		return 0, nil, fmt.Errorf("%w: buffer descriptor %d of %d", aie.ErrInvalidArgs, op.BdNum, l.ShimDmaNumBds)
	}
	if len(op.BdWords) != l.ShimDmaBdWords {
		return 0, nil, fmt.Errorf("%w: %d descriptor words, want %d", aie.ErrInvalidArgs, len(op.BdWords), l.ShimDmaBdWords)
	}

	addr := op.VAddr
	if op.Mem != nil {
		addr = op.Mem.DevAddr
	}
	lo := 0
	if cfg.Generation != aie.GenAIE {
		lo = 1
	}
	words := append([]uint32(nil), op.BdWords...)
	words[lo] = uint32(addr)
	words[lo+1] = words[lo+1]&^0xFFFF | uint32(addr>>32)&0xFFFF
	off := cfg.TileAddr(op.Loc, l.ShimDmaBdBase+uint64(op.BdNum)*l.ShimDmaBdStride)
	return off, words, nil
}
