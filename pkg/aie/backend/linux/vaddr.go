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

import "aieio.dev/aieio/pkg/aie"

// window is the mapping of one memory of every core tile of the partition.
// Tiles are laid out column by column, each holding size bytes.
type window struct {
	mem  []byte
	base uint64
	size uint64
}

// tileMem locates the mapped memory behind a register range. It returns nil
// when the range is not entirely inside program or data memory of one core
// tile, or the memory is not mapped.
func tileMem(cfg *aie.Config, windows []window, off uint64, words int) []byte {
	if words <= 0 {
		return nil
	}
	loc, reg := cfg.TileLoc(off)
	if cfg.TileType(loc) != aie.TileAIE {
		return nil
	}
	n := uint64(words) * 4
	for _, w := range windows {
		if w.mem == nil || reg < w.base || reg+n > w.base+w.size {
			continue
		}
		tile := uint64(loc.Col)*uint64(cfg.AieTileNumRows) + uint64(loc.Row-cfg.AieTileRowStart)
		start := tile*w.size + reg - w.base
		if start+n > uint64(len(w.mem)) {
			return nil
		}
		return w.mem[start : start+n]
	}
	return nil
}
