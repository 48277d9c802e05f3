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

package rsc

import (
	"fmt"
	"sync"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/bitmap"
)

// TileMap records the tiles of a partition that are in use.
type TileMap struct {
	cfg *aie.Config

	mu   sync.Mutex
	used bitmap.Bitmap
}

// NewTileMap returns a map with every tile unused.
func NewTileMap(cfg *aie.Config) *TileMap {
	return &TileMap{
		cfg:  cfg,
		used: bitmap.New(uint32(cfg.NumCols) * uint32(cfg.NumRows)),
	}
}

func (t *TileMap) index(loc aie.Loc) (uint32, error) {
	if loc.Col >= t.cfg.NumCols || loc.Row >= t.cfg.NumRows {
		return 0, fmt.Errorf("%w: tile %v outside the partition", aie.ErrInvalidArgs, loc)
	}
	return uint32(loc.Col)*uint32(t.cfg.NumRows) + uint32(loc.Row), nil
}

// All returns every tile of the partition, column by column.
func (t *TileMap) All() []aie.Loc {
	locs := make([]aie.Loc, 0, int(t.cfg.NumCols)*int(t.cfg.NumRows))
	for col := uint8(0); col < t.cfg.NumCols; col++ {
		for row := uint8(0); row < t.cfg.NumRows; row++ {
			locs = append(locs, aie.Loc{Col: col, Row: row})
		}
	}
	return locs
}

// Expand returns locs, or every tile of the partition when locs is empty.
func (t *TileMap) Expand(locs []aie.Loc) []aie.Loc {
	if len(locs) == 0 {
		return t.All()
	}
	return locs
}

// Set marks locs in use. An empty locs marks the whole partition. Nothing
// is marked if a location is outside the partition.
func (t *TileMap) Set(locs []aie.Loc) error {
	return t.update(locs, true)
}

// Clear marks locs unused. An empty locs clears the whole partition.
func (t *TileMap) Clear(locs []aie.Loc) error {
	return t.update(locs, false)
}

func (t *TileMap) update(locs []aie.Loc, used bool) error {
	locs = t.Expand(locs)
	idx := make([]uint32, 0, len(locs))
	for _, loc := range locs {
		i, err := t.index(loc)
		if err != nil {
			return err
		}
		idx = append(idx, i)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, i := range idx {
		if used {
			t.used.Add(i)
		} else {
			t.used.Remove(i)
		}
	}
	return nil
}

// InUse reports whether the tile at loc is in use.
func (t *TileMap) InUse(loc aie.Loc) bool {
	i, err := t.index(loc)
	if err != nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used.Contains(i)
}

// Columns returns the sorted columns holding at least one tile of locs.
func Columns(locs []aie.Loc) []uint8 {
	var seen [256]bool
	for _, l := range locs {
		seen[l.Col] = true
	}
	var cols []uint8
	for c := range seen {
		if seen[c] {
			cols = append(cols, uint8(c))
		}
	}
	return cols
}
