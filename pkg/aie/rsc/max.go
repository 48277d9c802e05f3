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

import "aieio.dev/aieio/pkg/aie"

const broadcastChannels = 16

// Max returns the number of resources of kind in module mod of the tile at
// loc. Zero means the module has none.
func Max(cfg *aie.Config, loc aie.Loc, mod aie.ModuleType, kind aie.RscType) uint32 {
	if kind >= aie.RscTypeMax {
		return 0
	}
	tt := cfg.TileType(loc)
	ok := false
	for _, m := range modules(tt) {
		ok = ok || m == mod
	}
	if !ok {
		return 0
	}
	var t *[aie.RscTypeMax]uint32
	switch tt {
	case aie.TileAIE:
		if mod == aie.ModCore {
			t = &coreMax
		} else {
			t = &memMax
		}
	case aie.TileMem:
		t = &memTileMax
	default:
		t = &shimMax
	}
	return t[kind]
}

// modules returns the modules present in a tile of type tt.
func modules(tt aie.TileType) []aie.ModuleType {
	switch tt {
	case aie.TileAIE:
		return []aie.ModuleType{aie.ModCore, aie.ModMem}
	case aie.TileMem:
		return []aie.ModuleType{aie.ModMem}
	case aie.TileShimNOC, aie.TileShimPL:
		return []aie.ModuleType{aie.ModPL}
	}
	return nil
}

var coreMax = [aie.RscTypeMax]uint32{
	aie.RscPerfCntr:     4,
	aie.RscUserEvent:    4,
	aie.RscTraceCtrl:    1,
	aie.RscPCEvent:      4,
	aie.RscSSEventPort:  8,
	aie.RscBcastChannel: broadcastChannels,
	aie.RscComboEvent:   4,
	aie.RscGroupEvent:   9,
}

var memMax = [aie.RscTypeMax]uint32{
	aie.RscPerfCntr:     2,
	aie.RscUserEvent:    4,
	aie.RscTraceCtrl:    1,
	aie.RscBcastChannel: broadcastChannels,
	aie.RscComboEvent:   4,
	aie.RscGroupEvent:   8,
}

var memTileMax = [aie.RscTypeMax]uint32{
	aie.RscPerfCntr:     4,
	aie.RscUserEvent:    2,
	aie.RscTraceCtrl:    1,
	aie.RscSSEventPort:  8,
	aie.RscBcastChannel: broadcastChannels,
	aie.RscComboEvent:   4,
	aie.RscGroupEvent:   9,
}

var shimMax = [aie.RscTypeMax]uint32{
	aie.RscPerfCntr:     2,
	aie.RscUserEvent:    2,
	aie.RscTraceCtrl:    1,
	aie.RscSSEventPort:  8,
	aie.RscBcastChannel: broadcastChannels,
	aie.RscComboEvent:   4,
	aie.RscGroupEvent:   6,
}
