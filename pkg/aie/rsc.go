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

import "fmt"

// ModuleType is a module of a tile.
type ModuleType uint8

// Modules.
const (
	ModCore ModuleType = iota
	ModMem
	ModPL
)

func (m ModuleType) String() string {
	switch m {
	case ModCore:
		return "core"
	case ModMem:
		return "mem"
	case ModPL:
		return "pl"
	default:
		return fmt.Sprintf("ModuleType(%d)", uint8(m))
	}
}

// RscType is a kind of allocatable tile resource.
type RscType uint8

// Resource types.
const (
	RscPerfCntr RscType = iota
	RscUserEvent
	RscTraceCtrl
	RscPCEvent
	RscSSEventPort
	RscBcastChannel
	RscComboEvent
	RscGroupEvent
	RscTypeMax
)

var rscNames = [...]string{
	RscPerfCntr:     "perf-counter",
	RscUserEvent:    "user-event",
	RscTraceCtrl:    "trace-control",
	RscPCEvent:      "pc-event",
	RscSSEventPort:  "ss-event-port",
	RscBcastChannel: "broadcast-channel",
	RscComboEvent:   "combo-event",
	RscGroupEvent:   "group-event",
}

func (r RscType) String() string {
	if r < RscTypeMax {
		return rscNames[r]
	}
	return fmt.Sprintf("RscType(%d)", uint8(r))
}

// Resource request flags.
const (
	// RscFlagContiguous asks for consecutive resource ids.
	RscFlagContiguous uint32 = 1 << 0

	// RscFlagBroadcastAll asks for a broadcast channel free across the
	// whole partition.
	RscFlagBroadcastAll uint32 = 1 << 1
)

// Resource identifies one granted resource.
type Resource struct {
	Loc  Loc
	Mod  ModuleType
	Type RscType
	ID   uint32
}

// ResourceRequest is the argument of the resource operations.
type ResourceRequest struct {
	Loc        Loc
	Mod        ModuleType
	Type       RscType
	NumPerTile uint32
	Flags      uint32

	// ID selects a specific resource for RequestAllocatedResource, and
	// for Release and Free of a single resource.
	ID uint32

	// Tiles lists the tiles sharing a broadcast channel. Empty means Loc
	// alone.
	Tiles []Resource

	// Granted receives the allocated resources.
	Granted []Resource
}
