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

// Package metal provides a small device abstraction in the manner of
// libmetal: devices on a bus expose register regions, and shared memory
// segments can be attached to a device for DMA.
//
// Two buses are provided. The Linux bus finds devices through UIO in sysfs
// and backs shared memory with /dev/shm. MemBus keeps everything in process
// memory.
package metal

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned for unknown devices and buffers.
var ErrNotFound = errors.New("not found")

// Bus opens devices and shared memory on one platform.
type Bus interface {
	// Name returns the name of the bus.
	Name() string

	// OpenRegions maps the register regions of the named device. The
	// returned function unmaps them.
	OpenRegions(name string) ([]*IORegion, func() error, error)

	// OpenShmem opens the named shared memory segment, creating it with
	// size bytes if it does not exist.
	OpenShmem(name string, size uint64) (*Shmem, error)
}

// Direction is the direction of DMA on an attached buffer.
type Direction int

// Directions.
const (
	DirToDevice Direction = iota
	DirFromDevice
	DirBidirectional
)

func (d Direction) String() string {
	switch d {
	case DirToDevice:
		return "to-device"
	case DirFromDevice:
		return "from-device"
	case DirBidirectional:
		return "bidirectional"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}
