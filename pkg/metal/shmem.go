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

package metal

import "fmt"

// SGEntry is one physically contiguous piece of an attached buffer.
type SGEntry struct {
	Virt []byte
	Phys uint64
}

// ScatterList describes an attached buffer as seen by the device.
type ScatterList struct {
	Entries []SGEntry
	Dir     Direction
}

// Len returns the number of bytes covered by the list.
func (sg *ScatterList) Len() uint64 {
	var n uint64
	for _, e := range sg.Entries {
		n += uint64(len(e.Virt))
	}
	return n
}

// DevAddr returns the device address of the start of the buffer.
func (sg *ScatterList) DevAddr() uint64 {
	if len(sg.Entries) == 0 {
		return 0
	}
	return sg.Entries[0].Phys
}

// ShmemOps implements shared memory for a bus.
type ShmemOps interface {
	// Attach makes s accessible to dev and describes it.
	Attach(dev *Device, s *Shmem, dir Direction) (*ScatterList, error)

	// Detach reverses Attach.
	Detach(dev *Device, s *Shmem, sg *ScatterList) error

	// Sync makes CPU writes visible to the device, or device writes
	// visible to the CPU.
	Sync(s *Shmem, forDevice bool) error

	// Close releases the segment.
	Close(s *Shmem) error
}

// Shmem is a shared memory segment or an imported buffer.
type Shmem struct {
	Name string
	Size uint64

	// FD is the descriptor backing the segment, or -1.
	FD int

	// Mem is the mapping of the segment. It may be nil for an imported
	// buffer until it is attached.
	Mem []byte

	ops ShmemOps

	// ownsFD and ownsMap are set when Close must release FD or Mem.
	ownsFD  bool
	ownsMap bool

	// path is unlinked on Close if set.
	path string

	attached int
}

// NewShmem wraps a buffer allocated elsewhere. fd and mem stay owned by the
// caller; ops is the ops table of the bus the buffer is attached through.
func NewShmem(name string, fd int, size uint64, mem []byte, ops ShmemOps) *Shmem {
	return &Shmem{Name: name, Size: size, FD: fd, Mem: mem, ops: ops}
}

// Ops returns the ops table of the segment.
func (s *Shmem) Ops() ShmemOps {
	return s.ops
}

// Attach attaches the segment to dev.
func (s *Shmem) Attach(dev *Device, dir Direction) (*ScatterList, error) {
	sg, err := s.ops.Attach(dev, s, dir)
	if err != nil {
		return nil, fmt.Errorf("attach %s to %s: %w", s.Name, dev.Name(), err)
	}
	s.attached++
	return sg, nil
}

// Detach detaches the segment from dev.
func (s *Shmem) Detach(dev *Device, sg *ScatterList) error {
	if s.attached == 0 {
		return fmt.Errorf("detach %s: not attached", s.Name)
	}
	s.attached--
	return s.ops.Detach(dev, s, sg)
}

// Sync synchronizes the segment for the device or for the CPU.
func (s *Shmem) Sync(forDevice bool) error {
	return s.ops.Sync(s, forDevice)
}

// Close releases the segment. It must be detached.
func (s *Shmem) Close() error {
	if s.attached != 0 {
		return fmt.Errorf("close %s: still attached %d times", s.Name, s.attached)
	}
	return s.ops.Close(s)
}
