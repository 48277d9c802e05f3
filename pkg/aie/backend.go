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

// Package aie defines the IO backend abstraction of the AI Engine array.
//
// A Backend carries every register, memory and secondary operation that the
// upper configuration layers issue. Exactly one Backend is bound to a Device
// for its whole lifetime; the backend is selected once, by type, when the
// Device is created.
package aie

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// BackendType identifies a backend implementation.
type BackendType uint8

// Backend types.
const (
	BackendBaremetal BackendType = iota
	BackendLinux
	BackendMetal
	BackendCDO
	BackendSocket
	BackendSim
	BackendDebug
	backendMax
)

var backendNames = [...]string{
	BackendBaremetal: "baremetal",
	BackendLinux:     "linux",
	BackendMetal:     "metal",
	BackendCDO:       "cdo",
	BackendSocket:    "socket",
	BackendSim:       "sim",
	BackendDebug:     "debug",
}

func (t BackendType) String() string {
	if t < backendMax {
		return backendNames[t]
	}
	return fmt.Sprintf("BackendType(%d)", uint8(t))
}

// ParseBackendType parses a backend name as produced by String.
func ParseBackendType(s string) (BackendType, error) {
	for t, name := range backendNames {
		if strings.EqualFold(s, name) {
			return BackendType(t), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown backend %q", ErrInvalidBackend, s)
}

// Set implements flag.Value.
func (t *BackendType) Set(s string) error {
	v, err := ParseBackendType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Get implements flag.Getter.
func (t *BackendType) Get() any {
	return *t
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *BackendType) UnmarshalText(b []byte) error {
	return t.Set(string(b))
}

// MarshalText implements encoding.TextMarshaler.
func (t BackendType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Backend is the operation table of one IO transport.
//
// Offsets are relative to the partition base: the column and row of the
// target tile are encoded in the offset according to Config.ColShift and
// Config.RowShift. Operations a backend cannot perform return an error
// wrapping ErrFeatureNotSupported.
type Backend interface {
	// Type returns the backend type.
	Type() BackendType

	// Finish releases the backend. The Backend must not be used afterwards.
	Finish() error

	// Read32 reads the 32-bit register at off.
	Read32(off uint64) (uint32, error)

	// Write32 writes the 32-bit register at off.
	Write32(off uint64, v uint32) error

	// MaskWrite32 replaces the bits of mask in the register at off.
	MaskWrite32(off uint64, mask, v uint32) error

	// MaskPoll waits until the register at off satisfies
	// (reg & mask) == v. It returns an error wrapping ErrPollTimeout if the
	// condition does not hold within timeout.
	MaskPoll(off uint64, mask, v uint32, timeout time.Duration) error

	// BlockWrite32 writes consecutive registers starting at off.
	BlockWrite32(off uint64, data []uint32) error

	// BlockSet32 writes v to count consecutive registers starting at off.
	BlockSet32(off uint64, v uint32, count int) error

	// CmdWrite issues a vendor command to the tile at (col, row).
	CmdWrite(col, row, cmd uint8, wd0, wd1 uint32, s string) error

	// RunOp runs one secondary operation.
	RunOp(op Op) error

	// MemAllocate allocates DMA-capable memory.
	MemAllocate(size uint64, cache CacheProp) (*MemInst, error)

	// MemFree releases memory returned by MemAllocate.
	MemFree(m *MemInst) error

	// MemSyncForCPU makes device writes to m visible to the CPU.
	MemSyncForCPU(m *MemInst) error

	// MemSyncForDevice makes CPU writes to m visible to the device.
	MemSyncForDevice(m *MemInst) error

	// MemAttach imports an externally allocated buffer identified by
	// handle into m.
	MemAttach(m *MemInst, handle uint64) error

	// MemDetach releases a buffer imported by MemAttach.
	MemDetach(m *MemInst) error

	// GetTid returns an identifier of the calling thread.
	GetTid() uint64
}

// TxnSubmitter is implemented by backends that can execute a recorded
// transaction as one unit.
type TxnSubmitter interface {
	SubmitTxn(txn *Txn) error
}

// Constructor initializes a backend for the given configuration. It is the
// Init operation of the backend.
type Constructor func(cfg *Config) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[BackendType]Constructor)
)

// Register registers the constructor for a backend type. It is usually called
// from an init function of the backend package.
func Register(t BackendType, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = c
}

// Lookup returns the constructor registered for t.
func Lookup(t BackendType) (Constructor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("%w: backend %v is not compiled in", ErrInvalidBackend, t)
	}
	return c, nil
}

// Registered returns the registered backend types in ascending order.
func Registered() []BackendType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]BackendType, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Unavailable returns a constructor for a backend that is not built on the
// current platform. Init always fails with ErrInvalidBackend.
func Unavailable(t BackendType, reason string) Constructor {
	return func(*Config) (Backend, error) {
		return nil, fmt.Errorf("%w: backend %v unavailable: %s", ErrInvalidBackend, t, reason)
	}
}
