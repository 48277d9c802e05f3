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

// CacheProp is the cache policy of a memory instance.
type CacheProp uint8

// Cache policies.
const (
	MemNonCacheable CacheProp = iota
	MemCacheable
)

func (c CacheProp) String() string {
	if c == MemCacheable {
		return "cacheable"
	}
	return "non-cacheable"
}

// MemInst is one DMA-capable memory allocation.
//
// VAddr is the CPU mapping; it may be nil on backends that cannot map memory
// into the caller. Handle holds backend specific attachment state and is owned
// exclusively by this instance.
type MemInst struct {
	VAddr   []byte
	DevAddr uint64
	Size    uint64
	Cache   CacheProp

	// Owner is the backend that created or imported the memory.
	Owner Backend

	// Handle is backend specific attachment state.
	Handle any
}
