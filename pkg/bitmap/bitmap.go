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

// Package bitmap provides a fixed-size bitmap used to track identifier and
// resource allocations.
package bitmap

import (
	"fmt"
	"math/bits"
)

// Bitmap is a fixed-size set of bits backed by 64-bit blocks.
//
// Bitmap is not safe for concurrent use.
type Bitmap struct {
	// size is the number of usable bits.
	size uint32

	// numOnes is the number of ones in the bitmap.
	numOnes uint32

	// bitBlock holds the bits. Each block contains 64 entries.
	bitBlock []uint64
}

// New creates a new empty Bitmap holding size bits.
func New(size uint32) Bitmap {
	return Bitmap{
		size:     size,
		bitBlock: make([]uint64, (size+63)/64),
	}
}

// Size returns the number of usable bits in the bitmap.
func (b *Bitmap) Size() uint32 {
	return b.size
}

// IsEmpty verifies whether the Bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// GetNumOnes returns the number of ones in the Bitmap.
func (b *Bitmap) GetNumOnes() uint32 {
	return b.numOnes
}

// Blocks returns a copy of the underlying 64-bit blocks.
func (b *Bitmap) Blocks() []uint64 {
	return append([]uint64(nil), b.bitBlock...)
}

// Contains reports whether bit i is set.
func (b *Bitmap) Contains(i uint32) bool {
	if i >= b.size {
		return false
	}
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// Add sets bit i. It is an error to add a bit beyond the bitmap size.
func (b *Bitmap) Add(i uint32) error {
	if i >= b.size {
		return fmt.Errorf("bit %d out of range [0, %d)", i, b.size)
	}
	blockNum, mask := i/64, uint64(1)<<(i%64)
	if old := b.bitBlock[blockNum]; old&mask == 0 {
		b.bitBlock[blockNum] = old | mask
		b.numOnes++
	}
	return nil
}

// Remove clears bit i. Bits beyond the bitmap size are ignored.
func (b *Bitmap) Remove(i uint32) {
	if i >= b.size {
		return
	}
	blockNum, mask := i/64, uint64(1)<<(i%64)
	if old := b.bitBlock[blockNum]; old&mask != 0 {
		b.bitBlock[blockNum] = old &^ mask
		b.numOnes--
	}
}

// FirstZero returns the first unset bit from the range [start, size).
func (b *Bitmap) FirstZero(start uint32) (uint32, error) {
	if start >= b.size {
		return 0, fmt.Errorf("given start of range %d exceeds bitmap size %d", start, b.size)
	}
	i, nbit := int(start/64), start%64
	n := len(b.bitBlock)
	w := b.bitBlock[i] | ((uint64(1) << nbit) - 1)
	for {
		if w != ^uint64(0) {
			bit := uint32(bits.TrailingZeros64(^w) + i*64)
			if bit >= b.size {
				break
			}
			return bit, nil
		}
		i++
		if i == n {
			break
		}
		w = b.bitBlock[i]
	}
	return 0, fmt.Errorf("bitmap has no unset bits")
}

// FirstZeroRun returns the first bit of a run of count consecutive unset bits
// starting at or after start.
func (b *Bitmap) FirstZeroRun(start, count uint32) (uint32, error) {
	if count == 0 {
		return 0, fmt.Errorf("zero length run")
	}
	for s := start; s+count <= b.size; {
		first, err := b.FirstZero(s)
		if err != nil {
			return 0, err
		}
		run := uint32(0)
		for run < count && first+run < b.size && !b.Contains(first+run) {
			run++
		}
		if run == count {
			return first, nil
		}
		s = first + run + 1
	}
	return 0, fmt.Errorf("bitmap has no run of %d unset bits", count)
}

// ClearRange clears bits within [begin, end).
func (b *Bitmap) ClearRange(begin, end uint32) {
	if end > b.size {
		end = b.size
	}
	for i := begin; i < end; i++ {
		b.Remove(i)
	}
}

// ToSlice transforms the Bitmap into a slice. For example, a bitmap of
// [0, 1, 0, 1] will return the slice [1, 3].
func (b *Bitmap) ToSlice() []uint32 {
	out := make([]uint32, 0, b.numOnes)
	base := 0
	for _, block := range b.bitBlock {
		for block != 0 {
			// Extract the lowest set bit.
			j := block & -block
			out = append(out, uint32(base+bits.OnesCount64(j-1)))
			block ^= j
		}
		base += 64
	}
	return out
}

// Clone returns a copy of the Bitmap.
func (b *Bitmap) Clone() Bitmap {
	c := Bitmap{size: b.size, numOnes: b.numOnes, bitBlock: make([]uint64, len(b.bitBlock))}
	copy(c.bitBlock, b.bitBlock)
	return c
}
