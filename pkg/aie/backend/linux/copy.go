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

import (
	"sync/atomic"
	"unsafe"
)

// copyAlign is the alignment of bulk copies into tile memory. Tile memory
// accepts 128-bit bursts only at 128-bit aligned addresses.
const copyAlign = 16

// splitAligned splits a copy of words 32-bit words to addr into a head copied
// word by word up to the first aligned address, a body copied in bulk and a
// tail copied word by word after the last aligned address.
func splitAligned(addr uintptr, words int) (head, body, tail int) {
	if mis := int(addr % copyAlign); mis != 0 {
		head = (copyAlign - mis) / 4
		if head > words {
			head = words
		}
	}
	rest := words - head
	if rest*4 < copyAlign {
		return head, 0, rest
	}
	end := addr + uintptr(words)*4
	tail = int(end%copyAlign) / 4
	return head, rest - tail, tail
}

// CopyWords copies src into the mapped memory dst, which must hold at least
// len(src) words at a 4-byte aligned address.
func CopyWords(dst []byte, src []uint32) {
	if len(src) == 0 {
		return
	}
	base := unsafe.Pointer(unsafe.SliceData(dst))
	head, body, tail := splitAligned(uintptr(base), len(src))

	i := 0
	for ; i < head; i++ {
		storeWord(dst, i, src[i])
	}
	if body > 0 {
		copy(dst[i*4:(i+body)*4], unsafe.Slice((*byte)(unsafe.Pointer(&src[i])), body*4))
		i += body
	}
	for ; i < head+body+tail; i++ {
		storeWord(dst, i, src[i])
	}
}

// SetWords writes v to the first count words of the mapped memory dst.
func SetWords(dst []byte, v uint32, count int) {
	for i := 0; i < count; i++ {
		storeWord(dst, i, v)
	}
}

func storeWord(dst []byte, i int, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&dst[i*4])), v)
}

func loadWord(src []byte, off uint64) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&src[off])))
}
