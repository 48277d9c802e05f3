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
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
)

func TestSplitAligned(t *testing.T) {
	for _, tc := range []struct {
		addr             uintptr
		words            int
		head, body, tail int
	}{
		{addr: 0x1000, words: 8, body: 8},
		{addr: 0x1000, words: 3, tail: 3},
		{addr: 0x1004, words: 2, head: 2},
		{addr: 0x1004, words: 3, head: 3},
		{addr: 0x1004, words: 10, head: 3, body: 4, tail: 3},
		{addr: 0x100C, words: 6, head: 1, body: 4, tail: 1},
		{addr: 0x1008, words: 5, head: 2, tail: 3},
		{addr: 0x1008, words: 0},
	} {
		head, body, tail := splitAligned(tc.addr, tc.words)
		if head != tc.head || body != tc.body || tail != tc.tail {
			t.Errorf("splitAligned(%#x, %d) = (%d, %d, %d), want (%d, %d, %d)",
				tc.addr, tc.words, head, body, tail, tc.head, tc.body, tc.tail)
		}
		if head+body+tail != tc.words {
			t.Errorf("splitAligned(%#x, %d) covers %d words", tc.addr, tc.words, head+body+tail)
		}
	}
}

func TestCopyWords(t *testing.T) {
	src := make([]uint32, 23)
	for i := range src {
		src[i] = uint32(i)*0x01010101 + 1
	}
	// Copy to every word alignment within a 16-byte burst.
	for shift := 0; shift < copyAlign/4; shift++ {
		backing := make([]uint32, 40)
		buf := unsafe.Slice((*byte)(unsafe.Pointer(&backing[0])), len(backing)*4)
		CopyWords(buf[shift*4:], src)
		got := make([]uint32, len(src))
		for i := range got {
			got[i] = loadWord(buf, uint64(shift*4+i*4))
		}
		if diff := cmp.Diff(src, got); diff != "" {
			t.Errorf("shift %d: copy mismatch (-want +got):\n%s", shift, diff)
		}
		if backing[shift+len(src)] != 0 {
			t.Errorf("shift %d: word past the copy written", shift)
		}
	}
}

func TestSetWords(t *testing.T) {
	buf := make([]byte, 32)
	SetWords(buf[4:], 0xCAFE, 5)
	for i := 0; i < 8; i++ {
		want := uint32(0)
		if i >= 1 && i < 6 {
			want = 0xCAFE
		}
		if got := loadWord(buf, uint64(i*4)); got != want {
			t.Errorf("word %d = %#x, want %#x", i, got, want)
		}
	}
}
