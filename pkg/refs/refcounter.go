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


// Package refs counts the owners of a shared mapping so that the last one
// to let go unmaps it.
package refs

import (
	"fmt"
	"sync/atomic"
)

// AtomicRefCount is embedded by objects shared between several owners,
// such as a register window used by both a backend and its NPI helper.
//
// The zero value is held by one owner, its creator.
type AtomicRefCount struct {
	// extra is the number of owners beyond the creator, -1 once the
	// object is released.
	extra atomic.Int64
}

// ReadRefs returns the number of owners. The result is stale as soon as it
// is returned.
func (r *AtomicRefCount) ReadRefs() int64 {
	return r.extra.Load() + 1
}

// IncRef adds an owner. The object must not have been released.
func (r *AtomicRefCount) IncRef() {
	if n := r.extra.Add(1); n <= 0 {
		panic(fmt.Sprintf("IncRef on released object (owners %d)", n))
	}
}

// TryIncRef adds an owner unless the object was already released.
func (r *AtomicRefCount) TryIncRef() bool {
	for {
		n := r.extra.Load()
		if n < 0 {
			return false
		}
		if r.extra.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// DecRefWithDestructor drops an owner and runs destroy, if not nil, when
// that was the last one. It reports whether the object was released.
func (r *AtomicRefCount) DecRefWithDestructor(destroy func()) bool {
	switch n := r.extra.Add(-1); {
	case n < -1:
		panic(fmt.Sprintf("DecRef on released object (owners %d)", n+1))
	case n == -1:
		if destroy != nil {
			destroy()
		}
		return true
	}
	return false
}

// DecRef drops an owner.
func (r *AtomicRefCount) DecRef() {
	r.DecRefWithDestructor(nil)
}
