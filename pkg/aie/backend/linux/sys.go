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

//go:build linux
// +build linux

package linux

import (
	"unsafe"

	abi "aieio.dev/aieio/pkg/abi/aie"
	"golang.org/x/sys/unix"
)

// sysIface is the kernel surface used by the backend.
type sysIface interface {
	Open(path string, flags int) (int32, error)
	Close(fd int32) error
	Mmap(fd int32, size uint64, prot int) ([]byte, error)
	Munmap(b []byte) error

	// Ioctl issues an ioctl with a pointer argument. It returns the
	// syscall result, which some requests use to return a descriptor.
	Ioctl(fd int32, cmd uint32, arg unsafe.Pointer) (uintptr, error)

	// IoctlInt issues an ioctl with an integer argument.
	IoctlInt(fd int32, cmd uint32, arg uintptr) (uintptr, error)
}

// hostSys is the sysIface of the running kernel.
type hostSys struct{}

func (hostSys) Open(path string, flags int) (int32, error) {
	fd, err := unix.Open(path, flags|unix.O_CLOEXEC, 0)
	return int32(fd), err
}

func (hostSys) Close(fd int32) error {
	return unix.Close(int(fd))
}

func (hostSys) Mmap(fd int32, size uint64, prot int) ([]byte, error) {
	return unix.Mmap(int(fd), 0, int(size), prot, unix.MAP_SHARED)
}

func (hostSys) Munmap(b []byte) error {
	return unix.Munmap(b)
}

func (hostSys) Ioctl(fd int32, cmd uint32, arg unsafe.Pointer) (uintptr, error) {
	return abi.IOCTLInvokePtrArg(fd, cmd, (*byte)(arg))
}

func (hostSys) IoctlInt(fd int32, cmd uint32, arg uintptr) (uintptr, error) {
	return abi.IOCTLInvoke(fd, cmd, arg)
}

// sliceAddr returns the user address of the first element of s, or 0 for an
// empty slice. The caller keeps s alive across the ioctl using it.
func sliceAddr[T any](s []T) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}
