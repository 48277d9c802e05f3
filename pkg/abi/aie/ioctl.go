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

// ioctl(2) request encoding as defined by asm-generic/ioctl.h.
const (
	_IOC_NRBITS   = 8
	_IOC_TYPEBITS = 8
	_IOC_SIZEBITS = 14
	_IOC_DIRBITS  = 2

	_IOC_NRSHIFT   = 0
	_IOC_TYPESHIFT = _IOC_NRSHIFT + _IOC_NRBITS
	_IOC_SIZESHIFT = _IOC_TYPESHIFT + _IOC_TYPEBITS
	_IOC_DIRSHIFT  = _IOC_SIZESHIFT + _IOC_SIZEBITS

	_IOC_NONE  = 0
	_IOC_WRITE = 1
	_IOC_READ  = 2
)

// IOC encodes an ioctl request number.
func IOC(dir, typ, nr, size uint32) uint32 {
	return dir<<_IOC_DIRSHIFT | typ<<_IOC_TYPESHIFT | nr<<_IOC_NRSHIFT | size<<_IOC_SIZESHIFT
}

// IO encodes an ioctl request without an argument.
func IO(typ, nr uint32) uint32 {
	return IOC(_IOC_NONE, typ, nr, 0)
}

// IOR encodes an ioctl request that reads size bytes from the kernel.
func IOR(typ, nr, size uint32) uint32 {
	return IOC(_IOC_READ, typ, nr, size)
}

// IOW encodes an ioctl request that writes size bytes to the kernel.
func IOW(typ, nr, size uint32) uint32 {
	return IOC(_IOC_WRITE, typ, nr, size)
}

// IOWR encodes a bidirectional ioctl request.
func IOWR(typ, nr, size uint32) uint32 {
	return IOC(_IOC_READ|_IOC_WRITE, typ, nr, size)
}

// IOCNr returns the request number component of an ioctl request.
func IOCNr(cmd uint32) uint32 {
	return (cmd >> _IOC_NRSHIFT) & ((1 << _IOC_NRBITS) - 1)
}

// IOCType returns the type component of an ioctl request.
func IOCType(cmd uint32) uint32 {
	return (cmd >> _IOC_TYPESHIFT) & ((1 << _IOC_TYPEBITS) - 1)
}

// IOCSize returns the argument size encoded in an ioctl request.
func IOCSize(cmd uint32) uint32 {
	return (cmd >> _IOC_SIZESHIFT) & ((1 << _IOC_SIZEBITS) - 1)
}
