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

package metal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"aieio.dev/aieio/pkg/cleanup"
	"aieio.dev/aieio/pkg/log"
	"golang.org/x/sys/unix"
)

// pagemap entry fields, see Documentation/admin-guide/mm/pagemap.rst.
const (
	pagemapPresent = 1 << 63
	pagemapPFNMask = 1<<55 - 1
)

// LinuxBus finds devices bound to UIO under /sys/bus/<name> and keeps
// shared memory in /dev/shm.
type LinuxBus struct {
	name     string
	sysfs    string
	devRoot  string
	shmDir   string
	pageSize uint64
}

// NewLinuxBus returns the named bus, for example "platform".
func NewLinuxBus(name string) (*LinuxBus, error) {
	b := &LinuxBus{
		name:     name,
		sysfs:    "/sys",
		devRoot:  "/dev",
		shmDir:   "/dev/shm",
		pageSize: uint64(unix.Getpagesize()),
	}
	if _, err := os.Stat(filepath.Join(b.sysfs, "bus", name)); err != nil {
		return nil, fmt.Errorf("bus %q: %w", name, err)
	}
	return b, nil
}

// Name implements Bus.Name.
func (b *LinuxBus) Name() string {
	return b.name
}

func readHex(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 0, 64)
}

// uioDir returns the uio class directory of the named device.
func (b *LinuxBus) uioDir(name string) (string, error) {
	dir := filepath.Join(b.sysfs, "bus", b.name, "devices", name, "uio")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("device %q is not bound to uio: %w", name, err)
	}
	for _, e := range ents {
		if strings.HasPrefix(e.Name(), "uio") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("device %q: uio instance %w", name, ErrNotFound)
}

// OpenRegions implements Bus.OpenRegions. Map N of the UIO device is mapped
// at offset N pages of /dev/uioX.
func (b *LinuxBus) OpenRegions(name string) ([]*IORegion, func() error, error) {
	dir, err := b.uioDir(name)
	if err != nil {
		return nil, nil, err
	}
	uio := filepath.Base(dir)
	fd, err := unix.Open(filepath.Join(b.devRoot, uio), unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", uio, err)
	}
	var mapped [][]byte
	release := func() error {
		var first error
		for _, m := range mapped {
			if err := unix.Munmap(m); err != nil && first == nil {
				first = err
			}
		}
		if err := unix.Close(fd); err != nil && first == nil {
			first = err
		}
		return first
	}
	cu := cleanup.Make(func() { release() })
	defer cu.Clean()

	var regions []*IORegion
	for i := 0; ; i++ {
		mapDir := filepath.Join(dir, "maps", fmt.Sprintf("map%d", i))
		if _, err := os.Stat(mapDir); err != nil {
			break
		}
		addr, err := readHex(filepath.Join(mapDir, "addr"))
		if err != nil {
			return nil, nil, err
		}
		size, err := readHex(filepath.Join(mapDir, "size"))
		if err != nil {
			return nil, nil, err
		}
		mem, err := unix.Mmap(fd, int64(uint64(i)*b.pageSize), int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return nil, nil, fmt.Errorf("map %s map%d: %w", uio, i, err)
		}
		mapped = append(mapped, mem)
		regions = append(regions, NewIORegion(fmt.Sprintf("%s.map%d", name, i), addr, mem))
		log.Debugf("%s map%d: %#x bytes at %#x", uio, i, size, addr)
	}
	if len(regions) == 0 {
		return nil, nil, fmt.Errorf("device %q has no memory maps", name)
	}
	cu.Release()
	return regions, release, nil
}

// OpenShmem implements Bus.OpenShmem.
func (b *LinuxBus) OpenShmem(name string, size uint64) (*Shmem, error) {
	if size == 0 || strings.ContainsRune(name, '/') {
		return nil, fmt.Errorf("shared memory %q: invalid name or size %#x", name, size)
	}
	path := filepath.Join(b.shmDir, name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	cu := cleanup.Make(func() {
		unix.Close(fd)
		unix.Unlink(path)
	})
	defer cu.Clean()

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("size %s to %#x: %w", path, size, err)
	}
	mem, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", path, err)
	}
	cu.Release()
	return &Shmem{
		Name:    name,
		Size:    size,
		FD:      fd,
		Mem:     mem,
		ops:     linuxOps{b},
		ownsFD:  true,
		ownsMap: true,
		path:    path,
	}, nil
}

// linuxOps is the ShmemOps of LinuxBus. Attached memory is locked so its
// physical pages stay put while the device uses them.
type linuxOps struct {
	b *LinuxBus
}

// Attach implements ShmemOps.Attach.
func (o linuxOps) Attach(dev *Device, s *Shmem, dir Direction) (*ScatterList, error) {
	if s.Mem == nil {
		if s.FD < 0 {
			return nil, fmt.Errorf("%s: nothing to map", s.Name)
		}
		mem, err := unix.Mmap(s.FD, 0, int(s.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return nil, fmt.Errorf("map %s: %w", s.Name, err)
		}
		s.Mem = mem
		s.ownsMap = true
	}
	if err := unix.Mlock(s.Mem); err != nil {
		return nil, fmt.Errorf("lock %s: %w", s.Name, err)
	}
	sg, err := o.b.scatter(s.Mem)
	if err != nil {
		unix.Munlock(s.Mem)
		return nil, err
	}
	sg.Dir = dir
	return sg, nil
}

// scatter translates mem to physical pages through /proc/self/pagemap and
// merges contiguous pages.
func (b *LinuxBus) scatter(mem []byte) (*ScatterList, error) {
	f, err := os.Open("/proc/self/pagemap")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sg := &ScatterList{}
	addr := bufAddr(mem)
	var entry [8]byte
	for off := uint64(0); off < uint64(len(mem)); {
		va := addr + off
		if _, err := f.ReadAt(entry[:], int64(va/b.pageSize*8)); err != nil {
			return nil, fmt.Errorf("pagemap at %#x: %w", va, err)
		}
		e := binary.LittleEndian.Uint64(entry[:])
		pfn := e & pagemapPFNMask
		if e&pagemapPresent == 0 || pfn == 0 {
			return nil, fmt.Errorf("physical address of %#x unavailable", va)
		}
		phys := pfn*b.pageSize + va%b.pageSize
		n := min(b.pageSize-va%b.pageSize, uint64(len(mem))-off)
		if last := len(sg.Entries) - 1; last >= 0 && sg.Entries[last].Phys+uint64(len(sg.Entries[last].Virt)) == phys {
			sg.Entries[last].Virt = mem[off-uint64(len(sg.Entries[last].Virt)) : off+n]
		} else {
			sg.Entries = append(sg.Entries, SGEntry{Virt: mem[off : off+n], Phys: phys})
		}
		off += n
	}
	return sg, nil
}

// Detach implements ShmemOps.Detach.
func (linuxOps) Detach(dev *Device, s *Shmem, sg *ScatterList) error {
	return unix.Munlock(s.Mem)
}

// Sync implements ShmemOps.Sync.
func (linuxOps) Sync(s *Shmem, forDevice bool) error {
	flags := unix.MS_SYNC
	if !forDevice {
		flags |= unix.MS_INVALIDATE
	}
	return unix.Msync(s.Mem, flags)
}

// Close implements ShmemOps.Close.
func (linuxOps) Close(s *Shmem) error {
	var first error
	if s.ownsMap && s.Mem != nil {
		first = unix.Munmap(s.Mem)
	}
	s.Mem = nil
	if s.ownsFD {
		if err := unix.Close(s.FD); err != nil && first == nil {
			first = err
		}
		s.FD = -1
	}
	if s.path != "" {
		if err := unix.Unlink(s.path); err != nil && first == nil {
			first = err
		}
	}
	return first
}
