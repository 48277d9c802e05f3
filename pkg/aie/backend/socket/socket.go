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

// Package socket implements the backend talking to the array co-simulator
// over TCP. Every register access is one request line; reads wait for the
// reply line. A failed request fails only that operation and the connection
// is not re-established.
package socket

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/aie/iocommon"
	"aieio.dev/aieio/pkg/aie/npi"
	"aieio.dev/aieio/pkg/aie/privilege"
	"aieio.dev/aieio/pkg/aie/rsc"
	"aieio.dev/aieio/pkg/aiesim"
	"aieio.dev/aieio/pkg/log"
	"github.com/cenkalti/backoff"
)

func init() {
	aie.Register(aie.BackendSocket, func(cfg *aie.Config) (aie.Backend, error) {
		return New(cfg)
	})
}

// connectRetry is the interval between connection attempts.
const connectRetry = 50 * time.Millisecond

// Backend is a connection to the simulator.
type Backend struct {
	cfg  *aie.Config
	conn net.Conn
	r    *bufio.Reader

	tiles *rsc.TileMap
	rsc   *rsc.Manager
}

// New connects to the simulator whose port is published in
// cfg.Socket.PortFile.
func New(cfg *aie.Config) (*Backend, error) {
	port, err := aiesim.ReadPortFile(cfg.Socket.PortFile)
	if err != nil {
		log.Warningf("Failed to read the simulator port: %v", err)
		return nil, fmt.Errorf("%w: simulator port: %w", aie.ErrHardware, err)
	}
	host := cfg.Socket.Host
	if host == "" {
		host = "localhost"
	}
	return Dial(cfg, net.JoinHostPort(host, strconv.Itoa(port)))
}

// Dial connects to the simulator at addr, retrying for up to
// cfg.Socket.ConnectTimeout.
func Dial(cfg *aie.Config, addr string) (*Backend, error) {
	var conn net.Conn
	dial := func() error {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			log.Debugf("Dialing simulator at %s: %v", addr, err)
			return err
		}
		conn = c
		return nil
	}

	var err error
	if timeout := cfg.Socket.ConnectTimeout; timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err = backoff.Retry(dial, backoff.WithContext(backoff.NewConstantBackOff(connectRetry), ctx))
	} else {
		err = dial()
	}
	if err != nil {
		log.Warningf("Failed to connect to the simulator at %s: %v", addr, err)
		return nil, fmt.Errorf("%w: connecting to simulator at %s: %w", aie.ErrHardware, addr, err)
	}
	log.Infof("Connected to simulator at %s", addr)
	return &Backend{
		cfg:   cfg,
		conn:  conn,
		r:     bufio.NewReader(conn),
		tiles: rsc.NewTileMap(cfg),
		rsc:   rsc.NewManager(cfg),
	}, nil
}

// Type implements aie.Backend.Type.
func (b *Backend) Type() aie.BackendType {
	return aie.BackendSocket
}

// Finish implements aie.Backend.Finish. Requests still in flight are
// applied before the connection is closed.
func (b *Backend) Finish() error {
	err := b.Sync()
	if cerr := b.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Sync returns once the simulator has applied every request sent so far.
// Writes have no reply, so a read round trip serves as the barrier.
func (b *Backend) Sync() error {
	_, err := b.readAbs(iocommon.AbsAddr(b.cfg, 0))
	return err
}

func (b *Backend) send(line string, addr uint64) error {
	log.Debugf("socket -> %q", line)
	n, err := io.WriteString(b.conn, line)
	if err == nil && n != len(line) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return aie.HardwareError("socket write", addr, err)
	}
	return nil
}

// parseReply decodes a read reply. Any Go integer literal is accepted.
func parseReply(line string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(line), 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func (b *Backend) writeAbs(addr uint64, v uint32) error {
	return b.send(fmt.Sprintf("W 0X%016X 0X%08X\n", addr, v), addr)
}

func (b *Backend) readAbs(addr uint64) (uint32, error) {
	if err := b.send(fmt.Sprintf("R 0X%016X\n", addr), addr); err != nil {
		return 0, err
	}
	line, err := b.r.ReadString('\n')
	if err != nil {
		return 0, aie.HardwareError("socket read", addr, err)
	}
	log.Debugf("socket <- %q", line)
	v, err := parseReply(line)
	if err != nil {
		return 0, aie.HardwareError("socket read", addr, err)
	}
	return v, nil
}

func (b *Backend) check(off uint64, words int) error {
	if words < 0 {
		return fmt.Errorf("%w: negative count %d", aie.ErrInvalidArgs, words)
	}
	if size := b.cfg.PartitionSize(); off >= size || uint64(words)*4 > size-off {
		return fmt.Errorf("%w: %d words at %#x outside partition of %#x bytes", aie.ErrInvalidArgs, words, off, size)
	}
	return nil
}

// Read32 implements aie.Backend.Read32.
func (b *Backend) Read32(off uint64) (uint32, error) {
	if err := b.check(off, 1); err != nil {
		return 0, err
	}
	return b.readAbs(iocommon.AbsAddr(b.cfg, off))
}

// Write32 implements aie.Backend.Write32.
func (b *Backend) Write32(off uint64, v uint32) error {
	if err := b.check(off, 1); err != nil {
		return err
	}
	return b.writeAbs(iocommon.AbsAddr(b.cfg, off), v)
}

// MaskWrite32 implements aie.Backend.MaskWrite32.
func (b *Backend) MaskWrite32(off uint64, mask, v uint32) error {
	cur, err := b.Read32(off)
	if err != nil {
		return err
	}
	return b.Write32(off, cur&^mask|v&mask)
}

// MaskPoll implements aie.Backend.MaskPoll.
func (b *Backend) MaskPoll(off uint64, mask, v uint32, timeout time.Duration) error {
	if err := b.check(off, 1); err != nil {
		return err
	}
	return iocommon.MaskPoll(func() (uint32, error) { return b.Read32(off) }, mask, v, timeout)
}

// BlockWrite32 implements aie.Backend.BlockWrite32.
func (b *Backend) BlockWrite32(off uint64, data []uint32) error {
	if err := b.check(off, len(data)); err != nil {
		return err
	}
	return b.writeBlock(off, len(data), func(i int) uint32 { return data[i] })
}

// BlockSet32 implements aie.Backend.BlockSet32.
func (b *Backend) BlockSet32(off uint64, v uint32, count int) error {
	if err := b.check(off, count); err != nil {
		return err
	}
	return b.writeBlock(off, count, func(int) uint32 { return v })
}

// writeBlock sends words consecutive writes in one buffered batch. Writes
// have no reply, so nothing is read back until the batch is flushed.
func (b *Backend) writeBlock(off uint64, words int, val func(i int) uint32) error {
	base := iocommon.AbsAddr(b.cfg, off)
	debug := log.IsLogging(log.Debug)
	w := bufio.NewWriterSize(b.conn, 64<<10)
	for i := 0; i < words; i++ {
		addr := base + uint64(i)*4
		line := fmt.Sprintf("W 0X%016X 0X%08X\n", addr, val(i))
		if debug {
			log.Debugf("socket -> %q", line)
		}
		if _, err := w.WriteString(line); err != nil {
			return aie.HardwareError("socket write", addr, err)
		}
	}
	if err := w.Flush(); err != nil {
		return aie.HardwareError("socket write", base, err)
	}
	return nil
}

// CmdWrite implements aie.Backend.CmdWrite.
func (b *Backend) CmdWrite(col, row, cmd uint8, wd0, wd1 uint32, s string) error {
	return aie.NotSupported(aie.BackendSocket, "cmd write")
}

// npiRegs addresses the NPI registers through the simulator.
type npiRegs struct {
	b *Backend
}

func (n npiRegs) Write32(off uint64, v uint32) error {
	return n.b.writeAbs(n.b.cfg.NpiBaseAddr+off, v)
}

func (n npiRegs) Read32(off uint64) (uint32, error) {
	return n.b.readAbs(n.b.cfg.NpiBaseAddr + off)
}

// RunOp implements aie.Backend.RunOp.
func (b *Backend) RunOp(op aie.Op) error {
	switch o := op.(type) {
	case *aie.PartitionInit:
		return privilege.InitPart(b, b.cfg, b.tiles, o.Opts)
	case *aie.PartitionTeardown:
		return privilege.TeardownPart(b, b.cfg, b.tiles)
	case *aie.ConfigShimDmaBd:
		off, words, err := iocommon.ShimDmaBd(b.cfg, o)
		if err != nil {
			return err
		}
		return b.BlockWrite32(off, words)
	case *aie.RequestTiles:
		return privilege.RequestTiles(b, b.cfg, b.tiles, o.Locs)
	case *aie.ReleaseTiles:
		return privilege.ReleaseTiles(b, b.cfg, b.tiles, o.Locs)
	}
	if handled, err := npi.RunOp(npiRegs{b}, b.cfg, op); handled {
		return err
	}
	if handled, err := b.rsc.Handle(op); handled {
		return err
	}
	return aie.UnsupportedOp(aie.BackendSocket, op)
}

// MemAllocate implements aie.Backend.MemAllocate.
func (b *Backend) MemAllocate(uint64, aie.CacheProp) (*aie.MemInst, error) {
	return nil, aie.NotSupported(aie.BackendSocket, "memory allocate")
}

// MemFree implements aie.Backend.MemFree.
func (b *Backend) MemFree(*aie.MemInst) error {
	return aie.NotSupported(aie.BackendSocket, "memory free")
}

// MemSyncForCPU implements aie.Backend.MemSyncForCPU.
func (b *Backend) MemSyncForCPU(*aie.MemInst) error {
	return aie.NotSupported(aie.BackendSocket, "memory sync")
}

// MemSyncForDevice implements aie.Backend.MemSyncForDevice.
func (b *Backend) MemSyncForDevice(*aie.MemInst) error {
	return aie.NotSupported(aie.BackendSocket, "memory sync")
}

// MemAttach implements aie.Backend.MemAttach.
func (b *Backend) MemAttach(*aie.MemInst, uint64) error {
	return aie.NotSupported(aie.BackendSocket, "memory attach")
}

// MemDetach implements aie.Backend.MemDetach.
func (b *Backend) MemDetach(*aie.MemInst) error {
	return aie.NotSupported(aie.BackendSocket, "memory detach")
}

// GetTid implements aie.Backend.GetTid.
func (b *Backend) GetTid() uint64 {
	return iocommon.Tid()
}
