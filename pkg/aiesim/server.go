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

// Package aiesim serves a register file over the line protocol spoken by the
// socket backend, standing in for the array co-simulator.
//
// Requests are ASCII lines:
//
//	W <addr> <value>	write a register, no reply
//	R <addr>		read a register, replied as "0X%08X\n"
//
// Numbers take any Go integer literal prefix.
package aiesim

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"aieio.dev/aieio/pkg/log"
	"aieio.dev/aieio/pkg/regfile"
	"golang.org/x/sync/errgroup"
)

// Server serves one register file to any number of connections.
type Server struct {
	regs *regfile.File
	ln   net.Listener

	reads  atomic.Uint64
	writes atomic.Uint64

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// Listen listens on the TCP address addr. Port 0 picks a free port.
func Listen(addr string, regs *regfile.File) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{regs: regs, ln: ln, conns: make(map[net.Conn]struct{})}, nil
}

// Regs returns the served register file.
func (s *Server) Regs() *regfile.File {
	return s.regs
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Stats returns the number of reads and writes served.
func (s *Server) Stats() (reads, writes uint64) {
	return s.reads.Load(), s.writes.Load()
}

// Serve accepts connections until ctx is done, then closes the listener and
// every connection. It returns nil on cancellation.
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		s.ln.Close()
		s.mu.Lock()
		defer s.mu.Unlock()
		for c := range s.conns {
			c.Close()
		}
		s.conns = nil
		return nil
	})
	g.Go(func() error {
		for {
			c, err := s.ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			if !s.track(c) {
				c.Close()
				return nil
			}
			g.Go(func() error {
				defer s.untrack(c)
				if err := s.serveConn(c); err != nil {
					log.Warningf("Simulator connection %v: %v", c.RemoteAddr(), err)
				}
				return nil
			})
		}
	})
	return g.Wait()
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.Close()
}

var errRequest = errors.New("malformed request")

func parseNum(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errRequest, err)
	}
	return v, nil
}

func (s *Server) serveConn(c net.Conn) error {
	log.Infof("Simulator connection from %v", c.RemoteAddr())
	sc := bufio.NewScanner(c)
	for sc.Scan() {
		line := sc.Text()
		log.Debugf("sim <- %q", line)
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		switch {
		case f[0] == "W" && len(f) == 3:
			addr, err := parseNum(f[1])
			if err != nil {
				return err
			}
			v, err := parseNum(f[2])
			if err != nil {
				return err
			}
			if v > 0xFFFFFFFF {
				return fmt.Errorf("%w: value %#x", errRequest, v)
			}
			s.regs.Write32(addr, uint32(v))
			s.writes.Add(1)
		case f[0] == "R" && len(f) == 2:
			addr, err := parseNum(f[1])
			if err != nil {
				return err
			}
			reply := fmt.Sprintf("0X%08X\n", s.regs.Read32(addr))
			s.reads.Add(1)
			log.Debugf("sim -> %q", reply)
			if _, err := c.Write([]byte(reply)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %q", errRequest, line)
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
