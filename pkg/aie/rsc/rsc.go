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

// Package rsc implements the resource request protocol of the array in user
// space, for backends without a kernel driver doing the bookkeeping.
//
// Resources of one kind in one tile module form a pool of ids. Each pool has
// two bitmaps: the dynamic one records ids handed out by Request, the static
// one ids claimed by RequestAllocated. An id is free when it is clear in both.
// Broadcast channels are shared by the tiles a signal crosses, so they are
// granted only when free in every tile of the request.
package rsc

import (
	"fmt"
	"sync"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/bitmap"
	"aieio.dev/aieio/pkg/log"
)

type key struct {
	loc  aie.Loc
	mod  aie.ModuleType
	kind aie.RscType
}

type pool struct {
	dynamic bitmap.Bitmap
	static  bitmap.Bitmap
}

func (p *pool) free(id uint32) bool {
	return !p.dynamic.Contains(id) && !p.static.Contains(id)
}

func (p *pool) used() bitmap.Bitmap {
	u := p.dynamic.Clone()
	for _, id := range p.static.ToSlice() {
		u.Add(id)
	}
	return u
}

// Manager tracks resource grants of one partition.
type Manager struct {
	cfg *aie.Config

	mu    sync.Mutex
	pools map[key]*pool
}

// NewManager returns a manager with every resource free.
func NewManager(cfg *aie.Config) *Manager {
	return &Manager{
		cfg:   cfg,
		pools: make(map[key]*pool),
	}
}

// pool returns the pool of k, creating it on first use. It fails when the
// tile module has no resource of that kind.
//
// Preconditions: m.mu is held.
func (m *Manager) pool(k key) (*pool, error) {
	if p, ok := m.pools[k]; ok {
		return p, nil
	}
	n := Max(m.cfg, k.loc, k.mod, k.kind)
	if n == 0 {
		return nil, fmt.Errorf("%w: tile %v module %v has no %v", aie.ErrInvalidArgs, k.loc, k.mod, k.kind)
	}
	p := &pool{dynamic: bitmap.New(n), static: bitmap.New(n)}
	m.pools[k] = p
	return p, nil
}

func check(req *aie.ResourceRequest) error {
	if req == nil {
		return fmt.Errorf("%w: nil resource request", aie.ErrInvalidArgs)
	}
	if req.Type >= aie.RscTypeMax {
		return fmt.Errorf("%w: resource type %v", aie.ErrInvalidArgs, req.Type)
	}
	return nil
}

// Request allocates NumPerTile resources dynamically and appends them to
// req.Granted. With RscFlagContiguous the ids are consecutive. A broadcast
// channel request is granted the lowest channel free in all its tiles.
func (m *Manager) Request(req *aie.ResourceRequest) error {
	if err := check(req); err != nil {
		return err
	}
	if req.Type == aie.RscBcastChannel {
		return m.broadcast(req, false)
	}
	if req.NumPerTile == 0 {
		return fmt.Errorf("%w: zero resources requested", aie.ErrInvalidArgs)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.pool(key{req.Loc, req.Mod, req.Type})
	if err != nil {
		return err
	}
	used := p.used()
	var ids []uint32
	if req.Flags&aie.RscFlagContiguous != 0 {
		first, err := used.FirstZeroRun(0, req.NumPerTile)
		if err != nil {
			return m.exhausted(req)
		}
		for i := uint32(0); i < req.NumPerTile; i++ {
			ids = append(ids, first+i)
		}
	} else {
		var start uint32
		for len(ids) < int(req.NumPerTile) {
			id, err := used.FirstZero(start)
			if err != nil {
				return m.exhausted(req)
			}
			ids = append(ids, id)
			start = id + 1
		}
	}
	for _, id := range ids {
		p.dynamic.Add(id)
		req.Granted = append(req.Granted, aie.Resource{Loc: req.Loc, Mod: req.Mod, Type: req.Type, ID: id})
	}
	return nil
}

func (m *Manager) exhausted(req *aie.ResourceRequest) error {
	log.Debugf("No %d free %v resources in tile %v module %v", req.NumPerTile, req.Type, req.Loc, req.Mod)
	return fmt.Errorf("%w: %d %v in tile %v module %v not available", aie.ErrInvalidArgs, req.NumPerTile, req.Type, req.Loc, req.Mod)
}

// RequestAllocated claims the specific resource req.ID and marks it static.
// A static id stays claimed across Free.
func (m *Manager) RequestAllocated(req *aie.ResourceRequest) error {
	if err := check(req); err != nil {
		return err
	}
	if req.Type == aie.RscBcastChannel {
		return m.broadcast(req, true)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.pool(key{req.Loc, req.Mod, req.Type})
	if err != nil {
		return err
	}
	if req.ID >= p.static.Size() {
		return fmt.Errorf("%w: %v id %d out of range", aie.ErrInvalidArgs, req.Type, req.ID)
	}
	if p.dynamic.Contains(req.ID) {
		return fmt.Errorf("%w: %v id %d of tile %v is allocated", aie.ErrInvalidArgs, req.Type, req.ID, req.Loc)
	}
	p.static.Add(req.ID)
	req.Granted = append(req.Granted, aie.Resource{Loc: req.Loc, Mod: req.Mod, Type: req.Type, ID: req.ID})
	return nil
}

// Release returns resources in both the static and the dynamic state.
func (m *Manager) Release(req *aie.ResourceRequest) error {
	return m.put(req, true)
}

// Free returns dynamically allocated resources. Static ids are kept.
func (m *Manager) Free(req *aie.ResourceRequest) error {
	return m.put(req, false)
}

// put clears the ids named by req: its Tiles when set, otherwise req.ID in
// req.Loc and the tiles of a broadcast channel.
func (m *Manager) put(req *aie.ResourceRequest, static bool) error {
	if err := check(req); err != nil {
		return err
	}
	rs := req.Tiles
	if len(rs) == 0 {
		rs = []aie.Resource{{Loc: req.Loc, Mod: req.Mod, Type: req.Type, ID: req.ID}}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rs {
		p, ok := m.pools[key{r.Loc, r.Mod, r.Type}]
		if !ok || r.ID >= p.dynamic.Size() {
			return fmt.Errorf("%w: %v id %d of tile %v was never granted", aie.ErrInvalidArgs, r.Type, r.ID, r.Loc)
		}
	}
	for _, r := range rs {
		p := m.pools[key{r.Loc, r.Mod, r.Type}]
		p.dynamic.Remove(r.ID)
		if static {
			p.static.Remove(r.ID)
		}
	}
	return nil
}

// broadcast grants a broadcast channel free in every tile of the request:
// every module of the partition with RscFlagBroadcastAll, otherwise
// req.Tiles, or req.Loc alone. A specific request asks for channel req.ID
// and marks it static.
func (m *Manager) broadcast(req *aie.ResourceRequest, specific bool) error {
	var tiles []aie.Resource
	switch {
	case req.Flags&aie.RscFlagBroadcastAll != 0:
		tiles = m.partitionModules()
	case len(req.Tiles) > 0:
		tiles = req.Tiles
	default:
		tiles = []aie.Resource{{Loc: req.Loc, Mod: req.Mod}}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	pools := make([]*pool, 0, len(tiles))
	for _, t := range tiles {
		p, err := m.pool(key{t.Loc, t.Mod, aie.RscBcastChannel})
		if err != nil {
			return err
		}
		pools = append(pools, p)
	}

	var id uint32
	if specific {
		id = req.ID
		for _, p := range pools {
			if id >= p.dynamic.Size() || !p.free(id) {
				return fmt.Errorf("%w: broadcast channel %d is not free in %d tiles", aie.ErrInvalidArgs, id, len(tiles))
			}
		}
	} else {
		found := false
		for ; id < broadcastChannels; id++ {
			found = true
			for _, p := range pools {
				if !p.free(id) {
					found = false
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: no broadcast channel free in %d tiles", aie.ErrInvalidArgs, len(tiles))
		}
	}

	for i, t := range tiles {
		if specific {
			pools[i].static.Add(id)
		} else {
			pools[i].dynamic.Add(id)
		}
		req.Granted = append(req.Granted, aie.Resource{Loc: t.Loc, Mod: t.Mod, Type: aie.RscBcastChannel, ID: id})
	}
	return nil
}

// partitionModules lists every module of the partition that carries
// broadcast channels.
func (m *Manager) partitionModules() []aie.Resource {
	var rs []aie.Resource
	for col := uint8(0); col < m.cfg.NumCols; col++ {
		for row := uint8(0); row < m.cfg.NumRows; row++ {
			loc := aie.Loc{Col: col, Row: row}
			for _, mod := range modules(m.cfg.TileType(loc)) {
				rs = append(rs, aie.Resource{Loc: loc, Mod: mod})
			}
		}
	}
	return rs
}

// Granted returns the number of resources of kind granted in the module at
// loc, static ones included.
func (m *Manager) Granted(loc aie.Loc, mod aie.ModuleType, kind aie.RscType) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[key{loc, mod, kind}]
	if !ok {
		return 0
	}
	u := p.used()
	return u.GetNumOnes()
}

// Handle runs the resource operations against m. It reports whether op is a
// resource operation.
func (m *Manager) Handle(op aie.Op) (bool, error) {
	switch o := op.(type) {
	case *aie.RequestResource:
		return true, m.Request(o.Req)
	case *aie.RequestAllocatedResource:
		return true, m.RequestAllocated(o.Req)
	case *aie.ReleaseResource:
		return true, m.Release(o.Req)
	case *aie.FreeResource:
		return true, m.Free(o.Req)
	}
	return false, nil
}
