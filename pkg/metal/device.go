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

package metal

import (
	"fmt"

	"aieio.dev/aieio/pkg/log"
	"aieio.dev/aieio/pkg/refs"
)

// Device is an open device on a bus.
//
// The opener holds the first reference; users sharing the device take more
// with IncRef. The regions are unmapped when the last reference is dropped
// with Close.
type Device struct {
	refs.AtomicRefCount

	bus     Bus
	name    string
	regions []*IORegion
	unmap   func() error
}

// Open opens the named device on bus.
func Open(bus Bus, name string) (*Device, error) {
	regions, unmap, err := bus.OpenRegions(name)
	if err != nil {
		return nil, fmt.Errorf("open %s/%s: %w", bus.Name(), name, err)
	}
	log.Debugf("Opened %s/%s, %d regions", bus.Name(), name, len(regions))
	return &Device{bus: bus, name: name, regions: regions, unmap: unmap}, nil
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.name
}

// Bus returns the bus the device is on.
func (d *Device) Bus() Bus {
	return d.bus
}

// NumRegions returns the number of register regions.
func (d *Device) NumRegions() int {
	return len(d.regions)
}

// Region returns region i, or nil if the device has no such region.
func (d *Device) Region(i int) *IORegion {
	if i < 0 || i >= len(d.regions) {
		return nil
	}
	return d.regions[i]
}

// Close drops a reference.
func (d *Device) Close() error {
	var err error
	d.DecRefWithDestructor(func() {
		err = d.unmap()
		d.regions = nil
		log.Debugf("Closed %s/%s", d.bus.Name(), d.name)
	})
	return err
}
