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

// Package iocommon holds helpers shared by the software backends.
package iocommon

import (
	"fmt"
	"time"

	"aieio.dev/aieio/pkg/aie"
	"aieio.dev/aieio/pkg/log"
)

// MinPollInterval is the polling granularity of MaskPoll.
const MinPollInterval = 200 * time.Microsecond

// pollWarn limits poll timeout warnings.
var pollWarn = log.BasicRateLimitedLogger(time.Second)

// Poller runs mask poll loops.
type Poller struct {
	// Interval is the sleep between reads.
	Interval time.Duration

	// Sleep is called between reads.
	Sleep func(time.Duration)
}

// DefaultPoller polls every MinPollInterval.
var DefaultPoller = Poller{Interval: MinPollInterval, Sleep: time.Sleep}

// MaskPoll polls with DefaultPoller.
func MaskPoll(read func() (uint32, error), mask, value uint32, timeout time.Duration) error {
	return DefaultPoller.MaskPoll(read, mask, value, timeout)
}

// MaskPoll reads until (v & mask) == value. The loop sleeps Interval between
// reads for ceil(timeout/Interval) iterations and then reads once more, so a
// state change during the last sleep is not lost. A failed read ends the poll.
func (p Poller) MaskPoll(read func() (uint32, error), mask, value uint32, timeout time.Duration) error {
	interval := p.Interval
	if interval <= 0 {
		interval = MinPollInterval
	}
	count := int((timeout + interval - 1) / interval)
	for ; count > 0; count-- {
		v, err := read()
		if err != nil {
			return err
		}
		if v&mask == value {
			return nil
		}
		p.Sleep(interval)
	}

	v, err := read()
	if err != nil {
		return err
	}
	if v&mask == value {
		return nil
	}
	pollWarn.Warningf("Mask poll timed out after %v: read %#x, mask %#x, want %#x", timeout, v, mask, value)
	return fmt.Errorf("mask %#x value %#x after %v: %w", mask, value, timeout, aie.ErrPollTimeout)
}

// AbsAddr returns the absolute address of a partition relative offset.
func AbsAddr(cfg *aie.Config, off uint64) uint64 {
	return cfg.PartitionBase() + off
}
