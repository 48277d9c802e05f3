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

package iocommon

import (
	"errors"
	"testing"
	"time"

	"aieio.dev/aieio/pkg/aie"
)

// fakeClock counts sleeps instead of sleeping.
type fakeClock struct {
	now time.Duration
}

func (c *fakeClock) sleep(d time.Duration) {
	c.now += d
}

func TestMaskPollIterations(t *testing.T) {
	for _, tc := range []struct {
		name    string
		timeout time.Duration
		reads   int
	}{
		// ceil(timeout / 200us) loop reads plus the final read.
		{"zero", 0, 1},
		{"one interval", 200 * time.Microsecond, 2},
		{"rounds up", 201 * time.Microsecond, 3},
		{"one ms", time.Millisecond, 6},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clk := &fakeClock{}
			p := Poller{Interval: MinPollInterval, Sleep: clk.sleep}
			reads := 0
			err := p.MaskPoll(func() (uint32, error) {
				reads++
				return 0, nil
			}, 0x1, 0x1, tc.timeout)
			if !errors.Is(err, aie.ErrPollTimeout) {
				t.Fatalf("MaskPoll = %v, want ErrPollTimeout", err)
			}
			if reads != tc.reads {
				t.Errorf("got %d reads, want %d", reads, tc.reads)
			}
		})
	}
}

func TestMaskPollFinalRead(t *testing.T) {
	// The register changes during the last sleep; only the extra read
	// after the loop sees it.
	clk := &fakeClock{}
	p := Poller{Interval: MinPollInterval, Sleep: clk.sleep}
	timeout := time.Millisecond
	err := p.MaskPoll(func() (uint32, error) {
		if clk.now >= timeout {
			return 0x3, nil
		}
		return 0x1, nil
	}, 0x2, 0x2, timeout)
	if err != nil {
		t.Errorf("MaskPoll = %v, want success from the final read", err)
	}
}

func TestMaskPollSucceedsWithinGranularity(t *testing.T) {
	clk := &fakeClock{}
	p := Poller{Interval: MinPollInterval, Sleep: clk.sleep}
	ready := 700 * time.Microsecond
	err := p.MaskPoll(func() (uint32, error) {
		if clk.now >= ready {
			return 0xF0, nil
		}
		return 0, nil
	}, 0xF0, 0xF0, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("MaskPoll: %v", err)
	}
	if clk.now < ready || clk.now > ready+MinPollInterval {
		t.Errorf("poll returned at %v, want within [%v, %v]", clk.now, ready, ready+MinPollInterval)
	}
}

func TestMaskPollReadError(t *testing.T) {
	clk := &fakeClock{}
	p := Poller{Interval: MinPollInterval, Sleep: clk.sleep}
	errRead := errors.New("read failed")
	if err := p.MaskPoll(func() (uint32, error) { return 0, errRead }, 1, 1, time.Second); !errors.Is(err, errRead) {
		t.Errorf("MaskPoll = %v, want %v", err, errRead)
	}
}

func TestMaskPollWallClock(t *testing.T) {
	start := time.Now()
	ready := start.Add(2 * time.Millisecond)
	err := MaskPoll(func() (uint32, error) {
		if time.Now().After(ready) {
			return 1, nil
		}
		return 0, nil
	}, 1, 1, time.Second)
	if err != nil {
		t.Fatalf("MaskPoll: %v", err)
	}
	if time.Now().Before(ready) {
		t.Errorf("MaskPoll returned before the register was ready")
	}
}

func TestAbsAddr(t *testing.T) {
	cfg := aie.DefaultConfig(aie.GenAIE)
	if got, want := AbsAddr(cfg, 0x1000), cfg.BaseAddr+0x1000; got != want {
		t.Errorf("AbsAddr = %#x, want %#x", got, want)
	}
	cfg.StartCol = 3
	if got, want := AbsAddr(cfg, 0x1000), cfg.BaseAddr+3<<cfg.ColShift+0x1000; got != want {
		t.Errorf("AbsAddr with start column 3 = %#x, want %#x", got, want)
	}
}
