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

import (
	"errors"
	"fmt"
)

// Error kinds returned by backends. Callers match them with errors.Is.
var (
	// ErrHardware is a transport level failure: a failed ioctl, a short
	// socket write, a failed mapping.
	ErrHardware = errors.New("hardware error")

	// ErrFeatureNotSupported is returned for operations a backend cannot
	// perform.
	ErrFeatureNotSupported = errors.New("feature not supported")

	// ErrInvalidBackend is returned when the requested backend is not
	// available in this build.
	ErrInvalidBackend = errors.New("invalid backend")

	// ErrInvalidArgs is returned for structurally wrong arguments.
	ErrInvalidArgs = errors.New("invalid arguments")

	// ErrPollTimeout is returned by MaskPoll when the condition was not
	// met in time.
	ErrPollTimeout = errors.New("poll timeout")
)

// HardwareError wraps a transport error of the named operation at off with
// ErrHardware.
func HardwareError(op string, off uint64, err error) error {
	if err == nil {
		return fmt.Errorf("%s at %#x: %w", op, off, ErrHardware)
	}
	return fmt.Errorf("%s at %#x: %w: %w", op, off, ErrHardware, err)
}

// NotSupported returns an error wrapping ErrFeatureNotSupported for the named
// operation on backend t.
func NotSupported(t BackendType, op string) error {
	return fmt.Errorf("%v backend: %s: %w", t, op, ErrFeatureNotSupported)
}
