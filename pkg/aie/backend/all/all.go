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

// Package all registers every backend with package aie.
package all

import (
	// Register backends.
	_ "aieio.dev/aieio/pkg/aie/backend/baremetal"
	_ "aieio.dev/aieio/pkg/aie/backend/cdo"
	_ "aieio.dev/aieio/pkg/aie/backend/debug"
	_ "aieio.dev/aieio/pkg/aie/backend/linux"
	_ "aieio.dev/aieio/pkg/aie/backend/metal"
	_ "aieio.dev/aieio/pkg/aie/backend/sim"
	_ "aieio.dev/aieio/pkg/aie/backend/socket"
)
