/*
 * Copyright 2021-2022 by Nedim Sabic Sabic
 * https://www.fibratus.io
 * All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package partition

// Sentinel is the object watched by the guard. The set of sentinels is
// closed: only regions and patches implement it.
type Sentinel interface {
	// ID returns the kernel identifier of the sentinel.
	ID() uint64
	// Add attaches the sentinel to the guard.
	Add(g *Guard) error
	// Remove detaches the sentinel from the guard.
	Remove(g *Guard) error

	sentinel()
}

var (
	_ Sentinel = (*Region)(nil)
	_ Sentinel = (*Patch)(nil)
)

type attachRequest struct {
	Guard    uint64
	Sentinel uint64
}
