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

// Package introspect inspects loaded kernel drivers and walks the kernel
// process list through the driver memory requests.
package introspect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// maxSuggestions is the number of similar driver names reported on lookup miss
const maxSuggestions = 3

// Driver describes the loaded kernel module.
type Driver struct {
	Name      string
	Path      string
	Base      uint64
	Size      uint32
	LoadOrder uint16
}

// Contains determines whether the address belongs to the driver image.
func (d Driver) Contains(addr uint64) bool {
	return addr >= d.Base && addr < d.Base+uint64(d.Size)
}

// String returns the driver representation.
func (d Driver) String() string {
	return fmt.Sprintf("%s at %#x (%s)", d.Name, d.Base, humanize.IBytes(uint64(d.Size)))
}

// DriverNotFoundError is returned when no loaded driver matches the name.
type DriverNotFoundError struct {
	Name        string
	Suggestions []string
}

// Error returns the error message.
func (e *DriverNotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("%s driver is not loaded", e.Name)
	}
	return fmt.Sprintf("%s driver is not loaded. Did you mean %s?", e.Name, strings.Join(e.Suggestions, ", "))
}

// FindDriver returns the first driver whose name contains the substring.
// Names are matched case insensitively.
func FindDriver(drivers []Driver, substr string) (Driver, error) {
	for _, d := range drivers {
		if strings.Contains(strings.ToLower(d.Name), strings.ToLower(substr)) {
			return d, nil
		}
	}
	return Driver{}, &DriverNotFoundError{Name: substr, Suggestions: suggest(drivers, substr)}
}

// FindDriverByAddress returns the driver whose image contains the address.
func FindDriverByAddress(drivers []Driver, addr uint64) (Driver, bool) {
	for _, d := range drivers {
		if d.Contains(addr) {
			return d, true
		}
	}
	return Driver{}, false
}

func suggest(drivers []Driver, name string) []string {
	names := make([]string, len(drivers))
	for i, d := range drivers {
		names[i] = strings.TrimSuffix(strings.ToLower(d.Name), ".sys")
	}
	ranks := fuzzy.RankFindNormalizedFold(strings.TrimSuffix(name, ".sys"), names)
	sort.Sort(ranks)
	var suggestions []string
	for _, r := range ranks {
		if len(suggestions) == maxSuggestions {
			break
		}
		suggestions = append(suggestions, drivers[r.OriginalIndex].Name)
	}
	return suggestions
}
