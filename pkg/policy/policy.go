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

// Package policy defines the access masks watched by regions and the
// actions the driver applies to intercepted accesses.
package policy

import "strings"

// Action is the policy response to an interception. Actions are bit flags
// and can be combined.
type Action uint32

const (
	// Continue lets the access proceed.
	Continue Action = 1 << iota
	// Block denies the access.
	Block
	// Stealth hides the watched memory from the accessor.
	Stealth
	// Notify reports the access to user space without waiting for a decision.
	Notify
	// Inspect suspends the accessor until user space answers. Inspect implies Notify.
	Inspect
)

// DefaultAction is applied to regions created without an explicit action.
const DefaultAction = Inspect | Notify

// Normalize returns the action with implied flags set.
func (a Action) Normalize() Action {
	if a&Inspect != 0 {
		a |= Notify
	}
	return a
}

// Has determines if all flags in f are set.
func (a Action) Has(f Action) bool { return a&f == f }

var actionNames = []struct {
	a    Action
	name string
}{
	{Continue, "CONTINUE"},
	{Block, "BLOCK"},
	{Stealth, "STEALTH"},
	{Notify, "NOTIFY"},
	{Inspect, "INSPECT"},
}

// String returns the action flags joined by the pipe character.
func (a Action) String() string {
	if a == 0 {
		return "NONE"
	}
	var flags []string
	for _, n := range actionNames {
		if a&n.a != 0 {
			flags = append(flags, n.name)
		}
	}
	return strings.Join(flags, "|")
}

// ParseAction converts the pipe or comma separated list of action names.
func ParseAction(s string) (Action, bool) {
	var a Action
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		var found bool
		for _, n := range actionNames {
			if strings.EqualFold(strings.TrimSpace(f), n.name) {
				a |= n.a
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return a, true
}

// Access is the memory access mask.
type Access uint32

const (
	// Read access.
	Read Access = 1 << iota
	// Write access.
	Write
	// Execute access.
	Execute
)

// String returns the access mask in rwx notation.
func (a Access) String() string {
	b := []byte("---")
	if a&Read != 0 {
		b[0] = 'r'
	}
	if a&Write != 0 {
		b[1] = 'w'
	}
	if a&Execute != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// ParseAccess converts the access mask in rwx notation, e.g. rw or r-x.
func ParseAccess(s string) (Access, bool) {
	var a Access
	for _, c := range strings.ToLower(s) {
		switch c {
		case 'r':
			a |= Read
		case 'w':
			a |= Write
		case 'x':
			a |= Execute
		case '-':
		default:
			return 0, false
		}
	}
	return a, a != 0
}
