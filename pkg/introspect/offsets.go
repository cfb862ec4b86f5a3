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

package introspect

import (
	"fmt"
	"strings"
)

// KernelModule is the module that defines the process object structure.
const KernelModule = "ntoskrnl.exe"

// Process object fields the walker depends on.
const (
	FieldActiveProcessLinks = "_EPROCESS.ActiveProcessLinks"
	FieldUniqueProcessID    = "_EPROCESS.UniqueProcessId"
	FieldParentProcessID    = "_EPROCESS.InheritedFromUniqueProcessId"
	FieldImageFileName      = "_EPROCESS.ImageFileName"
)

// OffsetResolver resolves the offset of the structure field declared in
// the module symbols.
type OffsetResolver interface {
	FindOffset(module, field string) (uint16, error)
}

// OffsetNotFoundError is returned when the resolver doesn't know the field.
type OffsetNotFoundError struct {
	Module string
	Field  string
}

// Error returns the error message.
func (e *OffsetNotFoundError) Error() string {
	return fmt.Sprintf("offset of %s in %s is unknown", e.Field, e.Module)
}

// StaticOffsets resolves field offsets from the fixed table keyed by the
// field name. Keys prefixed with the module name and the exclamation mark
// take precedence, e.g. ntoskrnl.exe!_EPROCESS.UniqueProcessId. Keys
// that differ only in case are matched as a last resort.
type StaticOffsets map[string]uint16

// DefaultOffsets are the process object offsets of Windows 10 22H2 x64.
var DefaultOffsets = StaticOffsets{
	FieldUniqueProcessID:    0x440,
	FieldActiveProcessLinks: 0x448,
	FieldParentProcessID:    0x540,
	FieldImageFileName:      0x5a8,
}

// FindOffset implements OffsetResolver.
func (o StaticOffsets) FindOffset(module, field string) (uint16, error) {
	if off, ok := o[strings.ToLower(module)+"!"+field]; ok {
		return off, nil
	}
	if off, ok := o[field]; ok {
		return off, nil
	}
	// keys loaded from config files are lower-cased
	qualified := module + "!" + field
	for k, off := range o {
		if strings.EqualFold(k, qualified) {
			return off, nil
		}
	}
	for k, off := range o {
		if strings.EqualFold(k, field) {
			return off, nil
		}
	}
	return 0, &OffsetNotFoundError{Module: module, Field: field}
}

// Offsets are the resolved process object offsets.
type Offsets struct {
	Links     uint16
	PID       uint16
	ParentPID uint16
	ImageName uint16
}

// ResolveOffsets queries the resolver for every field the walker reads.
func ResolveOffsets(r OffsetResolver) (Offsets, error) {
	var (
		offs Offsets
		err  error
	)
	fields := []struct {
		name string
		off  *uint16
	}{
		{FieldActiveProcessLinks, &offs.Links},
		{FieldUniqueProcessID, &offs.PID},
		{FieldParentProcessID, &offs.ParentPID},
		{FieldImageFileName, &offs.ImageName},
	}
	for _, f := range fields {
		*f.off, err = r.FindOffset(KernelModule, f.name)
		if err != nil {
			return offs, err
		}
	}
	return offs, nil
}

// span returns the number of bytes covering every field of the process object.
func (o Offsets) span() int {
	end := 0
	for _, e := range []int{int(o.Links) + 16, int(o.PID) + 8, int(o.ParentPID) + 8, int(o.ImageName) + imageNameSize} {
		if e > end {
			end = e
		}
	}
	return end
}
