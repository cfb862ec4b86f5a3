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

package ioctl

import "fmt"

// Op identifies a driver operation. The numeric value is the offset
// of the function number from FunctionBase.
type Op uint16

const (
	PartitionCreate    Op = 0x00
	PartitionDelete    Op = 0x01
	PartitionGetOption Op = 0x02
	PartitionSetOption Op = 0x03

	GuardRegister   Op = 0x10
	GuardUnregister Op = 0x11
	GuardControl    Op = 0x12

	RegionCreate    Op = 0x20
	RegionDelete    Op = 0x21
	RegionAdd       Op = 0x22
	RegionRemove    Op = 0x23
	RegionSetState  Op = 0x24
	RegionGetInfo   Op = 0x25
	RegionEnumerate Op = 0x26

	PatchCreate    Op = 0x40
	PatchDelete    Op = 0x41
	PatchAdd       Op = 0x42
	PatchRemove    Op = 0x43
	PatchEnable    Op = 0x44
	PatchDisable   Op = 0x45
	PatchGetInfo   Op = 0x46
	PatchEnumerate Op = 0x47

	VirtualAlloc    Op = 0x50
	VirtualFree     Op = 0x51
	VirtualCopy     Op = 0x52
	VirtualSecure   Op = 0x53
	VirtualUnsecure Op = 0x54
	VirtualMap      Op = 0x55
	VirtualUnmap    Op = 0x56
	VirtualRead     Op = 0x57
	VirtualWrite    Op = 0x58

	ProcessAlloc Op = 0x59
	ProcessFree  Op = 0x5A
	ProcessRead  Op = 0x5B
	ProcessWrite Op = 0x5C

	TokenSteal    Op = 0x60
	ExportAddress Op = 0x62
	TestRun       Op = 0x63
)

// Variable denotes a buffer whose length depends on the request.
const Variable = -1

// Code returns the control code of the operation.
func (op Op) Code() ControlCode {
	return ControlCode{
		DeviceType: DeviceType,
		Function:   FunctionBase | uint16(op),
		Method:     MethodBuffered,
		Access:     AccessRead | AccessWrite,
	}
}

// Spec describes the operation layout. Sizes are expressed in bytes. Zero
// size means the operation doesn't transfer the buffer in that direction.
type Spec struct {
	Name       string
	Code       uint32
	InputSize  int
	OutputSize int
}

// Table maps operations to their specs. The table is handed to the
// device which validates every request against it.
type Table map[Op]Spec

var ops = []struct {
	op      Op
	name    string
	in, out int
}{
	{PartitionCreate, "partition-create", 0, 24},
	{PartitionDelete, "partition-delete", 8, 0},
	{PartitionGetOption, "partition-get-option", 16, 8},
	{PartitionSetOption, "partition-set-option", 24, 0},

	{GuardRegister, "guard-register", 8, 8},
	{GuardUnregister, "guard-unregister", 8, 0},
	{GuardControl, "guard-control", 16, 0},

	{RegionCreate, "region-create", 24, 8},
	{RegionDelete, "region-delete", 8, 0},
	{RegionAdd, "region-add", 16, 0},
	{RegionRemove, "region-remove", 16, 0},
	{RegionSetState, "region-set-state", 16, 0},
	{RegionGetInfo, "region-get-info", 8, 40},
	{RegionEnumerate, "region-enumerate", 0, Variable},

	{PatchCreate, "patch-create", Variable, 8},
	{PatchDelete, "patch-delete", 8, 0},
	{PatchAdd, "patch-add", 16, 0},
	{PatchRemove, "patch-remove", 16, 0},
	{PatchEnable, "patch-enable", 8, 0},
	{PatchDisable, "patch-disable", 8, 0},
	{PatchGetInfo, "patch-get-info", 8, 32},
	{PatchEnumerate, "patch-enumerate", 0, Variable},

	{VirtualAlloc, "virtual-alloc", 16, 16},
	{VirtualFree, "virtual-free", 8, 0},
	{VirtualCopy, "virtual-copy", 24, 0},
	{VirtualSecure, "virtual-secure", 24, 24},
	{VirtualUnsecure, "virtual-unsecure", 8, 0},
	{VirtualMap, "virtual-map", 32, 32},
	{VirtualUnmap, "virtual-unmap", 16, 0},
	{VirtualRead, "virtual-read", 16, Variable},
	{VirtualWrite, "virtual-write", Variable, 0},

	{ProcessAlloc, "process-alloc", 32, 32},
	{ProcessFree, "process-free", 16, 0},
	{ProcessRead, "process-read", 24, Variable},
	{ProcessWrite, "process-write", Variable, 0},

	{TokenSteal, "token-steal", 8, 0},
	{ExportAddress, "export-address", Variable, 8},
	{TestRun, "test-run", 8, 8},
}

// DefaultTable returns the operation table understood by the driver.
func DefaultTable() Table {
	t := make(Table, len(ops))
	for _, o := range ops {
		t[o.op] = Spec{Name: o.name, Code: o.op.Code().Encode(), InputSize: o.in, OutputSize: o.out}
	}
	return t
}

// Lookup returns the spec of the given operation.
func (t Table) Lookup(op Op) (Spec, bool) {
	s, ok := t[op]
	return s, ok
}

// Check resolves the operation spec and validates the input length
// against the fixed layout of the operation.
func (t Table) Check(op Op, inLen int) (Spec, error) {
	s, ok := t[op]
	if !ok {
		return Spec{}, fmt.Errorf("operation %#x is not present in the operation table", uint16(op))
	}
	if s.InputSize != Variable && s.InputSize != inLen {
		return s, fmt.Errorf("%s expects %d input bytes but got %d", s.Name, s.InputSize, inLen)
	}
	if s.InputSize == Variable && inLen == 0 {
		return s, fmt.Errorf("%s requires an input buffer", s.Name)
	}
	return s, nil
}

// String returns the operation name if known.
func (op Op) String() string {
	for _, o := range ops {
		if o.op == op {
			return o.name
		}
	}
	return fmt.Sprintf("op(%#x)", uint16(op))
}
