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

// Package ioctl implements the control code scheme used to drive the
// kernel driver. A control code packs the device type, the function
// number, the transfer method and the required access into a single
// 32-bit value:
//
//	31          16 15  14 13           2 1    0
//	+-------------+------+--------------+------+
//	| device type |access|   function   |method|
//	+-------------+------+--------------+------+
//
// The layout is load-bearing protocol and must stay bit exact.
package ioctl

import "fmt"

const (
	// DeviceType is the device type the driver registers its device object with.
	DeviceType uint16 = 0xB080
	// FunctionBase is the first function number reserved for driver operations.
	// Function numbers below 0x800 are reserved by the system.
	FunctionBase uint16 = 0xA00
)

// Transfer methods.
const (
	MethodBuffered  uint8 = 0
	MethodInDirect  uint8 = 1
	MethodOutDirect uint8 = 2
	MethodNeither   uint8 = 3
)

// Access rights required to issue the control code.
const (
	AccessAny   uint8 = 0
	AccessRead  uint8 = 1
	AccessWrite uint8 = 2
)

const (
	functionMask = 0xFFF
	methodMask   = 0x3
	accessMask   = 0x3
)

// ControlCode is the decoded representation of the 32-bit
// operation identifier exchanged with the driver.
type ControlCode struct {
	DeviceType uint16
	Function   uint16
	Method     uint8
	Access     uint8
}

// Encode packs the control code. Function bits beyond 12 and method/access
// bits beyond 2 are discarded.
func (c ControlCode) Encode() uint32 {
	return uint32(c.DeviceType)<<16 |
		uint32(c.Access&accessMask)<<14 |
		uint32(c.Function&functionMask)<<2 |
		uint32(c.Method&methodMask)
}

// Decode unpacks the 32-bit control code.
func Decode(code uint32) ControlCode {
	return ControlCode{
		DeviceType: uint16(code >> 16),
		Function:   uint16((code >> 2) & functionMask),
		Method:     uint8(code & methodMask),
		Access:     uint8((code >> 14) & accessMask),
	}
}

// String returns the control code string representation.
func (c ControlCode) String() string {
	return fmt.Sprintf("device=%#x function=%#x method=%d access=%d", c.DeviceType, c.Function, c.Method, c.Access)
}
