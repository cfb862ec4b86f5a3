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

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	code := ControlCode{DeviceType: 0xB080, Function: 0x0A00, Method: MethodBuffered, Access: AccessRead | AccessWrite}
	assert.Equal(t, uint32(0xB080E800), code.Encode())
	assert.Equal(t, code, Decode(0xB080E800))
}

func TestCodeRoundTrip(t *testing.T) {
	// exhaustive over function, method and access
	for fn := uint16(0); fn <= functionMask; fn++ {
		for method := uint8(0); method <= methodMask; method++ {
			for access := uint8(0); access <= accessMask; access++ {
				code := ControlCode{DeviceType: DeviceType, Function: fn, Method: method, Access: access}
				require.Equal(t, code, Decode(code.Encode()))
			}
		}
	}
	// sampled over device types
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		code := ControlCode{
			DeviceType: uint16(r.Intn(1 << 16)),
			Function:   uint16(r.Intn(1 << 12)),
			Method:     uint8(r.Intn(4)),
			Access:     uint8(r.Intn(4)),
		}
		require.Equal(t, code, Decode(code.Encode()))
	}
}

func TestDecodeEncode(t *testing.T) {
	for _, code := range []uint32{0, 0xFFFFFFFF, 0x00222003, 0xB080E848} {
		assert.Equal(t, code, Decode(code).Encode())
	}
}

func TestOpCodes(t *testing.T) {
	var tests = []struct {
		op   Op
		code uint32
	}{
		{PartitionCreate, 0xB080E800},
		{PartitionGetOption, 0xB080E808},
		{GuardRegister, 0xB080E840},
		{RegionCreate, 0xB080E880},
		{PatchEnumerate, 0xB080E91C},
		{VirtualAlloc, 0xB080E940},
		{ProcessWrite, 0xB080E970},
		{ExportAddress, 0xB080E988},
		{TestRun, 0xB080E98C},
	}

	table := DefaultTable()
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.op.Code().Encode())
			s, ok := table.Lookup(tt.op)
			require.True(t, ok)
			assert.Equal(t, tt.code, s.Code)
		})
	}
}

func TestTableCheck(t *testing.T) {
	table := DefaultTable()

	s, err := table.Check(PartitionGetOption, 16)
	require.NoError(t, err)
	assert.Equal(t, "partition-get-option", s.Name)

	_, err = table.Check(PartitionGetOption, 12)
	require.Error(t, err)

	_, err = table.Check(VirtualWrite, 0)
	require.Error(t, err)
	_, err = table.Check(VirtualWrite, 1024)
	require.NoError(t, err)

	_, err = table.Check(Op(0x61), 0)
	require.Error(t, err)
	assert.Equal(t, "op(0x61)", Op(0x61).String())
}
