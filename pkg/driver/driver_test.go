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

package driver

import (
	"encoding/binary"
	"errors"
	"testing"

	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type optionRequest struct {
	ID       uint64
	Option   uint32
	Reserved uint32
}

type optionResponse struct {
	Value uint64
}

func TestRequest(t *testing.T) {
	io := new(IOMock)
	expected := []byte{7, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0}
	io.On("Call", ioctl.PartitionGetOption, expected, 8).Return([]byte{0x2a, 0, 0, 0, 0, 0, 0, 0}, nil)

	var resp optionResponse
	require.NoError(t, Request(io, ioctl.PartitionGetOption, &resp, optionRequest{ID: 7, Option: 2}))
	assert.Equal(t, uint64(42), resp.Value)
	io.AssertExpectations(t)
}

func TestRequestMultipleInputs(t *testing.T) {
	io := new(IOMock)
	io.On("Call", ioctl.RegionAdd, mock.MatchedBy(func(b []byte) bool {
		return len(b) == 16 && binary.LittleEndian.Uint64(b) == 3 && binary.LittleEndian.Uint64(b[8:]) == 5
	}), 0).Return([]byte{}, nil)

	require.NoError(t, Request(io, ioctl.RegionAdd, nil, uint64(3), uint64(5)))
	io.AssertExpectations(t)
}

func TestRequestShortResponse(t *testing.T) {
	io := new(IOMock)
	io.On("Call", ioctl.RegionCreate, mock.Anything, 8).Return([]byte{1, 2}, nil)

	var id uint64
	err := Request(io, ioctl.RegionCreate, &id, make([]byte, 24))
	require.Error(t, err)
	assert.True(t, errors.Is(err, kerrors.ErrShortResponse))
}

func TestRequestFailure(t *testing.T) {
	io := new(IOMock)
	callErr := &kerrors.IoCallError{Op: "guard-unregister", Code: 0xB080E844, Err: kerrors.ErrnoObjectNotFound}
	io.On("Call", ioctl.GuardUnregister, mock.Anything, 0).Return(nil, callErr)

	err := Request(io, ioctl.GuardUnregister, nil, uint64(9))
	require.Error(t, err)
	assert.True(t, kerrors.IsIoCall(err))
	assert.True(t, kerrors.IsNotExists(kerrors.Classify(9, err)))
}

func TestRequestNotFixedLayout(t *testing.T) {
	var out []byte
	require.Error(t, Request(new(IOMock), ioctl.VirtualRead, &out))
}

func TestRawRequest(t *testing.T) {
	type allocRequest struct {
		Size    uint64
		Address uint64
	}
	io := new(IOMock)
	io.On("RawCall", ioctl.VirtualAlloc, mock.Anything).Return(func(b []byte) {
		binary.LittleEndian.PutUint64(b[8:], 0xfffff80000001000)
	}, nil)

	req := allocRequest{Size: 64}
	require.NoError(t, RawRequest(io, ioctl.VirtualAlloc, &req))
	assert.Equal(t, uint64(64), req.Size)
	assert.Equal(t, uint64(0xfffff80000001000), req.Address)
}
