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
	"github.com/rabbitstack/kguard/pkg/shm"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
	"github.com/stretchr/testify/mock"
)

// IOMock is the driver channel mock used in tests.
type IOMock struct {
	mock.Mock
}

var _ IO = (*IOMock)(nil)

// Call method
func (m *IOMock) Call(op ioctl.Op, in []byte, size int) ([]byte, error) {
	args := m.Called(op, in, size)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

// RawCall method
func (m *IOMock) RawCall(op ioctl.Op, buf []byte) error {
	args := m.Called(op, buf)
	if fn, ok := args.Get(0).(func([]byte)); ok {
		fn(buf)
	}
	return args.Error(1)
}

// View method
func (m *IOMock) View(addr uint64, size int) (shm.Buffer, error) {
	args := m.Called(addr, size)
	return args.Get(0).(shm.Buffer), args.Error(1)
}

// Wait method
func (m *IOMock) Wait(event uint64) error { return m.Called(event).Error(0) }

// Signal method
func (m *IOMock) Signal(event uint64) error { return m.Called(event).Error(0) }

// Close method
func (m *IOMock) Close() error { return m.Called().Error(0) }
