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

//go:build !windows

package driver

import (
	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/shm"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
)

// Device is unavailable outside Windows.
type Device struct{}

// Open always fails on this platform.
func Open(path string, table ioctl.Table) (*Device, error) {
	return nil, &kerrors.OpenError{Path: path, Err: kerrors.ErrUnsupported}
}

func (d *Device) Call(op ioctl.Op, in []byte, size int) ([]byte, error) {
	return nil, kerrors.ErrUnsupported
}

func (d *Device) RawCall(op ioctl.Op, buf []byte) error { return kerrors.ErrUnsupported }

func (d *Device) View(addr uint64, size int) (shm.Buffer, error) {
	return shm.Buffer{}, kerrors.ErrUnsupported
}

func (d *Device) Wait(event uint64) error   { return kerrors.ErrUnsupported }
func (d *Device) Signal(event uint64) error { return kerrors.ErrUnsupported }
func (d *Device) Close() error              { return nil }
