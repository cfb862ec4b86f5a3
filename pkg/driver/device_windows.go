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
	"fmt"
	"sync"

	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/shm"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

// Device owns the handle to the driver device object. The handle
// is closed exactly once, regardless of the outcome of prior calls.
type Device struct {
	path   string
	handle windows.Handle
	table  ioctl.Table

	once     sync.Once
	closeErr error
}

// Open opens the device object at the specified path. Control calls are
// validated against the given operation table.
func Open(path string, table ioctl.Table) (*Device, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, &kerrors.OpenError{Path: path, Err: err}
	}
	handle, err := windows.CreateFile(
		p,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return nil, &kerrors.OpenError{Path: path, Err: err}
	}
	log.Debugf("opened %s device", path)
	return &Device{path: path, handle: handle, table: table}, nil
}

// Call issues the buffered control call.
func (d *Device) Call(op ioctl.Op, in []byte, size int) ([]byte, error) {
	spec, err := d.table.Check(op, len(in))
	if err != nil {
		return nil, err
	}
	calls.Add(spec.Name, 1)
	var out []byte
	if size > 0 {
		out = make([]byte, size)
	}
	var n uint32
	err = windows.DeviceIoControl(
		d.handle,
		spec.Code,
		bufferPtr(in),
		uint32(len(in)),
		bufferPtr(out),
		uint32(len(out)),
		&n,
		nil,
	)
	if err != nil {
		return nil, newIoCallError(spec, err)
	}
	return out[:n], nil
}

// RawCall issues the control call where the same buffer is used for
// the request and the response.
func (d *Device) RawCall(op ioctl.Op, buf []byte) error {
	spec, err := d.table.Check(op, len(buf))
	if err != nil {
		return err
	}
	calls.Add(spec.Name, 1)
	var n uint32
	err = windows.DeviceIoControl(
		d.handle,
		spec.Code,
		bufferPtr(buf),
		uint32(len(buf)),
		bufferPtr(buf),
		uint32(len(buf)),
		&n,
		nil,
	)
	if err != nil {
		return newIoCallError(spec, err)
	}
	return nil
}

// View returns the view over memory the driver mapped in this process.
func (d *Device) View(addr uint64, size int) (shm.Buffer, error) {
	if addr == 0 || size <= 0 {
		return shm.Buffer{}, fmt.Errorf("invalid mapped view at %#x of %d bytes", addr, size)
	}
	return shm.Foreign(addr, size), nil
}

// Wait blocks on the event handle the driver duplicated into this process.
func (d *Device) Wait(event uint64) error {
	s, err := windows.WaitForSingleObject(windows.Handle(event), windows.INFINITE)
	if err != nil {
		return err
	}
	if s != windows.WAIT_OBJECT_0 {
		return fmt.Errorf("unexpected wait status %#x on event %#x", s, event)
	}
	return nil
}

// Signal sets the event handle to the signaled state.
func (d *Device) Signal(event uint64) error {
	return windows.SetEvent(windows.Handle(event))
}

// Close closes the device handle.
func (d *Device) Close() error {
	d.once.Do(func() {
		d.closeErr = windows.CloseHandle(d.handle)
		log.Debugf("closed %s device", d.path)
	})
	return d.closeErr
}

func bufferPtr(b []byte) *byte {
	if len(b) == 0 {
		return nil
	}
	return &b[0]
}
