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

// Package kmem issues the kernel memory requests. Every helper builds the
// fixed request layout, sends it to the driver and parses the typed result.
// Failures are returned wrapped with the operation context and are never
// retried.
package kmem

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/driver"
	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
	"github.com/valyala/bytebufferpool"
)

type allocRequest struct {
	Size    uint64
	Address uint64
}

type copyRequest struct {
	Dst  uint64
	Src  uint64
	Size uint64
}

type secureRequest struct {
	Address uint64
	Size    uint64
	Handle  uint64
}

type rangeRequest struct {
	Address uint64
	Size    uint64
}

type procAllocRequest struct {
	PID      uint64
	Size     uint64
	Protect  uint32
	Reserved uint32
	Address  uint64
}

type procRequest struct {
	PID     uint64
	Address uint64
}

type procRangeRequest struct {
	PID     uint64
	Address uint64
	Size    uint64
}

type addressResponse struct {
	Address uint64
}

// Alloc allocates size bytes of nonpaged kernel memory and returns its address.
func Alloc(io driver.IO, size uint64) (uint64, error) {
	req := allocRequest{Size: size}
	if err := driver.RawRequest(io, ioctl.VirtualAlloc, &req); err != nil {
		return 0, errors.Wrapf(err, "unable to allocate %d bytes of kernel memory", size)
	}
	return req.Address, nil
}

// Free releases the kernel allocation.
func Free(io driver.IO, addr uint64) error {
	if err := driver.Request(io, ioctl.VirtualFree, nil, addr); err != nil {
		return errors.Wrapf(err, "unable to free kernel memory at %#x", addr)
	}
	return nil
}

// Copy copies size bytes between two kernel addresses.
func Copy(io driver.IO, dst, src, size uint64) error {
	if err := driver.Request(io, ioctl.VirtualCopy, nil, copyRequest{Dst: dst, Src: src, Size: size}); err != nil {
		return errors.Wrapf(err, "unable to copy %d bytes from %#x to %#x", size, src, dst)
	}
	return nil
}

// Secure prevents the range from being freed or having its protection
// lowered. The returned handle is passed to Unsecure.
func Secure(io driver.IO, addr, size uint64) (uint64, error) {
	req := secureRequest{Address: addr, Size: size}
	if err := driver.RawRequest(io, ioctl.VirtualSecure, &req); err != nil {
		return 0, errors.Wrapf(err, "unable to secure %d bytes at %#x", size, addr)
	}
	return req.Handle, nil
}

// Unsecure releases the secure handle.
func Unsecure(io driver.IO, handle uint64) error {
	if err := driver.Request(io, ioctl.VirtualUnsecure, nil, handle); err != nil {
		return errors.Wrapf(err, "unable to unsecure handle %#x", handle)
	}
	return nil
}

// Read reads size bytes of kernel memory at addr.
func Read(io driver.IO, addr uint64, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid read size %d", size)
	}
	b, err := encode(rangeRequest{Address: addr, Size: uint64(size)})
	if err != nil {
		return nil, err
	}
	defer bytebufferpool.Put(b)
	data, err := io.Call(ioctl.VirtualRead, b.B, size)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %d bytes at %#x", size, addr)
	}
	if len(data) < size {
		return nil, errors.Wrapf(kerrors.ErrShortResponse, "read %d out of %d bytes at %#x", len(data), size, addr)
	}
	return data, nil
}

// ReadUint64 reads the pointer-sized value at addr.
func ReadUint64(io driver.IO, addr uint64) (uint64, error) {
	b, err := Read(io, addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Write writes data to kernel memory at addr.
func Write(io driver.IO, addr uint64, data []byte) error {
	b, err := encode(rangeRequest{Address: addr, Size: uint64(len(data))})
	if err != nil {
		return err
	}
	defer bytebufferpool.Put(b)
	_, _ = b.Write(data)
	if _, err := io.Call(ioctl.VirtualWrite, b.B, 0); err != nil {
		return errors.Wrapf(err, "unable to write %d bytes at %#x", len(data), addr)
	}
	return nil
}

// ProcAlloc allocates size bytes in the address space of the process.
func ProcAlloc(io driver.IO, pid uint32, size uint64, protect uint32) (uint64, error) {
	req := procAllocRequest{PID: uint64(pid), Size: size, Protect: protect}
	if err := driver.RawRequest(io, ioctl.ProcessAlloc, &req); err != nil {
		return 0, errors.Wrapf(err, "unable to allocate %d bytes in process %d", size, pid)
	}
	return req.Address, nil
}

// ProcFree releases the allocation in the process address space.
func ProcFree(io driver.IO, pid uint32, addr uint64) error {
	if err := driver.Request(io, ioctl.ProcessFree, nil, procRequest{PID: uint64(pid), Address: addr}); err != nil {
		return errors.Wrapf(err, "unable to free %#x in process %d", addr, pid)
	}
	return nil
}

// ProcRead reads size bytes at addr in the process address space.
func ProcRead(io driver.IO, pid uint32, addr uint64, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid read size %d", size)
	}
	b, err := encode(procRangeRequest{PID: uint64(pid), Address: addr, Size: uint64(size)})
	if err != nil {
		return nil, err
	}
	defer bytebufferpool.Put(b)
	data, err := io.Call(ioctl.ProcessRead, b.B, size)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %d bytes at %#x in process %d", size, addr, pid)
	}
	if len(data) < size {
		return nil, errors.Wrapf(kerrors.ErrShortResponse, "read %d out of %d bytes in process %d", len(data), size, pid)
	}
	return data, nil
}

// ProcWrite writes data at addr in the process address space.
func ProcWrite(io driver.IO, pid uint32, addr uint64, data []byte) error {
	b, err := encode(procRangeRequest{PID: uint64(pid), Address: addr, Size: uint64(len(data))})
	if err != nil {
		return err
	}
	defer bytebufferpool.Put(b)
	_, _ = b.Write(data)
	if _, err := io.Call(ioctl.ProcessWrite, b.B, 0); err != nil {
		return errors.Wrapf(err, "unable to write %d bytes at %#x in process %d", len(data), addr, pid)
	}
	return nil
}

// ExportAddress resolves the address of the routine exported by the kernel image.
func ExportAddress(io driver.IO, name string) (uint64, error) {
	if name == "" {
		return 0, errors.New("export name is empty")
	}
	var resp addressResponse
	if err := driver.Request(io, ioctl.ExportAddress, &resp, append([]byte(name), 0)); err != nil {
		return 0, errors.Wrapf(err, "unable to resolve %s export", name)
	}
	return resp.Address, nil
}

// encode returns the pooled buffer holding the request. Callers put the
// buffer back to the pool when they are done.
func encode(v any) (*bytebufferpool.ByteBuffer, error) {
	b := bytebufferpool.Get()
	if err := binary.Write(b, binary.LittleEndian, v); err != nil {
		bytebufferpool.Put(b)
		return nil, err
	}
	return b, nil
}
