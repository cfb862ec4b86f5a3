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

// Package shm provides views over memory that is shared with the kernel.
// The kernel owns the backing allocation of such memory, and user code
// must never release it. Buffer exposes typed little-endian accessors
// that are validated against the bounds of the view, so the fixed
// layouts mirrored from the driver are never read past their end.
package shm

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Span describes a range of virtual addresses.
type Span struct {
	Address uint64
	Size    uint32
}

// End returns the exclusive end address of the span.
func (s Span) End() uint64 { return s.Address + uint64(s.Size) }

// Contains determines whether the address falls inside the span.
func (s Span) Contains(addr uint64) bool { return addr >= s.Address && addr < s.End() }

// Overlaps determines whether two spans share any address.
func (s Span) Overlaps(o Span) bool { return s.Address < o.End() && o.Address < s.End() }

// String returns the span string representation.
func (s Span) String() string { return fmt.Sprintf("[%#x, %#x)", s.Address, s.End()) }

// Buffer is a byte view with typed accessors. Buffers created with
// Foreign are backed by memory the driver mapped into the process
// address space. Such memory is never deallocated by Go code; the
// view is dropped, and the kernel reclaims the allocation when the
// owning object is deleted.
type Buffer struct {
	b       []byte
	addr    uint64
	foreign bool
}

// New wraps a Go-owned byte slice. The address is the virtual address
// the slice stands for.
func New(b []byte, addr uint64) Buffer {
	return Buffer{b: b, addr: addr}
}

// Foreign creates a view over size bytes of kernel-owned memory mapped
// at addr in the current process.
func Foreign(addr uint64, size int) Buffer {
	if addr == 0 || size <= 0 {
		return Buffer{addr: addr, foreign: true}
	}
	//nolint:govet
	b := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), size)
	return Buffer{b: b, addr: addr, foreign: true}
}

// Len returns the size of the view.
func (b Buffer) Len() int { return len(b.b) }

// Addr returns the virtual address of the first byte in the view.
func (b Buffer) Addr() uint64 { return b.addr }

// IsForeign indicates if the backing memory is owned by the kernel.
func (b Buffer) IsForeign() bool { return b.foreign }

// Span returns the address range covered by the view.
func (b Buffer) Span() Span { return Span{Address: b.addr, Size: uint32(len(b.b))} }

func (b Buffer) check(off, n int) {
	if off < 0 || n < 0 || off+n > len(b.b) {
		panic(fmt.Sprintf("shm: access [%d:%d] out of %d byte view at %#x", off, off+n, len(b.b), b.addr))
	}
}

// Slice returns a view of n bytes starting at off. The returned view
// shares the backing memory and inherits the ownership marker.
func (b Buffer) Slice(off, n int) Buffer {
	b.check(off, n)
	return Buffer{b: b.b[off : off+n : off+n], addr: b.addr + uint64(off), foreign: b.foreign}
}

// Uint16 reads the little-endian uint16 at off.
func (b Buffer) Uint16(off int) uint16 {
	b.check(off, 2)
	return binary.LittleEndian.Uint16(b.b[off:])
}

// Uint32 reads the little-endian uint32 at off.
func (b Buffer) Uint32(off int) uint32 {
	b.check(off, 4)
	return binary.LittleEndian.Uint32(b.b[off:])
}

// PutUint32 writes the little-endian uint32 at off.
func (b Buffer) PutUint32(off int, v uint32) {
	b.check(off, 4)
	binary.LittleEndian.PutUint32(b.b[off:], v)
}

// Uint64 reads the little-endian uint64 at off.
func (b Buffer) Uint64(off int) uint64 {
	b.check(off, 8)
	return binary.LittleEndian.Uint64(b.b[off:])
}

// PutUint64 writes the little-endian uint64 at off.
func (b Buffer) PutUint64(off int, v uint64) {
	b.check(off, 8)
	binary.LittleEndian.PutUint64(b.b[off:], v)
}

// Bytes returns n bytes at off without copying. The slice aliases the
// shared memory and must not outlive the owner of the view.
func (b Buffer) Bytes(off, n int) []byte {
	b.check(off, n)
	return b.b[off : off+n : off+n]
}

// Read copies len(dst) bytes at off into dst.
func (b Buffer) Read(off int, dst []byte) {
	b.check(off, len(dst))
	copy(dst, b.b[off:])
}

// Write copies src into the view at off.
func (b Buffer) Write(off int, src []byte) {
	b.check(off, len(src))
	copy(b.b[off:], src)
}

// Zero clears the whole view.
func (b Buffer) Zero() {
	clear(b.b)
}
