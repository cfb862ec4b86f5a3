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

package kmem

import (
	"errors"
	"syscall"
	"testing"

	"github.com/rabbitstack/kguard/pkg/driver/drivertest"
	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	A uint64
	B uint32
	C [4]byte
}

func TestReadWrite(t *testing.T) {
	d := drivertest.New()
	addr, err := Alloc(d, 64)
	require.NoError(t, err)
	require.NotZero(t, addr)

	require.NoError(t, Write(d, addr+8, []byte{1, 2, 3, 4}))
	b, err := Read(d, addr+8, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, b)

	require.NoError(t, Copy(d, addr+32, addr+8, 4))
	b, err = Read(d, addr+32, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, b)

	v, err := ReadUint64(d, addr+8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x04030201), v)

	require.NoError(t, Free(d, addr))
	_, err = Read(d, addr, 4)
	require.Error(t, err)
	assert.True(t, kerrors.IsIoCall(err))
	assert.Equal(t, 0, d.Allocations())
}

func TestReadInvalidSize(t *testing.T) {
	_, err := Read(drivertest.New(), 0x1000, 0)
	require.Error(t, err)
}

func TestSecure(t *testing.T) {
	d := drivertest.New()
	addr, err := Alloc(d, 16)
	require.NoError(t, err)
	h, err := Secure(d, addr, 16)
	require.NoError(t, err)
	require.NotZero(t, h)
	require.NoError(t, Unsecure(d, h))
	require.Error(t, Unsecure(d, h))
}

func TestMapping(t *testing.T) {
	d := drivertest.New()
	addr, err := Alloc(d, 32)
	require.NoError(t, err)

	m, err := Map(d, addr, 32)
	require.NoError(t, err)
	assert.Equal(t, addr, m.Kernel)
	assert.NotZero(t, m.User)
	assert.Equal(t, 32, m.View().Len())

	// the view aliases kernel memory
	m.View().PutUint32(4, 0xcafe)
	b, err := Read(d, addr+4, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfe, 0xca, 0, 0}, b)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, 1, d.Count(ioctl.VirtualUnmap))
	assert.Equal(t, 0, d.Mappings())
}

func TestMappingCloseFailure(t *testing.T) {
	d := drivertest.New()
	addr, err := Alloc(d, 32)
	require.NoError(t, err)
	m, err := Map(d, addr, 32)
	require.NoError(t, err)

	d.Fail(ioctl.VirtualUnmap, syscall.Errno(31))
	require.Error(t, m.Close())
	// the failure is not retried
	require.Error(t, m.Close())
	assert.Equal(t, 1, d.Count(ioctl.VirtualUnmap))
}

func TestKernelAlloc(t *testing.T) {
	d := drivertest.New()
	a, err := NewKernelAlloc[sample](d)
	require.NoError(t, err)
	assert.Equal(t, 16, a.Size())

	v, err := a.Load()
	require.NoError(t, err)
	assert.Equal(t, sample{}, v)

	require.NoError(t, a.Store(sample{A: 7, B: 9, C: [4]byte{'a', 'b'}}))
	raw, err := d.Peek(a.Address(), 16)
	require.NoError(t, err)
	assert.Equal(t, byte(7), raw[0])
	assert.Equal(t, byte(9), raw[8])
	assert.Equal(t, byte('a'), raw[12])

	v, err = a.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v.A)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	calls := d.Calls()
	require.Len(t, calls, 5)
	assert.Equal(t, []ioctl.Op{ioctl.VirtualAlloc, ioctl.VirtualWrite, ioctl.VirtualMap, ioctl.VirtualUnmap, ioctl.VirtualFree}, calls)
	assert.Equal(t, 0, d.Allocations())
	assert.Equal(t, 0, d.Mappings())

	require.Error(t, a.Store(sample{}))
}

func TestKernelAllocUnmapFailureKeepsMemory(t *testing.T) {
	d := drivertest.New()
	a, err := NewKernelAlloc[sample](d)
	require.NoError(t, err)

	d.Fail(ioctl.VirtualUnmap, syscall.Errno(31))
	require.Error(t, a.Close())
	assert.Equal(t, 0, d.Count(ioctl.VirtualFree))
	assert.Equal(t, 1, d.Allocations())
}

func TestKernelAllocMapFailure(t *testing.T) {
	d := drivertest.New()
	d.Fail(ioctl.VirtualMap, syscall.Errno(8))
	_, err := NewKernelAlloc[sample](d)
	require.Error(t, err)
	assert.Equal(t, 0, d.Allocations())
}

func TestProcessMemory(t *testing.T) {
	d := drivertest.New()
	addr, err := ProcAlloc(d, 4242, 128, 0x04)
	require.NoError(t, err)

	require.NoError(t, ProcWrite(d, 4242, addr+16, []byte("kguard")))
	b, err := ProcRead(d, 4242, addr+16, 6)
	require.NoError(t, err)
	assert.Equal(t, "kguard", string(b))

	_, err = ProcRead(d, 1, addr, 6)
	require.Error(t, err)

	require.NoError(t, ProcFree(d, 4242, addr))
	require.Error(t, ProcFree(d, 4242, addr))
}

func TestExportAddress(t *testing.T) {
	d := drivertest.New(drivertest.WithExport("PsInitialSystemProcess", 0xfffff80001234560))
	addr, err := ExportAddress(d, "PsInitialSystemProcess")
	require.NoError(t, err)
	assert.Equal(t, uint64(0xfffff80001234560), addr)

	_, err = ExportAddress(d, "PsLoadedModuleList")
	require.Error(t, err)
	assert.True(t, errors.Is(err, kerrors.ErrnoNotFound))

	_, err = ExportAddress(d, "")
	require.Error(t, err)
}
