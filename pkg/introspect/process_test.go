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

package introspect

import (
	"encoding/binary"
	"testing"

	"github.com/rabbitstack/kguard/pkg/driver/drivertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOffsets = StaticOffsets{
	FieldUniqueProcessID:    0x08,
	FieldActiveProcessLinks: 0x10,
	FieldParentProcessID:    0x20,
	FieldImageFileName:      0x28,
}

const (
	systemPtr  = 0xfffff80000100000
	listHead   = 0xfffff80000100100
	objectBase = 0xffff900000001000
)

type object struct {
	addr  uint64
	pid   uint64
	ppid  uint64
	name  string
	flink uint64
}

func links(addr uint64) uint64 { return addr + 0x10 }

func poke(d *drivertest.Driver, objs ...object) {
	for _, o := range objs {
		b := make([]byte, 0x40)
		binary.LittleEndian.PutUint64(b[0x08:], o.pid)
		binary.LittleEndian.PutUint64(b[0x10:], o.flink)
		binary.LittleEndian.PutUint64(b[0x20:], o.ppid)
		copy(b[0x28:0x28+imageNameSize], o.name)
		d.Poke(o.addr, b)
	}
}

func pointer(d *drivertest.Driver, addr, v uint64) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	d.Poke(addr, b)
}

func newDriver() *drivertest.Driver {
	return drivertest.New(
		drivertest.WithExport("PsInitialSystemProcess", systemPtr),
		drivertest.WithExport("PsActiveProcessHead", listHead),
	)
}

func collect(t *testing.T, w *Walker) []Process {
	var procs []Process
	for proc, err := range w.Processes() {
		require.NoError(t, err)
		procs = append(procs, proc)
	}
	return procs
}

func TestWalkerWrapsAround(t *testing.T) {
	d := newDriver()
	sys, explorer, long := uint64(objectBase), uint64(objectBase+0x100), uint64(objectBase+0x200)
	pointer(d, systemPtr, sys)
	pointer(d, listHead, links(sys))
	poke(d,
		object{addr: sys, pid: 4, name: "System", flink: links(explorer)},
		object{addr: explorer, pid: 100, ppid: 4, name: "explorer.exe", flink: links(long)},
		object{addr: long, pid: 200, ppid: 100, name: "averyveryverylongname.exe", flink: listHead},
	)

	w, err := NewWalker(d, testOffsets)
	require.NoError(t, err)

	procs := collect(t, w)
	require.Len(t, procs, 3)
	assert.Equal(t, Process{PID: 4, Name: "System", Object: sys}, procs[0])
	assert.Equal(t, Process{PID: 100, ParentPID: 4, Name: "explorer.exe", Object: explorer}, procs[1])
	assert.Equal(t, "averyveryverylo", procs[2].Name)

	// the walk restarts from the system process
	assert.Equal(t, procs, collect(t, w))

	p, err := w.Find("EXPLORER.EXE")
	require.NoError(t, err)
	assert.Equal(t, uint32(100), p.PID)

	p, err = w.Find("averyveryverylongname.exe")
	require.NoError(t, err)
	assert.Equal(t, uint32(200), p.PID)

	_, err = w.Find("lsass.exe")
	require.Error(t, err)
	assert.IsType(t, &ProcessNotFoundError{}, err)

	name, err := w.ProcessName(100)
	require.NoError(t, err)
	assert.Equal(t, "explorer.exe", name)

	_, err = w.FindPID(9)
	require.EqualError(t, err, "process 9 not found")
}

func TestWalkerNullLink(t *testing.T) {
	d := newDriver()
	sys, p2 := uint64(objectBase), uint64(objectBase+0x100)
	pointer(d, systemPtr, sys)
	poke(d,
		object{addr: sys, pid: 4, name: "System", flink: links(p2)},
		object{addr: p2, pid: 8, name: "smss.exe"},
	)

	w, err := NewWalker(d, testOffsets)
	require.NoError(t, err)
	assert.Len(t, collect(t, w), 2)
}

func TestWalkerCap(t *testing.T) {
	d := newDriver()
	sys, p2, p3 := uint64(objectBase), uint64(objectBase+0x100), uint64(objectBase+0x200)
	pointer(d, systemPtr, sys)
	// the cycle never returns to the system process
	poke(d,
		object{addr: sys, pid: 4, name: "System", flink: links(p2)},
		object{addr: p2, pid: 8, name: "a.exe", flink: links(p3)},
		object{addr: p3, pid: 12, name: "b.exe", flink: links(p2)},
	)

	w, err := NewWalker(d, testOffsets, WithMaxProcesses(5))
	require.NoError(t, err)
	assert.Len(t, collect(t, w), 5)
}

func TestWalkerEarlyBreak(t *testing.T) {
	d := newDriver()
	sys, p2 := uint64(objectBase), uint64(objectBase+0x100)
	pointer(d, systemPtr, sys)
	poke(d,
		object{addr: sys, pid: 4, name: "System", flink: links(p2)},
		object{addr: p2, pid: 8, name: "smss.exe", flink: links(sys)},
	)

	w, err := NewWalker(d, testOffsets)
	require.NoError(t, err)
	var n int
	for range w.Processes() {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestWalkerReadFailure(t *testing.T) {
	d := newDriver()
	sys := uint64(objectBase)
	pointer(d, systemPtr, sys)
	poke(d, object{addr: sys, pid: 4, name: "System", flink: 0xffff9000dead0010})

	w, err := NewWalker(d, testOffsets)
	require.NoError(t, err)

	var (
		procs []Process
		errs  []error
	)
	for proc, err := range w.Processes() {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		procs = append(procs, proc)
	}
	assert.Len(t, procs, 1)
	assert.Len(t, errs, 1)
}

func TestNewWalkerMissingExport(t *testing.T) {
	_, err := NewWalker(drivertest.New(), testOffsets)
	require.Error(t, err)

	_, err = NewWalker(newDriver(), StaticOffsets{})
	require.Error(t, err)
	assert.IsType(t, &OffsetNotFoundError{}, err)
}

func TestStaticOffsets(t *testing.T) {
	offs := StaticOffsets{
		FieldUniqueProcessID: 0x440,
		FieldImageFileName:   0x5a8,
	}
	offs["ntoskrnl.exe!"+FieldUniqueProcessID] = 0x2e8

	off, err := offs.FindOffset("NTOSKRNL.EXE", FieldUniqueProcessID)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x2e8), off)

	off, err = offs.FindOffset(KernelModule, FieldImageFileName)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x5a8), off)

	_, err = offs.FindOffset(KernelModule, FieldActiveProcessLinks)
	require.EqualError(t, err, "offset of _EPROCESS.ActiveProcessLinks in ntoskrnl.exe is unknown")

	lower := StaticOffsets{"ntoskrnl.exe!_eprocess.activeprocesslinks": 0x2f0}
	off, err = lower.FindOffset(KernelModule, FieldActiveProcessLinks)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x2f0), off)

	o, err := ResolveOffsets(DefaultOffsets)
	require.NoError(t, err)
	assert.Equal(t, 0x5a8+imageNameSize, o.span())
}

func TestDecodeName(t *testing.T) {
	assert.Equal(t, "café.exe", decodeName([]byte("caf\xe9.exe\x00\x00junk")))
	assert.Equal(t, "System", decodeName([]byte("System")))
}
