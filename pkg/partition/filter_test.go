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

package partition

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/rabbitstack/kguard/pkg/driver/drivertest"
	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/introspect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const filterSize = 8 + MaxConditions*48

func TestFilterCapacity(t *testing.T) {
	d := drivertest.New()
	f, err := NewFilter(d)
	require.NoError(t, err)
	defer f.Close()

	for i := 0; i < MaxConditions; i++ {
		require.NoError(t, f.Add(ProcessID(uint32(i+1))))
	}
	assert.Equal(t, MaxConditions, f.Len())
	assert.ErrorIs(t, f.Add(ProcessID(100)), kerrors.ErrFilterFull)
	assert.Equal(t, MaxConditions, f.Len())

	raw, err := d.Peek(f.Address(), filterSize)
	require.NoError(t, err)
	assert.Equal(t, uint32(MaxConditions), binary.LittleEndian.Uint32(raw))
	last := raw[8+15*48:]
	assert.Equal(t, uint32(FieldProcessID), binary.LittleEndian.Uint32(last))
	assert.Equal(t, uint64(16), binary.LittleEndian.Uint64(last[16:]))
}

func TestFilterCountDrift(t *testing.T) {
	d := drivertest.New()
	f, err := NewFilter(d)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Add(ProcessID(1)))
	// the count in kernel memory no longer matches the conditions
	d.Poke(f.Address(), []byte{0xe7, 0x03, 0, 0})

	require.NoError(t, f.Add(ProcessID(7)))
	assert.Equal(t, 2, f.Len())

	raw, err := d.Peek(f.Address(), filterSize)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(raw))
	second := raw[8+48:]
	assert.Equal(t, uint32(FieldProcessID), binary.LittleEndian.Uint32(second))
	assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(second[16:]))
}

func TestFilterEncoding(t *testing.T) {
	d := drivertest.New()
	f, err := NewFilter(d)
	require.NoError(t, err)

	require.NoError(t, f.Add(ImageName("notepad.exe")))
	require.NoError(t, f.Add(Process(introspect.Process{PID: 4, Object: 0xffff900000001000})))

	raw, err := d.Peek(f.Address(), filterSize)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(raw))

	cond := raw[8:]
	assert.Equal(t, uint32(FieldImageName), binary.LittleEndian.Uint32(cond))
	assert.Equal(t, uint32(Equal), binary.LittleEndian.Uint32(cond[4:]))
	assert.Equal(t, uint32(String), binary.LittleEndian.Uint32(cond[8:]))
	assert.Equal(t, uint32(11), binary.LittleEndian.Uint32(cond[12:]))
	assert.Equal(t, "notepad.exe", string(cond[16:27]))

	cond = raw[8+48:]
	assert.Equal(t, uint32(FieldProcessObject), binary.LittleEndian.Uint32(cond))
	assert.Equal(t, uint64(0xffff900000001000), binary.LittleEndian.Uint64(cond[16:]))

	assert.Equal(t, "ps.name = 'notepad.exe' and ps.object = 18446620928407244800", f.String())

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.Equal(t, 0, d.Allocations())
}

func TestFilterInvalidConditions(t *testing.T) {
	f, err := NewFilter(drivertest.New())
	require.NoError(t, err)
	defer f.Close()

	require.Error(t, f.Add(ImageName(strings.Repeat("a", MaxValueSize+1))))
	require.Error(t, f.Add(ImageName("")))
	require.Error(t, f.Add(Condition{Field: FieldProcessID, Comparator: Contains, Kind: Number, Number: 4}))
	require.Error(t, f.Add(Condition{Field: FieldImageName, Comparator: Greater, Kind: String, Text: "a"}))
	require.Error(t, f.Add(Condition{Field: FieldProcessID, Comparator: Comparator(99), Kind: Number}))
	require.Error(t, f.Add(Condition{Field: FieldProcessID, Comparator: Equal}))
	assert.Equal(t, 0, f.Len())
}

func TestGuardWithFilter(t *testing.T) {
	d, p := newPartition(t)
	f, err := NewFilter(p.IO())
	require.NoError(t, err)
	require.NoError(t, f.Add(ParentID(4)))

	g, err := NewGuard(p, f)
	require.NoError(t, err)
	assert.Same(t, f, g.Filter())

	kg, ok := d.Guard(g.ID())
	require.True(t, ok)
	assert.Equal(t, f.Address(), kg.Filter)

	raw, err := d.GuardFilter(g.ID(), filterSize)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(raw))

	require.NoError(t, g.Close())
	require.NoError(t, f.Close())
}

func TestParseComparator(t *testing.T) {
	c, ok := ParseComparator("StartsWith")
	require.True(t, ok)
	assert.Equal(t, StartsWith, c)
	_, ok = ParseComparator("~=")
	assert.False(t, ok)
}

func TestNewCondition(t *testing.T) {
	c, err := NewCondition("ps.name", "contains", "note")
	require.NoError(t, err)
	assert.Equal(t, Condition{Field: FieldImageName, Comparator: Contains, Kind: String, Text: "note"}, c)

	c, err = NewCondition("PS.PID", ">", "0x10")
	require.NoError(t, err)
	assert.Equal(t, "ps.pid > 16", c.String())

	_, err = NewCondition("ps.cmdline", "=", "x")
	require.Error(t, err)
	_, err = NewCondition("ps.pid", "startswith", "4")
	require.Error(t, err)
	_, err = NewCondition("ps.ppid", "=", "explorer")
	require.Error(t, err)
	_, err = NewCondition("ps.name", "<", "a")
	require.Error(t, err)

	f, ok := ParseField("ps.object")
	require.True(t, ok)
	assert.Equal(t, FieldProcessObject, f)
}
