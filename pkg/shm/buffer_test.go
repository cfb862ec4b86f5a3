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

package shm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferAccessors(t *testing.T) {
	b := New(make([]byte, 32), 0x1000)
	assert.False(t, b.IsForeign())
	assert.Equal(t, 32, b.Len())

	b.PutUint64(0, 0xdeadbeefcafebabe)
	b.PutUint32(8, 0xfeedface)
	assert.Equal(t, uint64(0xdeadbeefcafebabe), b.Uint64(0))
	assert.Equal(t, uint32(0xfeedface), b.Uint32(8))
	assert.Equal(t, uint16(0xface), b.Uint16(8))
	// little endian
	assert.Equal(t, byte(0xbe), b.Bytes(0, 1)[0])

	sub := b.Slice(8, 8)
	assert.Equal(t, uint64(0x1008), sub.Addr())
	assert.Equal(t, uint32(0xfeedface), sub.Uint32(0))
	sub.PutUint32(4, 7)
	assert.Equal(t, uint32(7), b.Uint32(12))

	b.Write(16, []byte("kguard"))
	dst := make([]byte, 6)
	b.Read(16, dst)
	assert.Equal(t, "kguard", string(dst))

	b.Zero()
	assert.Equal(t, uint64(0), b.Uint64(0))
}

func TestBufferBounds(t *testing.T) {
	b := New(make([]byte, 16), 0)
	require.Panics(t, func() { b.Uint64(12) })
	require.Panics(t, func() { b.PutUint32(-1, 1) })
	require.Panics(t, func() { b.Slice(8, 9) })
	require.NotPanics(t, func() { b.Uint64(8) })
}

func TestForeignEmpty(t *testing.T) {
	b := Foreign(0, 256)
	assert.True(t, b.IsForeign())
	assert.Equal(t, 0, b.Len())
}

func TestSpan(t *testing.T) {
	s := Span{Address: 0x1000, Size: 0x100}
	assert.Equal(t, uint64(0x1100), s.End())
	assert.True(t, s.Contains(0x1000))
	assert.False(t, s.Contains(0x1100))
	assert.True(t, s.Overlaps(Span{Address: 0x10ff, Size: 1}))
	assert.False(t, s.Overlaps(Span{Address: 0x1100, Size: 1}))
	assert.Equal(t, "[0x1000, 0x1100)", s.String())
}
