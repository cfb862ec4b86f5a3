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

package channel

import (
	"testing"

	"github.com/rabbitstack/kguard/pkg/policy"
	"github.com/rabbitstack/kguard/pkg/shm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	var tests = []struct {
		size    uint32
		buckets int
	}{
		{0, 0},
		{255, 0},
		{256, 1},
		{512, 2},
		{1000, 3},
		{4096, 16},
	}

	for _, tt := range tests {
		spans := Layout(0x10000, tt.size)
		require.Len(t, spans, tt.buckets)
		for i, s := range spans {
			assert.Equal(t, uint64(0x10000+i*BucketSize), s.Address)
			assert.Equal(t, uint32(BucketSize), s.Size)
			for j := i + 1; j < len(spans); j++ {
				assert.False(t, s.Overlaps(spans[j]))
			}
		}
	}
}

func TestInfoBuckets(t *testing.T) {
	assert.Equal(t, 2, Info{Size: 512}.Buckets())
	assert.Equal(t, 0, Info{Size: 100}.Buckets())
}

func TestSlice(t *testing.T) {
	buf := shm.New(make([]byte, 3*BucketSize+17), 0x7ff000)
	buckets := Slice(buf)
	require.Len(t, buckets, 3)

	for i, b := range buckets {
		assert.Equal(t, i, b.Index())
		assert.Equal(t, uint64(0x7ff000+i*BucketSize), b.Addr())
		b.SetEvents(uint64(100+i), uint64(200+i))
	}
	// writes to one bucket never spill into its neighbours
	buckets[1].SetHeader(7, FlagAsync, KindMonitor)
	assert.Equal(t, uint64(100), buckets[0].KernelEvent())
	assert.Equal(t, uint64(201), buckets[1].UserEvent())
	assert.Equal(t, uint64(102), buckets[2].KernelEvent())
	assert.Equal(t, Kind(0), buckets[0].Kind())
	assert.Equal(t, Kind(0), buckets[2].Kind())

	assert.Equal(t, uint64(7), buckets[1].ID())
	assert.True(t, buckets[1].Async())
	assert.Equal(t, KindMonitor, buckets[1].Kind())
}

func TestHeaderLayout(t *testing.T) {
	raw := make([]byte, BucketSize)
	b := NewBucket(0, shm.New(raw, 0x1000))
	b.SetEvents(0x1122, 0x3344)
	b.SetHeader(0x55, 0, KindIntercept)

	assert.Equal(t, byte(0x22), raw[0])
	assert.Equal(t, byte(0x44), raw[8])
	assert.Equal(t, byte(0x55), raw[16])
	assert.Equal(t, byte(0), raw[24])
	assert.Equal(t, byte(1), raw[28])
	assert.False(t, b.Async())
}

func TestIntercept(t *testing.T) {
	raw := make([]byte, BucketSize)
	b := NewBucket(0, shm.New(raw, 0x1000))
	b.SetHeader(1, 0, KindIntercept)

	rec := InterceptRecord{
		Guard:     3,
		Region:    4,
		Registers: Registers{Rax: 1, Rcx: 0xdead, R15: 15, Rip: 0xfffff80000001000, Rflags: 0x246},
		PID:       4242,
		Address:   0xfffff80000002000,
		Access:    policy.Write,
		Action:    policy.Inspect | policy.Notify,
	}
	copy(rec.Instruction[:], []byte{0x48, 0x89, 0x08})
	EncodeIntercept(b, rec)

	ic := b.Intercept()
	assert.Equal(t, uint64(3), ic.Guard())
	assert.Equal(t, uint64(4), ic.Region())
	assert.Equal(t, uint64(4242), ic.PID())
	assert.Equal(t, uint64(0xfffff80000002000), ic.Address())
	assert.Equal(t, policy.Write, ic.Access())
	assert.Equal(t, []byte{0x48, 0x89, 0x08}, ic.Instruction()[:3])
	assert.Equal(t, rec, ic.Record())

	// the instruction field starts right after the register snapshot
	assert.Equal(t, byte(0x48), raw[HeaderSize+160])
	assert.Equal(t, byte(0x46), raw[HeaderSize+152])

	ic.SetAction(policy.Block)
	assert.Equal(t, byte(policy.Block), raw[HeaderSize+196])
	assert.Equal(t, policy.Block, b.Intercept().Action())
}

func TestMonitor(t *testing.T) {
	b := NewBucket(0, shm.New(make([]byte, BucketSize), 0))
	rec := MonitorRecord{Guard: 1, Region: 2, PID: 3, Address: 0x4000, Access: policy.Execute, Action: policy.Notify}
	EncodeMonitor(b, rec)
	assert.Equal(t, rec, b.Monitor().Record())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "terminate", KindTerminate.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
