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

package dispatch

import (
	"errors"
	"testing"

	"github.com/rabbitstack/kguard/pkg/channel"
	"github.com/rabbitstack/kguard/pkg/policy"
	"github.com/rabbitstack/kguard/pkg/shm"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func intercept(rec channel.InterceptRecord) channel.Intercept {
	b := channel.NewBucket(0, shm.New(make([]byte, channel.BucketSize), 0x1000))
	b.SetHeader(1, 0, channel.KindIntercept)
	channel.EncodeIntercept(b, rec)
	return b.Intercept()
}

func TestLogCallback(t *testing.T) {
	var resolves int
	cb := NewLogCallback(0, rate.Inf, 1, func(pid uint64) (string, error) {
		resolves++
		if pid == 4 {
			return "System", nil
		}
		return "", errors.New("process not found")
	})

	rec := channel.InterceptRecord{
		PID:       4,
		Address:   0xfffff80000002000,
		Access:    policy.Write,
		Region:    7,
		Registers: channel.Registers{Rip: 0xfffff80000001000},
	}
	copy(rec.Instruction[:], []byte{0x48, 0x89, 0x08})

	resp := cb.Callback(intercept(rec))
	assert.Equal(t, policy.Continue, resp.Action)
	assert.Equal(t, Warning, resp.Severity)
	assert.Contains(t, resp.Message, "-w- access to 0xfffff80000002000 by System (4) on region 7")
	assert.Contains(t, resp.Message, "mov")

	cb.Callback(intercept(rec))
	assert.Equal(t, 1, resolves)

	rec.PID = 8
	rec.Access = policy.Read
	resp = cb.Callback(intercept(rec))
	assert.Equal(t, Info, resp.Severity)
	assert.Contains(t, resp.Message, "by pid 8")
}

func TestLogCallbackRateLimit(t *testing.T) {
	cb := NewLogCallback(policy.Block, 0, 1, nil)
	resp := cb.Callback(intercept(channel.InterceptRecord{PID: 1}))
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, policy.Block, resp.Action)

	resp = cb.Callback(intercept(channel.InterceptRecord{PID: 1}))
	assert.Empty(t, resp.Message)
	assert.Equal(t, policy.Block, resp.Action)
}

func TestDisassemble(t *testing.T) {
	assert.Contains(t, Disassemble([]byte{0x48, 0x89, 0x08}, 0x1000), "mov")
	assert.Equal(t, "48", Disassemble([]byte{0x48}, 0x1000))
}
