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

package ntstatus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatMessage(t *testing.T) {
	assert.Equal(t, "Success", FormatMessage(0))
	assert.Equal(t, "Success", FormatMessage(0x40000000))
	assert.Equal(t, "Invalid access to memory location", FormatMessage(0xC0000005))
	assert.Equal(t, "NTSTATUS 0xc0000999", FormatMessage(0xC0000999))
	assert.False(t, IsSuccess(0x80000005))
}
