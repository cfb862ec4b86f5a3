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

package app

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlattenVars(t *testing.T) {
	rows := make(map[string]string)
	flatten("journal.records.written", json.RawMessage(`12345`), rows)
	flatten("dispatch.callback.failures", json.RawMessage(` {"3": 2, "7": {"panics": 1}} `), rows)
	flatten("logger.errors", json.RawMessage(`{}`), rows)
	flatten("rate", json.RawMessage(`0.5`), rows)
	flatten("name", json.RawMessage(`"kguard"`), rows)

	assert.Equal(t, map[string]string{
		"journal.records.written":             "12,345",
		"dispatch.callback.failures.3":        "2",
		"dispatch.callback.failures.7.panics": "1",
		"logger.errors":                       "0",
		"rate":                                "0.5",
		"name":                                "kguard",
	}, rows)
}

func TestMatches(t *testing.T) {
	assert.True(t, matches(nil, "ntoskrnl.exe"))
	assert.True(t, matches([]string{"ntos"}, "ntoskrnl.exe"))
	assert.True(t, matches([]string{"PsLookup"}, "PsLookupProcessByProcessId"))
	assert.False(t, matches([]string{"ndis"}, "ntoskrnl.exe"))
}
