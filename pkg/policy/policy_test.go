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

package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionNormalize(t *testing.T) {
	assert.Equal(t, Inspect|Notify, Inspect.Normalize())
	assert.Equal(t, Block, Block.Normalize())
	assert.True(t, DefaultAction.Has(Notify))
	assert.False(t, Continue.Has(Block))
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "NOTIFY|INSPECT", DefaultAction.String())
	assert.Equal(t, "BLOCK|STEALTH", (Block | Stealth).String())
	assert.Equal(t, "NONE", Action(0).String())
}

func TestParseAction(t *testing.T) {
	a, ok := ParseAction("block|notify")
	assert.True(t, ok)
	assert.Equal(t, Block|Notify, a)

	a, ok = ParseAction("INSPECT, CONTINUE")
	assert.True(t, ok)
	assert.Equal(t, Inspect|Continue, a)

	_, ok = ParseAction("drop")
	assert.False(t, ok)
}

func TestAccess(t *testing.T) {
	assert.Equal(t, "r--", Read.String())
	assert.Equal(t, "rwx", (Read | Write | Execute).String())

	a, ok := ParseAccess("r-x")
	assert.True(t, ok)
	assert.Equal(t, Read|Execute, a)

	_, ok = ParseAccess("---")
	assert.False(t, ok)
	_, ok = ParseAccess("rz")
	assert.False(t, ok)
}
