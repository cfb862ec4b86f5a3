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

package version

import (
	"bytes"
	"testing"

	semver "github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	defer Set("", "", "")

	Set("", "", "")
	assert.True(t, IsDev())
	assert.Equal(t, "kguard/dev", ProductToken())
	assert.Nil(t, Sem())

	Set("1.3.0", "e1f2a3", "2026-10-19")
	assert.Equal(t, "1.3.0", Get())
	require.NotNil(t, Sem())
	assert.Equal(t, "1.3.0", Sem().String())

	var b bytes.Buffer
	Render(&b, semver.Must(semver.NewVersion("1.2.0")))
	assert.Contains(t, b.String(), "e1f2a3")
	assert.Contains(t, b.String(), "Driver")
	assert.Contains(t, b.String(), "1.2.0")
}
