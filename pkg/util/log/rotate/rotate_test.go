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

package rotate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHook(t *testing.T) {
	_, err := NewHook(Config{})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "kguard.log")
	hook, err := NewHook(Config{Filename: file, MaxSize: 1, Level: logrus.WarnLevel, Formatter: &logrus.JSONFormatter{}})
	require.NoError(t, err)
	defer hook.Close()

	assert.Equal(t, logrus.AllLevels[:logrus.WarnLevel+1], hook.Levels())

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.AddHook(hook)
	logger.Warn("guard detached")
	logger.Debug("never written")

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(b), "guard detached")
	assert.NotContains(t, string(b), "never written")
	assert.Contains(t, string(b), "rotate/rotate_test.go")
}
