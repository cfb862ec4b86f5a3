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

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "start pending", StartPending.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestWaitFor(t *testing.T) {
	pollInterval = time.Millisecond
	defer func() { pollInterval = time.Millisecond * 100 }()

	states := []State{Stopped, StartPending, StartPending, Running}
	var n int
	query := func() (State, error) {
		s := states[min(n, len(states)-1)]
		n++
		return s, nil
	}
	require.NoError(t, waitFor(context.Background(), query, Running))
	assert.Equal(t, 4, n)

	errQuery := errors.New("access denied")
	n = 0
	err := waitFor(context.Background(), func() (State, error) { n++; return 0, errQuery }, Running)
	require.ErrorIs(t, err, errQuery)
	assert.Equal(t, 1, n)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()
	err = waitFor(ctx, func() (State, error) { return StopPending, nil }, Stopped)
	require.Error(t, err)
}
