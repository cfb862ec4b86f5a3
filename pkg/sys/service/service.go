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

// Package service manages the kernel service that loads the driver.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrAlreadyInstalled indicates the driver service is already installed.
var ErrAlreadyInstalled = errors.New("driver service is already installed")

// ErrNotInstalled indicates the driver service doesn't exist.
var ErrNotInstalled = errors.New("driver service is not installed")

// State is the state of the driver service.
type State uint32

const (
	// Stopped means the driver is not loaded.
	Stopped State = iota + 1
	// StartPending means the driver is being loaded.
	StartPending
	// StopPending means the driver is being unloaded.
	StopPending
	// Running means the driver is loaded.
	Running
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case StartPending:
		return "start pending"
	case StopPending:
		return "stop pending"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Config describes the driver service.
type Config struct {
	Name        string
	Binary      string
	DisplayName string
	Description string
}

// pollInterval is the initial interval between service state queries.
var pollInterval = time.Millisecond * 100

// waitFor polls the service state until it reaches the desired one or the context is done.
func waitFor(ctx context.Context, query func() (State, error), want State) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = pollInterval
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		s, err := query()
		if err != nil {
			return backoff.Permanent(err)
		}
		if s != want {
			return fmt.Errorf("service is %s", s)
		}
		return nil
	}, backoff.WithContext(b, ctx))
}
