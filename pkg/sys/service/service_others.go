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

package service

import (
	"context"

	kerrors "github.com/rabbitstack/kguard/pkg/errors"
)

// Install is not supported outside Windows.
func Install(Config) error { return kerrors.ErrUnsupported }

// Remove is not supported outside Windows.
func Remove(string) error { return kerrors.ErrUnsupported }

// Start is not supported outside Windows.
func Start(context.Context, string) error { return kerrors.ErrUnsupported }

// Stop is not supported outside Windows.
func Stop(context.Context, string) error { return kerrors.ErrUnsupported }

// Query is not supported outside Windows.
func Query(string) (State, error) { return 0, kerrors.ErrUnsupported }
