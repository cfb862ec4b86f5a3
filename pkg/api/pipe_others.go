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

package api

import (
	"context"
	"net"

	kerrors "github.com/rabbitstack/kguard/pkg/errors"
)

func makePipeListener(string, string) (net.Listener, error) {
	return nil, kerrors.ErrUnsupported
}

// DialPipe returns the dialer that always fails since named pipes
// are only available on Windows.
func DialPipe(string) func(context.Context, string, string) (net.Conn, error) {
	return func(context.Context, string, string) (net.Conn, error) {
		return nil, kerrors.ErrUnsupported
	}
}
