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

// Package ntstatus translates NT status codes reported by the driver.
package ntstatus

import (
	"fmt"
	"sync"
)

var (
	cache = map[uint32]string{}
	mu    sync.Mutex
)

// IsSuccess determines if the status code is in success or information value ranges.
// https://learn.microsoft.com/en-us/windows-hardware/drivers/kernel/using-ntstatus-values
func IsSuccess(status uint32) bool {
	return status <= 0x7FFFFFFF
}

// FormatMessage resolves the NT status code to the message. Resolved
// messages are cached.
func FormatMessage(status uint32) string {
	if IsSuccess(status) {
		return "Success"
	}
	mu.Lock()
	defer mu.Unlock()
	if s, ok := cache[status]; ok {
		return s
	}
	msg := format(status)
	if msg == "" {
		return fmt.Sprintf("NTSTATUS %#x", status)
	}
	cache[status] = msg
	return msg
}
