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

var messages = map[uint32]string{
	0xC0000001: "Operation failed",
	0xC0000005: "Invalid access to memory location",
	0xC000000D: "The parameter is incorrect",
	0xC0000022: "Access is denied",
	0xC0000034: "The system cannot find the file specified",
	0xC000009A: "Insufficient system resources exist to complete the API",
	0xC00000BB: "The request is not supported",
}

func format(status uint32) string { return messages[status] }
