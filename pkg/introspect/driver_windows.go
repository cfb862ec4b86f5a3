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

package introspect

import (
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

// systemModuleInformation is the information class of loaded kernel modules
const systemModuleInformation = 11

type moduleInformation struct {
	Section          windows.Handle
	MappedBase       uintptr
	ImageBase        uintptr
	ImageSize        uint32
	Flags            uint32
	LoadOrderIndex   uint16
	InitOrderIndex   uint16
	LoadCount        uint16
	OffsetToFileName uint16
	FullPathName     [256]byte
}

type moduleList struct {
	NumberOfModules uint32
	Modules         [1]moduleInformation
}

// Drivers enumerates loaded kernel modules.
func Drivers() ([]Driver, error) {
	size := uint32(64 * 1024)
	for {
		buf := make([]byte, size)
		var n uint32
		err := windows.NtQuerySystemInformation(systemModuleInformation, unsafe.Pointer(&buf[0]), size, &n)
		if err == windows.STATUS_INFO_LENGTH_MISMATCH {
			size = n + 4096
			continue
		}
		if err != nil {
			return nil, err
		}
		list := (*moduleList)(unsafe.Pointer(&buf[0]))
		mods := unsafe.Slice(&list.Modules[0], list.NumberOfModules)
		drivers := make([]Driver, 0, len(mods))
		for _, m := range mods {
			path := windows.ByteSliceToString(m.FullPathName[:])
			name := path
			if int(m.OffsetToFileName) < len(path) {
				name = path[m.OffsetToFileName:]
			}
			drivers = append(drivers, Driver{
				Name:      name,
				Path:      normalizePath(path),
				Base:      uint64(m.ImageBase),
				Size:      m.ImageSize,
				LoadOrder: m.LoadOrderIndex,
			})
		}
		return drivers, nil
	}
}

// normalizePath converts the NT path of the module into the Win32 path.
func normalizePath(path string) string {
	const root = `\SystemRoot\`
	if strings.HasPrefix(strings.ToLower(path), strings.ToLower(root)) {
		dir, err := windows.GetWindowsDirectory()
		if err == nil {
			return dir + `\` + path[len(root):]
		}
	}
	return strings.TrimPrefix(path, `\??\`)
}
