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

package kmem

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/driver"
	"github.com/rabbitstack/kguard/pkg/shm"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/bytebufferpool"
)

type mapRequest struct {
	Address uint64
	Size    uint64
	User    uint64
	Mdl     uint64
}

type unmapRequest struct {
	User uint64
	Mdl  uint64
}

// Mapping is the kernel memory range mapped into the process address
// space. The view aliases kernel memory and must not be used after Close.
type Mapping struct {
	Kernel uint64
	User   uint64
	Size   uint64

	io   driver.IO
	mdl  uint64
	view shm.Buffer
	once sync.Once
	err  error
}

// Map maps size bytes of kernel memory at addr into the process.
func Map(io driver.IO, addr, size uint64) (*Mapping, error) {
	req := mapRequest{Address: addr, Size: size}
	if err := driver.RawRequest(io, ioctl.VirtualMap, &req); err != nil {
		return nil, errors.Wrapf(err, "unable to map %s at %#x", humanize.IBytes(size), addr)
	}
	m := &Mapping{Kernel: addr, User: req.User, Size: size, io: io, mdl: req.Mdl}
	view, err := io.View(req.User, int(size))
	if err != nil {
		_ = Unmap(io, req.User, req.Mdl)
		return nil, errors.Wrapf(err, "unable to view mapping at %#x", req.User)
	}
	m.view = view
	return m, nil
}

// View returns the view of the mapped memory.
func (m *Mapping) View() shm.Buffer { return m.view }

// Close unmaps the memory. Unmap failures are logged and returned but
// never retried.
func (m *Mapping) Close() error {
	m.once.Do(func() {
		m.err = Unmap(m.io, m.User, m.mdl)
		if m.err != nil {
			log.Warnf("couldn't unmap %#x: %v", m.User, m.err)
		}
		m.view = shm.Buffer{}
	})
	return m.err
}

// String returns the mapping representation.
func (m *Mapping) String() string {
	return fmt.Sprintf("%#x -> %#x (%s)", m.Kernel, m.User, humanize.IBytes(m.Size))
}

// Unmap removes the user mapping described by the mdl handle.
func Unmap(io driver.IO, user, mdl uint64) error {
	if err := driver.Request(io, ioctl.VirtualUnmap, nil, unmapRequest{User: user, Mdl: mdl}); err != nil {
		return errors.Wrapf(err, "unable to unmap %#x", user)
	}
	return nil
}

// KernelAlloc is the kernel allocation holding the fixed layout value of
// type T. The value is visible to the kernel at Address and to the process
// through the mapped view.
type KernelAlloc[T any] struct {
	io      driver.IO
	addr    uint64
	size    int
	mapping *Mapping
	once    sync.Once
	err     error
}

// NewKernelAlloc allocates zeroed kernel memory sized for T and maps it
// into the process.
func NewKernelAlloc[T any](io driver.IO) (*KernelAlloc[T], error) {
	var v T
	size := binary.Size(v)
	if size <= 0 {
		return nil, fmt.Errorf("%T is not a fixed layout", v)
	}
	addr, err := Alloc(io, uint64(size))
	if err != nil {
		return nil, err
	}
	if err := Write(io, addr, make([]byte, size)); err != nil {
		_ = Free(io, addr)
		return nil, err
	}
	m, err := Map(io, addr, uint64(size))
	if err != nil {
		_ = Free(io, addr)
		return nil, err
	}
	return &KernelAlloc[T]{io: io, addr: addr, size: size, mapping: m}, nil
}

// Address returns the kernel address of the allocation.
func (a *KernelAlloc[T]) Address() uint64 { return a.addr }

// Size returns the allocation size in bytes.
func (a *KernelAlloc[T]) Size() int { return a.size }

// Load decodes the value from the mapped view.
func (a *KernelAlloc[T]) Load() (T, error) {
	var v T
	view := a.mapping.View()
	if view.Len() < a.size {
		return v, fmt.Errorf("allocation at %#x is closed", a.addr)
	}
	err := binary.Read(bytes.NewReader(view.Bytes(0, a.size)), binary.LittleEndian, &v)
	return v, err
}

// Store encodes the value into the mapped view.
func (a *KernelAlloc[T]) Store(v T) error {
	view := a.mapping.View()
	if view.Len() < a.size {
		return fmt.Errorf("allocation at %#x is closed", a.addr)
	}
	b, err := encode(v)
	if err != nil {
		return err
	}
	defer bytebufferpool.Put(b)
	view.Write(0, b.B)
	return nil
}

// Close unmaps the view and then frees the allocation. The kernel memory
// is never freed while the user mapping is alive, so the allocation is
// leaked if the unmap fails.
func (a *KernelAlloc[T]) Close() error {
	a.once.Do(func() {
		if err := a.mapping.Close(); err != nil {
			// the memory stays allocated while it may still be mapped
			a.err = err
			return
		}
		a.err = Free(a.io, a.addr)
	})
	return a.err
}
