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
	"encoding/binary"
	"expvar"
	"fmt"
	"iter"
	"strings"

	"github.com/rabbitstack/kguard/pkg/driver"
	"github.com/rabbitstack/kguard/pkg/kmem"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/charmap"
)

const (
	// DefaultMaxProcesses bounds the process list walk.
	DefaultMaxProcesses = 1 << 16
	// imageNameSize is the size of the image name field in the process object
	imageNameSize = 15
	// readChunkSize is the largest kernel memory read issued by the walker
	readChunkSize = 0x1000
)

// walksTruncated counts process walks stopped because of the entry cap
var walksTruncated = expvar.NewInt("introspect.walks.truncated")

// Process is the snapshot of the kernel process object.
type Process struct {
	PID       uint32
	ParentPID uint32
	Name      string
	Object    uint64
}

// String returns the process representation.
func (p Process) String() string {
	return fmt.Sprintf("%s (%d) at %#x", p.Name, p.PID, p.Object)
}

// ProcessNotFoundError is returned when the walk doesn't find the process.
type ProcessNotFoundError struct {
	Name string
	PID  uint32
}

// Error returns the error message.
func (e *ProcessNotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("process %s not found", e.Name)
	}
	return fmt.Sprintf("process %d not found", e.PID)
}

// WalkerOpt customizes the walker.
type WalkerOpt func(*Walker)

// WithMaxProcesses sets the maximum number of visited list entries.
func WithMaxProcesses(n int) WalkerOpt {
	return func(w *Walker) { w.max = n }
}

// Walker iterates the kernel process list.
type Walker struct {
	io       driver.IO
	offs     Offsets
	head     uint64
	listHead uint64
	max      int
}

// NewWalker locates the system process object and resolves the process
// object offsets.
func NewWalker(io driver.IO, r OffsetResolver, opts ...WalkerOpt) (*Walker, error) {
	offs, err := ResolveOffsets(r)
	if err != nil {
		return nil, err
	}
	ptr, err := kmem.ExportAddress(io, "PsInitialSystemProcess")
	if err != nil {
		return nil, err
	}
	head, err := kmem.ReadUint64(io, ptr)
	if err != nil {
		return nil, err
	}
	if head == 0 {
		return nil, fmt.Errorf("system process object at %#x is null", ptr)
	}
	w := &Walker{io: io, offs: offs, head: head, max: DefaultMaxProcesses}
	// the list head is a bare list entry that must be stepped over
	if lh, err := kmem.ExportAddress(io, "PsActiveProcessHead"); err == nil {
		w.listHead = lh
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Processes returns the iterator over the process list. The walk starts at
// the system process on every iteration and stops when the list wraps
// around, on the null link, or when the entry cap is reached.
func (w *Walker) Processes() iter.Seq2[Process, error] {
	return func(yield func(Process, error) bool) {
		cur := w.head
		for i := 0; i < w.max; i++ {
			proc, flink, err := w.read(cur)
			if err != nil {
				yield(Process{}, err)
				return
			}
			if !yield(proc, nil) {
				return
			}
			if flink != 0 && flink == w.listHead {
				flink, err = kmem.ReadUint64(w.io, w.listHead)
				if err != nil {
					yield(Process{}, err)
					return
				}
			}
			if flink == 0 {
				return
			}
			next := flink - uint64(w.offs.Links)
			if next == w.head {
				return
			}
			cur = next
		}
		walksTruncated.Add(1)
		log.Warnf("process list walk stopped after %d entries", w.max)
	}
}

// Find returns the first process with the image name. The kernel keeps
// only the leading part of long names, so the name prefix is matched too.
func (w *Walker) Find(name string) (Process, error) {
	for proc, err := range w.Processes() {
		if err != nil {
			return Process{}, err
		}
		if matchName(proc.Name, name) {
			return proc, nil
		}
	}
	return Process{}, &ProcessNotFoundError{Name: name}
}

// FindPID returns the process with the identifier.
func (w *Walker) FindPID(pid uint32) (Process, error) {
	for proc, err := range w.Processes() {
		if err != nil {
			return Process{}, err
		}
		if proc.PID == pid {
			return proc, nil
		}
	}
	return Process{}, &ProcessNotFoundError{PID: pid}
}

// ProcessName resolves the image name of the process.
func (w *Walker) ProcessName(pid uint64) (string, error) {
	proc, err := w.FindPID(uint32(pid))
	if err != nil {
		return "", err
	}
	return proc.Name, nil
}

func matchName(image, name string) bool {
	if strings.EqualFold(image, name) {
		return true
	}
	return len(image) >= imageNameSize-1 && strings.HasPrefix(strings.ToLower(name), strings.ToLower(image))
}

// read decodes the process object at addr and returns its forward link.
func (w *Walker) read(addr uint64) (Process, uint64, error) {
	b, err := w.readChunked(addr, w.offs.span())
	if err != nil {
		return Process{}, 0, err
	}
	proc := Process{
		PID:       uint32(binary.LittleEndian.Uint64(b[w.offs.PID:])),
		ParentPID: uint32(binary.LittleEndian.Uint64(b[w.offs.ParentPID:])),
		Name:      decodeName(b[w.offs.ImageName : int(w.offs.ImageName)+imageNameSize]),
		Object:    addr,
	}
	return proc, binary.LittleEndian.Uint64(b[w.offs.Links:]), nil
}

func (w *Walker) readChunked(addr uint64, size int) ([]byte, error) {
	b := make([]byte, 0, size)
	for len(b) < size {
		n := min(readChunkSize, size-len(b))
		chunk, err := kmem.Read(w.io, addr+uint64(len(b)), n)
		if err != nil {
			return nil, err
		}
		b = append(b, chunk...)
	}
	return b, nil
}

// decodeName converts the ANSI image name.
func decodeName(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	name, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(name)
}
