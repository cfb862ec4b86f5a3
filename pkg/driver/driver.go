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

// Package driver implements the channel to the kernel driver device object.
// Every operation is a synchronous buffered transfer keyed by a control code.
// Operations are never retried on behalf of the caller, and failures are
// always surfaced as typed errors.
package driver

import (
	"bytes"
	"encoding/binary"
	"expvar"
	"fmt"

	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/shm"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
	"github.com/valyala/bytebufferpool"
)

// DefaultPath is the path of the device object exposed by the driver.
const DefaultPath = `\\.\KGuard`

var (
	// calls counts issued control calls per operation
	calls = expvar.NewMap("driver.calls")
	// callFailures counts failed control calls per operation
	callFailures = expvar.NewMap("driver.call.failures")
)

var _ IO = (*Device)(nil)

// IO is the user-mode view of the driver. Besides the control calls, it
// exposes the memory the driver maps into the process address space and
// the event objects the driver hands over for the shared-memory handshake.
type IO interface {
	// Call issues the operation with the optional input buffer and returns
	// up to size bytes of output. The returned slice is truncated to the
	// number of bytes the driver actually wrote.
	Call(op ioctl.Op, in []byte, size int) ([]byte, error)
	// RawCall issues the operation over a fixed layout structure. The driver
	// overwrites the buffer in place with the response.
	RawCall(op ioctl.Op, buf []byte) error
	// View returns the view of size bytes the driver mapped at addr.
	View(addr uint64, size int) (shm.Buffer, error)
	// Wait blocks until the event object is signaled.
	Wait(event uint64) error
	// Signal sets the event object to the signaled state.
	Signal(event uint64) error
	// Close releases the device.
	Close() error
}

// Request encodes the in layouts in sequence, issues the operation and
// decodes the response into out. out may be nil for operations that
// don't produce the output buffer.
func Request(io IO, op ioctl.Op, out any, in ...any) error {
	var payload []byte
	if len(in) > 0 {
		b := bytebufferpool.Get()
		defer bytebufferpool.Put(b)
		for _, v := range in {
			if err := binary.Write(b, binary.LittleEndian, v); err != nil {
				return fmt.Errorf("unable to encode %s request: %v", op, err)
			}
		}
		payload = b.B
	}
	var size int
	if out != nil {
		size = binary.Size(out)
		if size <= 0 {
			return fmt.Errorf("%T is not a fixed layout", out)
		}
	}
	resp, err := io.Call(op, payload, size)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if len(resp) < size {
		return fmt.Errorf("%s returned %d bytes: %w", op, len(resp), kerrors.ErrShortResponse)
	}
	return binary.Read(bytes.NewReader(resp), binary.LittleEndian, out)
}

// RawRequest issues the operation over the fixed layout pointed to by v.
// The structure is updated with the response the driver writes in place.
func RawRequest(io IO, op ioctl.Op, v any) error {
	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)
	if err := binary.Write(b, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("unable to encode %s request: %v", op, err)
	}
	if err := io.RawCall(op, b.B); err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(b.B), binary.LittleEndian, v)
}

func newIoCallError(spec ioctl.Spec, err error) error {
	callFailures.Add(spec.Name, 1)
	return &kerrors.IoCallError{Op: spec.Name, Code: spec.Code, Err: err}
}
