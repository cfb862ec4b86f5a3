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

package errors

import (
	"errors"
	"fmt"
	"syscall"
)

const (
	// ErrnoObjectNotFound is the OS error the driver reports when the
	// object identified in the request is not registered anymore.
	ErrnoObjectNotFound = syscall.Errno(1167)
	// ErrnoNotFound is the generic element not found error.
	ErrnoNotFound = syscall.Errno(1168)
)

var (
	// ErrFilterFull is returned when a condition is added to a filter that already holds the maximum number of conditions
	ErrFilterFull = errors.New("filter can't hold more than 16 conditions")
	// ErrPartitionClosed signals an operation was attempted on a partition that was deleted
	ErrPartitionClosed = errors.New("partition is closed")
	// ErrUnsupported is returned by OS bindings on platforms other than Windows
	ErrUnsupported = errors.New("kguard can only be run on Windows operating systems")
	// ErrShortResponse indicates the driver returned fewer bytes than the response layout requires
	ErrShortResponse = errors.New("driver response is shorter than expected")
	// ErrTooManyObjects indicates the driver reported more objects than can be enumerated
	ErrTooManyObjects = errors.New("driver reported too many objects")
	// ErrHTTPServerUnavailable signals that the HTTP server is not running on the specified transport
	ErrHTTPServerUnavailable = func(transport string, err error) error {
		return fmt.Errorf("kguard API server up and running on %s? %v", transport, err)
	}
)

// OpenError is returned when the driver device object can't be opened.
// The session can't proceed without the device, so this error is fatal.
type OpenError struct {
	Path string
	Err  error
}

// Error returns the error message.
func (e *OpenError) Error() string {
	return fmt.Sprintf("unable to open %s device: %v", e.Path, e.Err)
}

// Unwrap returns the underlying OS error.
func (e *OpenError) Unwrap() error { return e.Err }

// IoCallError designates a failed control call. It carries the operation
// name, the control code and the OS-level cause.
type IoCallError struct {
	Op   string
	Code uint32
	Err  error
}

// Error returns the error message.
func (e *IoCallError) Error() string {
	return fmt.Sprintf("%s (%#x) control call failed: %v", e.Op, e.Code, e.Err)
}

// Unwrap returns the underlying OS error.
func (e *IoCallError) Unwrap() error { return e.Err }

// NotExistsError is returned when the kernel reports the object with the given
// identifier doesn't exist. Callers usually stop polling the object on this error.
type NotExistsError struct {
	ID  uint64
	Err error
}

// Error returns the error message.
func (e *NotExistsError) Error() string {
	return fmt.Sprintf("object %d doesn't exist", e.ID)
}

// Unwrap returns the originating control call error.
func (e *NotExistsError) Unwrap() error { return e.Err }

// UnknownError wraps any other kernel object failure.
type UnknownError struct {
	ID  uint64
	Err error
}

// Error returns the error message.
func (e *UnknownError) Error() string {
	return fmt.Sprintf("operation on object %d failed: %v", e.ID, e.Err)
}

// Unwrap returns the originating control call error.
func (e *UnknownError) Unwrap() error { return e.Err }

// Classify maps the error produced by an operation on the kernel object
// identified by id to NotExistsError or UnknownError.
func Classify(id uint64, err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == ErrnoObjectNotFound || errno == ErrnoNotFound) {
		return &NotExistsError{ID: id, Err: err}
	}
	return &UnknownError{ID: id, Err: err}
}

// IsNotExists determines if the error is NotExistsError.
func IsNotExists(err error) bool {
	var e *NotExistsError
	return errors.As(err, &e)
}

// IsIoCall determines if the error originated in a failed control call.
func IsIoCall(err error) bool {
	var e *IoCallError
	return errors.As(err, &e)
}

// IsOpen determines if the error is OpenError.
func IsOpen(err error) bool {
	var e *OpenError
	return errors.As(err, &e)
}
