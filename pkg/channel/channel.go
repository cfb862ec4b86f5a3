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

// Package channel decodes the shared-memory communication channel of a
// partition. The channel is split into fixed-size buckets. Each bucket
// carries one message at a time and the handshake on it strictly
// alternates between the kernel and the user side.
package channel

import (
	"fmt"

	"github.com/rabbitstack/kguard/pkg/shm"
)

const (
	// BucketSize is the size of each bucket in bytes.
	BucketSize = 256
	// HeaderSize is the size of the bucket header.
	HeaderSize = 32
	// BodySize is the room left for the message body.
	BodySize = BucketSize - HeaderSize
)

const (
	offKernelEvent = 0
	offUserEvent   = 8
	offID          = 16
	offFlags       = 24
	offKind        = 28
)

// FlagAsync marks messages that don't expect the user-side acknowledgment.
const FlagAsync uint32 = 1

// Kind identifies the message type carried by the bucket.
type Kind uint32

const (
	// KindIntercept is the memory access interception message.
	KindIntercept Kind = iota + 1
	// KindMonitor is the notification about the watched memory access.
	KindMonitor
	// KindTerminate tells the worker to exit.
	KindTerminate
)

// String returns the message kind name.
func (k Kind) String() string {
	switch k {
	case KindIntercept:
		return "intercept"
	case KindMonitor:
		return "monitor"
	case KindTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Info describes the channel returned by the partition create request.
type Info struct {
	ID       uint64
	Address  uint64
	Size     uint32
	Reserved uint32
}

// Buckets returns the number of whole buckets in the channel.
func (i Info) Buckets() int { return int(i.Size / BucketSize) }

// Layout splits the channel at address into bucket spans. The trailing
// remainder smaller than the bucket is ignored.
func Layout(address uint64, size uint32) []shm.Span {
	n := size / BucketSize
	spans := make([]shm.Span, n)
	for i := range spans {
		spans[i] = shm.Span{Address: address + uint64(i)*BucketSize, Size: BucketSize}
	}
	return spans
}

// Slice returns bucket views over the channel buffer.
func Slice(buf shm.Buffer) []Bucket {
	spans := Layout(buf.Addr(), uint32(buf.Len()))
	buckets := make([]Bucket, len(spans))
	for i := range spans {
		buckets[i] = Bucket{index: i, buf: buf.Slice(i*BucketSize, BucketSize)}
	}
	return buckets
}

// Bucket is the view of a single channel bucket.
type Bucket struct {
	index int
	buf   shm.Buffer
}

// NewBucket wraps the 256 byte view as the bucket with the given index.
func NewBucket(index int, buf shm.Buffer) Bucket {
	return Bucket{index: index, buf: buf.Slice(0, BucketSize)}
}

// Index returns the bucket position within the channel.
func (b Bucket) Index() int { return b.index }

// Addr returns the virtual address of the bucket.
func (b Bucket) Addr() uint64 { return b.buf.Addr() }

// KernelEvent returns the handle of the event signaled by the kernel when a message is posted.
func (b Bucket) KernelEvent() uint64 { return b.buf.Uint64(offKernelEvent) }

// UserEvent returns the handle of the event signaled by user space when the message is processed.
func (b Bucket) UserEvent() uint64 { return b.buf.Uint64(offUserEvent) }

// SetEvents stores the event handles in the bucket header.
func (b Bucket) SetEvents(kernel, user uint64) {
	b.buf.PutUint64(offKernelEvent, kernel)
	b.buf.PutUint64(offUserEvent, user)
}

// ID returns the message sequence identifier.
func (b Bucket) ID() uint64 { return b.buf.Uint64(offID) }

// Flags returns the message control flags.
func (b Bucket) Flags() uint32 { return b.buf.Uint32(offFlags) }

// Async determines if the kernel doesn't wait for the acknowledgment.
func (b Bucket) Async() bool { return b.Flags()&FlagAsync != 0 }

// Kind returns the message kind.
func (b Bucket) Kind() Kind { return Kind(b.buf.Uint32(offKind)) }

// SetHeader writes the message header. The body is cleared.
func (b Bucket) SetHeader(id uint64, flags uint32, kind Kind) {
	b.buf.PutUint64(offID, id)
	b.buf.PutUint32(offFlags, flags)
	b.buf.PutUint32(offKind, uint32(kind))
	b.Body().Zero()
}

// Body returns the message body view.
func (b Bucket) Body() shm.Buffer { return b.buf.Slice(HeaderSize, BodySize) }

// Intercept returns the in-place view of the interception message.
func (b Bucket) Intercept() Intercept { return Intercept{buf: b.Body()} }

// Monitor returns the in-place view of the monitor message.
func (b Bucket) Monitor() Monitor { return Monitor{buf: b.Body()} }

// String returns the bucket summary.
func (b Bucket) String() string {
	return fmt.Sprintf("bucket %d at %#x (id=%d kind=%s async=%t)", b.index, b.Addr(), b.ID(), b.Kind(), b.Async())
}
