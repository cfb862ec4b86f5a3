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

// Package drivertest provides the in-memory driver that honors the
// device contract. The simulated kernel keeps partitions, guards,
// regions and patches in maps, backs kernel memory with Go slices and
// plays the kernel side of the bucket handshake.
package drivertest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rabbitstack/kguard/pkg/channel"
	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/driver"
	"github.com/rabbitstack/kguard/pkg/shm"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
)

const (
	errnoInvalidHandle    = syscall.Errno(6)
	errnoNotSupported     = syscall.Errno(50)
	errnoInvalidParameter = syscall.Errno(87)
	errnoInsufficient     = syscall.Errno(122)
	errnoInvalidAddress   = syscall.Errno(487)
)

// ErrNoResponse is returned when the user side doesn't acknowledge the
// message within the timeout.
var ErrNoResponse = errors.New("bucket wasn't acknowledged in time")

const (
	kernelBase = 0xfffff80000000000
	userBase   = 0x00007ff000000000
	pageSize   = 0x1000
)

// Partition is the simulated partition.
type Partition struct {
	ID      uint64
	Address uint64
	Size    uint32
	Options map[uint32]uint64
	Deleted bool

	buckets []*bucket
}

type bucket struct {
	mu     sync.Mutex
	view   channel.Bucket
	seq    uint64
	kernel *event
	user   *event
}

// Guard is the simulated guard.
type Guard struct {
	ID      uint64
	Filter  uint64
	Active  bool
	Regions []uint64
	Patches []uint64
}

// Region is the simulated region.
type Region struct {
	ID     uint64
	Base   uint64
	Limit  uint64
	Access uint32
	Action uint32
	State  uint32
}

// Patch is the simulated patch.
type Patch struct {
	ID      uint64
	Address uint64
	Bytes   []byte
	Action  uint32
	Enabled bool
}

type event struct {
	ch      chan struct{}
	signals int
}

type mapping struct {
	kernel uint64
	size   uint64
	mdl    uint64
}

// Option configures the simulated driver.
type Option func(*Driver)

// WithBuckets sets the number of buckets in each partition channel.
func WithBuckets(n int) Option {
	return func(d *Driver) { d.buckets = n }
}

// WithExport registers the kernel export resolved by the export-address request.
func WithExport(name string, addr uint64) Option {
	return func(d *Driver) { d.exports[name] = addr }
}

// WithVersion sets the driver version reported by the version partition option.
func WithVersion(major, minor, patch uint16) Option {
	return func(d *Driver) {
		d.version = uint64(major)<<32 | uint64(minor)<<16 | uint64(patch)
	}
}

// Driver is the simulated driver. It implements driver.IO.
type Driver struct {
	mu    sync.Mutex
	table ioctl.Table

	buckets int
	version uint64
	nextID  uint64
	nextK   uint64
	nextU   uint64
	nextH   uint64

	partitions map[uint64]*Partition
	guards     map[uint64]*Guard
	regions    map[uint64]*Region
	patches    map[uint64]*Patch
	allocs     map[uint64][]byte
	views      map[uint64][]byte
	mappings   map[uint64]mapping
	secured    map[uint64]shm.Span
	process    map[uint64]map[uint64][]byte
	exports    map[string]uint64
	events     map[uint64]*event
	failures   map[ioctl.Op]error

	calls  []ioctl.Op
	closes int
	closed bool
}

var _ driver.IO = (*Driver)(nil)

// New creates the simulated driver.
func New(opts ...Option) *Driver {
	d := &Driver{
		table:      ioctl.DefaultTable(),
		buckets:    2,
		nextK:      kernelBase,
		nextU:      userBase,
		nextH:      0x100,
		partitions: make(map[uint64]*Partition),
		guards:     make(map[uint64]*Guard),
		regions:    make(map[uint64]*Region),
		patches:    make(map[uint64]*Patch),
		allocs:     make(map[uint64][]byte),
		views:      make(map[uint64][]byte),
		mappings:   make(map[uint64]mapping),
		secured:    make(map[uint64]shm.Span),
		process:    make(map[uint64]map[uint64][]byte),
		exports:    make(map[string]uint64),
		events:     make(map[uint64]*event),
		failures:   make(map[ioctl.Op]error),
	}
	WithVersion(1, 2, 0)(d)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fail makes every subsequent request of the operation fail with err.
// Passing nil err clears the failure.
func (d *Driver) Fail(op ioctl.Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, op)
		return
	}
	d.failures[op] = err
}

// Calls returns the issued operations in order.
func (d *Driver) Calls() []ioctl.Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ioctl.Op(nil), d.calls...)
}

// Count returns how many times the operation was issued.
func (d *Driver) Count(op ioctl.Op) int {
	var n int
	for _, c := range d.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

// Closes returns how many times the device was closed.
func (d *Driver) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Call implements driver.IO.
func (d *Driver) Call(op ioctl.Op, in []byte, size int) ([]byte, error) {
	spec, err := d.table.Check(op, len(in))
	if err != nil {
		return nil, err
	}
	if spec.OutputSize > 0 && size < spec.OutputSize {
		return nil, d.fail(spec, errnoInsufficient)
	}
	d.mu.Lock()
	out, after, err := d.call(op, in, size)
	d.mu.Unlock()
	if after != nil {
		after()
	}
	if err != nil {
		return nil, d.fail(spec, err)
	}
	buf := make([]byte, size)
	n := copy(buf, out)
	return buf[:n], nil
}

// RawCall implements driver.IO.
func (d *Driver) RawCall(op ioctl.Op, buf []byte) error {
	spec, err := d.table.Check(op, len(buf))
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.precheck(op); err != nil {
		return d.fail(spec, err)
	}
	if err := d.raw(op, buf); err != nil {
		return d.fail(spec, err)
	}
	return nil
}

func (d *Driver) fail(spec ioctl.Spec, err error) error {
	return &kerrors.IoCallError{Op: spec.Name, Code: spec.Code, Err: err}
}

func (d *Driver) precheck(op ioctl.Op) error {
	d.calls = append(d.calls, op)
	if d.closed {
		return errnoInvalidHandle
	}
	return d.failures[op]
}

// View implements driver.IO.
func (d *Driver) View(addr uint64, size int) (shm.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.views[addr]
	if !ok || size > len(b) {
		return shm.Buffer{}, fmt.Errorf("no %d byte view is mapped at %#x", size, addr)
	}
	return shm.New(b[:size], addr), nil
}

// Wait implements driver.IO.
func (d *Driver) Wait(handle uint64) error {
	e, err := d.event(handle)
	if err != nil {
		return err
	}
	<-e.ch
	return nil
}

// Signal implements driver.IO.
func (d *Driver) Signal(handle uint64) error {
	e, err := d.event(handle)
	if err != nil {
		return err
	}
	d.mu.Lock()
	e.signals++
	d.mu.Unlock()
	select {
	case e.ch <- struct{}{}:
	default:
	}
	return nil
}

// Close implements driver.IO.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	d.closed = true
	return nil
}

func (d *Driver) event(handle uint64) (*event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.events[handle]
	if !ok {
		return nil, fmt.Errorf("invalid event handle %#x: %w", handle, errnoInvalidHandle)
	}
	return e, nil
}

func (d *Driver) newEvent() (uint64, *event) {
	d.nextH += 4
	e := &event{ch: make(chan struct{}, 1)}
	d.events[d.nextH] = e
	return d.nextH, e
}

func (d *Driver) id() uint64 {
	d.nextID++
	return d.nextID
}

func (d *Driver) kalloc(size uint64) uint64 {
	addr := d.nextK
	d.allocs[addr] = make([]byte, size)
	d.nextK += (size + pageSize) &^ (pageSize - 1)
	return addr
}

// resolve returns the kernel memory backing [addr, addr+n).
func (d *Driver) resolve(addr, n uint64) ([]byte, error) {
	for base, b := range d.allocs {
		if addr >= base && addr+n <= base+uint64(len(b)) && addr+n >= addr {
			return b[addr-base : addr-base+n], nil
		}
	}
	return nil, errnoInvalidAddress
}

// Poke writes data to the simulated kernel memory at addr, allocating
// the memory if the range isn't backed yet.
func (d *Driver) Poke(addr uint64, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, err := d.resolve(addr, uint64(len(data))); err == nil {
		copy(b, data)
		return
	}
	d.allocs[addr] = append([]byte(nil), data...)
}

// Peek reads n bytes of the simulated kernel memory at addr.
func (d *Driver) Peek(addr uint64, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.resolve(addr, uint64(n))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Allocations returns the number of live kernel allocations.
func (d *Driver) Allocations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.allocs)
}

// Mappings returns the number of live user mappings.
func (d *Driver) Mappings() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mappings)
}

// Partition returns the copy of the partition state.
func (d *Driver) Partition(id uint64) (Partition, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.partitions[id]
	if !ok {
		return Partition{}, false
	}
	return *p, true
}

// Guard returns the copy of the guard state.
func (d *Driver) Guard(id uint64) (Guard, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.guards[id]
	if !ok {
		return Guard{}, false
	}
	return *g, true
}

// GuardFilter returns the filter memory referenced by the guard.
func (d *Driver) GuardFilter(id uint64, size int) ([]byte, error) {
	g, ok := d.Guard(id)
	if !ok {
		return nil, kerrors.ErrnoObjectNotFound
	}
	return d.Peek(g.Filter, size)
}

// Region returns the copy of the region state.
func (d *Driver) Region(id uint64) (Region, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.regions[id]
	if !ok {
		return Region{}, false
	}
	return *r, true
}

// Patch returns the copy of the patch state.
func (d *Driver) Patch(id uint64) (Patch, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.patches[id]
	if !ok {
		return Patch{}, false
	}
	return *p, true
}

// Acks returns how many times user space acknowledged messages on the bucket.
func (d *Driver) Acks(partition uint64, index int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.partitions[partition]
	if !ok || index >= len(p.buckets) {
		return 0
	}
	return p.buckets[index].user.signals
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func remove(ids []uint64, id uint64) []uint64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

var le = binary.LittleEndian

// post writes the message into the bucket, signals the kernel event and
// waits for the acknowledgment unless the message is async.
func (d *Driver) post(partition uint64, index int, kind channel.Kind, flags uint32, fill func(channel.Bucket), timeout time.Duration) (channel.Bucket, error) {
	d.mu.Lock()
	p, ok := d.partitions[partition]
	if !ok || index >= len(p.buckets) {
		d.mu.Unlock()
		return channel.Bucket{}, fmt.Errorf("bucket %d of partition %d: %w", index, partition, kerrors.ErrnoObjectNotFound)
	}
	b := p.buckets[index]
	d.mu.Unlock()
	return b.post(kind, flags, fill, timeout)
}

func (b *bucket) post(kind channel.Kind, flags uint32, fill func(channel.Bucket), timeout time.Duration) (channel.Bucket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.view.SetHeader(b.seq, flags, kind)
	if fill != nil {
		fill(b.view)
	}
	select {
	case b.kernel.ch <- struct{}{}:
	default:
	}
	if flags&channel.FlagAsync != 0 {
		return b.view, nil
	}
	select {
	case <-b.user.ch:
		return b.view, nil
	case <-time.After(timeout):
		return b.view, ErrNoResponse
	}
}

// Intercept posts the interception message to the bucket and returns the
// action user space responded with.
func (d *Driver) Intercept(partition uint64, index int, rec channel.InterceptRecord, timeout time.Duration) (channel.InterceptRecord, error) {
	b, err := d.post(partition, index, channel.KindIntercept, 0, func(b channel.Bucket) { channel.EncodeIntercept(b, rec) }, timeout)
	if err != nil {
		return channel.InterceptRecord{}, err
	}
	return b.Intercept().Record(), nil
}

// InterceptAsync posts the interception message flagged as async.
func (d *Driver) InterceptAsync(partition uint64, index int, rec channel.InterceptRecord) error {
	_, err := d.post(partition, index, channel.KindIntercept, channel.FlagAsync, func(b channel.Bucket) { channel.EncodeIntercept(b, rec) }, 0)
	return err
}

// Monitor posts the monitor message to the bucket.
func (d *Driver) Monitor(partition uint64, index int, rec channel.MonitorRecord, timeout time.Duration) error {
	_, err := d.post(partition, index, channel.KindMonitor, 0, func(b channel.Bucket) { channel.EncodeMonitor(b, rec) }, timeout)
	return err
}

// Post posts the message of arbitrary kind without the body.
func (d *Driver) Post(partition uint64, index int, kind channel.Kind, timeout time.Duration) error {
	_, err := d.post(partition, index, kind, 0, nil, timeout)
	return err
}

// Terminate posts the terminate message to the bucket.
func (d *Driver) Terminate(partition uint64, index int, timeout time.Duration) error {
	return d.Post(partition, index, channel.KindTerminate, timeout)
}

// TerminateTimeout bounds the wait for workers acknowledging the
// terminate message when the partition is deleted.
var TerminateTimeout = 5 * time.Second
