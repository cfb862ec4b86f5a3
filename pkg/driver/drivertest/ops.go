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

package drivertest

import (
	"bytes"
	"sync"

	"github.com/rabbitstack/kguard/pkg/channel"
	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/shm"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
)

// partition option identifiers understood by the simulated kernel
const (
	optionVersion       = 1
	optionTimeout       = 2
	optionDefaultAction = 3
)

type out []byte

func (o out) u64(v uint64) out { return le.AppendUint64(o, v) }
func (o out) u32(v uint32) out { return le.AppendUint32(o, v) }

func u64(b []byte, off int) uint64 { return le.Uint64(b[off:]) }
func u32(b []byte, off int) uint32 { return le.Uint32(b[off:]) }

func (d *Driver) call(op ioctl.Op, in []byte, size int) ([]byte, func(), error) {
	if err := d.precheck(op); err != nil {
		return nil, nil, err
	}
	switch op {
	case ioctl.PartitionCreate:
		return d.createPartition(), nil, nil
	case ioctl.PartitionDelete:
		return d.deletePartition(u64(in, 0))
	case ioctl.PartitionGetOption:
		p, err := d.partition(u64(in, 0))
		if err != nil {
			return nil, nil, err
		}
		v, ok := p.Options[u32(in, 8)]
		if !ok {
			return nil, nil, errnoInvalidParameter
		}
		return out{}.u64(v), nil, nil
	case ioctl.PartitionSetOption:
		p, err := d.partition(u64(in, 0))
		if err != nil {
			return nil, nil, err
		}
		opt := u32(in, 8)
		if opt != optionTimeout && opt != optionDefaultAction {
			return nil, nil, errnoInvalidParameter
		}
		p.Options[opt] = u64(in, 16)
		return nil, nil, nil

	case ioctl.GuardRegister:
		filter := u64(in, 0)
		if filter != 0 {
			if _, err := d.resolve(filter, 8); err != nil {
				return nil, nil, err
			}
		}
		g := &Guard{ID: d.id(), Filter: filter}
		d.guards[g.ID] = g
		return out{}.u64(g.ID), nil, nil
	case ioctl.GuardUnregister:
		id := u64(in, 0)
		if _, ok := d.guards[id]; !ok {
			return nil, nil, kerrors.ErrnoObjectNotFound
		}
		delete(d.guards, id)
		return nil, nil, nil
	case ioctl.GuardControl:
		g, ok := d.guards[u64(in, 0)]
		if !ok {
			return nil, nil, kerrors.ErrnoObjectNotFound
		}
		g.Active = u32(in, 8) != 0
		return nil, nil, nil

	case ioctl.RegionCreate:
		base, limit := u64(in, 0), u64(in, 8)
		if base >= limit {
			return nil, nil, errnoInvalidParameter
		}
		r := &Region{ID: d.id(), Base: base, Limit: limit, Access: u32(in, 16), Action: u32(in, 20)}
		d.regions[r.ID] = r
		return out{}.u64(r.ID), nil, nil
	case ioctl.RegionDelete:
		id := u64(in, 0)
		if _, ok := d.regions[id]; !ok {
			return nil, nil, kerrors.ErrnoObjectNotFound
		}
		delete(d.regions, id)
		for _, g := range d.guards {
			g.Regions = remove(g.Regions, id)
		}
		return nil, nil, nil
	case ioctl.RegionAdd, ioctl.RegionRemove:
		g, ok := d.guards[u64(in, 0)]
		if !ok {
			return nil, nil, kerrors.ErrnoObjectNotFound
		}
		id := u64(in, 8)
		if _, ok := d.regions[id]; !ok {
			return nil, nil, kerrors.ErrnoObjectNotFound
		}
		regions, err := attach(g.Regions, id, op == ioctl.RegionAdd)
		if err != nil {
			return nil, nil, err
		}
		g.Regions = regions
		return nil, nil, nil
	case ioctl.RegionSetState:
		r, ok := d.regions[u64(in, 0)]
		if !ok {
			return nil, nil, kerrors.ErrnoObjectNotFound
		}
		r.State = u32(in, 8)
		return nil, nil, nil
	case ioctl.RegionGetInfo:
		r, ok := d.regions[u64(in, 0)]
		if !ok {
			return nil, nil, kerrors.ErrnoObjectNotFound
		}
		return out{}.u64(r.ID).u64(r.Base).u64(r.Limit).u32(r.Access).u32(r.Action).u32(r.State).u32(0), nil, nil
	case ioctl.RegionEnumerate:
		return enumerate(sortedKeys(d.regions), size), nil, nil

	case ioctl.PatchCreate:
		if len(in) < 16 {
			return nil, nil, errnoInvalidParameter
		}
		code := in[16:]
		if int(u32(in, 8)) != len(code) || len(code) == 0 {
			return nil, nil, errnoInvalidParameter
		}
		p := &Patch{ID: d.id(), Address: u64(in, 0), Bytes: bytes.Clone(code), Action: u32(in, 12)}
		d.patches[p.ID] = p
		return out{}.u64(p.ID), nil, nil
	case ioctl.PatchDelete:
		id := u64(in, 0)
		if _, ok := d.patches[id]; !ok {
			return nil, nil, kerrors.ErrnoObjectNotFound
		}
		delete(d.patches, id)
		for _, g := range d.guards {
			g.Patches = remove(g.Patches, id)
		}
		return nil, nil, nil
	case ioctl.PatchAdd, ioctl.PatchRemove:
		g, ok := d.guards[u64(in, 0)]
		if !ok {
			return nil, nil, kerrors.ErrnoObjectNotFound
		}
		id := u64(in, 8)
		if _, ok := d.patches[id]; !ok {
			return nil, nil, kerrors.ErrnoObjectNotFound
		}
		patches, err := attach(g.Patches, id, op == ioctl.PatchAdd)
		if err != nil {
			return nil, nil, err
		}
		g.Patches = patches
		return nil, nil, nil
	case ioctl.PatchEnable, ioctl.PatchDisable:
		p, ok := d.patches[u64(in, 0)]
		if !ok {
			return nil, nil, kerrors.ErrnoObjectNotFound
		}
		p.Enabled = op == ioctl.PatchEnable
		return nil, nil, nil
	case ioctl.PatchGetInfo:
		p, ok := d.patches[u64(in, 0)]
		if !ok {
			return nil, nil, kerrors.ErrnoObjectNotFound
		}
		var state uint32
		if p.Enabled {
			state = 1
		}
		return out{}.u64(p.ID).u64(p.Address).u32(uint32(len(p.Bytes))).u32(p.Action).u32(state).u32(0), nil, nil
	case ioctl.PatchEnumerate:
		return enumerate(sortedKeys(d.patches), size), nil, nil

	case ioctl.VirtualFree:
		addr := u64(in, 0)
		if _, ok := d.allocs[addr]; !ok {
			return nil, nil, errnoInvalidAddress
		}
		delete(d.allocs, addr)
		return nil, nil, nil
	case ioctl.VirtualCopy:
		n := u64(in, 16)
		dst, err := d.resolve(u64(in, 0), n)
		if err != nil {
			return nil, nil, err
		}
		src, err := d.resolve(u64(in, 8), n)
		if err != nil {
			return nil, nil, err
		}
		copy(dst, src)
		return nil, nil, nil
	case ioctl.VirtualUnsecure:
		h := u64(in, 0)
		if _, ok := d.secured[h]; !ok {
			return nil, nil, errnoInvalidHandle
		}
		delete(d.secured, h)
		return nil, nil, nil
	case ioctl.VirtualUnmap:
		user, mdl := u64(in, 0), u64(in, 8)
		m, ok := d.mappings[user]
		if !ok || m.mdl != mdl {
			return nil, nil, errnoInvalidAddress
		}
		delete(d.mappings, user)
		delete(d.views, user)
		return nil, nil, nil
	case ioctl.VirtualRead:
		n := u64(in, 8)
		if n > uint64(size) {
			return nil, nil, errnoInsufficient
		}
		b, err := d.resolve(u64(in, 0), n)
		if err != nil {
			return nil, nil, err
		}
		return bytes.Clone(b), nil, nil
	case ioctl.VirtualWrite:
		if len(in) < 16 || uint64(len(in)-16) != u64(in, 8) {
			return nil, nil, errnoInvalidParameter
		}
		b, err := d.resolve(u64(in, 0), u64(in, 8))
		if err != nil {
			return nil, nil, err
		}
		copy(b, in[16:])
		return nil, nil, nil

	case ioctl.ProcessFree:
		allocs := d.process[u64(in, 0)]
		addr := u64(in, 8)
		if _, ok := allocs[addr]; !ok {
			return nil, nil, errnoInvalidAddress
		}
		delete(allocs, addr)
		return nil, nil, nil
	case ioctl.ProcessRead:
		n := u64(in, 16)
		if n > uint64(size) {
			return nil, nil, errnoInsufficient
		}
		b, err := d.resolveProcess(u64(in, 0), u64(in, 8), n)
		if err != nil {
			return nil, nil, err
		}
		return bytes.Clone(b), nil, nil
	case ioctl.ProcessWrite:
		if len(in) < 24 || uint64(len(in)-24) != u64(in, 16) {
			return nil, nil, errnoInvalidParameter
		}
		b, err := d.resolveProcess(u64(in, 0), u64(in, 8), u64(in, 16))
		if err != nil {
			return nil, nil, err
		}
		copy(b, in[24:])
		return nil, nil, nil

	case ioctl.ExportAddress:
		name, _, _ := bytes.Cut(in, []byte{0})
		addr, ok := d.exports[string(name)]
		if !ok {
			return nil, nil, kerrors.ErrnoNotFound
		}
		return out{}.u64(addr), nil, nil
	case ioctl.TestRun:
		if scenario := u32(in, 0); scenario > 3 {
			return nil, nil, errnoInvalidParameter
		}
		return out{}.u32(0).u32(0), nil, nil
	case ioctl.TokenSteal:
		return nil, nil, errnoNotSupported
	}
	return nil, nil, errnoNotSupported
}

func (d *Driver) raw(op ioctl.Op, buf []byte) error {
	switch op {
	case ioctl.VirtualAlloc:
		size := u64(buf, 0)
		if size == 0 {
			return errnoInvalidParameter
		}
		le.PutUint64(buf[8:], d.kalloc(size))
	case ioctl.VirtualSecure:
		addr, size := u64(buf, 0), u64(buf, 8)
		if _, err := d.resolve(addr, size); err != nil {
			return err
		}
		d.nextH += 4
		d.secured[d.nextH] = shm.Span{Address: addr, Size: uint32(size)}
		le.PutUint64(buf[16:], d.nextH)
	case ioctl.VirtualMap:
		addr, size := u64(buf, 0), u64(buf, 8)
		b, err := d.resolve(addr, size)
		if err != nil {
			return err
		}
		user := d.nextU
		d.nextU += (size + pageSize) &^ (pageSize - 1)
		d.nextH += 4
		d.views[user] = b
		d.mappings[user] = mapping{kernel: addr, size: size, mdl: d.nextH}
		le.PutUint64(buf[16:], user)
		le.PutUint64(buf[24:], d.nextH)
	case ioctl.ProcessAlloc:
		pid, size := u64(buf, 0), u64(buf, 8)
		if size == 0 {
			return errnoInvalidParameter
		}
		if d.process[pid] == nil {
			d.process[pid] = make(map[uint64][]byte)
		}
		addr := d.nextU
		d.nextU += (size + pageSize) &^ (pageSize - 1)
		d.process[pid][addr] = make([]byte, size)
		le.PutUint64(buf[24:], addr)
	default:
		return errnoNotSupported
	}
	return nil
}

func (d *Driver) resolveProcess(pid, addr, n uint64) ([]byte, error) {
	for base, b := range d.process[pid] {
		if addr >= base && addr+n <= base+uint64(len(b)) {
			return b[addr-base : addr-base+n], nil
		}
	}
	return nil, errnoInvalidAddress
}

func (d *Driver) partition(id uint64) (*Partition, error) {
	p, ok := d.partitions[id]
	if !ok || p.Deleted {
		return nil, kerrors.ErrnoObjectNotFound
	}
	return p, nil
}

func (d *Driver) createPartition() []byte {
	size := uint32(d.buckets * channel.BucketSize)
	mem := make([]byte, size)
	addr := d.nextU
	d.nextU += (uint64(size) + pageSize) &^ (pageSize - 1)
	d.views[addr] = mem

	p := &Partition{
		ID:      d.id(),
		Address: addr,
		Size:    size,
		Options: map[uint32]uint64{
			optionVersion:       d.version,
			optionTimeout:       5000,
			optionDefaultAction: 0x18,
		},
	}
	for _, view := range channel.Slice(shm.New(mem, addr)) {
		kh, ke := d.newEvent()
		uh, ue := d.newEvent()
		view.SetEvents(kh, uh)
		p.buckets = append(p.buckets, &bucket{view: view, kernel: ke, user: ue})
	}
	d.partitions[p.ID] = p
	return out{}.u64(p.ID).u64(p.Address).u32(p.Size).u32(0)
}

// deletePartition releases the channel and asks every worker to exit.
// The terminate handshake runs once the driver lock is released.
func (d *Driver) deletePartition(id uint64) ([]byte, func(), error) {
	p, err := d.partition(id)
	if err != nil {
		return nil, nil, err
	}
	p.Deleted = true
	delete(d.views, p.Address)
	buckets := p.buckets
	return nil, func() {
		var wg sync.WaitGroup
		for _, b := range buckets {
			wg.Add(1)
			go func(b *bucket) {
				defer wg.Done()
				_, _ = b.post(channel.KindTerminate, 0, nil, TerminateTimeout)
			}(b)
		}
		wg.Wait()
	}, nil
}

func attach(ids []uint64, id uint64, add bool) ([]uint64, error) {
	for _, v := range ids {
		if v == id {
			if add {
				return ids, nil
			}
			return remove(ids, id), nil
		}
	}
	if !add {
		return nil, kerrors.ErrnoNotFound
	}
	return append(ids, id), nil
}

func enumerate(ids []uint64, size int) []byte {
	o := out{}.u64(uint64(len(ids)))
	for _, id := range ids {
		if len(o)+8 > size {
			break
		}
		o = o.u64(id)
	}
	return o
}
