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

package partition

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/rabbitstack/kguard/pkg/driver"
	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/policy"
	"github.com/rabbitstack/kguard/pkg/shm"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
)

// RegionState is the region activation state.
type RegionState uint32

const (
	// RegionDisabled means accesses to the region are not intercepted.
	RegionDisabled RegionState = iota
	// RegionEnabled means accesses to the region are intercepted.
	RegionEnabled
)

// String returns the state name.
func (s RegionState) String() string {
	if s == RegionEnabled {
		return "enabled"
	}
	return "disabled"
}

type regionCreateRequest struct {
	Base   uint64
	Limit  uint64
	Access policy.Access
	Action policy.Action
}

type stateRequest struct {
	ID       uint64
	State    uint32
	Reserved uint32
}

// RegionInfo is the kernel view of the region.
type RegionInfo struct {
	ID       uint64
	Base     uint64
	Limit    uint64
	Access   policy.Access
	Action   policy.Action
	State    RegionState
	Reserved uint32
}

// Span returns the watched address range.
func (i RegionInfo) Span() shm.Span {
	return shm.Span{Address: i.Base, Size: uint32(i.Limit - i.Base)}
}

// Region is the watched range of kernel virtual memory. Base is inclusive
// and limit is exclusive.
type Region struct {
	p      *Partition
	id     uint64
	base   uint64
	limit  uint64
	access policy.Access
	action policy.Action
	once   sync.Once
	err    error
}

// NewRegion creates the region watching the access types in [base, limit).
// Regions created without the action get the Inspect|Notify default.
func NewRegion(p *Partition, base, limit uint64, action policy.Action, access policy.Access) (*Region, error) {
	if base >= limit {
		return nil, fmt.Errorf("region base %#x must be below its limit %#x", base, limit)
	}
	if access == 0 {
		return nil, fmt.Errorf("region [%#x, %#x) doesn't watch any access type", base, limit)
	}
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	if action == 0 {
		action = policy.DefaultAction
	}
	action = action.Normalize()
	var resp idResponse
	req := regionCreateRequest{Base: base, Limit: limit, Access: access, Action: action}
	if err := driver.Request(p.io, ioctl.RegionCreate, &resp, req); err != nil {
		return nil, err
	}
	p.log.Debugf("region %d created over [%#x, %#x) watching %s accesses with %s action", resp.ID, base, limit, access, action)
	return &Region{p: p, id: resp.ID, base: base, limit: limit, access: access, action: action}, nil
}

// ID returns the kernel identifier of the region.
func (r *Region) ID() uint64 { return r.id }

// Base returns the inclusive start address.
func (r *Region) Base() uint64 { return r.base }

// Limit returns the exclusive end address.
func (r *Region) Limit() uint64 { return r.limit }

// Access returns the watched access types.
func (r *Region) Access() policy.Access { return r.access }

// Action returns the region action.
func (r *Region) Action() policy.Action { return r.action }

// Add attaches the region to the guard.
func (r *Region) Add(g *Guard) error {
	err := driver.Request(r.p.io, ioctl.RegionAdd, nil, attachRequest{Guard: g.ID(), Sentinel: r.id})
	return kerrors.Classify(r.id, err)
}

// Remove detaches the region from the guard.
func (r *Region) Remove(g *Guard) error {
	err := driver.Request(r.p.io, ioctl.RegionRemove, nil, attachRequest{Guard: g.ID(), Sentinel: r.id})
	return kerrors.Classify(r.id, err)
}

// SetState enables or disables the region.
func (r *Region) SetState(state RegionState) error {
	err := driver.Request(r.p.io, ioctl.RegionSetState, nil, stateRequest{ID: r.id, State: uint32(state)})
	return kerrors.Classify(r.id, err)
}

// Enable enables the region.
func (r *Region) Enable() error { return r.SetState(RegionEnabled) }

// Disable disables the region.
func (r *Region) Disable() error { return r.SetState(RegionDisabled) }

// Info queries the kernel view of the region.
func (r *Region) Info() (RegionInfo, error) {
	var info RegionInfo
	if err := driver.Request(r.p.io, ioctl.RegionGetInfo, &info, r.id); err != nil {
		return info, kerrors.Classify(r.id, err)
	}
	return info, nil
}

// Close deletes the region. Close is idempotent.
func (r *Region) Close() error {
	r.once.Do(func() {
		r.err = kerrors.Classify(r.id, driver.Request(r.p.io, ioctl.RegionDelete, nil, r.id))
	})
	return r.err
}

func (r *Region) sentinel() {}

// EnumRegions returns the identifiers of regions known to the driver.
func EnumRegions(p *Partition) ([]uint64, error) {
	return enumerate(p.io, ioctl.RegionEnumerate)
}

// EnumPatches returns the identifiers of patches known to the driver.
func EnumPatches(p *Partition) ([]uint64, error) {
	return enumerate(p.io, ioctl.PatchEnumerate)
}

// maxEnumerated is the max number of identifiers accepted from the enumeration request
const maxEnumerated = 1 << 16

// enumerate issues the enumeration request growing the output buffer
// until every identifier fits.
func enumerate(io driver.IO, op ioctl.Op) ([]uint64, error) {
	capacity := 64
	for {
		b, err := io.Call(op, nil, 8+capacity*8)
		if err != nil {
			return nil, err
		}
		if len(b) < 8 {
			return nil, fmt.Errorf("%s returned %d bytes: %w", op, len(b), kerrors.ErrShortResponse)
		}
		n := binary.LittleEndian.Uint64(b)
		if n > maxEnumerated {
			return nil, fmt.Errorf("%s returned %d identifiers: %w", op, n, kerrors.ErrTooManyObjects)
		}
		count := int(n)
		if count > capacity {
			capacity = count
			continue
		}
		if len(b) < 8+count*8 {
			return nil, fmt.Errorf("%s returned %d identifiers out of %d: %w", op, (len(b)-8)/8, count, kerrors.ErrShortResponse)
		}
		ids := make([]uint64, count)
		for i := range ids {
			ids[i] = binary.LittleEndian.Uint64(b[8+i*8:])
		}
		return ids, nil
	}
}
