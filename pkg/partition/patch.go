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
	"fmt"
	"sync"

	"github.com/rabbitstack/kguard/pkg/driver"
	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/policy"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
)

// MaxPatchSize is the longest code sequence the driver accepts in one patch.
const MaxPatchSize = 4096

type patchCreateRequest struct {
	Address uint64
	Length  uint32
	Action  policy.Action
}

// PatchInfo is the kernel view of the patch.
type PatchInfo struct {
	ID       uint64
	Address  uint64
	Length   uint32
	Action   policy.Action
	State    uint32
	Reserved uint32
}

// Enabled determines if the patch is applied.
func (i PatchInfo) Enabled() bool { return i.State != 0 }

// Patch replaces the code at the kernel address while enabled. Accesses to
// the patched range are reported to the guards the patch is attached to.
type Patch struct {
	p       *Partition
	id      uint64
	address uint64
	size    int
	action  policy.Action
	once    sync.Once
	err     error
}

// NewPatch creates the patch that writes code at address once enabled.
func NewPatch(p *Partition, address uint64, code []byte, action policy.Action) (*Patch, error) {
	if len(code) == 0 || len(code) > MaxPatchSize {
		return nil, fmt.Errorf("patch at %#x must be between 1 and %d bytes long", address, MaxPatchSize)
	}
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	if action == 0 {
		action = policy.DefaultAction
	}
	action = action.Normalize()
	var resp idResponse
	req := patchCreateRequest{Address: address, Length: uint32(len(code)), Action: action}
	if err := driver.Request(p.io, ioctl.PatchCreate, &resp, req, code); err != nil {
		return nil, err
	}
	p.log.Debugf("patch %d created at %#x (%d bytes)", resp.ID, address, len(code))
	return &Patch{p: p, id: resp.ID, address: address, size: len(code), action: action}, nil
}

// ID returns the kernel identifier of the patch.
func (pt *Patch) ID() uint64 { return pt.id }

// Address returns the patched address.
func (pt *Patch) Address() uint64 { return pt.address }

// Size returns the length of the patch code.
func (pt *Patch) Size() int { return pt.size }

// Add attaches the patch to the guard.
func (pt *Patch) Add(g *Guard) error {
	err := driver.Request(pt.p.io, ioctl.PatchAdd, nil, attachRequest{Guard: g.ID(), Sentinel: pt.id})
	return kerrors.Classify(pt.id, err)
}

// Remove detaches the patch from the guard.
func (pt *Patch) Remove(g *Guard) error {
	err := driver.Request(pt.p.io, ioctl.PatchRemove, nil, attachRequest{Guard: g.ID(), Sentinel: pt.id})
	return kerrors.Classify(pt.id, err)
}

// Enable applies the patch.
func (pt *Patch) Enable() error {
	return kerrors.Classify(pt.id, driver.Request(pt.p.io, ioctl.PatchEnable, nil, pt.id))
}

// Disable restores the original code.
func (pt *Patch) Disable() error {
	return kerrors.Classify(pt.id, driver.Request(pt.p.io, ioctl.PatchDisable, nil, pt.id))
}

// Info queries the kernel view of the patch.
func (pt *Patch) Info() (PatchInfo, error) {
	var info PatchInfo
	if err := driver.Request(pt.p.io, ioctl.PatchGetInfo, &info, pt.id); err != nil {
		return info, kerrors.Classify(pt.id, err)
	}
	return info, nil
}

// Close deletes the patch. Close is idempotent.
func (pt *Patch) Close() error {
	pt.once.Do(func() {
		pt.err = kerrors.Classify(pt.id, driver.Request(pt.p.io, ioctl.PatchDelete, nil, pt.id))
	})
	return pt.err
}

func (pt *Patch) sentinel() {}
