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
	"sync"

	"github.com/rabbitstack/kguard/pkg/dispatch"
	"github.com/rabbitstack/kguard/pkg/driver"
	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
)

type idResponse struct {
	ID uint64
}

type guardControlRequest struct {
	ID       uint64
	State    uint32
	Reserved uint32
}

// Guard groups regions and patches under one callback and an optional
// process filter evaluated by the kernel.
type Guard struct {
	p      *Partition
	id     uint64
	filter *Filter

	mu     sync.Mutex
	active bool
	once   sync.Once
	err    error
}

// NewGuard registers the guard in the partition. The filter is optional
// and must outlive the guard.
func NewGuard(p *Partition, filter *Filter) (*Guard, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	var addr uint64
	if filter != nil {
		addr = filter.Address()
	}
	var resp idResponse
	if err := driver.Request(p.io, ioctl.GuardRegister, &resp, addr); err != nil {
		return nil, err
	}
	p.log.Debugf("guard %d registered", resp.ID)
	return &Guard{p: p, id: resp.ID, filter: filter}, nil
}

// ID returns the kernel identifier of the guard.
func (g *Guard) ID() uint64 { return g.id }

// Filter returns the filter the guard was registered with.
func (g *Guard) Filter() *Filter { return g.filter }

// IsActive determines if the guard was started.
func (g *Guard) IsActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Start activates the guard. Interceptions on the attached sentinels are
// only reported while the guard is active.
func (g *Guard) Start() error { return g.control(true) }

// Stop deactivates the guard.
func (g *Guard) Stop() error { return g.control(false) }

func (g *Guard) control(active bool) error {
	var state uint32
	if active {
		state = 1
	}
	if err := driver.Request(g.p.io, ioctl.GuardControl, nil, guardControlRequest{ID: g.id, State: state}); err != nil {
		return kerrors.Classify(g.id, err)
	}
	g.mu.Lock()
	g.active = active
	g.mu.Unlock()
	return nil
}

// SetCallback installs the callback that answers interceptions of this
// guard. It replaces the previous callback.
func (g *Guard) SetCallback(cb dispatch.Callback) {
	g.p.RegisterCallback(g.id, cb)
}

// Attach adds the region or patch to the guard.
func (g *Guard) Attach(s Sentinel) error { return s.Add(g) }

// Detach removes the region or patch from the guard.
func (g *Guard) Detach(s Sentinel) error { return s.Remove(g) }

// Close removes the guard callback and unregisters the guard. Close is idempotent.
func (g *Guard) Close() error {
	g.once.Do(func() {
		g.p.UnregisterCallback(g.id)
		if err := driver.Request(g.p.io, ioctl.GuardUnregister, nil, g.id); err != nil {
			g.err = kerrors.Classify(g.id, err)
		}
	})
	return g.err
}
