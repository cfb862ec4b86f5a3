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

package bootstrap

import (
	"fmt"

	"github.com/rabbitstack/kguard/pkg/config"
	"github.com/rabbitstack/kguard/pkg/dispatch"
	"github.com/rabbitstack/kguard/pkg/introspect"
	"github.com/rabbitstack/kguard/pkg/kmem"
	"github.com/rabbitstack/kguard/pkg/partition"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// guardSet is the guard installed from the config along with its sentinels.
type guardSet struct {
	name    string
	guard   *partition.Guard
	filter  *partition.Filter
	regions []*partition.Region
	patches []*partition.Patch
}

// GuardStatus describes the installed guard.
type GuardStatus struct {
	Name    string `json:"name"`
	ID      uint64 `json:"id"`
	Active  bool   `json:"active"`
	Filter  string `json:"filter,omitempty"`
	Regions int    `json:"regions"`
	Patches int    `json:"patches"`
}

func (s *guardSet) status() GuardStatus {
	st := GuardStatus{Name: s.name, Regions: len(s.regions), Patches: len(s.patches)}
	if s.guard != nil {
		st.ID = s.guard.ID()
		st.Active = s.guard.IsActive()
	}
	if s.filter != nil {
		st.Filter = s.filter.String()
	}
	return st
}

// Close stops the guard and deletes its sentinels. The filter is freed last
// since the kernel references it until the guard is unregistered.
func (s *guardSet) Close() error {
	var errs error
	if s.guard != nil && s.guard.IsActive() {
		errs = multierr.Append(errs, s.guard.Stop())
	}
	for _, r := range s.regions {
		errs = multierr.Append(errs, r.Close())
	}
	for _, p := range s.patches {
		errs = multierr.Append(errs, p.Close())
	}
	if s.guard != nil {
		errs = multierr.Append(errs, s.guard.Close())
	}
	if s.filter != nil {
		errs = multierr.Append(errs, s.filter.Close())
	}
	return errs
}

// installGuard creates the guard and its sentinels described by the config.
// Everything created so far is torn down if any step fails.
func (f *App) installGuard(c config.GuardConfig) (gs *guardSet, err error) {
	gs = &guardSet{name: c.Name}
	defer func() {
		if err != nil {
			err = multierr.Append(fmt.Errorf("unable to install %s guard: %v", c.Name, err), gs.Close())
			gs = nil
		}
	}()

	p := f.part
	conds, err := c.Conditions()
	if err != nil {
		return gs, err
	}
	if len(conds) > 0 {
		gs.filter, err = partition.NewFilter(p.IO())
		if err != nil {
			return gs, err
		}
		for _, cond := range conds {
			if err := gs.filter.Add(cond); err != nil {
				return gs, err
			}
		}
	}
	gs.guard, err = partition.NewGuard(p, gs.filter)
	if err != nil {
		return gs, err
	}

	action := c.Action
	if action == 0 {
		action = f.config.Partition.Callback.Action
	}
	cb := dispatch.NewLogCallback(action, f.config.Partition.Callback.Rate, f.config.Partition.Callback.Burst, f.resolver()).Callback
	if f.journal != nil {
		cb = f.journal.Wrap(cb)
	}
	gs.guard.SetCallback(cb)

	for _, rc := range c.Regions {
		r, err := f.createRegion(rc)
		if err != nil {
			return gs, err
		}
		gs.regions = append(gs.regions, r)
		if err := gs.guard.Attach(r); err != nil {
			return gs, err
		}
		if !rc.Disabled {
			if err := r.Enable(); err != nil {
				return gs, err
			}
		}
	}
	for _, pc := range c.Patches {
		pt, err := f.createPatch(pc)
		if err != nil {
			return gs, err
		}
		gs.patches = append(gs.patches, pt)
		if err := gs.guard.Attach(pt); err != nil {
			return gs, err
		}
		if !pc.Disabled {
			if err := pt.Enable(); err != nil {
				return gs, err
			}
		}
	}

	if err := gs.guard.Start(); err != nil {
		return gs, err
	}
	log.WithFields(log.Fields{
		"guard":   gs.guard.ID(),
		"regions": len(gs.regions),
		"patches": len(gs.patches),
	}).Infof("%s guard installed", c.Name)

	return gs, nil
}

func (f *App) createRegion(c config.RegionConfig) (*partition.Region, error) {
	base, limit := c.Base, c.Limit
	if c.Driver != "" {
		drv, err := f.findDriver(c.Driver)
		if err != nil {
			return nil, err
		}
		base, limit = drv.Base, drv.Base+uint64(drv.Size)
	}
	return partition.NewRegion(f.part, base, limit, c.Action, c.Access)
}

func (f *App) createPatch(c config.PatchConfig) (*partition.Patch, error) {
	addr := c.Address
	if c.Export != "" {
		var err error
		addr, err = kmem.ExportAddress(f.part.IO(), c.Export)
		if err != nil {
			return nil, fmt.Errorf("unable to resolve %s export: %v", c.Export, err)
		}
	}
	return partition.NewPatch(f.part, addr+c.Offset, c.Code, c.Action)
}

func (f *App) findDriver(name string) (introspect.Driver, error) {
	if f.drivers == nil {
		drivers, err := f.opts.drivers()
		if err != nil {
			return introspect.Driver{}, fmt.Errorf("unable to enumerate loaded drivers: %v", err)
		}
		f.drivers = drivers
	}
	return introspect.FindDriver(f.drivers, name)
}

func (f *App) resolver() dispatch.NameResolver {
	if f.walker == nil {
		return nil
	}
	return f.walker.ProcessName
}
