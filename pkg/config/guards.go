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

package config

import (
	"errors"
	"fmt"

	"github.com/rabbitstack/kguard/pkg/partition"
	"github.com/rabbitstack/kguard/pkg/policy"
)

// GuardConfig describes the guard along with the sentinels attached to it.
type GuardConfig struct {
	// Name identifies the guard in logs and the journal.
	Name string `json:"name" yaml:"name" mapstructure:"name"`
	// Enabled determines if the guard is created. Guards are enabled by default.
	Enabled *bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	// Action is the response the guard callback returns. The partition callback action applies if unset.
	Action policy.Action `json:"action" yaml:"action" mapstructure:"action"`
	// Filter restricts the guard to processes matching all conditions.
	Filter []ConditionConfig `json:"filter" yaml:"filter" mapstructure:"filter"`
	// Regions are the memory ranges watched by the guard.
	Regions []RegionConfig `json:"regions" yaml:"regions" mapstructure:"regions"`
	// Patches are the code patches installed under the guard.
	Patches []PatchConfig `json:"patches" yaml:"patches" mapstructure:"patches"`
}

// ConditionConfig is the textual filter condition, e.g. ps.name = notepad.exe.
type ConditionConfig struct {
	Field string `json:"field" yaml:"field" mapstructure:"field"`
	Op    string `json:"op" yaml:"op" mapstructure:"op"`
	Value string `json:"value" yaml:"value" mapstructure:"value"`
}

// RegionConfig describes the watched memory range. The range is either
// given explicitly or spans the image of the named driver.
type RegionConfig struct {
	Base     uint64        `json:"base" yaml:"base" mapstructure:"base"`
	Limit    uint64        `json:"limit" yaml:"limit" mapstructure:"limit"`
	Driver   string        `json:"driver" yaml:"driver" mapstructure:"driver"`
	Access   policy.Access `json:"access" yaml:"access" mapstructure:"access"`
	Action   policy.Action `json:"action" yaml:"action" mapstructure:"action"`
	Disabled bool          `json:"disabled" yaml:"disabled" mapstructure:"disabled"`
}

// PatchConfig describes the code patch. The address is either given
// explicitly or resolved from the kernel export plus the offset.
type PatchConfig struct {
	Address  uint64        `json:"address" yaml:"address" mapstructure:"address"`
	Export   string        `json:"export" yaml:"export" mapstructure:"export"`
	Offset   uint64        `json:"offset" yaml:"offset" mapstructure:"offset"`
	Code     []byte        `json:"code" yaml:"code" mapstructure:"code"`
	Action   policy.Action `json:"action" yaml:"action" mapstructure:"action"`
	Disabled bool          `json:"disabled" yaml:"disabled" mapstructure:"disabled"`
}

// IsDisabled determines if the guard is disabled.
func (g GuardConfig) IsDisabled() bool { return g.Enabled != nil && !*g.Enabled }

// Conditions builds the filter conditions of the guard.
func (g GuardConfig) Conditions() ([]partition.Condition, error) {
	conds := make([]partition.Condition, 0, len(g.Filter))
	for _, c := range g.Filter {
		cond, err := partition.NewCondition(c.Field, c.Op, c.Value)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

func (g GuardConfig) validate() error {
	if len(g.Filter) > partition.MaxConditions {
		return fmt.Errorf("%s: filter has %d conditions but at most %d are allowed", g.Name, len(g.Filter), partition.MaxConditions)
	}
	if _, err := g.Conditions(); err != nil {
		return fmt.Errorf("%s: %v", g.Name, err)
	}
	for i, r := range g.Regions {
		if err := r.validate(); err != nil {
			return fmt.Errorf("%s: regions[%d]: %v", g.Name, i, err)
		}
	}
	for i, p := range g.Patches {
		if err := p.validate(); err != nil {
			return fmt.Errorf("%s: patches[%d]: %v", g.Name, i, err)
		}
	}
	return nil
}

func (r RegionConfig) validate() error {
	switch {
	case r.Driver != "" && (r.Base != 0 || r.Limit != 0):
		return errors.New("driver and explicit range are mutually exclusive")
	case r.Driver == "" && r.Base >= r.Limit:
		return fmt.Errorf("base %#x must be below limit %#x", r.Base, r.Limit)
	case r.Access == 0:
		return errors.New("access is required")
	}
	return nil
}

func (p PatchConfig) validate() error {
	switch {
	case p.Export != "" && p.Address != 0:
		return errors.New("export and address are mutually exclusive")
	case p.Export == "" && p.Address == 0:
		return errors.New("either export or address is required")
	case len(p.Code) == 0 || len(p.Code) > partition.MaxPatchSize:
		return fmt.Errorf("code must be between 1 and %d bytes long", partition.MaxPatchSize)
	}
	return nil
}
