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
	"time"

	"github.com/hashicorp/go-version"
	"github.com/rabbitstack/kguard/pkg/driver"
	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/policy"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
)

// Option identifies the partition setting kept by the driver.
type Option uint32

const (
	// OptionVersion is the read-only driver version packed as major<<32 | minor<<16 | patch.
	OptionVersion Option = iota + 1
	// OptionInterceptTimeout is the number of milliseconds the kernel waits for the bucket acknowledgment.
	OptionInterceptTimeout
	// OptionDefaultAction is the action applied when the acknowledgment times out.
	OptionDefaultAction
)

// String returns the option name.
func (o Option) String() string {
	switch o {
	case OptionVersion:
		return "version"
	case OptionInterceptTimeout:
		return "intercept-timeout"
	case OptionDefaultAction:
		return "default-action"
	default:
		return fmt.Sprintf("option(%d)", uint32(o))
	}
}

type optionRequest struct {
	ID       uint64
	Option   uint32
	Reserved uint32
}

type setOptionRequest struct {
	ID       uint64
	Option   uint32
	Reserved uint32
	Value    uint64
}

type optionResponse struct {
	Value uint64
}

// GetOption reads the partition option. Failures are classified against
// the partition identifier, so the caller can tell apart a partition that
// is gone from other failures.
func (p *Partition) GetOption(opt Option) (uint64, error) {
	if err := p.checkOpen(); err != nil {
		return 0, err
	}
	var resp optionResponse
	err := driver.Request(p.io, ioctl.PartitionGetOption, &resp, optionRequest{ID: p.info.ID, Option: uint32(opt)})
	if err != nil {
		return 0, kerrors.Classify(p.info.ID, err)
	}
	return resp.Value, nil
}

// SetOption writes the partition option.
func (p *Partition) SetOption(opt Option, value uint64) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	err := driver.Request(p.io, ioctl.PartitionSetOption, nil, setOptionRequest{ID: p.info.ID, Option: uint32(opt), Value: value})
	if err != nil {
		return kerrors.Classify(p.info.ID, err)
	}
	p.log.Debugf("partition option %s set to %d", opt, value)
	return nil
}

// SetInterceptTimeout sets how long the kernel waits for the answer to the interception.
func (p *Partition) SetInterceptTimeout(d time.Duration) error {
	return p.SetOption(OptionInterceptTimeout, uint64(d.Milliseconds()))
}

// SetDefaultAction sets the action applied when the interception isn't answered in time.
func (p *Partition) SetDefaultAction(a policy.Action) error {
	return p.SetOption(OptionDefaultAction, uint64(a.Normalize()))
}

// DriverVersion returns the version of the loaded driver.
func (p *Partition) DriverVersion() (*version.Version, error) {
	v, err := p.GetOption(OptionVersion)
	if err != nil {
		return nil, err
	}
	return UnpackVersion(v)
}

// CheckDriverVersion verifies the loaded driver satisfies the constraint, e.g. >= 1.2.
func (p *Partition) CheckDriverVersion(constraint string) error {
	c, err := version.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid driver version constraint %q: %v", constraint, err)
	}
	v, err := p.DriverVersion()
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("driver version %s doesn't satisfy %s constraint", v, constraint)
	}
	return nil
}

// UnpackVersion decodes the packed driver version.
func UnpackVersion(v uint64) (*version.Version, error) {
	return version.NewVersion(fmt.Sprintf("%d.%d.%d", uint16(v>>32), uint16(v>>16), uint16(v)))
}
