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
	"fmt"
	"time"

	"github.com/rabbitstack/kguard/pkg/dispatch"
	"github.com/rabbitstack/kguard/pkg/policy"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

const (
	interceptTimeout = "partition.intercept-timeout"
	defaultAction    = "partition.default-action"
	driverVersion    = "partition.driver-version"
	sinkSize         = "partition.sink-size"
	callbackAction   = "partition.callback.action"
	callbackRate     = "partition.callback.rate"
	callbackBurst    = "partition.callback.burst"
)

// PartitionConfig stores the options applied to the partition and the default guard callback.
type PartitionConfig struct {
	// InterceptTimeout is the time the kernel waits for the interception response.
	InterceptTimeout time.Duration `json:"intercept-timeout" yaml:"intercept-timeout"`
	// DefaultAction is the action the kernel takes for regions without the explicit action.
	DefaultAction policy.Action `json:"default-action" yaml:"default-action"`
	// DriverVersion is the version constraint the loaded driver must satisfy.
	DriverVersion string `json:"driver-version" yaml:"driver-version"`
	// SinkSize is the capacity of the diagnostics queue.
	SinkSize int `json:"sink-size" yaml:"sink-size"`
	// Callback contains the settings of the default logging callback.
	Callback CallbackConfig `json:"callback" yaml:"callback"`
}

// CallbackConfig contains the settings of the default logging callback.
type CallbackConfig struct {
	// Action is the response returned for guards that don't declare one.
	Action policy.Action `json:"action" yaml:"action"`
	// Rate is the number of interceptions logged per second.
	Rate rate.Limit `json:"rate" yaml:"rate"`
	// Burst is the number of interceptions logged in a burst.
	Burst int `json:"burst" yaml:"burst"`
}

func (c *PartitionConfig) initFromViper(v *viper.Viper) error {
	c.InterceptTimeout = v.GetDuration(interceptTimeout)
	c.DriverVersion = v.GetString(driverVersion)
	c.SinkSize = v.GetInt(sinkSize)
	c.Callback.Rate = rate.Limit(v.GetFloat64(callbackRate))
	c.Callback.Burst = v.GetInt(callbackBurst)
	if c.SinkSize <= 0 {
		c.SinkSize = dispatch.DefaultSinkSize
	}

	var ok bool
	if s := v.GetString(defaultAction); s != "" {
		c.DefaultAction, ok = policy.ParseAction(s)
		if !ok {
			return fmt.Errorf("invalid %s value: %q", defaultAction, s)
		}
	}
	c.Callback.Action = policy.Continue
	if s := v.GetString(callbackAction); s != "" {
		c.Callback.Action, ok = policy.ParseAction(s)
		if !ok {
			return fmt.Errorf("invalid %s value: %q", callbackAction, s)
		}
	}
	return nil
}

func (c *PartitionConfig) addFlags(flags *pflag.FlagSet) {
	flags.Duration(interceptTimeout, time.Second*5, "Specifies the time the driver waits for the interception response before it applies the region action")
	flags.String(defaultAction, "inspect|notify", "Specifies the action applied by the driver for regions that don't declare one")
	flags.String(driverVersion, ">= 1.0.0", "Represents the version constraint the loaded driver must satisfy")
	flags.Int(sinkSize, dispatch.DefaultSinkSize, "Specifies the capacity of the callback diagnostics queue")
	flags.String(callbackAction, "continue", "Specifies the action returned by the default callback for guards that don't declare one")
	flags.Float64(callbackRate, 20, "Determines the number of interceptions logged per second by the default callback")
	flags.Int(callbackBurst, 50, "Determines the number of interceptions logged in a burst by the default callback")
}
