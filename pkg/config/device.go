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
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	devicePath        = "device.path"
	deviceOpenTimeout = "device.open-timeout"
	serviceName       = "device.service.name"
	serviceBinary     = "device.service.binary"
	serviceAutoStart  = "device.service.auto-start"
)

// DeviceConfig contains the settings of the driver device and the kernel service that loads the driver.
type DeviceConfig struct {
	// Path is the device path opened by the control plane.
	Path string `json:"path" yaml:"path"`
	// OpenTimeout bounds the time spent retrying to open the device after the driver service is started.
	OpenTimeout time.Duration `json:"open-timeout" yaml:"open-timeout"`
	// Service contains the kernel driver service settings.
	Service ServiceConfig `json:"service" yaml:"service"`
}

// ServiceConfig contains the kernel driver service settings.
type ServiceConfig struct {
	// Name is the service name of the driver.
	Name string `json:"name" yaml:"name"`
	// Binary is the path to the driver image.
	Binary string `json:"binary" yaml:"binary"`
	// AutoStart indicates if the run command starts the driver service when the device can't be opened.
	AutoStart bool `json:"auto-start" yaml:"auto-start"`
}

func (c *DeviceConfig) initFromViper(v *viper.Viper) {
	c.Path = v.GetString(devicePath)
	c.OpenTimeout = v.GetDuration(deviceOpenTimeout)
	c.Service = ServiceConfig{
		Name:      v.GetString(serviceName),
		Binary:    v.GetString(serviceBinary),
		AutoStart: v.GetBool(serviceAutoStart),
	}
}

func (c *DeviceConfig) addFlags(flags *pflag.FlagSet) {
	flags.String(devicePath, `\\.\KGuard`, "Specifies the path of the driver device")
	flags.Duration(deviceOpenTimeout, time.Second*10, "Determines how long the device open is retried after the driver service is started")
	flags.String(serviceName, "kguard", "Specifies the name of the driver service")
	flags.String(serviceBinary, defaultDriverBinary(), "Specifies the path of the driver image registered with the service")
	flags.Bool(serviceAutoStart, false, "Indicates if the driver service is started when the device can't be opened")
}

func defaultDriverBinary() string {
	exe, err := os.Executable()
	if err != nil {
		return filepath.Join(os.Getenv("PROGRAMFILES"), "kguard", "driver", "kguard.sys")
	}
	return filepath.Join(filepath.Dir(exe), "..", "driver", "kguard.sys")
}
