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
	"context"

	"github.com/cenkalti/backoff/v4"
	"github.com/rabbitstack/kguard/pkg/config"
	"github.com/rabbitstack/kguard/pkg/driver"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
	"github.com/rabbitstack/kguard/pkg/sys/service"
	log "github.com/sirupsen/logrus"
)

// OpenDevice opens the driver device. If the device can't be opened and
// the service auto start is enabled, the driver service is started and
// the open is retried until the configured timeout expires.
func OpenDevice(c config.DeviceConfig) (driver.IO, error) {
	dev, err := driver.Open(c.Path, ioctl.DefaultTable())
	if err == nil {
		return dev, nil
	}
	if !c.Service.AutoStart {
		return nil, err
	}
	log.Warnf("unable to open %s device: %v. Starting %s driver service...", c.Path, err, c.Service.Name)

	ctx, cancel := context.WithTimeout(context.Background(), c.OpenTimeout)
	defer cancel()
	if err := service.Start(ctx, c.Service.Name); err != nil {
		return nil, err
	}
	return backoff.RetryWithData(func() (driver.IO, error) {
		dev, err := driver.Open(c.Path, ioctl.DefaultTable())
		if err != nil {
			log.Debugf("retrying %s device open: %v", c.Path, err)
			return nil, err
		}
		return dev, nil
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}
