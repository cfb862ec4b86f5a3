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

package common

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rabbitstack/kguard/internal/bootstrap"
	"github.com/rabbitstack/kguard/pkg/config"
	"github.com/rabbitstack/kguard/pkg/driver"
	"github.com/rabbitstack/kguard/pkg/partition"
)

// Init initializes and validates the configuration
// as given by the commands. This function will also
// set up the logger.
func Init(c *config.Config) error {
	return bootstrap.InitConfigAndLogger(c)
}

// OpenPartition opens the device and creates a short-lived partition
// used by the introspection commands. The partition owns the device.
func OpenPartition(c *config.Config) (*partition.Partition, error) {
	io, err := bootstrap.OpenDevice(c.Device)
	if err != nil {
		return nil, err
	}
	p, err := partition.New(io)
	if err != nil {
		_ = io.Close()
		return nil, err
	}
	return p, nil
}

// OpenDevice opens the device without creating the partition.
func OpenDevice(c *config.Config) (driver.IO, error) {
	return bootstrap.OpenDevice(c.Device)
}

// NewTable returns the table writer that renders to stdout.
func NewTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}
