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

package app

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rabbitstack/kguard/cmd/kguard/common"
	"github.com/rabbitstack/kguard/pkg/config"
	"github.com/rabbitstack/kguard/pkg/introspect"
	"github.com/spf13/cobra"
)

var driversCmd = &cobra.Command{
	Use:   "drivers [name]",
	Short: "List loaded kernel drivers",
	Args:  cobra.MaximumNArgs(1),
	RunE:  listDrivers,
}

var psCmd = &cobra.Command{
	Use:   "ps [name]",
	Short: "Walk the kernel process list",
	Args:  cobra.MaximumNArgs(1),
	RunE:  listProcesses,
}

var exportsCmd = &cobra.Command{
	Use:   "exports <driver> [name]",
	Short: "List routines exported by the loaded driver image",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  listExports,
	Example: `
	# List all kernel exports
	kguard exports ntoskrnl.exe

	# List exports of the driver that fuzzy match the name
	kguard exports ndis.sys Register
	`,
}

var inspectConfig = config.NewWithOpts(config.WithInspect())

func init() {
	inspectConfig.MustViperize(driversCmd)
	inspectConfig.MustViperize(psCmd)
	inspectConfig.MustViperize(exportsCmd)
}

func matches(args []string, name string) bool {
	if len(args) == 0 {
		return true
	}
	return fuzzy.MatchFold(args[0], name)
}

func listDrivers(cmd *cobra.Command, args []string) error {
	if err := common.Init(inspectConfig); err != nil {
		return err
	}
	drivers, err := introspect.Drivers()
	if err != nil {
		return err
	}
	t := common.NewTable(table.Row{"#", "Name", "Base", "Size", "Path"})
	for _, d := range drivers {
		if !matches(args, d.Name) {
			continue
		}
		t.AppendRow(table.Row{d.LoadOrder, d.Name, fmt.Sprintf("%#x", d.Base), humanize.IBytes(uint64(d.Size)), d.Path})
	}
	t.Render()
	return nil
}

func listProcesses(cmd *cobra.Command, args []string) error {
	if err := common.Init(inspectConfig); err != nil {
		return err
	}
	io, err := common.OpenDevice(inspectConfig)
	if err != nil {
		return err
	}
	defer io.Close()
	w, err := introspect.NewWalker(io, inspectConfig.StaticOffsets())
	if err != nil {
		return err
	}

	t := common.NewTable(table.Row{"PID", "PPID", "Name", "Object"})
	for proc, err := range w.Processes() {
		if err != nil {
			return err
		}
		if !matches(args, proc.Name) {
			continue
		}
		t.AppendRow(table.Row{proc.PID, proc.ParentPID, proc.Name, fmt.Sprintf("%#x", proc.Object)})
	}
	t.Render()
	return nil
}

func listExports(cmd *cobra.Command, args []string) error {
	if err := common.Init(inspectConfig); err != nil {
		return err
	}
	drivers, err := introspect.Drivers()
	if err != nil {
		return err
	}
	drv, err := introspect.FindDriver(drivers, args[0])
	if err != nil {
		return err
	}
	exports, err := introspect.Exports(drv.Path)
	if err != nil {
		return err
	}

	t := common.NewTable(table.Row{"Name", "RVA", "Address"})
	for _, e := range exports {
		if !matches(args[1:], e.Name) {
			continue
		}
		t.AppendRow(table.Row{e.Name, fmt.Sprintf("%#x", e.RVA), fmt.Sprintf("%#x", drv.Base+uint64(e.RVA))})
	}
	t.SetCaption("%d exports in %s", len(exports), strings.ToLower(drv.Name))
	t.Render()
	return nil
}
