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
	"errors"
	"runtime"

	"github.com/rabbitstack/kguard/cmd/kguard/app/service"
	"github.com/spf13/cobra"
)

// RootCmd is the entrance to kguard CLI
var RootCmd = &cobra.Command{
	Use:   "kguard",
	Short: "Control plane of the kernel memory introspection driver",
	Long: `
	kguard drives the kernel memory introspection driver. It carves out
	partitions, installs guards over kernel memory regions and code patches,
	and answers every interception the driver raises on the guarded memory.
	`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "validate" {
			return nil
		}
		if runtime.GOOS != "windows" {
			return errors.New("kguard can only be run on Windows operating systems")
		}
		if runtime.GOARCH != "amd64" {
			return errors.New("kguard can only be run on 64-bit Windows operating systems")
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(statsCmd)
	RootCmd.AddCommand(statusCmd)
	RootCmd.AddCommand(validateCmd)
	RootCmd.AddCommand(driversCmd)
	RootCmd.AddCommand(psCmd)
	RootCmd.AddCommand(exportsCmd)
	RootCmd.AddCommand(journalCmd)
	RootCmd.AddCommand(selftestCmd)
	RootCmd.AddCommand(service.Command)
	RootCmd.AddCommand(versionCmd)
}
