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

package service

import (
	"context"
	"fmt"

	"github.com/rabbitstack/kguard/cmd/kguard/common"
	"github.com/rabbitstack/kguard/pkg/config"
	"github.com/rabbitstack/kguard/pkg/sys/service"
	"github.com/rabbitstack/kguard/pkg/util/spinner"
	"github.com/spf13/cobra"
)

// Command groups the commands that manage the driver service.
var Command = &cobra.Command{
	Use:   "service",
	Short: "Install, remove, start, stop or query the driver service",
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the driver within the Windows service control manager",
	RunE:  install,
}

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the driver service",
	RunE:  remove,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Load the driver by starting its service",
	RunE:  start,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Unload the driver by stopping its service",
	RunE:  stop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the driver service",
	RunE:  status,
}

var cfg = config.NewWithOpts(config.WithService())

func init() {
	cfg.MustViperize(Command)

	Command.AddCommand(installCmd)
	Command.AddCommand(removeCmd)
	Command.AddCommand(startCmd)
	Command.AddCommand(stopCmd)
	Command.AddCommand(statusCmd)
}

func install(cmd *cobra.Command, args []string) error {
	if err := common.Init(cfg); err != nil {
		return err
	}
	c := cfg.Device.Service
	err := service.Install(service.Config{
		Name:        c.Name,
		Binary:      c.Binary,
		DisplayName: "KGuard Driver",
		Description: "Kernel memory introspection driver",
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s service installed from %s\n", c.Name, c.Binary)
	return nil
}

func remove(cmd *cobra.Command, args []string) error {
	if err := common.Init(cfg); err != nil {
		return err
	}
	return service.Remove(cfg.Device.Service.Name)
}

func start(cmd *cobra.Command, args []string) error {
	if err := common.Init(cfg); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Device.OpenTimeout)
	defer cancel()
	name := cfg.Device.Service.Name
	return spinner.Run("Starting "+name+" service", func() error {
		return service.Start(ctx, name)
	})
}

func stop(cmd *cobra.Command, args []string) error {
	if err := common.Init(cfg); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Device.OpenTimeout)
	defer cancel()
	name := cfg.Device.Service.Name
	return spinner.Run("Stopping "+name+" service", func() error {
		return service.Stop(ctx, name)
	})
}

func status(cmd *cobra.Command, args []string) error {
	if err := common.Init(cfg); err != nil {
		return err
	}
	name := cfg.Device.Service.Name
	state, err := service.Query(name)
	if err != nil {
		return err
	}
	fmt.Printf("%s service is %s\n", name, state)
	return nil
}
