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
	"os"

	semver "github.com/hashicorp/go-version"
	"github.com/rabbitstack/kguard/cmd/kguard/common"
	"github.com/rabbitstack/kguard/pkg/config"
	"github.com/rabbitstack/kguard/pkg/util/version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run:   versionFn,
}

var (
	versionConfig = config.NewWithOpts(config.WithInspect())
	withDriver    bool
)

func init() {
	versionConfig.MustViperize(versionCmd)
	versionCmd.Flags().BoolVar(&withDriver, "driver", false, "Query the version of the loaded driver")
}

func versionFn(cmd *cobra.Command, args []string) {
	var driver *semver.Version
	if withDriver {
		driver = driverVersion()
	}
	version.Render(os.Stdout, driver)
}

func driverVersion() *semver.Version {
	if err := common.Init(versionConfig); err != nil {
		log.Warn(err)
		return nil
	}
	p, err := common.OpenPartition(versionConfig)
	if err != nil {
		log.Warnf("unable to query driver version: %v", err)
		return nil
	}
	defer p.Close()
	v, err := p.DriverVersion()
	if err != nil {
		log.Warnf("unable to query driver version: %v", err)
		return nil
	}
	return v
}
