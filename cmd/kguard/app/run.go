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
	"github.com/rabbitstack/kguard/internal/bootstrap"
	"github.com/rabbitstack/kguard/pkg/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "Create the partition and install the configured guards",
	Aliases: []string{"start"},
	RunE:    run,
	Example: `
	# Run with the default configuration file
	kguard run

	# Run with a custom configuration file and the journal turned on
	kguard run --config-file=C:\kguard\kguard.yml --journal.enabled
	`,
}

var (
	// the run command config
	cfg = config.NewWithOpts(config.WithRun())
)

func init() {
	// initialize flags
	cfg.MustViperize(runCmd)
}

func run(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.NewApp(cfg, bootstrap.WithSignals())
	if err != nil {
		return err
	}
	if err := app.Run(); err != nil {
		return err
	}
	log.Infof("listening on %s", app.Server().Addr())
	app.Wait()
	return app.Shutdown()
}
