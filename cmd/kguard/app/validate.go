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

	"github.com/enescakir/emoji"
	"github.com/rabbitstack/kguard/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file and guard definitions",
	RunE:  validate,
}

var validateConfig = config.NewWithOpts(config.WithValidate())

func init() {
	validateConfig.MustViperize(validateCmd)
}

func validate(cmd *cobra.Command, args []string) error {
	file := validateConfig.File()
	emo("%v Loading configuration from %s\n", emoji.Package, file)
	if err := validateConfig.TryLoadFile(file); err != nil {
		return fmt.Errorf("%v %v", emoji.DisappointedFace, err)
	}
	if err := validateConfig.Validate(); err != nil {
		return fmt.Errorf("%v %v", emoji.DisappointedFace, err)
	}
	if err := validateConfig.Init(); err != nil {
		return fmt.Errorf("%v %v", emoji.DisappointedFace, err)
	}

	for _, g := range validateConfig.Guards {
		if g.IsDisabled() {
			emo("%v %s guard is disabled\n", emoji.Warning, g.Name)
			continue
		}
		emo("%v %s guard: %d region(s), %d patch(es), %d filter condition(s)\n",
			emoji.Hook, g.Name, len(g.Regions), len(g.Patches), len(g.Filter))
	}
	if len(validateConfig.Guards) == 0 {
		emo("%v no guards defined\n", emoji.Warning)
	}

	emo("%v Validation successful. Ready to go!\n", emoji.Rocket)
	return nil
}

func emo(s string, args ...any) { fmt.Printf(s, args...) }
