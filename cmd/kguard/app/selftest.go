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

	"github.com/enescakir/emoji"
	"github.com/rabbitstack/kguard/cmd/kguard/common"
	"github.com/rabbitstack/kguard/pkg/partition"
	"github.com/spf13/cobra"
)

var selftestCmd = &cobra.Command{
	Use:       "selftest [scenario...]",
	Short:     "Run the driver self-test scenarios",
	ValidArgs: scenarioNames,
	RunE:      selftest,
}

var scenarioNames = []string{"ping", "region", "patch", "filter"}

var scenarios = map[string]partition.Scenario{
	"ping":   partition.ScenarioPing,
	"region": partition.ScenarioRegion,
	"patch":  partition.ScenarioPatch,
	"filter": partition.ScenarioFilter,
}

func init() {
	inspectConfig.MustViperize(selftestCmd)
}

func selftest(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		args = scenarioNames
	}
	for _, arg := range args {
		if _, ok := scenarios[strings.ToLower(arg)]; !ok {
			return fmt.Errorf("unknown self-test scenario %q", arg)
		}
	}
	if err := common.Init(inspectConfig); err != nil {
		return err
	}
	io, err := common.OpenDevice(inspectConfig)
	if err != nil {
		return err
	}
	defer io.Close()

	var failed int
	for _, arg := range args {
		if err := partition.SelfTest(io, scenarios[strings.ToLower(arg)]); err != nil {
			failed++
			emo("%v %s: %v\n", emoji.CrossMark, arg, err)
			continue
		}
		emo("%v %s\n", emoji.CheckMarkButton, arg)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d self-test scenarios failed", failed, len(args))
	}
	return nil
}
