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

package partition

import (
	"fmt"

	"github.com/rabbitstack/kguard/pkg/driver"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
	"github.com/rabbitstack/kguard/pkg/util/ntstatus"
)

// Scenario selects the driver self-test routine.
type Scenario uint32

const (
	// ScenarioPing checks the driver answers requests.
	ScenarioPing Scenario = iota
	// ScenarioRegion exercises region interception on driver-owned memory.
	ScenarioRegion
	// ScenarioPatch exercises code patching on the driver-owned routine.
	ScenarioPatch
	// ScenarioFilter exercises the process filter evaluation.
	ScenarioFilter
)

type testRunRequest struct {
	Scenario Scenario
	Reserved uint32
}

type testRunResponse struct {
	Status   uint32
	Reserved uint32
}

// SelfTest runs the driver self-test scenario. The NT status reported by
// the driver is returned as error unless it denotes success.
func SelfTest(io driver.IO, scenario Scenario) error {
	var resp testRunResponse
	if err := driver.Request(io, ioctl.TestRun, &resp, testRunRequest{Scenario: scenario}); err != nil {
		return err
	}
	if !ntstatus.IsSuccess(resp.Status) {
		return fmt.Errorf("self-test scenario %d failed: %s (%#x)", scenario, ntstatus.FormatMessage(resp.Status), resp.Status)
	}
	return nil
}
