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

package journal

import (
	"github.com/rabbitstack/kguard/pkg/channel"
	"github.com/rabbitstack/kguard/pkg/dispatch"
	"github.com/rabbitstack/kguard/pkg/policy"
)

// Wrap returns the callback that journals every interception answered by cb.
func (j *Journal) Wrap(cb dispatch.Callback) dispatch.Callback {
	return func(ic channel.Intercept) dispatch.Response {
		resp := cb(ic)
		action := resp.Action
		if action == 0 {
			action = policy.Continue
		}
		rip := ic.Registers().Rip
		j.Record(Record{
			Kind:        Intercept,
			Guard:       ic.Guard(),
			Region:      ic.Region(),
			PID:         ic.PID(),
			Address:     ic.Address(),
			Access:      ic.Access(),
			Action:      action,
			Severity:    resp.Severity.String(),
			Instruction: dispatch.Disassemble(ic.Instruction(), rip),
		})
		return resp
	}
}

// MonitorHandler journals monitor notifications before passing them to next.
func (j *Journal) MonitorHandler(next dispatch.MonitorHandler) dispatch.MonitorHandler {
	return func(b channel.Bucket, m channel.Monitor) {
		j.Record(Record{
			Kind:    Monitor,
			Guard:   m.Guard(),
			Region:  m.Region(),
			Bucket:  b.Index(),
			PID:     m.PID(),
			Address: m.Address(),
			Access:  m.Access(),
			Action:  m.Action(),
		})
		if next != nil {
			next(b, m)
		}
	}
}

// Handler journals callback diagnostics drained by the sink.
func (j *Journal) Handler() dispatch.Handler {
	return func(d dispatch.Diagnostic) {
		j.Record(Record{
			Kind:     Diagnostic,
			Guard:    d.Guard,
			Bucket:   d.Bucket,
			Severity: d.Severity.String(),
			Message:  d.Text,
		})
	}
}
