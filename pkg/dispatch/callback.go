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

package dispatch

import (
	"expvar"
	"fmt"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/rabbitstack/kguard/pkg/channel"
	"github.com/rabbitstack/kguard/pkg/policy"
	"golang.org/x/arch/x86/x86asm"
	"golang.org/x/time/rate"
)

// namesCacheSize is the max number of cached process names
const namesCacheSize = 512

const (
	// DefaultLogRate is the number of interceptions reported per second by the default callback.
	DefaultLogRate rate.Limit = 20
	// DefaultLogBurst is the number of interceptions reported in a burst by the default callback.
	DefaultLogBurst = 50
)

// suppressed counts interceptions not reported because of the rate limit
var suppressed = expvar.NewInt("dispatch.log.suppressed")

// NameResolver resolves the image name of the process.
type NameResolver func(pid uint64) (string, error)

// LogCallback reports interceptions as diagnostics and lets the access
// through. Reports are rate limited, so a hot region doesn't flood the log.
type LogCallback struct {
	lim     *rate.Limiter
	resolve NameResolver
	action  policy.Action

	mu    sync.Mutex
	names *lru.Cache
}

// NewLogCallback creates the reporting callback that answers with the given
// action. The resolver is optional.
func NewLogCallback(action policy.Action, limit rate.Limit, burst int, resolve NameResolver) *LogCallback {
	if action == 0 {
		action = policy.Continue
	}
	return &LogCallback{
		lim:     rate.NewLimiter(limit, burst),
		resolve: resolve,
		action:  action,
		names:   lru.New(namesCacheSize),
	}
}

// Callback is the dispatch callback.
func (c *LogCallback) Callback(ic channel.Intercept) Response {
	if !c.lim.Allow() {
		suppressed.Add(1)
		return Response{Action: c.action}
	}
	regs := ic.Registers()
	msg := fmt.Sprintf("%s access to %#x by %s on region %d [rip=%#x: %s]",
		ic.Access(),
		ic.Address(),
		c.process(ic.PID()),
		ic.Region(),
		regs.Rip,
		Disassemble(ic.Instruction(), regs.Rip),
	)
	severity := Info
	if ic.Access()&policy.Execute != 0 || ic.Access()&policy.Write != 0 {
		severity = Warning
	}
	return Response{Message: msg, Severity: severity, Action: c.action}
}

func (c *LogCallback) process(pid uint64) string {
	if c.resolve == nil {
		return fmt.Sprintf("pid %d", pid)
	}
	c.mu.Lock()
	name, ok := c.names.Get(pid)
	c.mu.Unlock()
	if ok {
		return fmt.Sprintf("%s (%d)", name, pid)
	}
	n, err := c.resolve(pid)
	if err != nil {
		return fmt.Sprintf("pid %d", pid)
	}
	c.mu.Lock()
	c.names.Add(pid, n)
	c.mu.Unlock()
	return fmt.Sprintf("%s (%d)", n, pid)
}

// Disassemble decodes the first instruction in the buffer. The instruction
// pointer is used to render relative operands.
func Disassemble(code []byte, rip uint64) string {
	ins, err := x86asm.Decode(code, 64)
	if err != nil {
		var b strings.Builder
		for i, c := range code {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%02x", c)
		}
		return b.String()
	}
	return x86asm.IntelSyntax(ins, rip, nil)
}
