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

package channel

import (
	"fmt"

	"github.com/rabbitstack/kguard/pkg/policy"
	"github.com/rabbitstack/kguard/pkg/shm"
)

// InstructionSize is the maximum length of the faulting instruction.
const InstructionSize = 16

const (
	offGuard       = 0
	offRegion      = 8
	offRegisters   = 16
	offInstruction = offRegisters + registerCount*8
	offPID         = offInstruction + InstructionSize
	offAddress     = offPID + 8
	offAccess      = offAddress + 8
	offAction      = offAccess + 4

	offMonitorPID     = 16
	offMonitorAddress = 24
	offMonitorAccess  = 32
	offMonitorAction  = 36
)

const registerCount = 18

// Registers is the general purpose register snapshot captured
// at the time of the interception.
type Registers struct {
	Rax, Rbx, Rcx, Rdx uint64
	Rsi, Rdi, Rbp, Rsp uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	Rip, Rflags        uint64
}

func (r *Registers) slots() [registerCount]*uint64 {
	return [registerCount]*uint64{
		&r.Rax, &r.Rbx, &r.Rcx, &r.Rdx,
		&r.Rsi, &r.Rdi, &r.Rbp, &r.Rsp,
		&r.R8, &r.R9, &r.R10, &r.R11,
		&r.R12, &r.R13, &r.R14, &r.R15,
		&r.Rip, &r.Rflags,
	}
}

// Intercept is the in-place view of the interception message. The view
// aliases the bucket memory and is valid only while the worker owns
// the bucket.
type Intercept struct {
	buf shm.Buffer
}

// Guard returns the identifier of the guard that triggered the interception.
func (ic Intercept) Guard() uint64 { return ic.buf.Uint64(offGuard) }

// Region returns the identifier of the region that was accessed.
func (ic Intercept) Region() uint64 { return ic.buf.Uint64(offRegion) }

// Registers returns the copy of the captured register snapshot.
func (ic Intercept) Registers() Registers {
	var regs Registers
	for i, r := range regs.slots() {
		*r = ic.buf.Uint64(offRegisters + i*8)
	}
	return regs
}

// Instruction returns the bytes of the faulting instruction.
func (ic Intercept) Instruction() []byte { return ic.buf.Bytes(offInstruction, InstructionSize) }

// PID returns the identifier of the accessing process.
func (ic Intercept) PID() uint64 { return ic.buf.Uint64(offPID) }

// Address returns the accessed virtual address.
func (ic Intercept) Address() uint64 { return ic.buf.Uint64(offAddress) }

// Access returns the access type.
func (ic Intercept) Access() policy.Access { return policy.Access(ic.buf.Uint32(offAccess)) }

// Action returns the response action.
func (ic Intercept) Action() policy.Action { return policy.Action(ic.buf.Uint32(offAction)) }

// SetAction writes the response action the kernel applies once the bucket is acknowledged.
func (ic Intercept) SetAction(a policy.Action) { ic.buf.PutUint32(offAction, uint32(a)) }

// Record copies the message out of the shared memory.
func (ic Intercept) Record() InterceptRecord {
	rec := InterceptRecord{
		Guard:     ic.Guard(),
		Region:    ic.Region(),
		Registers: ic.Registers(),
		PID:       ic.PID(),
		Address:   ic.Address(),
		Access:    ic.Access(),
		Action:    ic.Action(),
	}
	copy(rec.Instruction[:], ic.Instruction())
	return rec
}

// String returns the interception summary.
func (ic Intercept) String() string {
	return fmt.Sprintf("guard=%d region=%d pid=%d address=%#x access=%s", ic.Guard(), ic.Region(), ic.PID(), ic.Address(), ic.Access())
}

// InterceptRecord is the detached copy of the interception message.
type InterceptRecord struct {
	Guard       uint64
	Region      uint64
	Registers   Registers
	Instruction [InstructionSize]byte
	PID         uint64
	Address     uint64
	Access      policy.Access
	Action      policy.Action
}

// EncodeIntercept writes the interception message into the bucket body.
// This is the kernel side of the exchange.
func EncodeIntercept(b Bucket, rec InterceptRecord) {
	body := b.Body()
	body.PutUint64(offGuard, rec.Guard)
	body.PutUint64(offRegion, rec.Region)
	for i, r := range rec.Registers.slots() {
		body.PutUint64(offRegisters+i*8, *r)
	}
	body.Write(offInstruction, rec.Instruction[:])
	body.PutUint64(offPID, rec.PID)
	body.PutUint64(offAddress, rec.Address)
	body.PutUint32(offAccess, uint32(rec.Access))
	body.PutUint32(offAction, uint32(rec.Action))
}

// Monitor is the in-place view of the monitor message.
type Monitor struct {
	buf shm.Buffer
}

// Guard returns the guard identifier.
func (m Monitor) Guard() uint64 { return m.buf.Uint64(offGuard) }

// Region returns the region identifier.
func (m Monitor) Region() uint64 { return m.buf.Uint64(offRegion) }

// PID returns the identifier of the accessing process.
func (m Monitor) PID() uint64 { return m.buf.Uint64(offMonitorPID) }

// Address returns the accessed virtual address.
func (m Monitor) Address() uint64 { return m.buf.Uint64(offMonitorAddress) }

// Access returns the access type.
func (m Monitor) Access() policy.Access { return policy.Access(m.buf.Uint32(offMonitorAccess)) }

// Action returns the action the kernel applied.
func (m Monitor) Action() policy.Action { return policy.Action(m.buf.Uint32(offMonitorAction)) }

// Record copies the message out of the shared memory.
func (m Monitor) Record() MonitorRecord {
	return MonitorRecord{
		Guard:   m.Guard(),
		Region:  m.Region(),
		PID:     m.PID(),
		Address: m.Address(),
		Access:  m.Access(),
		Action:  m.Action(),
	}
}

// MonitorRecord is the detached copy of the monitor message.
type MonitorRecord struct {
	Guard   uint64
	Region  uint64
	PID     uint64
	Address uint64
	Access  policy.Access
	Action  policy.Action
}

// EncodeMonitor writes the monitor message into the bucket body.
func EncodeMonitor(b Bucket, rec MonitorRecord) {
	body := b.Body()
	body.PutUint64(offGuard, rec.Guard)
	body.PutUint64(offRegion, rec.Region)
	body.PutUint64(offMonitorPID, rec.PID)
	body.PutUint64(offMonitorAddress, rec.Address)
	body.PutUint32(offMonitorAccess, uint32(rec.Access))
	body.PutUint32(offMonitorAction, uint32(rec.Action))
}
