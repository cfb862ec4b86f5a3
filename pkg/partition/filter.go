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
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rabbitstack/kguard/pkg/driver"
	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/introspect"
	"github.com/rabbitstack/kguard/pkg/kmem"
)

const (
	// MaxConditions is the number of conditions the filter can hold.
	MaxConditions = 16
	// MaxValueSize is the size of the condition value.
	MaxValueSize = 32
)

// Field is the process attribute the condition is evaluated on.
type Field uint32

const (
	// FieldProcessID is the process identifier.
	FieldProcessID Field = iota + 1
	// FieldParentID is the parent process identifier.
	FieldParentID
	// FieldImageName is the process image file name.
	FieldImageName
	// FieldProcessObject is the address of the kernel process object.
	FieldProcessObject
)

// String returns the field name.
func (f Field) String() string {
	switch f {
	case FieldProcessID:
		return "ps.pid"
	case FieldParentID:
		return "ps.ppid"
	case FieldImageName:
		return "ps.name"
	case FieldProcessObject:
		return "ps.object"
	default:
		return fmt.Sprintf("field(%d)", uint32(f))
	}
}

// ParseField resolves the field from its name.
func ParseField(s string) (Field, bool) {
	for f := FieldProcessID; f <= FieldProcessObject; f++ {
		if strings.EqualFold(s, f.String()) {
			return f, true
		}
	}
	return 0, false
}

// Comparator is the condition operator.
type Comparator uint32

const (
	// Equal matches equal values. Strings are compared case insensitively.
	Equal Comparator = iota + 1
	// NotEqual matches different values.
	NotEqual
	// Contains matches strings containing the value.
	Contains
	// StartsWith matches strings starting with the value.
	StartsWith
	// Less matches numbers below the value.
	Less
	// Greater matches numbers above the value.
	Greater
)

var comparators = map[Comparator]string{
	Equal:      "=",
	NotEqual:   "!=",
	Contains:   "contains",
	StartsWith: "startswith",
	Less:       "<",
	Greater:    ">",
}

// String returns the comparator operator.
func (c Comparator) String() string {
	if s, ok := comparators[c]; ok {
		return s
	}
	return fmt.Sprintf("cmp(%d)", uint32(c))
}

// ParseComparator resolves the comparator from its operator.
func ParseComparator(s string) (Comparator, bool) {
	for c, op := range comparators {
		if strings.EqualFold(s, op) {
			return c, true
		}
	}
	return 0, false
}

// ValueKind designates the type of the condition value.
type ValueKind uint32

const (
	// Number is the unsigned integer value.
	Number ValueKind = iota + 1
	// String is the ANSI string value.
	String
)

// Condition is the filter predicate evaluated by the kernel.
type Condition struct {
	Field      Field
	Comparator Comparator
	Kind       ValueKind
	Number     uint64
	Text       string
}

// String returns the condition expression.
func (c Condition) String() string {
	if c.Kind == String {
		return fmt.Sprintf("%s %s '%s'", c.Field, c.Comparator, c.Text)
	}
	return fmt.Sprintf("%s %s %d", c.Field, c.Comparator, c.Number)
}

func (c Condition) validate() error {
	switch c.Kind {
	case Number:
		if c.Comparator == Contains || c.Comparator == StartsWith {
			return fmt.Errorf("%s operator can't be applied to numbers", c.Comparator)
		}
	case String:
		if len(c.Text) == 0 || len(c.Text) > MaxValueSize {
			return fmt.Errorf("string value must be between 1 and %d bytes long", MaxValueSize)
		}
		if c.Comparator == Less || c.Comparator == Greater {
			return fmt.Errorf("%s operator can't be applied to strings", c.Comparator)
		}
	default:
		return fmt.Errorf("unknown value kind %d", c.Kind)
	}
	if _, ok := comparators[c.Comparator]; !ok {
		return fmt.Errorf("unknown comparator %d", c.Comparator)
	}
	return nil
}

func (c Condition) encode() condition {
	cond := condition{Field: c.Field, Comparator: c.Comparator, Kind: c.Kind}
	if c.Kind == String {
		cond.Length = uint32(copy(cond.Value[:], c.Text))
		return cond
	}
	binary.LittleEndian.PutUint64(cond.Value[:], c.Number)
	cond.Length = 8
	return cond
}

// NewCondition builds the condition from its textual form. The value
// is numeric for the pid and object fields and the image name otherwise.
func NewCondition(field, op, value string) (Condition, error) {
	f, ok := ParseField(field)
	if !ok {
		return Condition{}, fmt.Errorf("unknown filter field %q", field)
	}
	cmp, ok := ParseComparator(op)
	if !ok {
		return Condition{}, fmt.Errorf("unknown filter operator %q", op)
	}
	c := Condition{Field: f, Comparator: cmp}
	if f == FieldImageName {
		c.Kind, c.Text = String, value
	} else {
		n, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return Condition{}, fmt.Errorf("%s expects a number: %v", f, err)
		}
		c.Kind, c.Number = Number, n
	}
	return c, c.validate()
}

// ProcessID matches the process with the given identifier.
func ProcessID(pid uint32) Condition {
	return Condition{Field: FieldProcessID, Comparator: Equal, Kind: Number, Number: uint64(pid)}
}

// ParentID matches processes spawned by the given parent.
func ParentID(pid uint32) Condition {
	return Condition{Field: FieldParentID, Comparator: Equal, Kind: Number, Number: uint64(pid)}
}

// ImageName matches processes by the image file name.
func ImageName(name string) Condition {
	return Condition{Field: FieldImageName, Comparator: Equal, Kind: String, Text: name}
}

// Process matches the process by its kernel object.
func Process(p introspect.Process) Condition {
	return Condition{Field: FieldProcessObject, Comparator: Equal, Kind: Number, Number: p.Object}
}

// condition is the kernel layout of the filter condition.
type condition struct {
	Field      Field
	Comparator Comparator
	Kind       ValueKind
	Length     uint32
	Value      [MaxValueSize]byte
}

// filterBuffer is the kernel layout of the filter.
type filterBuffer struct {
	Count      uint32
	Reserved   uint32
	Conditions [MaxConditions]condition
}

// Filter is the kernel-visible list of conditions the guard evaluates
// against the accessing process. Conditions are combined with logical AND.
type Filter struct {
	mu    sync.Mutex
	alloc *kmem.KernelAlloc[filterBuffer]
	conds []Condition
}

// NewFilter allocates the empty filter in kernel memory.
func NewFilter(io driver.IO) (*Filter, error) {
	alloc, err := kmem.NewKernelAlloc[filterBuffer](io)
	if err != nil {
		return nil, err
	}
	return &Filter{alloc: alloc}, nil
}

// Address returns the kernel address of the filter.
func (f *Filter) Address() uint64 { return f.alloc.Address() }

// Add appends the condition and publishes the filter to the kernel.
func (f *Filter) Add(c Condition) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid condition %s: %v", c, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conds) >= MaxConditions {
		return kerrors.ErrFilterFull
	}
	buf, err := f.alloc.Load()
	if err != nil {
		return err
	}
	buf.Conditions[len(f.conds)] = c.encode()
	buf.Count = uint32(len(f.conds) + 1)
	if err := f.alloc.Store(buf); err != nil {
		return err
	}
	f.conds = append(f.conds, c)
	return nil
}

// Conditions returns the filter conditions.
func (f *Filter) Conditions() []Condition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Condition(nil), f.conds...)
}

// Len returns the number of conditions.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conds)
}

// String returns the filter expression.
func (f *Filter) String() string {
	conds := f.Conditions()
	exprs := make([]string, len(conds))
	for i, c := range conds {
		exprs[i] = c.String()
	}
	return strings.Join(exprs, " and ")
}

// Close releases the filter memory. The filter must not be referenced by
// any registered guard.
func (f *Filter) Close() error { return f.alloc.Close() }
