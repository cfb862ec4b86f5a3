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
	"sync"

	"github.com/rabbitstack/kguard/pkg/channel"
	"github.com/rabbitstack/kguard/pkg/policy"
)

// Callback decides the action for the intercepted access. The interception
// view is only valid for the duration of the call.
type Callback func(ic channel.Intercept) Response

// Response is the callback verdict. Non-empty messages are forwarded to
// the diagnostics sink with the given severity.
type Response struct {
	Message  string
	Severity Severity
	Action   policy.Action
}

// Continue is the response that lets the access proceed silently.
var Continue = Response{Action: policy.Continue}

// Registry maps guard identifiers to callbacks. Readers are the bucket
// workers, writers are guard owners. The last registration for the guard
// wins, and entries are only removed on explicit unregistration.
type Registry struct {
	mu        sync.RWMutex
	callbacks map[uint64]Callback
}

// NewRegistry creates an empty callback registry.
func NewRegistry() *Registry {
	return &Registry{callbacks: make(map[uint64]Callback)}
}

// Register installs the callback for the guard replacing any previous one.
func (r *Registry) Register(guard uint64, cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[guard] = cb
}

// Unregister removes the callback of the guard.
func (r *Registry) Unregister(guard uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.callbacks, guard)
}

// Lookup returns the callback registered for the guard.
func (r *Registry) Lookup(guard uint64) (Callback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.callbacks[guard]
	return cb, ok
}

// Len returns the number of registered callbacks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.callbacks)
}
