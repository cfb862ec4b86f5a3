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

// Package dispatch runs the bucket workers of the partition channel. Each
// bucket gets a dedicated worker pinned to its OS thread. The worker waits
// for the kernel to post the message, dispatches it and answers on the same
// bucket. Buckets never share state, so the only synchronization across
// workers is the callback registry.
package dispatch

import (
	"expvar"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
	"github.com/rabbitstack/kguard/pkg/channel"
	"github.com/rabbitstack/kguard/pkg/driver"
	"github.com/rabbitstack/kguard/pkg/policy"
	log "github.com/sirupsen/logrus"
)

var (
	// intercepted counts the dispatched interception messages
	intercepted = expvar.NewInt("dispatch.messages.intercepted")
	// asyncMessages counts the messages that didn't require the acknowledgment
	asyncMessages = expvar.NewInt("dispatch.messages.async")
	// monitored counts the monitor messages
	monitored = expvar.NewInt("dispatch.messages.monitored")
	// unknownMessages counts the messages of unrecognized kind
	unknownMessages = expvar.NewInt("dispatch.messages.unknown")
	// callbackPanics counts the callbacks that panicked
	callbackPanics = expvar.NewInt("dispatch.callback.panics")
	// workerFailures counts workers that exited because of the wait or signal failure
	workerFailures = expvar.NewMap("dispatch.worker.failures")
	// actions counts the actions answered to the kernel
	actions = expvar.NewMap("dispatch.actions")
)

// State is the bucket worker state.
type State uint32

const (
	// Idle means the worker hasn't been started yet.
	Idle State = iota
	// WaitingForKernel means the worker is blocked on the kernel event.
	WaitingForKernel
	// Decoding means the worker is reading the message header.
	Decoding
	// Dispatching means the callback is running.
	Dispatching
	// Responding means the worker is writing the response.
	Responding
	// Terminated means the worker exited.
	Terminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WaitingForKernel:
		return "waiting-for-kernel"
	case Decoding:
		return "decoding"
	case Dispatching:
		return "dispatching"
	case Responding:
		return "responding"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MonitorHandler consumes monitor messages. The view is only valid for the
// duration of the call.
type MonitorHandler func(b channel.Bucket, m channel.Monitor)

// Option customizes the engine.
type Option func(*Engine)

// WithFallback sets the callback invoked for guards without the registered callback.
func WithFallback(cb Callback) Option {
	return func(e *Engine) { e.fallback = cb }
}

// WithMonitor sets the monitor message handler.
func WithMonitor(h MonitorHandler) Option {
	return func(e *Engine) { e.monitor = h }
}

// WithSink sets the diagnostics sink. The engine doesn't close sinks it didn't create.
func WithSink(s *Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the log entry used by workers.
func WithLogger(l *log.Entry) Option {
	return func(e *Engine) { e.log = l }
}

// Engine owns the bucket workers.
type Engine struct {
	io       driver.IO
	buckets  []channel.Bucket
	registry *Registry
	fallback Callback
	monitor  MonitorHandler
	sink     *Sink
	ownSink  bool
	log      *log.Entry

	states []atomic.Uint32
	wg     sync.WaitGroup
	start  sync.Once

	mu      sync.Mutex
	alive   *bitset.BitSet
	faulted *bitset.BitSet
}

// New creates the engine over the channel buckets.
func New(io driver.IO, buckets []channel.Bucket, registry *Registry, opts ...Option) *Engine {
	e := &Engine{
		io:       io,
		buckets:  buckets,
		registry: registry,
		fallback: NewLogCallback(policy.Continue, DefaultLogRate, DefaultLogBurst, nil).Callback,
		monitor:  LogMonitor,
		log:      log.NewEntry(log.StandardLogger()),
		states:   make([]atomic.Uint32, len(buckets)),
		alive:    bitset.New(uint(len(buckets))),
		faulted:  bitset.New(uint(len(buckets))),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sink == nil {
		e.sink = NewSink(DefaultSinkSize)
		e.ownSink = true
	}
	return e
}

// Start spawns one worker per bucket. Subsequent calls are no-op.
func (e *Engine) Start() {
	e.start.Do(func() {
		for _, b := range e.buckets {
			e.mu.Lock()
			e.alive.Set(uint(b.Index()))
			e.mu.Unlock()
			e.wg.Add(1)
			go e.run(b)
		}
		e.log.Infof("started %d bucket workers", len(e.buckets))
	})
}

// Wait blocks until every worker exited.
func (e *Engine) Wait() {
	e.wg.Wait()
	if e.ownSink {
		e.sink.Close()
	}
}

// Buckets returns the number of buckets served by the engine.
func (e *Engine) Buckets() int { return len(e.buckets) }

// Alive returns the number of running workers.
func (e *Engine) Alive() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(e.alive.Count())
}

// Faulted returns the indices of buckets whose worker exited after the callback failure.
func (e *Engine) Faulted() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	var idx []int
	for i, ok := e.faulted.NextSet(0); ok; i, ok = e.faulted.NextSet(i + 1) {
		idx = append(idx, int(i))
	}
	return idx
}

// State returns the state of the bucket worker.
func (e *Engine) State(bucket int) State {
	if bucket < 0 || bucket >= len(e.states) {
		return Idle
	}
	return State(e.states[bucket].Load())
}

func (e *Engine) setState(bucket int, s State) { e.states[bucket].Store(uint32(s)) }

func (e *Engine) exit(bucket int, faulted bool) {
	e.setState(bucket, Terminated)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alive.Clear(uint(bucket))
	if faulted {
		e.faulted.Set(uint(bucket))
	}
}

// run is the bucket worker loop. The kernel event wait is the only point
// where the worker blocks.
func (e *Engine) run(b channel.Bucket) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer e.wg.Done()

	idx := b.Index()
	kernel, user := b.KernelEvent(), b.UserEvent()
	l := e.log.WithField("bucket", idx)

	for {
		e.setState(idx, WaitingForKernel)
		if err := e.io.Wait(kernel); err != nil {
			workerFailures.Add("wait", 1)
			l.Errorf("unable to wait for the kernel event: %v", err)
			e.exit(idx, false)
			return
		}

		e.setState(idx, Decoding)
		async := b.Async()
		if async {
			asyncMessages.Add(1)
		}

		switch kind := b.Kind(); kind {
		case channel.KindTerminate:
			l.Debug("received terminate message")
			if err := e.io.Signal(user); err != nil {
				l.Warnf("unable to acknowledge the terminate message: %v", err)
			}
			e.exit(idx, false)
			return

		case channel.KindIntercept:
			intercepted.Add(1)
			e.setState(idx, Dispatching)
			ic := b.Intercept()
			guard := ic.Guard()
			resp, ok := e.dispatch(idx, ic)
			e.setState(idx, Responding)
			action := resp.Action
			if action == 0 {
				action = policy.Continue
			}
			ic.SetAction(action)
			actions.Add(action.String(), 1)
			if !async && !e.ack(l, user) {
				e.exit(idx, false)
				return
			}
			if resp.Message != "" {
				e.sink.Send(Diagnostic{Text: resp.Message, Severity: resp.Severity, Guard: guard, Bucket: idx})
			}
			if !ok {
				l.Errorf("bucket worker stopped after the callback failure on guard %d", guard)
				e.exit(idx, true)
				return
			}

		case channel.KindMonitor:
			monitored.Add(1)
			e.setState(idx, Dispatching)
			m := b.Monitor()
			guard := m.Guard()
			err := e.observe(idx, b, m)
			e.setState(idx, Responding)
			if !async && !e.ack(l, user) {
				e.exit(idx, false)
				return
			}
			if err != nil {
				e.sink.Send(Diagnostic{Text: err.Error(), Severity: Error, Guard: guard, Bucket: idx})
				l.Errorf("bucket worker stopped after the monitor handler failure on guard %d", guard)
				e.exit(idx, true)
				return
			}

		default:
			unknownMessages.Add(1)
			l.Warnf("unknown message kind %s in message %d", kind, b.ID())
			e.setState(idx, Responding)
			if !async && !e.ack(l, user) {
				e.exit(idx, false)
				return
			}
		}
	}
}

func (e *Engine) ack(l *log.Entry, user uint64) bool {
	if err := e.io.Signal(user); err != nil {
		workerFailures.Add("signal", 1)
		l.Errorf("unable to signal the user event: %v", err)
		return false
	}
	return true
}

// dispatch runs the callback of the intercepting guard. Panics are
// contained within the bucket, and the access is let through.
func (e *Engine) dispatch(bucket int, ic channel.Intercept) (resp Response, ok bool) {
	guard := ic.Guard()
	cb, found := e.registry.Lookup(guard)
	if !found {
		cb = e.fallback
	}
	defer func() {
		if r := recover(); r != nil {
			callbackPanics.Add(1)
			e.log.WithField("bucket", bucket).Errorf("callback for guard %d panicked: %v\n%s", guard, r, debug.Stack())
			resp = Response{
				Message:  fmt.Sprintf("callback for guard %d failed: %v", guard, r),
				Severity: Error,
				Action:   policy.Continue,
			}
			ok = false
		}
	}()
	return cb(ic), true
}

// observe runs the monitor handler. Panics are contained within the bucket.
func (e *Engine) observe(bucket int, b channel.Bucket, m channel.Monitor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			callbackPanics.Add(1)
			e.log.WithField("bucket", bucket).Errorf("monitor handler for guard %d panicked: %v\n%s", m.Guard(), r, debug.Stack())
			err = fmt.Errorf("monitor handler for guard %d failed: %v", m.Guard(), r)
		}
	}()
	e.monitor(b, m)
	return nil
}

// LogMonitor is the default monitor handler. It logs the notification.
func LogMonitor(b channel.Bucket, m channel.Monitor) {
	log.WithFields(log.Fields{
		"bucket":  b.Index(),
		"guard":   m.Guard(),
		"region":  m.Region(),
		"pid":     m.PID(),
		"address": fmt.Sprintf("%#x", m.Address()),
		"access":  m.Access(),
		"action":  m.Action(),
	}).Info("watched memory accessed")
}
