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
	"sync"

	log "github.com/sirupsen/logrus"
)

// DefaultSinkSize is the capacity of the diagnostics queue.
const DefaultSinkSize = 1024

// diagnosticsDropped counts diagnostics discarded because the queue was full
var diagnosticsDropped = expvar.NewInt("dispatch.diagnostics.dropped")

// Severity is the diagnostic severity. The zero value is Info.
type Severity uint8

const (
	// Info is the informational severity.
	Info Severity = iota
	// Debug is the verbose severity.
	Debug
	// Warning denotes suspicious accesses.
	Warning
	// Error denotes failures.
	Error
)

// Level returns the log level for the severity.
func (s Severity) Level() log.Level {
	switch s {
	case Debug:
		return log.DebugLevel
	case Warning:
		return log.WarnLevel
	case Error:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// String returns the severity name.
func (s Severity) String() string { return s.Level().String() }

// Diagnostic is the callback message forwarded out of the bucket worker.
type Diagnostic struct {
	Text     string
	Severity Severity
	Guard    uint64
	Bucket   int
}

// Handler consumes drained diagnostics.
type Handler func(Diagnostic)

// Sink is the bounded diagnostics queue. Bucket workers never block on
// the sink; when the queue is full the diagnostic is dropped and counted.
type Sink struct {
	ch       chan Diagnostic
	handlers []Handler
	done     chan struct{}
	once     sync.Once
}

// NewSink creates the sink with the queue of the given size and starts
// the goroutine that drains diagnostics into the log and the handlers.
func NewSink(size int, handlers ...Handler) *Sink {
	if size <= 0 {
		size = DefaultSinkSize
	}
	s := &Sink{
		ch:       make(chan Diagnostic, size),
		handlers: handlers,
		done:     make(chan struct{}),
	}
	go s.drain()
	return s
}

// Send enqueues the diagnostic. It returns false if the diagnostic was
// dropped. Send must not be called after Close.
func (s *Sink) Send(d Diagnostic) bool {
	select {
	case s.ch <- d:
		return true
	default:
		diagnosticsDropped.Add(1)
		return false
	}
}

// Close stops accepting diagnostics and waits until the queue is drained.
func (s *Sink) Close() {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
}

func (s *Sink) drain() {
	defer close(s.done)
	for d := range s.ch {
		log.WithFields(log.Fields{"guard": d.Guard, "bucket": d.Bucket}).Log(d.Severity.Level(), d.Text)
		for _, h := range s.handlers {
			h(d)
		}
	}
}
