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

// Package partition manages the isolated monitoring contexts of the driver.
// The partition owns the device, the shared-memory channel and the bucket
// workers. Guards, regions and patches are created inside the partition and
// their kernel identifiers are only valid while the partition is alive.
package partition

import (
	"context"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	fsm "github.com/qmuntal/stateless"
	"github.com/rabbitstack/kguard/pkg/channel"
	"github.com/rabbitstack/kguard/pkg/dispatch"
	"github.com/rabbitstack/kguard/pkg/driver"
	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
	log "github.com/sirupsen/logrus"
)

var (
	stateCreated = fsm.State("created")
	stateRunning = fsm.State("running")
	stateClosing = fsm.State("closing")
	stateClosed  = fsm.State("closed")

	triggerStart = fsm.Trigger("start")
	triggerClose = fsm.Trigger("close")
	triggerDone  = fsm.Trigger("done")
)

// Opt configures the partition.
type Opt func(*opts)

type opts struct {
	table    ioctl.Table
	engine   []dispatch.Option
	settings map[Option]uint64
}

// WithTable sets the operation table of the opened device.
func WithTable(t ioctl.Table) Opt {
	return func(o *opts) { o.table = t }
}

// WithFallback sets the callback for guards without the registered callback.
func WithFallback(cb dispatch.Callback) Opt {
	return func(o *opts) { o.engine = append(o.engine, dispatch.WithFallback(cb)) }
}

// WithMonitor sets the handler of monitor messages.
func WithMonitor(h dispatch.MonitorHandler) Opt {
	return func(o *opts) { o.engine = append(o.engine, dispatch.WithMonitor(h)) }
}

// WithSink sets the diagnostics sink shared by bucket workers.
func WithSink(s *dispatch.Sink) Opt {
	return func(o *opts) { o.engine = append(o.engine, dispatch.WithSink(s)) }
}

// WithOption sets the partition option right after the partition is created.
func WithOption(opt Option, value uint64) Opt {
	return func(o *opts) { o.settings[opt] = value }
}

// Partition is the isolated monitoring context.
type Partition struct {
	io       driver.IO
	info     channel.Info
	registry *dispatch.Registry
	engine   *dispatch.Engine
	session  uuid.UUID
	log      *log.Entry

	mu    sync.Mutex
	state *fsm.StateMachine
	once  sync.Once
}

// Open opens the device at path and creates the partition over it. The
// partition owns the device and closes it when the partition is closed.
func Open(path string, o ...Opt) (*Partition, error) {
	cfg := newOpts(o)
	dev, err := driver.Open(path, cfg.table)
	if err != nil {
		return nil, err
	}
	p, err := New(dev, o...)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	return p, nil
}

func newOpts(o []Opt) *opts {
	cfg := &opts{table: ioctl.DefaultTable(), settings: make(map[Option]uint64)}
	for _, opt := range o {
		opt(cfg)
	}
	return cfg
}

// New creates the partition on the driver, slices the channel into buckets
// and starts one worker per bucket.
func New(io driver.IO, o ...Opt) (*Partition, error) {
	cfg := newOpts(o)
	var info channel.Info
	if err := driver.Request(io, ioctl.PartitionCreate, &info); err != nil {
		return nil, err
	}
	p := &Partition{
		io:       io,
		info:     info,
		registry: dispatch.NewRegistry(),
		session:  uuid.New(),
		state:    fsm.NewStateMachine(stateCreated),
	}
	p.log = log.WithFields(log.Fields{"session": p.session.String(), "partition": info.ID})
	p.configureFSM()

	view, err := io.View(info.Address, int(info.Size))
	if err != nil {
		p.delete()
		return nil, fmt.Errorf("unable to view channel of partition %d: %v", info.ID, err)
	}
	for opt, v := range cfg.settings {
		if err := p.SetOption(opt, v); err != nil {
			p.delete()
			return nil, err
		}
	}

	buckets := channel.Slice(view)
	p.engine = dispatch.New(io, buckets, p.registry, append(cfg.engine, dispatch.WithLogger(p.log))...)
	p.engine.Start()
	if err := p.state.Fire(triggerStart); err != nil {
		return nil, err
	}
	p.log.Infof("partition created with %d buckets over %s channel at %#x",
		len(buckets), humanize.IBytes(uint64(info.Size)), info.Address)
	return p, nil
}

func (p *Partition) configureFSM() {
	p.state.Configure(stateCreated).
		Permit(triggerStart, stateRunning).
		Permit(triggerClose, stateClosing)
	p.state.Configure(stateRunning).
		Permit(triggerClose, stateClosing)
	p.state.Configure(stateClosing).
		Permit(triggerDone, stateClosed)
	p.state.OnTransitioned(func(_ context.Context, t fsm.Transition) {
		p.log.Debugf("partition transitioned from %v to %v", t.Source, t.Destination)
	})
}

// ID returns the kernel identifier of the partition.
func (p *Partition) ID() uint64 { return p.info.ID }

// Session returns the session identifier that correlates partition logs.
func (p *Partition) Session() uuid.UUID { return p.session }

// Channel returns the shared-memory channel descriptor.
func (p *Partition) Channel() channel.Info { return p.info }

// IO returns the driver channel the partition was created on.
func (p *Partition) IO() driver.IO { return p.io }

// Engine returns the bucket dispatch engine.
func (p *Partition) Engine() *dispatch.Engine { return p.engine }

// State returns the lifecycle state name.
func (p *Partition) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprint(p.state.MustState())
}

// IsRunning determines if the partition is serving buckets.
func (p *Partition) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ok, _ := p.state.IsInState(stateRunning)
	return ok
}

// RegisterCallback installs the callback for the guard. The last
// registration for the guard wins.
func (p *Partition) RegisterCallback(guard uint64, cb dispatch.Callback) {
	p.registry.Register(guard, cb)
}

// UnregisterCallback removes the callback of the guard.
func (p *Partition) UnregisterCallback(guard uint64) {
	p.registry.Unregister(guard)
}

func (p *Partition) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	closing, _ := p.state.IsInState(stateClosing)
	closed, _ := p.state.IsInState(stateClosed)
	if closing || closed {
		return kerrors.ErrPartitionClosed
	}
	return nil
}

// delete removes the partition kernel-side. Failures are logged because
// they can't be acted upon.
func (p *Partition) delete() {
	if err := driver.Request(p.io, ioctl.PartitionDelete, nil, p.info.ID); err != nil {
		p.log.Warnf("unable to delete partition: %v", err)
	}
}

// Close deletes the partition, waits for every bucket worker to exit and
// closes the device. Close is idempotent.
func (p *Partition) Close() error {
	var err error
	p.once.Do(func() {
		p.mu.Lock()
		_ = p.state.Fire(triggerClose)
		p.mu.Unlock()

		p.delete()
		if p.engine != nil {
			p.engine.Wait()
		}
		err = p.io.Close()

		p.mu.Lock()
		_ = p.state.Fire(triggerDone)
		p.mu.Unlock()
		p.log.Info("partition closed")
	})
	return err
}
