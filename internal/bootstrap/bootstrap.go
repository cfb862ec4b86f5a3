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

// Package bootstrap wires the configuration into the running control plane:
// it opens the device, creates the partition, installs the configured guards
// and serves the runtime status.
package bootstrap

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rabbitstack/kguard/pkg/api"
	"github.com/rabbitstack/kguard/pkg/config"
	"github.com/rabbitstack/kguard/pkg/dispatch"
	"github.com/rabbitstack/kguard/pkg/driver"
	"github.com/rabbitstack/kguard/pkg/introspect"
	"github.com/rabbitstack/kguard/pkg/journal"
	"github.com/rabbitstack/kguard/pkg/partition"
	"github.com/rabbitstack/kguard/pkg/util/version"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// ErrAlreadyRunning signals a kguard process is already running in the system
var ErrAlreadyRunning = errors.New("an instance of kguard process is already running in the system")

// App centralizes the building blocks of the control plane: the device,
// the partition with its dispatch engine, installed guards, the journal
// and the API server.
type App struct {
	config  *config.Config
	opts    opts
	part    *partition.Partition
	guards  []*guardSet
	journal *journal.Journal
	sink    *dispatch.Sink
	walker  *introspect.Walker
	server  *api.Server
	drivers []introspect.Driver
	signals chan os.Signal
	stopped chan struct{}
}

// Option enables changing the behaviour of the bootstrap application.
type Option func(*opts)

type opts struct {
	installSignals bool
	io             driver.IO
	drivers        func() ([]introspect.Driver, error)
}

// WithSignals installs signal handlers.
func WithSignals() Option {
	return func(o *opts) {
		o.installSignals = true
	}
}

// WithIO makes the application use the given device instead of opening
// the configured device path.
func WithIO(io driver.IO) Option {
	return func(o *opts) {
		o.io = io
	}
}

// WithDrivers overrides the source of loaded kernel modules used to
// resolve driver regions.
func WithDrivers(fn func() ([]introspect.Driver, error)) Option {
	return func(o *opts) {
		o.drivers = fn
	}
}

// NewApp constructs a new bootstrap application with the specified configuration
// and a list of options. The configuration is passed from individual command work
// functions.
func NewApp(cfg *config.Config, options ...Option) (*App, error) {
	if err := InitConfigAndLogger(cfg); err != nil {
		return nil, err
	}
	o := opts{drivers: introspect.Drivers}
	for _, opt := range options {
		opt(&o)
	}
	app := &App{
		config:  cfg,
		opts:    o,
		stopped: make(chan struct{}, 1),
	}
	if o.installSignals {
		app.signals = make(chan os.Signal, 1)
		signal.Notify(app.signals, os.Interrupt, syscall.SIGTERM)
	}
	return app, nil
}

// Run opens the device, creates the partition and installs the configured
// guards. The API server is started last.
func (f *App) Run() (err error) {
	if f.opts.io == nil && !isSingleInstance() {
		return ErrAlreadyRunning
	}
	cfg := f.config

	log.Infof("bootstrapping with pid %d. Version: %s", os.Getpid(), version.Get())

	io := f.opts.io
	if io == nil {
		io, err = OpenDevice(cfg.Device)
		if err != nil {
			return err
		}
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, f.Shutdown())
			if f.part == nil {
				_ = io.Close()
			}
		}
	}()

	if cfg.Journal.Enabled {
		f.journal, err = journal.Open(cfg.Journal.Path, cfg.Journal.MaxRows)
		if err != nil {
			return err
		}
		log.Infof("interceptions are journaled to %s", cfg.Journal.Path)
	}

	f.walker, err = introspect.NewWalker(io, cfg.StaticOffsets())
	if err != nil {
		log.Warnf("process names won't be resolved: %v", err)
		f.walker = nil
	}

	var handlers []dispatch.Handler
	if f.journal != nil {
		handlers = append(handlers, f.journal.Handler())
	}
	f.sink = dispatch.NewSink(cfg.Partition.SinkSize, handlers...)
	fallback := dispatch.NewLogCallback(cfg.Partition.Callback.Action, cfg.Partition.Callback.Rate, cfg.Partition.Callback.Burst, f.resolver())
	popts := []partition.Opt{
		partition.WithSink(f.sink),
		partition.WithFallback(fallback.Callback),
		partition.WithOption(partition.OptionInterceptTimeout, uint64(cfg.Partition.InterceptTimeout.Milliseconds())),
	}
	if cfg.Partition.DefaultAction != 0 {
		popts = append(popts, partition.WithOption(partition.OptionDefaultAction, uint64(cfg.Partition.DefaultAction.Normalize())))
	}
	if f.journal != nil {
		popts = append(popts, partition.WithMonitor(f.journal.MonitorHandler(dispatch.LogMonitor)))
	}

	f.part, err = partition.New(io, popts...)
	if err != nil {
		return err
	}
	if cfg.Partition.DriverVersion != "" {
		if err := f.part.CheckDriverVersion(cfg.Partition.DriverVersion); err != nil {
			return err
		}
	}

	for _, gc := range cfg.Guards {
		if gc.IsDisabled() {
			log.Infof("%s guard is disabled", gc.Name)
			continue
		}
		gs, err := f.installGuard(gc)
		if err != nil {
			return err
		}
		f.guards = append(f.guards, gs)
	}

	f.server, err = api.StartServer(cfg.API, func() any { return f.Status() })
	return err
}

// Status is the runtime status of the control plane.
type Status struct {
	Partition uint64        `json:"partition"`
	Session   string        `json:"session"`
	State     string        `json:"state"`
	Driver    string        `json:"driver,omitempty"`
	Buckets   int           `json:"buckets"`
	Alive     int           `json:"alive"`
	Faulted   []int         `json:"faulted,omitempty"`
	Guards    []GuardStatus `json:"guards"`
	Uptime    string        `json:"uptime"`
}

var started = time.Now()

// Status returns the runtime status of the partition and installed guards.
func (f *App) Status() Status {
	st := Status{Uptime: time.Since(started).Round(time.Second).String(), Guards: make([]GuardStatus, 0, len(f.guards))}
	if p := f.part; p != nil {
		st.Partition = p.ID()
		st.Session = p.Session().String()
		st.State = p.State()
		st.Buckets = p.Engine().Buckets()
		st.Alive = p.Engine().Alive()
		st.Faulted = p.Engine().Faulted()
		if v, err := p.DriverVersion(); err == nil {
			st.Driver = v.String()
		}
	}
	for _, g := range f.guards {
		st.Guards = append(st.Guards, g.status())
	}
	return st
}

// Partition returns the partition created by the application.
func (f *App) Partition() *partition.Partition { return f.part }

// Server returns the API server.
func (f *App) Server() *api.Server { return f.server }

// Wait waits for the app to receive the termination signal.
func (f *App) Wait() {
	if f.signals != nil {
		select {
		case <-f.signals:
		case <-f.stopped:
		}
		return
	}
	<-f.stopped
}

// Stop unblocks Wait.
func (f *App) Stop() {
	select {
	case f.stopped <- struct{}{}:
	default:
	}
}

// Shutdown is responsible for tearing down everything gracefully. Guards
// are removed before the partition is closed since freeing their filters
// needs the device.
func (f *App) Shutdown() error {
	var errs error
	if f.server != nil {
		errs = multierr.Append(errs, f.server.Close())
		f.server = nil
	}
	for i := len(f.guards) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, f.guards[i].Close())
	}
	f.guards = nil
	if f.part != nil {
		errs = multierr.Append(errs, f.part.Close())
	}
	// workers are joined, so queued diagnostics can reach the journal
	if f.sink != nil {
		f.sink.Close()
		f.sink = nil
	}
	if f.journal != nil {
		errs = multierr.Append(errs, f.journal.Close())
	}
	if f.signals != nil {
		signal.Stop(f.signals)
	}
	return errs
}
