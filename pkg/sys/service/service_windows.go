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

package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

func open(name string) (*mgr.Mgr, *mgr.Service, error) {
	m, err := mgr.Connect()
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't connect to Windows Service Manager: %v", err)
	}
	s, err := m.OpenService(name)
	if err != nil {
		_ = m.Disconnect()
		if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
			return nil, nil, ErrNotInstalled
		}
		return nil, nil, err
	}
	return m, s, nil
}

// Install registers the kernel driver service with the demand start type.
func Install(c Config) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("couldn't connect to Windows Service Manager: %v", err)
	}
	defer func() {
		_ = m.Disconnect()
	}()
	s, err := m.OpenService(c.Name)
	if err == nil {
		_ = s.Close()
		return ErrAlreadyInstalled
	}
	s, err = m.CreateService(c.Name, c.Binary, mgr.Config{
		ServiceType:  windows.SERVICE_KERNEL_DRIVER,
		StartType:    mgr.StartManual,
		ErrorControl: mgr.ErrorNormal,
		DisplayName:  c.DisplayName,
		Description:  c.Description,
	})
	if err != nil {
		return fmt.Errorf("couldn't create %s service: %v", c.Name, err)
	}
	return s.Close()
}

// Remove deletes the driver service.
func Remove(name string) error {
	m, s, err := open(name)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
		_ = m.Disconnect()
	}()
	return s.Delete()
}

// Start loads the driver and waits until the service is running.
func Start(ctx context.Context, name string) error {
	m, s, err := open(name)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
		_ = m.Disconnect()
	}()
	if err := s.Start(); err != nil && !errors.Is(err, windows.ERROR_SERVICE_ALREADY_RUNNING) {
		return fmt.Errorf("could not start %s service: %v", name, err)
	}
	return waitFor(ctx, func() (State, error) { return query(s) }, Running)
}

// Stop unloads the driver and waits until the service is stopped.
func Stop(ctx context.Context, name string) error {
	m, s, err := open(name)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
		_ = m.Disconnect()
	}()
	if _, err := s.Control(svc.Stop); err != nil && !errors.Is(err, windows.ERROR_SERVICE_NOT_ACTIVE) {
		return fmt.Errorf("could not stop %s service: %v", name, err)
	}
	return waitFor(ctx, func() (State, error) { return query(s) }, Stopped)
}

// Query returns the current state of the driver service.
func Query(name string) (State, error) {
	m, s, err := open(name)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = s.Close()
		_ = m.Disconnect()
	}()
	return query(s)
}

func query(s *mgr.Service) (State, error) {
	status, err := s.Query()
	if err != nil {
		return 0, err
	}
	switch status.State {
	case svc.Stopped:
		return Stopped, nil
	case svc.StartPending:
		return StartPending, nil
	case svc.StopPending:
		return StopPending, nil
	case svc.Running:
		return Running, nil
	}
	return State(status.State), nil
}
