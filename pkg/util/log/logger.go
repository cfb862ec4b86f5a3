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

// Package log sets up the logrus standard logger. Entries are written to
// the rotated log file and optionally to standard output.
package log

import (
	"errors"
	"expvar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rabbitstack/kguard/pkg/util/log/rotate"
	fs "github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

// loggerErrors counts logger setup failures
var loggerErrors = expvar.NewMap("logger.errors")

// DefaultPath returns the logs directory relative to the executable.
func DefaultPath() string {
	exe, err := os.Executable()
	if err != nil {
		return filepath.Join(os.Getenv("PROGRAMDATA"), "kguard", "logs")
	}
	return filepath.Join(filepath.Dir(exe), "logs")
}

// InitFromConfig configures the standard logger. Log entries are written
// to the filename inside the configured logs directory.
func InitFromConfig(c Config, filename string) error {
	path := c.Path
	if path == "" {
		path = DefaultPath()
	}
	if filename == "" {
		return errors.New("log file name is empty")
	}
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return fmt.Errorf("unable to create the %s logs directory: %v", path, err)
	}
	file := filepath.Join(path, filename)

	var formatter logrus.Formatter
	switch c.Formatter {
	case "json":
		formatter = &logrus.JSONFormatter{}
	default:
		formatter = &logrus.TextFormatter{FullTimestamp: true}
	}
	logrus.SetFormatter(formatter)

	level := logrus.InfoLevel
	if c.Level != "" {
		var err error
		level, err = logrus.ParseLevel(c.Level)
		if err != nil {
			return err
		}
	}
	logrus.SetLevel(level)

	if !c.Stdout {
		logrus.SetOutput(io.Discard)
	}

	hook, err := rotate.NewHook(rotate.Config{
		Filename:   file,
		MaxSize:    c.Rotate.MaxSize,
		MaxBackups: c.Rotate.MaxBackups,
		MaxAge:     c.Rotate.MaxAge,
		Compress:   c.Rotate.Compress,
		Level:      level,
		Formatter:  formatter,
	})
	if err != nil {
		loggerErrors.Add(err.Error(), 1)
		// fall back to the plain file hook without rotation
		paths := make(fs.PathMap)
		for _, lvl := range logrus.AllLevels[:level+1] {
			paths[lvl] = file
		}
		logrus.AddHook(fs.NewHook(paths, formatter))
		logrus.Warnf("unable to initialize rotate file hook: %v", err)
		return nil
	}
	logrus.AddHook(hook)
	return nil
}
