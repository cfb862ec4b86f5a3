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

// Package rotate provides a logrus hook that writes entries into a size-rotated log file.
package rotate

import (
	"errors"
	"fmt"
	"path"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// maxDepth is the number of stack frames inspected when resolving the log call site.
const maxDepth = 25

// Config is the configuration for the rotate file hook.
type Config struct {
	Filename   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
	Level      logrus.Level
	Formatter  logrus.Formatter
}

// Hook writes formatted log entries to the rotated file. Each entry
// is decorated with the source field pointing at the log call site.
type Hook struct {
	mu        sync.Mutex
	level     logrus.Level
	formatter logrus.Formatter
	w         *lumberjack.Logger
}

// NewHook builds a new rotate file hook.
func NewHook(c Config) (*Hook, error) {
	if c.Filename == "" {
		return nil, errors.New("rotate: log file name is required")
	}
	if c.Formatter == nil {
		c.Formatter = &logrus.TextFormatter{}
	}
	return &Hook{
		level:     c.Level,
		formatter: c.Formatter,
		w: &lumberjack.Logger{
			Filename:   c.Filename,
			MaxSize:    c.MaxSize,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAge,
			Compress:   c.Compress,
		},
	}, nil
}

// Levels returns all levels up to the configured severity.
func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels[:h.level+1]
}

// Fire formats the entry and appends it to the log file.
func (h *Hook) Fire(entry *logrus.Entry) error {
	e := entry.WithField("source", callSite())
	e.Level = entry.Level
	e.Message = entry.Message
	e.Time = entry.Time
	b, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(b)
	return err
}

// Rotate forces the rotation of the current log file.
func (h *Hook) Rotate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.w.Rotate()
}

// Close closes the underlying log file.
func (h *Hook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.w.Close()
}

// callSite walks the stack until the first frame outside logrus and
// renders it as dir/file.go:line.
func callSite() string {
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isLoggerFrame(frame.Function) {
			return fmt.Sprintf("%s:%d", shortFile(frame.File), frame.Line)
		}
		if !more {
			return ""
		}
	}
}

func isLoggerFrame(fn string) bool {
	return strings.Contains(fn, "sirupsen/logrus")
}

func shortFile(file string) string {
	dir, name := path.Split(file)
	return path.Join(path.Base(dir), name)
}
