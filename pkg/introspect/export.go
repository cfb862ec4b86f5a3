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

package introspect

import (
	"expvar"
	"fmt"

	peparser "github.com/saferwall/pe"
	peparserlog "github.com/saferwall/pe/log"
	log "github.com/sirupsen/logrus"
)

// parserWarnings counts the warnings emitted while parsing driver images
var parserWarnings = expvar.NewMap("introspect.pe.parser.warnings")

// ExportNotFoundError is returned when the image doesn't export the routine.
type ExportNotFoundError struct {
	Image string
	Name  string
}

// Error returns the error message.
func (e *ExportNotFoundError) Error() string {
	return fmt.Sprintf("%s is not exported by %s", e.Name, e.Image)
}

// Export is the routine exported by the driver image.
type Export struct {
	Name string
	RVA  uint32
}

// Exports parses the export directory of the image at path.
func Exports(path string) ([]Export, error) {
	pe, err := peparser.New(path, &peparser.Options{
		DisableCertValidation:     true,
		OmitIATDirectory:          true,
		OmitSecurityDirectory:     true,
		OmitExceptionDirectory:    true,
		OmitTLSDirectory:          true,
		OmitCLRHeaderDirectory:    true,
		OmitCLRMetadata:           true,
		OmitDelayImportDirectory:  true,
		OmitBoundImportDirectory:  true,
		OmitArchitectureDirectory: true,
		OmitDebugDirectory:        true,
		OmitRelocDirectory:        true,
		OmitResourceDirectory:     true,
		OmitImportDirectory:       true,
		OmitLoadConfigDirectory:   true,
		OmitGlobalPtrDirectory:    true,
		Logger:                    &Logger{},
	})
	if err != nil {
		return nil, err
	}
	defer pe.Close()

	if err := pe.ParseDOSHeader(); err != nil {
		return nil, err
	}
	if err := pe.ParseNTHeader(); err != nil {
		return nil, err
	}
	if err := pe.ParseSectionHeader(); err != nil {
		return nil, err
	}
	if err := pe.ParseDataDirectories(); err != nil {
		return nil, err
	}
	exports := make([]Export, 0, len(pe.Export.Functions))
	for _, fn := range pe.Export.Functions {
		if fn.Name == "" {
			continue
		}
		exports = append(exports, Export{Name: fn.Name, RVA: fn.FunctionRVA})
	}
	return exports, nil
}

// ExportRVA returns the relative virtual address of the exported routine.
// Adding the RVA to the driver base yields the routine address.
func ExportRVA(path, name string) (uint32, error) {
	exports, err := Exports(path)
	if err != nil {
		return 0, err
	}
	for _, exp := range exports {
		if exp.Name == name {
			return exp.RVA, nil
		}
	}
	return 0, &ExportNotFoundError{Image: path, Name: name}
}

// Logger is the adapter for routing PE package logs to logrus.
type Logger struct{}

// Log writes the parser log entry.
func (l Logger) Log(level peparserlog.Level, keyvals ...interface{}) error {
	switch level {
	case peparserlog.LevelDebug:
		log.Debug(keyvals[1:]...)
	case peparserlog.LevelWarn:
		parserWarnings.Add(fmt.Sprintf("%s", keyvals[1:]), 1)
	case peparserlog.LevelError, peparserlog.LevelFatal:
		log.Error(keyvals[1:]...)
	default:
		log.Info(keyvals[1:]...)
	}
	return nil
}
