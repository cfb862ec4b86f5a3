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

package log

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	logLevel      = "logging.level"
	logFormatter  = "logging.formatter"
	logPath       = "logging.path"
	logStdout     = "logging.stdout"
	logMaxSize    = "logging.rotate.max-size"
	logMaxBackups = "logging.rotate.max-backups"
	logMaxAge     = "logging.rotate.max-age"
	logCompress   = "logging.rotate.compress"
)

// RotateConfig controls when log files are rotated and how many of them are kept.
type RotateConfig struct {
	// MaxSize is the maximum size in megabytes of the log file before it gets rotated.
	MaxSize int `json:"max-size" yaml:"max-size" mapstructure:"max-size"`
	// MaxBackups is the maximum number of rotated log files to retain.
	MaxBackups int `json:"max-backups" yaml:"max-backups" mapstructure:"max-backups"`
	// MaxAge is the maximum number of days to retain rotated log files.
	MaxAge int `json:"max-age" yaml:"max-age" mapstructure:"max-age"`
	// Compress determines if rotated log files are gzipped.
	Compress bool `json:"compress" yaml:"compress" mapstructure:"compress"`
}

// Config contains the settings of the logging system.
type Config struct {
	// Level is the minimum level of written log entries.
	Level string `json:"level" yaml:"level" mapstructure:"level"`
	// Formatter is the log line format (json|text).
	Formatter string `json:"formatter" yaml:"formatter" mapstructure:"formatter"`
	// Path is the directory where log files are stored.
	Path string `json:"path" yaml:"path" mapstructure:"path"`
	// Stdout indicates whether log lines are also written to standard output.
	Stdout bool `json:"stdout" yaml:"stdout" mapstructure:"stdout"`
	// Rotate is the log rotation policy.
	Rotate RotateConfig `json:"rotate" yaml:"rotate" mapstructure:"rotate"`
}

// InitFromViper initializes logging configuration from Viper.
func (c *Config) InitFromViper(v *viper.Viper) {
	c.Level = v.GetString(logLevel)
	c.Formatter = v.GetString(logFormatter)
	c.Path = v.GetString(logPath)
	c.Stdout = v.GetBool(logStdout)
	c.Rotate = RotateConfig{
		MaxSize:    v.GetInt(logMaxSize),
		MaxBackups: v.GetInt(logMaxBackups),
		MaxAge:     v.GetInt(logMaxAge),
		Compress:   v.GetBool(logCompress),
	}
}

// AddFlags registers persistent logging flags.
func (c *Config) AddFlags(flags *pflag.FlagSet) {
	flags.String(logLevel, "info", "Specifies the minimum allowed log level")
	flags.String(logFormatter, "text", "Represents the log formatter (json|text)")
	flags.String(logPath, "", "Specifies the directory where log files are stored")
	flags.Bool(logStdout, true, "Indicates whether log lines are written to standard output in addition to log files")
	flags.Int(logMaxSize, 50, "Specifies the maximum size in megabytes of the log file before it gets rotated")
	flags.Int(logMaxBackups, 10, "Specifies the maximum number of rotated log files to retain")
	flags.Int(logMaxAge, 0, "Specifies the maximum number of days to retain rotated log files. Rotated files are never removed by age by default")
	flags.Bool(logCompress, false, "Indicates whether rotated log files are compressed")
}
