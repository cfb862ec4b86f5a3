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

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rabbitstack/kguard/pkg/introspect"
	"github.com/rabbitstack/kguard/pkg/util/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	configFile = "config-file"
	guards     = "guards"
	offsets    = "offsets"
)

// Config stores configuration options for fine-tuning the behaviour of kguard.
type Config struct {
	// Device contains the settings of the driver device and its service.
	Device DeviceConfig `json:"device" yaml:"device"`
	// Partition stores the options applied to every created partition.
	Partition PartitionConfig `json:"partition" yaml:"partition"`
	// Guards contains guard definitions together with their regions, patches and filters.
	Guards []GuardConfig `json:"guards" yaml:"guards"`
	// Offsets overrides kernel structure field offsets. Keys are either
	// field names or module!field pairs.
	Offsets map[string]uint16 `json:"offsets" yaml:"offsets"`
	// Journal stores interception journal preferences.
	Journal JournalConfig `json:"journal" yaml:"journal"`
	// API stores global HTTP API preferences
	API APIConfig `json:"api" yaml:"api"`
	// Log contains log-specific configuration options
	Log log.Config `json:"logging" yaml:"logging"`

	flags *pflag.FlagSet
	viper *viper.Viper
	opts  *Options
}

// Options determines which config flags are toggled depending on the command type.
type Options struct {
	run      bool
	stats    bool
	service  bool
	inspect  bool
	validate bool
}

// Option is the type alias for the config option.
type Option func(*Options)

// WithRun determines the main command is executed.
func WithRun() Option {
	return func(o *Options) {
		o.run = true
	}
}

// WithStats determines the stats command is executed.
func WithStats() Option {
	return func(o *Options) {
		o.stats = true
	}
}

// WithService determines one of the service commands is executed.
func WithService() Option {
	return func(o *Options) {
		o.service = true
	}
}

// WithInspect determines one of the introspection commands is executed.
func WithInspect() Option {
	return func(o *Options) {
		o.inspect = true
	}
}

// WithValidate determines the validate command is executed.
func WithValidate() Option {
	return func(o *Options) {
		o.validate = true
	}
}

// NewWithOpts builds a new configuration store from a variety of sources such as configuration files,
// environment variables or command line flags.
func NewWithOpts(options ...Option) *Config {
	opts := &Options{}

	for _, opt := range options {
		opt(opts)
	}

	v := viper.New()
	v.SetEnvPrefix("kguard")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	c := &Config{
		viper: v,
		flags: new(pflag.FlagSet),
		opts:  opts,
	}
	c.addFlags()

	return c
}

// MustViperize adds the flag set to the Cobra command and binds them within the Viper flags.
func (c *Config) MustViperize(cmd *cobra.Command) {
	cmd.PersistentFlags().AddFlagSet(c.flags)
	if err := c.viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		panic(err)
	}
}

// TryLoadFile attempts to load the configuration file from specified path on the file system.
func (c *Config) TryLoadFile(file string) error {
	c.viper.SetConfigFile(file)
	return c.viper.ReadInConfig()
}

// File returns the config file path.
func (c *Config) File() string { return c.viper.GetString(configFile) }

// Init setups the configuration state from Viper.
func (c *Config) Init() error {
	c.Device.initFromViper(c.viper)
	if err := c.Partition.initFromViper(c.viper); err != nil {
		return err
	}
	c.Journal.initFromViper(c.viper)
	c.API.initFromViper(c.viper)
	c.Log.InitFromViper(c.viper)

	if err := decode(c.viper.Get(offsets), &c.Offsets); err != nil {
		return fmt.Errorf("invalid offsets: %v", err)
	}
	c.Guards = nil
	if err := decode(c.viper.Get(guards), &c.Guards); err != nil {
		return fmt.Errorf("invalid guards: %v", err)
	}
	var errs error
	for i, g := range c.Guards {
		if err := g.validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("guards[%d]: %v", i, err))
		}
	}
	return errs
}

// StaticOffsets returns the kernel structure offsets with the
// configured overrides applied on top of the built-in ones.
func (c *Config) StaticOffsets() introspect.StaticOffsets {
	o := make(introspect.StaticOffsets, len(introspect.DefaultOffsets)+len(c.Offsets))
	for k, v := range introspect.DefaultOffsets {
		o[k] = v
	}
	for k, v := range c.Offsets {
		o[k] = v
	}
	return o
}

// Validate ensures that all configuration options provided by user have the expected values. It returns
// a list of validation errors prefixed with the offending configuration property/flag.
func (c *Config) Validate() error {
	file := c.File()
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if err := ValidateBytes(filepath.Ext(file), b); err != nil {
			return err
		}
	}
	settings := c.viper.AllSettings()
	// offset keys contain dots and come out as nested maps
	delete(settings, offsets)
	valid, errs := validate(settings)
	if !valid || len(errs) > 0 {
		return fmt.Errorf("invalid config: %v", multierr.Combine(errs...))
	}
	return nil
}

// ValidateBytes checks the raw config file contents against the schema.
// The extension selects the decoder.
func ValidateBytes(ext string, b []byte) error {
	var (
		out any
		err error
	)
	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &out)
	case ".json":
		err = json.Unmarshal(b, &out)
	default:
		return fmt.Errorf("%s is not a supported config file extension", ext)
	}
	if err != nil {
		return fmt.Errorf("couldn't read the config file: %v", err)
	}
	valid, errs := validate(out)
	if !valid || len(errs) > 0 {
		return fmt.Errorf("invalid config: %v", multierr.Combine(errs...))
	}
	return nil
}

// DefaultConfigFile returns the config file path relative to the executable.
func DefaultConfigFile() string {
	exe, err := os.Executable()
	if err != nil {
		return filepath.Join(os.Getenv("PROGRAMFILES"), "kguard", "config", "kguard.yml")
	}
	return filepath.Join(filepath.Dir(exe), "..", "config", "kguard.yml")
}

func (c *Config) addFlags() {
	c.flags.String(configFile, DefaultConfigFile(), "Indicates the location of the configuration file")
	if c.opts.run || c.opts.service || c.opts.inspect || c.opts.validate {
		c.Device.addFlags(c.flags)
	}
	if c.opts.run || c.opts.validate {
		c.Partition.addFlags(c.flags)
	}
	if c.opts.run || c.opts.validate || c.opts.inspect {
		c.Journal.addFlags(c.flags)
	}
	if c.opts.run || c.opts.stats || c.opts.validate {
		c.API.addFlags(c.flags)
	}
	c.Log.AddFlags(c.flags)
}
