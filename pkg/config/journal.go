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
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	journalEnabled = "journal.enabled"
	journalPath    = "journal.path"
	journalMaxRows = "journal.max-rows"
)

// JournalConfig stores interception journal preferences.
type JournalConfig struct {
	// Enabled indicates if interceptions are persisted in the journal.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Path is the location of the journal database.
	Path string `json:"path" yaml:"path"`
	// MaxRows is the number of rows kept in the journal. Older rows are pruned.
	MaxRows int `json:"max-rows" yaml:"max-rows"`
}

func (c *JournalConfig) initFromViper(v *viper.Viper) {
	c.Enabled = v.GetBool(journalEnabled)
	c.Path = v.GetString(journalPath)
	c.MaxRows = v.GetInt(journalMaxRows)
}

func (c *JournalConfig) addFlags(flags *pflag.FlagSet) {
	flags.Bool(journalEnabled, false, "Indicates if interceptions are persisted in the journal database")
	flags.String(journalPath, defaultJournalPath(), "Specifies the location of the journal database")
	flags.Int(journalMaxRows, 100000, "Specifies the number of journal rows retained. Older rows are pruned")
}

func defaultJournalPath() string {
	exe, err := os.Executable()
	if err != nil {
		return filepath.Join(os.Getenv("PROGRAMDATA"), "kguard", "journal.db")
	}
	return filepath.Join(filepath.Dir(exe), "..", "journal", "journal.db")
}
