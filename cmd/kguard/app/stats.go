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

package app

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rabbitstack/kguard/cmd/kguard/common"
	"github.com/rabbitstack/kguard/pkg/api"
	"github.com/rabbitstack/kguard/pkg/config"
	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show runtime stats",
	RunE:  stats,
}

var statsConfig = config.NewWithOpts(config.WithStats())

// vars published by the runtime rather than kguard
var skipVars = map[string]bool{"cmdline": true, "memstats": true}

func init() {
	statsConfig.MustViperize(statsCmd)
}

func stats(cmd *cobra.Command, args []string) error {
	if err := common.Init(statsConfig); err != nil {
		return err
	}
	c := statsConfig.API
	vars, err := api.NewClient(c.Transport, c.Timeout).Vars()
	if err != nil {
		return kerrors.ErrHTTPServerUnavailable(c.Transport, err)
	}

	rows := make(map[string]string)
	for name, raw := range vars {
		if skipVars[name] {
			continue
		}
		flatten(name, raw, rows)
	}
	names := make([]string, 0, len(rows))
	for name := range rows {
		names = append(names, name)
	}
	sort.Strings(names)

	t := common.NewTable(table.Row{"Name", "Value"})
	for _, name := range names {
		t.AppendRow(table.Row{name, rows[name]})
	}
	t.Render()

	return nil
}

// flatten renders the expvar value. Map vars are expanded into one row
// per key.
func flatten(name string, raw json.RawMessage, rows map[string]string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err == nil {
			if len(m) == 0 {
				rows[name] = "0"
			}
			for k, v := range m {
				flatten(name+"."+k, v, rows)
			}
			return
		}
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			rows[name] = humanize.Comma(i)
			return
		}
		rows[name] = n.String()
		return
	}
	rows[name] = strings.Trim(string(raw), `"`)
}
