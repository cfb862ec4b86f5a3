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
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rabbitstack/kguard/cmd/kguard/common"
	"github.com/rabbitstack/kguard/internal/bootstrap"
	"github.com/rabbitstack/kguard/pkg/api"
	"github.com/rabbitstack/kguard/pkg/config"
	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the partition and installed guards of the running instance",
	RunE:  status,
}

var statusConfig = config.NewWithOpts(config.WithStats())

func init() {
	statusConfig.MustViperize(statusCmd)
}

func status(cmd *cobra.Command, args []string) error {
	if err := common.Init(statusConfig); err != nil {
		return err
	}
	c := statusConfig.API
	var st bootstrap.Status
	if err := api.NewClient(c.Transport, c.Timeout).Status(&st); err != nil {
		return kerrors.ErrHTTPServerUnavailable(c.Transport, err)
	}

	fmt.Printf("Partition %d (%s) is %s. Uptime: %s\n", st.Partition, st.Session, st.State, st.Uptime)
	fmt.Printf("Driver: %s. Buckets: %d/%d alive\n", st.Driver, st.Alive, st.Buckets)
	if len(st.Faulted) > 0 {
		fmt.Printf("Faulted buckets: %v\n", st.Faulted)
	}

	t := common.NewTable(table.Row{"ID", "Name", "Active", "Regions", "Patches", "Filter"})
	for _, g := range st.Guards {
		filter := g.Filter
		if filter == "" {
			filter = "-"
		}
		t.AppendRow(table.Row{g.ID, g.Name, g.Active, g.Regions, g.Patches, filter})
	}
	t.Render()
	return nil
}
