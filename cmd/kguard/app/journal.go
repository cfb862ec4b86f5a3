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
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rabbitstack/kguard/cmd/kguard/common"
	"github.com/rabbitstack/kguard/pkg/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query journaled interceptions, monitor notifications and diagnostics",
	RunE:  queryJournal,
	Example: `
	# Show the last 20 interceptions raised in the calc.exe process
	kguard journal --kind=intercept --pid=4242 --limit=20

	# Show the diagnostics of the last hour
	kguard journal --kind=diagnostic --since=1h
	`,
}

var (
	journalKind  string
	journalGuard uint64
	journalPID   uint64
	journalSince time.Duration
	journalLimit int
)

func init() {
	inspectConfig.MustViperize(journalCmd)
	journalCmd.Flags().StringVar(&journalKind, "kind", "", "Kind of records to show. One of intercept, monitor or diagnostic")
	journalCmd.Flags().Uint64Var(&journalGuard, "guard", 0, "Shows only records of the guard identifier")
	journalCmd.Flags().Uint64Var(&journalPID, "pid", 0, "Shows only records of the process identifier")
	journalCmd.Flags().DurationVar(&journalSince, "since", 0, "Shows only records newer than the duration")
	journalCmd.Flags().IntVar(&journalLimit, "limit", 50, "Maximum number of records to show")
}

func queryJournal(cmd *cobra.Command, args []string) error {
	if err := common.Init(inspectConfig); err != nil {
		return err
	}
	kind := journal.Kind(journalKind)
	switch kind {
	case "", journal.Intercept, journal.Monitor, journal.Diagnostic:
	default:
		return fmt.Errorf("unknown record kind %q", journalKind)
	}

	j, err := journal.Open(inspectConfig.Journal.Path, inspectConfig.Journal.MaxRows)
	if err != nil {
		return err
	}
	defer j.Close()

	q := journal.Query{Kind: kind, Guard: journalGuard, PID: journalPID, Limit: journalLimit}
	if journalSince > 0 {
		q.Since = time.Now().Add(-journalSince)
	}
	records, err := j.Query(q)
	if err != nil {
		return err
	}

	t := common.NewTable(table.Row{"ID", "When", "Kind", "Guard", "PID", "Address", "Access", "Action", "Details"})
	for _, r := range records {
		details := r.Instruction
		if r.Kind == journal.Diagnostic {
			details = fmt.Sprintf("[%s] %s", r.Severity, r.Message)
		}
		t.AppendRow(table.Row{
			r.ID,
			humanize.Time(r.Timestamp),
			r.Kind,
			r.Guard,
			r.PID,
			fmt.Sprintf("%#x", r.Address),
			r.Access,
			r.Action,
			details,
		})
	}
	t.Render()
	return nil
}
