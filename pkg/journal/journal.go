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

// Package journal persists interceptions, monitor notifications and callback
// diagnostics in the SQLite database. Records are queued by the dispatch
// workers and written in batches by a single writer goroutine.
package journal

import (
	"database/sql"
	"expvar"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rabbitstack/kguard/pkg/policy"
	log "github.com/sirupsen/logrus"
)

const (
	queueSize     = 4096
	batchSize     = 128
	flushInterval = time.Millisecond * 250
)

var (
	// recordsDropped counts records dropped because the queue was full
	recordsDropped = expvar.NewInt("journal.records.dropped")
	// recordsWritten counts records persisted in the database
	recordsWritten = expvar.NewInt("journal.records.written")
	// writeErrors counts failed batch writes
	writeErrors = expvar.NewInt("journal.write.errors")
)

// Kind designates the journal record type.
type Kind string

const (
	// Intercept is the interception answered by the guard callback.
	Intercept Kind = "intercept"
	// Monitor is the notification of the access the driver already handled.
	Monitor Kind = "monitor"
	// Diagnostic is the message produced by the guard callback.
	Diagnostic Kind = "diagnostic"
)

// Record is the journal entry.
type Record struct {
	ID          int64
	Timestamp   time.Time
	Kind        Kind
	Guard       uint64
	Region      uint64
	Bucket      int
	PID         uint64
	Process     string
	Address     uint64
	Access      policy.Access
	Action      policy.Action
	Severity    string
	Message     string
	Instruction string
}

// String returns the compact record representation.
func (r Record) String() string {
	return fmt.Sprintf("%s guard=%d pid=%d address=%#x access=%s action=%s", r.Kind, r.Guard, r.PID, r.Address, r.Access, r.Action)
}

// Journal is the SQLite backed interception journal.
type Journal struct {
	db      *sql.DB
	maxRows int
	records chan Record
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// Open opens or creates the journal database and starts the writer.
// Rows beyond maxRows are pruned oldest first. Zero disables pruning.
func Open(path string, maxRows int) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %v", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %v", err)
	}
	// sqlite allows the single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %v", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %v", err)
	}

	j := &Journal{
		db:      db,
		maxRows: maxRows,
		records: make(chan Record, queueSize),
		quit:    make(chan struct{}),
	}
	j.wg.Add(1)
	go j.write()

	return j, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp   DATETIME NOT NULL,
		kind        TEXT NOT NULL,
		guard       INTEGER NOT NULL,
		region      INTEGER,
		bucket      INTEGER,
		pid         INTEGER,
		process     TEXT,
		address     INTEGER,
		access      INTEGER,
		action      INTEGER,
		severity    TEXT,
		message     TEXT,
		instruction TEXT
	);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create records table: %v", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_guard ON records(guard);",
		"CREATE INDEX IF NOT EXISTS idx_pid ON records(pid);",
		"CREATE INDEX IF NOT EXISTS idx_timestamp ON records(timestamp);",
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %v", err)
		}
	}

	return nil
}

// Record queues the record for writing. It never blocks and
// reports false if the record was dropped.
func (j *Journal) Record(r Record) bool {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	select {
	case <-j.quit:
		recordsDropped.Add(1)
		return false
	default:
	}
	select {
	case j.records <- r:
		return true
	default:
		recordsDropped.Add(1)
		return false
	}
}

// Insert writes the record synchronously.
func (j *Journal) Insert(r Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return j.insert([]Record{r})
}

func (j *Journal) write() {
	defer j.wg.Done()
	tick := time.NewTicker(flushInterval)
	defer tick.Stop()

	batch := make([]Record, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.insert(batch); err != nil {
			writeErrors.Add(1)
			log.Warnf("unable to write %d journal records: %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case r := <-j.records:
			batch = append(batch, r)
			if len(batch) >= batchSize {
				flush()
			}
		case <-tick.C:
			flush()
		case <-j.quit:
			for {
				select {
				case r := <-j.records:
					batch = append(batch, r)
				default:
					flush()
					return
				}
			}
		}
	}
}

const insertQuery = `
	INSERT INTO records (
		timestamp, kind, guard, region, bucket, pid, process,
		address, access, action, severity, message, instruction
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (j *Journal) insert(records []Record) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(insertQuery)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		// high bit addresses are stored as signed integers
		_, err := stmt.Exec(
			r.Timestamp.UTC(),
			string(r.Kind),
			int64(r.Guard),
			int64(r.Region),
			r.Bucket,
			int64(r.PID),
			r.Process,
			int64(r.Address),
			uint32(r.Access),
			uint32(r.Action),
			r.Severity,
			r.Message,
			r.Instruction,
		)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	recordsWritten.Add(int64(len(records)))
	return j.prune()
}

func (j *Journal) prune() error {
	if j.maxRows <= 0 {
		return nil
	}
	_, err := j.db.Exec("DELETE FROM records WHERE id <= (SELECT MAX(id) FROM records) - ?", j.maxRows)
	return err
}

// Query filters journal records.
type Query struct {
	Kind  Kind
	Guard uint64
	PID   uint64
	Since time.Time
	Limit int
}

// Query returns the records matching the query, most recent first.
func (j *Journal) Query(q Query) ([]Record, error) {
	var (
		conds []string
		args  []any
	)
	if q.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.Guard != 0 {
		conds = append(conds, "guard = ?")
		args = append(args, int64(q.Guard))
	}
	if q.PID != 0 {
		conds = append(conds, "pid = ?")
		args = append(args, int64(q.PID))
	}
	if !q.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, q.Since.UTC())
	}

	query := "SELECT id, timestamp, kind, guard, region, bucket, pid, process, address, access, action, severity, message, instruction FROM records"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r                           Record
			kind                        string
			guard, region, pid, address int64
			access, action              uint32
		)
		err := rows.Scan(&r.ID, &r.Timestamp, &kind, &guard, &region, &r.Bucket, &pid,
			&r.Process, &address, &access, &action, &r.Severity, &r.Message, &r.Instruction)
		if err != nil {
			return nil, err
		}
		r.Kind = Kind(kind)
		r.Guard, r.Region, r.PID, r.Address = uint64(guard), uint64(region), uint64(pid), uint64(address)
		r.Access, r.Action = policy.Access(access), policy.Action(action)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count returns the number of records in the journal.
func (j *Journal) Count() (int, error) {
	var n int
	err := j.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&n)
	return n, err
}

// Close flushes queued records and closes the database.
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		close(j.quit)
		j.wg.Wait()
		err = j.db.Close()
	})
	return err
}
