// SPDX-License-Identifier: MIT

// Package store keeps a SQLite ledger of pipeline runs and executions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"doa/internal/doa"
	applog "doa/internal/log"
)

// DefaultQueue is the number of executions buffered between the inference
// goroutine and the database writer.
const DefaultQueue = 256

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id     TEXT PRIMARY KEY,
		model_path TEXT,
		input_path TEXT,
		output_dir TEXT,
		runtime    TEXT,
		started    TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS executions (
		run_id      TEXT NOT NULL,
		attempt     INTEGER NOT NULL,
		result      INTEGER NOT NULL,
		started_ns  INTEGER NOT NULL,
		latency_ns  INTEGER NOT NULL,
		status      TEXT NOT NULL,
		error       TEXT,
		output_path TEXT,
		outputs     TEXT,
		PRIMARY KEY (run_id, attempt)
	);
`

// Record is one stored execution.
type Record struct {
	RunID      string
	Attempt    uint64
	Result     int
	Started    time.Time
	Latency    time.Duration
	Status     string
	Error      string
	OutputPath string
	Outputs    []doa.Output
}

// Ledger records executions. Report never blocks: when the queue is full the
// execution is dropped and counted.
type Ledger struct {
	db      *sql.DB
	wg      sync.WaitGroup
	dropped atomic.Uint64

	mu     sync.RWMutex // guards queue against Close
	queue  chan doa.Execution
	closed bool

	log *applog.Logger
}

var _ doa.Reporter = (*Ledger)(nil)

// Open creates or opens the ledger at path and starts its writer.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps in-memory databases shared and writes serialized.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}

	l := &Ledger{
		db:    db,
		queue: make(chan doa.Execution, DefaultQueue),
		log:   applog.Named("ledger"),
	}
	l.wg.Add(1)
	go l.writer()
	return l, nil
}

// BeginRun records the configuration of a run.
func (l *Ledger) BeginRun(ctx context.Context, runID string, cfg doa.RuntimeConfig) error {
	_, err := l.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO runs (run_id, model_path, input_path, output_dir, runtime) VALUES (?, ?, ?, ?, ?)",
		runID, cfg.ModelPath, cfg.InputPath, cfg.OutputDir, cfg.Target.String())
	return err
}

// Report queues e for the writer. Reports after Close are dropped.
func (l *Ledger) Report(e doa.Execution) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		return
	}
	select {
	case l.queue <- e:
	default:
		if l.dropped.Add(1) == 1 {
			l.log.Warnf("queue full, dropping executions")
		}
	}
}

// Dropped returns how many executions were not recorded.
func (l *Ledger) Dropped() uint64 { return l.dropped.Load() }

func (l *Ledger) writer() {
	defer l.wg.Done()
	for e := range l.queue {
		if err := l.insert(e); err != nil {
			l.log.Errorf("insert %s/%d: %v", e.RunID, e.Index, err)
		}
	}
}

func (l *Ledger) insert(e doa.Execution) error {
	var errText, outputs sql.NullString
	if e.Err != nil {
		errText = sql.NullString{String: e.Err.Error(), Valid: true}
	}
	if len(e.Outputs) > 0 {
		data, err := json.Marshal(e.Outputs)
		if err != nil {
			return err
		}
		outputs = sql.NullString{String: string(data), Valid: true}
	}
	_, err := l.db.Exec(`INSERT INTO executions
		(run_id, attempt, result, started_ns, latency_ns, status, error, output_path, outputs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, int64(e.Index), e.Result, e.Started.UnixNano(), int64(e.Latency),
		e.Status.String(), errText, e.OutputPath, outputs)
	return err
}

// Executions returns a run's executions in attempt order.
func (l *Ledger) Executions(ctx context.Context, runID string) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT attempt, result, started_ns, latency_ns, status, error, output_path, outputs
		FROM executions WHERE run_id = ? ORDER BY attempt`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r                   Record
			attempt, started    int64
			latency             int64
			errText, outputPath sql.NullString
			outputs             sql.NullString
		)
		if err := rows.Scan(&attempt, &r.Result, &started, &latency, &r.Status, &errText, &outputPath, &outputs); err != nil {
			return nil, err
		}
		r.RunID = runID
		r.Attempt = uint64(attempt)
		r.Started = time.Unix(0, started)
		r.Latency = time.Duration(latency)
		r.Error = errText.String
		r.OutputPath = outputPath.String
		if outputs.Valid {
			if err := json.Unmarshal([]byte(outputs.String), &r.Outputs); err != nil {
				return nil, fmt.Errorf("attempt %d outputs: %w", attempt, err)
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Runs returns the recorded run IDs, newest first.
func (l *Ledger) Runs(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT run_id FROM runs ORDER BY started DESC, rowid DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close drains the queue and closes the database. Safe to call twice.
func (l *Ledger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("closing ledger: %w", err)
	}
	return nil
}
