package stepmetrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Schema contains the DDL for the step metrics table.
const Schema = `
CREATE TABLE IF NOT EXISTS step_metrics (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    step_id          TEXT NOT NULL,
    session_id       TEXT NOT NULL DEFAULT '',
    outcome          TEXT NOT NULL,
    winning_strategy TEXT NOT NULL DEFAULT '',
    recovery_method  TEXT NOT NULL DEFAULT '',
    verified         INTEGER NOT NULL DEFAULT 0,
    total_ms         INTEGER NOT NULL,
    detail           TEXT NOT NULL,
    created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_step_metrics_time ON step_metrics(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_step_metrics_session ON step_metrics(session_id);
`

// DefaultMaxRows bounds the retained metrics log; the oldest rows are
// trimmed first.
const DefaultMaxRows = 10000

// DBSink buffers records and flushes them to SQLite in batches. A full
// buffer drops the incoming record.
type DBSink struct {
	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	maxRows       int

	mu      sync.Mutex
	buffer  []*StepMetrics
	dropped int

	stop chan struct{}
	done chan struct{}
}

// NewDBSink starts a sink flushing to db. Zero values pick the
// defaults: buffer 100, flush every 5s, 10000 retained rows.
func NewDBSink(db *sql.DB, bufferSize int, flushInterval time.Duration) *DBSink {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	s := &DBSink{
		db:            db,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		maxRows:       DefaultMaxRows,
		buffer:        make([]*StepMetrics, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Emit queues a record. Non-blocking; drops when the buffer is full.
func (s *DBSink) Emit(m *StepMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) >= s.bufferSize {
		s.dropped++
		return
	}
	s.buffer = append(s.buffer, m)
}

// Dropped returns how many records were lost to buffer overflow.
func (s *DBSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Flush forces a synchronous flush, mainly for tests and shutdown.
func (s *DBSink) Flush() {
	s.mu.Lock()
	batch := s.buffer
	s.buffer = make([]*StepMetrics, 0, s.bufferSize)
	s.mu.Unlock()
	s.write(batch)
}

// Close flushes the remaining buffer and stops the background loop.
func (s *DBSink) Close() error {
	close(s.stop)
	<-s.done
	return nil
}

func (s *DBSink) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			s.Flush()
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}

func (s *DBSink) write(batch []*StepMetrics) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("stepmetrics: begin tx", "error", err)
		return
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO step_metrics
			(step_id, session_id, outcome, winning_strategy, recovery_method, verified, total_ms, detail, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		slog.Error("stepmetrics: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, m := range batch {
		detail, err := json.Marshal(m)
		if err != nil {
			slog.Error("stepmetrics: marshal", "error", err, "step_id", m.StepID)
			continue
		}
		verified := 0
		if m.Verification.Passed {
			verified = 1
		}
		if _, err := stmt.ExecContext(ctx,
			m.StepID, m.SessionID, m.Outcome, m.Resolution.WinningStrategy,
			m.Recovery.Method, verified, m.TotalMs, string(detail), m.CreatedAt,
		); err != nil {
			slog.Error("stepmetrics: insert", "error", err, "step_id", m.StepID)
		}
	}

	// Keep the log bounded, oldest rows out first.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM step_metrics WHERE id IN (
			SELECT id FROM step_metrics ORDER BY id ASC
			LIMIT MAX(0, (SELECT COUNT(*) FROM step_metrics) - ?)
		)`, s.maxRows); err != nil {
		slog.Error("stepmetrics: trim", "error", err)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("stepmetrics: commit", "error", err)
	}
}

// Recent returns the latest records, newest first.
func (s *DBSink) Recent(ctx context.Context, limit int) ([]*StepMetrics, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT detail FROM step_metrics ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("stepmetrics: query recent: %w", err)
	}
	defer rows.Close()

	var out []*StepMetrics
	for rows.Next() {
		var detail string
		if err := rows.Scan(&detail); err != nil {
			return nil, err
		}
		m := &StepMetrics{}
		if err := json.Unmarshal([]byte(detail), m); err != nil {
			return nil, fmt.Errorf("stepmetrics: decode detail: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Stats is the aggregate failure-pattern view over the metrics log.
type Stats struct {
	TotalSteps        int            `json:"total_steps"`
	ByOutcome         map[string]int `json:"by_outcome"`
	ByWinningStrategy map[string]int `json:"by_winning_strategy"`
	ByRecoveryMethod  map[string]int `json:"by_recovery_method"`
	VerifiedRate      float64        `json:"verified_rate"`
	AvgTotalMs        float64        `json:"avg_total_ms"`
}

// Aggregate computes step counts grouped by outcome, winning strategy
// and recovery method.
func (s *DBSink) Aggregate(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByOutcome:         make(map[string]int),
		ByWinningStrategy: make(map[string]int),
		ByRecoveryMethod:  make(map[string]int),
	}

	var verified int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(verified), 0), COALESCE(AVG(total_ms), 0)
		FROM step_metrics`).Scan(&st.TotalSteps, &verified, &st.AvgTotalMs)
	if err != nil {
		return nil, fmt.Errorf("stepmetrics: totals: %w", err)
	}
	if st.TotalSteps > 0 {
		st.VerifiedRate = float64(verified) / float64(st.TotalSteps)
	}

	for col, dest := range map[string]map[string]int{
		"outcome":          st.ByOutcome,
		"winning_strategy": st.ByWinningStrategy,
		"recovery_method":  st.ByRecoveryMethod,
	} {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT %s, COUNT(*) FROM step_metrics WHERE %s != '' GROUP BY %s`, col, col, col))
		if err != nil {
			return nil, fmt.Errorf("stepmetrics: group by %s: %w", col, err)
		}
		for rows.Next() {
			var key string
			var n int
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return nil, err
			}
			dest[key] = n
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return st, nil
}
