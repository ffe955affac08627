// Package memory is the correction memory: confirmed selector fixes
// persisted as generalised rules and retrieved by similarity during
// recovery. A store that cannot open its database degrades to a no-op
// so the engine keeps resolving, just without learning.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hazyhaar/domheal/dbopen"
	"github.com/hazyhaar/domheal/idgen"
	"github.com/hazyhaar/domheal/locator"
)

// Validation states of an entry. Pending entries await human review and
// are never used for recovery.
const (
	StatusPending   = 0
	StatusConfirmed = 1
)

// DefaultMaxEntries bounds retained corrections; the least useful are
// evicted first when the cap is exceeded.
const DefaultMaxEntries = 200

// Entry is one stored correction.
type Entry struct {
	ID                string            `json:"id"`
	PageURL           string            `json:"page_url"`
	Domain            string            `json:"domain"`
	PageType          string            `json:"page_type,omitempty"`
	OriginalSelector  string            `json:"original_selector"`
	CorrectedSelector string            `json:"corrected_selector"`
	Signature         locator.Signature `json:"signature"`
	Pattern           Pattern           `json:"pattern"`
	SuccessCount      int               `json:"success_count"`
	FailureCount      int               `json:"failure_count"`
	Validated         int               `json:"validated"`
	CreatedAt         int64             `json:"created_at"`
}

func (e *Entry) successRate() float64 {
	total := e.SuccessCount + e.FailureCount
	if total == 0 {
		return 0
	}
	return float64(e.SuccessCount) / float64(total)
}

// Match is one retrieval hit with its ranking score.
type Match struct {
	Entry *Entry  `json:"entry"`
	Score float64 `json:"score"`
}

// Store is the correction memory handle. A nil DB means degraded mode:
// writes are dropped, reads return nothing, no errors.
type Store struct {
	DB         *sql.DB
	IDs        idgen.Generator
	MaxEntries int
}

// Open opens (or creates) the correction database at path.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("memory: open %s: %w", path, err)
	}
	return New(db), nil
}

// New wraps an already-opened database.
func New(db *sql.DB) *Store {
	return &Store{
		DB:         db,
		IDs:        idgen.Prefixed("corr_", idgen.Default),
		MaxEntries: DefaultMaxEntries,
	}
}

// Discard returns a degraded store that learns nothing and never
// errors. Used when persistence is unavailable.
func Discard() *Store {
	return &Store{IDs: idgen.Prefixed("corr_", idgen.Default)}
}

// Degraded reports whether the store is running without persistence.
func (s *Store) Degraded() bool { return s.DB == nil }

// Close closes the database if one is open.
func (s *Store) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Save stores a new correction. The generalised pattern is inferred
// from the selector pair when the caller did not set one, the domain
// from the page URL. New entries start pending unless pre-validated by
// the caller; saving also enforces the retention cap.
func (s *Store) Save(ctx context.Context, e *Entry) error {
	if s.DB == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = s.IDs()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	if e.Domain == "" {
		e.Domain = domainOf(e.PageURL)
	}
	if e.Pattern.Kind == "" {
		e.Pattern = InferPattern(e.OriginalSelector, e.CorrectedSelector)
	}

	sig, err := json.Marshal(e.Signature)
	if err != nil {
		return fmt.Errorf("memory: marshal signature: %w", err)
	}
	pat, err := json.Marshal(e.Pattern)
	if err != nil {
		return fmt.Errorf("memory: marshal pattern: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO corrections
			(id, page_url, domain, page_type, original_selector, corrected_selector,
			 signature, pattern, success_count, failure_count, validated, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.PageURL, e.Domain, e.PageType, e.OriginalSelector, e.CorrectedSelector,
		string(sig), string(pat), e.SuccessCount, e.FailureCount, e.Validated, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("memory: insert correction: %w", err)
	}
	return s.trim(ctx)
}

// Get retrieves one entry, (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	if s.DB == nil {
		return nil, nil
	}
	row := s.DB.QueryRowContext(ctx, selectCols+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// FindSimilar returns the confirmed entries most similar to the query,
// ranked by facet similarity plus a success-rate bonus. Entries whose
// facet score is zero are never returned.
func (s *Store) FindSimilar(ctx context.Context, q Query, limit int) ([]*Match, error) {
	if s.DB == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.DB.QueryContext(ctx, selectCols+` WHERE validated = ?`, StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("memory: query corrections: %w", err)
	}
	defer rows.Close()

	var matches []*Match
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		score := similarity(q, e)
		if score <= 0 {
			continue
		}
		matches = append(matches, &Match{Entry: e, Score: rank(score, e)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// ListPending returns entries awaiting human review, oldest first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]*Entry, error) {
	if s.DB == nil {
		return nil, nil
	}
	query := selectCols + ` WHERE validated = ? ORDER BY created_at ASC`
	args := []any{StatusPending}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: list pending: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Confirm marks a pending entry as human-validated, making it available
// to recovery. Confirming an already-resolved entry is a no-op.
func (s *Store) Confirm(ctx context.Context, id string) error {
	if s.DB == nil {
		return nil
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE corrections SET validated = ? WHERE id = ? AND validated = ?`,
		StatusConfirmed, id, StatusPending)
	if err != nil {
		return fmt.Errorf("memory: confirm %s: %w", id, err)
	}
	return nil
}

// Reject discards a pending entry without learning from it.
func (s *Store) Reject(ctx context.Context, id string) error {
	if s.DB == nil {
		return nil
	}
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM corrections WHERE id = ? AND validated = ?`, id, StatusPending)
	if err != nil {
		return fmt.Errorf("memory: reject %s: %w", id, err)
	}
	return nil
}

// RecordSuccess increments an entry's success counter after its rule
// healed a step.
func (s *Store) RecordSuccess(ctx context.Context, id string) error {
	if s.DB == nil {
		return nil
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE corrections SET success_count = success_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("memory: record success %s: %w", id, err)
	}
	return nil
}

// RecordFailure increments an entry's failure counter and prunes it if
// it has failed more than three times without ever helping.
func (s *Store) RecordFailure(ctx context.Context, id string) error {
	if s.DB == nil {
		return nil
	}
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE corrections SET failure_count = failure_count + 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("memory: record failure %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM corrections WHERE id = ? AND failure_count > 3 AND success_count = 0`, id); err != nil {
			return fmt.Errorf("memory: prune %s: %w", id, err)
		}
		return nil
	})
}

// Count returns the number of stored corrections.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.DB == nil {
		return 0, nil
	}
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM corrections`).Scan(&n)
	return n, err
}

// trim evicts entries beyond MaxEntries, least useful (lowest net
// success) and oldest first.
func (s *Store) trim(ctx context.Context) error {
	max := s.MaxEntries
	if max <= 0 {
		max = DefaultMaxEntries
	}
	_, err := s.DB.ExecContext(ctx, `
		DELETE FROM corrections WHERE id IN (
			SELECT id FROM corrections
			ORDER BY (success_count - failure_count) ASC, created_at ASC
			LIMIT MAX(0, (SELECT COUNT(*) FROM corrections) - ?)
		)`, max)
	if err != nil {
		return fmt.Errorf("memory: trim: %w", err)
	}
	return nil
}

const selectCols = `
	SELECT id, page_url, domain, page_type, original_selector, corrected_selector,
	       signature, pattern, success_count, failure_count, validated, created_at
	FROM corrections`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	e := &Entry{}
	var sig, pat string
	if err := row.Scan(
		&e.ID, &e.PageURL, &e.Domain, &e.PageType, &e.OriginalSelector, &e.CorrectedSelector,
		&sig, &pat, &e.SuccessCount, &e.FailureCount, &e.Validated, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sig), &e.Signature); err != nil {
		return nil, fmt.Errorf("memory: decode signature of %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(pat), &e.Pattern); err != nil {
		return nil, fmt.Errorf("memory: decode pattern of %s: %w", e.ID, err)
	}
	return e, nil
}
