// Package store persists finished research runs in Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/deepresearch/internal/research"
)

// ErrNotFound is returned when no run has the requested id.
var ErrNotFound = errors.New("run not found")

const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

type Store struct {
	DB     *sql.DB
	logger *log.Logger
}

// New wraps an open database handle.
func New(db *sql.DB, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(log.Writer(), "[STORE] ", log.LstdFlags)
	}
	return &Store{DB: db, logger: logger}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string, logger *log.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db, logger), nil
}

func (s *Store) Close() error { return s.DB.Close() }

// SaveRun inserts rec, replacing any earlier row with the same id.
func (s *Store) SaveRun(ctx context.Context, rec research.RunRecord) error {
	followUp, err := json.Marshal(nonNil(rec.FollowUp))
	if err != nil {
		return fmt.Errorf("encode follow up: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO research_runs (id, query, recipient, outcome, flags, brief, error, short_summary, report_markdown, report_html, follow_up, status_log, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
  outcome = EXCLUDED.outcome,
  flags = EXCLUDED.flags,
  brief = EXCLUDED.brief,
  error = EXCLUDED.error,
  short_summary = EXCLUDED.short_summary,
  report_markdown = EXCLUDED.report_markdown,
  report_html = EXCLUDED.report_html,
  follow_up = EXCLUDED.follow_up,
  status_log = EXCLUDED.status_log,
  finished_at = EXCLUDED.finished_at;
`,
		rec.ID, rec.Query, rec.Recipient, string(rec.Outcome), pq.Array(nonNil(rec.Flags)), rec.Brief, rec.Error,
		rec.ShortSummary, rec.ReportMarkdown, rec.ReportHTML, followUp, rec.Status, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	return nil
}

const selectRun = `
SELECT id, query, recipient, outcome, flags, brief, error, short_summary, report_markdown, report_html, follow_up, status_log, started_at, finished_at
FROM research_runs
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (research.RunRecord, error) {
	var (
		rec      research.RunRecord
		outcome  string
		flags    pq.StringArray
		followUp []byte
		finished sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.Query, &rec.Recipient, &outcome, &flags, &rec.Brief, &rec.Error,
		&rec.ShortSummary, &rec.ReportMarkdown, &rec.ReportHTML, &followUp, &rec.Status, &rec.StartedAt, &finished); err != nil {
		return research.RunRecord{}, err
	}
	rec.Outcome = research.Outcome(outcome)
	rec.Flags = []string(flags)
	if finished.Valid {
		rec.FinishedAt = finished.Time
	}
	if len(followUp) > 0 {
		if err := json.Unmarshal(followUp, &rec.FollowUp); err != nil {
			return research.RunRecord{}, fmt.Errorf("decode follow up: %w", err)
		}
	}
	return rec, nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, id string) (research.RunRecord, error) {
	rec, err := scanRun(s.DB.QueryRowContext(ctx, selectRun+"WHERE id=$1\n", id))
	if errors.Is(err, sql.ErrNoRows) {
		return research.RunRecord{}, ErrNotFound
	}
	if err != nil {
		return research.RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs first. HTML bodies are omitted.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]research.RunRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	rows, err := s.DB.QueryContext(ctx, selectRun+"ORDER BY started_at DESC\nLIMIT $1\n", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []research.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		rec.ReportHTML = ""
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneBefore deletes runs that finished before cutoff.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM research_runs WHERE finished_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Printf("pruned %d runs finished before %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
