// Package runlog records ingestion runs in the ingest_runs table.
package runlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/insiderintel/holdings-sync/internal/db"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// DefaultLimit is the number of runs Recent returns when no limit is given.
const DefaultLimit = 20

const maxLimit = 500

// Entry is a row of ingest_runs.
type Entry struct {
	ID          uuid.UUID       `json:"id"`
	Quarter     string          `json:"quarter"`
	Status      string          `json:"status"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Summary     json.RawMessage `json:"summary,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Log provides read/write access to ingest_runs.
type Log struct {
	pool db.Pool
}

// New creates a Log backed by pool.
func New(pool db.Pool) *Log {
	return &Log{pool: pool}
}

// Start records the beginning of a run for quarter and returns its id.
func (l *Log) Start(ctx context.Context, quarter string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := l.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, quarter, status, started_at) VALUES ($1, $2, $3, now())`,
		id, quarter, StatusRunning,
	)
	if err != nil {
		return uuid.Nil, eris.Wrapf(err, "runlog: start run for %s", quarter)
	}
	return id, nil
}

// Complete marks a run complete and stores its summary.
func (l *Log) Complete(ctx context.Context, id uuid.UUID, summary any) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "runlog: marshal summary")
	}
	_, err = l.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, completed_at = now(), summary = $2 WHERE id = $3`,
		StatusComplete, data, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %s", id)
	}
	return nil
}

// Fail marks a run failed with the error and whatever summary accumulated.
func (l *Log) Fail(ctx context.Context, id uuid.UUID, summary any, runErr error) error {
	var data []byte
	if summary != nil {
		var err error
		if data, err = json.Marshal(summary); err != nil {
			return eris.Wrap(err, "runlog: marshal summary")
		}
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := l.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, completed_at = now(), summary = $2, error = $3 WHERE id = $4`,
		StatusFailed, data, msg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %s", id)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, maxLimit)

	rows, err := l.pool.Query(ctx,
		`SELECT id, quarter, status, started_at, completed_at, summary, error
		 FROM ingest_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list recent")
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			summary []byte
			errStr  *string
		)
		if err := rows.Scan(&e.ID, &e.Quarter, &e.Status, &e.StartedAt, &e.CompletedAt, &summary, &errStr); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		if len(summary) > 0 {
			e.Summary = json.RawMessage(summary)
		}
		if errStr != nil {
			e.Error = *errStr
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "runlog: iterate runs")
}
