package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/insiderintel/holdings-sync/internal/runlog"
)

// Snapshot summarizes recent ingestion runs.
type Snapshot struct {
	RunsTotal    int        `json:"runs_total"`
	RunsComplete int        `json:"runs_complete"`
	RunsFailed   int        `json:"runs_failed"`
	RunsRunning  int        `json:"runs_running"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
	CollectedAt  time.Time  `json:"collected_at"`
}

// RunLister abstracts the run log query used by the collector.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]runlog.Entry, error)
}

// Collector builds snapshots from the run log.
type Collector struct {
	runs RunLister
}

// NewCollector creates a new collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs}
}

// Collect summarizes the most recent limit runs.
func (c *Collector) Collect(ctx context.Context, limit int) (*Snapshot, error) {
	entries, err := c.runs.Recent(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect runs")
	}

	snap := &Snapshot{RunsTotal: len(entries), CollectedAt: time.Now().UTC()}
	for _, e := range entries {
		finished := e.StartedAt
		if e.CompletedAt != nil {
			finished = *e.CompletedAt
		}
		switch e.Status {
		case runlog.StatusComplete:
			snap.RunsComplete++
			if snap.LastSuccess == nil || finished.After(*snap.LastSuccess) {
				snap.LastSuccess = &finished
			}
		case runlog.StatusFailed:
			snap.RunsFailed++
			if snap.LastFailure == nil || finished.After(*snap.LastFailure) {
				snap.LastFailure = &finished
			}
		case runlog.StatusRunning:
			snap.RunsRunning++
		}
	}
	return snap, nil
}
