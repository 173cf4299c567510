// Package ingest runs the 13F pipeline with its bookkeeping: the run log,
// metrics, and alerts.
package ingest

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/insiderintel/holdings-sync/internal/institutional"
	"github.com/insiderintel/holdings-sync/internal/model"
	"github.com/insiderintel/holdings-sync/internal/monitoring"
)

// ErrRunInProgress is returned when a run is requested while another one in
// this process has not finished.
var ErrRunInProgress = errors.New("ingest: run already in progress")

// Pipeline runs one ingestion for a quarter.
type Pipeline interface {
	Run(ctx context.Context, q model.Quarter) (*institutional.Summary, error)
}

// RunRecorder persists run outcomes.
type RunRecorder interface {
	Start(ctx context.Context, quarter string) (uuid.UUID, error)
	Complete(ctx context.Context, id uuid.UUID, summary any) error
	Fail(ctx context.Context, id uuid.UUID, summary any, runErr error) error
}

// Runner wraps a Pipeline with run bookkeeping.
type Runner struct {
	pipeline Pipeline
	runs     RunRecorder
	metrics  *monitoring.Metrics
	alerter  *monitoring.Alerter
	running  atomic.Bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithRunLog records every run.
func WithRunLog(runs RunRecorder) Option { return func(r *Runner) { r.runs = runs } }

// WithMetrics feeds every run summary into m.
func WithMetrics(m *monitoring.Metrics) Option { return func(r *Runner) { r.metrics = m } }

// WithAlerter evaluates every run for alerts.
func WithAlerter(a *monitoring.Alerter) Option { return func(r *Runner) { r.alerter = a } }

// New creates a Runner.
func New(p Pipeline, opts ...Option) *Runner {
	r := &Runner{pipeline: p}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the pipeline for q. Bookkeeping failures are logged and never
// change the outcome.
func (r *Runner) Run(ctx context.Context, q model.Quarter) (*institutional.Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)

	log := zap.L().With(zap.String("component", "ingest"), zap.Stringer("quarter", q))
	// Bookkeeping outlives a cancelled request.
	bg := context.WithoutCancel(ctx)

	var runID uuid.UUID
	if r.runs != nil {
		id, err := r.runs.Start(bg, q.String())
		if err != nil {
			log.Warn("run log start failed", zap.Error(err))
		} else {
			runID = id
			log = log.With(zap.Stringer("run_id", id))
		}
	}

	sum, runErr := r.pipeline.Run(ctx, q)

	if runErr != nil {
		log.Error("13F sync failed", zap.Error(runErr))
	}

	if r.runs != nil && runID != uuid.Nil {
		var err error
		if runErr != nil {
			err = r.runs.Fail(bg, runID, sum, runErr)
		} else {
			err = r.runs.Complete(bg, runID, sum)
		}
		if err != nil {
			log.Warn("run log update failed", zap.Error(err))
		}
	}

	if r.metrics != nil {
		r.metrics.Observe(sum, runErr)
	}

	if r.alerter != nil {
		alerts := r.alerter.EvaluateRun(monitoring.RunReport{Quarter: q.String(), Summary: sum, Err: runErr})
		if len(alerts) > 0 {
			r.alerter.SendAlerts(bg, alerts)
		}
	}

	return sum, runErr
}
