package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/insiderintel/holdings-sync/internal/config"
	"github.com/insiderintel/holdings-sync/internal/institutional"
	"github.com/insiderintel/holdings-sync/internal/model"
	"github.com/insiderintel/holdings-sync/internal/monitoring"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type stubPipeline struct {
	sum   *institutional.Summary
	err   error
	block chan struct{}
	q     model.Quarter
}

func (p *stubPipeline) Run(_ context.Context, q model.Quarter) (*institutional.Summary, error) {
	p.q = q
	if p.block != nil {
		<-p.block
	}
	return p.sum, p.err
}

type recordedRun struct {
	quarter string
	status  string
	err     error
	summary any
}

type stubRecorder struct {
	runs     map[uuid.UUID]*recordedRun
	startErr error
}

func newStubRecorder() *stubRecorder {
	return &stubRecorder{runs: map[uuid.UUID]*recordedRun{}}
}

func (s *stubRecorder) Start(_ context.Context, quarter string) (uuid.UUID, error) {
	if s.startErr != nil {
		return uuid.Nil, s.startErr
	}
	id := uuid.New()
	s.runs[id] = &recordedRun{quarter: quarter, status: "running"}
	return id, nil
}

func (s *stubRecorder) Complete(_ context.Context, id uuid.UUID, summary any) error {
	s.runs[id].status = "complete"
	s.runs[id].summary = summary
	return nil
}

func (s *stubRecorder) Fail(_ context.Context, id uuid.UUID, summary any, runErr error) error {
	s.runs[id].status = "failed"
	s.runs[id].summary = summary
	s.runs[id].err = runErr
	return nil
}

func (s *stubRecorder) only(t *testing.T) *recordedRun {
	t.Helper()
	require.Len(t, s.runs, 1)
	for _, r := range s.runs {
		return r
	}
	return nil
}

var q4 = model.Quarter{Year: 2024, Quarter: 4}

func TestRunner_Success(t *testing.T) {
	sum := institutional.NewSummary(10)
	sum.FilingsCreated = 2
	p := &stubPipeline{sum: sum}
	rec := newStubRecorder()
	m := monitoring.NewMetrics()

	got, err := New(p, WithRunLog(rec), WithMetrics(m)).Run(context.Background(), q4)
	require.NoError(t, err)
	assert.Same(t, sum, got)
	assert.Equal(t, q4, p.q)

	run := rec.only(t)
	assert.Equal(t, "2024Q4", run.quarter)
	assert.Equal(t, "complete", run.status)
	assert.Same(t, sum, run.summary)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRunner_FailureRecordsAndAlerts(t *testing.T) {
	var hooks atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hooks.Add(1)
	}))
	defer srv.Close()

	boom := errors.New("edgar unreachable")
	p := &stubPipeline{sum: institutional.NewSummary(10), err: boom}
	rec := newStubRecorder()
	alerter := monitoring.NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL, ErrorThreshold: 5})

	_, err := New(p, WithRunLog(rec), WithAlerter(alerter)).Run(context.Background(), q4)
	assert.ErrorIs(t, err, boom)

	run := rec.only(t)
	assert.Equal(t, "failed", run.status)
	assert.ErrorIs(t, run.err, boom)
	assert.Equal(t, int32(1), hooks.Load())
}

func TestRunner_RunLogFailureDoesNotFailRun(t *testing.T) {
	rec := newStubRecorder()
	rec.startErr = errors.New("db down")
	p := &stubPipeline{sum: institutional.NewSummary(10)}

	_, err := New(p, WithRunLog(rec)).Run(context.Background(), q4)
	assert.NoError(t, err)
	assert.Empty(t, rec.runs)
}

func TestRunner_RejectsOverlappingRuns(t *testing.T) {
	p := &stubPipeline{sum: institutional.NewSummary(10), block: make(chan struct{})}
	r := New(p)

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), q4)
		done <- err
	}()

	require.Eventually(t, func() bool { return r.running.Load() }, 2*time.Second, 5*time.Millisecond)

	_, err := r.Run(context.Background(), q4)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(p.block)
	assert.NoError(t, <-done)

	_, err = r.Run(context.Background(), q4)
	assert.NoError(t, err, "runs are allowed again once the first finishes")
}
