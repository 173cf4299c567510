package institutional

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insiderintel/holdings-sync/internal/model"
)

func newTestPipeline(st Store, d *stubDiscoverer, p *stubParser, cfg PipelineConfig) *Pipeline {
	proc := newTestProcessor(st, p, 50)
	if cfg.MaxErrors == 0 {
		cfg.MaxErrors = 10
	}
	return NewPipeline(d, proc, cfg)
}

func scenario() (*stubDiscoverer, *stubParser) {
	d := &stubDiscoverer{filings: []model.FilingMeta{
		meta("Acme Capital LLC", "0009999999", "0009999999-24-000001"),
		meta("Existing Advisors LP", "0008888888", "0008888888-24-000001"),
		meta("BERKSHIRE HATHAWAY INC", "0001067983", "0000950123-24-011775"),
	}}
	p := &stubParser{filings: map[string]*model.ParsedFiling{
		"0000950123-24-011775": parsed(
			model.ParsedHolding{SecurityName: "APPLE INC", CUSIP: "037833100", Ticker: "AAPL", Shares: 300, Value: 69900},
			model.ParsedHolding{SecurityName: "AMERICAN EXPRESS CO", CUSIP: "025816109", Ticker: "AXP", Shares: 150, Value: 41100},
		),
		"0009999999-24-000001": {},
	}}
	return d, p
}

func TestPipeline_Scenario(t *testing.T) {
	st := newMemStore()
	st.filings["0008888888-24-000001"] = model.Filing{ID: 500, AccessionNumber: "0008888888-24-000001"}
	d, p := scenario()

	pl := newTestPipeline(st, d, p, PipelineConfig{MaxFilings: 50, DiscoveryLimit: 500, TimeBudget: 55 * time.Second, Notable: []string{"BERKSHIRE HATHAWAY"}})
	sum, err := pl.Run(context.Background(), q3)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.FilingsFound)
	assert.Equal(t, 3, sum.FilingsProcessed)
	assert.Equal(t, 1, sum.FilingsCreated)
	assert.Equal(t, int64(2), sum.HoldingsCreated)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 1, sum.InstitutionsCreated)
	assert.Equal(t, []string{}, sum.Errors)
	assert.Equal(t, 500, d.limit)
	assert.Equal(t, "0000950123-24-011775", p.calls[0], "notable filer processed first")
	assert.False(t, sum.Timestamp.IsZero())
}

func TestPipeline_Idempotent(t *testing.T) {
	st := newMemStore()
	d, p := scenario()
	cfg := PipelineConfig{MaxFilings: 50, TimeBudget: 55 * time.Second}

	first, err := newTestPipeline(st, d, p, cfg).Run(context.Background(), q3)
	require.NoError(t, err)
	assert.Equal(t, 1, first.FilingsCreated)
	assert.Equal(t, int64(2), first.HoldingsCreated)
	holdings := len(st.holdings)

	second, err := newTestPipeline(st, d, p, cfg).Run(context.Background(), q3)
	require.NoError(t, err)
	assert.Zero(t, second.FilingsCreated)
	assert.Zero(t, second.HoldingsCreated)
	assert.Zero(t, second.InstitutionsCreated)
	assert.Equal(t, 3, second.Skipped)
	assert.Len(t, st.holdings, holdings)
	assert.Len(t, st.filings, 1)
}

func TestPipeline_DiscoveryFailureIsFatal(t *testing.T) {
	d := &stubDiscoverer{err: errBoom}
	p := &stubParser{}

	sum, err := newTestPipeline(newMemStore(), d, p, PipelineConfig{MaxFilings: 50}).Run(context.Background(), q3)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	require.NotNil(t, sum)
	assert.Zero(t, sum.FilingsProcessed)
	assert.Empty(t, p.calls)
}

func TestPipeline_TimeBoxAbort(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 2, 1, 6, 0, 0, 0, time.UTC)}
	d := &stubDiscoverer{filings: []model.FilingMeta{
		meta("A", "1", "acc-a"), meta("B", "2", "acc-b"), meta("C", "3", "acc-c"),
	}}
	p := &stubParser{onParse: func() { clock.Advance(30 * time.Second) }}

	pl := newTestPipeline(newMemStore(), d, p, PipelineConfig{MaxFilings: 50, TimeBudget: 55 * time.Second})
	pl.now = clock.Now

	sum, err := pl.Run(context.Background(), q3)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.FilingsFound)
	assert.Equal(t, 2, sum.FilingsProcessed)
	assert.Less(t, sum.FilingsProcessed, sum.FilingsFound)
	assert.Equal(t, int64(60000), sum.DurationMS)
}

func TestPipeline_SlowFilingCutAtBudget(t *testing.T) {
	const budget = 200 * time.Millisecond
	const grace = 2 * time.Second
	st := newMemStore()
	d := &stubDiscoverer{filings: []model.FilingMeta{
		meta("Slow Capital", "1", "acc-slow"), meta("Next Capital", "2", "acc-next"),
	}}
	p := &stubParser{hang: map[string]bool{"acc-slow": true}}

	start := time.Now()
	sum, err := newTestPipeline(st, d, p, PipelineConfig{MaxFilings: 50, TimeBudget: budget}).Run(context.Background(), q3)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), budget+grace)

	assert.Equal(t, 1, sum.FilingsProcessed, "budget spent on the slow filing")
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0], "acc-slow")
	assert.Zero(t, sum.FilingsCreated)
	assert.Empty(t, st.filings)
	assert.Equal(t, []string{"acc-slow"}, p.calls)
}

func TestPipeline_FailedFilingRetriedNextRun(t *testing.T) {
	st := newMemStore()
	d := &stubDiscoverer{filings: []model.FilingMeta{meta("A", "1", "acc-a")}}
	p := &stubParser{
		errs: map[string]error{"acc-a": errBoom},
		filings: map[string]*model.ParsedFiling{
			"acc-a": parsed(model.ParsedHolding{SecurityName: "APPLE INC", CUSIP: "037833100", Ticker: "AAPL", Shares: 1, Value: 5}),
		},
	}
	cfg := PipelineConfig{MaxFilings: 50, TimeBudget: 55 * time.Second}

	first, err := newTestPipeline(st, d, p, cfg).Run(context.Background(), q3)
	require.NoError(t, err)
	require.Len(t, first.Errors, 1)
	assert.Zero(t, first.FilingsCreated)
	assert.Empty(t, st.filings)

	p.errs = nil
	second, err := newTestPipeline(st, d, p, cfg).Run(context.Background(), q3)
	require.NoError(t, err)
	assert.Empty(t, second.Errors)
	assert.Equal(t, 1, second.FilingsCreated)
	assert.Equal(t, int64(1), second.HoldingsCreated)
	assert.Len(t, st.holdingsFor("acc-a"), 1)
}

func TestPipeline_PerFilingErrorsRecorded(t *testing.T) {
	d := &stubDiscoverer{filings: []model.FilingMeta{
		meta("A", "1", "acc-a"), meta("B", "2", "acc-b"),
	}}
	p := &stubParser{
		errs: map[string]error{"acc-a": errBoom},
		filings: map[string]*model.ParsedFiling{
			"acc-b": parsed(model.ParsedHolding{Ticker: "AAPL", Value: 5}),
		},
	}

	sum, err := newTestPipeline(newMemStore(), d, p, PipelineConfig{MaxFilings: 50}).Run(context.Background(), q3)
	require.NoError(t, err)
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0], "acc-a")
	assert.Contains(t, sum.Errors[0], "boom")
	assert.Equal(t, 1, sum.FilingsCreated)
}

func TestPipeline_MaxFilings(t *testing.T) {
	var filings []model.FilingMeta
	for _, acc := range []string{"a", "b", "c", "d"} {
		filings = append(filings, meta("F", acc, acc))
	}
	p := &stubParser{}

	sum, err := newTestPipeline(newMemStore(), &stubDiscoverer{filings: filings}, p, PipelineConfig{MaxFilings: 2}).Run(context.Background(), q3)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.FilingsFound)
	assert.Equal(t, 2, sum.FilingsProcessed)
}

func TestPipeline_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &stubDiscoverer{filings: []model.FilingMeta{meta("A", "1", "acc-a")}}

	sum, err := newTestPipeline(newMemStore(), d, &stubParser{}, PipelineConfig{MaxFilings: 50}).Run(ctx, q3)
	require.NoError(t, err)
	assert.Zero(t, sum.FilingsProcessed)
}
