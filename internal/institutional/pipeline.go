package institutional

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/insiderintel/holdings-sync/internal/edgar"
	"github.com/insiderintel/holdings-sync/internal/model"
)

// PipelineConfig bounds a run.
type PipelineConfig struct {
	// DiscoveryLimit caps how many filings discovery returns.
	DiscoveryLimit int
	// MaxFilings caps how many filings one run processes.
	MaxFilings int
	// TimeBudget stops the filing loop once exceeded.
	TimeBudget time.Duration
	// MaxErrors caps the error messages kept in the summary.
	MaxErrors int
	// Notable lists institution name fragments processed first.
	Notable []string
}

// Pipeline discovers filings for a quarter and ingests them one by one.
type Pipeline struct {
	discoverer edgar.Discoverer
	processor  *Processor
	cfg        PipelineConfig
	now        func() time.Time
}

// NewPipeline creates a Pipeline.
func NewPipeline(discoverer edgar.Discoverer, processor *Processor, cfg PipelineConfig) *Pipeline {
	return &Pipeline{discoverer: discoverer, processor: processor, cfg: cfg, now: time.Now}
}

// Run ingests 13F-HR filings reporting on q. Only a discovery failure is
// returned as an error, together with the partial summary. Per-filing
// failures are recorded in the summary.
func (p *Pipeline) Run(ctx context.Context, q model.Quarter) (*Summary, error) {
	log := zap.L().With(zap.String("component", "institutional.pipeline"), zap.Stringer("quarter", q))

	deadline := NewDeadline(p.cfg.TimeBudget, p.now)
	sum := NewSummary(p.cfg.MaxErrors)
	defer func() { sum.Finish(deadline.Start(), p.now()) }()

	log.Info("13F sync started")

	limit := p.cfg.DiscoveryLimit
	if limit <= 0 {
		limit = p.cfg.MaxFilings
	}
	found, err := p.discoverer.Discover(ctx, q, limit)
	if err != nil {
		return sum, eris.Wrap(err, "institutional: discover filings")
	}
	sum.FilingsFound = len(found)

	filings := Prioritize(found, p.cfg.Notable, p.cfg.MaxFilings)
	log.Info("filings discovered", zap.Int("found", len(found)), zap.Int("selected", len(filings)))

	for _, meta := range filings {
		if deadline.Exceeded() {
			log.Warn("time budget exhausted, leaving remaining filings for the next run",
				zap.Duration("elapsed", deadline.Elapsed()),
				zap.Int("remaining", len(filings)-sum.FilingsProcessed),
			)
			break
		}
		if ctx.Err() != nil {
			log.Warn("run cancelled", zap.Error(ctx.Err()))
			break
		}

		sum.FilingsProcessed++
		fetchCtx, cancel := deadline.Bound(ctx)
		err = p.processor.process(ctx, fetchCtx, meta, q, sum)
		cancel()
		if err != nil {
			sum.AddError(fmt.Sprintf("%s: %v", meta.AccessionNumber, err))
		}
	}

	log.Info("13F sync complete",
		zap.Int("processed", sum.FilingsProcessed),
		zap.Int("filings_created", sum.FilingsCreated),
		zap.Int64("holdings_created", sum.HoldingsCreated),
		zap.Int("skipped", sum.Skipped),
		zap.Int("errors", sum.ErrorCount()),
		zap.Duration("elapsed", deadline.Elapsed()),
	)
	return sum, nil
}
