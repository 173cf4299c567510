package institutional

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/insiderintel/holdings-sync/internal/db"
	"github.com/insiderintel/holdings-sync/internal/fetcher"
	"github.com/insiderintel/holdings-sync/internal/model"
)

// Parser fetches a filing and parses its holdings.
type Parser interface {
	Parse(ctx context.Context, meta model.FilingMeta) (*model.ParsedFiling, error)
}

// ProcessorConfig tunes per-filing processing.
type ProcessorConfig struct {
	// FetchDelay is slept before every filing fetch.
	FetchDelay time.Duration
	// BatchSize bounds the rows per holdings insert.
	BatchSize int
	// Notable lists institution name fragments tagged as hedge funds.
	Notable []string
}

// Processor ingests one filing at a time.
type Processor struct {
	store  Store
	parser Parser
	cfg    ProcessorConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewProcessor creates a Processor.
func NewProcessor(store Store, parser Parser, cfg ProcessorConfig) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Processor{store: store, parser: parser, cfg: cfg, sleep: fetcher.Sleep}
}

// Process ingests a filing reporting on q and records the outcome in sum.
// A returned error aborts only this filing.
func (p *Processor) Process(ctx context.Context, meta model.FilingMeta, q model.Quarter, sum *Summary) error {
	return p.process(ctx, ctx, meta, q, sum)
}

// process runs the rate-limit delay and fetch+parse under fetchCtx and the
// storage writes under ctx. A fetch cut short by fetchCtx fails before any
// row is written, so the filing is retried by a later run.
func (p *Processor) process(ctx, fetchCtx context.Context, meta model.FilingMeta, q model.Quarter, sum *Summary) error {
	log := zap.L().With(
		zap.String("component", "institutional.processor"),
		zap.String("accession", meta.AccessionNumber),
		zap.String("cik", meta.CIK),
	)

	exists, err := p.store.FilingExists(ctx, meta.AccessionNumber)
	if err != nil {
		return err
	}
	if exists {
		log.Debug("filing already ingested")
		sum.Skipped++
		return nil
	}

	if err := p.sleep(fetchCtx, p.cfg.FetchDelay); err != nil {
		return eris.Wrap(err, "institutional: rate limit wait")
	}

	parsed, err := p.parser.Parse(fetchCtx, meta)
	if err != nil {
		return eris.Wrap(err, "institutional: parse filing")
	}
	if len(parsed.Holdings) == 0 {
		log.Info("filing has no holdings, skipping")
		sum.Skipped++
		return nil
	}
	if parsed.TotalValue < 0 {
		return eris.Errorf("institutional: negative total value %d", parsed.TotalValue)
	}

	inst := model.Institution{
		CIK:         meta.CIK,
		Name:        meta.InstitutionName,
		AUMEstimate: &parsed.TotalValue,
	}
	if IsNotable(meta.InstitutionName, p.cfg.Notable) {
		kind := model.InstitutionTypeHedgeFund
		inst.InstitutionType = &kind
	}
	instID, created, err := p.store.UpsertInstitution(ctx, inst)
	if err != nil {
		return err
	}
	if created {
		sum.InstitutionsCreated++
	}

	reportDate := q.End()
	if meta.PeriodOfReport != nil {
		reportDate = *meta.PeriodOfReport
	}

	filingID, err := p.store.InsertFiling(ctx, model.Filing{
		InstitutionID:   instID,
		AccessionNumber: meta.AccessionNumber,
		ReportDate:      reportDate,
		FiledAt:         meta.FiledAt,
		TotalValue:      parsed.TotalValue,
	})
	if errors.Is(err, db.ErrAlreadyExists) {
		log.Debug("filing inserted concurrently, skipping")
		sum.Skipped++
		return nil
	}
	if err != nil {
		return err
	}
	sum.FilingsCreated++

	holdings := p.materialize(ctx, parsed, filingID, instID, reportDate, log)
	inserted := p.insertHoldings(ctx, meta.AccessionNumber, holdings, sum, log)

	log.Info("filing ingested",
		zap.String("institution", meta.InstitutionName),
		zap.Int("parsed", len(parsed.Holdings)),
		zap.Int64("inserted", inserted),
	)
	return nil
}

// materialize resolves companies for parsed holdings and builds rows. Holdings
// without a ticker or company are dropped. Holdings of the same company are
// merged so each filing has one row per company.
func (p *Processor) materialize(ctx context.Context, parsed *model.ParsedFiling, filingID, instID int64, reportDate time.Time, log *zap.Logger) []model.Holding {
	companies := make(map[string]int64)
	index := make(map[int64]int)
	var rows []model.Holding
	dropped := 0

	for _, h := range parsed.Holdings {
		ticker := model.NormalizeTicker(h.Ticker)
		if ticker == "" {
			dropped++
			continue
		}

		companyID, ok := companies[ticker]
		if !ok {
			id, err := p.resolveCompany(ctx, ticker, h.SecurityName)
			if err != nil || id == 0 {
				log.Warn("company unresolved, dropping holding", zap.String("ticker", ticker), zap.Error(err))
				dropped++
				continue
			}
			companies[ticker] = id
			companyID = id
		}

		if i, ok := index[companyID]; ok {
			rows[i].Shares += h.Shares
			rows[i].Value += h.Value
			continue
		}
		index[companyID] = len(rows)
		rows = append(rows, model.Holding{
			FilingID:      filingID,
			InstitutionID: instID,
			CompanyID:     companyID,
			ReportDate:    reportDate,
			Shares:        h.Shares,
			Value:         h.Value,
		})
	}

	for i := range rows {
		rows[i].PercentOfPortfolio = model.PercentOfPortfolio(rows[i].Value, parsed.TotalValue)
		rows[i].IsNewPosition = false
		rows[i].IsClosedPosition = false
	}

	if dropped > 0 {
		log.Debug("dropped holdings", zap.Int("count", dropped))
	}
	return rows
}

// resolveCompany returns the id of the company with ticker, creating it if
// needed. Losing a creation race to another writer falls back to a re-read.
func (p *Processor) resolveCompany(ctx context.Context, ticker, name string) (int64, error) {
	c, err := p.store.CompanyByTicker(ctx, ticker)
	if err != nil {
		return 0, err
	}
	if c != nil {
		return c.ID, nil
	}

	if name == "" {
		name = ticker
	}
	id, err := p.store.CreateCompany(ctx, model.Company{Ticker: ticker, Name: name})
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, db.ErrAlreadyExists) {
		return 0, err
	}

	c, err = p.store.CompanyByTicker(ctx, ticker)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, nil
	}
	return c.ID, nil
}

// insertHoldings writes rows in batches. A failed batch is recorded and the
// remaining batches still run.
func (p *Processor) insertHoldings(ctx context.Context, accession string, rows []model.Holding, sum *Summary, log *zap.Logger) int64 {
	var inserted int64
	for start := 0; start < len(rows); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(rows))
		n, err := p.store.InsertHoldings(ctx, rows[start:end])
		switch {
		case errors.Is(err, db.ErrAlreadyExists):
			log.Debug("holdings batch already present", zap.Int("offset", start))
		case err != nil:
			sum.AddError(fmt.Sprintf("%s: holdings batch at %d: %v", accession, start, err))
		default:
			inserted += n
		}
	}
	sum.HoldingsCreated += inserted
	return inserted
}
