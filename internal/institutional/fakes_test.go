package institutional

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/insiderintel/holdings-sync/internal/db"
	"github.com/insiderintel/holdings-sync/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// memStore is an in-memory Store with the same uniqueness rules as the schema.
type memStore struct {
	mu sync.Mutex

	institutions map[string]*model.Institution
	filings      map[string]model.Filing
	companies    map[string]model.Company
	holdings     map[[2]int64]model.Holding
	nextID       int64

	// companyRace makes the first CreateCompany for a ticker lose to a
	// concurrent writer.
	companyRace map[string]bool
	// holdingsErr fails the n-th InsertHoldings call (1-based).
	holdingsErr     map[int]error
	holdingsCalls   int
	upsertErr       error
	insertFilingErr error
}

func newMemStore() *memStore {
	return &memStore{
		institutions: map[string]*model.Institution{},
		filings:      map[string]model.Filing{},
		companies:    map[string]model.Company{},
		holdings:     map[[2]int64]model.Holding{},
		companyRace:  map[string]bool{},
		holdingsErr:  map[int]error{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) FilingExists(_ context.Context, accession string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.filings[accession]
	return ok, nil
}

func (m *memStore) UpsertInstitution(_ context.Context, inst model.Institution) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return 0, false, m.upsertErr
	}
	if existing, ok := m.institutions[inst.CIK]; ok {
		existing.Name = inst.Name
		existing.InstitutionType = inst.InstitutionType
		existing.AUMEstimate = inst.AUMEstimate
		return existing.ID, false, nil
	}
	inst.ID = m.id()
	m.institutions[inst.CIK] = &inst
	return inst.ID, true, nil
}

func (m *memStore) InsertFiling(_ context.Context, f model.Filing) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertFilingErr != nil {
		return 0, m.insertFilingErr
	}
	if _, ok := m.filings[f.AccessionNumber]; ok {
		return 0, db.ErrAlreadyExists
	}
	f.ID = m.id()
	m.filings[f.AccessionNumber] = f
	return f.ID, nil
}

func (m *memStore) CompanyByTicker(_ context.Context, ticker string) (*model.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.companies[ticker]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *memStore) CreateCompany(_ context.Context, c model.Company) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.companyRace[c.Ticker] {
		delete(m.companyRace, c.Ticker)
		m.companies[c.Ticker] = model.Company{ID: m.id(), Ticker: c.Ticker, Name: "other writer"}
		return 0, db.ErrAlreadyExists
	}
	if _, ok := m.companies[c.Ticker]; ok {
		return 0, db.ErrAlreadyExists
	}
	c.ID = m.id()
	m.companies[c.Ticker] = c
	return c.ID, nil
}

func (m *memStore) InsertHoldings(_ context.Context, holdings []model.Holding) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holdingsCalls++
	if err := m.holdingsErr[m.holdingsCalls]; err != nil {
		return 0, err
	}
	var n int64
	for _, h := range holdings {
		key := [2]int64{h.FilingID, h.CompanyID}
		if _, ok := m.holdings[key]; ok {
			continue
		}
		m.holdings[key] = h
		n++
	}
	return n, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) holdingsFor(accession string) []model.Holding {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.filings[accession]
	var out []model.Holding
	for _, h := range m.holdings {
		if h.FilingID == f.ID {
			out = append(out, h)
		}
	}
	return out
}

// stubDiscoverer returns a fixed list.
type stubDiscoverer struct {
	filings []model.FilingMeta
	err     error
	limit   int
}

func (d *stubDiscoverer) Discover(_ context.Context, _ model.Quarter, maxCount int) ([]model.FilingMeta, error) {
	d.limit = maxCount
	return d.filings, d.err
}

// stubParser answers by accession number.
type stubParser struct {
	filings map[string]*model.ParsedFiling
	errs    map[string]error
	calls   []string
	onParse func()
	// hang lists accessions whose fetch only returns once ctx is done.
	hang map[string]bool
}

func (p *stubParser) Parse(ctx context.Context, meta model.FilingMeta) (*model.ParsedFiling, error) {
	p.calls = append(p.calls, meta.AccessionNumber)
	if p.onParse != nil {
		p.onParse()
	}
	if p.hang[meta.AccessionNumber] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := p.errs[meta.AccessionNumber]; err != nil {
		return nil, err
	}
	if f, ok := p.filings[meta.AccessionNumber]; ok {
		return f, nil
	}
	return &model.ParsedFiling{}, nil
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func noSleep(context.Context, time.Duration) error { return nil }

func meta(name, cik, accession string) model.FilingMeta {
	return model.FilingMeta{
		InstitutionName: name,
		CIK:             cik,
		AccessionNumber: accession,
		FormType:        "13F-HR",
		FiledAt:         time.Date(2024, 11, 14, 0, 0, 0, 0, time.UTC),
	}
}

func parsed(holdings ...model.ParsedHolding) *model.ParsedFiling {
	pf := &model.ParsedFiling{Holdings: holdings}
	for _, h := range holdings {
		pf.TotalValue += h.Value
	}
	return pf
}

var errBoom = errors.New("boom")

var q3 = model.Quarter{Year: 2024, Quarter: 3}
