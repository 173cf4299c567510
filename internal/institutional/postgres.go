package institutional

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/insiderintel/holdings-sync/internal/db"
	"github.com/insiderintel/holdings-sync/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var institutionUpsert = db.UpsertConfig{
	Table:        "institutions",
	Columns:      []string{"cik", "name", "institution_type", "aum_estimate", "updated_at"},
	ConflictKeys: []string{"cik"},
	UpdateCols:   []string{"name", "institution_type", "aum_estimate", "updated_at"},
	// xmax is zero only on rows this statement inserted.
	Returning: []string{"id", "(xmax = 0) AS inserted"},
}

var holdingsInsert = db.InsertConfig{
	Table: "institutional_holdings",
	Columns: []string{
		"filing_id", "institution_id", "company_id", "report_date", "shares", "value",
		"percent_of_portfolio", "is_new_position", "is_closed_position",
	},
	IgnoreConflicts: true,
}

const (
	filingExistsSQL    = `SELECT EXISTS (SELECT 1 FROM institutional_filings WHERE accession_number = $1)`
	insertFilingSQL    = `INSERT INTO institutional_filings (institution_id, accession_number, report_date, filed_at, total_value) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	companyByTickerSQL = `SELECT id, ticker, name FROM companies WHERE ticker = $1`
	createCompanySQL   = `INSERT INTO companies (ticker, name) VALUES ($1, $2) RETURNING id`
)

// NewPostgres connects a pool and returns a store over it.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 5
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying pool for migrations and the run log.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// Close releases the pool if the store owns it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// FilingExists implements Store.
func (s *PostgresStore) FilingExists(ctx context.Context, accessionNumber string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, filingExistsSQL, accessionNumber).Scan(&exists); err != nil {
		return false, eris.Wrapf(err, "postgres: filing exists %s", accessionNumber)
	}
	return exists, nil
}

// UpsertInstitution implements Store.
func (s *PostgresStore) UpsertInstitution(ctx context.Context, inst model.Institution) (int64, bool, error) {
	q, err := db.BuildUpsert(institutionUpsert)
	if err != nil {
		return 0, false, err
	}

	var (
		id       int64
		inserted bool
	)
	err = s.pool.QueryRow(ctx, q,
		inst.CIK, inst.Name, inst.InstitutionType, inst.AUMEstimate, time.Now().UTC(),
	).Scan(&id, &inserted)
	if err != nil {
		return 0, false, eris.Wrapf(err, "postgres: upsert institution %s", inst.CIK)
	}
	return id, inserted, nil
}

// InsertFiling implements Store.
func (s *PostgresStore) InsertFiling(ctx context.Context, f model.Filing) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, insertFilingSQL,
		f.InstitutionID, f.AccessionNumber, f.ReportDate, f.FiledAt, f.TotalValue,
	).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, db.ErrAlreadyExists
		}
		return 0, eris.Wrapf(err, "postgres: insert filing %s", f.AccessionNumber)
	}
	return id, nil
}

// CompanyByTicker implements Store.
func (s *PostgresStore) CompanyByTicker(ctx context.Context, ticker string) (*model.Company, error) {
	var c model.Company
	err := s.pool.QueryRow(ctx, companyByTickerSQL, ticker).Scan(&c.ID, &c.Ticker, &c.Name)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: company by ticker %s", ticker)
	}
	return &c, nil
}

// CreateCompany implements Store.
func (s *PostgresStore) CreateCompany(ctx context.Context, c model.Company) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, createCompanySQL, c.Ticker, c.Name).Scan(&id); err != nil {
		if db.IsUniqueViolation(err) {
			return 0, db.ErrAlreadyExists
		}
		return 0, eris.Wrapf(err, "postgres: create company %s", c.Ticker)
	}
	return id, nil
}

// InsertHoldings implements Store.
func (s *PostgresStore) InsertHoldings(ctx context.Context, holdings []model.Holding) (int64, error) {
	rows := make([][]any, len(holdings))
	for i, h := range holdings {
		rows[i] = []any{
			h.FilingID, h.InstitutionID, h.CompanyID, h.ReportDate, h.Shares, h.Value,
			h.PercentOfPortfolio, h.IsNewPosition, h.IsClosedPosition,
		}
	}
	n, err := db.InsertRows(ctx, s.pool, holdingsInsert, rows)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, db.ErrAlreadyExists
		}
		return 0, err
	}
	return n, nil
}
