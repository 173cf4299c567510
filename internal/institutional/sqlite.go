package institutional

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/insiderintel/holdings-sync/internal/db"
	"github.com/insiderintel/holdings-sync/internal/model"
)

const sqliteDateLayout = "2006-01-02"

// SQLiteStore implements Store using modernc.org/sqlite, for single-node
// deployments and local runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS institutions (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	cik              TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL,
	institution_type TEXT,
	aum_estimate     INTEGER,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS institutional_filings (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	institution_id   INTEGER NOT NULL REFERENCES institutions(id) ON DELETE CASCADE,
	accession_number TEXT NOT NULL UNIQUE,
	report_date      TEXT NOT NULL,
	filed_at         DATETIME NOT NULL,
	total_value      INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS companies (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ticker     TEXT NOT NULL UNIQUE CHECK (ticker = upper(ticker)),
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS institutional_holdings (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	filing_id            INTEGER NOT NULL REFERENCES institutional_filings(id) ON DELETE CASCADE,
	institution_id       INTEGER NOT NULL REFERENCES institutions(id) ON DELETE CASCADE,
	company_id           INTEGER NOT NULL REFERENCES companies(id),
	report_date          TEXT NOT NULL,
	shares               INTEGER NOT NULL DEFAULT 0,
	value                INTEGER NOT NULL DEFAULT 0,
	percent_of_portfolio TEXT,
	is_new_position      INTEGER NOT NULL DEFAULT 0,
	is_closed_position   INTEGER NOT NULL DEFAULT 0,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (filing_id, company_id)
);

CREATE INDEX IF NOT EXISTS idx_institutional_holdings_company ON institutional_holdings(company_id, report_date);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// FilingExists implements Store.
func (s *SQLiteStore) FilingExists(ctx context.Context, accessionNumber string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM institutional_filings WHERE accession_number = ?`, accessionNumber,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: filing exists %s", accessionNumber)
	}
	return n > 0, nil
}

// UpsertInstitution implements Store.
func (s *SQLiteStore) UpsertInstitution(ctx context.Context, inst model.Institution) (int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	var existing int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM institutions WHERE cik = ?`, inst.CIK).Scan(&existing)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return 0, false, eris.Wrapf(err, "sqlite: find institution %s", inst.CIK)
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO institutions (cik, name, institution_type, aum_estimate, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (cik) DO UPDATE SET
			name = excluded.name,
			institution_type = excluded.institution_type,
			aum_estimate = excluded.aum_estimate,
			updated_at = excluded.updated_at
		RETURNING id`,
		inst.CIK, inst.Name, inst.InstitutionType, inst.AUMEstimate, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, false, eris.Wrapf(err, "sqlite: upsert institution %s", inst.CIK)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, eris.Wrap(err, "sqlite: commit institution")
	}
	return id, created, nil
}

// InsertFiling implements Store.
func (s *SQLiteStore) InsertFiling(ctx context.Context, f model.Filing) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO institutional_filings (institution_id, accession_number, report_date, filed_at, total_value) VALUES (?, ?, ?, ?, ?)`,
		f.InstitutionID, f.AccessionNumber, f.ReportDate.Format(sqliteDateLayout), f.FiledAt.UTC(), f.TotalValue,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, db.ErrAlreadyExists
		}
		return 0, eris.Wrapf(err, "sqlite: insert filing %s", f.AccessionNumber)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: filing id")
}

// CompanyByTicker implements Store.
func (s *SQLiteStore) CompanyByTicker(ctx context.Context, ticker string) (*model.Company, error) {
	var c model.Company
	err := s.db.QueryRowContext(ctx,
		`SELECT id, ticker, name FROM companies WHERE ticker = ?`, ticker,
	).Scan(&c.ID, &c.Ticker, &c.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: company by ticker %s", ticker)
	}
	return &c, nil
}

// CreateCompany implements Store.
func (s *SQLiteStore) CreateCompany(ctx context.Context, c model.Company) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO companies (ticker, name) VALUES (?, ?)`, c.Ticker, c.Name)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, db.ErrAlreadyExists
		}
		return 0, eris.Wrapf(err, "sqlite: create company %s", c.Ticker)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: company id")
}

// InsertHoldings implements Store.
func (s *SQLiteStore) InsertHoldings(ctx context.Context, holdings []model.Holding) (int64, error) {
	if len(holdings) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO institutional_holdings
			(filing_id, institution_id, company_id, report_date, shares, value,
			 percent_of_portfolio, is_new_position, is_closed_position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare holdings insert")
	}
	defer stmt.Close() //nolint:errcheck

	var total int64
	for _, h := range holdings {
		res, err := stmt.ExecContext(ctx,
			h.FilingID, h.InstitutionID, h.CompanyID, h.ReportDate.Format(sqliteDateLayout),
			h.Shares, h.Value, h.PercentOfPortfolio, h.IsNewPosition, h.IsClosedPosition,
		)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: insert holding")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: holdings rows affected")
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit holdings")
	}
	return total, nil
}

// HoldingCount returns the number of holdings stored for a filing.
func (s *SQLiteStore) HoldingCount(ctx context.Context, accessionNumber string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM institutional_holdings h
		JOIN institutional_filings f ON f.id = h.filing_id
		WHERE f.accession_number = ?`, strings.TrimSpace(accessionNumber),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: holding count")
}
