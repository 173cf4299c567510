// Package institutional ingests quarterly 13F-HR filings into relational
// storage: institutions, filings, companies and holdings.
package institutional

import (
	"context"

	"github.com/insiderintel/holdings-sync/internal/model"
)

// Store persists institutions, filings, companies and holdings. Inserts that
// hit a unique key return db.ErrAlreadyExists.
type Store interface {
	// FilingExists reports whether a filing with the accession number is stored.
	FilingExists(ctx context.Context, accessionNumber string) (bool, error)

	// UpsertInstitution inserts or refreshes an institution by CIK. created is
	// true only when a new row was inserted.
	UpsertInstitution(ctx context.Context, inst model.Institution) (id int64, created bool, err error)

	// InsertFiling inserts a filing and returns its id.
	InsertFiling(ctx context.Context, f model.Filing) (int64, error)

	// CompanyByTicker returns the company with the ticker, or nil if none.
	CompanyByTicker(ctx context.Context, ticker string) (*model.Company, error)

	// CreateCompany inserts a company and returns its id.
	CreateCompany(ctx context.Context, c model.Company) (int64, error)

	// InsertHoldings writes holdings and returns how many rows were inserted.
	// Rows that already exist are skipped.
	InsertHoldings(ctx context.Context, holdings []model.Holding) (int64, error)

	Close() error
}
