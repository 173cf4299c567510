package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InstitutionTypeHedgeFund is the category assigned to filers on the notable list.
const InstitutionTypeHedgeFund = "Hedge Fund"

// Institution is an entity that files 13F reports, keyed by CIK.
type Institution struct {
	ID              int64     `json:"id"`
	CIK             string    `json:"cik"`
	Name            string    `json:"name"`
	InstitutionType *string   `json:"institution_type,omitempty"`
	AUMEstimate     *int64    `json:"aum_estimate,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Filing is one quarterly 13F report, unique by accession number.
type Filing struct {
	ID              int64     `json:"id"`
	InstitutionID   int64     `json:"institution_id"`
	AccessionNumber string    `json:"accession_number"`
	ReportDate      time.Time `json:"report_date"`
	FiledAt         time.Time `json:"filed_at"`
	TotalValue      int64     `json:"total_value"`
}

// Company is a publicly tracked issuer, unique by upper-cased ticker.
type Company struct {
	ID     int64  `json:"id"`
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
}

// Holding is an institution's position in a company as of a filing's report date.
type Holding struct {
	FilingID           int64               `json:"filing_id"`
	InstitutionID      int64               `json:"institution_id"`
	CompanyID          int64               `json:"company_id"`
	ReportDate         time.Time           `json:"report_date"`
	Shares             int64               `json:"shares"`
	Value              int64               `json:"value"`
	PercentOfPortfolio decimal.NullDecimal `json:"percent_of_portfolio"`
	IsNewPosition      bool                `json:"is_new_position"`
	IsClosedPosition   bool                `json:"is_closed_position"`
}

// NormalizeTicker trims and upper-cases a ticker symbol.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// PercentOfPortfolio returns value / total * 100 rounded to four places.
// The result is null when total is not positive.
func PercentOfPortfolio(value, total int64) decimal.NullDecimal {
	if total <= 0 {
		return decimal.NullDecimal{}
	}
	pct := decimal.NewFromInt(value).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(total), 4)
	return decimal.NewNullDecimal(pct)
}
