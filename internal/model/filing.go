package model

import "time"

// FilingMeta is the lightweight record produced by filing discovery.
type FilingMeta struct {
	InstitutionName string     `json:"institution_name"`
	CIK             string     `json:"cik"`
	AccessionNumber string     `json:"accession_number"`
	FormType        string     `json:"form_type"`
	FiledAt         time.Time  `json:"filed_at"`
	PeriodOfReport  *time.Time `json:"period_of_report,omitempty"`
}

// ParsedHolding is one line item of a parsed information table.
type ParsedHolding struct {
	SecurityName string `json:"security_name"`
	CUSIP        string `json:"cusip"`
	Ticker       string `json:"ticker,omitempty"`
	Shares       int64  `json:"shares"`
	Value        int64  `json:"value"`
}

// ParsedFiling is the result of fetching and parsing a filing body.
type ParsedFiling struct {
	Holdings   []ParsedHolding `json:"holdings"`
	TotalValue int64           `json:"total_value"`
}
