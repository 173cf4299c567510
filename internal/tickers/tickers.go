// Package tickers maps CUSIPs reported in 13F information tables to exchange
// tickers.
package tickers

import (
	"context"
	"strings"
)

// Security is the listing a CUSIP resolves to.
type Security struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
}

// Resolver maps CUSIPs to securities. CUSIPs that cannot be mapped are
// absent from the result; that is not an error.
type Resolver interface {
	Resolve(ctx context.Context, cusips []string) (map[string]Security, error)
}

// NormalizeCUSIP trims and upper-cases a CUSIP and keeps the first nine
// characters. It returns "" for anything shorter.
func NormalizeCUSIP(cusip string) string {
	c := strings.ToUpper(strings.TrimSpace(cusip))
	if len(c) < 9 {
		return ""
	}
	return c[:9]
}

// dedupe returns the distinct non-empty CUSIPs in input order.
func dedupe(cusips []string) []string {
	seen := make(map[string]bool, len(cusips))
	out := make([]string, 0, len(cusips))
	for _, c := range cusips {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// missing returns the CUSIPs not present in found.
func missing(cusips []string, found map[string]Security) []string {
	var out []string
	for _, c := range cusips {
		if _, ok := found[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}
