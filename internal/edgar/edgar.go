// Package edgar discovers 13F-HR filings on SEC EDGAR and parses their
// information tables into holdings.
package edgar

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/insiderintel/holdings-sync/internal/model"
)

// FormType13F is the only form ingested. Amendments (13F-HR/A) are skipped.
const FormType13F = "13F-HR"

// Discoverer lists 13F-HR filings for a quarter.
type Discoverer interface {
	Discover(ctx context.Context, q model.Quarter, maxCount int) ([]model.FilingMeta, error)
}

// dollarValueCutover is the first filing date on which 13F values are
// reported in dollars rather than thousands of dollars.
var dollarValueCutover = time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)

// filingWindow returns the date range in which 13F reports for q are filed:
// from the day after quarter end through the end of the following quarter,
// capped at now. ok is false when the window has not opened yet.
func filingWindow(q model.Quarter, now time.Time) (start, end time.Time, ok bool) {
	start = q.End().AddDate(0, 0, 1)
	end = q.Next().End()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if today.Before(end) {
		end = today
	}
	return start, end, !end.Before(start)
}

// parseDate parses an EDGAR YYYY-MM-DD date. Empty or malformed input returns nil.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

// trimCIK strips leading zeros for archive paths.
func trimCIK(cik string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(cik), "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

// padCIK renders a CIK as the canonical ten-digit string.
func padCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	if len(cik) >= 10 {
		return cik
	}
	return strings.Repeat("0", 10-len(cik)) + cik
}

// cleanFilerName removes the " (CIK ...)" and ticker suffixes EDGAR appends
// to display names.
func cleanFilerName(display string) string {
	name := display
	if i := strings.Index(name, "  ("); i >= 0 {
		name = name[:i]
	}
	if i := strings.Index(name, " (CIK "); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

// parseAmount parses an integer amount that may carry thousands separators
// or a trailing ".00".
func parseAmount(s string) (int64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		if strings.Trim(s[i+1:], "0") != "" {
			return 0, false
		}
		s = s[:i]
	}
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
