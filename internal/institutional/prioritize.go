package institutional

import (
	"strings"

	"github.com/insiderintel/holdings-sync/internal/model"
)

// IsNotable reports whether name contains any of the fragments, ignoring case.
func IsNotable(name string, notable []string) bool {
	upper := strings.ToUpper(name)
	for _, frag := range notable {
		frag = strings.ToUpper(strings.TrimSpace(frag))
		if frag != "" && strings.Contains(upper, frag) {
			return true
		}
	}
	return false
}

// Prioritize moves filings from notable institutions ahead of the rest,
// keeping input order within each group, and truncates to max. A max of zero
// or less means no limit.
func Prioritize(filings []model.FilingMeta, notable []string, max int) []model.FilingMeta {
	out := make([]model.FilingMeta, 0, len(filings))
	var rest []model.FilingMeta
	for _, f := range filings {
		if IsNotable(f.InstitutionName, notable) {
			out = append(out, f)
		} else {
			rest = append(rest, f)
		}
	}
	out = append(out, rest...)

	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
