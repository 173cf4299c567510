package tickers

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/insiderintel/holdings-sync/internal/model"
)

// LoadOverrides reads a YAML file of CUSIP to security entries:
//
//	037833100: {ticker: AAPL, name: APPLE INC}
//	084670702: {ticker: BRK.B}
func LoadOverrides(path string) (map[string]Security, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tickers: read overrides %s", path)
	}

	var raw map[string]Security
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "tickers: parse overrides %s", path)
	}

	out := make(map[string]Security, len(raw))
	for cusip, sec := range raw {
		c := NormalizeCUSIP(cusip)
		if c == "" {
			return nil, eris.Errorf("tickers: invalid CUSIP %q in overrides", cusip)
		}
		sec.Ticker = model.NormalizeTicker(sec.Ticker)
		if sec.Ticker == "" {
			return nil, eris.Errorf("tickers: empty ticker for CUSIP %q in overrides", cusip)
		}
		out[c] = sec
	}
	return out, nil
}

// OverrideResolver answers from a static map and defers the rest to next.
type OverrideResolver struct {
	overrides map[string]Security
	next      Resolver
}

// NewOverrideResolver wraps next with static overrides. next may be nil.
func NewOverrideResolver(overrides map[string]Security, next Resolver) *OverrideResolver {
	return &OverrideResolver{overrides: overrides, next: next}
}

// Resolve implements Resolver.
func (r *OverrideResolver) Resolve(ctx context.Context, cusips []string) (map[string]Security, error) {
	cusips = dedupe(cusips)
	found := make(map[string]Security, len(cusips))
	for _, c := range cusips {
		if sec, ok := r.overrides[c]; ok {
			found[c] = sec
		}
	}

	rest := missing(cusips, found)
	if len(rest) == 0 || r.next == nil {
		return found, nil
	}

	more, err := r.next.Resolve(ctx, rest)
	for c, sec := range more {
		found[c] = sec
	}
	return found, err
}
