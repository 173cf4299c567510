package edgar

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/insiderintel/holdings-sync/internal/fetcher"
	"github.com/insiderintel/holdings-sync/internal/model"
	"github.com/insiderintel/holdings-sync/internal/tickers"
)

// infoTableEntry is one row of a 13F information table. Element names are
// matched without namespace.
type infoTableEntry struct {
	NameOfIssuer string `xml:"nameOfIssuer"`
	TitleOfClass string `xml:"titleOfClass"`
	CUSIP        string `xml:"cusip"`
	Value        string `xml:"value"`
	SharesAmount string `xml:"shrsOrPrnAmt>sshPrnamt"`
	SharesType   string `xml:"shrsOrPrnAmt>sshPrnamtType"`
	PutCall      string `xml:"putCall"`
}

// HoldingsParser downloads and parses a filing's information table.
type HoldingsParser struct {
	fetcher fetcher.Fetcher
	index   *IndexParser
	tickers tickers.Resolver
}

// NewHoldingsParser creates a parser. resolver may be nil, in which case no
// tickers are attached.
func NewHoldingsParser(f fetcher.Fetcher, index *IndexParser, resolver tickers.Resolver) *HoldingsParser {
	return &HoldingsParser{fetcher: f, index: index, tickers: resolver}
}

// Parse returns the holdings reported in a filing. Option rows (put/call) are
// excluded from both the holdings and the total. Values filed before
// 2023-01-03 are reported in thousands and are scaled to dollars.
func (p *HoldingsParser) Parse(ctx context.Context, meta model.FilingMeta) (*model.ParsedFiling, error) {
	log := zap.L().With(
		zap.String("component", "edgar.holdings"),
		zap.String("accession", meta.AccessionNumber),
	)

	tableURL, err := p.index.InformationTableURL(ctx, meta)
	if err != nil {
		return nil, err
	}

	body, err := p.fetcher.Download(ctx, tableURL)
	if err != nil {
		return nil, eris.Wrapf(err, "edgar: fetch information table for %s", meta.AccessionNumber)
	}
	defer body.Close() //nolint:errcheck

	multiplier := int64(1)
	if meta.FiledAt.Before(dollarValueCutover) {
		multiplier = 1000
	}

	parsed := &model.ParsedFiling{}
	skipped := 0
	err = fetcher.EachXMLElement(ctx, body, "infoTable", func(e infoTableEntry) error {
		h, ok := toHolding(e, multiplier)
		if !ok {
			skipped++
			return nil
		}
		parsed.Holdings = append(parsed.Holdings, h)
		parsed.TotalValue += h.Value
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "edgar: parse information table for %s", meta.AccessionNumber)
	}

	if err := p.attachTickers(ctx, parsed.Holdings); err != nil {
		return nil, eris.Wrapf(err, "edgar: resolve tickers for %s", meta.AccessionNumber)
	}

	log.Debug("parsed information table",
		zap.Int("holdings", len(parsed.Holdings)),
		zap.Int("skipped_rows", skipped),
		zap.Int64("total_value", parsed.TotalValue),
	)
	return parsed, nil
}

// attachTickers resolves every CUSIP in one call. A CUSIP with no match is
// left without a ticker. A lookup error fails the whole filing, since storing
// it without those holdings would make it look ingested.
func (p *HoldingsParser) attachTickers(ctx context.Context, holdings []model.ParsedHolding) error {
	if p.tickers == nil || len(holdings) == 0 {
		return nil
	}

	cusips := make([]string, 0, len(holdings))
	for _, h := range holdings {
		cusips = append(cusips, h.CUSIP)
	}

	resolved, err := p.tickers.Resolve(ctx, cusips)
	if err != nil {
		return err
	}
	for i := range holdings {
		if sec, ok := resolved[holdings[i].CUSIP]; ok {
			holdings[i].Ticker = sec.Ticker
		}
	}
	return nil
}

func toHolding(e infoTableEntry, multiplier int64) (model.ParsedHolding, bool) {
	if strings.TrimSpace(e.PutCall) != "" {
		return model.ParsedHolding{}, false
	}
	cusip := tickers.NormalizeCUSIP(e.CUSIP)
	if cusip == "" {
		return model.ParsedHolding{}, false
	}
	value, ok := parseAmount(e.Value)
	if !ok {
		return model.ParsedHolding{}, false
	}
	shares, ok := parseAmount(e.SharesAmount)
	if !ok {
		return model.ParsedHolding{}, false
	}
	return model.ParsedHolding{
		SecurityName: strings.TrimSpace(e.NameOfIssuer),
		CUSIP:        cusip,
		Shares:       shares,
		Value:        value * multiplier,
	}, true
}
