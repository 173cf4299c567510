package edgar

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/insiderintel/holdings-sync/internal/fetcher"
	"github.com/insiderintel/holdings-sync/internal/model"
)

// searchPageSize is the fixed page size of EDGAR full-text search.
const searchPageSize = 100

// searchMaxOffset is the deepest offset full-text search will serve.
const searchMaxOffset = 9900

// searchResult is the response from the EDGAR full-text search API.
type searchResult struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string `json:"_id"`
			Source struct {
				CIKs         []string `json:"ciks"`
				DisplayNames []string `json:"display_names"`
				Form         string   `json:"form"`
				FileDate     string   `json:"file_date"`
				PeriodEnding string   `json:"period_ending"`
				ADSH         string   `json:"adsh"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchDiscoverer finds 13F-HR filings through EDGAR full-text search.
type SearchDiscoverer struct {
	fetcher fetcher.Fetcher
	baseURL string
	now     func() time.Time
}

// NewSearchDiscoverer creates a discoverer against the given search endpoint.
func NewSearchDiscoverer(f fetcher.Fetcher, baseURL string) *SearchDiscoverer {
	return &SearchDiscoverer{fetcher: f, baseURL: baseURL, now: time.Now}
}

// Discover returns up to maxCount distinct 13F-HR filings reporting on q.
// Search returns one hit per document, so hits are deduplicated by accession number.
func (d *SearchDiscoverer) Discover(ctx context.Context, q model.Quarter, maxCount int) ([]model.FilingMeta, error) {
	log := zap.L().With(zap.String("component", "edgar.search"), zap.Stringer("quarter", q))

	start, end, ok := filingWindow(q, d.now().UTC())
	if !ok {
		log.Info("filing window not open yet")
		return nil, nil
	}

	seen := make(map[string]bool)
	var filings []model.FilingMeta

	for from := 0; from <= searchMaxOffset && len(filings) < maxCount; from += searchPageSize {
		page, err := d.fetchPage(ctx, start, end, from)
		if err != nil {
			return nil, err
		}

		for _, hit := range page.Hits.Hits {
			src := hit.Source
			if src.Form != FormType13F || src.ADSH == "" || seen[src.ADSH] {
				continue
			}
			if len(src.CIKs) == 0 || len(src.DisplayNames) == 0 {
				continue
			}
			filed := parseDate(src.FileDate)
			if filed == nil {
				continue
			}
			seen[src.ADSH] = true

			filings = append(filings, model.FilingMeta{
				InstitutionName: cleanFilerName(src.DisplayNames[0]),
				CIK:             padCIK(src.CIKs[0]),
				AccessionNumber: src.ADSH,
				FormType:        src.Form,
				FiledAt:         *filed,
				PeriodOfReport:  parseDate(src.PeriodEnding),
			})
			if len(filings) >= maxCount {
				break
			}
		}

		if len(page.Hits.Hits) < searchPageSize || from+searchPageSize >= page.Hits.Total.Value {
			break
		}
	}

	log.Info("discovered 13F filings",
		zap.Int("count", len(filings)),
		zap.Time("window_start", start),
		zap.Time("window_end", end),
	)
	return filings, nil
}

func (d *SearchDiscoverer) fetchPage(ctx context.Context, start, end time.Time, from int) (*searchResult, error) {
	params := url.Values{}
	params.Set("forms", FormType13F)
	params.Set("dateRange", "custom")
	params.Set("startdt", start.Format("2006-01-02"))
	params.Set("enddt", end.Format("2006-01-02"))
	params.Set("from", strconv.Itoa(from))

	body, err := d.fetcher.Download(ctx, d.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, eris.Wrap(err, "edgar: search filings")
	}
	defer body.Close() //nolint:errcheck

	res, err := fetcher.DecodeJSONObject[searchResult](body)
	if err != nil {
		return nil, eris.Wrap(err, "edgar: decode search results")
	}
	return res, nil
}
