package tickers

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/insiderintel/holdings-sync/internal/fetcher"
	"github.com/insiderintel/holdings-sync/internal/model"
)

// OpenFIGI mapping limits: jobs per request with and without an API key.
const (
	openFIGIBatchKeyed   = 100
	openFIGIBatchAnon    = 10
	openFIGIAPIKeyHeader = "X-OPENFIGI-APIKEY"
)

type figiJob struct {
	IDType   string `json:"idType"`
	IDValue  string `json:"idValue"`
	ExchCode string `json:"exchCode,omitempty"`
}

type figiResult struct {
	Data []struct {
		FIGI         string `json:"figi"`
		Name         string `json:"name"`
		Ticker       string `json:"ticker"`
		ExchCode     string `json:"exchCode"`
		SecurityType string `json:"securityType"`
	} `json:"data"`
	Warning string `json:"warning"`
	Error   string `json:"error"`
}

// OpenFIGI resolves CUSIPs through the OpenFIGI v3 mapping API, restricted to
// US listings.
type OpenFIGI struct {
	fetcher fetcher.Fetcher
	baseURL string
	apiKey  string
}

// NewOpenFIGI creates a client. apiKey may be empty.
func NewOpenFIGI(f fetcher.Fetcher, baseURL, apiKey string) *OpenFIGI {
	return &OpenFIGI{fetcher: f, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (o *OpenFIGI) batchSize() int {
	if o.apiKey != "" {
		return openFIGIBatchKeyed
	}
	return openFIGIBatchAnon
}

// Resolve implements Resolver. A failed batch stops resolution; CUSIPs mapped
// by earlier batches are still returned alongside the error.
func (o *OpenFIGI) Resolve(ctx context.Context, cusips []string) (map[string]Security, error) {
	cusips = dedupe(cusips)
	found := make(map[string]Security, len(cusips))

	size := o.batchSize()
	for i := 0; i < len(cusips); i += size {
		end := min(i+size, len(cusips))
		if err := o.resolveBatch(ctx, cusips[i:end], found); err != nil {
			return found, err
		}
	}

	zap.L().Debug("openfigi resolved cusips",
		zap.String("component", "tickers.openfigi"),
		zap.Int("requested", len(cusips)),
		zap.Int("resolved", len(found)),
	)
	return found, nil
}

func (o *OpenFIGI) resolveBatch(ctx context.Context, batch []string, found map[string]Security) error {
	jobs := make([]figiJob, len(batch))
	for i, cusip := range batch {
		jobs[i] = figiJob{IDType: "ID_CUSIP", IDValue: cusip, ExchCode: "US"}
	}

	headers := map[string]string{}
	if o.apiKey != "" {
		headers[openFIGIAPIKeyHeader] = o.apiKey
	}

	body, err := o.fetcher.PostJSON(ctx, o.baseURL+"/v3/mapping", headers, jobs)
	if err != nil {
		return eris.Wrap(err, "tickers: openfigi mapping")
	}
	defer body.Close() //nolint:errcheck

	results, err := fetcher.DecodeJSONObject[[]figiResult](body)
	if err != nil {
		return eris.Wrap(err, "tickers: decode openfigi response")
	}
	if len(*results) != len(batch) {
		return eris.Errorf("tickers: openfigi returned %d results for %d jobs", len(*results), len(batch))
	}

	for i, res := range *results {
		for _, d := range res.Data {
			ticker := model.NormalizeTicker(d.Ticker)
			if ticker == "" {
				continue
			}
			found[batch[i]] = Security{Ticker: ticker, Name: strings.TrimSpace(d.Name)}
			break
		}
	}
	return nil
}
