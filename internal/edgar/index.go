package edgar

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/insiderintel/holdings-sync/internal/fetcher"
	"github.com/insiderintel/holdings-sync/internal/model"
)

const informationTableType = "INFORMATION TABLE"

// IndexParser locates documents inside a filing's index page.
type IndexParser struct {
	fetcher     fetcher.Fetcher
	archivesURL string
}

// NewIndexParser creates an IndexParser rooted at the EDGAR archives URL
// (e.g. https://www.sec.gov/Archives/edgar/data).
func NewIndexParser(f fetcher.Fetcher, archivesURL string) *IndexParser {
	return &IndexParser{fetcher: f, archivesURL: strings.TrimRight(archivesURL, "/")}
}

// IndexURL returns the index page URL for a filing.
func (p *IndexParser) IndexURL(meta model.FilingMeta) string {
	return fmt.Sprintf("%s/%s/%s/%s-index.htm",
		p.archivesURL,
		trimCIK(meta.CIK),
		strings.ReplaceAll(meta.AccessionNumber, "-", ""),
		meta.AccessionNumber,
	)
}

// InformationTableURL returns the absolute URL of the raw information table XML.
func (p *IndexParser) InformationTableURL(ctx context.Context, meta model.FilingMeta) (string, error) {
	indexURL := p.IndexURL(meta)

	body, err := p.fetcher.Download(ctx, indexURL)
	if err != nil {
		return "", eris.Wrapf(err, "edgar: fetch index for %s", meta.AccessionNumber)
	}
	defer body.Close() //nolint:errcheck

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", eris.Wrapf(err, "edgar: parse index for %s", meta.AccessionNumber)
	}

	href := findInformationTable(doc)
	if href == "" {
		return "", eris.Errorf("edgar: no information table in %s", meta.AccessionNumber)
	}

	base, err := url.Parse(indexURL)
	if err != nil {
		return "", eris.Wrap(err, "edgar: parse index url")
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", eris.Wrapf(err, "edgar: parse document href %q", href)
	}
	return base.ResolveReference(ref).String(), nil
}

// findInformationTable returns the href of the raw XML information table.
// Filings list the table twice: a rendered copy under an xslForm13F path and
// the raw XML. Only the raw one is wanted.
func findInformationTable(doc *goquery.Document) string {
	var href string
	doc.Find("table.tableFile tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return true
		}
		if !strings.EqualFold(strings.TrimSpace(cells.Eq(3).Text()), informationTableType) {
			return true
		}
		link, ok := cells.Eq(2).Find("a").Attr("href")
		if !ok {
			return true
		}
		lower := strings.ToLower(link)
		if !strings.HasSuffix(lower, ".xml") || strings.Contains(lower, "/xsl") {
			return true
		}
		href = link
		return false
	})
	return href
}
