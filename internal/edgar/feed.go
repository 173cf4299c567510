package edgar

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/insiderintel/holdings-sync/internal/fetcher"
	"github.com/insiderintel/holdings-sync/internal/model"
)

const (
	feedPageSize = 100
	feedMaxPages = 20
)

var (
	// "13F-HR - BERKSHIRE HATHAWAY INC (0001067983) (Filer)"
	feedTitleRe = regexp.MustCompile(`^(\S+) - (.+) \((\d{10})\) \(\w+\)$`)
	feedAccNoRe = regexp.MustCompile(`AccNo:(?:</b>)?\s*(\d{10}-\d{2}-\d{6})`)
	feedFiledRe = regexp.MustCompile(`Filed:(?:</b>)?\s*(\d{4}-\d{2}-\d{2})`)
)

// FeedDiscoverer reads the EDGAR latest-filings Atom feed. It only sees recent
// filings, so it suits runs close to the 45-day filing deadline. Period of
// report is not in the feed and is left nil.
type FeedDiscoverer struct {
	fetcher fetcher.Fetcher
	baseURL string
	parser  *gofeed.Parser
	now     func() time.Time
}

// NewFeedDiscoverer creates a discoverer against the browse-edgar endpoint.
func NewFeedDiscoverer(f fetcher.Fetcher, baseURL string) *FeedDiscoverer {
	return &FeedDiscoverer{fetcher: f, baseURL: baseURL, parser: gofeed.NewParser(), now: time.Now}
}

// Discover pages through the feed, keeping 13F-HR entries filed inside q's filing window.
func (d *FeedDiscoverer) Discover(ctx context.Context, q model.Quarter, maxCount int) ([]model.FilingMeta, error) {
	log := zap.L().With(zap.String("component", "edgar.feed"), zap.Stringer("quarter", q))

	start, end, ok := filingWindow(q, d.now().UTC())
	if !ok {
		return nil, nil
	}

	seen := make(map[string]bool)
	var filings []model.FilingMeta

	for page := 0; page < feedMaxPages && len(filings) < maxCount; page++ {
		feed, err := d.fetchPage(ctx, page*feedPageSize)
		if err != nil {
			return nil, err
		}
		if len(feed.Items) == 0 {
			break
		}

		reachedOlder := false
		for _, item := range feed.Items {
			meta, ok := parseFeedItem(item)
			if !ok || seen[meta.AccessionNumber] {
				continue
			}
			if meta.FiledAt.Before(start) {
				reachedOlder = true
				continue
			}
			if meta.FiledAt.After(end) {
				continue
			}
			seen[meta.AccessionNumber] = true
			filings = append(filings, meta)
			if len(filings) >= maxCount {
				break
			}
		}

		// The feed is newest first; once entries predate the window, later pages will too.
		if reachedOlder || len(feed.Items) < feedPageSize {
			break
		}
	}

	log.Info("discovered 13F filings from feed", zap.Int("count", len(filings)))
	return filings, nil
}

func (d *FeedDiscoverer) fetchPage(ctx context.Context, offset int) (*gofeed.Feed, error) {
	params := url.Values{}
	params.Set("action", "getcurrent")
	params.Set("type", FormType13F)
	params.Set("owner", "include")
	params.Set("start", strconv.Itoa(offset))
	params.Set("count", strconv.Itoa(feedPageSize))
	params.Set("output", "atom")

	body, err := d.fetcher.Download(ctx, d.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, eris.Wrap(err, "edgar: fetch filings feed")
	}
	defer body.Close() //nolint:errcheck

	feed, err := d.parser.Parse(body)
	if err != nil {
		return nil, eris.Wrap(err, "edgar: parse filings feed")
	}
	return feed, nil
}

// parseFeedItem extracts filing metadata from one feed entry.
func parseFeedItem(item *gofeed.Item) (model.FilingMeta, bool) {
	m := feedTitleRe.FindStringSubmatch(strings.TrimSpace(item.Title))
	if m == nil || m[1] != FormType13F {
		return model.FilingMeta{}, false
	}

	text := item.Description + " " + item.Content
	acc := feedAccNoRe.FindStringSubmatch(text)
	if acc == nil {
		return model.FilingMeta{}, false
	}

	var filed *time.Time
	if f := feedFiledRe.FindStringSubmatch(text); f != nil {
		filed = parseDate(f[1])
	}
	if filed == nil && item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		filed = &t
	}
	if filed == nil {
		return model.FilingMeta{}, false
	}

	return model.FilingMeta{
		InstitutionName: strings.TrimSpace(m[2]),
		CIK:             m[3],
		AccessionNumber: acc[1],
		FormType:        m[1],
		FiledAt:         *filed,
	}, true
}
