package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insiderintel/holdings-sync/internal/fetcher"
	"github.com/insiderintel/holdings-sync/internal/model"
)

func newTestFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:   "test-agent admin@example.com",
		Timeout:     5 * time.Second,
		MaxRetries:  1,
		BackoffBase: time.Millisecond,
	})
}

type hit struct {
	CIK, Name, Form, Filed, Period, ADSH string
}

func searchPage(total int, hits []hit) map[string]any {
	out := make([]map[string]any, len(hits))
	for i, h := range hits {
		out[i] = map[string]any{
			"_id": h.ADSH + ":primary_doc.xml",
			"_source": map[string]any{
				"ciks":          []string{h.CIK},
				"display_names": []string{h.Name},
				"form":          h.Form,
				"file_date":     h.Filed,
				"period_ending": h.Period,
				"adsh":          h.ADSH,
			},
		}
	}
	return map[string]any{"hits": map[string]any{"total": map[string]any{"value": total}, "hits": out}}
}

func TestSearchDiscoverer_Discover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "13F-HR", q.Get("forms"))
		assert.Equal(t, "custom", q.Get("dateRange"))
		assert.Equal(t, "2024-10-01", q.Get("startdt"))
		assert.Equal(t, "2024-11-20", q.Get("enddt"))
		assert.Equal(t, "0", q.Get("from"))

		page := searchPage(4, []hit{
			{"1067983", "BERKSHIRE HATHAWAY INC  (BRK-B)  (CIK 0001067983)", "13F-HR", "2024-11-14", "2024-09-30", "0000950123-24-011775"},
			{"1067983", "BERKSHIRE HATHAWAY INC  (BRK-B)  (CIK 0001067983)", "13F-HR", "2024-11-14", "2024-09-30", "0000950123-24-011775"},
			{"1350694", "Bridgewater Associates, LP (CIK 0001350694)", "13F-HR/A", "2024-11-13", "2024-09-30", "0001350694-24-000010"},
			{"1423053", "Citadel Advisors LLC (CIK 0001423053)", "13F-HR", "2024-11-12", "", "0001104659-24-118000"},
		})
		assert.NoError(t, json.NewEncoder(w).Encode(page))
	}))
	defer srv.Close()

	d := NewSearchDiscoverer(newTestFetcher(), srv.URL)
	d.now = func() time.Time { return date(2024, 11, 20) }

	got, err := d.Discover(context.Background(), model.Quarter{Year: 2024, Quarter: 3}, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "BERKSHIRE HATHAWAY INC", got[0].InstitutionName)
	assert.Equal(t, "0001067983", got[0].CIK)
	assert.Equal(t, "0000950123-24-011775", got[0].AccessionNumber)
	assert.Equal(t, date(2024, 11, 14), got[0].FiledAt)
	require.NotNil(t, got[0].PeriodOfReport)
	assert.Equal(t, date(2024, 9, 30), *got[0].PeriodOfReport)

	assert.Equal(t, "Citadel Advisors LLC", got[1].InstitutionName)
	assert.Nil(t, got[1].PeriodOfReport)
}

func TestSearchDiscoverer_Paginates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		from, _ := strconv.Atoi(r.URL.Query().Get("from"))

		var hits []hit
		n := searchPageSize
		if from == searchPageSize {
			n = 30
		}
		for i := 0; i < n; i++ {
			hits = append(hits, hit{
				CIK: strconv.Itoa(1000 + from + i), Name: "FILER", Form: "13F-HR",
				Filed: "2024-11-14", ADSH: fmt.Sprintf("0000000000-24-%06d", from+i),
			})
		}
		assert.NoError(t, json.NewEncoder(w).Encode(searchPage(130, hits)))
	}))
	defer srv.Close()

	d := NewSearchDiscoverer(newTestFetcher(), srv.URL)
	d.now = func() time.Time { return date(2025, 6, 1) }

	got, err := d.Discover(context.Background(), model.Quarter{Year: 2024, Quarter: 3}, 500)
	require.NoError(t, err)
	assert.Len(t, got, 130)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchDiscoverer_MaxCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var hits []hit
		for i := 0; i < searchPageSize; i++ {
			hits = append(hits, hit{CIK: "1", Name: "F", Form: "13F-HR", Filed: "2024-11-14", ADSH: fmt.Sprintf("0000000000-24-%06d", i)})
		}
		assert.NoError(t, json.NewEncoder(w).Encode(searchPage(1000, hits)))
	}))
	defer srv.Close()

	d := NewSearchDiscoverer(newTestFetcher(), srv.URL)
	d.now = func() time.Time { return date(2025, 6, 1) }

	got, err := d.Discover(context.Background(), model.Quarter{Year: 2024, Quarter: 3}, 5)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestSearchDiscoverer_WindowNotOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	d := NewSearchDiscoverer(newTestFetcher(), srv.URL)
	d.now = func() time.Time { return date(2024, 9, 1) }

	got, err := d.Discover(context.Background(), model.Quarter{Year: 2024, Quarter: 3}, 50)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchDiscoverer_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewSearchDiscoverer(newTestFetcher(), srv.URL)
	d.now = func() time.Time { return date(2025, 6, 1) }

	_, err := d.Discover(context.Background(), model.Quarter{Year: 2024, Quarter: 3}, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "edgar: search filings")
}
