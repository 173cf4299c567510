// Package fetcher downloads remote documents for the ingestion pipeline with
// per-host rate limiting, retries, and streaming decoders.
package fetcher

import (
	"context"
	"io"
	"time"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// PostJSON sends body as JSON with the extra headers and returns the response body.
	PostJSON(ctx context.Context, url string, headers map[string]string, body any) (io.ReadCloser, error)
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
