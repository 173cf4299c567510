package institutional

import (
	"time"

	"go.uber.org/zap"
)

// Summary accumulates the counters of one ingestion run. It is the payload
// returned to the scheduler.
type Summary struct {
	FilingsFound        int       `json:"filingsFound"`
	FilingsProcessed    int       `json:"filingsProcessed"`
	InstitutionsCreated int       `json:"institutionsCreated"`
	FilingsCreated      int       `json:"filingsCreated"`
	HoldingsCreated     int64     `json:"holdingsCreated"`
	Skipped             int       `json:"skipped"`
	Errors              []string  `json:"errors"`
	Timestamp           time.Time `json:"timestamp"`
	DurationMS          int64     `json:"durationMs"`

	errorCount int
	maxErrors  int
}

// NewSummary creates a Summary that retains at most maxErrors messages.
func NewSummary(maxErrors int) *Summary {
	return &Summary{Errors: []string{}, maxErrors: maxErrors}
}

// AddError logs msg and keeps it if the retained list is not full.
func (s *Summary) AddError(msg string) {
	s.errorCount++
	zap.L().Warn("ingest error",
		zap.String("component", "institutional"),
		zap.Int("error_number", s.errorCount),
		zap.String("error", msg),
	)
	if s.maxErrors <= 0 || len(s.Errors) < s.maxErrors {
		s.Errors = append(s.Errors, msg)
	}
}

// ErrorCount returns the number of errors recorded, including those not retained.
func (s *Summary) ErrorCount() int {
	return s.errorCount
}

// Finish stamps the completion time and elapsed duration.
func (s *Summary) Finish(start, now time.Time) {
	s.Timestamp = now.UTC()
	s.DurationMS = now.Sub(start).Milliseconds()
}
