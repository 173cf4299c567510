package model

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Quarter identifies a fiscal (calendar) quarter.
type Quarter struct {
	Year    int `json:"year"`
	Quarter int `json:"quarter"`
}

// NewQuarter validates and builds a Quarter.
func NewQuarter(year, quarter int) (Quarter, error) {
	if quarter < 1 || quarter > 4 {
		return Quarter{}, eris.Errorf("model: quarter must be 1-4, got %d", quarter)
	}
	if year < 1993 {
		return Quarter{}, eris.Errorf("model: year %d predates EDGAR", year)
	}
	return Quarter{Year: year, Quarter: quarter}, nil
}

// QuarterOf returns the quarter containing t.
func QuarterOf(t time.Time) Quarter {
	return Quarter{Year: t.Year(), Quarter: (int(t.Month())-1)/3 + 1}
}

// PreviousQuarter returns the last completed quarter as of t.
func PreviousQuarter(t time.Time) Quarter {
	return QuarterOf(t).Previous()
}

// Previous returns the quarter before q.
func (q Quarter) Previous() Quarter {
	if q.Quarter == 1 {
		return Quarter{Year: q.Year - 1, Quarter: 4}
	}
	return Quarter{Year: q.Year, Quarter: q.Quarter - 1}
}

// Next returns the quarter after q.
func (q Quarter) Next() Quarter {
	if q.Quarter == 4 {
		return Quarter{Year: q.Year + 1, Quarter: 1}
	}
	return Quarter{Year: q.Year, Quarter: q.Quarter + 1}
}

// Start returns midnight UTC on the first day of the quarter.
func (q Quarter) Start() time.Time {
	return time.Date(q.Year, time.Month((q.Quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
}

// End returns midnight UTC on the last day of the quarter.
func (q Quarter) End() time.Time {
	return q.Next().Start().AddDate(0, 0, -1)
}

func (q Quarter) String() string {
	return fmt.Sprintf("%dQ%d", q.Year, q.Quarter)
}
