package institutional

import (
	"context"
	"time"
)

// Deadline is a wall-clock budget measured from the start of a run. It is
// checked between filings, and Bound caps the fetch work of the filing in
// progress.
type Deadline struct {
	start  time.Time
	budget time.Duration
	now    func() time.Time
}

// NewDeadline starts a budget at now(). A budget of zero or less never expires.
func NewDeadline(budget time.Duration, now func() time.Time) *Deadline {
	return &Deadline{start: now(), budget: budget, now: now}
}

// Start returns when the budget began.
func (d *Deadline) Start() time.Time { return d.start }

// Elapsed returns the time spent so far.
func (d *Deadline) Elapsed() time.Duration { return d.now().Sub(d.start) }

// Exceeded reports whether the budget is used up.
func (d *Deadline) Exceeded() bool {
	return d.budget > 0 && d.Elapsed() >= d.budget
}

// Remaining returns the unused budget. ok is false for an unlimited budget.
func (d *Deadline) Remaining() (remaining time.Duration, ok bool) {
	if d.budget <= 0 {
		return 0, false
	}
	return d.budget - d.Elapsed(), true
}

// Bound returns ctx cancelled once the remaining budget runs out.
func (d *Deadline) Bound(ctx context.Context) (context.Context, context.CancelFunc) {
	remaining, ok := d.Remaining()
	if !ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, remaining)
}
