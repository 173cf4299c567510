package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/insiderintel/holdings-sync/internal/config"
)

// Checker periodically checks the run log for stale syncs.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	// alertedFor is the last-success time already alerted on, so one stale
	// period produces one alert.
	alertedFor *time.Time
	alerted    bool
}

// NewChecker creates a background stale-sync checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := c.cfg.CheckInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting stale sync checker",
		zap.Duration("interval", interval),
		zap.Duration("stale_after", c.cfg.StaleAfter),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stale sync checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check runs one collection and alert pass and returns the alerts sent.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackRuns)
	if err != nil {
		log.Error("monitoring: failed to collect runs", zap.Error(err))
		return 0
	}

	alerts := c.alerter.EvaluateSnapshot(snap)
	if len(alerts) == 0 {
		c.alerted = false
		c.alertedFor = nil
		return 0
	}
	if c.alerted && sameTime(c.alertedFor, snap.LastSuccess) {
		log.Debug("monitoring: stale sync already alerted")
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	if sent > 0 {
		c.alerted = true
		c.alertedFor = snap.LastSuccess
	}
	log.Info("monitoring: stale sync check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
