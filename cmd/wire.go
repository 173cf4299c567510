package main

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/insiderintel/holdings-sync/internal/config"
	"github.com/insiderintel/holdings-sync/internal/edgar"
	"github.com/insiderintel/holdings-sync/internal/fetcher"
	"github.com/insiderintel/holdings-sync/internal/ingest"
	"github.com/insiderintel/holdings-sync/internal/institutional"
	"github.com/insiderintel/holdings-sync/internal/monitoring"
	"github.com/insiderintel/holdings-sync/internal/runlog"
	"github.com/insiderintel/holdings-sync/internal/tickers"
)

// syncEnv holds everything a sync needs.
type syncEnv struct {
	Store   institutional.Store
	RunLog  *runlog.Log // nil for sqlite
	Metrics *monitoring.Metrics
	Alerter *monitoring.Alerter
	Runner  *ingest.Runner

	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (e *syncEnv) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// initStore opens the configured store. The run log is only available on
// Postgres.
func initStore(ctx context.Context, c *config.Config) (institutional.Store, *runlog.Log, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "holdings.db"
		}
		st, err := institutional.NewSQLite(dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
		return st, nil, nil
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return nil, nil, eris.New("store.database_url is required (DATABASE_URL)")
		}
		st, err := institutional.NewPostgres(ctx, c.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return st, runlog.New(st.Pool()), nil
	default:
		return nil, nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

func initDiscoverer(c *config.Config, f fetcher.Fetcher) edgar.Discoverer {
	if c.EDGAR.DiscoverySource == "feed" {
		return edgar.NewFeedDiscoverer(f, c.EDGAR.FeedURL)
	}
	return edgar.NewSearchDiscoverer(f, c.EDGAR.SearchURL)
}

// initResolver builds the ticker chain: overrides, then the Redis cache when
// configured, then OpenFIGI behind a circuit breaker. The returned closer
// releases the Redis client.
func initResolver(ctx context.Context, c *config.Config, f fetcher.Fetcher) (tickers.Resolver, func() error, error) {
	var resolver tickers.Resolver = tickers.NewBreakerResolver(
		tickers.NewOpenFIGI(f, c.OpenFIGI.BaseURL, c.OpenFIGI.Key),
		c.OpenFIGI.BreakerThreshold, c.OpenFIGI.BreakerReset,
	)
	closer := func() error { return nil }

	if c.Redis.URL != "" {
		opts, err := redis.ParseURL(c.Redis.URL)
		if err != nil {
			return nil, nil, eris.Wrap(err, "parse redis url")
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			zap.L().Warn("redis unavailable, ticker cache disabled", zap.Error(err))
			_ = client.Close()
		} else {
			resolver = tickers.NewRedisCache(client, c.Redis.TickerTTL, resolver)
			closer = client.Close
		}
	}

	if c.Ingest.TickerOverridesPath != "" {
		overrides, err := tickers.LoadOverrides(c.Ingest.TickerOverridesPath)
		if err != nil {
			_ = closer()
			return nil, nil, err
		}
		resolver = tickers.NewOverrideResolver(overrides, resolver)
	}

	return resolver, closer, nil
}

func newPipeline(c *config.Config, store institutional.Store, f fetcher.Fetcher, resolver tickers.Resolver) *institutional.Pipeline {
	index := edgar.NewIndexParser(f, c.EDGAR.ArchivesURL)
	parser := edgar.NewHoldingsParser(f, index, resolver)

	processor := institutional.NewProcessor(store, parser, institutional.ProcessorConfig{
		FetchDelay: c.Ingest.FetchDelay,
		BatchSize:  c.Ingest.HoldingsBatchSize,
		Notable:    c.Ingest.NotableInstitutions,
	})

	return institutional.NewPipeline(initDiscoverer(c, f), processor, institutional.PipelineConfig{
		DiscoveryLimit: c.EDGAR.DiscoveryLimit,
		MaxFilings:     c.Ingest.MaxFilings,
		TimeBudget:     c.Ingest.TimeBudget,
		MaxErrors:      c.Ingest.MaxErrors,
		Notable:        c.Ingest.NotableInstitutions,
	})
}

// initSync wires the store, fetchers, ticker chain, pipeline, and the run
// bookkeeping around it.
func initSync(ctx context.Context, c *config.Config) (*syncEnv, error) {
	env := &syncEnv{}

	st, runs, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	env.Store = st
	env.RunLog = runs
	env.closers = append(env.closers, st.Close)

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{UserAgent: c.EDGAR.UserAgent})

	resolver, closeResolver, err := initResolver(ctx, c, f)
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	env.closers = append(env.closers, closeResolver)

	env.Metrics = monitoring.NewMetrics()
	env.Alerter = monitoring.NewAlerter(c.Monitoring)

	opts := []ingest.Option{ingest.WithMetrics(env.Metrics), ingest.WithAlerter(env.Alerter)}
	if runs != nil {
		opts = append(opts, ingest.WithRunLog(runs))
	}
	env.Runner = ingest.New(newPipeline(c, st, f, resolver), opts...)

	return env, nil
}
