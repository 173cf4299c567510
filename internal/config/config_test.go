package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Ingest.MaxFilings)
	assert.Equal(t, 150*time.Millisecond, cfg.Ingest.FetchDelay)
	assert.Equal(t, 55*time.Second, cfg.Ingest.TimeBudget)
	assert.Equal(t, 50, cfg.Ingest.HoldingsBatchSize)
	assert.Equal(t, 10, cfg.Ingest.MaxErrors)
	assert.Contains(t, cfg.Ingest.NotableInstitutions, "BERKSHIRE HATHAWAY")
	assert.Equal(t, "search", cfg.EDGAR.DiscoverySource)
	assert.Equal(t, 500, cfg.EDGAR.DiscoveryLimit)
	assert.Equal(t, "https://efts.sec.gov/LATEST/search-index", cfg.EDGAR.SearchURL)
	assert.Equal(t, "https://api.openfigi.com", cfg.OpenFIGI.BaseURL)
	assert.Equal(t, 3, cfg.OpenFIGI.BreakerThreshold)
	assert.Equal(t, 2*time.Minute, cfg.OpenFIGI.BreakerReset)
	assert.Equal(t, 30*24*time.Hour, cfg.Redis.TickerTTL)
	assert.Empty(t, cfg.Redis.URL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: file:holdings.db
log:
  level: debug
  format: console
ingest:
  max_filings: 10
  fetch_delay: 1s
  time_budget: 20s
  notable_institutions:
    - ACME
edgar:
  discovery_source: feed
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "file:holdings.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Ingest.MaxFilings)
	assert.Equal(t, time.Second, cfg.Ingest.FetchDelay)
	assert.Equal(t, 20*time.Second, cfg.Ingest.TimeBudget)
	assert.Equal(t, []string{"ACME"}, cfg.Ingest.NotableInstitutions)
	assert.Equal(t, "feed", cfg.EDGAR.DiscoverySource)
	assert.Equal(t, 50, cfg.Ingest.HoldingsBatchSize)
}

func TestLoadFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("INSIDERINTEL_SERVER_PORT", "9090")
	t.Setenv("CRON_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Server.CronSecret)
}

func TestLoadFromDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("INSIDERINTEL_OPENFIGI_KEY=figi-key\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("INSIDERINTEL_OPENFIGI_KEY") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "figi-key", cfg.OpenFIGI.Key)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Store:  StoreConfig{Driver: "postgres"},
			EDGAR:  EDGARConfig{DiscoverySource: "search"},
			Ingest: IngestConfig{MaxFilings: 50, HoldingsBatchSize: 50, TimeBudget: time.Second},
		}
	}
	assert.NoError(t, valid().Validate())

	c := valid()
	c.Ingest.MaxFilings = 0
	assert.Error(t, c.Validate())

	c = valid()
	c.Ingest.HoldingsBatchSize = -1
	assert.Error(t, c.Validate())

	c = valid()
	c.Ingest.TimeBudget = 0
	assert.Error(t, c.Validate())

	c = valid()
	c.EDGAR.DiscoverySource = "rss"
	assert.ErrorContains(t, c.Validate(), "discovery_source")

	c = valid()
	c.Store.Driver = "mysql"
	assert.ErrorContains(t, c.Validate(), "store.driver")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
