package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	EDGAR      EDGARConfig      `yaml:"edgar" mapstructure:"edgar"`
	OpenFIGI   OpenFIGIConfig   `yaml:"openfigi" mapstructure:"openfigi"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // postgres or sqlite
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the cron HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	CronSecret     string   `yaml:"cron_secret" mapstructure:"cron_secret"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// EDGARConfig configures SEC EDGAR access. The SEC requires a descriptive
// User-Agent with contact details on every request.
type EDGARConfig struct {
	UserAgent       string `yaml:"user_agent" mapstructure:"user_agent"`
	SearchURL       string `yaml:"search_url" mapstructure:"search_url"`
	ArchivesURL     string `yaml:"archives_url" mapstructure:"archives_url"`
	FeedURL         string `yaml:"feed_url" mapstructure:"feed_url"`
	DiscoverySource string `yaml:"discovery_source" mapstructure:"discovery_source"` // search or feed
	DiscoveryLimit  int    `yaml:"discovery_limit" mapstructure:"discovery_limit"`
}

// OpenFIGIConfig configures CUSIP to ticker mapping.
type OpenFIGIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// BreakerThreshold consecutive failed lookups pause OpenFIGI for BreakerReset.
	BreakerThreshold int           `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset" mapstructure:"breaker_reset"`
}

// RedisConfig configures the optional ticker cache. Empty URL disables it.
type RedisConfig struct {
	URL       string        `yaml:"url" mapstructure:"url"`
	TickerTTL time.Duration `yaml:"ticker_ttl" mapstructure:"ticker_ttl"`
}

// IngestConfig configures the 13F ingestion run.
type IngestConfig struct {
	MaxFilings          int           `yaml:"max_filings" mapstructure:"max_filings"`
	FetchDelay          time.Duration `yaml:"fetch_delay" mapstructure:"fetch_delay"`
	TimeBudget          time.Duration `yaml:"time_budget" mapstructure:"time_budget"`
	HoldingsBatchSize   int           `yaml:"holdings_batch_size" mapstructure:"holdings_batch_size"`
	MaxErrors           int           `yaml:"max_errors" mapstructure:"max_errors"`
	NotableInstitutions []string      `yaml:"notable_institutions" mapstructure:"notable_institutions"`
	TickerOverridesPath string        `yaml:"ticker_overrides_path" mapstructure:"ticker_overrides_path"`
}

// MonitoringConfig configures run alerting.
type MonitoringConfig struct {
	WebhookURL     string `yaml:"webhook_url" mapstructure:"webhook_url"`
	ErrorThreshold int    `yaml:"error_threshold" mapstructure:"error_threshold"`
	// StaleAfter alerts when no run has completed for this long. Zero disables the check.
	StaleAfter    time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
	CheckInterval time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	LookbackRuns  int           `yaml:"lookback_runs" mapstructure:"lookback_runs"`
}

// DefaultNotableInstitutions lists name fragments of filers processed first
// and tagged as hedge funds.
var DefaultNotableInstitutions = []string{
	"BERKSHIRE HATHAWAY",
	"BRIDGEWATER",
	"RENAISSANCE TECHNOLOGIES",
	"CITADEL ADVISORS",
	"TWO SIGMA",
	"D. E. SHAW",
	"MILLENNIUM MANAGEMENT",
	"ELLIOTT",
	"PERSHING SQUARE",
	"TIGER GLOBAL",
	"COATUE",
	"POINT72",
	"AQR CAPITAL",
	"SOROS FUND",
	"ICAHN",
	"THIRD POINT",
	"BAUPOST",
	"APPALOOSA",
	"GREENLIGHT CAPITAL",
	"LONE PINE",
	"VIKING GLOBAL",
	"SCION ASSET",
	"DUQUESNE FAMILY",
	"VALUEACT",
	"JANA PARTNERS",
	"ARK INVESTMENT",
	"VANGUARD GROUP",
	"BLACKROCK",
	"STATE STREET",
	"FMR LLC",
}

// Load reads configuration from .env, config file, and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INSIDERINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.cron_secret", "INSIDERINTEL_SERVER_CRON_SECRET", "CRON_SECRET")
	_ = v.BindEnv("store.database_url", "INSIDERINTEL_STORE_DATABASE_URL", "DATABASE_URL")

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"https://insiderintel.app"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("edgar.user_agent", "InsiderIntel ops@insiderintel.app")
	v.SetDefault("edgar.search_url", "https://efts.sec.gov/LATEST/search-index")
	v.SetDefault("edgar.archives_url", "https://www.sec.gov/Archives/edgar/data")
	v.SetDefault("edgar.feed_url", "https://www.sec.gov/cgi-bin/browse-edgar")
	v.SetDefault("edgar.discovery_source", "search")
	v.SetDefault("edgar.discovery_limit", 500)
	v.SetDefault("openfigi.base_url", "https://api.openfigi.com")
	v.SetDefault("openfigi.breaker_threshold", 3)
	v.SetDefault("openfigi.breaker_reset", 2*time.Minute)
	v.SetDefault("redis.ticker_ttl", 30*24*time.Hour)
	v.SetDefault("ingest.max_filings", 50)
	v.SetDefault("ingest.fetch_delay", 150*time.Millisecond)
	v.SetDefault("ingest.time_budget", 55*time.Second)
	v.SetDefault("ingest.holdings_batch_size", 50)
	v.SetDefault("ingest.max_errors", 10)
	v.SetDefault("ingest.notable_institutions", DefaultNotableInstitutions)
	v.SetDefault("monitoring.error_threshold", 5)
	v.SetDefault("monitoring.stale_after", 48*time.Hour)
	v.SetDefault("monitoring.check_interval", 15*time.Minute)
	v.SetDefault("monitoring.lookback_runs", 50)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks settings the ingestion run cannot do without.
func (c *Config) Validate() error {
	if c.Ingest.MaxFilings <= 0 {
		return eris.New("config: ingest.max_filings must be positive")
	}
	if c.Ingest.HoldingsBatchSize <= 0 {
		return eris.New("config: ingest.holdings_batch_size must be positive")
	}
	if c.Ingest.TimeBudget <= 0 {
		return eris.New("config: ingest.time_budget must be positive")
	}
	switch c.EDGAR.DiscoverySource {
	case "search", "feed":
	default:
		return eris.Errorf("config: unknown edgar.discovery_source %q (valid: search, feed)", c.EDGAR.DiscoverySource)
	}
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return eris.Errorf("config: unknown store.driver %q (valid: postgres, sqlite)", c.Store.Driver)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
