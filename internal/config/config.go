package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Budgets   BudgetsConfig   `yaml:"budgets" mapstructure:"budgets"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Firecrawl FirecrawlConfig `yaml:"firecrawl" mapstructure:"firecrawl"`
	Apify     ApifyConfig     `yaml:"apify" mapstructure:"apify"`
	LogoDev   LogoDevConfig   `yaml:"logodev" mapstructure:"logodev"`
	ModernGov ModernGovConfig `yaml:"moderngov" mapstructure:"moderngov"`
	Spend     SpendConfig     `yaml:"spend" mapstructure:"spend"`
	DataSync  DataSyncConfig  `yaml:"datasync" mapstructure:"datasync"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// ServerConfig configures the HTTP trigger server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port" validate:"gte=1,lte=65535"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// PipelineConfig configures invocation limits and scheduling.
type PipelineConfig struct {
	// HardCap bounds every invocation regardless of operator budgets.
	HardCap          int    `yaml:"hard_cap" mapstructure:"hard_cap" validate:"gte=1"`
	Secret           string `yaml:"secret" mapstructure:"secret"`
	ItemTimeoutSecs  int    `yaml:"item_timeout_secs" mapstructure:"item_timeout_secs" validate:"gte=1"`
	ErrorLogSize     int    `yaml:"error_log_size" mapstructure:"error_log_size" validate:"gte=1"`
	RescanAfterHours int    `yaml:"rescan_after_hours" mapstructure:"rescan_after_hours" validate:"gte=0"`
	// Schedule maps worker name to trigger interval (e.g. "1h"); used by serve --schedule.
	Schedule map[string]string `yaml:"schedule" mapstructure:"schedule"`
}

// ItemTimeout returns the per-item soft timeout.
func (p PipelineConfig) ItemTimeout() time.Duration {
	return time.Duration(p.ItemTimeoutSecs) * time.Second
}

// RescanAfter returns the rescan interval for completed stages, or zero when disabled.
func (p PipelineConfig) RescanAfter() time.Duration {
	return time.Duration(p.RescanAfterHours) * time.Hour
}

// BudgetsConfig holds the default per-worker budgets used when no operator
// setting exists.
type BudgetsConfig struct {
	Enrichment  BudgetDefault `yaml:"enrichment" mapstructure:"enrichment"`
	DataSync    BudgetDefault `yaml:"data_sync" mapstructure:"data_sync"`
	SpendIngest BudgetDefault `yaml:"spend_ingest" mapstructure:"spend_ingest"`
	BoardMins   BudgetDefault `yaml:"board_minutes" mapstructure:"board_minutes"`
}

// BudgetDefault is a default {enabled, limit} budget.
type BudgetDefault struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	Limit   int  `yaml:"limit" mapstructure:"limit" validate:"gte=1"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	HaikuModel string `yaml:"haiku_model" mapstructure:"haiku_model"`
	MaxTokens  int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// JinaConfig holds Jina reader and search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// FirecrawlConfig holds Firecrawl API settings (scrape fallback only).
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ApifyConfig holds Apify actor settings for LinkedIn lookups.
type ApifyConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	ActorID string `yaml:"actor_id" mapstructure:"actor_id"`
}

// LogoDevConfig holds logo.dev settings.
type LogoDevConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ModernGovConfig configures the ModernGov SOAP client.
type ModernGovConfig struct {
	ConnectTimeoutSecs  int `yaml:"connect_timeout_secs" mapstructure:"connect_timeout_secs"`
	MeetingsTimeoutSecs int `yaml:"meetings_timeout_secs" mapstructure:"meetings_timeout_secs"`
	LookbackMonths      int `yaml:"lookback_months" mapstructure:"lookback_months"`
}

// SpendConfig configures spend file discovery and download.
type SpendConfig struct {
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
	MaxFilesPerBuyer int    `yaml:"max_files_per_buyer" mapstructure:"max_files_per_buyer"`
	MaxFileBytes     int64  `yaml:"max_file_bytes" mapstructure:"max_file_bytes"`
}

// DataSyncConfig configures OCDS contract ingestion.
type DataSyncConfig struct {
	BackfillStart      string `yaml:"backfill_start" mapstructure:"backfill_start"`
	ContractsFinderURL string `yaml:"contracts_finder_url" mapstructure:"contracts_finder_url"`
	FindTenderURL      string `yaml:"find_tender_url" mapstructure:"find_tender_url"`
	PageDelayMillis    int    `yaml:"page_delay_millis" mapstructure:"page_delay_millis"`
}

// NotionConfig holds the Notion token and catalog database id.
type NotionConfig struct {
	Token     string `yaml:"token" mapstructure:"token"`
	CatalogDB string `yaml:"catalog_db" mapstructure:"catalog_db"`
}

// RetryConfig configures the shared external-call retry policy.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures per-service circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TENDHUNT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without defaults are invisible to Unmarshal unless bound explicitly.
	for _, key := range []string{
		"store.database_url",
		"pipeline.secret",
		"anthropic.key",
		"jina.key",
		"firecrawl.key",
		"apify.token",
		"logodev.token",
		"notion.token",
		"notion.catalog_db",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("pipeline.hard_cap", 2000)
	v.SetDefault("pipeline.item_timeout_secs", 60)
	v.SetDefault("pipeline.error_log_size", 50)
	v.SetDefault("pipeline.rescan_after_hours", 0)
	v.SetDefault("pipeline.schedule", map[string]string{
		"enrichment":   "24h",
		"spend-ingest": "168h",
		"data-sync":    "1h",
	})
	v.SetDefault("budgets.enrichment.enabled", true)
	v.SetDefault("budgets.enrichment.limit", 500)
	v.SetDefault("budgets.data_sync.enabled", true)
	v.SetDefault("budgets.data_sync.limit", 9000)
	v.SetDefault("budgets.spend_ingest.enabled", true)
	v.SetDefault("budgets.spend_ingest.limit", 200)
	v.SetDefault("budgets.board_minutes.enabled", true)
	v.SetDefault("budgets.board_minutes.limit", 100)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("apify.base_url", "https://api.apify.com/v2")
	v.SetDefault("apify.actor_id", "curious_coder~linkedin-company-search")
	v.SetDefault("logodev.base_url", "https://img.logo.dev")
	v.SetDefault("moderngov.connect_timeout_secs", 5)
	v.SetDefault("moderngov.meetings_timeout_secs", 15)
	v.SetDefault("moderngov.lookback_months", 12)
	v.SetDefault("spend.user_agent", "TendHunt Spend Ingest (+https://tendhunt.com)")
	v.SetDefault("spend.max_files_per_buyer", 12)
	v.SetDefault("spend.max_file_bytes", 50*1024*1024)
	v.SetDefault("datasync.backfill_start", "2024-01-01T00:00:00Z")
	v.SetDefault("datasync.contracts_finder_url", "https://www.contractsfinder.service.gov.uk/Published/OCDS/Search")
	v.SetDefault("datasync.find_tender_url", "https://www.find-tender.service.gov.uk/api/1.0/ocdsReleasePackages")
	v.SetDefault("datasync.page_delay_millis", 300)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct-level constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
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
