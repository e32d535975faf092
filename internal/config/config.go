package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Input     InputConfig     `yaml:"input" mapstructure:"input"`
	Questions QuestionsConfig `yaml:"questions" mapstructure:"questions"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Crawl     CrawlConfig     `yaml:"crawl" mapstructure:"crawl"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Answer    AnswerConfig    `yaml:"answer" mapstructure:"answer"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
}

// InputConfig configures how input tables are read. Empty column names
// fall back to the built-in aliases.
type InputConfig struct {
	CompanyColumn string `yaml:"company_column" mapstructure:"company_column"`
	URLColumn     string `yaml:"url_column" mapstructure:"url_column"`
	Sheet         string `yaml:"sheet" mapstructure:"sheet"`
}

// QuestionsConfig selects where the QuestionSet is loaded from.
type QuestionsConfig struct {
	Source string `yaml:"source" mapstructure:"source"` // file | notion | builtin
	File   string `yaml:"file" mapstructure:"file"`
}

// FetchConfig configures website fetching.
type FetchConfig struct {
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes   int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	PerHostRPS     float64 `yaml:"per_host_rps" mapstructure:"per_host_rps"`
	PerHostBurst   int     `yaml:"per_host_burst" mapstructure:"per_host_burst"`
	DetectBlocking bool    `yaml:"detect_blocking" mapstructure:"detect_blocking"`
}

// CrawlConfig configures same-site link following.
type CrawlConfig struct {
	MaxDepth     int      `yaml:"max_depth" mapstructure:"max_depth"`
	MaxPages     int      `yaml:"max_pages" mapstructure:"max_pages"`
	ExcludePaths []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// ExtractConfig configures visible-text extraction.
type ExtractConfig struct {
	Format        string   `yaml:"format" mapstructure:"format"` // text | markdown
	DropSelectors []string `yaml:"drop_selectors" mapstructure:"drop_selectors"`
	PageSeparator string   `yaml:"page_separator" mapstructure:"page_separator"`
	PreviewChars  int      `yaml:"preview_chars" mapstructure:"preview_chars"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnswerConfig configures prompt construction.
type AnswerConfig struct {
	MaxContentChars int    `yaml:"max_content_chars" mapstructure:"max_content_chars"`
	SystemPrompt    string `yaml:"system_prompt" mapstructure:"system_prompt"`
	UserTemplate    string `yaml:"user_template" mapstructure:"user_template"`
	EmptyMarker     string `yaml:"empty_marker" mapstructure:"empty_marker"`
}

// PricingConfig holds per-model token pricing overrides.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// StoreConfig configures the cache and run history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite | postgres | memory
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures scrape and answer caching.
type CacheConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	ScrapeTTLHours int  `yaml:"scrape_ttl_hours" mapstructure:"scrape_ttl_hours"`
	AnswerTTLHours int  `yaml:"answer_ttl_hours" mapstructure:"answer_ttl_hours"`
}

// NotionConfig holds Notion credentials for the question database.
type NotionConfig struct {
	Token      string `yaml:"token" mapstructure:"token"`
	QuestionDB string `yaml:"question_db" mapstructure:"question_db"`
}

// ServerConfig configures the dashboard server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	MaxUploadMB    int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RetryConfig configures retries on transient remote failures.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the model circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// A missing .env is fine; real environment variables win over it.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ANALYZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("anthropic.key", "ANALYZER_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind anthropic key")
	}
	if err := v.BindEnv("notion.token", "ANALYZER_NOTION_TOKEN", "NOTION_TOKEN"); err != nil {
		return nil, eris.Wrap(err, "config: bind notion token")
	}

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.company_column", "")
	v.SetDefault("input.url_column", "")
	v.SetDefault("input.sheet", "")
	v.SetDefault("questions.source", "builtin")
	v.SetDefault("questions.file", "")
	v.SetDefault("fetch.timeout_secs", 10)
	v.SetDefault("fetch.user_agent", DefaultUserAgent)
	v.SetDefault("fetch.max_body_bytes", 2<<20)
	v.SetDefault("fetch.per_host_rps", 2.0)
	v.SetDefault("fetch.per_host_burst", 2)
	v.SetDefault("fetch.detect_blocking", true)
	v.SetDefault("crawl.max_depth", 1)
	v.SetDefault("crawl.max_pages", 5)
	v.SetDefault("crawl.exclude_paths", []string{"/blog/*", "/news/*", "/press/*", "/careers/*"})
	v.SetDefault("extract.format", "text")
	v.SetDefault("extract.drop_selectors", []string{})
	v.SetDefault("extract.page_separator", "\n\n--- Page Separator ---\n\n")
	v.SetDefault("extract.preview_chars", 2000)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.temperature", 0.1)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("answer.max_content_chars", 40000)
	v.SetDefault("answer.system_prompt", "")
	v.SetDefault("answer.user_template", "")
	v.SetDefault("answer.empty_marker", "(no website text could be extracted)")
	v.SetDefault("batch.concurrency", 5)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "site-analyzer.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.scrape_ttl_hours", 24)
	v.SetDefault("cache.answer_ttl_hours", 168)
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.question_db", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
}

// DefaultUserAgent is a desktop browser string; many company sites refuse
// obvious bot agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Validate checks the settings a command needs. Mode is one of "analyze",
// "offline", "serve", "questions" or "cache".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "analyze", "serve":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required (set ANTHROPIC_API_KEY)")
		}
	case "offline", "cache":
	case "questions":
		if c.Questions.Source == "notion" && (c.Notion.Token == "" || c.Notion.QuestionDB == "") {
			errs = append(errs, "notion.token and notion.question_db are required for questions.source=notion")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}
	if mode != "cache" {
		errs = append(errs, c.validateRanges()...)
	}
	if c.Questions.Source == "file" && c.Questions.File == "" {
		errs = append(errs, "questions.file is required for questions.source=file")
	}

	switch c.Store.Driver {
	case "sqlite", "postgres", "memory":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite, postgres or memory", c.Store.Driver))
	}

	if len(errs) > 0 {
		return eris.Wrap(errors.New(strings.Join(errs, "; ")), "config: validate")
	}
	return nil
}

func (c *Config) validateRanges() []string {
	var errs []string
	if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 50 {
		errs = append(errs, "batch.concurrency must be between 1 and 50")
	}
	if c.Crawl.MaxDepth < 0 || c.Crawl.MaxDepth > 5 {
		errs = append(errs, "crawl.max_depth must be between 0 and 5")
	}
	if c.Crawl.MaxPages < 1 || c.Crawl.MaxPages > 50 {
		errs = append(errs, "crawl.max_pages must be between 1 and 50")
	}
	if c.Fetch.TimeoutSecs < 1 {
		errs = append(errs, "fetch.timeout_secs must be > 0")
	}
	if c.Answer.MaxContentChars < 1 {
		errs = append(errs, "answer.max_content_chars must be > 0")
	}
	switch c.Extract.Format {
	case "text", "markdown":
	default:
		errs = append(errs, fmt.Sprintf("extract.format %q must be text or markdown", c.Extract.Format))
	}
	return errs
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
