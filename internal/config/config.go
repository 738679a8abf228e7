package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	SerpAPI    SerpAPIConfig    `yaml:"serpapi" mapstructure:"serpapi"`
	RDAP       RDAPConfig       `yaml:"rdap" mapstructure:"rdap"`
	Resend     ResendConfig     `yaml:"resend" mapstructure:"resend"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Intake     IntakeConfig     `yaml:"intake" mapstructure:"intake"`
	Collect    CollectConfig    `yaml:"collect" mapstructure:"collect"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Synthesis  SynthesisConfig  `yaml:"synthesis" mapstructure:"synthesis"`
	Token      TokenConfig      `yaml:"token" mapstructure:"token"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the shared key-value store used for rate limiting
// and the profile reuse cache. An empty URL disables both.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SerpAPIConfig holds SerpAPI (Google Jobs) settings.
type SerpAPIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// RDAPConfig holds the registration data lookup endpoint.
type RDAPConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ResendConfig holds transactional email settings.
type ResendConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	From    string `yaml:"from" mapstructure:"from"`
}

// NotionConfig holds Notion API credentials for the manual review queue.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ReviewDB string `yaml:"review_db" mapstructure:"review_db"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// Enabled reports whether lead sync is configured.
func (c SalesforceConfig) Enabled() bool {
	return c.ClientID != "" && c.KeyPath != ""
}

// TemporalConfig configures the durable dispatcher.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// IntakeConfig configures rate limiting and email/domain checks.
type IntakeConfig struct {
	RateLimit      int      `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateWindowSecs int      `yaml:"rate_window_secs" mapstructure:"rate_window_secs"`
	MismatchPolicy string   `yaml:"mismatch_policy" mapstructure:"mismatch_policy"`
	WebmailDomains []string `yaml:"webmail_domains" mapstructure:"webmail_domains"`
}

// RateWindow returns the limiter window as a duration.
func (c IntakeConfig) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSecs) * time.Second
}

// CollectConfig configures the data source fan-out.
type CollectConfig struct {
	AdapterTimeoutSecs int     `yaml:"adapter_timeout_secs" mapstructure:"adapter_timeout_secs"`
	UserAgent          string  `yaml:"user_agent" mapstructure:"user_agent"`
	FetchRPS           float64 `yaml:"fetch_rps" mapstructure:"fetch_rps"`
	BreakerThreshold   int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs   int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// AdapterTimeout returns the per-adapter deadline.
func (c CollectConfig) AdapterTimeout() time.Duration {
	return time.Duration(c.AdapterTimeoutSecs) * time.Second
}

// PipelineConfig configures submission processing.
type PipelineConfig struct {
	MinPoints          int    `yaml:"min_points" mapstructure:"min_points"`
	ManualReviewPolicy string `yaml:"manual_review_policy" mapstructure:"manual_review_policy"`
	ReuseWindowHours   int    `yaml:"reuse_window_hours" mapstructure:"reuse_window_hours"`
	Dispatcher         string `yaml:"dispatcher" mapstructure:"dispatcher"`
	MaxInFlight        int    `yaml:"max_in_flight" mapstructure:"max_in_flight"`
	BaseURL            string `yaml:"base_url" mapstructure:"base_url"`
}

// ReuseWindow returns how far back a completed profile may be reused.
func (c PipelineConfig) ReuseWindow() time.Duration {
	return time.Duration(c.ReuseWindowHours) * time.Hour
}

// SynthesisConfig configures the model retry schedule.
type SynthesisConfig struct {
	MaxAttempts   int   `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryDelaysMs []int `yaml:"retry_delays_ms" mapstructure:"retry_delays_ms"`
}

// RetryDelays returns the configured delay schedule.
func (c SynthesisConfig) RetryDelays() []time.Duration {
	out := make([]time.Duration, 0, len(c.RetryDelaysMs))
	for _, ms := range c.RetryDelaysMs {
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	return out
}

// TokenConfig configures access token lifetime.
type TokenConfig struct {
	TTLHours int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// TTL returns the token lifetime.
func (c TokenConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures the background health checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StrandedAfterMins    int     `yaml:"stranded_after_mins" mapstructure:"stranded_after_mins"`
	StrandedThreshold    int     `yaml:"stranded_threshold" mapstructure:"stranded_threshold"`
	RealertAfterMins     int     `yaml:"realert_after_mins" mapstructure:"realert_after_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OPSPROFILE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2500)
	v.SetDefault("anthropic.temperature", 0.3)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("serpapi.base_url", "https://serpapi.com")
	v.SetDefault("rdap.base_url", "https://rdap.org")
	v.SetDefault("resend.base_url", "https://api.resend.com")
	v.SetDefault("resend.from", "Operational Profiles <noreply@harnessai.co>")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "opsprofile-submissions")
	v.SetDefault("intake.rate_limit", 10)
	v.SetDefault("intake.rate_window_secs", 3600)
	v.SetDefault("intake.mismatch_policy", "reject")
	v.SetDefault("intake.webmail_domains", []string{
		"gmail.com", "yahoo.com", "outlook.com", "hotmail.com",
		"aol.com", "icloud.com", "protonmail.com", "mail.com",
	})
	v.SetDefault("collect.adapter_timeout_secs", 10)
	v.SetDefault("collect.user_agent", "Mozilla/5.0 (compatible; OpsProfile/1.0; +https://harnessai.co)")
	v.SetDefault("collect.fetch_rps", 5.0)
	v.SetDefault("collect.breaker_threshold", 5)
	v.SetDefault("collect.breaker_reset_secs", 60)
	v.SetDefault("pipeline.min_points", 3)
	v.SetDefault("pipeline.manual_review_policy", "annotate")
	v.SetDefault("pipeline.reuse_window_hours", 24)
	v.SetDefault("pipeline.dispatcher", "local")
	v.SetDefault("pipeline.max_in_flight", 20)
	v.SetDefault("pipeline.base_url", "https://harnessai.co")
	v.SetDefault("synthesis.max_attempts", 3)
	v.SetDefault("synthesis.retry_delays_ms", []int{1000, 4000, 16000})
	v.SetDefault("token.ttl_hours", 168)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.stranded_after_mins", 30)
	v.SetDefault("monitoring.stranded_threshold", 5)
	v.SetDefault("monitoring.realert_after_mins", 60)

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
