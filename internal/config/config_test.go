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
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, int64(2500), cfg.Anthropic.MaxTokens)
	assert.InDelta(t, 0.3, cfg.Anthropic.Temperature, 0.001)
	assert.Equal(t, 10, cfg.Intake.RateLimit)
	assert.Equal(t, time.Hour, cfg.Intake.RateWindow())
	assert.Equal(t, "reject", cfg.Intake.MismatchPolicy)
	assert.Contains(t, cfg.Intake.WebmailDomains, "gmail.com")
	assert.Len(t, cfg.Intake.WebmailDomains, 8)
	assert.Equal(t, 10*time.Second, cfg.Collect.AdapterTimeout())
	assert.Equal(t, 3, cfg.Pipeline.MinPoints)
	assert.Equal(t, "annotate", cfg.Pipeline.ManualReviewPolicy)
	assert.Equal(t, 24*time.Hour, cfg.Pipeline.ReuseWindow())
	assert.Equal(t, "local", cfg.Pipeline.Dispatcher)
	assert.Equal(t, 3, cfg.Synthesis.MaxAttempts)
	assert.Equal(t, []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}, cfg.Synthesis.RetryDelays())
	assert.Equal(t, 7*24*time.Hour, cfg.Token.TTL())
	assert.Equal(t, "https://places.googleapis.com/v1", cfg.Google.BaseURL)
	assert.Equal(t, "https://serpapi.com", cfg.SerpAPI.BaseURL)
	assert.Equal(t, "https://login.salesforce.com", cfg.Salesforce.LoginURL)
	assert.Equal(t, "opsprofile-submissions", cfg.Temporal.TaskQueue)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
server:
  port: 9090
pipeline:
  manual_review_policy: gate
synthesis:
  retry_delays_ms: [10, 20]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "gate", cfg.Pipeline.ManualReviewPolicy)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, cfg.Synthesis.RetryDelays())
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Intake.RateLimit)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("OPSPROFILE_STORE_DRIVER", "postgres")
	t.Setenv("OPSPROFILE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("OPSPROFILE_SERVER_PORT", "3000")
	t.Setenv("OPSPROFILE_INTAKE_RATE_LIMIT", "25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Intake.RateLimit)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func validDefaults(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Store.DatabaseURL = "postgres://localhost/opsprofile"
	cfg.Anthropic.Key = "sk-ant-key"
	return cfg
}

func TestValidateServe_AllPresent(t *testing.T) {
	cfg := validDefaults(t)
	assert.NoError(t, cfg.Validate("serve"))
	assert.NoError(t, cfg.Validate("worker"))
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateServe_MissingFields(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Store.DatabaseURL = ""
	cfg.Anthropic.Key = ""
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "server.port must be within 1-65535")
}

func TestValidatePolicies(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Pipeline.ManualReviewPolicy = "skip"
	cfg.Intake.MismatchPolicy = "ignore"
	cfg.Pipeline.Dispatcher = "kafka"

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.manual_review_policy")
	assert.Contains(t, err.Error(), "intake.mismatch_policy")
	assert.Contains(t, err.Error(), "pipeline.dispatcher")
}

func TestValidateStore_OnlyNeedsDatabase(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Anthropic.Key = ""
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "mysql"
	assert.Error(t, cfg.Validate("store"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults(t)
	err := cfg.Validate("fedsync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown validation mode")
}

func TestSalesforceEnabled(t *testing.T) {
	assert.False(t, SalesforceConfig{}.Enabled())
	assert.True(t, SalesforceConfig{ClientID: "id", KeyPath: "/tmp/key.pem"}.Enabled())
}

func TestValidateStore_SQLiteNeedsNoURL(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "postgres"
	assert.Error(t, cfg.Validate("store"))
}
