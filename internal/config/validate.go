package config

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the settings required by a command mode are present
// and within bounds. Modes: "serve", "worker", "process", "store".
func (c *Config) Validate(mode string) error {
	var errs []string
	req := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	storeChecks := func() {
		req(slices.Contains([]string{"postgres", "sqlite"}, c.Store.Driver), "store.driver must be postgres or sqlite")
		req(c.Store.Driver == "sqlite" || c.Store.DatabaseURL != "", "store.database_url is required for postgres")
	}

	pipelineChecks := func() {
		storeChecks()
		req(c.Anthropic.Key != "", "anthropic.key is required")
		req(c.Anthropic.MaxTokens > 0, "anthropic.max_tokens must be positive")
		req(c.Anthropic.Temperature >= 0 && c.Anthropic.Temperature <= 1, "anthropic.temperature must be within [0,1]")
		req(c.Collect.AdapterTimeoutSecs > 0, "collect.adapter_timeout_secs must be positive")
		req(c.Pipeline.MinPoints > 0, "pipeline.min_points must be positive")
		req(slices.Contains([]string{"annotate", "gate"}, c.Pipeline.ManualReviewPolicy), "pipeline.manual_review_policy must be annotate or gate")
		req(c.Synthesis.MaxAttempts > 0, "synthesis.max_attempts must be positive")
		req(len(c.Synthesis.RetryDelaysMs) > 0, "synthesis.retry_delays_ms must not be empty")
		req(c.Token.TTLHours > 0, "token.ttl_hours must be positive")
	}

	switch mode {
	case "serve":
		pipelineChecks()
		req(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be within 1-65535")
		req(c.Intake.RateLimit > 0, "intake.rate_limit must be positive")
		req(c.Intake.RateWindowSecs > 0, "intake.rate_window_secs must be positive")
		req(slices.Contains([]string{"reject", "flag"}, c.Intake.MismatchPolicy), "intake.mismatch_policy must be reject or flag")
		req(slices.Contains([]string{"local", "temporal"}, c.Pipeline.Dispatcher), "pipeline.dispatcher must be local or temporal")
	case "worker", "process":
		pipelineChecks()
	case "store":
		storeChecks()
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
