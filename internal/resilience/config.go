package resilience

import (
	"time"
)

// BreakerFromConfig converts config values to a BreakerConfig. Zero values
// keep the defaults.
func BreakerFromConfig(threshold, cooldownSecs int) BreakerConfig {
	var cfg BreakerConfig
	if threshold > 0 {
		cfg.Threshold = threshold
	}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}
