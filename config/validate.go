package config

import "fmt"

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.Daemon.URL == "" {
		return fmt.Errorf("daemon.url must be set")
	}
	if cfg.Daemon.TimeoutS <= 0 {
		return fmt.Errorf("daemon.timeout must be positive")
	}
	if cfg.Prefetcher.MinCacheMB <= 0 {
		return fmt.Errorf("prefetcher.min_cache_mb must be positive")
	}
	if cfg.Flush.CacheBudgetMB <= 0 {
		return fmt.Errorf("flush.cache_budget_mb must be positive")
	}
	if cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be in range [0, 65535]")
	}
	return nil
}
