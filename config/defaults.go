package config

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Daemon: DaemonConfig{
			URL:      "http://127.0.0.1:8332",
			TimeoutS: 30,
		},
		Prefetcher: PrefetcherConfig{
			MinCacheMB: 10,
		},
		Flush: FlushConfig{
			CacheBudgetMB: 2000,
			ReorgLimit:    200,
		},
		Archive: ArchiveConfig{
			Compress: false,
		},
		Notify: NotifyConfig{
			Enabled:    true,
			ListenAddr: "/ip4/0.0.0.0/tcp/0",
			Topic:      "utxoindex/touched/mainnet",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1",
			Port:    9300,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Daemon.URL = "http://127.0.0.1:18332"
	cfg.Notify.Topic = "utxoindex/touched/testnet"
	cfg.Metrics.Port = 9301
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
