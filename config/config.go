// Package config handles application configuration: defaults, config file,
// and command-line flags, merged in that order of precedence.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies which network the indexer is tracking.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Config holds the indexer's runtime configuration.
type Config struct {
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	Daemon     DaemonConfig
	Prefetcher PrefetcherConfig
	Flush      FlushConfig
	Archive    ArchiveConfig
	Notify     NotifyConfig
	Metrics    MetricsConfig
	Log        LogConfig
}

// ArchiveConfig tunes the append-only filesystem archive.
type ArchiveConfig struct {
	Compress bool `conf:"archive.compress"`
}

// DaemonConfig holds settings for talking to the coin daemon's RPC.
// User and Password are read from the config file and flags, but
// daemon.Client is built from URL and TimeoutS alone and sends no
// credentials.
type DaemonConfig struct {
	URL      string `conf:"daemon.url"`
	User     string `conf:"daemon.user"`
	Password string `conf:"daemon.password"`
	TimeoutS int    `conf:"daemon.timeout"`
}

// PrefetcherConfig tunes the bounded-memory lookahead (spec §4.E).
type PrefetcherConfig struct {
	MinCacheMB int `conf:"prefetcher.min_cache_mb"`
}

// FlushConfig tunes the flush coordinator and reorg-undo retention (spec §4.C).
type FlushConfig struct {
	CacheBudgetMB int    `conf:"flush.cache_budget_mb"`
	ReorgLimit    uint32 `conf:"flush.reorg_limit"`
}

// NotifyConfig holds settings for the libp2p-pubsub touched-address
// notification fan-out (spec §6's add_new_block_callback, externalized).
type NotifyConfig struct {
	Enabled    bool   `conf:"notify.enabled"`
	ListenAddr string `conf:"notify.listen"`
	Topic      string `conf:"notify.topic"`
}

// MetricsConfig holds settings for the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `conf:"metrics.enabled"`
	Addr    string `conf:"metrics.addr"`
	Port    int    `conf:"metrics.port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.utxoindex
//	macOS:   ~/Library/Application Support/utxoindex
//	Windows: %APPDATA%\utxoindex
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".utxoindex"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "utxoindex")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "utxoindex")
		}
		return filepath.Join(home, "AppData", "Roaming", "utxoindex")
	default:
		return filepath.Join(home, ".utxoindex")
	}
}

// ChainDataDir returns the network-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// KVDir returns the KV store (h/u tables + chain state) directory.
func (c *Config) KVDir() string {
	return filepath.Join(c.ChainDataDir(), "kv")
}

// ArchiveDir returns the filesystem archive directory.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.ChainDataDir(), "archive")
}

// HistoryDir returns the history directory that EnsureDataDirs creates.
// cmd/utxoindexd keeps the history sub-index in the KV store under
// KVDir, not here.
func (c *Config) HistoryDir() string {
	return filepath.Join(c.ChainDataDir(), "history")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "utxoindex.conf")
}
