package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments).
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	case "daemon.url":
		cfg.Daemon.URL = value
	case "daemon.user":
		cfg.Daemon.User = value
	case "daemon.password":
		cfg.Daemon.Password = value
	case "daemon.timeout":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Daemon.TimeoutS = n

	case "prefetcher.min_cache_mb":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Prefetcher.MinCacheMB = n

	case "flush.cache_budget_mb":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Flush.CacheBudgetMB = n
	case "flush.reorg_limit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Flush.ReorgLimit = uint32(n)

	case "archive.compress":
		cfg.Archive.Compress = parseBool(value)

	case "notify.enabled":
		cfg.Notify.Enabled = parseBool(value)
	case "notify.listen":
		cfg.Notify.ListenAddr = value
	case "notify.topic":
		cfg.Notify.Topic = value

	case "metrics.enabled":
		cfg.Metrics.Enabled = parseBool(value)
	case "metrics.addr":
		cfg.Metrics.Addr = value
	case "metrics.port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Metrics.Port = n

	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored.
	}
	return nil
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	cfg := Default(network)
	content := `# utxoindex node configuration
#
# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.utxoindex)
# datadir = ~/.utxoindex

# ============================================================================
# Daemon RPC
# ============================================================================

daemon.url = ` + cfg.Daemon.URL + `
# daemon.user =
# daemon.password =
daemon.timeout = ` + strconv.Itoa(cfg.Daemon.TimeoutS) + `

# ============================================================================
# Prefetcher
# ============================================================================

prefetcher.min_cache_mb = ` + strconv.Itoa(cfg.Prefetcher.MinCacheMB) + `

# ============================================================================
# Flush coordinator
# ============================================================================

flush.cache_budget_mb = ` + strconv.Itoa(cfg.Flush.CacheBudgetMB) + `
flush.reorg_limit = ` + strconv.Itoa(int(cfg.Flush.ReorgLimit)) + `

# ============================================================================
# Filesystem archive
# ============================================================================

archive.compress = false

# ============================================================================
# Touched-address notifications (libp2p pubsub)
# ============================================================================

notify.enabled = true
notify.listen = ` + cfg.Notify.ListenAddr + `
notify.topic = ` + cfg.Notify.Topic + `

# ============================================================================
# Metrics
# ============================================================================

metrics.enabled = true
metrics.addr = ` + cfg.Metrics.Addr + `
metrics.port = ` + strconv.Itoa(cfg.Metrics.Port) + `

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
