package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Flags holds parsed command-line flags.
type Flags struct {
	Help    bool
	Version bool

	Network string
	DataDir string
	Config  string

	DaemonURL      string
	DaemonUser     string
	DaemonPassword string

	NoNotify     bool
	NotifyListen string

	NoMetrics  bool
	MetricsAddr string
	MetricsPort int

	LogLevel string
	LogFile  string
	LogJSON  bool

	Args []string

	SetNoNotify  bool
	SetNoMetrics bool
	SetLogJSON   bool
}

// ParseFlags parses command-line flags.
func ParseFlags() *Flags {
	f := &Flags{}
	fs := flag.NewFlagSet("utxoindexd", flag.ContinueOnError)

	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	fs.StringVar(&f.Network, "network", "", "Network type (mainnet or testnet)")
	testnet := fs.Bool("testnet", false, "Use testnet (shorthand for --network=testnet)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	fs.StringVar(&f.DaemonURL, "daemon-url", "", "Coin daemon RPC URL")
	fs.StringVar(&f.DaemonUser, "daemon-user", "", "Coin daemon RPC username")
	fs.StringVar(&f.DaemonPassword, "daemon-password", "", "Coin daemon RPC password")

	fs.BoolVar(&f.NoNotify, "no-notify", false, "Disable the touched-address notification service")
	fs.StringVar(&f.NotifyListen, "notify-listen", "", "libp2p multiaddr to listen on for notifications")

	fs.BoolVar(&f.NoMetrics, "no-metrics", false, "Disable the Prometheus metrics endpoint")
	fs.StringVar(&f.MetricsAddr, "metrics-addr", "", "Metrics listen address")
	fs.IntVar(&f.MetricsPort, "metrics-port", 0, "Metrics listen port")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() {
		printUsage()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if *testnet {
		f.Network = "testnet"
	}
	f.SetNoNotify = isFlagSet(fs, "no-notify")
	f.SetNoMetrics = isFlagSet(fs, "no-metrics")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			fmt.Fprintf(os.Stderr, "Error: flag %q was not parsed (positional argument stopped parsing)\n", arg)
			os.Exit(1)
		}
	}

	return f
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	if f.DaemonURL != "" {
		cfg.Daemon.URL = f.DaemonURL
	}
	if f.DaemonUser != "" {
		cfg.Daemon.User = f.DaemonUser
	}
	if f.DaemonPassword != "" {
		cfg.Daemon.Password = f.DaemonPassword
	}

	if f.SetNoNotify {
		cfg.Notify.Enabled = !f.NoNotify
	}
	if f.NotifyListen != "" {
		cfg.Notify.ListenAddr = f.NotifyListen
	}

	if f.SetNoMetrics {
		cfg.Metrics.Enabled = !f.NoMetrics
	}
	if f.MetricsAddr != "" {
		cfg.Metrics.Addr = f.MetricsAddr
	}
	if f.MetricsPort != 0 {
		cfg.Metrics.Port = f.MetricsPort
	}

	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(flg *flag.Flag) {
		if flg.Name == name {
			found = true
		}
	})
	return found
}

func printUsage() {
	usage := `utxoindexd - UTXO indexing engine

Usage:
  utxoindexd [options]
  utxoindexd --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --network         Network type: mainnet (default) or testnet
  --testnet         Shorthand for --network=testnet
  --datadir         Data directory (default: ~/.utxoindex)
  --config, -c      Config file path (default: <datadir>/utxoindex.conf)

Daemon Options:
  --daemon-url       Coin daemon RPC URL
  --daemon-user      Coin daemon RPC username (stored; the RPC client does not send it)
  --daemon-password  Coin daemon RPC password (stored; the RPC client does not send it)

Notification Options:
  --no-notify        Disable the touched-address notification service
  --notify-listen    libp2p multiaddr to listen on

Metrics Options:
  --no-metrics       Disable the Prometheus metrics endpoint
  --metrics-addr     Metrics listen address
  --metrics-port     Metrics listen port

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path, written in addition to stdout
                  (default: <datadir>/logs/utxoindex.log)
  --log-json      Output logs as JSON

Examples:
  # Start indexing mainnet against a local daemon
  utxoindexd --daemon-url=http://127.0.0.1:8332 --daemon-user=rpc --daemon-password=secret

  # Start on testnet with a custom data directory
  utxoindexd --network=testnet --datadir=/path/to/data
`
	fmt.Print(usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("utxoindexd version 0.1.0")
		os.Exit(0)
	}

	network := Mainnet
	if strings.ToLower(flags.Network) == "testnet" {
		network = Testnet
	}

	cfg := Default(network)
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Idempotent.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.ChainDataDir(),
		cfg.KVDir(),
		cfg.ArchiveDir(),
		cfg.HistoryDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
