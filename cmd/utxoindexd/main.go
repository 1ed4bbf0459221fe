// UTXO indexing daemon.
//
// Usage:
//
//	utxoindexd [--daemon-url=...] Run the indexer against a coin daemon
//	utxoindexd --help              Show help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgtorpheas/utxoindex/config"
	"github.com/dgtorpheas/utxoindex/internal/coin"
	"github.com/dgtorpheas/utxoindex/internal/daemon"
	"github.com/dgtorpheas/utxoindex/internal/dispatcher"
	"github.com/dgtorpheas/utxoindex/internal/fsarchive"
	"github.com/dgtorpheas/utxoindex/internal/history"
	indexerpkg "github.com/dgtorpheas/utxoindex/internal/indexer"
	klog "github.com/dgtorpheas/utxoindex/internal/log"
	"github.com/dgtorpheas/utxoindex/internal/metrics"
	"github.com/dgtorpheas/utxoindex/internal/notify"
	"github.com/dgtorpheas/utxoindex/internal/prefetcher"
	"github.com/dgtorpheas/utxoindex/internal/storage"
)

func main() {
	// ── 1. Load config (defaults → file → flags) ────────────────────────
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := config.EnsureDataDirs(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ───────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = cfg.LogsDir() + "/utxoindex.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("main")

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("datadir", cfg.DataDir).
		Msg("Starting UTXO indexer")

	// ── 3. Open storage ───────────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.KVDir())
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.KVDir()).Msg("failed to open KV store")
	}
	defer db.Close()

	openArchive := fsarchive.Open
	if cfg.Archive.Compress {
		openArchive = fsarchive.OpenCompressed
	}
	archive, err := openArchive(cfg.ArchiveDir())
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ArchiveDir()).Msg("failed to open filesystem archive")
	}
	defer archive.Close()

	historyIndex, err := history.NewKVIndex(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open history index")
	}

	// ── 4. Construct coin decoder and daemon client ──────────────────────
	genesis := config.GenesisBlock(cfg.Network)
	refCoin := coin.NewReference(genesis)

	daemonTimeout := time.Duration(cfg.Daemon.TimeoutS) * time.Second
	daemonClient := daemon.NewWithTimeout(cfg.Daemon.URL, daemonTimeout)

	// ── 5. Construct the advance/backup/flush/controller engine ─────────
	worker := indexerpkg.NewWorker(1)
	engine, err := indexerpkg.NewEngine(indexerpkg.Config{
		DB:               db,
		History:          historyIndex,
		Archive:          archive,
		Coin:             refCoin,
		Daemon:           daemonClient,
		Worker:           worker,
		ReorgLimit:       cfg.Flush.ReorgLimit,
		CacheBudgetBytes: int64(cfg.Flush.CacheBudgetMB) * 1024 * 1024,
		Logger:           klog.Indexer,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct indexing engine")
	}

	// ── 6. Construct dispatcher + prefetcher (components F, E) ──────────
	// The two are mutually referential: the dispatcher's control surface
	// is the prefetcher, and the prefetcher enqueues onto the dispatcher.
	// Construct the dispatcher with a nil control, build the prefetcher
	// against its Push method, then wire the control back in.
	dsp := dispatcher.New(engine, nil, 64, klog.Dispatcher)
	startHeight := engine.State().Height
	pf := prefetcher.New(daemonClient, refCoin, dsp.Push, int64(cfg.Prefetcher.MinCacheMB)*1024*1024, startHeight, klog.Prefetcher)
	dsp.SetControl(pf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pf.Run(ctx)
	dispatcherDone := make(chan error, 1)
	go func() { dispatcherDone <- dsp.Run(ctx) }()

	// ── 7. Wire notification fan-out ─────────────────────────────────────
	var notifier *notify.Notifier
	if cfg.Notify.Enabled {
		notifier = notify.New(cfg.Notify.ListenAddr, cfg.Notify.Topic, klog.Notify)
		if err := notifier.Start(); err != nil {
			logger.Fatal().Err(err).Msg("failed to start notifier")
		}
		defer notifier.Stop()
		engine.AddNewBlockCallback(notifier.Publish)
	}

	// ── 8. Wire metrics server ────────────────────────────────────────────
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Metrics.Addr, cfg.Metrics.Port)
		metricsServer = metrics.NewServer(addr, klog.WithComponent("metrics"))
		metricsServer.Start()
	}

	logger.Info().
		Uint32("height", startHeight).
		Bool("notify", cfg.Notify.Enabled).
		Bool("metrics", cfg.Metrics.Enabled).
		Msg("Indexer started successfully")

	// ── 9. Wait for shutdown ──────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-dispatcherDone:
		if err != nil {
			logger.Error().Err(err).Msg("dispatcher exited with error")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics server shutdown error")
		}
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final flush failed")
	}
	logger.Info().Msg("Goodbye!")
}
