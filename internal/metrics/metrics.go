// Package metrics exposes Prometheus gauges and counters for the
// indexing pipeline, adapted from the ingestion metrics of the
// reference data-tools pack (package-level Vec metrics registered in
// init, served over a dedicated HTTP endpoint).
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// IndexedHeight is the height of the last block fully advanced into
	// the UTXO cache.
	IndexedHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "utxoindex_indexed_height",
		Help: "Height of the last block fully indexed",
	})

	// DaemonHeight is the daemon's last-reported best-chain height.
	DaemonHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "utxoindex_daemon_height",
		Help: "Daemon best-chain height as last observed by the prefetcher",
	})

	// BlocksAdvancedTotal counts blocks successfully advanced.
	BlocksAdvancedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "utxoindex_blocks_advanced_total",
		Help: "Total number of blocks advanced into the UTXO cache",
	})

	// BlocksBackedUpTotal counts blocks undone during a reorg.
	BlocksBackedUpTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "utxoindex_blocks_backed_up_total",
		Help: "Total number of blocks backed up (undone) during reorgs",
	})

	// ReorgsTotal counts completed reorg operations.
	ReorgsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "utxoindex_reorgs_total",
		Help: "Total number of chain reorgs handled",
	})

	// FlushesTotal counts flush operations by kind: "full" (UTXOs
	// flushed), "partial" (UTXOs left cached) or "backup" (after a backup).
	FlushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "utxoindex_flushes_total",
		Help: "Total number of flush operations",
	}, []string{"kind"})

	// FlushDurationSeconds histograms flush wall-clock time.
	FlushDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "utxoindex_flush_duration_seconds",
		Help:    "Wall-clock time spent in a single flush",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	})

	// CacheSizeBytes is the current size of the unflushed UTXO cache.
	CacheSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "utxoindex_cache_size_bytes",
		Help: "Estimated size of the unflushed UTXO cache",
	})

	// PrefetchCacheSizeBytes is the current size of bytes fetched ahead
	// of the chain controller but not yet consumed.
	PrefetchCacheSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "utxoindex_prefetch_cache_size_bytes",
		Help: "Bytes of raw blocks fetched ahead but not yet processed",
	})

	// DispatcherQueueDepth is the current depth of the dispatcher's
	// bounded message queue.
	DispatcherQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "utxoindex_dispatcher_queue_depth",
		Help: "Current depth of the dispatcher message queue",
	})

	// DaemonErrorsTotal counts transient daemon RPC failures.
	DaemonErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "utxoindex_daemon_errors_total",
		Help: "Total daemon RPC errors encountered by the prefetcher",
	})
)

func init() {
	prometheus.MustRegister(
		IndexedHeight,
		DaemonHeight,
		BlocksAdvancedTotal,
		BlocksBackedUpTotal,
		ReorgsTotal,
		FlushesTotal,
		FlushDurationSeconds,
		CacheSizeBytes,
		PrefetchCacheSizeBytes,
		DispatcherQueueDepth,
		DaemonErrorsTotal,
	)
}

// Server serves the /metrics endpoint on its own listener, shut down
// independently of the indexer's main context.
type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// NewServer constructs a metrics HTTP server bound to addr (host:port).
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		http: &http.Server{Addr: addr, Handler: mux},
		log:  logger,
	}
}

// Start runs the server in the background, logging and swallowing
// ErrServerClosed on graceful shutdown.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("metrics server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("metrics server error")
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics: shutdown: %w", err)
	}
	return nil
}
