// Package prefetcher implements the bounded-memory forward block
// lookahead (spec §4.E): it runs ahead of the chain controller, fetching
// raw blocks from the daemon and enqueueing them for the dispatcher,
// throttled by bytes in flight rather than block count.
package prefetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dgtorpheas/utxoindex/internal/coin"
	"github.com/dgtorpheas/utxoindex/internal/daemon"
	"github.com/dgtorpheas/utxoindex/internal/dispatcher"
	"github.com/dgtorpheas/utxoindex/internal/metrics"
)

const (
	idleSleep    = 5 * time.Second
	maxBatch     = 500
	initialBlocks = 10 // first fetch assumes ave_size seeded for ten blocks
)

// Prefetcher is the forward-only lookahead described in spec §4.E. All
// mutable state is guarded by mu so reset_height (the reorg path) never
// races the fetch loop.
type Prefetcher struct {
	log zerolog.Logger

	daemon daemon.Daemon
	coin   coin.Coin
	push   func(ctx context.Context, msg dispatcher.Message) error

	minCacheSize int64

	mu            sync.Mutex
	fetchedHeight uint32
	cacheSize     int64
	aveSize       float64
	caughtUp      bool
	seenGenesis   bool

	refill chan struct{}
}

// New constructs a Prefetcher. push enqueues a dispatcher.Message
// (typically dispatcher.Dispatcher.Push) and must not block forever.
func New(d daemon.Daemon, c coin.Coin, push func(context.Context, dispatcher.Message) error, minCacheSizeBytes int64, startHeight uint32, logger zerolog.Logger) *Prefetcher {
	return &Prefetcher{
		log:           logger,
		daemon:        d,
		coin:          c,
		push:          push,
		minCacheSize:  minCacheSizeBytes,
		fetchedHeight: startHeight,
		aveSize:       0,
		refill:        make(chan struct{}, 1),
	}
}

// Run drives the main loop described in spec §4.E until ctx is canceled:
// wait on the refill signal, attempt a prefetch pass, sleep on idle,
// log and continue on daemon error.
func (p *Prefetcher) Run(ctx context.Context) {
	p.signalRefill()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.refill:
		}

		idle, err := p.prefetchBlocks(ctx)
		if err != nil {
			if daemonErr, ok := err.(*daemon.Error); ok {
				metrics.DaemonErrorsTotal.Inc()
				p.log.Info().Err(daemonErr).Msg("daemon error during prefetch, retrying")
			} else {
				p.log.Warn().Err(err).Msg("prefetch error, retrying")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			p.signalRefill()
			continue
		}
		if idle {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			p.signalRefill()
		}
	}
}

// prefetchBlocks fetches as many blocks as fit under min_cache_size,
// enqueueing a RawBlocks message per batch.
func (p *Prefetcher) prefetchBlocks(ctx context.Context) (idle bool, err error) {
	for {
		p.mu.Lock()
		cacheSize := p.cacheSize
		fetchedHeight := p.fetchedHeight
		aveSize := p.aveSize
		seenGenesis := p.seenGenesis
		p.mu.Unlock()

		if cacheSize >= p.minCacheSize {
			return false, nil
		}

		daemonHeight, err := p.daemon.Height(ctx)
		if err != nil {
			return false, err
		}
		metrics.DaemonHeight.Set(float64(daemonHeight))

		var count uint32
		if fetchedHeight >= daemonHeight {
			count = 0
		} else {
			remaining := daemonHeight - fetchedHeight
			want := remaining
			if aveSize > 0 {
				byBudget := uint32(float64(p.minCacheSize) / aveSize)
				if byBudget < want {
					want = byBudget
				}
			} else if want > initialBlocks {
				want = initialBlocks
			}
			count = clampU32(want, 0, maxBatch)
		}

		if count == 0 {
			p.mu.Lock()
			alreadyCaughtUp := p.caughtUp
			p.caughtUp = true
			p.mu.Unlock()
			if !alreadyCaughtUp {
				if err := p.push(ctx, dispatcher.PrefetcherCaughtUp{}); err != nil {
					return false, err
				}
			}
			return true, nil
		}

		hexHashes, err := p.daemon.BlockHexHashes(ctx, fetchedHeight+1, count)
		if err != nil {
			return false, err
		}
		raw, err := p.daemon.RawBlocks(ctx, hexHashes)
		if err != nil {
			return false, err
		}
		if uint32(len(raw)) != count {
			return false, fmt.Errorf("prefetcher: daemon returned %d blocks, requested %d", len(raw), count)
		}

		if fetchedHeight == 0 && !seenGenesis {
			genesis, err := p.coin.GenesisBlock(ctx)
			if err != nil {
				return false, fmt.Errorf("prefetcher: genesis block: %w", err)
			}
			raw[0] = genesis
		}

		var batchBytes int64
		for _, b := range raw {
			batchBytes += int64(len(b))
		}

		p.mu.Lock()
		if count >= 10 {
			p.aveSize = float64(batchBytes) / float64(count)
		} else if p.aveSize > 0 {
			p.aveSize = (p.aveSize*float64(10-count) + float64(batchBytes)) / 10
		} else {
			p.aveSize = float64(batchBytes) / float64(count)
		}
		p.cacheSize += batchBytes
		p.fetchedHeight += count
		p.seenGenesis = true
		newCacheSize := p.cacheSize
		p.mu.Unlock()
		metrics.PrefetchCacheSizeBytes.Set(float64(newCacheSize))

		if err := p.push(ctx, dispatcher.RawBlocks{
			Blocks:       raw,
			First:        fetchedHeight + 1,
			DaemonHeight: daemonHeight,
		}); err != nil {
			return false, err
		}
	}
}

// ProcessingBlocks releases backpressure as the controller consumes
// bytes, re-triggering the refill signal once the watermark drops.
func (p *Prefetcher) ProcessingBlocks(n int) {
	p.mu.Lock()
	p.cacheSize -= int64(n)
	if p.cacheSize < 0 {
		p.cacheSize = 0
	}
	belowWatermark := p.cacheSize < p.minCacheSize
	newCacheSize := p.cacheSize
	p.mu.Unlock()
	metrics.PrefetchCacheSizeBytes.Set(float64(newCacheSize))
	if belowWatermark {
		p.signalRefill()
	}
}

// ResetHeight rewinds the fetch cursor after a reorg, logging the
// catch-up distance against a freshly queried daemon height.
func (p *Prefetcher) ResetHeight(ctx context.Context, height uint32) {
	p.mu.Lock()
	p.fetchedHeight = height
	p.caughtUp = false
	p.mu.Unlock()
	p.signalRefill()

	daemonHeight, err := p.daemon.Height(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("reset_height: daemon height query failed")
		return
	}
	p.log.Info().Uint32("height", height).Uint32("daemon_height", daemonHeight).
		Uint32("behind", daemonHeight-height).Msg("prefetcher reset")
}

func (p *Prefetcher) signalRefill() {
	select {
	case p.refill <- struct{}{}:
	default:
	}
}

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
