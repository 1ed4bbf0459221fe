package indexer

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/dgtorpheas/utxoindex/internal/metrics"
	"github.com/dgtorpheas/utxoindex/pkg/chainhash"
	"github.com/dgtorpheas/utxoindex/pkg/wire"
)

// PrefetcherControl is the subset of the prefetcher the chain controller
// drives: releasing backpressure as bytes are consumed, and resetting
// the fetch cursor after a reorg or mid-batch divergence (spec §4.D).
type PrefetcherControl interface {
	ProcessingBlocks(n int)
	ResetHeight(ctx context.Context, height uint32)
}

// HeaderCache is the header Merkle-proof cache external collaborator
// named in spec §1 and driven by spec §4.D step 4: "Truncate the header
// Merkle cache to the new height; reset the prefetcher to the new
// height." Building Merkle proofs is itself out of scope (spec
// Non-goals), so this interface exists only to discharge that truncate
// call on whatever cache implementation a caller configures.
type HeaderCache interface {
	Truncate(ctx context.Context, height uint32) error
}

// noopHeaderCache is the zero-value HeaderCache: an indexer that never
// serves Merkle proofs has nothing to truncate, but the reorg path still
// calls Truncate unconditionally, matching spec §4.D step 4 exactly.
type noopHeaderCache struct{}

func (noopHeaderCache) Truncate(ctx context.Context, height uint32) error { return nil }

// reorgChunkSize is the height-count per backup chunk during a reorg
// (spec §4.D: "in chunks of 50 heights").
const reorgChunkSize = 50

// CheckAndAdvanceBlocks is the chain controller's main entry point (spec
// §4.D). first is the height of blocks[0].
func (e *Engine) CheckAndAdvanceBlocks(ctx context.Context, prefetcher PrefetcherControl, raw [][]byte, first uint32, daemonHeight uint32) error {
	var totalBytes int
	for _, b := range raw {
		totalBytes += len(b)
	}
	prefetcher.ProcessingBlocks(totalBytes)

	e.lock.Lock()
	expectedFirst := e.state.Height + 1
	e.lock.Unlock()
	if first != expectedFirst {
		e.log.Info().Uint32("first", first).Uint32("expected", expectedFirst).Msg("dropping late batch after reorg")
		return nil
	}

	blocks := make([]*wire.ParsedBlock, 0, len(raw))
	for i, rb := range raw {
		height := first + uint32(i)
		pb, err := e.coin.DecodeBlock(rb, height)
		if err != nil {
			return fmt.Errorf("decode block at height %d: %w", height, err)
		}
		blocks = append(blocks, pb)
	}

	hprevs := make([]chainhash.Hash, len(blocks))
	chain := make([]chainhash.Hash, len(blocks))
	e.lock.Lock()
	chain[0] = e.state.Tip
	e.lock.Unlock()
	for i, b := range blocks {
		hprevs[i] = b.Header.PrevHash
		if i > 0 {
			chain[i] = blocks[i-1].Header.Hash
		}
	}

	if hashesEqual(hprevs, chain) {
		e.lock.Lock()
		err := e.worker.Run(ctx, func() error {
			return e.AdvanceBlocks(blocks, daemonHeight)
		})
		caughtUp := e.caughtUp
		e.lock.Unlock()
		if err != nil {
			return err
		}
		if caughtUp {
			e.NotifyTouched()
		}
		return nil
	}

	if hprevs[0] != chain[0] {
		return e.ReorgChain(ctx, prefetcher, nil)
	}

	// Mid-batch divergence: very rare. Reset the prefetcher to current
	// height and await fresh blocks.
	e.lock.Lock()
	height := e.state.Height
	e.lock.Unlock()
	prefetcher.ResetHeight(ctx, height)
	return nil
}

func hashesEqual(a, b []chainhash.Hash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MarkCaughtUp records that the prefetcher has reported no further work
// pending (spec §4.F's PrefetcherCaughtUp message).
func (e *Engine) MarkCaughtUp() {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.caughtUp = true
}

// ReorgChain is the reorg path (spec §4.D). count is nil for a real
// reorg (fork point found via ReorgHashes) or a positive height count to
// simulate one (ForceChainReorg).
func (e *Engine) ReorgChain(ctx context.Context, prefetcher PrefetcherControl, count *uint32) error {
	e.lock.Lock()
	if err := e.worker.RunLocked(func() error { return e.Flush(true) }); err != nil {
		e.lock.Unlock()
		return fmt.Errorf("reorg: initial flush: %w", err)
	}

	start, hashes, err := e.reorgHashes(ctx, count)
	if err != nil {
		e.lock.Unlock()
		return fmt.Errorf("reorg: compute fork point: %w", err)
	}
	e.lock.Unlock()

	total := len(hashes)
	for offset := total; offset > 0; offset -= reorgChunkSize {
		chunkLen := reorgChunkSize
		if chunkLen > offset {
			chunkLen = offset
		}
		chunkStart := start + int64(offset-chunkLen)

		blocks := make([]*wire.ParsedBlock, 0, chunkLen)
		for i := chunkLen - 1; i >= 0; i-- {
			height := chunkStart + int64(i)
			raw, err := e.fetchBlockForBackup(ctx, height)
			if err != nil {
				return fmt.Errorf("reorg: fetch block %d: %w", height, err)
			}
			pb, err := e.coin.DecodeBlock(raw, uint32(height))
			if err != nil {
				return fmt.Errorf("reorg: decode block %d: %w", height, err)
			}
			blocks = append(blocks, pb)
		}

		e.lock.Lock()
		err := e.worker.RunLocked(func() error { return e.BackupBlocks(blocks) })
		e.lock.Unlock()
		if err != nil {
			return fmt.Errorf("reorg: backup chunk at %d: %w", chunkStart, err)
		}
	}

	e.lock.Lock()
	newHeight := e.state.Height
	e.lock.Unlock()
	if err := e.headerCache.Truncate(ctx, newHeight); err != nil {
		return fmt.Errorf("reorg: truncate header cache: %w", err)
	}
	prefetcher.ResetHeight(ctx, newHeight)
	metrics.ReorgsTotal.Inc()
	return nil
}

// fetchBlockForBackup obtains a raw block preferentially from the local
// archive (fast path) and falls back to the daemon (spec §4.D / "SUPPLEMENTED
// FEATURES": raw-block archive fast path during reorg).
func (e *Engine) fetchBlockForBackup(ctx context.Context, height int64) ([]byte, error) {
	if raw, err := e.archive.ReadRawBlock(height); err == nil {
		return raw, nil
	}
	hashes, err := e.archive.BlockHashes(height, 1)
	if err != nil || len(hashes) != 1 {
		return nil, fmt.Errorf("no local hash for height %d to refetch from daemon", height)
	}
	hexHash := hex.EncodeToString(hashes[0][:])
	blocks, err := e.daemon.RawBlocks(ctx, []string{hexHash})
	if err != nil {
		return nil, fmt.Errorf("daemon raw_blocks: %w", err)
	}
	if len(blocks) != 1 {
		return nil, fmt.Errorf("daemon returned %d blocks, want 1", len(blocks))
	}
	return blocks[0], nil
}

// reorgHashes implements the fork-point doubling search (spec §4.D).
// When count is non-nil, the search is skipped: start = height-count+1.
func (e *Engine) reorgHashes(ctx context.Context, count *uint32) (int64, []chainhash.Hash, error) {
	height := int64(e.state.Height)

	if count != nil {
		start := height - int64(*count) + 1
		if start < 0 {
			start = 0
		}
		hashes, err := e.archive.BlockHashes(start, height-start+1)
		if err != nil {
			return 0, nil, err
		}
		return start, hashes, nil
	}

	start := height - 1
	step := int64(1)
	for {
		if start < 0 {
			start = 0
		}
		local, err := e.archive.BlockHashes(start, step)
		if err != nil {
			return 0, nil, fmt.Errorf("local hashes [%d,%d): %w", start, start+step, err)
		}
		remoteHex, err := e.daemon.BlockHexHashes(ctx, uint32(start), uint32(step))
		if err != nil {
			return 0, nil, fmt.Errorf("daemon hashes [%d,%d): %w", start, start+step, err)
		}

		diffPos := int64(step)
		for i := int64(0); i < step && i < int64(len(remoteHex)); i++ {
			remote, err := chainhash.HexToHash(remoteHex[i])
			if err != nil {
				return 0, nil, fmt.Errorf("decode remote hash: %w", err)
			}
			if local[i] != remote {
				diffPos = i
				break
			}
		}

		if diffPos > 0 {
			forkStart := start + diffPos
			resultLen := height - forkStart + 1
			hashes, err := e.archive.BlockHashes(forkStart, resultLen)
			if err != nil {
				return 0, nil, err
			}
			return forkStart, hashes, nil
		}

		if start == 0 {
			hashes, err := e.archive.BlockHashes(0, height+1)
			if err != nil {
				return 0, nil, err
			}
			return 0, hashes, nil
		}

		step *= 2
		if step > start {
			step = start
		}
		start -= step
	}
}

// ForceChainReorg simulates a reorg of count heights, returning false if
// the engine has not yet caught up to the daemon (spec §6).
func (e *Engine) ForceChainReorg(ctx context.Context, prefetcher PrefetcherControl, count uint32) bool {
	e.lock.Lock()
	caughtUp := e.caughtUp
	e.lock.Unlock()
	if !caughtUp {
		return false
	}
	if err := e.ReorgChain(ctx, prefetcher, &count); err != nil {
		e.log.Error().Err(err).Msg("force_chain_reorg failed")
	}
	return true
}
