package indexer

import (
	"fmt"
	"time"

	"github.com/dgtorpheas/utxoindex/internal/metrics"
	"github.com/dgtorpheas/utxoindex/internal/storage"
)

// Per-entry memory estimates from spec §4.C's check_cache_size heuristic.
const (
	utxoCacheEntryBytes = 205
	dbDeleteEntryBytes  = 57
	txHashBytesPerTx    = 32
	txHashBytesPerBlock = 42
)

// Flush is the forward flush coordinator (spec §4.C). It is a no-op if
// height == db_height and tip == db_tip (the tip check matters at height
// 0, where an empty store and an advanced genesis block share a height).
// Otherwise it appends headers/tx-hashes to the filesystem, asks the
// history index to flush, and, when flushUTXOs is set, writes the UTXO
// cache into a KV write batch and the pending undo records to the
// archive. The batch always carries the chain state; afterwards db_* ==
// current state.
func (e *Engine) Flush(flushUTXOs bool) error {
	if e.state.Height == e.state.DBHeight && e.state.Tip == e.state.DBTip {
		return nil
	}

	start := time.Now()
	kind := "partial"
	if flushUTXOs {
		kind = "full"
	}
	defer func() {
		metrics.FlushesTotal.WithLabelValues(kind).Inc()
		metrics.FlushDurationSeconds.Observe(time.Since(start).Seconds())
		metrics.CacheSizeBytes.Set(float64(e.cache.Len()*utxoCacheEntryBytes + e.cache.DeleteCount()*dbDeleteEntryBytes))
	}()

	if err := e.fsFlush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	if _, err := e.history.Flush(); err != nil {
		return fmt.Errorf("flush: history: %w", err)
	}

	batcher, ok := e.db.(storage.Batcher)
	if !ok {
		return fmt.Errorf("flush: underlying store does not support atomic batches")
	}
	batch := batcher.NewBatch()

	if flushUTXOs {
		if err := e.cache.FlushToBatch(batch); err != nil {
			return fmt.Errorf("flush: utxo cache: %w", err)
		}
		for _, u := range e.pendingUndos {
			if err := e.archive.WriteUndo(u.data, u.height); err != nil {
				return fmt.Errorf("flush: undo record height %d: %w", u.height, err)
			}
		}
		e.pendingUndos = nil
		e.state.UTXOFlushCount++
	}

	wallTime := e.nowUnix()
	if err := writeStateTo(batch, e.state, wallTime); err != nil {
		return fmt.Errorf("flush: write state to batch: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("flush: commit batch: %w", err)
	}

	// Re-record wall_time directly (not in the batch) so it captures
	// commit latency, matching spec §4.C.
	wallTime = e.nowUnix()
	if err := writeStateTo(e.db, e.state, wallTime); err != nil {
		return fmt.Errorf("flush: write wall_time: %w", err)
	}

	e.state.DBHeight = e.state.Height
	e.state.DBTip = e.state.Tip
	e.state.DBTxCount = e.state.TxCount
	e.state.WallTime = wallTime
	e.lastFlushWall = wallTime
	return nil
}

// fsFlush appends all pending headers/tx-hashes to the archive and
// advances the fs_* shadow copies.
func (e *Engine) fsFlush() error {
	for i, h := range e.pendingHeaders {
		if err := e.archive.AppendBlock(h.hash, h.txHashes); err != nil {
			return err
		}
		e.state.FSHeight = e.state.Height - uint32(len(e.pendingHeaders)-1-i)
		e.state.FSTxCount += uint32(len(h.txHashes) / 32)
	}
	e.pendingHeaders = nil
	return nil
}

// backupFlush is the reorg-mode flush (spec §4.C). It pre-asserts
// history is flushed and no headers/tx-hashes are pending (backup never
// produces FS-appended data), moves the FS pointers back, instructs the
// history index to drop post-height entries for every touched address,
// then runs a batched UTXO flush + state write.
func (e *Engine) backupFlush() error {
	start := time.Now()
	defer func() {
		metrics.FlushesTotal.WithLabelValues("backup").Inc()
		metrics.FlushDurationSeconds.Observe(time.Since(start).Seconds())
		metrics.CacheSizeBytes.Set(float64(e.cache.Len()*utxoCacheEntryBytes + e.cache.DeleteCount()*dbDeleteEntryBytes))
	}()

	if err := e.history.AssertFlushed(); err != nil {
		return fmt.Errorf("backup_flush: %w", err)
	}
	if len(e.pendingHeaders) != 0 {
		return fmt.Errorf("backup_flush: pending headers non-empty during backup")
	}

	e.state.FSHeight = e.state.Height
	e.state.FSTxCount = e.state.TxCount

	fps := e.touchedSlice()
	if _, err := e.history.Backup(fps, e.state.TxCount); err != nil {
		return fmt.Errorf("backup_flush: history backup: %w", err)
	}

	batcher, ok := e.db.(storage.Batcher)
	if !ok {
		return fmt.Errorf("backup_flush: underlying store does not support atomic batches")
	}
	batch := batcher.NewBatch()
	if err := e.cache.FlushToBatch(batch); err != nil {
		return fmt.Errorf("backup_flush: utxo cache: %w", err)
	}
	e.state.UTXOFlushCount++
	wallTime := e.nowUnix()
	if err := writeStateTo(batch, e.state, wallTime); err != nil {
		return fmt.Errorf("backup_flush: write state: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("backup_flush: commit: %w", err)
	}

	e.state.DBHeight = e.state.Height
	e.state.DBTip = e.state.Tip
	e.state.DBTxCount = e.state.TxCount
	e.state.WallTime = wallTime
	e.lastFlushWall = wallTime
	e.resetTouched()
	return nil
}

// CheckCacheSize estimates memory use from entry counts and triggers an
// adaptive flush if over budget (spec §4.C).
func (e *Engine) CheckCacheSize() error {
	utxoBytes := int64(e.cache.Len())*utxoCacheEntryBytes + int64(e.cache.DeleteCount())*dbDeleteEntryBytes
	histBytes := int64(e.history.UnflushedMemsize())
	for _, h := range e.pendingHeaders {
		histBytes += int64(len(h.txHashes)/32*txHashBytesPerTx) + txHashBytesPerBlock
	}

	if utxoBytes >= (e.cacheBudgetBytes*80)/100 {
		return e.Flush(true)
	}
	if histBytes >= (e.cacheBudgetBytes*20)/100 {
		return e.Flush(false)
	}
	return nil
}

// AssertFlushed checks the invariant named in spec §4.C and §8: when
// height == db_height, tx_count == fs_tx_count == db_tx_count, all
// unflushed caches are empty, and the history index reports flushed.
func (e *Engine) AssertFlushed() error {
	if e.state.Height != e.state.DBHeight {
		return fmt.Errorf("assert_flushed: height %d != db_height %d", e.state.Height, e.state.DBHeight)
	}
	if e.state.TxCount != e.state.FSTxCount || e.state.FSTxCount != e.state.DBTxCount {
		return fmt.Errorf("assert_flushed: tx_count %d, fs_tx_count %d, db_tx_count %d not equal",
			e.state.TxCount, e.state.FSTxCount, e.state.DBTxCount)
	}
	if e.cache.Len() != 0 || e.cache.DeleteCount() != 0 {
		return fmt.Errorf("assert_flushed: utxo cache not empty")
	}
	if len(e.pendingHeaders) != 0 || len(e.pendingUndos) != 0 {
		return fmt.Errorf("assert_flushed: pending headers/undos not empty")
	}
	return e.history.AssertFlushed()
}

func (e *Engine) nowUnix() int64 {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now().Unix()
}
