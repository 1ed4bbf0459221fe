package indexer

import (
	"fmt"

	"github.com/dgtorpheas/utxoindex/internal/chainerr"
	"github.com/dgtorpheas/utxoindex/internal/metrics"
	"github.com/dgtorpheas/utxoindex/internal/utxo"
	"github.com/dgtorpheas/utxoindex/pkg/chainhash"
	"github.com/dgtorpheas/utxoindex/pkg/wire"
)

// pendingHeader is one not-yet-fs-flushed block's header hash and
// concatenated transaction hashes (spec §3's "headers"/"tx_hashes"
// in-memory caches).
type pendingHeader struct {
	hash     chainhash.Hash
	txHashes []byte
}

// pendingUndo is one not-yet-flushed undo record, kept only for heights
// within reorgLimit of the daemon tip.
type pendingUndo struct {
	height int64
	data   []byte
}

// AdvanceBlocks applies a contiguous run of blocks in order (spec
// §4.B). The caller must hold the state lock and blocks[0].Header.PrevHash
// must equal e.state.Tip.
func (e *Engine) AdvanceBlocks(blocks []*wire.ParsedBlock, daemonHeight uint32) error {
	if len(blocks) == 0 {
		return nil
	}
	if blocks[0].Header.PrevHash != e.state.Tip {
		return chainerr.Wrap(chainerr.KindChainMismatch,
			fmt.Sprintf("advance: first block prev_hash %s != tip %s", blocks[0].Header.PrevHash, e.state.Tip), nil)
	}

	for _, block := range blocks {
		if err := e.advanceOne(block, daemonHeight); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) advanceOne(block *wire.ParsedBlock, daemonHeight uint32) error {
	startOrdinal := e.state.TxCount
	perTx := make([][]chainhash.Fingerprint, 0, len(block.Transactions))

	withinReorgLimit := uint32(block.Header.Height)+e.reorgLimit >= daemonHeight
	var undoBuf []byte

	ordinal := startOrdinal
	for _, tx := range block.Transactions {
		var touchedByTx []chainhash.Fingerprint

		if !tx.Coinbase {
			for _, in := range tx.Inputs {
				v, err := e.cache.Spend(utxo.Outpoint{TxHash: in.PrevTxHash, Index: uint16(in.PrevIndex)}, e.archive)
				if err != nil {
					return fmt.Errorf("advance height %d tx %s: %w", block.Header.Height, tx.Hash, err)
				}
				if withinReorgLimit {
					undoBuf = append(undoBuf, v.Encode()...)
				}
				e.markTouched(v.Fingerprint)
				touchedByTx = append(touchedByTx, v.Fingerprint)
			}
		}

		for idx, out := range tx.Outputs {
			if !out.Spendable {
				continue
			}
			e.cache.Add(utxo.Outpoint{TxHash: tx.Hash, Index: uint16(idx)}, utxo.Value{
				Fingerprint: out.Fingerprint,
				Ordinal:     ordinal,
				Amount:      out.Value,
			})
			e.markTouched(out.Fingerprint)
			touchedByTx = append(touchedByTx, out.Fingerprint)
		}

		perTx = append(perTx, touchedByTx)
		ordinal++
	}

	e.pendingHeaders = append(e.pendingHeaders, pendingHeader{
		hash:     block.Header.Hash,
		txHashes: block.TxHashes(),
	})
	e.state.TxCount = ordinal
	if withinReorgLimit {
		e.pendingUndos = append(e.pendingUndos, pendingUndo{height: int64(block.Header.Height), data: undoBuf})
		if err := e.archive.WriteRawBlock(block.RawBytes, int64(block.Header.Height)); err != nil {
			return fmt.Errorf("advance height %d: %w", block.Header.Height, err)
		}
	}

	e.state.Height = block.Header.Height
	e.state.Tip = block.Header.Hash

	e.history.AddUnflushed(perTx, startOrdinal)

	metrics.BlocksAdvancedTotal.Inc()
	metrics.IndexedHeight.Set(float64(e.state.Height))
	metrics.DaemonHeight.Set(float64(daemonHeight))
	return nil
}

// markTouched adds fp to the set of addresses touched since the last
// notification (spec §3's "touched" cache).
func (e *Engine) markTouched(fp chainhash.Fingerprint) {
	if fp.IsZero() {
		return
	}
	e.touched[fp] = struct{}{}
}

// BackupBlocks reverses blocks in decreasing-height order, starting at
// the current height (spec §4.B). Precondition: all caches are flushed
// and e.state.Height >= len(blocks). Per spec §9's Open Question
// resolution, each BackupBlocks call begins with an empty UTXO cache
// (ReorgChain flushes first) and Spend falls through to the KV store on
// a cache miss. UTXOs restored from one block's undo record stay in the
// cache while later blocks of the same call are reversed, until
// backupFlush writes them out. Any history compaction is cancelled
// before the first block is reversed.
func (e *Engine) BackupBlocks(blocks []*wire.ParsedBlock) error {
	e.history.CancelCompaction()
	for _, block := range blocks {
		if err := e.backupOne(block); err != nil {
			return err
		}
	}
	return e.backupFlush()
}

func (e *Engine) backupOne(block *wire.ParsedBlock) error {
	if block.Header.Hash != e.state.Tip {
		return chainerr.Wrap(chainerr.KindChainMismatch,
			fmt.Sprintf("backup: block hash %s != tip %s", block.Header.Hash, e.state.Tip), nil)
	}

	undo, err := e.archive.ReadUndo(int64(block.Header.Height))
	if err != nil {
		return chainerr.Wrap(chainerr.KindMissingUndo,
			fmt.Sprintf("backup height %d: no undo record", block.Header.Height), err)
	}
	cursor := len(undo)

	for i := len(block.Transactions) - 1; i >= 0; i-- {
		tx := block.Transactions[i]

		for idx := len(tx.Outputs) - 1; idx >= 0; idx-- {
			out := tx.Outputs[idx]
			if !out.Spendable {
				continue
			}
			v, err := e.cache.Spend(utxo.Outpoint{TxHash: tx.Hash, Index: uint16(idx)}, e.archive)
			if err != nil {
				return fmt.Errorf("backup height %d tx %s output %d: %w", block.Header.Height, tx.Hash, idx, err)
			}
			e.markTouched(v.Fingerprint)
		}

		if tx.Coinbase {
			continue
		}
		for j := len(tx.Inputs) - 1; j >= 0; j-- {
			in := tx.Inputs[j]
			if cursor < utxo.ValueSize {
				return chainerr.New(chainerr.KindMissingUndo,
					fmt.Sprintf("backup height %d: undo record exhausted", block.Header.Height))
			}
			cursor -= utxo.ValueSize
			v, err := utxo.DecodeValue(undo[cursor : cursor+utxo.ValueSize])
			if err != nil {
				return fmt.Errorf("backup height %d: decode undo entry: %w", block.Header.Height, err)
			}
			e.cache.Add(utxo.Outpoint{TxHash: in.PrevTxHash, Index: uint16(in.PrevIndex)}, v)
			e.markTouched(v.Fingerprint)
		}
	}

	if cursor != 0 {
		return chainerr.New(chainerr.KindMissingUndo,
			fmt.Sprintf("backup height %d: undo cursor landed at %d, want 0", block.Header.Height, cursor))
	}

	e.state.Tip = block.Header.PrevHash
	e.state.Height--
	e.state.TxCount -= uint32(block.TxCount())

	metrics.BlocksBackedUpTotal.Inc()
	metrics.IndexedHeight.Set(float64(e.state.Height))
	return nil
}
