// Package history implements the address-history sub-index: for every
// address fingerprint, the ordered list of transaction ordinals that
// touched it. It is an external collaborator from the indexing engine's
// point of view (spec §1 names it out of scope) but is implemented here
// so the engine can be exercised end to end.
package history

import "github.com/dgtorpheas/utxoindex/pkg/chainhash"

// Index is the capability set the flush coordinator and advance/backup
// engine need from the address-history sub-index.
type Index interface {
	// AddUnflushed records, for each transaction in a just-advanced
	// batch (in order), the set of address fingerprints it touched.
	// startingTxOrdinal is the tx_ordinal assigned to perTx[0].
	AddUnflushed(perTx [][]chainhash.Fingerprint, startingTxOrdinal uint32)

	// Flush durably commits unflushed history entries and returns the
	// number of distinct addresses touched since the last flush.
	Flush() (touchedAddrCount int, err error)

	// Backup removes every history entry whose tx_ordinal is >= the
	// ordinal recorded for txCount, restricted to the given touched
	// fingerprints, and returns the number of entries removed.
	Backup(touched []chainhash.Fingerprint, txCount uint32) (removedCount int, err error)

	// CancelCompaction aborts any in-progress background compaction;
	// called before a backup so compaction never races the rewrite.
	CancelCompaction()

	// UnflushedMemsize estimates the byte size of unflushed entries, fed
	// into the flush coordinator's check_cache_size heuristic.
	UnflushedMemsize() int

	// FlushCount returns the number of completed flushes, persisted
	// across restarts.
	FlushCount() uint64

	// AssertFlushed panics (in tests) or returns an error if unflushed
	// state is non-empty, used by the flush coordinator's
	// assert_flushed invariant check.
	AssertFlushed() error
}
