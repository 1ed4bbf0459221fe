package history

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dgtorpheas/utxoindex/pkg/chainhash"
	"github.com/dgtorpheas/utxoindex/internal/storage"
)

// entrySize is the per-entry memory estimate used by UnflushedMemsize:
// an 11-byte fingerprint plus a 4-byte ordinal plus map/slice overhead.
const entrySize = 32

const flushCountKey = "history/flush_count"

// KVIndex is a History.Index written directly to the storage.DB it is
// given (cmd/utxoindexd passes the same store that holds the UTXO
// tables), outside the UTXO write batch, matching
// the original design where the history sub-index flushes independently
// of the UTXO batch (spec §4.C: "ask the history index to flush (fast;
// frees memory)" happens before the UTXO write batch is even opened).
type KVIndex struct {
	mu sync.Mutex
	db storage.DB

	unflushed map[chainhash.Fingerprint][]uint32
	flushCount uint64
}

// NewKVIndex opens a history index backed by db.
func NewKVIndex(db storage.DB) (*KVIndex, error) {
	idx := &KVIndex{
		db:        db,
		unflushed: make(map[chainhash.Fingerprint][]uint32),
	}
	if raw, err := db.Get([]byte(flushCountKey)); err == nil {
		idx.flushCount = binary.LittleEndian.Uint64(raw)
	}
	return idx, nil
}

// historyKey builds the 'H' + fingerprint + tx_ordinal_be key. Big-endian
// ordinal keeps per-address entries in ascending tx order under
// lexicographic iteration, matching how addressed balance/history
// lookups want to walk them.
func historyKey(fp chainhash.Fingerprint, ordinal uint32) []byte {
	key := make([]byte, 0, 1+chainhash.FingerprintSize+4)
	key = append(key, 'H')
	key = append(key, fp[:]...)
	key = binary.BigEndian.AppendUint32(key, ordinal)
	return key
}

// AddUnflushed records per-tx fingerprint touches for a just-advanced batch.
func (idx *KVIndex) AddUnflushed(perTx [][]chainhash.Fingerprint, startingTxOrdinal uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i, fps := range perTx {
		ordinal := startingTxOrdinal + uint32(i)
		for _, fp := range fps {
			idx.unflushed[fp] = append(idx.unflushed[fp], ordinal)
		}
	}
}

// Flush commits unflushed entries to the KV store and returns the number
// of distinct addresses touched.
func (idx *KVIndex) Flush() (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	touched := len(idx.unflushed)
	for fp, ordinals := range idx.unflushed {
		for _, ord := range ordinals {
			if err := idx.db.Put(historyKey(fp, ord), nil); err != nil {
				return 0, fmt.Errorf("history flush: %w", err)
			}
		}
	}
	idx.unflushed = make(map[chainhash.Fingerprint][]uint32)
	idx.flushCount++

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, idx.flushCount)
	if err := idx.db.Put([]byte(flushCountKey), buf); err != nil {
		return 0, fmt.Errorf("history flush: persist flush_count: %w", err)
	}
	return touched, nil
}

// Backup removes every history entry with tx_ordinal >= txCount for each
// touched fingerprint, returning the number of entries removed.
func (idx *KVIndex) Backup(touched []chainhash.Fingerprint, txCount uint32) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	removed := 0
	for _, fp := range touched {
		prefix := append([]byte{'H'}, fp[:]...)
		var stale [][]byte
		err := idx.db.ForEach(prefix, func(key, _ []byte) error {
			if len(key) != len(prefix)+4 {
				return nil
			}
			ordinal := binary.BigEndian.Uint32(key[len(prefix):])
			if ordinal >= txCount {
				k := make([]byte, len(key))
				copy(k, key)
				stale = append(stale, k)
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("history backup: scan %s: %w", fp, err)
		}
		for _, k := range stale {
			if err := idx.db.Delete(k); err != nil {
				return 0, fmt.Errorf("history backup: delete: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

// CancelCompaction is a no-op for KVIndex: it runs no background
// compaction of its own (the underlying storage.DB owns compaction).
func (idx *KVIndex) CancelCompaction() {}

// UnflushedMemsize estimates the byte size of unflushed entries.
func (idx *KVIndex) UnflushedMemsize() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n := 0
	for _, ordinals := range idx.unflushed {
		n += len(ordinals) * entrySize
	}
	return n
}

// FlushCount returns the number of completed flushes.
func (idx *KVIndex) FlushCount() uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.flushCount
}

// AssertFlushed returns an error if any unflushed entries remain.
func (idx *KVIndex) AssertFlushed() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(idx.unflushed) != 0 {
		return fmt.Errorf("history: %d addresses have unflushed entries", len(idx.unflushed))
	}
	return nil
}
