package utxo

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/dgtorpheas/utxoindex/internal/chainerr"
	"github.com/dgtorpheas/utxoindex/internal/storage"
	"github.com/dgtorpheas/utxoindex/pkg/chainhash"
)

// TxHashLookup resolves a tx_ordinal back to its full transaction hash.
// It is satisfied by internal/fsarchive.Archive and is needed only to
// resolve the rare collision where two transactions share the same
// 4-byte tx_hash truncation (spec §4.A).
type TxHashLookup interface {
	TxHash(ordinal uint32) (chainhash.Hash, error)
}

// Cache is the in-memory UTXO cache and on-disk codec (spec §4.A). It
// holds additions not yet flushed and the ordered list of KV keys
// pending deletion; FlushToBatch atomically drains both into a write
// batch.
type Cache struct {
	db         storage.DB
	utxoCache  map[Outpoint]Value
	dbDeletes  [][]byte
}

// NewCache constructs a Cache reading from (and eventually flushing
// to) db. All unflushed state starts empty, matching the
// _on_dbs_opened lifecycle named in spec §3.
func NewCache(db storage.DB) *Cache {
	return &Cache{
		db:        db,
		utxoCache: make(map[Outpoint]Value),
	}
}

// Add inserts a UTXO into the cache unconditionally. Must not be called
// for unspendable outputs (spec §4.A) — callers skip outputs whose
// wire.TxOut.Spendable, set by the Coin's DecodeBlock, is false.
func (c *Cache) Add(op Outpoint, v Value) {
	c.utxoCache[op] = v
}

// Spend removes and returns the UTXO at op. It first checks the cache;
// on a miss it prefix-scans the h table, resolving any truncation
// collision via lookup, then reads the companion u-table entry for the
// amount. It fails with a fatal MissingUtxo ChainError if no matching
// entry exists anywhere.
func (c *Cache) Spend(op Outpoint, lookup TxHashLookup) (Value, error) {
	if v, ok := c.utxoCache[op]; ok {
		delete(c.utxoCache, op)
		return v, nil
	}

	prefix := hKeyPrefix(op.TxHash, op.Index)
	type candidate struct {
		key     []byte
		fp      chainhash.Fingerprint
		ordinal uint32
	}
	var candidates []candidate
	err := c.db.ForEach(prefix, func(key, value []byte) error {
		ordinal, err := ordinalFromHKey(key)
		if err != nil {
			return err
		}
		if len(value) != chainhash.FingerprintSize {
			return fmt.Errorf("utxo: malformed h-table value for key %x", key)
		}
		var fp chainhash.Fingerprint
		copy(fp[:], value)
		k := make([]byte, len(key))
		copy(k, key)
		candidates = append(candidates, candidate{key: k, fp: fp, ordinal: ordinal})
		return nil
	})
	if err != nil {
		return Value{}, fmt.Errorf("utxo: scan h table: %w", err)
	}

	var chosen *candidate
	switch len(candidates) {
	case 0:
		return Value{}, chainerr.Wrap(chainerr.KindMissingUtxo,
			fmt.Sprintf("no h-table entry for outpoint %s:%d", op.TxHash, op.Index), nil)
	case 1:
		chosen = &candidates[0]
	default:
		for i := range candidates {
			full, err := lookup.TxHash(candidates[i].ordinal)
			if err != nil {
				return Value{}, fmt.Errorf("utxo: resolve collision for ordinal %d: %w", candidates[i].ordinal, err)
			}
			if full == op.TxHash {
				chosen = &candidates[i]
				break
			}
		}
		if chosen == nil {
			return Value{}, chainerr.Wrap(chainerr.KindMissingUtxo,
				fmt.Sprintf("collision on outpoint %s:%d resolved to no candidate", op.TxHash, op.Index), nil)
		}
	}

	uk := uKey(chosen.fp, op.Index, chosen.ordinal)
	amountBytes, err := c.db.Get(uk)
	if err != nil {
		return Value{}, chainerr.Wrap(chainerr.KindMissingUtxo,
			fmt.Sprintf("h-table entry found but u-table entry missing for outpoint %s:%d", op.TxHash, op.Index), err)
	}
	if len(amountBytes) != 8 {
		return Value{}, fmt.Errorf("utxo: malformed u-table value for key %x", uk)
	}
	amount := leUint64(amountBytes)

	c.dbDeletes = append(c.dbDeletes, chosen.key, uk)

	return Value{Fingerprint: chosen.fp, Ordinal: chosen.ordinal, Amount: amount}, nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// FlushToBatch writes all pending deletes (sorted ascending, a locality
// hint — correctness does not depend on ordering since the batch
// commits atomically), then every cache entry's h and u records, then
// clears the cache and delete list.
func (c *Cache) FlushToBatch(batch storage.Batch) error {
	sort.Slice(c.dbDeletes, func(i, j int) bool {
		return bytes.Compare(c.dbDeletes[i], c.dbDeletes[j]) < 0
	})
	for _, key := range c.dbDeletes {
		if err := batch.Delete(key); err != nil {
			return fmt.Errorf("utxo: flush delete: %w", err)
		}
	}
	c.dbDeletes = nil

	for op, v := range c.utxoCache {
		if err := batch.Put(hKey(op.TxHash, op.Index, v.Ordinal), v.Fingerprint[:]); err != nil {
			return fmt.Errorf("utxo: flush h-table write: %w", err)
		}
		amountBuf := make([]byte, 8)
		putLE64(amountBuf, v.Amount)
		if err := batch.Put(uKey(v.Fingerprint, op.Index, v.Ordinal), amountBuf); err != nil {
			return fmt.Errorf("utxo: flush u-table write: %w", err)
		}
	}
	c.utxoCache = make(map[Outpoint]Value)
	return nil
}

func putLE64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v)
		v >>= 8
	}
}

// Len returns the number of unflushed cache entries, used by the flush
// coordinator's check_cache_size heuristic.
func (c *Cache) Len() int {
	return len(c.utxoCache)
}

// DeleteCount returns the number of pending deletes, used by the flush
// coordinator's check_cache_size heuristic.
func (c *Cache) DeleteCount() int {
	return len(c.dbDeletes)
}
