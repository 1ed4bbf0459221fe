// Package storage provides database abstractions.
package storage

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key; the value slice is not
	// copied, must not be modified, and is valid only during the call.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch accumulates puts and deletes for an atomic commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by a DB that can produce an atomic write batch.
// The flush coordinator (internal/indexer) requires this: a partial
// commit between the h and u tables, or between the UTXO tables and the
// chain-state keys, would violate the db_* <= fs_* <= * invariant.
type Batcher interface {
	NewBatch() Batch
}
