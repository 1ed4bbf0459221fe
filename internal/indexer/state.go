// Package indexer implements the advance/backup engine (spec §4.B), the
// flush coordinator (§4.C), and the chain controller (§4.D): components
// B, C, and D of the indexing engine, organized as a single Engine value
// owning disjoint substructures rather than package-scope singletons
// (spec §9).
package indexer

import (
	"encoding/binary"
	"sync"

	"github.com/dgtorpheas/utxoindex/internal/storage"
	"github.com/dgtorpheas/utxoindex/pkg/chainhash"
)

// State holds the triple-shadow chain-state tuple (spec §3):
// db_* <= fs_* <= * between flushes, equal immediately after one. All
// fields are mutated only while the caller holds the state lock.
type State struct {
	Height  uint32
	Tip     chainhash.Hash
	TxCount uint32

	DBHeight  uint32
	DBTip     chainhash.Hash
	DBTxCount uint32

	FSHeight  uint32
	FSTxCount uint32

	WallTime       int64
	GenesisHash    chainhash.Hash
	UTXOFlushCount uint64
}

const (
	keyHeight         = "s/height"
	keyTip            = "s/tip"
	keyTxCount        = "s/tx_count"
	keyWallTime       = "s/wall_time"
	keyGenesisHash    = "s/genesis_hash"
	keyUTXOFlushCount = "s/utxo_flush_count"
)

// loadState recovers chain state from the KV store, returning a zero
// State (height 0, no tip) if no state has ever been persisted.
func loadState(db storage.DB) (*State, error) {
	s := &State{}
	if v, err := db.Get([]byte(keyHeight)); err == nil {
		s.Height = binary.LittleEndian.Uint32(v)
		s.DBHeight = s.Height
		s.FSHeight = s.Height
	}
	if v, err := db.Get([]byte(keyTip)); err == nil {
		copy(s.Tip[:], v)
		s.DBTip = s.Tip
	}
	if v, err := db.Get([]byte(keyTxCount)); err == nil {
		s.TxCount = binary.LittleEndian.Uint32(v)
		s.DBTxCount = s.TxCount
		s.FSTxCount = s.TxCount
	}
	if v, err := db.Get([]byte(keyWallTime)); err == nil {
		s.WallTime = int64(binary.LittleEndian.Uint64(v))
	}
	if v, err := db.Get([]byte(keyGenesisHash)); err == nil {
		copy(s.GenesisHash[:], v)
	}
	if v, err := db.Get([]byte(keyUTXOFlushCount)); err == nil {
		s.UTXOFlushCount = binary.LittleEndian.Uint64(v)
	}
	return s, nil
}

// writeStateTo serializes the in-memory chain-state keys into dst,
// which may be a storage.Batch (flush's in-batch write) or a DB
// (flush's post-commit direct write, so wall_time reflects commit
// latency per spec §4.C).
func writeStateTo(dst interface {
	Put(key, value []byte) error
}, s *State, wallTime int64) error {
	buf4 := make([]byte, 4)
	buf8 := make([]byte, 8)

	binary.LittleEndian.PutUint32(buf4, s.Height)
	if err := dst.Put([]byte(keyHeight), append([]byte(nil), buf4...)); err != nil {
		return err
	}
	if err := dst.Put([]byte(keyTip), s.Tip.Bytes()); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf4, s.TxCount)
	if err := dst.Put([]byte(keyTxCount), append([]byte(nil), buf4...)); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf8, uint64(wallTime))
	if err := dst.Put([]byte(keyWallTime), append([]byte(nil), buf8...)); err != nil {
		return err
	}
	if err := dst.Put([]byte(keyGenesisHash), s.GenesisHash.Bytes()); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf8, s.UTXOFlushCount)
	if err := dst.Put([]byte(keyUTXOFlushCount), append([]byte(nil), buf8...)); err != nil {
		return err
	}
	return nil
}

// stateLock is the task-level mutex named in spec §5: held across
// advance/backup/flush calls and, in ReorgChain, across the fork-point
// search, which queries the daemon; never across a channel receive.
type stateLock struct {
	mu sync.Mutex
}

func (l *stateLock) Lock()   { l.mu.Lock() }
func (l *stateLock) Unlock() { l.mu.Unlock() }
