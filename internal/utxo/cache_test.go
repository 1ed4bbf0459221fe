package utxo

import (
	"bytes"
	"testing"

	"github.com/dgtorpheas/utxoindex/internal/chainerr"
	"github.com/dgtorpheas/utxoindex/internal/storage"
	"github.com/dgtorpheas/utxoindex/pkg/chainhash"
)

func hashWithByte(n byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = n
	return h
}

func fingerprintWithByte(n byte) chainhash.Fingerprint {
	var fp chainhash.Fingerprint
	fp[0] = n
	return fp
}

// fakeLookup resolves tx_ordinal -> full tx hash from a canned table,
// standing in for internal/fsarchive.Archive.TxHash.
type fakeLookup map[uint32]chainhash.Hash

func (f fakeLookup) TxHash(ordinal uint32) (chainhash.Hash, error) {
	h, ok := f[ordinal]
	if !ok {
		return chainhash.Hash{}, chainerr.New(chainerr.KindMissingUtxo, "no such ordinal")
	}
	return h, nil
}

func TestCacheAddSpendRoundTrip(t *testing.T) {
	c := NewCache(storage.NewMemory())
	op := Outpoint{TxHash: hashWithByte(1), Index: 0}
	want := Value{Fingerprint: fingerprintWithByte(7), Ordinal: 5, Amount: 1234}

	c.Add(op, want)
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}

	got, err := c.Spend(op, fakeLookup{})
	if err != nil {
		t.Fatalf("Spend: %v", err)
	}
	if got != want {
		t.Errorf("Spend() = %+v, want %+v", got, want)
	}
	if c.Len() != 0 {
		t.Errorf("Len() after spend = %d, want 0", c.Len())
	}
}

func TestCacheSpendMissingReturnsChainError(t *testing.T) {
	c := NewCache(storage.NewMemory())
	_, err := c.Spend(Outpoint{TxHash: hashWithByte(9), Index: 0}, fakeLookup{})
	if !chainerr.IsFatal(err) {
		t.Fatalf("Spend on missing outpoint: got %v, want a fatal ChainError", err)
	}
}

// TestCacheFlushAndSpendFromStore exercises the h/u table byte layout:
// a value flushed to the KV store, then spent via a fresh Cache that
// must fall through to the store (no cache hit).
func TestCacheFlushAndSpendFromStore(t *testing.T) {
	db := storage.NewMemory()
	c := NewCache(db)
	op := Outpoint{TxHash: hashWithByte(2), Index: 3}
	v := Value{Fingerprint: fingerprintWithByte(4), Ordinal: 11, Amount: 99887766}
	c.Add(op, v)

	batch := db.NewBatch()
	if err := c.FlushToBatch(batch); err != nil {
		t.Fatalf("FlushToBatch: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() after flush = %d, want 0", c.Len())
	}

	hk := hKey(op.TxHash, op.Index, v.Ordinal)
	hv, err := db.Get(hk)
	if err != nil {
		t.Fatalf("h-table Get: %v", err)
	}
	if !bytes.Equal(hv, v.Fingerprint[:]) {
		t.Errorf("h-table value = %x, want %x", hv, v.Fingerprint[:])
	}

	uk := uKey(v.Fingerprint, op.Index, v.Ordinal)
	uv, err := db.Get(uk)
	if err != nil {
		t.Fatalf("u-table Get: %v", err)
	}
	if len(uv) != 8 {
		t.Fatalf("u-table value length = %d, want 8", len(uv))
	}
	if leUint64(uv) != v.Amount {
		t.Errorf("u-table amount = %d, want %d", leUint64(uv), v.Amount)
	}

	fresh := NewCache(db)
	got, err := fresh.Spend(op, fakeLookup{})
	if err != nil {
		t.Fatalf("Spend from store: %v", err)
	}
	if got != v {
		t.Errorf("Spend from store = %+v, want %+v", got, v)
	}
	if fresh.DeleteCount() != 2 {
		t.Errorf("DeleteCount() = %d, want 2 (h entry + u entry)", fresh.DeleteCount())
	}
}

// TestCacheSpendResolvesTruncationCollision covers the h-table
// prefix-scan collision path: two outpoints whose tx hashes share the
// same leading 4 bytes (so they collide under hKeyPrefix truncation)
// but differ in the remaining bytes, each flushed to the store, then
// spent individually with a lookup that must disambiguate by ordinal.
func TestCacheSpendResolvesTruncationCollision(t *testing.T) {
	db := storage.NewMemory()
	c := NewCache(db)

	var txA, txB chainhash.Hash
	txA[0], txA[1], txA[2], txA[3] = 0xAA, 0xBB, 0xCC, 0xDD
	txB = txA
	txA[31] = 0x01
	txB[31] = 0x02
	if txA == txB {
		t.Fatal("test setup: txA and txB must differ")
	}

	opA := Outpoint{TxHash: txA, Index: 0}
	opB := Outpoint{TxHash: txB, Index: 0}
	valA := Value{Fingerprint: fingerprintWithByte(0x01), Ordinal: 100, Amount: 111}
	valB := Value{Fingerprint: fingerprintWithByte(0x02), Ordinal: 200, Amount: 222}

	c.Add(opA, valA)
	c.Add(opB, valB)
	batch := db.NewBatch()
	if err := c.FlushToBatch(batch); err != nil {
		t.Fatalf("FlushToBatch: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	lookup := fakeLookup{100: txA, 200: txB}

	fresh := NewCache(db)
	gotA, err := fresh.Spend(opA, lookup)
	if err != nil {
		t.Fatalf("Spend(opA): %v", err)
	}
	if gotA != valA {
		t.Errorf("Spend(opA) = %+v, want %+v", gotA, valA)
	}

	gotB, err := fresh.Spend(opB, lookup)
	if err != nil {
		t.Fatalf("Spend(opB): %v", err)
	}
	if gotB != valB {
		t.Errorf("Spend(opB) = %+v, want %+v", gotB, valB)
	}
}

// TestCacheSpendCollisionUnresolvedIsMissingUtxo covers the case where
// the prefix scan finds candidates sharing the truncated prefix but the
// lookup never matches the requested outpoint's full hash.
func TestCacheSpendCollisionUnresolvedIsMissingUtxo(t *testing.T) {
	db := storage.NewMemory()
	c := NewCache(db)

	var txA, txB, txC chainhash.Hash
	txA[0], txA[1], txA[2], txA[3] = 1, 2, 3, 4
	txB, txC = txA, txA
	txA[31], txB[31] = 0x10, 0x20
	txC[31] = 0x30 // never added, only queried for

	c.Add(Outpoint{TxHash: txA, Index: 0}, Value{Fingerprint: fingerprintWithByte(1), Ordinal: 1, Amount: 1})
	c.Add(Outpoint{TxHash: txB, Index: 0}, Value{Fingerprint: fingerprintWithByte(2), Ordinal: 2, Amount: 2})
	batch := db.NewBatch()
	if err := c.FlushToBatch(batch); err != nil {
		t.Fatalf("FlushToBatch: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	lookup := fakeLookup{1: txA, 2: txB}
	fresh := NewCache(db)
	_, err := fresh.Spend(Outpoint{TxHash: txC, Index: 0}, lookup)
	if !chainerr.IsFatal(err) {
		t.Fatalf("Spend with unresolved collision: got %v, want a fatal ChainError", err)
	}
}
