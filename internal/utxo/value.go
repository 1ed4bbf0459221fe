// Package utxo implements the UTXO cache and its on-disk codec (spec
// §4.A): an in-memory map of unspent outputs plus the two-table
// encoding (h/u) that backs it in the KV store.
package utxo

import (
	"encoding/binary"
	"fmt"

	"github.com/dgtorpheas/utxoindex/pkg/chainhash"
)

// Outpoint identifies an output by its transaction hash and index.
type Outpoint struct {
	TxHash chainhash.Hash
	Index  uint16
}

// Value is the UTXO record stored in the cache. On disk its fields are
// split across the h table (fingerprint) and the u table (amount), with
// the ordinal in both keys. Encoded, it is the undo-record unit:
// 11 + 4 + 8 = 23 bytes.
type Value struct {
	Fingerprint chainhash.Fingerprint
	Ordinal     uint32
	Amount      uint64
}

// ValueSize is the encoded byte length of a Value (the undo-record
// per-entry size named in spec §3).
const ValueSize = chainhash.FingerprintSize + 4 + 8

// Encode serializes a Value to its 23-byte undo-record form:
// fingerprint(11) | tx_ordinal_u32_le(4) | amount_u64_le(8).
func (v Value) Encode() []byte {
	buf := make([]byte, 0, ValueSize)
	buf = append(buf, v.Fingerprint[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, v.Ordinal)
	buf = binary.LittleEndian.AppendUint64(buf, v.Amount)
	return buf
}

// DecodeValue parses a 23-byte undo-record entry.
func DecodeValue(b []byte) (Value, error) {
	if len(b) != ValueSize {
		return Value{}, fmt.Errorf("utxo: value must be %d bytes, got %d", ValueSize, len(b))
	}
	var v Value
	copy(v.Fingerprint[:], b[:chainhash.FingerprintSize])
	v.Ordinal = binary.LittleEndian.Uint32(b[chainhash.FingerprintSize:])
	v.Amount = binary.LittleEndian.Uint64(b[chainhash.FingerprintSize+4:])
	return v, nil
}

// hTablePrefix and uTablePrefix are the single-byte table prefixes from
// spec §3's two on-disk UTXO tables.
const (
	hTablePrefix = 'h'
	uTablePrefix = 'u'
)

// hKeyPrefix builds the prefix used to scan the h table for a given
// (tx_hash, idx): 'h' | tx_hash[0:4] | idx_u16_le. The tx_ordinal suffix
// is left off so this can be used both to build a full key (append 4
// more bytes) and as a scan prefix.
func hKeyPrefix(txHash chainhash.Hash, idx uint16) []byte {
	key := make([]byte, 0, 1+4+2)
	key = append(key, hTablePrefix)
	key = append(key, txHash[:4]...)
	key = binary.LittleEndian.AppendUint16(key, idx)
	return key
}

// hKey builds the full h-table key for (tx_hash, idx, tx_ordinal).
func hKey(txHash chainhash.Hash, idx uint16, ordinal uint32) []byte {
	key := hKeyPrefix(txHash, idx)
	return binary.LittleEndian.AppendUint32(key, ordinal)
}

// uKey builds the full u-table key for (fingerprint, idx, tx_ordinal).
func uKey(fp chainhash.Fingerprint, idx uint16, ordinal uint32) []byte {
	key := make([]byte, 0, 1+chainhash.FingerprintSize+2+4)
	key = append(key, uTablePrefix)
	key = append(key, fp[:]...)
	key = binary.LittleEndian.AppendUint16(key, idx)
	return binary.LittleEndian.AppendUint32(key, ordinal)
}

// ordinalFromHKey extracts the trailing tx_ordinal from a full h-table key.
func ordinalFromHKey(key []byte) (uint32, error) {
	const fullLen = 1 + 4 + 2 + 4
	if len(key) != fullLen {
		return 0, fmt.Errorf("utxo: malformed h-table key of length %d", len(key))
	}
	return binary.LittleEndian.Uint32(key[1+4+2:]), nil
}
