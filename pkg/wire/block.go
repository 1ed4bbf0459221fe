// Package wire defines the parsed block/transaction shapes produced by a
// Coin decoder and consumed by the indexing engine. These are in-memory
// views over already-decoded data; wire does not itself decode raw bytes.
package wire

import "github.com/dgtorpheas/utxoindex/pkg/chainhash"

// Header is the subset of block header fields the indexer needs: enough
// to compute header_hash/header_prevhash and to archive the raw header
// bytes. The Coin decoder is responsible for interpreting RawBytes into
// PrevHash/Hash; the indexer treats them as opaque 32-byte values.
type Header struct {
	RawBytes []byte
	Hash     chainhash.Hash
	PrevHash chainhash.Hash
	Height   uint32
}

// TxIn references the previous output being spent. Coinbase inputs carry
// a zero PrevTxHash.
type TxIn struct {
	PrevTxHash chainhash.Hash
	PrevIndex  uint32
}

// IsCoinbase reports whether this input is the synthetic coinbase input
// (no real previous output is spent).
func (in TxIn) IsCoinbase() bool {
	return in.PrevTxHash.IsZero()
}

// TxOut is a single pay-to-script output. Fingerprint is the zero value
// for unspendable outputs (e.g. OP_RETURN data carriers); those are
// never added to the UTXO set.
type TxOut struct {
	Value       uint64
	Script      []byte
	Fingerprint chainhash.Fingerprint
	Spendable   bool
}

// Tx is a fully decoded transaction as produced by a Coin decoder.
type Tx struct {
	Hash      chainhash.Hash
	Coinbase  bool
	Inputs    []TxIn
	Outputs   []TxOut
}

// ParsedBlock is a fully decoded block: header plus transactions, ready
// for the advance/backup engine. The coinbase transaction, if present,
// is expected first in Transactions (Coin decoders are responsible for
// this ordering; the engine does not re-sort).
type ParsedBlock struct {
	Header       Header
	Transactions []Tx
	RawBytes     []byte
}

// TxCount returns the number of transactions in the block.
func (b *ParsedBlock) TxCount() int {
	return len(b.Transactions)
}

// TxHashes returns the concatenated 32-byte transaction hashes in block
// order, the format appended to the filesystem archive's tx-hash file.
func (b *ParsedBlock) TxHashes() []byte {
	out := make([]byte, 0, len(b.Transactions)*chainhash.HashSize)
	for _, tx := range b.Transactions {
		out = append(out, tx.Hash[:]...)
	}
	return out
}
