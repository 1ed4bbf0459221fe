// Package coin defines the block-parsing capability set the indexing
// engine depends on, and provides one concrete implementation for a
// simple reference chain. Parsing is deliberately external to the
// engine: swapping Coin implementations targets a different chain
// without touching internal/indexer.
package coin

import (
	"context"

	"github.com/dgtorpheas/utxoindex/pkg/chainhash"
	"github.com/dgtorpheas/utxoindex/pkg/wire"
)

// Coin is the capability set a chain-specific decoder exposes. Variants
// exist per supported chain; the engine only ever talks to this
// interface, never to a concrete decoder.
type Coin interface {
	// DecodeBlock parses raw block bytes at the given height into a
	// ParsedBlock.
	DecodeBlock(raw []byte, height uint32) (*wire.ParsedBlock, error)

	// HeaderHash returns the hash of a raw header.
	HeaderHash(rawHeader []byte) chainhash.Hash

	// HeaderPrevHash returns the previous-block hash encoded in a raw header.
	HeaderPrevHash(rawHeader []byte) chainhash.Hash

	// FingerprintFromScript returns the address fingerprint for a locking
	// script, or ok=false if the script is unspendable (e.g. a data
	// carrier) and must never be stored as a UTXO.
	FingerprintFromScript(script []byte) (fp chainhash.Fingerprint, ok bool)

	// GenesisBlock returns the canonical encoding of the genesis block.
	// The prefetcher substitutes this for whatever bytes the daemon
	// returns at height 0, matching chains whose daemon cannot replay
	// its own genesis block through the normal RPC path.
	GenesisBlock(ctx context.Context) ([]byte, error)

	// TxCountHint, TxCountHeight, and TxPerBlock are tunables used only
	// for catch-up ETA estimation; they carry no consensus meaning.
	TxCountHint() uint64
	TxCountHeight() uint32
	TxPerBlock() float64
}
