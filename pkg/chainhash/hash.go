// Package chainhash defines the primitive hash and fingerprint types
// shared across the indexing engine.
package chainhash

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// HashSize is the length of a transaction or header hash in bytes.
const HashSize = 32

// Hash is a 256-bit hash value, such as a transaction or block header hash.
type Hash [HashSize]byte

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the hex-encoded hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// MarshalJSON encodes the hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string into a hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = Hash{}
		return nil
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(decoded) != HashSize {
		return fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(decoded))
	}
	copy(h[:], decoded)
	return nil
}

// HexToHash converts a hex string to a Hash.
func HexToHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// Sum256 computes the BLAKE3-256 hash of data.
func Sum256(data []byte) Hash {
	return blake3.Sum256(data)
}

// FingerprintSize is the length, in bytes, of an address fingerprint: a
// truncated hash of an output's locking script, used as the indexing
// unit for per-address UTXO lookups.
const FingerprintSize = 11

// Fingerprint is an 11-byte truncated hash of a locking script.
type Fingerprint [FingerprintSize]byte

// IsZero reports whether the fingerprint is the empty/unspendable marker.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// String returns the hex-encoded fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Bytes returns a copy of the fingerprint as a byte slice.
func (f Fingerprint) Bytes() []byte {
	b := make([]byte, FingerprintSize)
	copy(b, f[:])
	return b
}

// FingerprintFromScript derives the address fingerprint for a locking
// script: the leading FingerprintSize bytes of its BLAKE3-256 hash.
// Callers are responsible for excluding unspendable scripts before
// calling this (an OP_RETURN-style script has no fingerprint).
func FingerprintFromScript(script []byte) Fingerprint {
	h := Sum256(script)
	var fp Fingerprint
	copy(fp[:], h[:FingerprintSize])
	return fp
}

// FingerprintFromBytes copies b (which must be FingerprintSize bytes)
// into a Fingerprint.
func FingerprintFromBytes(b []byte) (Fingerprint, error) {
	if len(b) != FingerprintSize {
		return Fingerprint{}, fmt.Errorf("fingerprint must be %d bytes, got %d", FingerprintSize, len(b))
	}
	var fp Fingerprint
	copy(fp[:], b)
	return fp, nil
}
