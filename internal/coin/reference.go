package coin

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/dgtorpheas/utxoindex/pkg/chainhash"
	"github.com/dgtorpheas/utxoindex/pkg/wire"
)

// scriptType mirrors the teacher chain's locking-script byte enum. Burn
// is always unspendable, and a P2PKH output is unspendable unless its
// script is a valid compressed pubkey (scriptSpendable); everything else
// carries a fingerprint.
type scriptType byte

const (
	scriptP2PKH scriptType = 0x01
	scriptP2SH  scriptType = 0x02
	scriptBurn  scriptType = 0x11
)

// Reference is a minimal Coin implementation for a chain whose raw block
// format is a straightforward little-endian encoding of header and
// transactions. It exists to make internal/indexer testable end to end
// without a real daemon, and as the template a production Coin adapts.
type Reference struct {
	genesis []byte
}

// NewReference constructs a Reference decoder. genesis is the canonical
// genesis block encoding returned by GenesisBlock.
func NewReference(genesis []byte) *Reference {
	return &Reference{genesis: genesis}
}

const headerSize = 4 + 32 + 32 + 8 + 8 + 8 // version|prev_hash|merkle_root|timestamp|height|nonce

// DecodeBlock parses raw block bytes into a ParsedBlock.
func (r *Reference) DecodeBlock(raw []byte, height uint32) (*wire.ParsedBlock, error) {
	if len(raw) < headerSize+4 {
		return nil, fmt.Errorf("reference coin: block too short: %d bytes", len(raw))
	}
	rawHeader := raw[:headerSize]
	pos := headerSize

	txCount := binary.LittleEndian.Uint32(raw[pos:])
	pos += 4

	txs := make([]wire.Tx, 0, txCount)
	for i := uint32(0); i < txCount; i++ {
		tx, n, err := decodeTx(raw[pos:], i == 0)
		if err != nil {
			return nil, fmt.Errorf("reference coin: decode tx %d: %w", i, err)
		}
		txs = append(txs, *tx)
		pos += n
	}

	return &wire.ParsedBlock{
		Header: wire.Header{
			RawBytes: rawHeader,
			Hash:     r.HeaderHash(rawHeader),
			PrevHash: r.HeaderPrevHash(rawHeader),
			Height:   height,
		},
		Transactions: txs,
		RawBytes:     raw,
	}, nil
}

// decodeTx reads one transaction starting at buf[0], returning the
// number of bytes consumed.
//
// Format: input_count(4) | [prev_tx_hash(32) prev_index(4) sig_len(4) sig]...
// | output_count(4) | [value(8) script_type(1) script_len(4) script]...
func decodeTx(buf []byte, coinbase bool) (*wire.Tx, int, error) {
	pos := 0
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("truncated input count")
	}
	inCount := binary.LittleEndian.Uint32(buf[pos:])
	pos += 4

	ins := make([]wire.TxIn, 0, inCount)
	for i := uint32(0); i < inCount; i++ {
		if len(buf) < pos+32+4+4 {
			return nil, 0, fmt.Errorf("truncated input %d", i)
		}
		var prevHash chainhash.Hash
		copy(prevHash[:], buf[pos:pos+32])
		pos += 32
		prevIndex := binary.LittleEndian.Uint32(buf[pos:])
		pos += 4
		sigLen := binary.LittleEndian.Uint32(buf[pos:])
		pos += 4
		if len(buf) < pos+int(sigLen) {
			return nil, 0, fmt.Errorf("truncated sig on input %d", i)
		}
		pos += int(sigLen)
		ins = append(ins, wire.TxIn{PrevTxHash: prevHash, PrevIndex: prevIndex})
	}

	if len(buf) < pos+4 {
		return nil, 0, fmt.Errorf("truncated output count")
	}
	outCount := binary.LittleEndian.Uint32(buf[pos:])
	pos += 4

	outs := make([]wire.TxOut, 0, outCount)
	for i := uint32(0); i < outCount; i++ {
		if len(buf) < pos+8+1+4 {
			return nil, 0, fmt.Errorf("truncated output %d", i)
		}
		value := binary.LittleEndian.Uint64(buf[pos:])
		pos += 8
		st := scriptType(buf[pos])
		pos++
		scriptLen := binary.LittleEndian.Uint32(buf[pos:])
		pos += 4
		if len(buf) < pos+int(scriptLen) {
			return nil, 0, fmt.Errorf("truncated script on output %d", i)
		}
		script := buf[pos : pos+int(scriptLen)]
		pos += int(scriptLen)

		out := wire.TxOut{Value: value, Script: script}
		if st != scriptBurn && scriptSpendable(st, script) {
			out.Fingerprint = chainhash.FingerprintFromScript(script)
			out.Spendable = true
		}
		outs = append(outs, out)
	}

	txHashBuf := signingBytes(inCount, ins, outs)
	txHash := chainhash.Sum256(txHashBuf)

	return &wire.Tx{
		Hash:     txHash,
		Coinbase: coinbase,
		Inputs:   ins,
		Outputs:  outs,
	}, pos, nil
}

// scriptSpendable reports whether a non-burn output script is actually
// indexable. A P2PKH script carries a 33-byte compressed pubkey as its
// fingerprint source; one that doesn't parse onto the secp256k1 curve
// can never be spent against a valid signature, so it's excluded from
// the fingerprint index rather than silently hashed anyway.
func scriptSpendable(st scriptType, script []byte) bool {
	if st != scriptP2PKH {
		return true
	}
	if len(script) != 33 {
		return false
	}
	_, err := secp256k1.ParsePubKey(script)
	return err == nil
}

// signingBytes builds the canonical byte form hashed to produce a tx
// hash: input count + prevouts, output count + outputs. It deliberately
// excludes signatures (not modeled here at all) so that identical
// economic effects hash identically regardless of witness data.
func signingBytes(inCount uint32, ins []wire.TxIn, outs []wire.TxOut) []byte {
	buf := make([]byte, 0, 4+len(ins)*36+4+len(outs)*45)
	buf = binary.LittleEndian.AppendUint32(buf, inCount)
	for _, in := range ins {
		buf = append(buf, in.PrevTxHash[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevIndex)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(outs)))
	for _, out := range outs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.Script)))
		buf = append(buf, out.Script...)
	}
	return buf
}

// HeaderHash computes the hash of a raw header.
func (r *Reference) HeaderHash(rawHeader []byte) chainhash.Hash {
	return chainhash.Sum256(rawHeader)
}

// HeaderPrevHash extracts the previous-block hash from a raw header.
// Layout: version(4) | prev_hash(32) | merkle_root(32) | timestamp(8) | height(8) | nonce(8)
func (r *Reference) HeaderPrevHash(rawHeader []byte) chainhash.Hash {
	var h chainhash.Hash
	copy(h[:], rawHeader[4:36])
	return h
}

// FingerprintFromScript returns the fingerprint for a locking script, or
// ok=false if the leading type byte marks it unspendable.
func (r *Reference) FingerprintFromScript(script []byte) (chainhash.Fingerprint, bool) {
	if len(script) == 0 || scriptType(script[0]) == scriptBurn {
		return chainhash.Fingerprint{}, false
	}
	return chainhash.FingerprintFromScript(script), true
}

// GenesisBlock returns the canonical genesis encoding supplied at
// construction time.
func (r *Reference) GenesisBlock(ctx context.Context) ([]byte, error) {
	if r.genesis == nil {
		return nil, fmt.Errorf("reference coin: no genesis block configured")
	}
	return r.genesis, nil
}

// TxCountHint is an ETA-estimation tunable; unused by Reference beyond a
// plausible default.
func (r *Reference) TxCountHint() uint64 { return 0 }

// TxCountHeight is an ETA-estimation tunable.
func (r *Reference) TxCountHeight() uint32 { return 0 }

// TxPerBlock is an ETA-estimation tunable.
func (r *Reference) TxPerBlock() float64 { return 1 }
