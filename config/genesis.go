package config

import "encoding/binary"

// referenceHeaderSize mirrors internal/coin.Reference's wire layout:
// version(4) | prev_hash(32) | merkle_root(32) | timestamp(8) | height(8) | nonce(8).
const referenceHeaderSize = 4 + 32 + 32 + 8 + 8 + 8

// genesisTimestamp values are fixed per network so every node derives the
// same genesis hash without needing to ship a genesis file.
const (
	mainnetGenesisTimestamp = 1_700_000_000
	testnetGenesisTimestamp = 1_700_100_000
)

// GenesisBlock returns the canonical genesis block encoding for network:
// a header with an all-zero prev_hash and no transactions (tx_count = 0).
func GenesisBlock(network NetworkType) []byte {
	timestamp := uint64(mainnetGenesisTimestamp)
	if network == Testnet {
		timestamp = testnetGenesisTimestamp
	}

	header := make([]byte, referenceHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], 1) // version
	// prev_hash (32 bytes) stays zero.
	// merkle_root (32 bytes) stays zero: no transactions.
	binary.LittleEndian.PutUint64(header[68:76], timestamp)
	binary.LittleEndian.PutUint64(header[76:84], 0) // height
	binary.LittleEndian.PutUint64(header[84:92], 0) // nonce

	block := make([]byte, 0, referenceHeaderSize+4)
	block = append(block, header...)
	block = binary.LittleEndian.AppendUint32(block, 0) // tx_count
	return block
}
