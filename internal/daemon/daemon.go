// Package daemon defines the upstream node RPC surface the indexing
// engine depends on, and a JSON-RPC client implementation.
package daemon

import (
	"context"
	"fmt"
)

// Daemon is the capability set the prefetcher and chain controller need
// from the upstream node. Errors from any method belong to the
// Transient/daemon category (spec §7): the prefetcher swallows them and
// retries on its next cycle.
type Daemon interface {
	// Height returns the daemon's current best-chain height.
	Height(ctx context.Context) (uint32, error)

	// CachedHeight returns the daemon's last-known height without
	// forcing a fresh round trip, used for backpressure/ETA bookkeeping
	// that does not need to be perfectly current.
	CachedHeight(ctx context.Context) (uint32, error)

	// BlockHexHashes returns the hex-encoded block hashes for heights
	// [first, first+count).
	BlockHexHashes(ctx context.Context, first uint32, count uint32) ([]string, error)

	// RawBlocks returns the raw block bytes for the given hex hashes, in
	// the same order as hexHashes.
	RawBlocks(ctx context.Context, hexHashes []string) ([][]byte, error)
}

// Error wraps a failure talking to the daemon. It is always Transient in
// spec §7's categorization: callers log it and retry, they never treat
// it as a fatal ChainError.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("daemon %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
