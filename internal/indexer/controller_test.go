package indexer

import (
	"context"
	"encoding/hex"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dgtorpheas/utxoindex/internal/coin"
	"github.com/dgtorpheas/utxoindex/internal/fsarchive"
	"github.com/dgtorpheas/utxoindex/internal/history"
	"github.com/dgtorpheas/utxoindex/internal/storage"
	"github.com/dgtorpheas/utxoindex/pkg/chainhash"
)

// fakeDaemon answers block_hex_hashes from a canned, possibly-diverging
// chain of hashes, to exercise the fork-point doubling search without a
// real coin daemon.
type fakeDaemon struct {
	hashes []chainhash.Hash // hashes[h] is the remote hash at height h
}

func (f *fakeDaemon) Height(ctx context.Context) (uint32, error) {
	return uint32(len(f.hashes) - 1), nil
}

func (f *fakeDaemon) CachedHeight(ctx context.Context) (uint32, error) {
	return f.Height(ctx)
}

func (f *fakeDaemon) BlockHexHashes(ctx context.Context, first, count uint32) ([]string, error) {
	out := make([]string, count)
	for i := range out {
		h := int(first) + i
		if h < 0 || h >= len(f.hashes) {
			out[i] = hex.EncodeToString(chainhash.Hash{}[:])
			continue
		}
		out[i] = hex.EncodeToString(f.hashes[h][:])
	}
	return out, nil
}

func (f *fakeDaemon) RawBlocks(ctx context.Context, hexHashes []string) ([][]byte, error) {
	blocks := make([][]byte, len(hexHashes))
	for i := range blocks {
		blocks[i] = []byte("block")
	}
	return blocks, nil
}

func hashAt(n byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = n
	return h
}

func testEngine(t *testing.T, localHeight int64, localHashes []chainhash.Hash) (*Engine, *fsarchive.Archive) {
	t.Helper()
	dir := t.TempDir()
	archive, err := fsarchive.Open(dir)
	if err != nil {
		t.Fatalf("fsarchive.Open: %v", err)
	}
	t.Cleanup(func() { archive.Close() })

	for h := int64(0); h <= localHeight; h++ {
		if err := archive.AppendBlock(localHashes[h], nil); err != nil {
			t.Fatalf("AppendBlock(%d): %v", h, err)
		}
	}

	db := storage.NewMemory()
	hist, err := history.NewKVIndex(db)
	if err != nil {
		t.Fatalf("history.NewKVIndex: %v", err)
	}

	e, err := NewEngine(Config{
		DB:               db,
		History:          hist,
		Archive:          archive,
		Coin:             coin.NewReference([]byte("genesis")),
		Daemon:           &fakeDaemon{},
		Worker:           NewWorker(1),
		ReorgLimit:       100,
		CacheBudgetBytes: 1 << 20,
		Logger:           zerolog.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.state.Height = uint32(localHeight)
	e.state.Tip = localHashes[localHeight]
	e.state.DBHeight = uint32(localHeight)
	e.state.DBTip = localHashes[localHeight]
	return e, archive
}

func TestHashesEqual(t *testing.T) {
	a := []chainhash.Hash{hashAt(1), hashAt(2)}
	b := []chainhash.Hash{hashAt(1), hashAt(2)}
	if !hashesEqual(a, b) {
		t.Error("expected equal hash slices to compare equal")
	}
	b[1] = hashAt(3)
	if hashesEqual(a, b) {
		t.Error("expected differing hash slices to compare unequal")
	}
	if hashesEqual(a, a[:1]) {
		t.Error("expected different-length slices to compare unequal")
	}
}

func TestReorgHashesFindsForkPointOneBack(t *testing.T) {
	local := []chainhash.Hash{hashAt(0), hashAt(1), hashAt(2), hashAt(3)}
	e, _ := testEngine(t, 3, local)

	remote := make([]chainhash.Hash, len(local))
	copy(remote, local)
	remote[3] = hashAt(99) // only the tip diverges

	e.daemon = &fakeDaemon{hashes: remote}

	start, hashes, err := e.reorgHashes(context.Background(), nil)
	if err != nil {
		t.Fatalf("reorgHashes: %v", err)
	}
	if start != 3 {
		t.Errorf("fork point start = %d, want 3", start)
	}
	if len(hashes) != 1 {
		t.Errorf("got %d hashes back to fork point, want 1", len(hashes))
	}
}

func TestReorgHashesFindsForkPointSeveralBack(t *testing.T) {
	local := []chainhash.Hash{hashAt(0), hashAt(1), hashAt(2), hashAt(3), hashAt(4), hashAt(5)}
	e, _ := testEngine(t, 5, local)

	remote := make([]chainhash.Hash, len(local))
	copy(remote, local)
	remote[2] = hashAt(77)
	remote[3] = hashAt(78)
	remote[4] = hashAt(79)
	remote[5] = hashAt(80)

	e.daemon = &fakeDaemon{hashes: remote}

	start, hashes, err := e.reorgHashes(context.Background(), nil)
	if err != nil {
		t.Fatalf("reorgHashes: %v", err)
	}
	if start != 2 {
		t.Errorf("fork point start = %d, want 2", start)
	}
	if len(hashes) != 4 {
		t.Errorf("got %d hashes back to fork point, want 4", len(hashes))
	}
}

func TestReorgHashesWithExplicitCount(t *testing.T) {
	local := []chainhash.Hash{hashAt(0), hashAt(1), hashAt(2), hashAt(3), hashAt(4)}
	e, _ := testEngine(t, 4, local)
	e.daemon = &fakeDaemon{hashes: local}

	count := uint32(2)
	start, hashes, err := e.reorgHashes(context.Background(), &count)
	if err != nil {
		t.Fatalf("reorgHashes: %v", err)
	}
	if start != 3 {
		t.Errorf("start = %d, want 3", start)
	}
	if len(hashes) != 2 {
		t.Errorf("got %d hashes, want 2", len(hashes))
	}
}

func TestForceChainReorgRefusesBeforeCaughtUp(t *testing.T) {
	local := []chainhash.Hash{hashAt(0), hashAt(1)}
	e, _ := testEngine(t, 1, local)

	ok := e.ForceChainReorg(context.Background(), noopControl{}, 1)
	if ok {
		t.Error("ForceChainReorg should refuse before caught up")
	}
}

type noopControl struct{}

func (noopControl) ProcessingBlocks(n int)                         {}
func (noopControl) ResetHeight(ctx context.Context, height uint32) {}
