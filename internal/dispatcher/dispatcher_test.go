package dispatcher

import (
	"context"
	"encoding/binary"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dgtorpheas/utxoindex/internal/coin"
	"github.com/dgtorpheas/utxoindex/internal/fsarchive"
	"github.com/dgtorpheas/utxoindex/internal/history"
	"github.com/dgtorpheas/utxoindex/internal/indexer"
	"github.com/dgtorpheas/utxoindex/internal/storage"
	"github.com/dgtorpheas/utxoindex/pkg/chainhash"
)

type fakeControl struct {
	processed   atomic.Int64
	resetHeight atomic.Int64
	resetCalls  atomic.Int32
}

func (c *fakeControl) ProcessingBlocks(n int) { c.processed.Add(int64(n)) }
func (c *fakeControl) ResetHeight(ctx context.Context, height uint32) {
	c.resetHeight.Store(int64(height))
	c.resetCalls.Add(1)
}

const refHeaderSize = 4 + 32 + 32 + 8 + 8 + 8

// buildRawBlock builds a zero-transaction reference block atop prevHash,
// matching internal/coin.Reference's wire layout.
func buildRawBlock(prevHash chainhash.Hash, height uint64) []byte {
	header := make([]byte, refHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], 1)
	copy(header[4:36], prevHash[:])
	binary.LittleEndian.PutUint64(header[68:76], 1_700_000_100+height)
	binary.LittleEndian.PutUint64(header[76:84], height)
	block := append([]byte{}, header...)
	block = binary.LittleEndian.AppendUint32(block, 0)
	return block
}

func testEngine(t *testing.T) *indexer.Engine {
	t.Helper()
	archive, err := fsarchive.Open(t.TempDir())
	if err != nil {
		t.Fatalf("fsarchive.Open: %v", err)
	}
	t.Cleanup(func() { archive.Close() })

	db := storage.NewMemory()
	hist, err := history.NewKVIndex(db)
	if err != nil {
		t.Fatalf("history.NewKVIndex: %v", err)
	}

	e, err := indexer.NewEngine(indexer.Config{
		DB:               db,
		History:          hist,
		Archive:          archive,
		Coin:             coin.NewReference([]byte("genesis")),
		Daemon:           nil,
		Worker:           indexer.NewWorker(1),
		ReorgLimit:       100,
		CacheBudgetBytes: 1 << 20,
		Logger:           zerolog.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestDispatcherAdvancesOnRawBlocks(t *testing.T) {
	e := testEngine(t)
	control := &fakeControl{}
	d := New(e, control, 8, zerolog.New(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	block := buildRawBlock(chainhash.Hash{}, 1)
	if err := d.Push(ctx, RawBlocks{Blocks: [][]byte{block}, First: 1, DaemonHeight: 1}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.State().Height == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := e.State().Height; got != 1 {
		t.Fatalf("engine height = %d, want 1", got)
	}
	if control.processed.Load() != int64(len(block)) {
		t.Errorf("ProcessingBlocks total = %d, want %d", control.processed.Load(), len(block))
	}
}

func TestPushForceReorgRefusedBeforeCaughtUp(t *testing.T) {
	e := testEngine(t)
	d := New(e, &fakeControl{}, 8, zerolog.New(io.Discard))

	ok, err := d.PushForceReorg(context.Background(), 1)
	if err != nil {
		t.Fatalf("PushForceReorg: %v", err)
	}
	if ok {
		t.Error("PushForceReorg should refuse before caught up")
	}
}

func TestPushForceReorgAcceptedAfterCaughtUp(t *testing.T) {
	e := testEngine(t)
	control := &fakeControl{}
	d := New(e, control, 8, zerolog.New(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	if err := d.Push(ctx, PrefetcherCaughtUp{}); err != nil {
		t.Fatalf("Push(PrefetcherCaughtUp): %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.caughtUp.Load() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !d.caughtUp.Load() {
		t.Fatal("caughtUp flag was never set")
	}

	ok, err := d.PushForceReorg(ctx, 1)
	if err != nil {
		t.Fatalf("PushForceReorg: %v", err)
	}
	if !ok {
		t.Error("PushForceReorg should be accepted once caught up")
	}
}

func TestUnknownMessageTypeReturnsError(t *testing.T) {
	e := testEngine(t)
	d := New(e, &fakeControl{}, 8, zerolog.New(io.Discard))

	err := d.handle(context.Background(), unknownMessage{})
	if err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

type unknownMessage struct{}

func (unknownMessage) isMessage() {}
