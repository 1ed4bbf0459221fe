package prefetcher

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dgtorpheas/utxoindex/internal/coin"
	"github.com/dgtorpheas/utxoindex/internal/daemon"
	"github.com/dgtorpheas/utxoindex/internal/dispatcher"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// fakeDaemon serves a fixed-height chain of fixed-size blocks out of memory.
type fakeDaemon struct {
	mu        sync.Mutex
	height    uint32
	blockSize int
}

func (f *fakeDaemon) Height(ctx context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *fakeDaemon) CachedHeight(ctx context.Context) (uint32, error) {
	return f.Height(ctx)
}

func (f *fakeDaemon) BlockHexHashes(ctx context.Context, first, count uint32) ([]string, error) {
	hashes := make([]string, count)
	for i := range hashes {
		hashes[i] = fmt.Sprintf("%08x", first+uint32(i))
	}
	return hashes, nil
}

func (f *fakeDaemon) RawBlocks(ctx context.Context, hexHashes []string) ([][]byte, error) {
	f.mu.Lock()
	size := f.blockSize
	f.mu.Unlock()
	blocks := make([][]byte, len(hexHashes))
	for i := range blocks {
		blocks[i] = make([]byte, size)
	}
	return blocks, nil
}

var _ daemon.Daemon = (*fakeDaemon)(nil)

// refGenesisCoin is a coin.Coin whose only method the Prefetcher ever
// calls (GenesisBlock) returns a fixed marker; DecodeBlock etc. are
// never exercised here.
func refGenesisCoin() coin.Coin {
	return coin.NewReference([]byte("genesis"))
}

func collect(n int, timeout time.Duration) (func(context.Context, dispatcher.Message) error, func() []dispatcher.Message) {
	var mu sync.Mutex
	var msgs []dispatcher.Message
	done := make(chan struct{})
	push := func(ctx context.Context, msg dispatcher.Message) error {
		mu.Lock()
		msgs = append(msgs, msg)
		got := len(msgs)
		mu.Unlock()
		if got >= n {
			select {
			case <-done:
			default:
				close(done)
			}
		}
		return nil
	}
	get := func() []dispatcher.Message {
		select {
		case <-done:
		case <-time.After(timeout):
		}
		mu.Lock()
		defer mu.Unlock()
		out := make([]dispatcher.Message, len(msgs))
		copy(out, msgs)
		return out
	}
	return push, get
}

func TestPrefetcherFetchesUntilCaughtUp(t *testing.T) {
	d := &fakeDaemon{height: 5, blockSize: 100}
	push, get := collect(2, time.Second)

	p := New(d, refGenesisCoin(), push, 10_000, 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	msgs := get()
	if len(msgs) < 2 {
		t.Fatalf("got %d messages, want at least 2 (RawBlocks then PrefetcherCaughtUp)", len(msgs))
	}

	rb, ok := msgs[0].(dispatcher.RawBlocks)
	if !ok {
		t.Fatalf("first message = %T, want dispatcher.RawBlocks", msgs[0])
	}
	if rb.First != 1 {
		t.Errorf("RawBlocks.First = %d, want 1", rb.First)
	}
	if len(rb.Blocks) != 5 {
		t.Errorf("RawBlocks.Blocks has %d entries, want 5", len(rb.Blocks))
	}

	if _, ok := msgs[1].(dispatcher.PrefetcherCaughtUp); !ok {
		t.Fatalf("second message = %T, want dispatcher.PrefetcherCaughtUp", msgs[1])
	}
}

func TestPrefetcherSubstitutesGenesisAtHeightZero(t *testing.T) {
	d := &fakeDaemon{height: 1, blockSize: 4}
	push, get := collect(1, time.Second)

	p := New(d, refGenesisCoin(), push, 10_000, 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	msgs := get()
	if len(msgs) == 0 {
		t.Fatal("got no messages")
	}
	rb, ok := msgs[0].(dispatcher.RawBlocks)
	if !ok {
		t.Fatalf("first message = %T, want dispatcher.RawBlocks", msgs[0])
	}
	if string(rb.Blocks[0]) != "genesis" {
		t.Errorf("block at height 0 = %q, want genesis substitution", rb.Blocks[0])
	}
}

func TestProcessingBlocksReleasesBackpressure(t *testing.T) {
	d := &fakeDaemon{height: 100, blockSize: 1000}
	push, _ := collect(1, time.Second)

	p := New(d, refGenesisCoin(), push, 2000, 0, testLogger())
	p.mu.Lock()
	p.cacheSize = 2000
	p.mu.Unlock()

	p.ProcessingBlocks(1500)

	p.mu.Lock()
	size := p.cacheSize
	p.mu.Unlock()
	if size != 500 {
		t.Errorf("cacheSize after ProcessingBlocks = %d, want 500", size)
	}

	select {
	case <-p.refill:
	default:
		t.Error("ProcessingBlocks below watermark did not signal refill")
	}
}

func TestResetHeightRewindsFetchCursor(t *testing.T) {
	d := &fakeDaemon{height: 100, blockSize: 10}
	push, _ := collect(1, time.Second)
	p := New(d, refGenesisCoin(), push, 10_000, 50, testLogger())

	p.ResetHeight(context.Background(), 10)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fetchedHeight != 10 {
		t.Errorf("fetchedHeight after ResetHeight = %d, want 10", p.fetchedHeight)
	}
	if p.caughtUp {
		t.Error("caughtUp should be cleared by ResetHeight")
	}
}
