// Package dispatcher implements the work dispatcher (spec §4.F): the
// single consumer that multiplexes prefetch output, reorg requests, and
// the caught-up signal onto the chain controller.
package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dgtorpheas/utxoindex/internal/indexer"
	"github.com/dgtorpheas/utxoindex/internal/metrics"
)

// Message is the tagged-union queue item (spec §9: "Message-tagged
// queue"). Implementations: RawBlocks, PrefetcherCaughtUp, ReorgChain.
type Message interface {
	isMessage()
}

// RawBlocks carries a contiguous run of raw blocks starting at height
// First, along with the daemon height observed at fetch time (used to
// decide whether undo records fall within reorgLimit).
type RawBlocks struct {
	Blocks       [][]byte
	First        uint32
	DaemonHeight uint32
}

func (RawBlocks) isMessage() {}

// PrefetcherCaughtUp signals that the prefetcher has no further work
// pending: fetched_height has reached the daemon's reported height.
type PrefetcherCaughtUp struct{}

func (PrefetcherCaughtUp) isMessage() {}

// ReorgChain requests a simulated reorg of Count heights (spec §6's
// force_chain_reorg). Count is always non-nil here; the real-reorg path
// (count=nil) is driven internally by CheckAndAdvanceBlocks, not queued.
type ReorgChain struct {
	Count uint32
}

func (ReorgChain) isMessage() {}

// Dispatcher is the single consumer of the bounded message queue.
type Dispatcher struct {
	log      zerolog.Logger
	queue    chan Message
	engine   *indexer.Engine
	control  indexer.PrefetcherControl
	caughtUp atomic.Bool
}

// New constructs a Dispatcher with a bounded queue of the given capacity.
// control may be nil at construction time and set later with SetControl,
// since the prefetcher (the usual control implementation) is itself
// constructed with a reference to this Dispatcher's Push method.
func New(engine *indexer.Engine, control indexer.PrefetcherControl, queueCapacity int, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		log:     logger,
		queue:   make(chan Message, queueCapacity),
		engine:  engine,
		control: control,
	}
}

// SetControl wires the prefetcher control surface after construction,
// breaking the construction-order cycle between Dispatcher and Prefetcher.
func (d *Dispatcher) SetControl(control indexer.PrefetcherControl) {
	d.control = control
}

// Push enqueues a RawBlocks or PrefetcherCaughtUp message. Blocks if the
// queue is full, providing the backpressure the prefetcher relies on.
func (d *Dispatcher) Push(ctx context.Context, msg Message) error {
	select {
	case d.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushForceReorg enqueues a ReorgChain request. Per spec §4.F, the
// producer side accepts these only once the caught-up event is set.
func (d *Dispatcher) PushForceReorg(ctx context.Context, count uint32) (bool, error) {
	if !d.caughtUp.Load() {
		return false, nil
	}
	if err := d.Push(ctx, ReorgChain{Count: count}); err != nil {
		return false, err
	}
	return true, nil
}

// Run drains the queue until ctx is canceled, dispatching each message to
// the chain controller. A fatal ChainError aborts the loop and is
// returned to the caller, per spec §7: "the dispatcher must surface
// them, flush nothing further, and exit."
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-d.queue:
			metrics.DispatcherQueueDepth.Set(float64(len(d.queue)))
			if err := d.handle(ctx, msg); err != nil {
				return fmt.Errorf("dispatcher: %w", err)
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg Message) error {
	switch m := msg.(type) {
	case RawBlocks:
		return d.engine.CheckAndAdvanceBlocks(ctx, d.control, m.Blocks, m.First, m.DaemonHeight)

	case PrefetcherCaughtUp:
		d.engine.MarkCaughtUp()
		d.caughtUp.Store(true)
		d.engine.NotifyTouched()
		d.log.Info().Msg("caught up with daemon")
		return nil

	case ReorgChain:
		count := m.Count
		return d.engine.ReorgChain(ctx, d.control, &count)

	default:
		return fmt.Errorf("unknown message type %T", msg)
	}
}
