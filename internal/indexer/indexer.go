package indexer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dgtorpheas/utxoindex/internal/coin"
	"github.com/dgtorpheas/utxoindex/internal/daemon"
	"github.com/dgtorpheas/utxoindex/internal/fsarchive"
	"github.com/dgtorpheas/utxoindex/internal/history"
	"github.com/dgtorpheas/utxoindex/internal/storage"
	"github.com/dgtorpheas/utxoindex/internal/utxo"
	"github.com/dgtorpheas/utxoindex/pkg/chainhash"
)

// BlockCallback is invoked after a successful catch-up notification with
// the set of address fingerprints touched since the previous one (spec
// §6's add_new_block_callback).
type BlockCallback func(touched []chainhash.Fingerprint)

// Engine owns the advance/backup engine, flush coordinator, and chain
// controller (spec components B, C, D) as one long-lived value with
// disjoint substructures, per spec §9 — no package-scope singletons.
type Engine struct {
	log zerolog.Logger

	lock  stateLock
	state *State

	db      storage.DB
	cache   *utxo.Cache
	history history.Index
	archive *fsarchive.Archive
	coin    coin.Coin
	daemon  daemon.Daemon
	worker  *Worker

	headerCache HeaderCache

	reorgLimit       uint32
	cacheBudgetBytes int64

	pendingHeaders []pendingHeader
	pendingUndos   []pendingUndo
	touched        map[chainhash.Fingerprint]struct{}

	caughtUp      bool
	lastFlushWall int64
	clock         func() int64 // overridable in tests; nil means time.Now

	callbacks []BlockCallback
}

// Config bundles the values needed to construct an Engine.
type Config struct {
	DB               storage.DB
	History          history.Index
	Archive          *fsarchive.Archive
	Coin             coin.Coin
	Daemon           daemon.Daemon
	Worker           *Worker
	ReorgLimit       uint32 // heights within this of the daemon tip keep undo records
	CacheBudgetBytes int64  // check_cache_size's memory budget
	Logger           zerolog.Logger

	// HeaderCache is the Merkle-proof cache external collaborator (spec
	// §1/§4.D). Optional: a nil value defaults to a no-op, since building
	// Merkle proofs is out of scope and no implementation ships here.
	HeaderCache HeaderCache
}

// NewEngine constructs an Engine, recovering chain state from db.
func NewEngine(cfg Config) (*Engine, error) {
	state, err := loadState(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("indexer: load state: %w", err)
	}
	headerCache := cfg.HeaderCache
	if headerCache == nil {
		headerCache = noopHeaderCache{}
	}
	e := &Engine{
		log:              cfg.Logger,
		state:            state,
		db:               cfg.DB,
		cache:            utxo.NewCache(cfg.DB),
		history:          cfg.History,
		archive:          cfg.Archive,
		coin:             cfg.Coin,
		daemon:           cfg.Daemon,
		worker:           cfg.Worker,
		headerCache:      headerCache,
		reorgLimit:       cfg.ReorgLimit,
		cacheBudgetBytes: cfg.CacheBudgetBytes,
		touched:          make(map[chainhash.Fingerprint]struct{}),
	}
	return e, nil
}

func (e *Engine) touchedSlice() []chainhash.Fingerprint {
	out := make([]chainhash.Fingerprint, 0, len(e.touched))
	for fp := range e.touched {
		out = append(out, fp)
	}
	return out
}

func (e *Engine) resetTouched() {
	e.touched = make(map[chainhash.Fingerprint]struct{})
}

// AddNewBlockCallback registers fn to be invoked with the touched
// fingerprint set once the engine is caught up and after each
// subsequent advance.
func (e *Engine) AddNewBlockCallback(fn BlockCallback) {
	e.callbacks = append(e.callbacks, fn)
}

func (e *Engine) fireCallbacks() {
	fps := e.touchedSlice()
	e.resetTouched()
	for _, cb := range e.callbacks {
		cb(fps)
	}
}

// NotifyTouched fires the registered block callbacks with whatever
// fingerprints have accumulated since the last notification, even if
// empty (spec §4.F: the caught-up signal "fires an initial empty
// notification so downstream subsystems initialize").
func (e *Engine) NotifyTouched() {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.fireCallbacks()
}

// State returns a copy of the current chain-state tuple.
func (e *Engine) State() State {
	e.lock.Lock()
	defer e.lock.Unlock()
	return *e.state
}

// Shutdown performs the cancellation sequence named in spec §5: it
// acquires the state lock (serializing any in-flight advance), then
// issues a final full flush.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if err := e.Flush(true); err != nil {
		return fmt.Errorf("shutdown: final flush: %w", err)
	}
	return nil
}
