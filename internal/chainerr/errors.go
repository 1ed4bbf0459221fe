// Package chainerr defines the fatal error category shared by the
// indexing engine's components (spec §7): logic errors or store
// corruption that must stop the dispatcher rather than be retried.
package chainerr

import "errors"

// Kind distinguishes the fatal conditions named in spec §7.
type Kind int

const (
	// KindChainMismatch: a block's header_hash didn't match the expected
	// tip during backup, or a reorg fork-point computation disagreed
	// with the daemon in a way that should never happen.
	KindChainMismatch Kind = iota
	// KindMissingUtxo: spend() found no matching h/u table entry and no
	// cached entry — either a bug in the advance/backup engine or
	// corruption of the on-disk store.
	KindMissingUtxo
	// KindMissingUndo: an undo record was exhausted before its
	// transactions were, or vice versa.
	KindMissingUndo
)

func (k Kind) String() string {
	switch k {
	case KindChainMismatch:
		return "ChainMismatch"
	case KindMissingUtxo:
		return "MissingUtxo"
	case KindMissingUndo:
		return "MissingUndo"
	default:
		return "Unknown"
	}
}

// ChainError is fatal: the dispatcher must surface it, flush nothing
// further, and exit. It is never retried.
type ChainError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *ChainError) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// New builds a ChainError of the given kind.
func New(kind Kind, msg string) *ChainError {
	return &ChainError{Kind: kind, Msg: msg}
}

// Wrap builds a ChainError of the given kind wrapping err.
func Wrap(kind Kind, msg string, err error) *ChainError {
	return &ChainError{Kind: kind, Msg: msg, Err: err}
}

// IsFatal reports whether err is a ChainError (as opposed to a
// transient daemon error, which callers retry instead).
func IsFatal(err error) bool {
	var ce *ChainError
	return errors.As(err, &ce)
}
