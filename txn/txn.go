// Package txn models the cooperative, single-writer transaction scope the
// accessor core runs under.
//
// A read transaction records the allocator's version pair and takes no
// lock. It does not pin a snapshot: its accessors re-resolve against the
// current state on their next operation, including writes a concurrent
// writer has not yet committed. A write transaction holds the group's exclusive write lock. Commit freezes
// the allocator — the copy-on-write boundary — so the next writer
// duplicates whatever it touches.
//
// Structural corruption inside the core surfaces as a panic; Exec converts
// it into a transaction abort error, which is the Go analogue of the
// assertion-triggered abort the storage layer calls for.
package txn

import (
	"errors"
	"fmt"

	"github.com/objcore/objcore/obj"
	"github.com/objcore/objcore/objerr"
)

// Mode selects the transaction kind.
type Mode int

const (
	// ReadOnly records the current version pair without blocking writers.
	ReadOnly Mode = iota
	// ReadWrite takes the group's exclusive write lock.
	ReadWrite
)

// ErrDone is returned when a finished transaction is used again.
var ErrDone = errors.New("txn: transaction already finished")

// ErrReadOnly is returned when Commit is called on a read transaction.
var ErrReadOnly = errors.New("txn: read-only transaction")

// Txn is one transaction scope.
type Txn struct {
	g    *obj.Group
	mode Mode
	done bool

	// versions at Begin, for callers that want to detect staleness.
	storageAtBegin uint64
	contentAtBegin uint64
}

// Begin opens a transaction on g. A ReadWrite transaction blocks until it
// holds the group's write lock.
func Begin(g *obj.Group, mode Mode) *Txn {
	if mode == ReadWrite {
		g.WriteLock()
	}
	return &Txn{
		g:              g,
		mode:           mode,
		storageAtBegin: g.Allocator().StorageVersion(),
		contentAtBegin: g.Allocator().ContentVersion(),
	}
}

// Group returns the group this transaction operates on.
func (t *Txn) Group() *obj.Group { return t.g }

// Mode returns the transaction kind.
func (t *Txn) Mode() Mode { return t.mode }

// StorageVersionAtBegin returns the storage version snapshotted at Begin.
func (t *Txn) StorageVersionAtBegin() uint64 { return t.storageAtBegin }

// ContentVersionAtBegin returns the content version snapshotted at Begin.
func (t *Txn) ContentVersionAtBegin() uint64 { return t.contentAtBegin }

// Exec runs fn inside the transaction, converting a structural-corruption
// panic into an abort error. All other panics propagate.
func (t *Txn) Exec(fn func(g *obj.Group) error) (err error) {
	if t.done {
		return ErrDone
	}
	defer func() {
		if r := recover(); r != nil {
			ce, ok := r.(*objerr.CorruptionError)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("txn: aborted: %w", ce)
		}
	}()
	return fn(t.g)
}

// Commit freezes the allocator, publishing this transaction's mutations as
// the new read snapshot, and releases the write lock.
func (t *Txn) Commit() error {
	if t.done {
		return ErrDone
	}
	if t.mode != ReadWrite {
		return ErrReadOnly
	}
	t.g.Allocator().Freeze()
	t.done = true
	t.g.WriteUnlock()
	return nil
}

// Rollback finishes the transaction without publishing a new snapshot.
// Mutations already applied to writable blocks are not undone at this
// layer; rolling back a failed write transaction is the caller's
// responsibility, normally by discarding the group. For read transactions
// Rollback is the ordinary way to finish.
func (t *Txn) Rollback() error {
	if t.done {
		return ErrDone
	}
	t.done = true
	if t.mode == ReadWrite {
		t.g.WriteUnlock()
	}
	return nil
}
