// Package alloc implements the copy-on-write block allocator backing the
// cluster trees.
//
// The allocator hands out opaque refs and translates them back to block
// payloads. It carries the two monotonic counters every accessor uses as
// optimistic invalidation tokens:
//
//   - the storage version advances on any structural change (allocation,
//     copy-on-write duplication, free, freeze), and
//   - the content version advances on any value change.
//
// Freeze marks every live block read-only; this is the commit boundary.
// Writers that touch a frozen block must duplicate it first (EnsureWritable),
// which leaves the frozen original intact for readers still holding its ref.
//
// # Concurrency Model
//
// Translation (Get, IsReadOnly) is safe for concurrent use. Mutations
// (Alloc, Free, EnsureWritable, Freeze) must be serialized by the caller;
// the transaction layer provides that serialization by granting exclusive
// write access to one transaction at a time.
package alloc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/objcore/objcore/objerr"
)

// Ref is an opaque handle to a block. The zero ref is null.
type Ref uint64

// NullRef is the null handle.
const NullRef Ref = 0

// Cloner is implemented by block payloads that support copy-on-write
// duplication.
type Cloner interface {
	CloneBlock() any
}

// MemoryReserver is an interface for reserving memory against an external
// budget. The resource controller satisfies it.
type MemoryReserver interface {
	AcquireMemory(ctx context.Context, amount int64) error
	ReleaseMemory(amount int64)
}

// Stats tracks allocator usage.
type Stats struct {
	BlocksAllocated uint64 // Historical: total blocks ever created
	BlocksLive      uint64 // Current: live block count
	BytesReserved   int64  // Current: caller-reported payload bytes
	CopyOnWrites    uint64 // Historical: EnsureWritable duplications
}

type block struct {
	data     any
	size     int64
	readOnly bool
}

// Allocator owns all blocks of one group.
type Allocator struct {
	mu     sync.RWMutex
	blocks map[Ref]*block
	next   uint64

	storageVersion atomic.Uint64
	contentVersion atomic.Uint64

	reserver MemoryReserver
	stats    Stats
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithMemoryReserver charges block payloads against an external memory
// budget. Alloc blocks until the budget admits the block or ctx is canceled.
func WithMemoryReserver(r MemoryReserver) Option {
	return func(a *Allocator) { a.reserver = r }
}

// New creates an empty allocator. Both version counters start at 1 so that a
// zero stamp is always stale.
func New(optFns ...Option) *Allocator {
	a := &Allocator{
		blocks: make(map[Ref]*block),
		next:   1,
	}
	for _, fn := range optFns {
		fn(a)
	}
	a.storageVersion.Store(1)
	a.contentVersion.Store(1)
	return a
}

// Alloc registers a new writable block and returns its ref. size is the
// caller-reported payload size used only for budget accounting.
func (a *Allocator) Alloc(ctx context.Context, data any, size int64) (Ref, error) {
	if a.reserver != nil {
		if err := a.reserver.AcquireMemory(ctx, size); err != nil {
			return NullRef, err
		}
	}

	a.mu.Lock()
	ref := Ref(a.next)
	a.next++
	a.blocks[ref] = &block{data: data, size: size}
	a.stats.BlocksAllocated++
	a.stats.BlocksLive++
	a.stats.BytesReserved += size
	a.mu.Unlock()

	a.storageVersion.Add(1)
	return ref, nil
}

// Get translates a ref to its payload. Translating the null ref or a freed
// ref is structural corruption.
func (a *Allocator) Get(ref Ref) any {
	a.mu.RLock()
	b, ok := a.blocks[ref]
	a.mu.RUnlock()
	if !ok {
		panic(&objerr.CorruptionError{Detail: "dangling ref"})
	}
	return b.data
}

// IsReadOnly reports whether the block is frozen.
func (a *Allocator) IsReadOnly(ref Ref) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.blocks[ref]
	if !ok {
		panic(&objerr.CorruptionError{Detail: "dangling ref"})
	}
	return b.readOnly
}

// EnsureWritable returns a writable block for ref. If the block is frozen it
// is duplicated via Cloner and the duplicate's ref is returned; the frozen
// original stays valid for readers holding the old ref.
func (a *Allocator) EnsureWritable(ctx context.Context, ref Ref) (Ref, any, error) {
	a.mu.RLock()
	b, ok := a.blocks[ref]
	a.mu.RUnlock()
	if !ok {
		panic(&objerr.CorruptionError{Detail: "dangling ref"})
	}
	if !b.readOnly {
		return ref, b.data, nil
	}

	c, ok := b.data.(Cloner)
	if !ok {
		panic(&objerr.CorruptionError{Detail: "frozen block is not cloneable"})
	}
	dup := c.CloneBlock()

	newRef, err := a.Alloc(ctx, dup, b.size)
	if err != nil {
		return NullRef, nil, err
	}

	a.mu.Lock()
	a.stats.CopyOnWrites++
	a.mu.Unlock()
	return newRef, dup, nil
}

// Free releases a block. Freeing the null ref is a no-op.
func (a *Allocator) Free(ref Ref) {
	if ref == NullRef {
		return
	}
	a.mu.Lock()
	b, ok := a.blocks[ref]
	if ok {
		delete(a.blocks, ref)
		a.stats.BlocksLive--
		a.stats.BytesReserved -= b.size
	}
	a.mu.Unlock()
	if ok && a.reserver != nil {
		a.reserver.ReleaseMemory(b.size)
	}

	a.storageVersion.Add(1)
}

// Freeze marks every live block read-only and advances the storage version.
// This is the commit boundary: accessors stamped before Freeze re-resolve on
// their next use.
func (a *Allocator) Freeze() {
	a.mu.Lock()
	for _, b := range a.blocks {
		b.readOnly = true
	}
	a.mu.Unlock()
	a.storageVersion.Add(1)
}

// StorageVersion returns the current storage version.
func (a *Allocator) StorageVersion() uint64 { return a.storageVersion.Load() }

// ContentVersion returns the current content version.
func (a *Allocator) ContentVersion() uint64 { return a.contentVersion.Load() }

// BumpContentVersion records a value change.
func (a *Allocator) BumpContentVersion() uint64 { return a.contentVersion.Add(1) }

// Stats returns a snapshot of allocator statistics.
func (a *Allocator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}
