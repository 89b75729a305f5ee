// Package replication defines the instruction stream the accessor core
// emits, and the sink contract that consumes it.
//
// Every mutation emits exactly one instruction, after all in-memory state
// transitions of that mutation but before any cascade recursion it
// triggered. Replaying the stream in order therefore reproduces the same
// cascade outcomes.
//
// AddInt is deliberately distinct from Set: the delta form commutes under
// concurrent replay, a plain Set of the summed value would not.
package replication

import (
	"context"
	"fmt"
	"sync"

	"github.com/objcore/objcore/mixed"
	"github.com/objcore/objcore/objkey"
)

// Op is the instruction opcode. The numeric values are persisted and must
// not be reordered.
type Op uint8

// Instruction opcodes.
const (
	OpSet Op = iota + 1
	OpSetDefault
	OpAddInt
	OpSetNull
	OpNullifyLink
	OpLinkListNullify
	OpListErase
	OpCreateObject
	OpRemoveObject
)

// String implements fmt.Stringer.
func (o Op) String() string {
	switch o {
	case OpSet:
		return "Set"
	case OpSetDefault:
		return "SetDefault"
	case OpAddInt:
		return "AddInt"
	case OpSetNull:
		return "SetNull"
	case OpNullifyLink:
		return "NullifyLink"
	case OpLinkListNullify:
		return "LinkListNullify"
	case OpListErase:
		return "ListErase"
	case OpCreateObject:
		return "CreateObject"
	case OpRemoveObject:
		return "RemoveObject"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Instruction is one replicated mutation.
type Instruction struct {
	Op    Op              `json:"op"`
	Table objkey.TableKey `json:"table"`
	Key   objkey.ObjKey   `json:"key"`

	// ColTag is the stable handle of the mutated column; zero for
	// object-level instructions (CreateObject, RemoveObject).
	ColTag int32 `json:"col,omitempty"`

	// Value carries the written value for Set/SetDefault, the delta for
	// AddInt, and the list element for ListErase.
	Value mixed.Mixed `json:"value"`

	// Index is the list index for ListErase/LinkListNullify.
	Index int `json:"index,omitempty"`

	// DictKey is set for mutations addressing one dictionary entry.
	DictKey *mixed.Mixed `json:"dict_key,omitempty"`
}

// String implements fmt.Stringer.
func (i Instruction) String() string {
	return fmt.Sprintf("%s{table=%d key=%s col=%d}", i.Op, i.Table, i.Key, i.ColTag)
}

// Sink consumes the instruction stream. Emit is called synchronously inside
// the mutating operation; a returned error aborts that operation.
//
// Implementations must be safe for use from a single writer; they are never
// called concurrently within one group.
type Sink interface {
	Emit(ctx context.Context, inst Instruction) error
}

// NopSink discards all instructions. It is the default sink.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(context.Context, Instruction) error { return nil }

// MemorySink records instructions in memory. Used by tests.
type MemorySink struct {
	mu    sync.Mutex
	insts []Instruction
}

// Emit implements Sink.
func (s *MemorySink) Emit(_ context.Context, inst Instruction) error {
	s.mu.Lock()
	s.insts = append(s.insts, inst)
	s.mu.Unlock()
	return nil
}

// Instructions returns a copy of the recorded stream.
func (s *MemorySink) Instructions() []Instruction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Instruction(nil), s.insts...)
}

// Reset clears the recorded stream.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	s.insts = nil
	s.mu.Unlock()
}
