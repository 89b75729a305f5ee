// Package testutil provides deterministic random data and schema fixtures
// for the accessor tests.
package testutil

import (
	"math/rand"
	"sync"

	"github.com/objcore/objcore/mixed"
	"github.com/objcore/objcore/schema"
)

// RNG encapsulates a seeded random number generator.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{rand: rand.New(rand.NewSource(seed)), seed: seed}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 { return r.seed }

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Int63 returns a non-negative pseudo-random int64.
func (r *RNG) Int63() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Int63()
}

// Bool returns a pseudo-random bool.
func (r *RNG) Bool() bool { return r.Intn(2) == 1 }

// String returns a pseudo-random lowercase string of length n.
func (r *RNG) String(n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + r.rand.Intn(26))
	}
	return string(b)
}

// Mixed returns a pseudo-random scalar Mixed value (never a link).
func (r *RNG) Mixed() mixed.Mixed {
	switch r.Intn(5) {
	case 0:
		return mixed.Int(r.Int63())
	case 1:
		return mixed.Bool(r.Bool())
	case 2:
		return mixed.Double(float64(r.Int63()) / 7.0)
	case 3:
		return mixed.String_(r.String(8))
	default:
		return mixed.Null()
	}
}

// LinkedFixture is a Parent→Child schema pair used by cascade and backlink
// scenario tests.
type LinkedFixture struct {
	Schema     *schema.Schema
	Parent     *schema.Table
	Child      *schema.Table
	ParentName schema.ColKey
	ChildLink  schema.ColKey
	ChildVal   schema.ColKey
}

// BuildLinkedFixture wires a top-level Parent table with a strong link into
// an embedded Child table.
func BuildLinkedFixture() LinkedFixture {
	sch := schema.New()
	parent := sch.AddTable("parent")
	child := sch.AddEmbeddedTable("child")

	name, err := parent.AddColumn("name", schema.TypeString, 0)
	if err != nil {
		panic(err)
	}
	link, err := parent.AddLinkColumn("child", schema.TypeLink, child, 0)
	if err != nil {
		panic(err)
	}
	val, err := child.AddColumn("val", schema.TypeInt, schema.Nullable)
	if err != nil {
		panic(err)
	}

	return LinkedFixture{
		Schema:     sch,
		Parent:     parent,
		Child:      child,
		ParentName: name,
		ChildLink:  link,
		ChildVal:   val,
	}
}
