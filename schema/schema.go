// Package schema describes tables and columns: physical types, attributes,
// and the backlink mapping that ties forward link columns to their implicit
// reverse columns on the target table.
//
// The schema is built up-front and is immutable while transactions run,
// with one exception: backlink columns for dynamically-targeted links
// (TypedLink, Mixed, dictionary values) are registered lazily on first use.
package schema

import (
	"errors"
	"fmt"

	"github.com/objcore/objcore/objkey"
)

// TableKey identifies a table. Re-exported so callers can stay within this
// package when describing schemas.
type TableKey = objkey.TableKey

// ColumnType is the physical type of a column.
type ColumnType uint8

// Physical column types.
const (
	TypeInt ColumnType = iota + 1
	TypeBool
	TypeFloat
	TypeDouble
	TypeString
	TypeBinary
	TypeMixed
	TypeTimestamp
	TypeDecimal128
	TypeObjectID
	TypeLink
	TypeTypedLink
	TypeBackLink
	TypeLinkList
)

// String implements fmt.Stringer.
func (t ColumnType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeBinary:
		return "binary"
	case TypeMixed:
		return "mixed"
	case TypeTimestamp:
		return "timestamp"
	case TypeDecimal128:
		return "decimal128"
	case TypeObjectID:
		return "objectid"
	case TypeLink:
		return "link"
	case TypeTypedLink:
		return "typedlink"
	case TypeBackLink:
		return "backlink"
	case TypeLinkList:
		return "linklist"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Attr is the attribute bitset of a column.
type Attr uint16

// Column attributes.
const (
	Nullable Attr = 1 << iota
	List
	Dictionary
	Indexed
	StrongLinks
)

// Has reports whether all bits in want are set.
func (a Attr) Has(want Attr) bool { return a&want == want }

// ColKey identifies a column. It carries the physical leaf index, the type
// tag, the attribute bitset, and a stable handle that survives schema
// reloads. The zero value is invalid.
type ColKey struct {
	idx  int32
	typ  ColumnType
	attr Attr
	tag  int32
}

// IsZero reports whether k is the invalid zero key.
func (k ColKey) IsZero() bool { return k.typ == 0 }

// Idx returns the physical leaf index; the column's leaf lives at row
// payload slot Idx()+1.
func (k ColKey) Idx() int { return int(k.idx) }

// Type returns the physical type tag.
func (k ColKey) Type() ColumnType { return k.typ }

// Attrs returns the attribute bitset.
func (k ColKey) Attrs() Attr { return k.attr }

// Tag returns the stable handle.
func (k ColKey) Tag() int32 { return k.tag }

// IsNullable reports the Nullable attribute.
func (k ColKey) IsNullable() bool { return k.attr.Has(Nullable) }

// IsList reports the List attribute.
func (k ColKey) IsList() bool { return k.attr.Has(List) }

// IsDictionary reports the Dictionary attribute.
func (k ColKey) IsDictionary() bool { return k.attr.Has(Dictionary) }

// IsIndexed reports the Indexed attribute.
func (k ColKey) IsIndexed() bool { return k.attr.Has(Indexed) }

// IsStrong reports the StrongLinks attribute.
func (k ColKey) IsStrong() bool { return k.attr.Has(StrongLinks) }

// String implements fmt.Stringer.
func (k ColKey) String() string {
	return fmt.Sprintf("ColKey(idx=%d, %s, tag=%d)", k.idx, k.typ, k.tag)
}

// Column is the full schema record behind a ColKey.
type Column struct {
	Key  ColKey
	Name string

	// Target names the link target table for Link/LinkList/TypedLink-free
	// columns; zero otherwise.
	Target TableKey

	// KeyType is the dictionary key type (TypeInt or TypeString) for
	// dictionary columns; zero otherwise.
	KeyType ColumnType

	// OriginTable/OriginCol identify the forward column a backlink column
	// mirrors; set only on backlink columns.
	OriginTable TableKey
	OriginCol   ColKey

	// Opposite is the backlink column on the target table; set only on
	// statically-targeted link columns.
	Opposite ColKey
}

// Table is the schema of one table.
type Table struct {
	key      TableKey
	name     string
	embedded bool
	cols     []Column
	byName   map[string]int
	byTag    map[int32]int
	pk       ColKey
	sch      *Schema
}

// Key returns the table key.
func (t *Table) Key() TableKey { return t.key }

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// IsEmbedded reports whether rows of this table are owned by exactly one
// strong link.
func (t *Table) IsEmbedded() bool { return t.embedded }

// NumSlots returns the number of row payload slots, including the metadata
// slot 0.
func (t *Table) NumSlots() int { return len(t.cols) + 1 }

// Columns returns all columns including hidden backlink columns. The slice
// must not be mutated.
func (t *Table) Columns() []Column { return t.cols }

// PublicColumns returns the user-visible columns, excluding backlinks.
func (t *Table) PublicColumns() []Column {
	out := make([]Column, 0, len(t.cols))
	for _, c := range t.cols {
		if c.Key.Type() != TypeBackLink {
			out = append(out, c)
		}
	}
	return out
}

// Column resolves a ColKey to its schema record.
func (t *Table) Column(key ColKey) (Column, bool) {
	i, ok := t.byTag[key.Tag()]
	if !ok {
		return Column{}, false
	}
	return t.cols[i], true
}

// ColumnByName resolves a column name. Backlink columns are hidden and not
// addressable by name.
func (t *Table) ColumnByName(name string) (Column, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Column{}, false
	}
	return t.cols[i], true
}

// ColKeyByName is a convenience wrapper around ColumnByName.
func (t *Table) ColKeyByName(name string) (ColKey, bool) {
	c, ok := t.ColumnByName(name)
	return c.Key, ok
}

// SetPrimaryKey designates col as the table's primary key column.
func (t *Table) SetPrimaryKey(col ColKey) { t.pk = col }

// PrimaryKey returns the designated primary key column, zero if none.
func (t *Table) PrimaryKey() ColKey { return t.pk }

var (
	// ErrColumnExists is returned when a column name is already taken.
	ErrColumnExists = errors.New("schema: column already exists")
	// ErrBadAttr is returned for inconsistent attribute combinations.
	ErrBadAttr = errors.New("schema: invalid attribute combination")
	// ErrBadKeyType is returned when a dictionary key type is not Int or String.
	ErrBadKeyType = errors.New("schema: dictionary key type must be int or string")
)

func (t *Table) addColumn(c Column) ColKey {
	c.Key.idx = int32(len(t.cols))
	c.Key.tag = t.sch.nextTag
	t.sch.nextTag++
	t.cols = append(t.cols, c)
	t.byTag[c.Key.tag] = len(t.cols) - 1
	if c.Name != "" {
		t.byName[c.Name] = len(t.cols) - 1
	}
	return c.Key
}

// AddColumn adds a non-link column.
func (t *Table) AddColumn(name string, typ ColumnType, attr Attr) (ColKey, error) {
	if _, ok := t.byName[name]; ok {
		return ColKey{}, fmt.Errorf("%w: %s.%s", ErrColumnExists, t.name, name)
	}
	switch typ {
	case TypeLink, TypeLinkList, TypeBackLink:
		return ColKey{}, fmt.Errorf("%w: use AddLinkColumn for %s", ErrBadAttr, typ)
	}
	if attr.Has(List) && attr.Has(Dictionary) {
		return ColKey{}, fmt.Errorf("%w: List and Dictionary on %s.%s", ErrBadAttr, t.name, name)
	}
	return t.addColumn(Column{Key: ColKey{typ: typ, attr: attr}, Name: name}), nil
}

// AddDictionaryColumn adds a dictionary column. keyType must be TypeInt or
// TypeString; values are always Mixed.
func (t *Table) AddDictionaryColumn(name string, keyType ColumnType, attr Attr) (ColKey, error) {
	if _, ok := t.byName[name]; ok {
		return ColKey{}, fmt.Errorf("%w: %s.%s", ErrColumnExists, t.name, name)
	}
	if keyType != TypeInt && keyType != TypeString {
		return ColKey{}, fmt.Errorf("%w: %s", ErrBadKeyType, keyType)
	}
	c := Column{Key: ColKey{typ: TypeMixed, attr: attr | Dictionary}, Name: name, KeyType: keyType}
	return t.addColumn(c), nil
}

// AddLinkColumn adds a Link or LinkList column targeting target, and
// registers the implicit backlink column on the target table. Links into an
// embedded table are always strong.
func (t *Table) AddLinkColumn(name string, typ ColumnType, target *Table, attr Attr) (ColKey, error) {
	if _, ok := t.byName[name]; ok {
		return ColKey{}, fmt.Errorf("%w: %s.%s", ErrColumnExists, t.name, name)
	}
	if typ != TypeLink && typ != TypeLinkList {
		return ColKey{}, fmt.Errorf("%w: AddLinkColumn needs Link or LinkList, got %s", ErrBadAttr, typ)
	}
	if target.embedded {
		attr |= StrongLinks
	}
	fwd := Column{Key: ColKey{typ: typ, attr: attr}, Name: name, Target: target.key}
	fwdKey := t.addColumn(fwd)

	back := Column{
		Key:         ColKey{typ: TypeBackLink},
		OriginTable: t.key,
		OriginCol:   fwdKey,
	}
	backKey := target.addColumn(back)

	i := t.byTag[fwdKey.Tag()]
	t.cols[i].Opposite = backKey
	return fwdKey, nil
}

// AddTypedLinkColumn adds a TypedLink column. The target is carried per
// value, so no backlink column is registered here; targets register theirs
// lazily via Schema.EnsureBacklink.
func (t *Table) AddTypedLinkColumn(name string, attr Attr) (ColKey, error) {
	if _, ok := t.byName[name]; ok {
		return ColKey{}, fmt.Errorf("%w: %s.%s", ErrColumnExists, t.name, name)
	}
	return t.addColumn(Column{Key: ColKey{typ: TypeTypedLink, attr: attr}, Name: name}), nil
}

// OppositeOf returns the target table and backlink column mirroring a
// statically-targeted link column.
func (t *Table) OppositeOf(col ColKey) (TableKey, ColKey, bool) {
	c, ok := t.Column(col)
	if !ok || c.Opposite.IsZero() {
		return 0, ColKey{}, false
	}
	return c.Target, c.Opposite, true
}

// OriginOf returns the origin table and forward column mirrored by a
// backlink column.
func (t *Table) OriginOf(backCol ColKey) (TableKey, ColKey, bool) {
	c, ok := t.Column(backCol)
	if !ok || c.Key.Type() != TypeBackLink {
		return 0, ColKey{}, false
	}
	return c.OriginTable, c.OriginCol, true
}

// BacklinkColumns returns all backlink columns of t.
func (t *Table) BacklinkColumns() []Column {
	var out []Column
	for _, c := range t.cols {
		if c.Key.Type() == TypeBackLink {
			out = append(out, c)
		}
	}
	return out
}

// Schema is the set of tables in a group.
type Schema struct {
	tables  []*Table
	byKey   map[TableKey]*Table
	byName  map[string]*Table
	nextKey TableKey
	nextTag int32
}

// New creates an empty schema.
func New() *Schema {
	return &Schema{
		byKey:   make(map[TableKey]*Table),
		byName:  make(map[string]*Table),
		nextKey: 1,
		nextTag: 1,
	}
}

func (s *Schema) addTable(name string, embedded bool) *Table {
	t := &Table{
		key:      s.nextKey,
		name:     name,
		embedded: embedded,
		byName:   make(map[string]int),
		byTag:    make(map[int32]int),
		sch:      s,
	}
	s.nextKey++
	s.tables = append(s.tables, t)
	s.byKey[t.key] = t
	s.byName[name] = t
	return t
}

// AddTable adds a top-level table.
func (s *Schema) AddTable(name string) *Table { return s.addTable(name, false) }

// AddEmbeddedTable adds an embedded table. Rows of an embedded table are
// created through their owner and die with the owning strong link.
func (s *Schema) AddEmbeddedTable(name string) *Table { return s.addTable(name, true) }

// Table resolves a table key.
func (s *Schema) Table(key TableKey) (*Table, bool) {
	t, ok := s.byKey[key]
	return t, ok
}

// TableByName resolves a table name.
func (s *Schema) TableByName(name string) (*Table, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// Tables returns all tables in creation order.
func (s *Schema) Tables() []*Table { return s.tables }

// EnsureBacklink returns the backlink column on target mirroring
// (originTable, originCol), registering it on first use. This is the lookup
// path for TypedLink, Mixed, and dictionary-valued links, whose target table
// is only known per value.
func (s *Schema) EnsureBacklink(target *Table, originTable TableKey, originCol ColKey) ColKey {
	for _, c := range target.cols {
		if c.Key.Type() == TypeBackLink && c.OriginTable == originTable && c.OriginCol.Tag() == originCol.Tag() {
			return c.Key
		}
	}
	return target.addColumn(Column{
		Key:         ColKey{typ: TypeBackLink},
		OriginTable: originTable,
		OriginCol:   originCol,
	})
}
