// Package mixed implements the polymorphic value type stored in Mixed
// columns and dictionary values.
//
// A Mixed is a tagged union over every physical scalar type plus null and
// typed links. The zero value is null.
package mixed

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/objcore/objcore/internal/hash"
	"github.com/objcore/objcore/objkey"
)

// Kind is the tag of a Mixed value.
type Kind uint8

// Kinds, in stable wire order. The numeric values are persisted by the
// replication log and must not be reordered.
const (
	KindNull Kind = iota
	KindInt
	KindBool
	KindFloat
	KindDouble
	KindString
	KindBinary
	KindTimestamp
	KindDecimal128
	KindObjectID
	KindLink
	KindTypedLink
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindTimestamp:
		return "timestamp"
	case KindDecimal128:
		return "decimal128"
	case KindObjectID:
		return "objectid"
	case KindLink:
		return "link"
	case KindTypedLink:
		return "typedlink"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Timestamp is a point in time with nanosecond precision, stored as seconds
// since the epoch plus a nanosecond remainder.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// TimestampOf converts a time.Time.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Time converts back to a time.Time in UTC.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanos)).UTC()
}

// String implements fmt.Stringer using RFC 3339 with nanoseconds.
func (t Timestamp) String() string {
	return t.Time().Format(time.RFC3339Nano)
}

// Decimal128 is an opaque 128-bit decimal. The core never does arithmetic on
// decimals; it stores, compares, and prints them.
type Decimal128 struct {
	Hi, Lo uint64
}

// String renders the raw 128-bit pattern. Full IEEE 754-2008 decoding is the
// responsibility of callers that do decimal arithmetic.
func (d Decimal128) String() string {
	return fmt.Sprintf("decimal128(%016x%016x)", d.Hi, d.Lo)
}

// ObjectID is a 12-byte globally unique identifier.
type ObjectID [12]byte

// String implements fmt.Stringer as lowercase hex.
func (o ObjectID) String() string {
	return fmt.Sprintf("%x", o[:])
}

// Mixed is a tagged union over the physical scalar types, null, and links.
// The zero value is null. Mixed values are immutable.
type Mixed struct {
	kind Kind
	i    int64 // Int, Bool(0/1), Link(ObjKey), Timestamp.Seconds
	i2   int64 // Timestamp.Nanos, Decimal128.Lo, TypedLink table
	f    float64
	s    string
	b    []byte
	oid  ObjectID
}

// Null returns the null value.
func Null() Mixed { return Mixed{} }

// Int wraps an int64.
func Int(v int64) Mixed { return Mixed{kind: KindInt, i: v} }

// Bool wraps a bool.
func Bool(v bool) Mixed {
	var i int64
	if v {
		i = 1
	}
	return Mixed{kind: KindBool, i: i}
}

// Float wraps a float32.
func Float(v float32) Mixed { return Mixed{kind: KindFloat, f: float64(v)} }

// Double wraps a float64.
func Double(v float64) Mixed { return Mixed{kind: KindDouble, f: v} }

// String_ wraps a string. The trailing underscore avoids colliding with the
// Stringer method.
func String_(v string) Mixed { return Mixed{kind: KindString, s: v} }

// Binary wraps a byte slice. The slice is not copied; callers must not
// mutate it afterwards.
func Binary(v []byte) Mixed { return Mixed{kind: KindBinary, b: v} }

// Time wraps a Timestamp.
func Time(v Timestamp) Mixed {
	return Mixed{kind: KindTimestamp, i: v.Seconds, i2: int64(v.Nanos)}
}

// Decimal wraps a Decimal128.
func Decimal(v Decimal128) Mixed {
	return Mixed{kind: KindDecimal128, i: int64(v.Hi), i2: int64(v.Lo)}
}

// OID wraps an ObjectID.
func OID(v ObjectID) Mixed { return Mixed{kind: KindObjectID, oid: v} }

// Link wraps a column-local link: the target table is implied by the column.
func Link(k objkey.ObjKey) Mixed { return Mixed{kind: KindLink, i: int64(k)} }

// TypedLink wraps a global link naming its target table.
func TypedLink(l objkey.ObjLink) Mixed {
	return Mixed{kind: KindTypedLink, i: int64(l.Key), i2: int64(l.Table)}
}

// Kind returns the tag.
func (m Mixed) Kind() Kind { return m.kind }

// IsNull reports whether m is the null variant.
func (m Mixed) IsNull() bool { return m.kind == KindNull }

// Int64 returns the int payload. Valid only for KindInt.
func (m Mixed) Int64() int64 { return m.i }

// Bool_ returns the bool payload. Valid only for KindBool.
func (m Mixed) Bool_() bool { return m.i != 0 }

// Float32 returns the float payload. Valid only for KindFloat.
func (m Mixed) Float32() float32 { return float32(m.f) }

// Float64 returns the double payload. Valid only for KindDouble.
func (m Mixed) Float64() float64 { return m.f }

// Str returns the string payload. Valid only for KindString.
func (m Mixed) Str() string { return m.s }

// Bytes returns the binary payload. Valid only for KindBinary. Callers must
// not mutate the returned slice.
func (m Mixed) Bytes() []byte { return m.b }

// Timestamp returns the timestamp payload. Valid only for KindTimestamp.
func (m Mixed) Timestamp() Timestamp {
	return Timestamp{Seconds: m.i, Nanos: int32(m.i2)}
}

// Decimal128 returns the decimal payload. Valid only for KindDecimal128.
func (m Mixed) Decimal128() Decimal128 {
	return Decimal128{Hi: uint64(m.i), Lo: uint64(m.i2)}
}

// ObjectID returns the object-id payload. Valid only for KindObjectID.
func (m Mixed) ObjectID() ObjectID { return m.oid }

// ObjKey returns the link payload. Valid for KindLink and KindTypedLink.
func (m Mixed) ObjKey() objkey.ObjKey { return objkey.ObjKey(m.i) }

// ObjLink returns the typed-link payload. Valid only for KindTypedLink.
func (m Mixed) ObjLink() objkey.ObjLink {
	return objkey.ObjLink{Table: objkey.TableKey(m.i2), Key: objkey.ObjKey(m.i)}
}

// IsLink reports whether m carries a reference (KindLink or KindTypedLink).
func (m Mixed) IsLink() bool { return m.kind == KindLink || m.kind == KindTypedLink }

// Equal compares tag and payload. Float and Double compare by bit pattern so
// NaN equals NaN; Int never equals Double even when numerically equal.
func (m Mixed) Equal(o Mixed) bool {
	if m.kind != o.kind {
		return false
	}
	switch m.kind {
	case KindNull:
		return true
	case KindInt, KindBool, KindLink:
		return m.i == o.i
	case KindFloat, KindDouble:
		return math.Float64bits(m.f) == math.Float64bits(o.f)
	case KindString:
		return m.s == o.s
	case KindBinary:
		return bytes.Equal(m.b, o.b)
	case KindTimestamp, KindDecimal128, KindTypedLink:
		return m.i == o.i && m.i2 == o.i2
	case KindObjectID:
		return m.oid == o.oid
	default:
		return false
	}
}

// Hash returns a deterministic 64-bit hash of the value. Every variant
// hashes; distinct kinds holding identical payload bytes hash differently
// because the kind byte is folded in first.
func (m Mixed) Hash() uint64 {
	var buf [32]byte
	buf[0] = byte(m.kind)
	n := 1
	switch m.kind {
	case KindNull:
	case KindInt, KindBool, KindLink:
		binary.LittleEndian.PutUint64(buf[n:], uint64(m.i))
		n += 8
	case KindFloat, KindDouble:
		binary.LittleEndian.PutUint64(buf[n:], math.Float64bits(m.f))
		n += 8
	case KindString:
		h := hash.FNV64a([]byte(m.s))
		binary.LittleEndian.PutUint64(buf[n:], h)
		n += 8
	case KindBinary:
		h := hash.FNV64a(m.b)
		binary.LittleEndian.PutUint64(buf[n:], h)
		n += 8
	case KindTimestamp, KindDecimal128, KindTypedLink:
		binary.LittleEndian.PutUint64(buf[n:], uint64(m.i))
		binary.LittleEndian.PutUint64(buf[n+8:], uint64(m.i2))
		n += 16
	case KindObjectID:
		copy(buf[n:], m.oid[:])
		n += 12
	}
	return hash.FNV64a(buf[:n])
}

// MarshalJSON renders the value for export. Numeric kinds emit JSON
// numbers; timestamps, decimals, object-ids, and binary emit their quoted
// string forms; bare links emit the target key as a JSON number and typed
// links emit {"table": ..., "key": ...}. Decoding is not
// supported; the binary wire format is the round-trip representation.
func (m Mixed) MarshalJSON() ([]byte, error) {
	switch m.kind {
	case KindNull:
		return []byte("null"), nil
	case KindInt:
		return json.Marshal(m.i)
	case KindBool:
		return json.Marshal(m.i != 0)
	case KindFloat, KindDouble:
		if math.IsInf(m.f, 0) || math.IsNaN(m.f) {
			return []byte("null"), nil
		}
		return json.Marshal(m.f)
	case KindString:
		return json.Marshal(m.s)
	case KindBinary:
		return json.Marshal(base64.StdEncoding.EncodeToString(m.b))
	case KindTimestamp:
		return json.Marshal(m.Timestamp().String())
	case KindDecimal128:
		return json.Marshal(m.Decimal128().String())
	case KindObjectID:
		return json.Marshal(m.ObjectID().String())
	case KindLink:
		return json.Marshal(int64(m.i))
	case KindTypedLink:
		l := m.ObjLink()
		return json.Marshal(map[string]int64{"table": int64(l.Table), "key": int64(l.Key)})
	default:
		return []byte("null"), nil
	}
}

// String implements fmt.Stringer.
func (m Mixed) String() string {
	switch m.kind {
	case KindNull:
		return "null"
	case KindInt:
		return fmt.Sprintf("%d", m.i)
	case KindBool:
		return fmt.Sprintf("%t", m.i != 0)
	case KindFloat, KindDouble:
		return fmt.Sprintf("%g", m.f)
	case KindString:
		return fmt.Sprintf("%q", m.s)
	case KindBinary:
		return fmt.Sprintf("binary(%d bytes)", len(m.b))
	case KindTimestamp:
		return m.Timestamp().String()
	case KindDecimal128:
		return m.Decimal128().String()
	case KindObjectID:
		return m.ObjectID().String()
	case KindLink:
		return m.ObjKey().String()
	case KindTypedLink:
		return m.ObjLink().String()
	default:
		return fmt.Sprintf("mixed(%d)", uint8(m.kind))
	}
}
