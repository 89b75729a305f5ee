package mixed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objcore/objcore/objkey"
)

func TestZeroValueIsNull(t *testing.T) {
	var m Mixed
	assert.True(t, m.IsNull())
	assert.Equal(t, KindNull, m.Kind())
}

func TestAccessors(t *testing.T) {
	assert.Equal(t, int64(7), Int(7).Int64())
	assert.True(t, Bool(true).Bool_())
	assert.Equal(t, float32(1.5), Float(1.5).Float32())
	assert.Equal(t, 2.5, Double(2.5).Float64())
	assert.Equal(t, "hi", String_("hi").Str())
	assert.Equal(t, []byte{1, 2}, Binary([]byte{1, 2}).Bytes())

	ts := TimestampOf(time.Unix(100, 250).UTC())
	assert.Equal(t, ts, Time(ts).Timestamp())

	d := Decimal128{Hi: 1, Lo: 2}
	assert.Equal(t, d, Decimal(d).Decimal128())

	var oid ObjectID
	copy(oid[:], "abcdefghijkl")
	assert.Equal(t, oid, OID(oid).ObjectID())

	assert.Equal(t, objkey.ObjKey(9), Link(9).ObjKey())
	l := objkey.ObjLink{Table: 3, Key: 9}
	assert.Equal(t, l, TypedLink(l).ObjLink())
}

func TestEqual(t *testing.T) {
	assert.True(t, Int(5).Equal(Int(5)))
	assert.False(t, Int(5).Equal(Int(6)))
	// Same payload, different kind: never equal.
	assert.False(t, Int(1).Equal(Bool(true)))
	assert.False(t, Int(5).Equal(Double(5)))
	assert.True(t, Null().Equal(Null()))
	assert.True(t, Binary([]byte("x")).Equal(Binary([]byte("x"))))
	assert.False(t, String_("x").Equal(String_("y")))
}

func TestHashDefinedForEveryKind(t *testing.T) {
	values := []Mixed{
		Null(),
		Int(1),
		Bool(true),
		Float(1),
		Double(1),
		String_("a"),
		Binary([]byte("a")),
		Time(Timestamp{Seconds: 1}),
		Decimal(Decimal128{Lo: 1}),
		OID(ObjectID{1}),
		Link(1),
		TypedLink(objkey.ObjLink{Table: 1, Key: 1}),
	}
	seen := make(map[uint64]Kind, len(values))
	for _, v := range values {
		h := v.Hash()
		prev, dup := seen[h]
		require.False(t, dup, "hash collision between kinds %s and %s", prev, v.Kind())
		seen[h] = v.Kind()
	}
}

func TestHashDeterministic(t *testing.T) {
	assert.Equal(t, String_("key").Hash(), String_("key").Hash())
	assert.NotEqual(t, String_("key").Hash(), String_("other").Hash())
	assert.Equal(t, Int(42).Hash(), Int(42).Hash())
}

func TestMarshalJSON(t *testing.T) {
	b, err := Int(5).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "5", string(b))

	b, err = Null().MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	b, err = String_("a\"b").MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"a\"b"`, string(b))
}
