package replication

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/objcore/objcore/mixed"
	"github.com/objcore/objcore/objkey"
)

// Binary wire format of one instruction, little-endian:
//
//	op      u8
//	table   u32
//	key     i64
//	col     i32
//	index   varint
//	flags   u8        bit0: has value, bit1: has dict key
//	value   mixed     (if flags&1)
//	dictkey mixed     (if flags&2)
//
// A mixed value is a kind byte followed by its payload; strings and binary
// are uvarint-length prefixed.

// ErrShortFrame is returned when a frame ends before its payload.
var ErrShortFrame = errors.New("replication: short frame")

// AppendInstruction encodes inst onto dst.
func AppendInstruction(dst []byte, inst Instruction) []byte {
	dst = append(dst, byte(inst.Op))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(inst.Table))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(inst.Key))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(inst.ColTag))
	dst = binary.AppendVarint(dst, int64(inst.Index))

	var flags byte
	if !inst.Value.IsNull() {
		flags |= 1
	}
	if inst.DictKey != nil {
		flags |= 2
	}
	dst = append(dst, flags)
	if flags&1 != 0 {
		dst = appendMixed(dst, inst.Value)
	}
	if flags&2 != 0 {
		dst = appendMixed(dst, *inst.DictKey)
	}
	return dst
}

// DecodeInstruction decodes one instruction, returning the bytes consumed.
func DecodeInstruction(b []byte) (Instruction, int, error) {
	var inst Instruction
	if len(b) < 1+4+8+4 {
		return inst, 0, ErrShortFrame
	}
	n := 0
	inst.Op = Op(b[n])
	n++
	inst.Table = objkey.TableKey(binary.LittleEndian.Uint32(b[n:]))
	n += 4
	inst.Key = objkey.ObjKey(binary.LittleEndian.Uint64(b[n:]))
	n += 8
	inst.ColTag = int32(binary.LittleEndian.Uint32(b[n:]))
	n += 4
	idx, sz := binary.Varint(b[n:])
	if sz <= 0 {
		return inst, 0, ErrShortFrame
	}
	inst.Index = int(idx)
	n += sz
	if n >= len(b) {
		return inst, 0, ErrShortFrame
	}
	flags := b[n]
	n++
	if flags&1 != 0 {
		v, sz, err := decodeMixed(b[n:])
		if err != nil {
			return inst, 0, err
		}
		inst.Value = v
		n += sz
	}
	if flags&2 != 0 {
		v, sz, err := decodeMixed(b[n:])
		if err != nil {
			return inst, 0, err
		}
		inst.DictKey = &v
		n += sz
	}
	return inst, n, nil
}

func appendMixed(dst []byte, m mixed.Mixed) []byte {
	dst = append(dst, byte(m.Kind()))
	switch m.Kind() {
	case mixed.KindNull:
	case mixed.KindInt:
		dst = binary.LittleEndian.AppendUint64(dst, uint64(m.Int64()))
	case mixed.KindBool:
		if m.Bool_() {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
	case mixed.KindFloat:
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(m.Float32()))
	case mixed.KindDouble:
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(m.Float64()))
	case mixed.KindString:
		dst = binary.AppendUvarint(dst, uint64(len(m.Str())))
		dst = append(dst, m.Str()...)
	case mixed.KindBinary:
		dst = binary.AppendUvarint(dst, uint64(len(m.Bytes())))
		dst = append(dst, m.Bytes()...)
	case mixed.KindTimestamp:
		ts := m.Timestamp()
		dst = binary.LittleEndian.AppendUint64(dst, uint64(ts.Seconds))
		dst = binary.LittleEndian.AppendUint32(dst, uint32(ts.Nanos))
	case mixed.KindDecimal128:
		d := m.Decimal128()
		dst = binary.LittleEndian.AppendUint64(dst, d.Hi)
		dst = binary.LittleEndian.AppendUint64(dst, d.Lo)
	case mixed.KindObjectID:
		oid := m.ObjectID()
		dst = append(dst, oid[:]...)
	case mixed.KindLink:
		dst = binary.LittleEndian.AppendUint64(dst, uint64(m.ObjKey()))
	case mixed.KindTypedLink:
		l := m.ObjLink()
		dst = binary.LittleEndian.AppendUint32(dst, uint32(l.Table))
		dst = binary.LittleEndian.AppendUint64(dst, uint64(l.Key))
	}
	return dst
}

func decodeMixed(b []byte) (mixed.Mixed, int, error) {
	if len(b) < 1 {
		return mixed.Null(), 0, ErrShortFrame
	}
	kind := mixed.Kind(b[0])
	b = b[1:]
	n := 1
	need := func(want int) error {
		if len(b) < want {
			return ErrShortFrame
		}
		return nil
	}
	switch kind {
	case mixed.KindNull:
		return mixed.Null(), n, nil
	case mixed.KindInt:
		if err := need(8); err != nil {
			return mixed.Null(), 0, err
		}
		return mixed.Int(int64(binary.LittleEndian.Uint64(b))), n + 8, nil
	case mixed.KindBool:
		if err := need(1); err != nil {
			return mixed.Null(), 0, err
		}
		return mixed.Bool(b[0] != 0), n + 1, nil
	case mixed.KindFloat:
		if err := need(4); err != nil {
			return mixed.Null(), 0, err
		}
		return mixed.Float(math.Float32frombits(binary.LittleEndian.Uint32(b))), n + 4, nil
	case mixed.KindDouble:
		if err := need(8); err != nil {
			return mixed.Null(), 0, err
		}
		return mixed.Double(math.Float64frombits(binary.LittleEndian.Uint64(b))), n + 8, nil
	case mixed.KindString, mixed.KindBinary:
		l, sz := binary.Uvarint(b)
		if sz <= 0 || uint64(len(b)-sz) < l {
			return mixed.Null(), 0, ErrShortFrame
		}
		payload := b[sz : sz+int(l)]
		if kind == mixed.KindString {
			return mixed.String_(string(payload)), n + sz + int(l), nil
		}
		return mixed.Binary(append([]byte(nil), payload...)), n + sz + int(l), nil
	case mixed.KindTimestamp:
		if err := need(12); err != nil {
			return mixed.Null(), 0, err
		}
		return mixed.Time(mixed.Timestamp{
			Seconds: int64(binary.LittleEndian.Uint64(b)),
			Nanos:   int32(binary.LittleEndian.Uint32(b[8:])),
		}), n + 12, nil
	case mixed.KindDecimal128:
		if err := need(16); err != nil {
			return mixed.Null(), 0, err
		}
		return mixed.Decimal(mixed.Decimal128{
			Hi: binary.LittleEndian.Uint64(b),
			Lo: binary.LittleEndian.Uint64(b[8:]),
		}), n + 16, nil
	case mixed.KindObjectID:
		if err := need(12); err != nil {
			return mixed.Null(), 0, err
		}
		var oid mixed.ObjectID
		copy(oid[:], b[:12])
		return mixed.OID(oid), n + 12, nil
	case mixed.KindLink:
		if err := need(8); err != nil {
			return mixed.Null(), 0, err
		}
		return mixed.Link(objkey.ObjKey(binary.LittleEndian.Uint64(b))), n + 8, nil
	case mixed.KindTypedLink:
		if err := need(12); err != nil {
			return mixed.Null(), 0, err
		}
		return mixed.TypedLink(objkey.ObjLink{
			Table: objkey.TableKey(binary.LittleEndian.Uint32(b)),
			Key:   objkey.ObjKey(binary.LittleEndian.Uint64(b[4:])),
		}), n + 12, nil
	default:
		return mixed.Null(), 0, fmt.Errorf("replication: unknown mixed kind %d", kind)
	}
}
