package obj

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/objcore/objcore/mixed"
	"github.com/objcore/objcore/objkey"
	"github.com/objcore/objcore/schema"
)

// ToJSON writes the row as a single JSON object. The reserved key "_key"
// carries the row key; renames substitute column names; link columns emit
// the full nested object while depth permits and the link has not been
// followed on this branch, a {"table": ..., "key": ...} stub otherwise.
func (o *Obj) ToJSON(w io.Writer, depth int, renames map[string]string) error {
	if err := o.updateIfNeeded(); err != nil {
		return err
	}
	followed := make(map[objkey.ObjLink]bool)
	var sb strings.Builder
	if err := o.toJSON(&sb, depth, renames, followed); err != nil {
		return err
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func (o *Obj) toJSON(sb *strings.Builder, depth int, renames map[string]string, followed map[objkey.ObjLink]bool) error {
	if err := o.updateIfNeeded(); err != nil {
		return err
	}
	sb.WriteString(`{"_key":`)
	sb.WriteString(strconv.FormatInt(int64(o.key), 10))

	for _, c := range o.t.spec.PublicColumns() {
		name := c.Name
		if r, ok := renames[name]; ok {
			name = r
		}
		sb.WriteByte(',')
		writeJSONString(sb, name)
		sb.WriteByte(':')
		if err := o.columnToJSON(sb, c, depth, renames, followed); err != nil {
			return err
		}
	}
	sb.WriteByte('}')
	return nil
}

func (o *Obj) columnToJSON(sb *strings.Builder, c schema.Column, depth int, renames map[string]string, followed map[objkey.ObjLink]bool) error {
	switch {
	case c.Key.IsDictionary():
		root, err := o.DictRoot(c.Key)
		if err != nil {
			return err
		}
		sb.WriteByte('{')
		first := true
		var inner error
		forEachDictValue(o.t.g.alloc, root, c, func(k, v mixed.Mixed) {
			if inner != nil {
				return
			}
			if !first {
				sb.WriteByte(',')
			}
			first = false
			writeJSONString(sb, stringifyDictKey(k))
			sb.WriteByte(':')
			inner = o.mixedToJSON(sb, v, schema.TableKey(0), depth, renames, followed)
		})
		if inner != nil {
			return inner
		}
		sb.WriteByte('}')
	case c.Key.Type() == schema.TypeLinkList:
		ll, err := o.GetLinkList(c.Key)
		if err != nil {
			return err
		}
		n, err := ll.Size()
		if err != nil {
			return err
		}
		sb.WriteByte('[')
		for i := 0; i < n; i++ {
			if i > 0 {
				sb.WriteByte(',')
			}
			k, err := ll.Get(i)
			if err != nil {
				return err
			}
			if err := o.linkToJSON(sb, c.Target, k, depth, renames, followed); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case c.Key.IsList():
		if err := o.valueListToJSON(sb, c); err != nil {
			return err
		}
	case c.Key.Type() == schema.TypeLink:
		k, err := o.GetUnfilteredLink(c.Key)
		if err != nil {
			return err
		}
		return o.linkToJSON(sb, c.Target, k, depth, renames, followed)
	default:
		m := o.readCell(c)
		return o.mixedToJSON(sb, m, c.Target, depth, renames, followed)
	}
	return nil
}

// linkToJSON emits a link as the nested target object, a stub, or null.
func (o *Obj) linkToJSON(sb *strings.Builder, table schema.TableKey, key objkey.ObjKey, depth int, renames map[string]string, followed map[objkey.ObjLink]bool) error {
	if key.IsNull() || key.IsUnresolved() {
		sb.WriteString("null")
		return nil
	}
	link := objkey.ObjLink{Table: table, Key: key}
	target, err := o.t.g.Table(table)
	if err != nil {
		sb.WriteString("null")
		return nil
	}
	if depth > 0 && !followed[link] {
		to, err := target.GetObject(key)
		if err != nil {
			sb.WriteString("null")
			return nil
		}
		followed[link] = true
		err = to.toJSON(sb, depth-1, renames, followed)
		delete(followed, link)
		return err
	}
	sb.WriteString(`{"table":`)
	writeJSONString(sb, target.Name())
	sb.WriteString(`,"key":`)
	sb.WriteString(strconv.FormatInt(int64(key), 10))
	sb.WriteByte('}')
	return nil
}

func (o *Obj) mixedToJSON(sb *strings.Builder, m mixed.Mixed, linkTarget schema.TableKey, depth int, renames map[string]string, followed map[objkey.ObjLink]bool) error {
	switch m.Kind() {
	case mixed.KindNull:
		sb.WriteString("null")
	case mixed.KindInt:
		sb.WriteString(strconv.FormatInt(m.Int64(), 10))
	case mixed.KindBool:
		sb.WriteString(strconv.FormatBool(m.Bool_()))
	case mixed.KindFloat:
		sb.WriteString(formatJSONFloat(float64(m.Float32())))
	case mixed.KindDouble:
		sb.WriteString(formatJSONFloat(m.Float64()))
	case mixed.KindString:
		writeJSONString(sb, m.Str())
	case mixed.KindBinary:
		writeJSONString(sb, base64.StdEncoding.EncodeToString(m.Bytes()))
	case mixed.KindTimestamp:
		writeJSONString(sb, m.Timestamp().String())
	case mixed.KindDecimal128:
		writeJSONString(sb, m.Decimal128().String())
	case mixed.KindObjectID:
		writeJSONString(sb, m.ObjectID().String())
	case mixed.KindLink:
		return o.linkToJSON(sb, linkTarget, m.ObjKey(), depth, renames, followed)
	case mixed.KindTypedLink:
		l := m.ObjLink()
		return o.linkToJSON(sb, l.Table, l.Key, depth, renames, followed)
	}
	return nil
}

func (o *Obj) valueListToJSON(sb *strings.Builder, c schema.Column) error {
	sb.WriteByte('[')
	var err error
	switch c.Key.Type() {
	case schema.TypeInt:
		err = writeList[int64](sb, o, c.Key, func(v int64) string { return strconv.FormatInt(v, 10) })
	case schema.TypeBool:
		err = writeList[bool](sb, o, c.Key, strconv.FormatBool)
	case schema.TypeFloat:
		err = writeList[float32](sb, o, c.Key, func(v float32) string { return formatJSONFloat(float64(v)) })
	case schema.TypeDouble:
		err = writeList[float64](sb, o, c.Key, formatJSONFloat)
	case schema.TypeString:
		err = writeList[string](sb, o, c.Key, quoteJSONString)
	case schema.TypeBinary:
		err = writeList[[]byte](sb, o, c.Key, func(v []byte) string {
			return quoteJSONString(base64.StdEncoding.EncodeToString(v))
		})
	default:
		err = fmt.Errorf("unsupported list element type %s", c.Key.Type())
	}
	if err != nil {
		return err
	}
	sb.WriteByte(']')
	return nil
}

func writeList[T any](sb *strings.Builder, o *Obj, col schema.ColKey, format func(T) string) error {
	l, err := GetList[T](o, col)
	if err != nil {
		return err
	}
	n, err := l.Size()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		v, err := l.Get(i)
		if err != nil {
			return err
		}
		sb.WriteString(format(v))
	}
	return nil
}

// stringifyDictKey renders a dictionary key as its JSON object key.
func stringifyDictKey(k mixed.Mixed) string {
	if k.Kind() == mixed.KindInt {
		return strconv.FormatInt(k.Int64(), 10)
	}
	return k.Str()
}

// writeJSONString writes s quoted with the JSON escape set.
func writeJSONString(sb *strings.Builder, s string) {
	sb.WriteString(quoteJSONString(s))
}

func quoteJSONString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// formatJSONFloat renders a float as a JSON number; non-finite values fall
// back to null, which JSON cannot represent as numbers.
func formatJSONFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	switch s {
	case "+Inf", "-Inf", "NaN":
		return "null"
	}
	return s
}
