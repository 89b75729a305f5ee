package obj

import (
	"fmt"

	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/schema"
)

// Assign deep-copies every public field of other into this row: scalars,
// lists, and dictionaries. Both rows must belong to the same table schema.
func (o *Obj) Assign(other *Obj) error {
	if o.t.spec != other.t.spec {
		return fmt.Errorf("%w: assign across different tables", objerr.ErrIllegalCombination)
	}
	if err := o.updateIfNeeded(); err != nil {
		return err
	}
	if err := other.updateIfNeeded(); err != nil {
		return err
	}

	for _, c := range o.t.spec.PublicColumns() {
		switch {
		case c.Key.IsDictionary():
			src, err := other.GetDictionary(c.Key)
			if err != nil {
				return err
			}
			dst, err := o.GetDictionary(c.Key)
			if err != nil {
				return err
			}
			it, err := src.Iterate()
			if err != nil {
				return err
			}
			for ; !it.Done(); it.Next() {
				k, err := it.Key()
				if err != nil {
					return err
				}
				v, err := it.Value()
				if err != nil {
					return err
				}
				if _, _, err := dst.Insert(k, v); err != nil {
					return err
				}
			}
		case c.Key.Type() == schema.TypeLinkList:
			src, err := other.GetLinkList(c.Key)
			if err != nil {
				return err
			}
			dst, err := o.GetLinkList(c.Key)
			if err != nil {
				return err
			}
			if err := dst.Clear(); err != nil {
				return err
			}
			n, err := src.Size()
			if err != nil {
				return err
			}
			for i := 0; i < n; i++ {
				k, err := src.Get(i)
				if err != nil {
					return err
				}
				if k.IsNull() {
					continue
				}
				if err := dst.Add(k); err != nil {
					return err
				}
			}
		case c.Key.IsList():
			if err := o.assignValueList(other, c); err != nil {
				return err
			}
		default:
			m, err := other.GetAny(c.Key)
			if err != nil {
				return err
			}
			if err := o.SetAny(c.Key, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// assignValueList copies one value-list column, dispatching on element type.
func (o *Obj) assignValueList(other *Obj, c schema.Column) error {
	switch c.Key.Type() {
	case schema.TypeInt:
		return copyList[int64](o, other, c.Key)
	case schema.TypeBool:
		return copyList[bool](o, other, c.Key)
	case schema.TypeFloat:
		return copyList[float32](o, other, c.Key)
	case schema.TypeDouble:
		return copyList[float64](o, other, c.Key)
	case schema.TypeString:
		return copyList[string](o, other, c.Key)
	case schema.TypeBinary:
		return copyList[[]byte](o, other, c.Key)
	default:
		return fmt.Errorf("%w: list of %s", objerr.ErrIllegalType, c.Key.Type())
	}
}

func copyList[T any](o, other *Obj, col schema.ColKey) error {
	src, err := GetList[T](other, col)
	if err != nil {
		return err
	}
	dst, err := GetList[T](o, col)
	if err != nil {
		return err
	}
	if err := dst.Clear(); err != nil {
		return err
	}
	n, err := src.Size()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		v, err := src.Get(i)
		if err != nil {
			return err
		}
		if err := dst.Add(v); err != nil {
			return err
		}
	}
	return nil
}

// AssignPkAndBacklinks copies other's primary key value and re-points every
// incoming link at this row. Used during primary-key resurrection: a new
// row takes over the identity and the link graph of a removed one.
func (o *Obj) AssignPkAndBacklinks(other *Obj) error {
	if o.t.spec != other.t.spec {
		return fmt.Errorf("%w: assign across different tables", objerr.ErrIllegalCombination)
	}
	if err := o.updateIfNeeded(); err != nil {
		return err
	}
	if err := other.updateIfNeeded(); err != nil {
		return err
	}

	if pk := o.t.spec.PrimaryKey(); !pk.IsZero() {
		m, err := other.GetAny(pk)
		if err != nil {
			return err
		}
		if err := o.SetAny(pk, m); err != nil {
			return err
		}
	}

	for _, bc := range o.t.spec.BacklinkColumns() {
		bl := other.backlinksAt(bc.Key)
		if bl == nil {
			continue
		}
		edges := bl.All(other.pos.Index)
		if len(edges) == 0 {
			continue
		}
		originTable, err := o.t.g.Table(bc.OriginTable)
		if err != nil {
			continue
		}
		oc, ok := originTable.spec.Column(bc.OriginCol)
		if !ok {
			continue
		}
		for _, originKey := range edges {
			origin, err := originTable.GetObject(originKey)
			if err != nil {
				continue
			}
			if err := origin.redirectLink(oc, other.key, o.key, o.t.Key()); err != nil {
				return err
			}
			if _, err := o.t.backlinkRemoveOne(other.key, bc.Key, originKey); err != nil {
				return err
			}
			if err := o.t.backlinkAdd(o.key, bc.Key, originKey); err != nil {
				return err
			}
			if err := o.updateIfNeeded(); err != nil {
				return err
			}
			if err := other.updateIfNeeded(); err != nil {
				return err
			}
		}
	}
	o.t.g.alloc.BumpContentVersion()
	return nil
}
