package obj

import (
	"fmt"

	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/objkey"
	"github.com/objcore/objcore/schema"
)

// PathElement is one step on the ownership chain of an embedded row: the
// forward column on the origin and, for list edges, the element index.
type PathElement struct {
	Col   schema.ColKey
	Index int
}

// FullPath is the ownership chain of an embedded row, ordered from the
// top-level ancestor down.
type FullPath struct {
	TopTable schema.TableKey
	TopKey   objkey.ObjKey
	Path     []PathElement
}

// FatPathElement is one step of the fat path: the origin accessor itself
// alongside the edge.
type FatPathElement struct {
	Obj   *Obj
	Col   schema.ColKey
	Index int
}

// owner resolves the unique strong edge owning an embedded row: the origin
// accessor, the forward column, and the list index of the edge.
func (o *Obj) owner() (*Obj, schema.ColKey, int, error) {
	var origin *Obj
	var fwdCol schema.ColKey
	for _, bc := range o.t.spec.BacklinkColumns() {
		bl := o.backlinksAt(bc.Key)
		if bl == nil || bl.Count(o.pos.Index) == 0 {
			continue
		}
		if origin != nil || bl.Count(o.pos.Index) > 1 {
			panic(&objerr.CorruptionError{Detail: "embedded row with multiple owners"})
		}
		originTable, err := o.t.g.Table(bc.OriginTable)
		if err != nil {
			return nil, schema.ColKey{}, 0, err
		}
		oc, ok := originTable.spec.Column(bc.OriginCol)
		if !ok {
			return nil, schema.ColKey{}, 0, &objerr.CorruptionError{Detail: "backlink without origin column"}
		}
		origin, err = originTable.GetObject(bl.Get(o.pos.Index, 0))
		if err != nil {
			return nil, schema.ColKey{}, 0, err
		}
		fwdCol = oc.Key
	}
	if origin == nil {
		return nil, schema.ColKey{}, 0, fmt.Errorf("%w: embedded row without owner", objerr.ErrCorruption)
	}

	index := 0
	if fwdCol.Type() == schema.TypeLinkList {
		ll, err := origin.GetLinkList(fwdCol)
		if err != nil {
			return nil, schema.ColKey{}, 0, err
		}
		index, err = ll.Find(o.key)
		if err != nil {
			return nil, schema.ColKey{}, 0, err
		}
		if index < 0 {
			return nil, schema.ColKey{}, 0, &objerr.CorruptionError{Detail: "owner list does not contain owned row"}
		}
	}
	return origin, fwdCol, index, nil
}

// traversePath walks the strong-link chain upward. sizer is invoked once
// with the full depth before any step; step is then invoked once per edge,
// ordered from the top-level ancestor down. Returns the top-level accessor.
func (o *Obj) traversePath(sizer func(depth int), step func(origin *Obj, col schema.ColKey, index int)) (*Obj, error) {
	if err := o.updateIfNeeded(); err != nil {
		return nil, err
	}
	if !o.t.spec.IsEmbedded() {
		if sizer != nil {
			sizer(0)
		}
		return o, nil
	}
	origin, col, index, err := o.owner()
	if err != nil {
		return nil, err
	}

	type edge struct {
		origin *Obj
		col    schema.ColKey
		index  int
	}
	edges := []edge{{origin, col, index}}
	for origin.t.spec.IsEmbedded() {
		next, nc, ni, err := origin.owner()
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge{next, nc, ni})
		origin = next
	}

	if sizer != nil {
		sizer(len(edges))
	}
	if step != nil {
		for i := len(edges) - 1; i >= 0; i-- {
			step(edges[i].origin, edges[i].col, edges[i].index)
		}
	}
	return origin, nil
}

// GetPath returns the ownership chain of an embedded row. For a top-level
// row the path is empty and names the row itself.
func (o *Obj) GetPath() (FullPath, error) {
	var p FullPath
	top, err := o.traversePath(
		func(depth int) { p.Path = make([]PathElement, 0, depth) },
		func(_ *Obj, col schema.ColKey, index int) {
			p.Path = append(p.Path, PathElement{Col: col, Index: index})
		},
	)
	if err != nil {
		return FullPath{}, err
	}
	p.TopTable = top.t.Key()
	p.TopKey = top.Key()
	return p, nil
}

// GetFatPath returns the ownership chain with an accessor per step.
func (o *Obj) GetFatPath() ([]FatPathElement, error) {
	var out []FatPathElement
	_, err := o.traversePath(
		func(depth int) { out = make([]FatPathElement, 0, depth) },
		func(origin *Obj, col schema.ColKey, index int) {
			out = append(out, FatPathElement{Obj: origin, Col: col, Index: index})
		},
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}
