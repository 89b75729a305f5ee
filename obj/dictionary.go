package obj

import (
	"fmt"

	"github.com/objcore/objcore/dictionary"
	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/schema"
)

// GetDictionary returns the accessor for a dictionary column.
func (o *Obj) GetDictionary(col schema.ColKey) (*dictionary.Dictionary, error) {
	c, err := o.column(col)
	if err != nil {
		return nil, err
	}
	if !c.Key.IsDictionary() {
		return nil, fmt.Errorf("%w: %q is not a dictionary column", objerr.ErrIllegalType, c.Name)
	}
	return dictionary.New(o, c.Key), nil
}
