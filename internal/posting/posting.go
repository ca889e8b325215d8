package posting

import (
	"errors"
	"fmt"

	"github.com/hupe1980/sparsego/model"
)

// ErrCorruptPostingList is returned when encoded bytes violate the format.
var ErrCorruptPostingList = errors.New("posting: corrupt posting list")

// ErrUnsorted is returned when encoding a list whose ids are not strictly ascending.
var ErrUnsorted = errors.New("posting: ids not strictly ascending")

// Element is a single posting: a point and its weight in the dimension.
type Element struct {
	ID     model.PointID
	Weight float32
}

// List is a decoded posting list.
type List struct {
	Elements  []Element
	MaxWeight float32
	MinWeight float32
}

// NewList wraps elements, computing the weight bounds. Elements must be
// sorted by id.
func NewList(elements []Element) List {
	l := List{Elements: elements}
	for i, e := range elements {
		if i == 0 || e.Weight > l.MaxWeight {
			l.MaxWeight = e.Weight
		}
		if i == 0 || e.Weight < l.MinWeight {
			l.MinWeight = e.Weight
		}
	}
	return l
}

// Len returns the number of elements.
func (l List) Len() int { return len(l.Elements) }

// Validate checks that ids are strictly ascending.
func (l List) Validate() error {
	for i := 1; i < len(l.Elements); i++ {
		if l.Elements[i].ID <= l.Elements[i-1].ID {
			return fmt.Errorf("%w: position %d", ErrUnsorted, i)
		}
	}
	return nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptPostingList, fmt.Sprintf(format, args...))
}
