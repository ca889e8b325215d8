package search

import (
	"sort"

	"github.com/hupe1980/sparsego/internal/posting"
	"github.com/hupe1980/sparsego/model"
)

// Cursor iterates a posting list in ascending id order. posting.Cursor
// implements it.
type Cursor interface {
	Next() bool
	Advance(target model.PointID) bool
	ID() model.PointID
	Weight() float32
	Err() error
}

// Postings is a cursor together with the weight range of its list.
type Postings struct {
	Cursor    Cursor
	MaxWeight float32
	MinWeight float32
}

// Source is a searchable unit, such as a segment or a buffer snapshot.
type Source interface {
	// Postings returns the posting list for dim, or false if the source has
	// no entries in that dimension.
	Postings(dim uint32) (Postings, bool, error)
}

// ReaderPostings wraps an encoded posting list.
func ReaderPostings(r *posting.Reader) Postings {
	return Postings{Cursor: r.Cursor(), MaxWeight: r.MaxWeight(), MinWeight: r.MinWeight()}
}

// ListPostings wraps a decoded posting list.
func ListPostings(l posting.List) Postings {
	return Postings{Cursor: &listCursor{elems: l.Elements, pos: -1}, MaxWeight: l.MaxWeight, MinWeight: l.MinWeight}
}

type listCursor struct {
	elems []posting.Element
	pos   int
}

func (c *listCursor) Next() bool {
	if c.pos < len(c.elems) {
		c.pos++
	}
	return c.pos < len(c.elems)
}

func (c *listCursor) Advance(target model.PointID) bool {
	start := max(c.pos, 0)
	rest := c.elems[min(start, len(c.elems)):]
	c.pos = start + sort.Search(len(rest), func(i int) bool { return rest[i].ID >= target })
	return c.pos < len(c.elems)
}

func (c *listCursor) ID() model.PointID { return c.elems[c.pos].ID }
func (c *listCursor) Weight() float32   { return c.elems[c.pos].Weight }
func (c *listCursor) Err() error        { return nil }
