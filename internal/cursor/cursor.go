// Package cursor walks buyers in ascending id order from a persisted cursor.
package cursor

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
)

// Batch is one page of buyers.
type Batch struct {
	Buyers []model.Buyer
	// Cursor is the id of the last buyer returned, or the input cursor when
	// the page is empty.
	Cursor string
	// Exhausted is true when fewer than limit buyers remained.
	Exhausted bool
}

// Walker pages through buyers matching a stage filter.
type Walker struct {
	st store.Store
}

// New creates a Walker.
func New(st store.Store) *Walker {
	return &Walker{st: st}
}

// NextBatch returns up to limit buyers with id > cursor that match filter.
func (w *Walker) NextBatch(ctx context.Context, cursor string, limit int, filter model.BuyerFilter) (Batch, error) {
	if limit <= 0 {
		return Batch{}, eris.Errorf("cursor: limit must be positive, got %d", limit)
	}
	buyers, err := w.st.ListBuyers(ctx, store.BuyerQuery{After: cursor, Limit: limit, Filter: filter})
	if err != nil {
		return Batch{}, eris.Wrap(err, "cursor: next batch")
	}
	b := Batch{Buyers: buyers, Cursor: cursor, Exhausted: len(buyers) < limit}
	if n := len(buyers); n > 0 {
		b.Cursor = buyers[n-1].ID
	}
	return b, nil
}
