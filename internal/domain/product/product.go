package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the slice of a catalog item that checkout cares about: its
// current unit price and available stock. Everything else (images,
// categories) lives with the catalog store.
type Product struct {
	ID    int64
	Name  string
	Price decimal.Decimal
	Stock int
}

// Reader loads products for pricing. Implementations must resolve all ids in
// a single round-trip and silently omit ids that do not exist.
type Reader interface {
	GetByIDs(ctx context.Context, ids []int64) ([]Product, error)
}
