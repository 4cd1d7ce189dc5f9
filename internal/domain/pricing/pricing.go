// Package pricing turns cart lines into priced lines using the current
// catalog price of every referenced product.
package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
)

// ProductNotFoundError indicates a cart line references an unknown product.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// PricedLine is a cart line annotated with the unit price resolved at
// pricing time.
type PricedLine struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// Total returns UnitPrice * Quantity.
func (l PricedLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Quote is the result of pricing a cart.
type Quote struct {
	Lines    []PricedLine
	Subtotal decimal.Decimal
}

// Resolve prices every line with a single batch lookup. It fails with
// *ProductNotFoundError for the first line (in cart order) whose product is
// missing; no partial quote is returned.
func Resolve(ctx context.Context, products product.Reader, lines []cart.Line) (*Quote, error) {
	if err := cart.Validate(lines); err != nil {
		return nil, err
	}

	fetched, err := products.GetByIDs(ctx, cart.ProductIDs(lines))
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}

	prices := make(map[int64]decimal.Decimal, len(fetched))
	for _, p := range fetched {
		prices[p.ID] = p.Price
	}

	q := &Quote{
		Lines:    make([]PricedLine, 0, len(lines)),
		Subtotal: decimal.Zero,
	}
	for _, l := range lines {
		price, ok := prices[l.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		pl := PricedLine{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: price.Round(2),
		}
		q.Lines = append(q.Lines, pl)
		q.Subtotal = q.Subtotal.Add(pl.Total())
	}
	q.Subtotal = q.Subtotal.Round(2)

	return q, nil
}

// Format renders an amount with exactly two fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}
