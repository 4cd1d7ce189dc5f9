// Package inventory reserves and restores product stock inside the caller's
// database transaction.
package inventory

import (
	"context"
	"fmt"

	"github.com/xenking/storefront/internal/domain/cart"
)

// InsufficientStockError names the product whose stock could not cover the
// requested quantity.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Store is the transactional stock surface. DecrementStock must be an atomic
// compare-and-decrement on the product row: it reports false, without
// changing anything, when the row holds less than qty.
type Store interface {
	DecrementStock(ctx context.Context, productID int64, qty int) (bool, error)
	IncrementStock(ctx context.Context, productID int64, qty int) error
	StockOf(ctx context.Context, productID int64) (int, error)
	OrderLines(ctx context.Context, orderID int64) ([]cart.Line, error)
}

// Reserve decrements stock for every line. Quantities for the same product
// are summed and products are visited in ascending id order so concurrent
// reservations lock rows in the same order.
//
// A failed reservation may leave earlier decrements applied; the caller's
// transaction must roll back on error.
func Reserve(ctx context.Context, store Store, lines []cart.Line) error {
	if err := cart.Validate(lines); err != nil {
		return err
	}

	for _, l := range cart.Merge(lines) {
		ok, err := store.DecrementStock(ctx, l.ProductID, l.Quantity)
		if err != nil {
			return fmt.Errorf("decrement stock for product %d: %w", l.ProductID, err)
		}
		if ok {
			continue
		}

		available, err := store.StockOf(ctx, l.ProductID)
		if err != nil {
			return fmt.Errorf("read stock for product %d: %w", l.ProductID, err)
		}
		return &InsufficientStockError{
			ProductID: l.ProductID,
			Requested: l.Quantity,
			Available: available,
		}
	}

	return nil
}

// Restore adds every line of orderID back to its product's stock. It is
// additive, never an absolute set, and must only run once per order: the
// caller guards it with the transition into the cancelled status.
func Restore(ctx context.Context, store Store, orderID int64) error {
	lines, err := store.OrderLines(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load lines of order %d: %w", orderID, err)
	}

	for _, l := range cart.Merge(lines) {
		if err := store.IncrementStock(ctx, l.ProductID, l.Quantity); err != nil {
			return fmt.Errorf("restore stock for product %d: %w", l.ProductID, err)
		}
	}

	return nil
}
