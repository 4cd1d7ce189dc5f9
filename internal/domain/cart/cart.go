// Package cart holds the client-submitted cart line shape shared by pricing
// and inventory.
package cart

import (
	"fmt"
	"sort"

	"github.com/go-faster/errors"
)

// ErrEmpty is returned when a cart has no lines.
var ErrEmpty = errors.New("items required")

// Line is a single product and quantity requested by the client.
type Line struct {
	ProductID int64
	Quantity  int
}

// InvalidQuantityError indicates a line with a quantity below one.
type InvalidQuantityError struct {
	ProductID int64
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %d", e.ProductID)
}

// Validate checks that lines is non-empty and every quantity is positive.
func Validate(lines []Line) error {
	if len(lines) == 0 {
		return ErrEmpty
	}
	for _, l := range lines {
		if l.Quantity < 1 {
			return &InvalidQuantityError{ProductID: l.ProductID, Quantity: l.Quantity}
		}
	}
	return nil
}

// ProductIDs returns the distinct product ids in first-seen order.
func ProductIDs(lines []Line) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}
	return ids
}

// Merge sums quantities per product and returns one line per product,
// ordered by ascending product id.
func Merge(lines []Line) []Line {
	totals := make(map[int64]int, len(lines))
	for _, l := range lines {
		totals[l.ProductID] += l.Quantity
	}
	merged := make([]Line, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, Line{ProductID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged
}
