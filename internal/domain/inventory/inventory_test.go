package inventory

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
)

// --- Mock implementations ---

// memStore mimics the conditional UPDATE: a decrement only applies when the
// row holds enough stock.
type memStore struct {
	stock      map[int64]int
	lines      map[int64][]cart.Line
	decrements []int64
	failOn     int64
}

func (m *memStore) DecrementStock(_ context.Context, id int64, qty int) (bool, error) {
	if id == m.failOn {
		return false, errors.New("deadlock detected")
	}
	m.decrements = append(m.decrements, id)
	if m.stock[id] < qty {
		return false, nil
	}
	m.stock[id] -= qty
	return true, nil
}

func (m *memStore) IncrementStock(_ context.Context, id int64, qty int) error {
	m.stock[id] += qty
	return nil
}

func (m *memStore) StockOf(_ context.Context, id int64) (int, error) {
	return m.stock[id], nil
}

func (m *memStore) OrderLines(_ context.Context, orderID int64) ([]cart.Line, error) {
	return m.lines[orderID], nil
}

// --- Tests ---

func TestReserve_DecrementsStock(t *testing.T) {
	s := &memStore{stock: map[int64]int{7: 5}}

	err := Reserve(context.Background(), s, []cart.Line{{ProductID: 7, Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, 3, s.stock[7])
}

func TestReserve_InsufficientStock(t *testing.T) {
	s := &memStore{stock: map[int64]int{7: 1}}

	err := Reserve(context.Background(), s, []cart.Line{{ProductID: 7, Quantity: 2}})

	var ise *InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, int64(7), ise.ProductID)
	assert.Equal(t, 2, ise.Requested)
	assert.Equal(t, 1, ise.Available)
	assert.Equal(t, 1, s.stock[7], "stock untouched")
	assert.Contains(t, err.Error(), "product 7")
}

func TestReserve_MergesDuplicateLines(t *testing.T) {
	// Two lines of 2 against stock 3 must fail even though each fits alone.
	s := &memStore{stock: map[int64]int{4: 3}}

	err := Reserve(context.Background(), s, []cart.Line{
		{ProductID: 4, Quantity: 2},
		{ProductID: 4, Quantity: 2},
	})

	var ise *InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, 4, ise.Requested)
}

func TestReserve_AscendingLockOrder(t *testing.T) {
	s := &memStore{stock: map[int64]int{1: 10, 5: 10, 9: 10}}

	err := Reserve(context.Background(), s, []cart.Line{
		{ProductID: 9, Quantity: 1},
		{ProductID: 1, Quantity: 1},
		{ProductID: 5, Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 5, 9}, s.decrements)
}

func TestReserve_StoreError(t *testing.T) {
	s := &memStore{stock: map[int64]int{3: 10}, failOn: 3}

	err := Reserve(context.Background(), s, []cart.Line{{ProductID: 3, Quantity: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrement stock for product 3")

	var ise *InsufficientStockError
	assert.False(t, errors.As(err, &ise))
}

func TestReserve_RejectsInvalidLines(t *testing.T) {
	s := &memStore{stock: map[int64]int{}}

	require.ErrorIs(t, Reserve(context.Background(), s, nil), cart.ErrEmpty)

	var iq *cart.InvalidQuantityError
	require.ErrorAs(t, Reserve(context.Background(), s, []cart.Line{{ProductID: 1, Quantity: -1}}), &iq)
	assert.Empty(t, s.decrements)
}

func TestRestore_IsAdditive(t *testing.T) {
	s := &memStore{
		stock: map[int64]int{7: 3, 8: 0},
		lines: map[int64][]cart.Line{
			42: {{ProductID: 7, Quantity: 2}, {ProductID: 8, Quantity: 1}},
		},
	}

	// Stock changed for unrelated reasons after the order was placed.
	s.stock[7] += 10

	require.NoError(t, Restore(context.Background(), s, 42))
	assert.Equal(t, 15, s.stock[7])
	assert.Equal(t, 1, s.stock[8])
}
