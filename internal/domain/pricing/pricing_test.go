package pricing

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
)

// --- Mock implementations ---

type mockReader struct {
	byID  map[int64]product.Product
	err   error
	calls int
	asked [][]int64
}

func (m *mockReader) GetByIDs(_ context.Context, ids []int64) ([]product.Product, error) {
	m.calls++
	m.asked = append(m.asked, ids)
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func newReader(products ...product.Product) *mockReader {
	byID := make(map[int64]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &mockReader{byID: byID}
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// --- Tests ---

func TestResolve_SingleLine(t *testing.T) {
	r := newReader(product.Product{ID: 7, Price: price("25.00"), Stock: 5})

	q, err := Resolve(context.Background(), r, []cart.Line{{ProductID: 7, Quantity: 2}})
	require.NoError(t, err)

	assert.Equal(t, "50.00", Format(q.Subtotal))
	require.Len(t, q.Lines, 1)
	assert.True(t, price("25.00").Equal(q.Lines[0].UnitPrice))
	assert.Equal(t, 1, r.calls)
}

func TestResolve_BatchLookupDeduplicatesIDs(t *testing.T) {
	r := newReader(
		product.Product{ID: 1, Price: price("10.10")},
		product.Product{ID: 2, Price: price("0.20")},
	)

	q, err := Resolve(context.Background(), r, []cart.Line{
		{ProductID: 1, Quantity: 3},
		{ProductID: 2, Quantity: 1},
		{ProductID: 1, Quantity: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, r.calls)
	assert.Equal(t, []int64{1, 2}, r.asked[0])
	assert.Equal(t, "40.60", Format(q.Subtotal))
	assert.Len(t, q.Lines, 3)
}

func TestResolve_SubtotalMatchesLineSum(t *testing.T) {
	r := newReader(
		product.Product{ID: 1, Price: price("0.10")},
		product.Product{ID: 2, Price: price("0.20")},
		product.Product{ID: 3, Price: price("19.99")},
	)

	q, err := Resolve(context.Background(), r, []cart.Line{
		{ProductID: 1, Quantity: 7},
		{ProductID: 2, Quantity: 11},
		{ProductID: 3, Quantity: 3},
	})
	require.NoError(t, err)

	sum := decimal.Zero
	for _, l := range q.Lines {
		sum = sum.Add(l.Total())
	}
	assert.True(t, sum.Equal(q.Subtotal), "sum %s != subtotal %s", sum, q.Subtotal)
	assert.Equal(t, "62.87", Format(q.Subtotal))
}

func TestResolve_ProductNotFound(t *testing.T) {
	r := newReader(product.Product{ID: 1, Price: price("1.00")})

	q, err := Resolve(context.Background(), r, []cart.Line{
		{ProductID: 1, Quantity: 1},
		{ProductID: 99, Quantity: 1},
		{ProductID: 98, Quantity: 1},
	})

	var pnf *ProductNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, int64(99), pnf.ProductID)
	assert.Nil(t, q)
}

func TestResolve_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		lines []cart.Line
		check func(t *testing.T, err error)
	}{
		{
			name:  "empty",
			lines: nil,
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, cart.ErrEmpty) },
		},
		{
			name:  "zero quantity",
			lines: []cart.Line{{ProductID: 1, Quantity: 0}},
			check: func(t *testing.T, err error) {
				var iq *cart.InvalidQuantityError
				require.ErrorAs(t, err, &iq)
				assert.Equal(t, int64(1), iq.ProductID)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReader()
			_, err := Resolve(context.Background(), r, tt.lines)
			tt.check(t, err)
			assert.Zero(t, r.calls, "no lookup for invalid input")
		})
	}
}

func TestResolve_ReaderError(t *testing.T) {
	r := &mockReader{err: errors.New("connection reset")}

	_, err := Resolve(context.Background(), r, []cart.Line{{ProductID: 1, Quantity: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get products")
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0.00", Format(decimal.Zero))
	assert.Equal(t, "2.50", Format(price("2.5")))
	assert.Equal(t, "47.50", Format(price("47.5")))
}
