// Package ordertest provides an in-memory order.Database for tests.
package ordertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

var _ order.Database = (*Memory)(nil)

// Memory is a transactional in-memory store. InTx serializes units of work
// and restores a snapshot when fn fails or panics.
type Memory struct {
	mu       sync.Mutex
	products map[int64]product.Product
	orders   map[int64]order.Order
	nextID   int64
	clock    time.Time

	// InsertErr, when set, is returned by every Insert.
	InsertErr error
}

// NewMemory returns a store seeded with products.
func NewMemory(products ...product.Product) *Memory {
	m := &Memory{
		products: make(map[int64]product.Product, len(products)),
		orders:   make(map[int64]order.Order),
		nextID:   1,
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

// InTx implements order.Database.
func (m *Memory) InTx(ctx context.Context, fn func(tx order.Tx) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	defer func() {
		if r := recover(); r != nil {
			m.restore(snap)
			panic(r)
		}
		if err != nil {
			m.restore(snap)
		}
	}()

	return fn(&memTx{m: m})
}

// Orders implements order.Database.
func (m *Memory) Orders() order.Repository {
	return &lockedReader{m: m}
}

// Stock returns the current stock of a product.
func (m *Memory) Stock(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

// Order returns a copy of a stored order.
func (m *Memory) Order(id int64) (order.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return o, ok
}

// Count returns the number of stored orders.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// Force overwrites an order's status without any guard.
func (m *Memory) Force(id int64, status order.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	o.Status = status
	m.orders[id] = o
}

// PutProduct inserts or replaces a catalog product.
func (m *Memory) PutProduct(p product.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

type snapshot struct {
	products map[int64]product.Product
	orders   map[int64]order.Order
	nextID   int64
}

func (m *Memory) snapshot() snapshot {
	s := snapshot{
		products: make(map[int64]product.Product, len(m.products)),
		orders:   make(map[int64]order.Order, len(m.orders)),
		nextID:   m.nextID,
	}
	for k, v := range m.products {
		s.products[k] = v
	}
	for k, v := range m.orders {
		s.orders[k] = v
	}
	return s
}

func (m *Memory) restore(s snapshot) {
	m.products = s.products
	m.orders = s.orders
	m.nextID = s.nextID
}

// memTx runs with m.mu already held.
type memTx struct {
	m *Memory
}

func (t *memTx) Insert(_ context.Context, d *order.Draft) (*order.Order, error) {
	m := t.m
	if m.InsertErr != nil {
		return nil, m.InsertErr
	}
	m.clock = m.clock.Add(time.Second)
	o := order.Order{
		ID:              m.nextID,
		UserID:          d.UserID,
		Lines:           append([]order.Line(nil), d.Lines...),
		Subtotal:        d.Subtotal,
		ShippingCost:    d.ShippingCost,
		Discount:        d.Discount,
		Total:           d.Total,
		PaymentMethod:   d.PaymentMethod,
		Status:          order.StatusPending,
		ShippingAddress: d.ShippingAddress,
		CreatedAt:       m.clock,
		UpdatedAt:       m.clock,
	}
	m.nextID++
	m.orders[o.ID] = o
	return &o, nil
}

func (t *memTx) GetByID(_ context.Context, id int64) (*order.Order, error) {
	o, ok := t.m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

func (t *memTx) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return t.GetByID(ctx, id)
}

func (t *memTx) ListByUser(_ context.Context, userID int64) ([]order.Order, error) {
	var out []order.Order
	for _, o := range t.m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	newestFirst(out)
	return out, nil
}

func (t *memTx) List(_ context.Context, f order.Filter) ([]order.Order, error) {
	var out []order.Order
	for _, o := range t.m.orders {
		if f.Status == "" || o.Status == f.Status {
			out = append(out, o)
		}
	}
	newestFirst(out)
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *memTx) SetStatus(_ context.Context, id int64, status order.Status) error {
	o, ok := t.m.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = status
	t.m.orders[id] = o
	return nil
}

func (t *memTx) UpdateShipping(_ context.Context, id int64, upd order.ShippingUpdate) error {
	o, ok := t.m.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if upd.Status != nil {
		o.Status = *upd.Status
	}
	o.TrackingCode = nil
	if upd.TrackingCode != "" {
		code := upd.TrackingCode
		o.TrackingCode = &code
	}
	t.m.orders[id] = o
	return nil
}

func (t *memTx) DecrementStock(_ context.Context, id int64, qty int) (bool, error) {
	p, ok := t.m.products[id]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	t.m.products[id] = p
	return true, nil
}

func (t *memTx) IncrementStock(_ context.Context, id int64, qty int) error {
	p := t.m.products[id]
	p.Stock += qty
	t.m.products[id] = p
	return nil
}

func (t *memTx) StockOf(_ context.Context, id int64) (int, error) {
	return t.m.products[id].Stock, nil
}

func (t *memTx) OrderLines(_ context.Context, orderID int64) ([]cart.Line, error) {
	o, ok := t.m.orders[orderID]
	if !ok {
		return nil, order.ErrNotFound
	}
	lines := make([]cart.Line, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = cart.Line{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return lines, nil
}

func (t *memTx) GetByIDs(_ context.Context, ids []int64) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := t.m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// lockedReader serves reads outside of InTx.
type lockedReader struct {
	m *Memory
}

func (r *lockedReader) tx() (*memTx, func()) {
	r.m.mu.Lock()
	return &memTx{m: r.m}, r.m.mu.Unlock
}

func (r *lockedReader) Insert(ctx context.Context, d *order.Draft) (*order.Order, error) {
	tx, unlock := r.tx()
	defer unlock()
	return tx.Insert(ctx, d)
}

func (r *lockedReader) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	tx, unlock := r.tx()
	defer unlock()
	return tx.GetByID(ctx, id)
}

func (r *lockedReader) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return r.GetByID(ctx, id)
}

func (r *lockedReader) ListByUser(ctx context.Context, userID int64) ([]order.Order, error) {
	tx, unlock := r.tx()
	defer unlock()
	return tx.ListByUser(ctx, userID)
}

func (r *lockedReader) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	tx, unlock := r.tx()
	defer unlock()
	return tx.List(ctx, f)
}

func (r *lockedReader) SetStatus(ctx context.Context, id int64, status order.Status) error {
	tx, unlock := r.tx()
	defer unlock()
	return tx.SetStatus(ctx, id, status)
}

func (r *lockedReader) UpdateShipping(ctx context.Context, id int64, upd order.ShippingUpdate) error {
	tx, unlock := r.tx()
	defer unlock()
	return tx.UpdateShipping(ctx, id, upd)
}

func newestFirst(orders []order.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
