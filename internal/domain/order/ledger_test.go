package order_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/order/ordertest"
	"github.com/xenking/storefront/internal/domain/product"
)

// --- Mock implementations ---

type recordingNotifier struct {
	mu     sync.Mutex
	events []order.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e order.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) kinds() []order.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]order.EventKind, len(n.events))
	for i, e := range n.events {
		out[i] = e.Kind
	}
	return out
}

// --- Helpers ---

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func draft(userID int64, lines ...order.Line) *order.Draft {
	sub := decimal.Zero
	for _, l := range lines {
		sub = sub.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return &order.Draft{
		UserID:          userID,
		Lines:           lines,
		Subtotal:        sub,
		ShippingCost:    decimal.Zero,
		Discount:        decimal.Zero,
		Total:           sub,
		PaymentMethod:   order.PaymentBoleto,
		ShippingAddress: json.RawMessage(`{"zip":"01001000"}`),
	}
}

// placeOrder creates an order and decrements stock as checkout would.
func placeOrder(t *testing.T, db *ordertest.Memory, l *order.Ledger, userID int64, lines ...order.Line) *order.Order {
	t.Helper()
	var o *order.Order
	err := db.InTx(context.Background(), func(tx order.Tx) error {
		for _, ln := range lines {
			ok, err := tx.DecrementStock(context.Background(), ln.ProductID, ln.Quantity)
			if err != nil {
				return err
			}
			require.True(t, ok)
		}
		var err error
		o, err = l.Create(context.Background(), tx, draft(userID, lines...))
		return err
	})
	require.NoError(t, err)
	return o
}

func newLedger(products ...product.Product) (*order.Ledger, *ordertest.Memory, *recordingNotifier) {
	db := ordertest.NewMemory(products...)
	n := &recordingNotifier{}
	return order.NewLedger(db, n), db, n
}

var widget = product.Product{ID: 7, Name: "Widget", Price: decimal.RequireFromString("25.00"), Stock: 5}

// --- Tests ---

func TestCreate_RejectsInconsistentDraft(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *order.Draft)
	}{
		{"subtotal mismatch", func(d *order.Draft) { d.Subtotal = money("49.99") }},
		{"total mismatch", func(d *order.Draft) { d.Total = money("1.00") }},
		{"negative discount", func(d *order.Draft) { d.Discount = money("-1.00"); d.Total = d.Total.Add(money("1.00")) }},
		{"no lines", func(d *order.Draft) { d.Lines = nil }},
		{"unknown method", func(d *order.Draft) { d.PaymentMethod = "cash" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, db, _ := newLedger(widget)
			d := draft(1, order.Line{ProductID: 7, Quantity: 2, UnitPrice: money("25.00")})
			tt.mutate(d)

			err := db.InTx(context.Background(), func(tx order.Tx) error {
				_, err := l.Create(context.Background(), tx, d)
				return err
			})

			var ie *order.IntegrityError
			require.ErrorAs(t, err, &ie)
			assert.Zero(t, db.Count())
		})
	}
}

func TestCreate_Pending(t *testing.T) {
	l, db, n := newLedger(widget)

	o := placeOrder(t, db, l, 1, order.Line{ProductID: 7, Quantity: 2, UnitPrice: money("25.00")})

	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, 3, db.Stock(7))
	assert.Empty(t, n.kinds(), "created is published by the caller after commit")

	l.Published(context.Background(), o)
	assert.Equal(t, []order.EventKind{order.EventCreated}, n.kinds())
}

func TestMarkPaid_Idempotent(t *testing.T) {
	l, db, n := newLedger(widget)
	o := placeOrder(t, db, l, 1, order.Line{ProductID: 7, Quantity: 1, UnitPrice: money("25.00")})

	applied, err := l.MarkPaid(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = l.MarkPaid(context.Background(), o.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	got, _ := db.Order(o.ID)
	assert.Equal(t, order.StatusPaid, got.Status)
	assert.Equal(t, []order.EventKind{order.EventPaid}, n.kinds())
}

func TestMarkPaid_InvalidFromCancelled(t *testing.T) {
	l, db, _ := newLedger(widget)
	o := placeOrder(t, db, l, 1, order.Line{ProductID: 7, Quantity: 1, UnitPrice: money("25.00")})
	db.Force(o.ID, order.StatusCancelled)

	_, err := l.MarkPaid(context.Background(), o.ID)

	var ite *order.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, order.StatusCancelled, ite.From)
	assert.Equal(t, order.StatusPaid, ite.To)
}

func TestMarkPaid_NotFound(t *testing.T) {
	l, _, _ := newLedger()

	_, err := l.MarkPaid(context.Background(), 404)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestMarkCancelled_RestoresStockOnce(t *testing.T) {
	l, db, n := newLedger(widget)
	o := placeOrder(t, db, l, 1, order.Line{ProductID: 7, Quantity: 2, UnitPrice: money("25.00")})
	_, err := l.MarkPaid(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, 3, db.Stock(7))

	got, applied, err := l.MarkCancelled(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, order.StatusCancelled, got.Status)
	assert.Equal(t, 5, db.Stock(7))

	_, applied, err = l.MarkCancelled(context.Background(), o.ID)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 5, db.Stock(7), "second cancel must not restore again")

	assert.Equal(t, []order.EventKind{order.EventPaid, order.EventCancelled}, n.kinds())
}

func TestMarkCancelled_TerminalGuard(t *testing.T) {
	for _, status := range []order.Status{order.StatusShipped, order.StatusDelivered} {
		t.Run(string(status), func(t *testing.T) {
			l, db, _ := newLedger(widget)
			o := placeOrder(t, db, l, 1, order.Line{ProductID: 7, Quantity: 2, UnitPrice: money("25.00")})
			db.Force(o.ID, status)

			_, _, err := l.MarkCancelled(context.Background(), o.ID)

			var ite *order.InvalidTransitionError
			require.ErrorAs(t, err, &ite)
			got, _ := db.Order(o.ID)
			assert.Equal(t, status, got.Status)
			assert.Equal(t, 3, db.Stock(7))
		})
	}
}

func TestMarkCancelled_RollsBackOnRestoreFailure(t *testing.T) {
	l, db, _ := newLedger(widget)
	o := placeOrder(t, db, l, 1, order.Line{ProductID: 7, Quantity: 2, UnitPrice: money("25.00")})

	failing := order.NewLedger(&failingRestoreDB{Memory: db}, nil)
	_, _, err := failing.MarkCancelled(context.Background(), o.ID)
	require.Error(t, err)

	got, _ := db.Order(o.ID)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, 3, db.Stock(7))
}

func TestUpdateShipping(t *testing.T) {
	shipped := order.StatusShipped
	cancelled := order.StatusCancelled
	pending := order.StatusPending
	paid := order.StatusPaid

	tests := []struct {
		name    string
		from    order.Status
		upd     order.ShippingUpdate
		wantErr bool
		want    order.Status
		code    *string
	}{
		{name: "paid to shipped with code", from: order.StatusPaid, upd: order.ShippingUpdate{Status: &shipped, TrackingCode: "BR123"}, want: shipped, code: strPtr("BR123")},
		{name: "tracking only", from: order.StatusShipped, upd: order.ShippingUpdate{TrackingCode: "BR9"}, want: shipped, code: strPtr("BR9")},
		{name: "empty code clears", from: order.StatusShipped, upd: order.ShippingUpdate{Status: &shipped}, want: shipped},
		{name: "cannot cancel", from: order.StatusPaid, upd: order.ShippingUpdate{Status: &cancelled}, wantErr: true},
		{name: "cannot mark paid", from: order.StatusPending, upd: order.ShippingUpdate{Status: &paid}, wantErr: true},
		{name: "cannot leave delivered", from: order.StatusDelivered, upd: order.ShippingUpdate{Status: &pending}, wantErr: true},
		{name: "cannot leave cancelled", from: order.StatusCancelled, upd: order.ShippingUpdate{Status: &shipped}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, db, _ := newLedger(widget)
			o := placeOrder(t, db, l, 1, order.Line{ProductID: 7, Quantity: 1, UnitPrice: money("25.00")})
			db.Force(o.ID, tt.from)

			got, err := l.UpdateShipping(context.Background(), o.ID, tt.upd)
			if tt.wantErr {
				var ite *order.InvalidTransitionError
				require.ErrorAs(t, err, &ite)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.code, got.TrackingCode)
			assert.Equal(t, 4, db.Stock(7), "no stock side effects")
		})
	}
}

func TestGetForUser_HidesOtherUsersOrders(t *testing.T) {
	l, db, _ := newLedger(widget)
	o := placeOrder(t, db, l, 1, order.Line{ProductID: 7, Quantity: 1, UnitPrice: money("25.00")})

	got, err := l.GetForUser(context.Background(), 1, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = l.GetForUser(context.Background(), 2, o.ID)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestListForUser_NewestFirst(t *testing.T) {
	l, db, _ := newLedger(widget)
	first := placeOrder(t, db, l, 1, order.Line{ProductID: 7, Quantity: 1, UnitPrice: money("25.00")})
	placeOrder(t, db, l, 2, order.Line{ProductID: 7, Quantity: 1, UnitPrice: money("25.00")})
	second := placeOrder(t, db, l, 1, order.Line{ProductID: 7, Quantity: 1, UnitPrice: money("25.00")})

	list, err := l.ListForUser(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestPriceIntegrity_SurvivesCatalogChange(t *testing.T) {
	l, db, _ := newLedger(widget)
	o := placeOrder(t, db, l, 1, order.Line{ProductID: 7, Quantity: 2, UnitPrice: money("25.00")})

	changed := widget
	changed.Price = money("99.00")
	db.PutProduct(changed)

	got, err := l.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, money("50.00").Equal(got.Subtotal))
	assert.True(t, money("25.00").Equal(got.Lines[0].UnitPrice))
}

// --- Helpers ---

func strPtr(s string) *string { return &s }

// failingRestoreDB fails every stock increment to exercise rollback.
type failingRestoreDB struct {
	*ordertest.Memory
}

func (f *failingRestoreDB) InTx(ctx context.Context, fn func(tx order.Tx) error) error {
	return f.Memory.InTx(ctx, func(tx order.Tx) error {
		return fn(failingRestoreTx{Tx: tx})
	})
}

type failingRestoreTx struct {
	order.Tx
}

func (failingRestoreTx) IncrementStock(context.Context, int64, int) error {
	return errors.New("disk full")
}

var _ inventory.Store = failingRestoreTx{}
