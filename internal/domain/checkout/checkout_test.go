package checkout_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/order/ordertest"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

// --- Mock implementations ---

type fakeGateway struct {
	mu      sync.Mutex
	intents []payment.Intent
	err     error
}

func (g *fakeGateway) CreateIntent(_ context.Context, in payment.Intent) (*payment.Instructions, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents = append(g.intents, in)
	if g.err != nil {
		return nil, g.err
	}
	exp := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return &payment.Instructions{
		ReferenceID: "ref",
		PaymentURL:  "https://pay.example/checkout",
		QRCode:      "000201",
		ExpiresAt:   &exp,
	}, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.intents)
}

type countingNotifier struct {
	mu     sync.Mutex
	events []order.Event
}

func (n *countingNotifier) Notify(_ context.Context, e order.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

// --- Helpers ---

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	db       *ordertest.Memory
	gateway  *fakeGateway
	notifier *countingNotifier
	orch     *checkout.Orchestrator
}

func newFixture(products ...product.Product) *fixture {
	db := ordertest.NewMemory(products...)
	gw := &fakeGateway{}
	n := &countingNotifier{}
	return &fixture{
		db:       db,
		gateway:  gw,
		notifier: n,
		orch:     checkout.New(db, order.NewLedger(db, n), gw),
	}
}

func request(method order.PaymentMethod, lines ...cart.Line) checkout.Request {
	return checkout.Request{
		UserID:          1,
		Email:           "ana@example.com",
		Lines:           lines,
		ShippingAddress: json.RawMessage(`{"street":"Rua A","zip":"01001000"}`),
		ShippingCost:    decimal.Zero,
		PaymentMethod:   method,
	}
}

var organizer = product.Product{ID: 7, Name: "Caixa Organizadora", Price: money("25.00"), Stock: 5}

// --- Tests ---

func TestCheckout_PixDiscount(t *testing.T) {
	f := newFixture(organizer)

	res, err := f.orch.Checkout(context.Background(), request(order.PaymentPix, cart.Line{ProductID: 7, Quantity: 2}))
	require.NoError(t, err)

	assert.Equal(t, "50.00", pricing.Format(res.Subtotal))
	assert.Equal(t, "2.50", pricing.Format(res.Discount))
	assert.Equal(t, "0.00", pricing.Format(res.ShippingCost))
	assert.Equal(t, "47.50", pricing.Format(res.Total))
	require.NotNil(t, res.PaymentInstructions)
	assert.Equal(t, "https://pay.example/checkout", res.PaymentInstructions.PaymentURL)

	assert.Equal(t, 3, f.db.Stock(7))

	o, ok := f.db.Order(res.OrderID)
	require.True(t, ok)
	assert.Equal(t, order.StatusPending, o.Status)
	require.Len(t, o.Lines, 1)
	assert.True(t, money("25.00").Equal(o.Lines[0].UnitPrice))

	require.Equal(t, 1, f.gateway.calls())
	assert.Equal(t, res.OrderID, f.gateway.intents[0].ReferenceID)
	assert.True(t, money("47.50").Equal(f.gateway.intents[0].Amount))
	assert.Equal(t, "ana@example.com", f.gateway.intents[0].Buyer.Email)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, order.EventCreated, f.notifier.events[0].Kind)
}

func TestCheckout_DiscountIgnoresShipping(t *testing.T) {
	f := newFixture(organizer)
	req := request(order.PaymentPix, cart.Line{ProductID: 7, Quantity: 1})
	req.ShippingCost = money("19.90")

	res, err := f.orch.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "1.25", pricing.Format(res.Discount))
	assert.Equal(t, "43.65", pricing.Format(res.Total))
}

func TestCheckout_CreditCardNoDiscount(t *testing.T) {
	f := newFixture(organizer)
	req := request(order.PaymentCreditCard, cart.Line{ProductID: 7, Quantity: 2})
	req.ShippingCost = money("10.5")

	res, err := f.orch.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Discount.IsZero())
	assert.Equal(t, "60.50", pricing.Format(res.Total))
	assert.Equal(t, 1, f.gateway.calls())
}

func TestCheckout_BoletoSkipsGateway(t *testing.T) {
	f := newFixture(organizer)

	res, err := f.orch.Checkout(context.Background(), request(order.PaymentBoleto, cart.Line{ProductID: 7, Quantity: 1}))
	require.NoError(t, err)

	assert.Nil(t, res.PaymentInstructions)
	assert.Equal(t, 0, f.gateway.calls())
	assert.Equal(t, 4, f.db.Stock(7))
}

func TestCheckout_InsufficientStock(t *testing.T) {
	low := organizer
	low.Stock = 1
	f := newFixture(low)

	_, err := f.orch.Checkout(context.Background(), request(order.PaymentPix, cart.Line{ProductID: 7, Quantity: 2}))

	var ise *inventory.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, int64(7), ise.ProductID)
	assert.Equal(t, 2, ise.Requested)
	assert.Equal(t, 1, ise.Available)

	assert.Equal(t, 1, f.db.Stock(7))
	assert.Zero(t, f.db.Count())
	assert.Zero(t, f.gateway.calls())
	assert.Empty(t, f.notifier.events)
}

func TestCheckout_PartialReservationRollsBack(t *testing.T) {
	f := newFixture(organizer, product.Product{ID: 9, Price: money("3.00"), Stock: 0})

	_, err := f.orch.Checkout(context.Background(), request(order.PaymentBoleto,
		cart.Line{ProductID: 7, Quantity: 1},
		cart.Line{ProductID: 9, Quantity: 1},
	))

	var ise *inventory.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, int64(9), ise.ProductID)
	assert.Equal(t, 5, f.db.Stock(7))
}

func TestCheckout_UnknownProduct(t *testing.T) {
	f := newFixture(organizer)

	_, err := f.orch.Checkout(context.Background(), request(order.PaymentPix,
		cart.Line{ProductID: 7, Quantity: 1},
		cart.Line{ProductID: 404, Quantity: 1},
	))

	var pnf *pricing.ProductNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, int64(404), pnf.ProductID)
	assert.Equal(t, 5, f.db.Stock(7))
	assert.Zero(t, f.db.Count())
}

func TestCheckout_GatewayFailureRollsBack(t *testing.T) {
	f := newFixture(organizer)
	f.gateway.err = &payment.GatewayError{Op: "send request", Err: context.DeadlineExceeded}

	_, err := f.orch.Checkout(context.Background(), request(order.PaymentCreditCard, cart.Line{ProductID: 7, Quantity: 2}))

	var ge *payment.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	assert.Equal(t, 5, f.db.Stock(7))
	assert.Zero(t, f.db.Count())
	assert.Empty(t, f.notifier.events)
}

func TestCheckout_PersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(organizer)
	f.db.InsertErr = &order.PersistenceError{Op: "insert order", Err: errors.New("disk full")}

	_, err := f.orch.Checkout(context.Background(), request(order.PaymentBoleto, cart.Line{ProductID: 7, Quantity: 2}))

	var pe *order.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 5, f.db.Stock(7))
}

func TestCheckout_ConcurrentLastUnit(t *testing.T) {
	last := organizer
	last.Stock = 1
	f := newFixture(last)

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		short     int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.Checkout(context.Background(), request(order.PaymentBoleto, cart.Line{ProductID: 7, Quantity: 1}))
			mu.Lock()
			defer mu.Unlock()
			var ise *inventory.InsufficientStockError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &ise):
				short++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, short)
	assert.Equal(t, 0, f.db.Stock(7))
	assert.Equal(t, 1, f.db.Count())
}

func TestRequestValidate(t *testing.T) {
	base := request(order.PaymentPix, cart.Line{ProductID: 7, Quantity: 1})

	tests := []struct {
		name   string
		mutate func(r *checkout.Request)
		field  string
	}{
		{"valid", func(*checkout.Request) {}, ""},
		{"free shipping", func(r *checkout.Request) { r.ShippingCost = decimal.Zero }, ""},
		{"no user", func(r *checkout.Request) { r.UserID = 0 }, "userId"},
		{"no lines", func(r *checkout.Request) { r.Lines = nil }, "items"},
		{"zero quantity", func(r *checkout.Request) { r.Lines = []cart.Line{{ProductID: 7}} }, "items"},
		{"missing address", func(r *checkout.Request) { r.ShippingAddress = nil }, "shippingAddress"},
		{"empty address", func(r *checkout.Request) { r.ShippingAddress = json.RawMessage(`{}`) }, "shippingAddress"},
		{"address not object", func(r *checkout.Request) { r.ShippingAddress = json.RawMessage(`"Rua A"`) }, "shippingAddress"},
		{"negative shipping", func(r *checkout.Request) { r.ShippingCost = money("-1") }, "shippingCost"},
		{"sub-cent shipping", func(r *checkout.Request) { r.ShippingCost = money("1.005") }, "shippingCost"},
		{"unknown method", func(r *checkout.Request) { r.PaymentMethod = "bitcoin" }, "paymentMethod"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base
			tt.mutate(&r)
			err := r.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			var ve *checkout.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestCheckout_InvalidRequestTouchesNothing(t *testing.T) {
	f := newFixture(organizer)
	req := request(order.PaymentPix, cart.Line{ProductID: 7, Quantity: 1})
	req.PaymentMethod = "cash"

	_, err := f.orch.Checkout(context.Background(), req)
	var ve *checkout.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 5, f.db.Stock(7))
}

func TestDiscount(t *testing.T) {
	assert.Equal(t, "0.50", checkout.Discount(money("9.99"), order.PaymentPix).StringFixed(2))
	assert.True(t, checkout.Discount(money("9.99"), order.PaymentBoleto).IsZero())
}
