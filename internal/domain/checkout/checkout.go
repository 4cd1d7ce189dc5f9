// Package checkout turns a cart into a pending order: it prices the cart,
// reserves stock, persists the order and opens the payment intent as one
// unit of work.
package checkout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
)

// pixDiscountRate is applied to the subtotal of instant-transfer orders.
var pixDiscountRate = decimal.RequireFromString("0.05")

// ValidationError reports a malformed checkout request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Request is a validated checkout request.
type Request struct {
	UserID          int64
	Email           string
	Lines           []cart.Line
	ShippingAddress json.RawMessage
	ShippingCost    decimal.Decimal
	PaymentMethod   order.PaymentMethod
}

// Validate checks the request shape before any business logic runs.
func (r *Request) Validate() error {
	if r.UserID <= 0 {
		return &ValidationError{Field: "userId", Reason: "must be positive"}
	}
	if err := cart.Validate(r.Lines); err != nil {
		var qe *cart.InvalidQuantityError
		if errors.As(err, &qe) {
			return &ValidationError{Field: "items", Reason: qe.Error()}
		}
		return &ValidationError{Field: "items", Reason: err.Error()}
	}
	if !nonEmptyObject(r.ShippingAddress) {
		return &ValidationError{Field: "shippingAddress", Reason: "must be a non-empty object"}
	}
	if r.ShippingCost.IsNegative() {
		return &ValidationError{Field: "shippingCost", Reason: "must not be negative"}
	}
	if !r.ShippingCost.Equal(r.ShippingCost.Round(2)) {
		return &ValidationError{Field: "shippingCost", Reason: "must have at most two decimal places"}
	}
	if _, ok := order.ParsePaymentMethod(string(r.PaymentMethod)); !ok {
		return &ValidationError{Field: "paymentMethod", Reason: "must be one of pix, credit_card, boleto"}
	}
	return nil
}

func nonEmptyObject(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	d := jx.DecodeBytes(raw)
	if d.Next() != jx.Object {
		return false
	}
	fields := 0
	err := d.ObjBytes(func(d *jx.Decoder, _ []byte) error {
		fields++
		return d.Skip()
	})
	return err == nil && fields > 0
}

// Result is returned for a committed checkout.
type Result struct {
	OrderID             int64
	Subtotal            decimal.Decimal
	Discount            decimal.Decimal
	ShippingCost        decimal.Decimal
	Total               decimal.Decimal
	PaymentInstructions *payment.Instructions
}

// Discount returns the discount granted to subtotal for method.
func Discount(subtotal decimal.Decimal, method order.PaymentMethod) decimal.Decimal {
	if method != order.PaymentPix {
		return decimal.Zero
	}
	return subtotal.Mul(pixDiscountRate).Round(2)
}

// Orchestrator runs checkouts.
type Orchestrator struct {
	db      order.Database
	ledger  *order.Ledger
	gateway payment.Gateway

	tracer   trace.Tracer
	attempts metric.Int64Counter
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMeterProvider records checkout results with mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Orchestrator) {
		c, err := mp.Meter("storefront/checkout").Int64Counter("storefront.checkout.total",
			metric.WithDescription("Checkout attempts by result"),
		)
		if err == nil {
			o.attempts = c
		}
	}
}

// WithTracerProvider traces checkouts with tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		o.tracer = tp.Tracer("storefront/checkout")
	}
}

// New creates an Orchestrator.
func New(db order.Database, ledger *order.Ledger, gateway payment.Gateway, opts ...Option) *Orchestrator {
	c, _ := metricnoop.NewMeterProvider().Meter("").Int64Counter("")
	o := &Orchestrator{
		db:       db,
		ledger:   ledger,
		gateway:  gateway,
		tracer:   tracenoop.NewTracerProvider().Tracer(""),
		attempts: c,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Checkout prices the cart, reserves stock, creates the pending order and,
// for methods settled through the gateway, opens the payment intent. Every
// step runs in one transaction: any failure leaves no order and no stock
// change behind.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (_ *Result, rerr error) {
	ctx, span := o.tracer.Start(ctx, "checkout.Checkout",
		trace.WithAttributes(
			attribute.Int64("user.id", req.UserID),
			attribute.String("payment.method", string(req.PaymentMethod)),
		),
	)
	defer func() {
		result := "ok"
		if rerr != nil {
			result = resultOf(rerr)
			span.RecordError(rerr)
			span.SetStatus(codes.Error, result)
		}
		o.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
		span.End()
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		created *order.Order
		res     *Result
	)
	err := o.db.InTx(ctx, func(tx order.Tx) error {
		quote, err := pricing.Resolve(ctx, tx, req.Lines)
		if err != nil {
			return err
		}
		if err := inventory.Reserve(ctx, tx, req.Lines); err != nil {
			return err
		}

		discount := Discount(quote.Subtotal, req.PaymentMethod)
		shipping := req.ShippingCost.Round(2)
		total := quote.Subtotal.Sub(discount).Add(shipping)

		lines := make([]order.Line, len(quote.Lines))
		for i, l := range quote.Lines {
			lines[i] = order.Line{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
		}

		created, err = o.ledger.Create(ctx, tx, &order.Draft{
			UserID:          req.UserID,
			Lines:           lines,
			Subtotal:        quote.Subtotal,
			ShippingCost:    shipping,
			Discount:        discount,
			Total:           total,
			PaymentMethod:   req.PaymentMethod,
			ShippingAddress: req.ShippingAddress,
		})
		if err != nil {
			return err
		}

		res = &Result{
			OrderID:      created.ID,
			Subtotal:     created.Subtotal,
			Discount:     created.Discount,
			ShippingCost: created.ShippingCost,
			Total:        created.Total,
		}

		if !req.PaymentMethod.RequiresSettlement() {
			return nil
		}
		instr, err := o.gateway.CreateIntent(ctx, payment.Intent{
			ReferenceID: created.ID,
			Amount:      created.Total,
			Buyer:       payment.Buyer{UserID: req.UserID, Email: req.Email},
		})
		if err != nil {
			return err
		}
		res.PaymentInstructions = instr
		return nil
	})
	if err != nil {
		zctx.From(ctx).Info("Checkout rejected",
			zap.Int64("user_id", req.UserID),
			zap.String("result", resultOf(err)),
			zap.Error(err),
		)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("order.id", created.ID))
	zctx.From(ctx).Info("Order placed",
		zap.Int64("order_id", created.ID),
		zap.Int64("user_id", req.UserID),
		zap.String("total", pricing.Format(created.Total)),
		zap.String("payment_method", string(req.PaymentMethod)),
	)
	o.ledger.Published(ctx, created)
	return res, nil
}

func resultOf(err error) string {
	var (
		ve  *ValidationError
		pnf *pricing.ProductNotFoundError
		ise *inventory.InsufficientStockError
		ge  *payment.GatewayError
	)
	switch {
	case errors.As(err, &ve):
		return "invalid"
	case errors.As(err, &pnf):
		return "product_not_found"
	case errors.As(err, &ise):
		return "insufficient_stock"
	case errors.As(err, &ge):
		return "gateway_error"
	default:
		return "error"
	}
}
