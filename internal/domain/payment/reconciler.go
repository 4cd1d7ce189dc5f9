package payment

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

// ErrInvalidSecret is returned when a callback carries the wrong shared
// secret.
var ErrInvalidSecret = errors.New("invalid callback secret")

// CallbackValidationError is returned when a required callback field is
// missing.
type CallbackValidationError struct {
	Field string
}

func (e *CallbackValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// Callback is a provider notification about a payment.
type Callback struct {
	Secret      string
	ReferenceID string
	Status      string
}

// Action describes what a callback did to the order.
type Action string

const (
	ActionMarkedPaid   Action = "marked_paid"
	ActionCancelled    Action = "cancelled"
	ActionAlready      Action = "already_applied"
	ActionIgnored      Action = "ignored"
	ActionUnknownOrder Action = "unknown_order"
	ActionNoop         Action = "noop"
)

// Outcome is returned for every authenticated callback.
type Outcome struct {
	Accepted bool
	Applied  bool
	Action   Action
}

// Ledger is the subset of order.Ledger used by the reconciler.
type Ledger interface {
	MarkPaid(ctx context.Context, id int64) (bool, error)
	MarkCancelled(ctx context.Context, id int64) (*order.Order, bool, error)
}

// Reconciler applies provider callbacks to orders.
type Reconciler struct {
	secret    []byte
	ledger    Ledger
	callbacks metric.Int64Counter
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithMeterProvider records callback outcomes with mp.
func WithMeterProvider(mp metric.MeterProvider) ReconcilerOption {
	return func(r *Reconciler) {
		c, err := mp.Meter("storefront/payment").Int64Counter("storefront.payment.callbacks",
			metric.WithDescription("Payment provider callbacks by outcome"),
		)
		if err == nil {
			r.callbacks = c
		}
	}
}

// NewReconciler creates a Reconciler that accepts callbacks carrying secret.
func NewReconciler(secret string, ledger Ledger, opts ...ReconcilerOption) *Reconciler {
	c, _ := noop.NewMeterProvider().Meter("").Int64Counter("")
	r := &Reconciler{
		secret:    []byte(secret),
		ledger:    ledger,
		callbacks: c,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// MapStatus maps the provider vocabulary to an order status. ok is false for
// statuses that require no action.
func MapStatus(providerStatus string) (status order.Status, ok bool) {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "paid", "completed":
		return order.StatusPaid, true
	case "refunded", "chargeback", "cancelled":
		return order.StatusCancelled, true
	default:
		return "", false
	}
}

// Authenticate compares secret with the configured one in constant time. An
// unconfigured reconciler rejects everything.
func (r *Reconciler) Authenticate(secret string) error {
	if len(r.secret) == 0 || subtle.ConstantTimeCompare([]byte(secret), r.secret) != 1 {
		return ErrInvalidSecret
	}
	return nil
}

// HandleCallback authenticates and applies a callback. The secret is checked
// before anything else. Once authenticated, every outcome except an
// unexpected failure is reported as accepted so the provider stops retrying.
func (r *Reconciler) HandleCallback(ctx context.Context, cb Callback) (*Outcome, error) {
	lg := zctx.From(ctx)

	if err := r.Authenticate(cb.Secret); err != nil {
		r.record(ctx, "unauthorized")
		lg.Warn("Rejected payment callback with invalid secret")
		return nil, err
	}

	ref := strings.TrimSpace(cb.ReferenceID)
	if ref == "" {
		return nil, &CallbackValidationError{Field: "referenceId"}
	}
	if strings.TrimSpace(cb.Status) == "" {
		return nil, &CallbackValidationError{Field: "status"}
	}

	lg = lg.With(zap.String("reference_id", ref), zap.String("provider_status", cb.Status))

	target, ok := MapStatus(cb.Status)
	if !ok {
		lg.Info("Payment callback status requires no action")
		return r.done(ctx, false, ActionNoop), nil
	}

	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= 0 {
		lg.Warn("Payment callback for unknown reference")
		return r.done(ctx, false, ActionUnknownOrder), nil
	}

	var applied bool
	switch target {
	case order.StatusPaid:
		applied, err = r.ledger.MarkPaid(ctx, id)
	case order.StatusCancelled:
		_, applied, err = r.ledger.MarkCancelled(ctx, id)
	}

	var ite *order.InvalidTransitionError
	switch {
	case errors.Is(err, order.ErrNotFound):
		lg.Warn("Payment callback for unknown order")
		return r.done(ctx, false, ActionUnknownOrder), nil
	case errors.As(err, &ite):
		lg.Warn("Payment callback conflicts with order status",
			zap.String("from", string(ite.From)),
			zap.String("to", string(ite.To)),
		)
		return r.done(ctx, false, ActionIgnored), nil
	case err != nil:
		r.record(ctx, "error")
		return nil, errors.Wrapf(err, "apply %s to order %d", target, id)
	}

	if !applied {
		return r.done(ctx, false, ActionAlready), nil
	}
	if target == order.StatusPaid {
		return r.done(ctx, true, ActionMarkedPaid), nil
	}
	return r.done(ctx, true, ActionCancelled), nil
}

func (r *Reconciler) done(ctx context.Context, applied bool, action Action) *Outcome {
	r.record(ctx, string(action))
	return &Outcome{Accepted: true, Applied: applied, Action: action}
}

func (r *Reconciler) record(ctx context.Context, outcome string) {
	r.callbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
