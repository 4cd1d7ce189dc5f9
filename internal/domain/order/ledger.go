package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/inventory"
)

// Listing page bounds.
const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// Ledger owns order creation and every status transition.
type Ledger struct {
	db       Database
	notifier Notifier
	now      func() time.Time
}

// NewLedger creates a Ledger. A nil notifier drops events.
func NewLedger(db Database, notifier Notifier) *Ledger {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Ledger{
		db:       db,
		notifier: notifier,
		now:      time.Now,
	}
}

// Create inserts d as a pending order inside the caller's transaction. The
// created event is not published here; call Published once the caller's
// transaction has committed.
func (l *Ledger) Create(ctx context.Context, tx Tx, d *Draft) (*Order, error) {
	if err := d.check(); err != nil {
		return nil, err
	}

	o, err := tx.Insert(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}

// Published emits the created event for an order whose transaction has
// committed.
func (l *Ledger) Published(ctx context.Context, o *Order) {
	l.notify(ctx, EventCreated, o)
}

// MarkPaid moves a pending order to paid. Re-applying it to a paid order is
// a no-op and reports applied=false.
func (l *Ledger) MarkPaid(ctx context.Context, id int64) (applied bool, err error) {
	var o *Order
	err = l.db.InTx(ctx, func(tx Tx) error {
		cur, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		switch cur.Status {
		case StatusPaid:
			return nil
		case StatusPending:
		default:
			return &InvalidTransitionError{OrderID: id, From: cur.Status, To: StatusPaid}
		}

		if err := tx.SetStatus(ctx, id, StatusPaid); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		cur.Status = StatusPaid
		o, applied = cur, true
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied {
		zctx.From(ctx).Info("Order paid", zap.Int64("order_id", id))
		l.notify(ctx, EventPaid, o)
	}
	return applied, nil
}

// MarkCancelled cancels a pending or paid order and restores its stock in the
// same transaction. An already cancelled order is returned unchanged with
// applied=false, so stock is never restored twice.
func (l *Ledger) MarkCancelled(ctx context.Context, id int64) (o *Order, applied bool, err error) {
	err = l.db.InTx(ctx, func(tx Tx) error {
		cur, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		o = cur

		if cur.Status == StatusCancelled {
			return nil
		}
		if !cur.Status.Cancellable() {
			return &InvalidTransitionError{OrderID: id, From: cur.Status, To: StatusCancelled}
		}

		if err := tx.SetStatus(ctx, id, StatusCancelled); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		if err := inventory.Restore(ctx, tx, id); err != nil {
			return err
		}
		cur.Status = StatusCancelled
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if applied {
		zctx.From(ctx).Info("Order cancelled", zap.Int64("order_id", id))
		l.notify(ctx, EventCancelled, o)
	}
	return o, applied, nil
}

// UpdateShipping applies an admin edit of status and tracking code. It has no
// stock or payment side effects, so it refuses to cancel (use MarkCancelled),
// refuses to mark an order paid (only a verified payment callback does that)
// and refuses to move an order out of a terminal status.
func (l *Ledger) UpdateShipping(ctx context.Context, id int64, upd ShippingUpdate) (*Order, error) {
	var o *Order
	err := l.db.InTx(ctx, func(tx Tx) error {
		cur, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if upd.Status != nil && *upd.Status != cur.Status {
			to := *upd.Status
			if to == StatusCancelled || to == StatusPaid || cur.Status.Terminal() {
				return &InvalidTransitionError{OrderID: id, From: cur.Status, To: to}
			}
		}

		if err := tx.UpdateShipping(ctx, id, upd); err != nil {
			return fmt.Errorf("update shipping: %w", err)
		}

		o, err = tx.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.notify(ctx, EventShippingUpdated, o)
	return o, nil
}

// Get returns any order with its lines.
func (l *Ledger) Get(ctx context.Context, id int64) (*Order, error) {
	return l.db.Orders().GetByID(ctx, id)
}

// GetForUser returns the order only when userID owns it. Orders of other
// users are reported as ErrNotFound.
func (l *Ledger) GetForUser(ctx context.Context, userID, id int64) (*Order, error) {
	o, err := l.db.Orders().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// ListForUser returns the user's orders, newest first.
func (l *Ledger) ListForUser(ctx context.Context, userID int64) ([]Order, error) {
	return l.db.Orders().ListByUser(ctx, userID)
}

// List returns orders across all users, newest first.
func (l *Ledger) List(ctx context.Context, f Filter) ([]Order, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return l.db.Orders().List(ctx, f)
}

func (l *Ledger) notify(ctx context.Context, kind EventKind, o *Order) {
	if o == nil {
		return
	}
	l.notifier.Notify(ctx, Event{Kind: kind, Order: *o, OccurredAt: l.now()})
}

func (d *Draft) check() error {
	if len(d.Lines) == 0 {
		return &IntegrityError{Reason: "no lines"}
	}

	sum := decimal.Zero
	for _, ln := range d.Lines {
		if ln.Quantity < 1 {
			return &IntegrityError{Reason: fmt.Sprintf("quantity %d for product %d", ln.Quantity, ln.ProductID)}
		}
		sum = sum.Add(ln.UnitPrice.Mul(decimal.NewFromInt(int64(ln.Quantity))))
	}
	if !sum.Equal(d.Subtotal) {
		return &IntegrityError{Reason: fmt.Sprintf("lines sum to %s, subtotal is %s", sum, d.Subtotal)}
	}
	if d.ShippingCost.IsNegative() || d.Discount.IsNegative() {
		return &IntegrityError{Reason: "negative shipping cost or discount"}
	}

	want := d.Subtotal.Add(d.ShippingCost).Sub(d.Discount)
	if !want.Equal(d.Total) || d.Total.IsNegative() {
		return &IntegrityError{Reason: fmt.Sprintf("total %s, expected %s", d.Total, want)}
	}
	if !d.PaymentMethod.valid() {
		return &IntegrityError{Reason: fmt.Sprintf("payment method %q", d.PaymentMethod)}
	}
	return nil
}

func (m PaymentMethod) valid() bool {
	_, ok := ParsePaymentMethod(string(m))
	return ok
}
