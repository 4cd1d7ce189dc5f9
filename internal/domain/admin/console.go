// Package admin exposes order management to administrators. Every operation
// goes through the order ledger so admin actions share the same guarded
// transitions and stock restoration as the rest of the system.
package admin

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
)

// Ledger is the subset of order.Ledger used by the console.
type Ledger interface {
	Get(ctx context.Context, id int64) (*order.Order, error)
	List(ctx context.Context, f order.Filter) ([]order.Order, error)
	UpdateShipping(ctx context.Context, id int64, upd order.ShippingUpdate) (*order.Order, error)
	MarkCancelled(ctx context.Context, id int64) (*order.Order, bool, error)
}

// Console implements the admin order operations.
type Console struct {
	ledger Ledger
}

// NewConsole creates a Console backed by ledger.
func NewConsole(ledger Ledger) *Console {
	return &Console{ledger: ledger}
}

// List returns orders across all users, newest first.
func (c *Console) List(ctx context.Context, id auth.Identity, f order.Filter) ([]order.Order, error) {
	if err := id.RequireAdmin(); err != nil {
		return nil, err
	}
	return c.ledger.List(ctx, f)
}

// Get returns any order.
func (c *Console) Get(ctx context.Context, id auth.Identity, orderID int64) (*order.Order, error) {
	if err := id.RequireAdmin(); err != nil {
		return nil, err
	}
	return c.ledger.Get(ctx, orderID)
}

// UpdateShipping edits an order's status and tracking code.
func (c *Console) UpdateShipping(ctx context.Context, id auth.Identity, orderID int64, upd order.ShippingUpdate) (*order.Order, error) {
	if err := id.RequireAdmin(); err != nil {
		return nil, err
	}

	o, err := c.ledger.UpdateShipping(ctx, orderID, upd)
	if err != nil {
		return nil, err
	}
	zctx.From(ctx).Info("Order shipping updated",
		zap.Int64("order_id", orderID),
		zap.Int64("admin_id", id.UserID),
		zap.String("status", string(o.Status)),
	)
	return o, nil
}

// Cancel cancels an order and restores its stock.
func (c *Console) Cancel(ctx context.Context, id auth.Identity, orderID int64) (*order.Order, error) {
	if err := id.RequireAdmin(); err != nil {
		return nil, err
	}

	o, applied, err := c.ledger.MarkCancelled(ctx, orderID)
	if err != nil {
		return nil, err
	}
	zctx.From(ctx).Info("Order cancelled by admin",
		zap.Int64("order_id", orderID),
		zap.Int64("admin_id", id.UserID),
		zap.Bool("applied", applied),
	)
	return o, nil
}

var exportHeader = []string{
	"order_id", "user_id", "status", "payment_method",
	"subtotal", "discount", "shipping_cost", "total_amount",
	"tracking_code", "created_at",
}

// Export writes the orders matching status as gzip-compressed CSV to w. It
// pages through the ledger so memory use does not grow with order count.
func (c *Console) Export(ctx context.Context, id auth.Identity, status order.Status, w io.Writer) (int, error) {
	if err := id.RequireAdmin(); err != nil {
		return 0, err
	}

	gz := pgzip.NewWriter(w)
	n, err := c.writeCSV(ctx, gz, status)
	// Close on every path so the compressor goroutines exit.
	if cerr := gz.Close(); cerr != nil && err == nil {
		err = errors.Wrap(cerr, "close gzip")
	}
	if err != nil {
		return n, err
	}

	zctx.From(ctx).Info("Orders exported", zap.Int("count", n), zap.Int64("admin_id", id.UserID))
	return n, nil
}

func (c *Console) writeCSV(ctx context.Context, w io.Writer, status order.Status) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, errors.Wrap(err, "write header")
	}

	n := 0
	for offset := 0; ; offset += order.MaxListLimit {
		page, err := c.ledger.List(ctx, order.Filter{Status: status, Limit: order.MaxListLimit, Offset: offset})
		if err != nil {
			return n, errors.Wrap(err, "list orders")
		}
		for i := range page {
			if err := cw.Write(exportRow(&page[i])); err != nil {
				return n, errors.Wrap(err, "write row")
			}
			n++
		}
		if len(page) < order.MaxListLimit {
			break
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, errors.Wrap(err, "flush csv")
	}
	return n, nil
}

func exportRow(o *order.Order) []string {
	tracking := ""
	if o.TrackingCode != nil {
		tracking = *o.TrackingCode
	}
	return []string{
		strconv.FormatInt(o.ID, 10),
		strconv.FormatInt(o.UserID, 10),
		string(o.Status),
		string(o.PaymentMethod),
		o.Subtotal.StringFixed(2),
		o.Discount.StringFixed(2),
		o.ShippingCost.StringFixed(2),
		o.Total.StringFixed(2),
		tracking,
		o.CreatedAt.UTC().Format(time.RFC3339),
	}
}
