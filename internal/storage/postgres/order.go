package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	orderColumns = `id, user_id, subtotal, shipping_cost, discount, total_amount,
		status, payment_method, shipping_address, tracking_code, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders
		(user_id, subtotal, shipping_cost, discount, total_amount, status, payment_method, shipping_address)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7)
		RETURNING ` + orderColumns

	insertOrderItemSQL = `INSERT INTO order_items (order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	orderItemsSQL = `SELECT order_id, product_id, quantity, unit_price FROM order_items
		WHERE order_id = ANY($1) ORDER BY order_id, id`

	setStatusSQL = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`
)

var _ order.Repository = (*Queries)(nil)

// Insert creates a pending order and its lines.
func (q *Queries) Insert(ctx context.Context, d *order.Draft) (*order.Order, error) {
	rows, err := q.db.Query(ctx, insertOrderSQL,
		d.UserID, d.Subtotal, d.ShippingCost, d.Discount, d.Total,
		string(d.PaymentMethod), []byte(d.ShippingAddress),
	)
	if err != nil {
		return nil, fail("insert order", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		return nil, fail("insert order", err)
	}

	for _, l := range d.Lines {
		if _, err := q.db.Exec(ctx, insertOrderItemSQL, o.ID, l.ProductID, l.Quantity, l.UnitPrice); err != nil {
			return nil, fail(fmt.Sprintf("insert lines of order %d", o.ID), err)
		}
	}

	o.Lines = append([]order.Line(nil), d.Lines...)
	return &o, nil
}

// GetByID returns an order with its lines.
func (q *Queries) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	return q.getOne(ctx, getOrderSQL, id)
}

// GetForUpdate returns an order with its lines and locks the order row until
// the transaction ends.
func (q *Queries) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return q.getOne(ctx, getOrderForUpdateSQL, id)
}

func (q *Queries) getOne(ctx context.Context, sql string, id int64) (*order.Order, error) {
	rows, err := q.db.Query(ctx, sql, id)
	if err != nil {
		return nil, fail(fmt.Sprintf("get order %d", id), err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, fail(fmt.Sprintf("get order %d", id), err)
	}

	orders := []order.Order{o}
	if err := q.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListByUser returns a user's orders, newest first.
func (q *Queries) ListByUser(ctx context.Context, userID int64) ([]order.Order, error) {
	return q.list(ctx, "list orders of user "+strconv.FormatInt(userID, 10), listOrdersByUserSQL, userID)
}

// List returns orders matching f, newest first.
func (q *Queries) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	return q.list(ctx, "list orders", listOrdersSQL, string(f.Status), f.Limit, f.Offset)
}

func (q *Queries) list(ctx context.Context, op, sql string, args ...any) ([]order.Order, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fail(op, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fail(op, err)
	}
	if err := q.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachLines loads the lines of every order in one query.
func (q *Queries) attachLines(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := q.db.Query(ctx, orderItemsSQL, ids)
	if err != nil {
		return fail("load order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID int64
			l       order.Line
		)
		if err := rows.Scan(&orderID, &l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return fail("scan order item", err)
		}
		i := index[orderID]
		orders[i].Lines = append(orders[i].Lines, l)
	}
	if err := rows.Err(); err != nil {
		return fail("load order items", err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o       order.Order
		status  string
		method  string
		address []byte
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Subtotal, &o.ShippingCost, &o.Discount, &o.Total,
		&status, &method, &address, &o.TrackingCode, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentMethod = order.PaymentMethod(method)
	o.ShippingAddress = address
	return o, err
}

// SetStatus sets the status of an order.
func (q *Queries) SetStatus(ctx context.Context, id int64, status order.Status) error {
	tag, err := q.db.Exec(ctx, setStatusSQL, id, string(status))
	if err != nil {
		return fail(fmt.Sprintf("set status of order %d", id), err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// UpdateShipping writes the admin-editable columns of an order.
func (q *Queries) UpdateShipping(ctx context.Context, id int64, upd order.ShippingUpdate) error {
	u := newOrderUpdate(id)
	if upd.Status != nil {
		u.set(colStatus, string(*upd.Status))
	}
	if upd.TrackingCode != "" {
		u.set(colTrackingCode, upd.TrackingCode)
	} else {
		u.set(colTrackingCode, nil)
	}

	sql, args := u.build()
	tag, err := q.db.Exec(ctx, sql, args...)
	if err != nil {
		return fail(fmt.Sprintf("update shipping of order %d", id), err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// updatableColumn is the closed set of order columns an admin may write.
type updatableColumn string

const (
	colStatus       updatableColumn = "status"
	colTrackingCode updatableColumn = "tracking_code"
)

// orderUpdate builds an UPDATE touching only allow-listed columns. Values
// are always bound as parameters.
type orderUpdate struct {
	id   int64
	cols []updatableColumn
	args []any
}

func newOrderUpdate(id int64) *orderUpdate {
	return &orderUpdate{id: id}
}

func (u *orderUpdate) set(col updatableColumn, v any) {
	for i, c := range u.cols {
		if c == col {
			u.args[i] = v
			return
		}
	}
	u.cols = append(u.cols, col)
	u.args = append(u.args, v)
}

func (u *orderUpdate) build() (string, []any) {
	var b strings.Builder
	b.WriteString("UPDATE orders SET ")
	for i, c := range u.cols {
		fmt.Fprintf(&b, "%s = $%d, ", c, i+1)
	}
	fmt.Fprintf(&b, "updated_at = now() WHERE id = $%d", len(u.cols)+1)
	return b.String(), append(append([]any(nil), u.args...), u.id)
}
