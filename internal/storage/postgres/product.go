package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	getProductsByIDsSQL = `SELECT id, name, price, stock_quantity FROM products WHERE id = ANY($1)`

	decrementStockSQL = `UPDATE products
		SET stock_quantity = stock_quantity - $2, updated_at = now()
		WHERE id = $1 AND stock_quantity >= $2
		RETURNING stock_quantity`

	incrementStockSQL = `UPDATE products
		SET stock_quantity = stock_quantity + $2, updated_at = now()
		WHERE id = $1`

	stockOfSQL = `SELECT stock_quantity FROM products WHERE id = $1`

	orderLinesSQL = `SELECT product_id, quantity FROM order_items WHERE order_id = $1 ORDER BY id`

	upsertProductSQL = `INSERT INTO products (id, name, description, price, stock_quantity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, description = EXCLUDED.description,
		    price = EXCLUDED.price, stock_quantity = EXCLUDED.stock_quantity, updated_at = now()`

	resetProductSeqSQL = `SELECT setval(pg_get_serial_sequence('products', 'id'), GREATEST((SELECT MAX(id) FROM products), 1))`

	productIDsSQL = `SELECT id FROM products ORDER BY id`
)

var (
	_ product.Reader  = (*Queries)(nil)
	_ inventory.Store = (*Queries)(nil)
)

// GetByIDs returns the products matching ids in one round-trip. Missing ids
// are omitted.
func (q *Queries) GetByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	rows, err := q.db.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fail("get products by ids", err)
	}
	out, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fail("get products by ids", err)
	}
	return out, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p     product.Product
		price decimal.Decimal
	)
	err := row.Scan(&p.ID, &p.Name, &price, &p.Stock)
	p.Price = price
	return p, err
}

// DecrementStock atomically takes qty units from the product row. It reports
// false when the row holds fewer than qty units or does not exist.
func (q *Queries) DecrementStock(ctx context.Context, productID int64, qty int) (bool, error) {
	var left int
	err := q.db.QueryRow(ctx, decrementStockSQL, productID, qty).Scan(&left)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fail(fmt.Sprintf("decrement stock of product %d", productID), err)
	}
	return true, nil
}

// IncrementStock adds qty units to the product row.
func (q *Queries) IncrementStock(ctx context.Context, productID int64, qty int) error {
	if _, err := q.db.Exec(ctx, incrementStockSQL, productID, qty); err != nil {
		return fail(fmt.Sprintf("increment stock of product %d", productID), err)
	}
	return nil
}

// StockOf returns the current stock of a product, zero when it does not
// exist.
func (q *Queries) StockOf(ctx context.Context, productID int64) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, stockOfSQL, productID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fail(fmt.Sprintf("read stock of product %d", productID), err)
	}
	return n, nil
}

// OrderLines returns the product quantities of an order.
func (q *Queries) OrderLines(ctx context.Context, orderID int64) ([]cart.Line, error) {
	rows, err := q.db.Query(ctx, orderLinesSQL, orderID)
	if err != nil {
		return nil, fail("load order lines", err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var l cart.Line
		err := row.Scan(&l.ProductID, &l.Quantity)
		return l, err
	})
	if err != nil {
		return nil, fail("load order lines", err)
	}
	return lines, nil
}

// CatalogProduct is a product row as maintained by the catalog tools.
type CatalogProduct struct {
	ID          int64
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
}

// UpsertProduct inserts p or overwrites the existing row with the same id.
func (q *Queries) UpsertProduct(ctx context.Context, p CatalogProduct) error {
	if _, err := q.db.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Description, p.Price, p.Stock); err != nil {
		return fail(fmt.Sprintf("upsert product %d", p.ID), err)
	}
	return nil
}

// ResetProductSequence moves the id sequence past explicitly inserted ids.
func (q *Queries) ResetProductSequence(ctx context.Context) error {
	if _, err := q.db.Exec(ctx, resetProductSeqSQL); err != nil {
		return fail("reset product sequence", err)
	}
	return nil
}

// ProductIDs returns every catalog product id.
func (q *Queries) ProductIDs(ctx context.Context) ([]int64, error) {
	rows, err := q.db.Query(ctx, productIDsSQL)
	if err != nil {
		return nil, fail("list product ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fail("list product ids", err)
	}
	return ids, nil
}

// AddStock adds qty units to a product, reporting false when the product
// does not exist.
func (q *Queries) AddStock(ctx context.Context, productID int64, qty int) (bool, error) {
	tag, err := q.db.Exec(ctx, incrementStockSQL, productID, qty)
	if err != nil {
		return false, fail(fmt.Sprintf("add stock to product %d", productID), err)
	}
	return tag.RowsAffected() == 1, nil
}
