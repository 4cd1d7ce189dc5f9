package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/product"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// ParseStatus returns the Status named by s.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	switch st {
	case StatusPending, StatusPaid, StatusShipped, StatusDelivered, StatusCancelled:
		return st, true
	}
	return "", false
}

// Terminal reports whether no further transitions leave s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusDelivered
}

// Cancellable reports whether markCancelled may leave s.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusPaid
}

// PaymentMethod is the closed set of accepted payment methods.
type PaymentMethod string

const (
	PaymentPix        PaymentMethod = "pix"
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentBoleto     PaymentMethod = "boleto"
)

// ParsePaymentMethod returns the PaymentMethod named by s.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	m := PaymentMethod(s)
	switch m {
	case PaymentPix, PaymentCreditCard, PaymentBoleto:
		return m, true
	}
	return "", false
}

// RequiresSettlement reports whether the method goes through the payment
// gateway at checkout. Boleto is settled out of band.
func (m PaymentMethod) RequiresSettlement() bool {
	return m == PaymentPix || m == PaymentCreditCard
}

// Line is an order line with the unit price captured at order time.
type Line struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// Order is a persisted customer order.
type Order struct {
	ID              int64
	UserID          int64
	Lines           []Line
	Subtotal        decimal.Decimal
	ShippingCost    decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
	PaymentMethod   PaymentMethod
	Status          Status
	ShippingAddress json.RawMessage
	TrackingCode    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Draft is an order about to be created.
type Draft struct {
	UserID          int64
	Lines           []Line
	Subtotal        decimal.Decimal
	ShippingCost    decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
	PaymentMethod   PaymentMethod
	ShippingAddress json.RawMessage
}

// ShippingUpdate carries the admin-editable fields. A nil Status leaves the
// status unchanged; an empty TrackingCode clears it.
type ShippingUpdate struct {
	Status       *Status
	TrackingCode string
}

// Filter narrows an admin listing.
type Filter struct {
	Status Status
	Limit  int
	Offset int
}

// Repository defines persistence operations for orders.
type Repository interface {
	Insert(ctx context.Context, d *Draft) (*Order, error)
	GetByID(ctx context.Context, id int64) (*Order, error)
	GetForUpdate(ctx context.Context, id int64) (*Order, error)
	ListByUser(ctx context.Context, userID int64) ([]Order, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	SetStatus(ctx context.Context, id int64, status Status) error
	UpdateShipping(ctx context.Context, id int64, upd ShippingUpdate) error
}

// Tx is everything a single database transaction exposes to the domain.
type Tx interface {
	Repository
	inventory.Store
	product.Reader
}

// Database runs units of work. InTx commits when fn returns nil and rolls
// back otherwise, including on panic.
type Database interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Orders() Repository
}
