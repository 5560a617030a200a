package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/smallbiznis/payflow/internal/checkout/domain"
	"gorm.io/datatypes"
)

const (
	StatusCreated = "created"
	// StatusPendingReconciliation marks orders whose persistence failed after
	// a successful charge; a reconciliation job re-attempts these.
	StatusPendingReconciliation = "pending_reconciliation"

	PaymentStatusPaid = "paid"
)

type Order struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderNumber string       `json:"order_number" gorm:"type:text;not null;uniqueIndex"`
	Status      string       `json:"status" gorm:"type:text;not null"`

	PaymentStatus string `json:"payment_status" gorm:"type:text;not null"`
	PaymentID     string `json:"payment_id" gorm:"type:text"`

	Currency      string `json:"currency" gorm:"type:text;not null"`
	ItemsTotal    int64  `json:"items_total" gorm:"not null"`
	ShippingTotal int64  `json:"shipping_total" gorm:"not null"`
	GrandTotal    int64  `json:"grand_total" gorm:"not null"`

	Buyer           datatypes.JSON `json:"buyer" gorm:"type:jsonb"`
	ShippingAddress datatypes.JSON `json:"shipping_address" gorm:"type:jsonb"`
	BillingAddress  datatypes.JSON `json:"billing_address" gorm:"type:jsonb"`
	Items           datatypes.JSON `json:"items" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

// SuccessMarker is the durable record that a charge succeeded. It outlives a
// page reload and is consulted on cancellation so a confirmed success is
// never lost.
type SuccessMarker struct {
	OrderNumber string    `json:"order_number" gorm:"type:text;primaryKey"`
	PaymentID   string    `json:"payment_id" gorm:"type:text"`
	Success     bool      `json:"success" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null"`
}

func (SuccessMarker) TableName() string { return "payment_success_markers" }

// FinalizeRequest carries everything needed to persist the order, captured at
// submission time.
type FinalizeRequest struct {
	OrderNumber     string
	PaymentID       string
	Buyer           checkoutdomain.Buyer
	ShippingAddress checkoutdomain.Address
	BillingAddress  checkoutdomain.Address
	Snapshot        checkoutdomain.CartSnapshot
}

type Repository interface {
	// Insert persists the order, reporting inserted=false when an order with
	// the same order number already exists.
	Insert(ctx context.Context, order *Order) (inserted bool, err error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*Order, error)

	SaveMarker(ctx context.Context, marker *SuccessMarker) error
	GetMarker(ctx context.Context, orderNumber string) (*SuccessMarker, error)

	// ListUnreconciledMarkers returns success markers older than cutoff with
	// no matching order row: charges confirmed to the customer whose
	// bookkeeping never landed.
	ListUnreconciledMarkers(ctx context.Context, cutoff time.Time, limit int) ([]SuccessMarker, error)
}

type Service interface {
	// Finalize performs the idempotent order creation for a confirmed charge.
	// The returned error reports a bookkeeping failure only; callers must
	// still present success to the customer.
	Finalize(ctx context.Context, req FinalizeRequest) (*Order, error)

	// Marker returns the durable success marker for the order, if any.
	Marker(ctx context.Context, orderNumber string) (*SuccessMarker, error)
}
