package domain

import (
	"strings"
	"time"
)

// State is the lifecycle state of a payment attempt.
type State string

const (
	StateIdle              State = "idle"
	StateInitiating        State = "initiating"
	StateAwaitingChallenge State = "awaiting_challenge"
	StateCompleting        State = "completing"
	StateSucceeded         State = "succeeded"
	StateFailed            State = "failed"
	StateCancelled         State = "cancelled"
)

// Active reports whether the attempt still owns the challenge surface and its
// subscriptions. Terminal presentation keeps the surface open through
// Succeeded/Failed until the user acknowledges.
func (s State) Active() bool {
	switch s {
	case StateAwaitingChallenge, StateCompleting:
		return true
	default:
		return false
	}
}

type Buyer struct {
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type CartItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"` // minor units
}

// CartSnapshot is the cart captured at checkout submission. Totals are always
// computed from the snapshot, never from the live cart, so a concurrent cart
// mutation cannot skew the finalized order.
type CartSnapshot struct {
	Currency      string     `json:"currency"`
	Items         []CartItem `json:"items"`
	ShippingTotal int64      `json:"shipping_total"`
	CapturedAt    time.Time  `json:"captured_at"`
}

func (s CartSnapshot) ItemsTotal() int64 {
	var total int64
	for _, item := range s.Items {
		total += item.Quantity * item.UnitPrice
	}
	return total
}

func (s CartSnapshot) GrandTotal() int64 {
	return s.ItemsTotal() + s.ShippingTotal
}

// CheckoutDraft is the shipping/contact data entered before payment. It is
// kept across a failed attempt so returning to the payment step does not
// discard it.
type CheckoutDraft struct {
	ClientID        string       `json:"client_id"`
	Buyer           Buyer        `json:"buyer"`
	ShippingAddress Address      `json:"shipping_address"`
	BillingAddress  Address      `json:"billing_address"`
	Snapshot        CartSnapshot `json:"snapshot"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// PaymentAttempt is one checkout submission. At most one attempt is active at
// a time; a replacement tears the previous one down first.
type PaymentAttempt struct {
	OrderNumber    string
	ClientID       string
	State          State
	PaymentID      string
	ConversationID string

	// ChallengePayload is the decoded gateway markup, present only while the
	// challenge is outstanding.
	ChallengePayload string

	Buyer           Buyer
	ShippingAddress Address
	BillingAddress  Address
	Snapshot        CartSnapshot

	StartedAt time.Time
}

// SubmitRequest is the validated input that starts an attempt.
type SubmitRequest struct {
	ClientID        string       `json:"client_id"`
	Buyer           Buyer        `json:"buyer"`
	ShippingAddress Address      `json:"shipping_address"`
	BillingAddress  Address      `json:"billing_address"`
	Snapshot        CartSnapshot `json:"snapshot"`
}

// Validate applies the checkout-field validation that must pass before the
// protocol is entered at all.
func (r SubmitRequest) Validate() []FieldError {
	var errs []FieldError
	if strings.TrimSpace(r.Buyer.Name) == "" {
		errs = append(errs, FieldError{Field: "buyer.name", Code: "required"})
	}
	if strings.TrimSpace(r.Buyer.Email) == "" || !strings.Contains(r.Buyer.Email, "@") {
		errs = append(errs, FieldError{Field: "buyer.email", Code: "invalid"})
	}
	if strings.TrimSpace(r.ShippingAddress.Line1) == "" {
		errs = append(errs, FieldError{Field: "shipping_address.line1", Code: "required"})
	}
	if strings.TrimSpace(r.ShippingAddress.Country) == "" {
		errs = append(errs, FieldError{Field: "shipping_address.country", Code: "required"})
	}
	if strings.TrimSpace(r.Snapshot.Currency) == "" {
		errs = append(errs, FieldError{Field: "snapshot.currency", Code: "required"})
	}
	if len(r.Snapshot.Items) == 0 {
		errs = append(errs, FieldError{Field: "snapshot.items", Code: "empty"})
	}
	for _, item := range r.Snapshot.Items {
		if item.Quantity <= 0 || item.UnitPrice < 0 {
			errs = append(errs, FieldError{Field: "snapshot.items", Code: "invalid"})
			break
		}
	}
	return errs
}

type FieldError struct {
	Field string `json:"field"`
	Code  string `json:"code"`
}
