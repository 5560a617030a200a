package presentation

import (
	"github.com/smallbiznis/payflow/internal/checkout/surface"
	"go.uber.org/zap"
)

const (
	ActionGoToTracking = "go-to-tracking"
	ActionReturnToCart = "return-to-cart"

	successColor = "#15803d"
	failureColor = "#b91c1c"
)

// Presenter renders terminal results inside the still-open challenge surface.
// It never closes the surface itself; the view's primary action is the only
// exit, and the session performs the actual cleanup when that action fires.
type Presenter struct {
	log *zap.Logger
}

func NewPresenter(log *zap.Logger) *Presenter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Presenter{log: log.Named("checkout.presentation")}
}

type SuccessDetails struct {
	OrderNumber string
	PaymentID   string
}

func (p *Presenter) PresentSuccess(handle *surface.Handle, details SuccessDetails) {
	if handle == nil || handle.Closed() {
		p.log.Warn("success presentation with no open surface",
			zap.String("order_number", details.OrderNumber))
		return
	}
	handle.SetHeader(surface.Header{
		Title:   "Payment successful",
		Color:   successColor,
		Actions: []surface.Action{{ID: ActionGoToTracking, Label: "Go to order tracking"}},
	})
	handle.SetView(surface.View{
		Kind:          "success",
		Title:         "Thank you for your order",
		Message:       "Your payment was received and your order " + details.OrderNumber + " has been confirmed.",
		PrimaryAction: surface.Action{ID: ActionGoToTracking, Label: "Go to order tracking"},
		TargetPath:    "/orders/" + details.OrderNumber + "/tracking",
	})
}

type FailureDetails struct {
	OrderNumber  string
	ErrorCode    string
	ErrorMessage string
}

func (p *Presenter) PresentFailure(handle *surface.Handle, details FailureDetails) {
	if handle == nil || handle.Closed() {
		p.log.Warn("failure presentation with no open surface",
			zap.String("order_number", details.OrderNumber))
		return
	}
	message := details.ErrorMessage
	if message == "" {
		message = "Your payment could not be completed. You have not been charged."
	}
	handle.SetHeader(surface.Header{
		Title:   "Payment failed",
		Color:   failureColor,
		Actions: []surface.Action{{ID: ActionReturnToCart, Label: "Return to cart"}},
	})
	handle.SetView(surface.View{
		Kind:          "failure",
		Title:         "Payment failed",
		Message:       message,
		ErrorCode:     details.ErrorCode,
		PrimaryAction: surface.Action{ID: ActionReturnToCart, Label: "Return to cart"},
		TargetPath:    "/checkout?step=payment",
	})
}
