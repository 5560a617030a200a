package session

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/checkout/channel"
	"github.com/smallbiznis/payflow/internal/checkout/continuation"
	"github.com/smallbiznis/payflow/internal/checkout/domain"
	"github.com/smallbiznis/payflow/internal/checkout/draft"
	"github.com/smallbiznis/payflow/internal/checkout/presentation"
	"github.com/smallbiznis/payflow/internal/checkout/surface"
	"github.com/smallbiznis/payflow/internal/gateway"
	orderdomain "github.com/smallbiznis/payflow/internal/order/domain"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Gateway   gateway.Service
	Orders    orderdomain.Service
	Surfaces  *surface.Manager
	Hub       *channel.Hub
	Mux       *channel.Mux
	Driver    *continuation.Driver
	Presenter *presentation.Presenter
	Drafts    draft.Store

	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service owns the payment attempt's lifecycle and sequences the surface,
// continuation driver, result channels, deduplicator, finalization, and
// terminal presentation around it. Exactly one attempt is active at a time.
type Service struct {
	log        *zap.Logger
	genID      *snowflake.Node
	gateway    gateway.Service
	orders     orderdomain.Service
	surfaces   *surface.Manager
	hub        *channel.Hub
	mux        *channel.Mux
	driver     *continuation.Driver
	presenter  *presentation.Presenter
	drafts     draft.Store
	obsMetrics *obsmetrics.Metrics

	mu          sync.Mutex
	attempt     *domain.PaymentAttempt
	dedup       *channel.Deduplicator
	handle      *surface.Handle
	sub         *channel.MuxSubscription
	progressSub *channel.HubSubscription
	ladder      *continuation.Ladder
}

func NewService(p Params) *Service {
	return &Service{
		log:        p.Log.Named("checkout.session"),
		genID:      p.GenID,
		gateway:    p.Gateway,
		orders:     p.Orders,
		surfaces:   p.Surfaces,
		hub:        p.Hub,
		mux:        p.Mux,
		driver:     p.Driver,
		presenter:  p.Presenter,
		drafts:     p.Drafts,
		obsMetrics: p.ObsMetrics,
		dedup:      channel.NewDeduplicator(),
	}
}

// AttemptInfo is the externally visible snapshot of the active attempt.
type AttemptInfo struct {
	OrderNumber string       `json:"order_number"`
	State       domain.State `json:"state"`
	SurfaceID   string       `json:"surface_id,omitempty"`
}

// ValidationFailure carries field-level validation errors; they block the
// protocol entirely and are surfaced inline on the form.
type ValidationFailure struct {
	Fields []domain.FieldError
}

func (v *ValidationFailure) Error() string { return "checkout validation failed" }

// Submit starts a new payment attempt: validates, initiates with the gateway,
// opens and loads the challenge surface, and arms the continuation driver and
// result channels.
func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (AttemptInfo, error) {
	if fieldErrs := req.Validate(); len(fieldErrs) > 0 {
		return AttemptInfo{}, &ValidationFailure{Fields: fieldErrs}
	}

	s.mu.Lock()
	if s.attempt != nil && s.attempt.State.Active() {
		s.mu.Unlock()
		return AttemptInfo{}, domain.ErrAttemptInProgress
	}
	// A terminal attempt still holding the surface is replaced wholesale.
	s.cleanupLocked()

	orderNumber := "SIP-" + s.genID.Generate().String()
	attempt := &domain.PaymentAttempt{
		OrderNumber:     orderNumber,
		ClientID:        req.ClientID,
		State:           domain.StateInitiating,
		Buyer:           req.Buyer,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Snapshot:        req.Snapshot,
		StartedAt:       time.Now().UTC(),
	}
	s.attempt = attempt
	s.mu.Unlock()

	s.obsMetrics.RecordPaymentAttempt(ctx)
	s.saveDraft(ctx, req)

	initResp, err := s.gateway.InitiatePayment(ctx, gateway.InitiateRequest{
		OrderNumber:     orderNumber,
		Amount:          req.Snapshot.GrandTotal(),
		Currency:        req.Snapshot.Currency,
		Buyer:           req.Buyer,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Items:           req.Snapshot.Items,
	})
	if err != nil {
		s.log.Warn("payment initiation failed",
			zap.String("order_number", orderNumber), zap.Error(err))
		s.mu.Lock()
		attempt.State = domain.StateFailed
		s.mu.Unlock()
		return AttemptInfo{OrderNumber: orderNumber, State: domain.StateFailed}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != attempt {
		// Replaced while the gateway call was in flight.
		return AttemptInfo{}, domain.ErrNoActiveAttempt
	}

	attempt.PaymentID = initResp.PaymentID
	attempt.ConversationID = initResp.ConversationID
	attempt.ChallengePayload = initResp.ChallengeHTML

	handle := s.surfaces.Open()
	s.handle = handle

	if err := s.surfaces.LoadChallenge(handle, initResp.ChallengeHTML); err != nil {
		// Deliberately not retried; the user gets an immediate failure with a
		// distinguished code.
		attempt.State = domain.StateFailed
		attempt.ChallengePayload = ""
		s.presenter.PresentFailure(handle, presentation.FailureDetails{
			OrderNumber:  orderNumber,
			ErrorCode:    domain.CodeChallengeLoadFailed,
			ErrorMessage: "The verification page could not be displayed.",
		})
		return AttemptInfo{OrderNumber: orderNumber, State: domain.StateFailed, SurfaceID: handle.ID()}, domain.ErrChallengeLoadFailed
	}

	attempt.State = domain.StateAwaitingChallenge
	s.dedup.Reset()
	s.sub = s.mux.Subscribe(orderNumber, s.handleResult)
	s.watchProgressLocked(orderNumber)
	s.ladder = s.driver.Run(handle, orderNumber, s.handleResult)

	s.log.Info("challenge surface opened",
		zap.String("order_number", orderNumber),
		zap.String("payment_id", attempt.PaymentID),
		zap.String("surface_id", handle.ID()),
	)
	return AttemptInfo{OrderNumber: orderNumber, State: attempt.State, SurfaceID: handle.ID()}, nil
}

// handleResult is the single funnel every channel and the synthesized paths
// feed into. The deduplicator guarantees one logical transition per identity.
func (s *Service) handleResult(msg domain.ResultMessage) {
	s.mu.Lock()
	attempt := s.attempt
	if attempt == nil || msg.OrderNumber != attempt.OrderNumber {
		s.mu.Unlock()
		return
	}
	if attempt.State != domain.StateAwaitingChallenge && attempt.State != domain.StateCompleting {
		s.mu.Unlock()
		return
	}
	if !s.dedup.Accept(msg) {
		s.mu.Unlock()
		s.obsMetrics.RecordDuplicateResult(context.Background(), string(msg.Channel))
		return
	}

	if !msg.Success {
		attempt.State = domain.StateFailed
		attempt.ChallengePayload = ""
		handle := s.handle
		s.mu.Unlock()

		s.log.Info("payment failed",
			zap.String("order_number", msg.OrderNumber),
			zap.String("channel", string(msg.Channel)),
			zap.String("error_code", msg.ErrorCode),
		)
		s.presenter.PresentFailure(handle, presentation.FailureDetails{
			OrderNumber:  msg.OrderNumber,
			ErrorCode:    msg.ErrorCode,
			ErrorMessage: msg.ErrorMessage,
		})
		return
	}

	attempt.State = domain.StateCompleting
	attempt.ChallengePayload = ""
	if msg.PaymentID != "" {
		attempt.PaymentID = msg.PaymentID
	}
	finalizeReq := orderdomain.FinalizeRequest{
		OrderNumber:     attempt.OrderNumber,
		PaymentID:       attempt.PaymentID,
		Buyer:           attempt.Buyer,
		ShippingAddress: attempt.ShippingAddress,
		BillingAddress:  attempt.BillingAddress,
		Snapshot:        attempt.Snapshot,
	}
	handle := s.handle
	s.mu.Unlock()

	s.log.Info("payment succeeded, finalizing order",
		zap.String("order_number", msg.OrderNumber),
		zap.String("channel", string(msg.Channel)),
	)

	if _, err := s.orders.Finalize(context.Background(), finalizeReq); err != nil {
		// The charge succeeded; a bookkeeping failure is never shown to the
		// customer as a payment failure. Reconciliation picks it up.
		s.log.Error("order finalization failed, presenting success regardless",
			zap.String("order_number", msg.OrderNumber), zap.Error(err))
	}

	s.mu.Lock()
	if s.attempt == attempt {
		attempt.State = domain.StateSucceeded
	}
	s.mu.Unlock()

	s.presenter.PresentSuccess(handle, presentation.SuccessDetails{
		OrderNumber: finalizeReq.OrderNumber,
		PaymentID:   finalizeReq.PaymentID,
	})
}

// CheckStatus is the manual out-of-band recovery path: the message channel is
// best-effort, the gateway's status query is not.
func (s *Service) CheckStatus(ctx context.Context) error {
	s.mu.Lock()
	attempt := s.attempt
	if attempt == nil || !attempt.State.Active() {
		s.mu.Unlock()
		return domain.ErrNoActiveAttempt
	}
	orderNumber := attempt.OrderNumber
	s.mu.Unlock()

	status, err := s.gateway.QueryStatus(ctx, orderNumber)
	if err != nil {
		return err
	}

	switch status.Status {
	case gateway.StatusSuccess:
		s.handleResult(domain.ResultMessage{
			Channel:     domain.SourceStatusPoll,
			Success:     true,
			OrderNumber: orderNumber,
			PaymentID:   status.PaymentID,
		})
		return nil
	case gateway.StatusFailure:
		s.handleResult(domain.ResultMessage{
			Channel:      domain.SourceStatusPoll,
			Success:      false,
			OrderNumber:  orderNumber,
			ErrorCode:    status.ErrorCode,
			ErrorMessage: status.ErrorMessage,
		})
		return nil
	default:
		return domain.ErrStatusPending
	}
}

// Cancel handles explicit user cancellation. A durable success marker always
// wins: once the charge is confirmed, cancellation re-routes to the success
// path instead of discarding it.
func (s *Service) Cancel(ctx context.Context) (AttemptInfo, error) {
	s.mu.Lock()
	attempt := s.attempt
	if attempt == nil {
		s.mu.Unlock()
		return AttemptInfo{}, domain.ErrNoActiveAttempt
	}
	orderNumber := attempt.OrderNumber
	s.mu.Unlock()

	marker, err := s.orders.Marker(ctx, orderNumber)
	if err != nil {
		s.log.Warn("success marker lookup failed during cancellation",
			zap.String("order_number", orderNumber), zap.Error(err))
	}
	if marker != nil && marker.Success {
		s.log.Info("cancellation re-routed to confirmed success",
			zap.String("order_number", orderNumber))
		s.handleResult(domain.ResultMessage{
			Channel:     domain.SourceStatusPoll,
			Success:     true,
			OrderNumber: orderNumber,
			PaymentID:   marker.PaymentID,
		})
		return s.Attempt(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != attempt {
		return s.attemptInfoLocked(), nil
	}
	attempt.State = domain.StateCancelled
	s.cleanupLocked()
	s.log.Info("payment attempt cancelled", zap.String("order_number", orderNumber))
	return AttemptInfo{OrderNumber: orderNumber, State: domain.StateCancelled}, nil
}

// Acknowledge is the terminal view's primary action: the only path that
// releases the surface after a result has been presented. It returns the
// redirect target for the client.
func (s *Service) Acknowledge(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt := s.attempt
	if attempt == nil {
		return "", domain.ErrNoActiveAttempt
	}
	switch attempt.State {
	case domain.StateSucceeded, domain.StateFailed:
	default:
		return "", domain.ErrNoActiveAttempt
	}

	target := "/checkout?step=payment"
	if handle := s.handle; handle != nil {
		if view := handle.View(); view != nil {
			target = view.TargetPath
		}
	}
	if attempt.State == domain.StateSucceeded && attempt.ClientID != "" {
		// The draft has served its purpose once the order exists.
		_ = s.drafts.Delete(ctx, attempt.ClientID)
	}
	s.cleanupLocked()
	return target, nil
}

// Attempt returns the active attempt snapshot.
func (s *Service) Attempt() AttemptInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attemptInfoLocked()
}

func (s *Service) attemptInfoLocked() AttemptInfo {
	if s.attempt == nil {
		return AttemptInfo{State: domain.StateIdle}
	}
	info := AttemptInfo{OrderNumber: s.attempt.OrderNumber, State: s.attempt.State}
	if s.handle != nil && !s.handle.Closed() {
		info.SurfaceID = s.handle.ID()
	}
	return info
}

// Surface returns the active surface handle for rendering, or nil.
func (s *Service) Surface() *surface.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *Service) watchProgressLocked(orderNumber string) {
	sub, buffered, err := s.hub.Subscribe(orderNumber)
	if err != nil {
		return
	}
	s.progressSub = sub

	handleEnvelope := func(env domain.Envelope) {
		if !env.Recognized() {
			return
		}
		switch env.Type {
		case domain.MessageTypeFormDetected:
			s.log.Debug("gateway redirect form detected", zap.String("order_number", orderNumber))
		case domain.MessageTypeFormSubmitted:
			s.log.Debug("gateway redirect form submitted", zap.String("order_number", orderNumber))
			if handle := s.Surface(); handle != nil && handle.View() == nil {
				header := handle.Header()
				header.Title = "Waiting for your bank"
				handle.SetHeader(header)
			}
		case domain.MessageTypeCloseRequest:
			go func() {
				if _, err := s.Cancel(context.Background()); err != nil {
					s.log.Debug("close request ignored", zap.Error(err))
				}
			}()
		}
	}

	go func() {
		for _, env := range buffered {
			handleEnvelope(env)
		}
		for env := range sub.Events() {
			handleEnvelope(env)
		}
	}()
}

func (s *Service) saveDraft(ctx context.Context, req domain.SubmitRequest) {
	if s.drafts == nil || req.ClientID == "" {
		return
	}
	err := s.drafts.Save(ctx, domain.CheckoutDraft{
		ClientID:        req.ClientID,
		Buyer:           req.Buyer,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Snapshot:        req.Snapshot,
	})
	if err != nil {
		s.log.Debug("checkout draft save failed", zap.Error(err))
	}
}

// cleanupLocked releases everything the attempt owns: ladder timers, channel
// subscriptions, the surface, and the attempt-scoped sets. Leaking any of
// these across attempts is a defect.
func (s *Service) cleanupLocked() {
	if s.ladder != nil {
		s.ladder.Stop()
		s.ladder = nil
	}
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
	if s.progressSub != nil {
		s.progressSub.Close()
		s.progressSub = nil
	}
	if s.handle != nil {
		s.surfaces.Close(s.handle)
		s.handle = nil
	}
	s.dedup.Reset()
	s.attempt = nil
}
