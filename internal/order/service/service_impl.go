package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/payflow/internal/order/domain"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       orderdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	genID      *snowflake.Node
	repo       orderdomain.Repository
	obsMetrics *obsmetrics.Metrics

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewService(p Params) *Service {
	return &Service{
		log:        p.Log.Named("order.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
		inFlight:   make(map[string]struct{}),
	}
}

// Finalize persists the order for a confirmed charge, exactly once per order
// number. Near-simultaneous calls from independent result channels are
// deflected by the in-flight guard; replays after completion are deflected by
// the unique order-number constraint.
//
// A persistence failure is returned for logging and reconciliation but must
// never be shown to the customer as a payment failure: the charge already
// succeeded.
func (s *Service) Finalize(ctx context.Context, req orderdomain.FinalizeRequest) (*orderdomain.Order, error) {
	s.mu.Lock()
	if _, busy := s.inFlight[req.OrderNumber]; busy {
		s.mu.Unlock()
		return nil, nil
	}
	s.inFlight[req.OrderNumber] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, req.OrderNumber)
		s.mu.Unlock()
	}()

	order := s.buildOrder(req)

	inserted, err := s.repo.Insert(ctx, order)
	if err != nil {
		s.log.Error("order persistence failed after successful charge",
			zap.String("order_number", req.OrderNumber),
			zap.String("payment_id", req.PaymentID),
			zap.Error(err),
		)
		s.obsMetrics.RecordFinalizationFailure(ctx, "persistence_error")
		// The marker is still written so reconciliation can re-attempt
		// creation and a reload still resolves to success.
		s.writeMarker(ctx, req)
		return nil, err
	}
	if !inserted {
		existing, loadErr := s.repo.GetByOrderNumber(ctx, req.OrderNumber)
		if loadErr == nil && existing != nil {
			order = existing
		}
	}

	s.writeMarker(ctx, req)
	if inserted {
		s.obsMetrics.RecordFinalization(ctx)
	}
	return order, nil
}

func (s *Service) Marker(ctx context.Context, orderNumber string) (*orderdomain.SuccessMarker, error) {
	return s.repo.GetMarker(ctx, orderNumber)
}

func (s *Service) writeMarker(ctx context.Context, req orderdomain.FinalizeRequest) {
	marker := &orderdomain.SuccessMarker{
		OrderNumber: req.OrderNumber,
		PaymentID:   req.PaymentID,
		Success:     true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.SaveMarker(ctx, marker); err != nil {
		s.log.Error("success marker write failed",
			zap.String("order_number", req.OrderNumber),
			zap.Error(err),
		)
	}
}

func (s *Service) buildOrder(req orderdomain.FinalizeRequest) *orderdomain.Order {
	buyer, _ := json.Marshal(req.Buyer)
	shipping, _ := json.Marshal(req.ShippingAddress)
	billing, _ := json.Marshal(req.BillingAddress)
	items, _ := json.Marshal(req.Snapshot.Items)

	return &orderdomain.Order{
		ID:              s.genID.Generate(),
		OrderNumber:     req.OrderNumber,
		Status:          orderdomain.StatusCreated,
		PaymentStatus:   orderdomain.PaymentStatusPaid,
		PaymentID:       req.PaymentID,
		Currency:        req.Snapshot.Currency,
		ItemsTotal:      req.Snapshot.ItemsTotal(),
		ShippingTotal:   req.Snapshot.ShippingTotal,
		GrandTotal:      req.Snapshot.GrandTotal(),
		Buyer:           datatypes.JSON(buyer),
		ShippingAddress: datatypes.JSON(shipping),
		BillingAddress:  datatypes.JSON(billing),
		Items:           datatypes.JSON(items),
		CreatedAt:       time.Now().UTC(),
	}
}
