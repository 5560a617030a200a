package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/gateway"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/payflow/internal/order/domain"
	"github.com/smallbiznis/payflow/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler dependencies are incomplete")

const reconcileLockKey = "payflow:reconcile:lock"

// Locker serializes sweeps across replicas. *ratelimit.Locker satisfies it;
// without one every replica sweeps, which is safe but noisy.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Repo    orderdomain.Repository
	Gateway gateway.Service
	GenID   *snowflake.Node
	Clock   clock.Clock

	Locker     *ratelimit.Locker   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Config     Config              `optional:"true"`
}

// Scheduler runs the reconciliation sweep: success markers whose order row
// never landed are re-verified against the gateway and written back as
// pending_reconciliation orders so operations can pick them up.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	repo       orderdomain.Repository
	gateway    gateway.Service
	genID      *snowflake.Node
	clock      clock.Clock
	locker     Locker
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Repo == nil || p.Gateway == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:        p.Log.Named("scheduler.reconcile"),
		cfg:        p.Config.withDefaults(),
		repo:       p.Repo,
		gateway:    p.Gateway,
		genID:      p.GenID,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
	if p.Locker != nil {
		s.locker = p.Locker
	}
	return s, nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Warn("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single sweep. With a Locker present only one replica
// sweeps per interval; the rest skip silently.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, reconcileLockKey, s.cfg.LockTTL)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		defer func() {
			if err := s.locker.Release(ctx, reconcileLockKey, token); err != nil {
				s.log.Debug("reconcile lock release failed", zap.Error(err))
			}
		}()
	}

	cutoff := s.clock.Now().Add(-s.cfg.MarkerAge)
	markers, err := s.repo.ListUnreconciledMarkers(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, marker := range markers {
		if err := s.reconcile(ctx, marker); err != nil {
			s.log.Warn("marker reconciliation failed",
				zap.String("order_number", marker.OrderNumber), zap.Error(err))
		}
	}
	return nil
}

func (s *Scheduler) reconcile(ctx context.Context, marker orderdomain.SuccessMarker) error {
	status, err := s.gateway.QueryStatus(ctx, marker.OrderNumber)
	if err != nil {
		return err
	}
	if status.Status != gateway.StatusSuccess {
		// The marker said success but the gateway disagrees now. Keep the
		// marker and surface the conflict; never silently discard it.
		s.log.Error("marker conflicts with gateway status",
			zap.String("order_number", marker.OrderNumber),
			zap.String("gateway_status", string(status.Status)),
		)
		return nil
	}

	paymentID := marker.PaymentID
	if paymentID == "" {
		paymentID = status.PaymentID
	}

	order := &orderdomain.Order{
		ID:            s.genID.Generate(),
		OrderNumber:   marker.OrderNumber,
		Status:        orderdomain.StatusPendingReconciliation,
		PaymentStatus: orderdomain.PaymentStatusPaid,
		PaymentID:     paymentID,
		CreatedAt:     s.clock.Now().UTC(),
	}
	inserted, err := s.repo.Insert(ctx, order)
	if err != nil {
		return err
	}
	if inserted {
		// Cart details were lost with the failed finalization; the row carries
		// the payment identity so operations can complete it from the gateway
		// records.
		s.log.Warn("recovered orphaned charge into pending_reconciliation order",
			zap.String("order_number", marker.OrderNumber),
			zap.String("payment_id", paymentID),
		)
		s.obsMetrics.RecordFinalization(ctx)
	}
	return nil
}
