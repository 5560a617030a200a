package gateway

import (
	"context"
	"time"

	"github.com/smallbiznis/payflow/internal/cache"
)

const statusCacheTTL = 3 * time.Second

// cachedService memoizes QueryStatus briefly so a user mashing the manual
// check-status action does not turn into a burst of provider calls. Terminal
// statuses are safe to cache; PENDING is cached too, for the same TTL, which
// only delays the next real query by seconds.
type cachedService struct {
	inner    Service
	statuses cache.Cache[string, StatusResponse]
}

func WithStatusCache(inner Service) Service {
	return &cachedService{
		inner:    inner,
		statuses: cache.NewTTLCache[string, StatusResponse](),
	}
}

func (s *cachedService) InitiatePayment(ctx context.Context, req InitiateRequest) (InitiateResponse, error) {
	return s.inner.InitiatePayment(ctx, req)
}

func (s *cachedService) QueryStatus(ctx context.Context, orderNumber string) (StatusResponse, error) {
	if cached, ok := s.statuses.Get(orderNumber); ok {
		return cached, nil
	}
	resp, err := s.inner.QueryStatus(ctx, orderNumber)
	if err != nil {
		return resp, err
	}
	s.statuses.Set(orderNumber, resp, statusCacheTTL)
	return resp, nil
}
