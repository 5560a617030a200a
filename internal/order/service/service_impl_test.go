package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"

	checkoutdomain "github.com/smallbiznis/payflow/internal/checkout/domain"
	orderdomain "github.com/smallbiznis/payflow/internal/order/domain"
	"github.com/smallbiznis/payflow/internal/order/repository"
)

var testDBSeq int

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:ordersvc%d?mode=memory&cache=shared", testDBSeq)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, gdb.AutoMigrate(&orderdomain.Order{}, &orderdomain.SuccessMarker{}))
	return gdb
}

func newTestService(t *testing.T, repo orderdomain.Repository) *Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)
	return NewService(Params{
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repo,
	})
}

func finalizeRequest(orderNumber string) orderdomain.FinalizeRequest {
	return orderdomain.FinalizeRequest{
		OrderNumber: orderNumber,
		PaymentID:   "PAY-" + orderNumber,
		Buyer:       checkoutdomain.Buyer{Name: "Ada", Surname: "Lovelace", Email: "ada@example.com"},
		ShippingAddress: checkoutdomain.Address{
			Line1: "1 Infinite Loop", City: "Istanbul", PostalCode: "34000", Country: "TR",
		},
		Snapshot: checkoutdomain.CartSnapshot{
			Currency: "TRY",
			Items: []checkoutdomain.CartItem{
				{ProductID: "p1", Name: "Widget", Quantity: 2, UnitPrice: 1500},
			},
			ShippingTotal: 500,
			CapturedAt:    time.Now().UTC(),
		},
	}
}

func TestFinalizeCreatesOrder(t *testing.T) {
	gdb := setupTestDB(t)
	svc := newTestService(t, repository.Provide(gdb))
	ctx := context.Background()

	order, err := svc.Finalize(ctx, finalizeRequest("SIP-1"))
	assert.NoError(t, err)
	assert.NotNil(t, order)
	assert.Equal(t, "SIP-1", order.OrderNumber)
	assert.Equal(t, orderdomain.StatusCreated, order.Status)
	assert.Equal(t, orderdomain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, int64(3000), order.ItemsTotal)
	assert.Equal(t, int64(3500), order.GrandTotal)

	// The durable success marker lands alongside the order.
	marker, err := svc.Marker(ctx, "SIP-1")
	assert.NoError(t, err)
	assert.NotNil(t, marker)
	assert.True(t, marker.Success)
	assert.Equal(t, "PAY-SIP-1", marker.PaymentID)
}

func TestFinalizeIdempotentOnReplay(t *testing.T) {
	gdb := setupTestDB(t)
	svc := newTestService(t, repository.Provide(gdb))
	ctx := context.Background()

	first, err := svc.Finalize(ctx, finalizeRequest("SIP-2"))
	assert.NoError(t, err)
	assert.NotNil(t, first)

	// A replayed result hits the unique constraint and hands back the
	// already-persisted order instead of creating a second one.
	second, err := svc.Finalize(ctx, finalizeRequest("SIP-2"))
	assert.NoError(t, err)
	assert.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	assert.NoError(t, gdb.Model(&orderdomain.Order{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

// insertFailingRepo simulates a database outage on the order insert while
// letting marker writes through.
type insertFailingRepo struct {
	orderdomain.Repository
	markers []*orderdomain.SuccessMarker
}

func (r *insertFailingRepo) Insert(context.Context, *orderdomain.Order) (bool, error) {
	return false, errors.New("connection reset")
}

func (r *insertFailingRepo) SaveMarker(_ context.Context, marker *orderdomain.SuccessMarker) error {
	r.markers = append(r.markers, marker)
	return nil
}

func TestFinalizePersistenceFailureStillWritesMarker(t *testing.T) {
	repo := &insertFailingRepo{}
	svc := newTestService(t, repo)

	order, err := svc.Finalize(context.Background(), finalizeRequest("SIP-3"))

	// The bookkeeping failure is reported to the caller, but the marker is
	// written regardless so a reload and the reconciliation sweep both still
	// see the confirmed charge.
	assert.Error(t, err)
	assert.Nil(t, order)
	assert.Len(t, repo.markers, 1)
	assert.Equal(t, "SIP-3", repo.markers[0].OrderNumber)
	assert.True(t, repo.markers[0].Success)
}

// blockingRepo parks Insert until released so two Finalize calls can be made
// to overlap deterministically.
type blockingRepo struct {
	orderdomain.Repository
	entered chan struct{}
	release chan struct{}
}

func (r *blockingRepo) Insert(ctx context.Context, order *orderdomain.Order) (bool, error) {
	close(r.entered)
	<-r.release
	return r.Repository.Insert(ctx, order)
}

func TestFinalizeInFlightGuard(t *testing.T) {
	gdb := setupTestDB(t)
	repo := &blockingRepo{
		Repository: repository.Provide(gdb),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	svc := newTestService(t, repo)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		order, err := svc.Finalize(ctx, finalizeRequest("SIP-4"))
		assert.NoError(t, err)
		assert.NotNil(t, order)
	}()

	<-repo.entered

	// While the first call holds the order number, a concurrent duplicate is
	// deflected without touching the database.
	order, err := svc.Finalize(ctx, finalizeRequest("SIP-4"))
	assert.NoError(t, err)
	assert.Nil(t, order)

	close(repo.release)
	<-done
}

func TestListUnreconciledMarkers(t *testing.T) {
	gdb := setupTestDB(t)
	repo := repository.Provide(gdb)
	svc := newTestService(t, repo)
	ctx := context.Background()

	// SIP-5 finalized normally: marker plus order row.
	_, err := svc.Finalize(ctx, finalizeRequest("SIP-5"))
	assert.NoError(t, err)

	// SIP-6's order never landed; only the marker exists.
	assert.NoError(t, repo.SaveMarker(ctx, &orderdomain.SuccessMarker{
		OrderNumber: "SIP-6",
		PaymentID:   "PAY-SIP-6",
		Success:     true,
		CreatedAt:   time.Now().UTC().Add(-10 * time.Minute),
	}))

	markers, err := repo.ListUnreconciledMarkers(ctx, time.Now().UTC().Add(-5*time.Minute), 10)
	assert.NoError(t, err)
	assert.Len(t, markers, 1)
	assert.Equal(t, "SIP-6", markers[0].OrderNumber)

	// A cutoff older than the orphan excludes it.
	markers, err = repo.ListUnreconciledMarkers(ctx, time.Now().UTC().Add(-time.Hour), 10)
	assert.NoError(t, err)
	assert.Empty(t, markers)
}
