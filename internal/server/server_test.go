package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/payflow/internal/checkout/channel"
	"github.com/smallbiznis/payflow/internal/checkout/continuation"
	checkoutdomain "github.com/smallbiznis/payflow/internal/checkout/domain"
	"github.com/smallbiznis/payflow/internal/checkout/draft"
	"github.com/smallbiznis/payflow/internal/checkout/presentation"
	"github.com/smallbiznis/payflow/internal/checkout/session"
	"github.com/smallbiznis/payflow/internal/checkout/surface"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/gateway"
	orderdomain "github.com/smallbiznis/payflow/internal/order/domain"
	orderrepo "github.com/smallbiznis/payflow/internal/order/repository"
	ordersvc "github.com/smallbiznis/payflow/internal/order/service"
)

const testOrigin = "https://shop.example.com"

type stubGateway struct {
	challenge string
	status    gateway.StatusResponse
}

func (g *stubGateway) InitiatePayment(_ context.Context, req gateway.InitiateRequest) (gateway.InitiateResponse, error) {
	return gateway.InitiateResponse{
		PaymentID:     "PAY-1",
		ChallengeHTML: g.challenge,
	}, nil
}

func (g *stubGateway) QueryStatus(context.Context, string) (gateway.StatusResponse, error) {
	return g.status, nil
}

var serverDBSeq int

func newTestServer(t *testing.T) (*Server, *stubGateway) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	serverDBSeq++
	gdb, err := gorm.Open(sqlite.Open(
		fmt.Sprintf("file:server%d?mode=memory&cache=shared", serverDBSeq)), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, gdb.AutoMigrate(&orderdomain.Order{}, &orderdomain.SuccessMarker{}))

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	repo := orderrepo.Provide(gdb)
	orders := ordersvc.NewService(ordersvc.Params{Log: zap.NewNop(), GenID: node, Repo: repo})

	hub := channel.NewHub()
	direct := channel.NewDirectChannel(hub, channel.NewOriginAllowList(testOrigin))
	mux := channel.NewMux(zap.NewNop(), nil, direct)
	blobs := surface.NewBlobStore(0)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	drafts := draft.NewMemoryStore()

	gw := &stubGateway{challenge: "<html><head></head><body>challenge</body></html>"}

	sessions := session.NewService(session.Params{
		Log:     zap.NewNop(),
		GenID:   node,
		Gateway: gw,
		Orders:  orders,
		Surfaces: surface.NewManager(surface.ManagerParams{
			HostOrigin: testOrigin,
			Strategies: surface.DefaultStrategies(blobs),
			Log:        zap.NewNop(),
		}),
		Hub:       hub,
		Mux:       mux,
		Driver:    continuation.NewDriver(continuation.DriverParams{Hub: hub, Clock: clk, Log: zap.NewNop()}),
		Presenter: presentation.NewPresenter(zap.NewNop()),
		Drafts:    drafts,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := NewServer(ServerParams{
		Gin:      engine,
		Cfg:      config.Config{PublicURL: testOrigin},
		Sessions: sessions,
		Direct:   direct,
		Blobs:    blobs,
		Drafts:   drafts,
	})
	return srv, gw
}

func doJSON(srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	return w
}

func submitBody() checkoutdomain.SubmitRequest {
	return checkoutdomain.SubmitRequest{
		ClientID: "client-1",
		Buyer:    checkoutdomain.Buyer{Name: "Ada", Surname: "Lovelace", Email: "ada@example.com"},
		ShippingAddress: checkoutdomain.Address{
			Line1: "1 Infinite Loop", City: "Istanbul", PostalCode: "34000", Country: "TR",
		},
		Snapshot: checkoutdomain.CartSnapshot{
			Currency: "TRY",
			Items: []checkoutdomain.CartItem{
				{ProductID: "p1", Name: "Widget", Quantity: 1, UnitPrice: 2500},
			},
			ShippingTotal: 500,
			CapturedAt:    time.Now().UTC(),
		},
	}
}

func TestSubmitCheckoutValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(srv, http.MethodPost, "/api/v1/checkout", checkoutdomain.SubmitRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp errorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Error.Type)
	assert.NotEmpty(t, resp.Error.Errors)
}

func TestCheckoutLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	// 1. Submit opens the attempt and the challenge surface.
	w := doJSON(srv, http.MethodPost, "/api/v1/checkout", submitBody(), nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	var info session.AttemptInfo
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Contains(t, info.OrderNumber, "SIP-")
	assert.Equal(t, checkoutdomain.StateAwaitingChallenge, info.State)

	// 2. A second submission is rejected while the attempt is live.
	w = doJSON(srv, http.MethodPost, "/api/v1/checkout", submitBody(), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// 3. The surface exposes its delivered document.
	w = doJSON(srv, http.MethodGet, "/api/v1/checkout/surface", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var surfaceResp map[string]json.RawMessage
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &surfaceResp))
	assert.Contains(t, surfaceResp, "header")
	assert.Contains(t, surfaceResp, "document")

	// 4. The challenge surface posts the result back through the callback.
	success := true
	env := checkoutdomain.Envelope{
		Type:        checkoutdomain.MessageTypeResult,
		Source:      checkoutdomain.SourceTag,
		OrderNumber: info.OrderNumber,
		Success:     &success,
		PaymentID:   "PAY-1",
	}
	w = doJSON(srv, http.MethodPost, "/api/v1/payments/callback", env, map[string]string{"Origin": testOrigin})
	assert.Equal(t, http.StatusAccepted, w.Code)

	assert.Eventually(t, func() bool {
		w := doJSON(srv, http.MethodGet, "/api/v1/checkout", nil, nil)
		var current session.AttemptInfo
		_ = json.Unmarshal(w.Body.Bytes(), &current)
		return current.State == checkoutdomain.StateSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	// 5. Acknowledging against a foreign order number is refused.
	w = doJSON(srv, http.MethodPost, "/api/v1/checkout/SIP-unknown/ack", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 6. Acknowledging the real one releases the surface.
	w = doJSON(srv, http.MethodPost, "/api/v1/checkout/"+info.OrderNumber+"/ack", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var ack map[string]string
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, "/orders/"+info.OrderNumber+"/tracking", ack["redirect"])

	w = doJSON(srv, http.MethodGet, "/api/v1/checkout/surface", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCallbackDropsForeignOrigin(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(srv, http.MethodPost, "/api/v1/checkout", submitBody(), nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	var info session.AttemptInfo
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))

	success := true
	env := checkoutdomain.Envelope{
		Type:        checkoutdomain.MessageTypeResult,
		Source:      checkoutdomain.SourceTag,
		OrderNumber: info.OrderNumber,
		Success:     &success,
	}

	// The response never reveals whether the message was accepted.
	w = doJSON(srv, http.MethodPost, "/api/v1/payments/callback", env, map[string]string{"Origin": "https://evil.example.net"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	time.Sleep(50 * time.Millisecond)
	w = doJSON(srv, http.MethodGet, "/api/v1/checkout", nil, nil)
	var current session.AttemptInfo
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &current))
	assert.Equal(t, checkoutdomain.StateAwaitingChallenge, current.State)
}

func TestCheckStatusPendingOverHTTP(t *testing.T) {
	srv, gw := newTestServer(t)
	gw.status = gateway.StatusResponse{Status: gateway.StatusPending}

	w := doJSON(srv, http.MethodPost, "/api/v1/checkout", submitBody(), nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	var info session.AttemptInfo
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))

	w = doJSON(srv, http.MethodPost, "/api/v1/checkout/"+info.OrderNumber+"/status", nil, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp errorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Error.Type)
}

func TestDraftEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(srv, http.MethodGet, "/api/v1/checkout/draft/client-9", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	body := checkoutdomain.CheckoutDraft{
		Buyer: checkoutdomain.Buyer{Name: "Ada", Email: "ada@example.com"},
	}
	w = doJSON(srv, http.MethodPut, "/api/v1/checkout/draft/client-9", body, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(srv, http.MethodGet, "/api/v1/checkout/draft/client-9", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var saved checkoutdomain.CheckoutDraft
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &saved))
	assert.Equal(t, "client-9", saved.ClientID)
	assert.Equal(t, "Ada", saved.Buyer.Name)
}

func TestServeSurfaceBlob(t *testing.T) {
	srv, _ := newTestServer(t)

	// The object-URI strategy is first in the production ladder, so the
	// delivered document is fetchable by its blob reference.
	w := doJSON(srv, http.MethodPost, "/api/v1/checkout", submitBody(), nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(srv, http.MethodGet, "/api/v1/checkout/surface", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var surfaceResp struct {
		Document surface.Document `json:"document"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &surfaceResp))
	assert.Equal(t, "object-uri", surfaceResp.Document.Strategy)

	w = doJSON(srv, http.MethodGet, surfaceResp.Document.ContentRef, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "challenge")

	w = doJSON(srv, http.MethodGet, "/surface/blob/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
