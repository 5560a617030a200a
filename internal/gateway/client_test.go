package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/smallbiznis/payflow/internal/checkout/domain"
	"github.com/smallbiznis/payflow/internal/config"
)

func newTestClient(serverURL, merchantReference string) *Client {
	holder := config.NewStaticGatewayConfigHolder(config.GatewayConfig{
		BaseURL:           serverURL,
		AppKey:            "app-key",
		AppSecret:         "app-secret",
		MerchantReference: merchantReference,
		TimeoutSeconds:    5,
	})
	return NewClient(Params{Holder: holder, Log: zap.NewNop()})
}

func initiateRequest() InitiateRequest {
	return InitiateRequest{
		OrderNumber: "SIP-100",
		Amount:      2500,
		Currency:    "try",
		Buyer:       domain.Buyer{Name: "Ada", Surname: "Lovelace", Email: "ada@example.com", Phone: "+905551112233"},
		Items: []domain.CartItem{
			{Name: "Widget", UnitPrice: 2500, Quantity: 1},
		},
	}
}

func TestInitiatePaymentSuccess(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/paySmart3D", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"payment_id":      "PAY-1",
			"conversation_id": "conv-1",
			"challenge":       "<html>challenge</html>",
		})
	}))
	defer server.Close()

	// A 14-character reference is guessed to be an integration code.
	c := newTestClient(server.URL, "12345678901234")

	resp, err := c.InitiatePayment(context.Background(), initiateRequest())
	assert.NoError(t, err)
	assert.Equal(t, "PAY-1", resp.PaymentID)
	assert.Equal(t, "conv-1", resp.ConversationID)
	assert.Equal(t, "<html>challenge</html>", resp.ChallengeHTML)

	assert.Equal(t, "SIP-100", got["invoice_id"])
	assert.Equal(t, "TRY", got["currency_code"])
	assert.Equal(t, "12345678901234", got["integration_code"])
	assert.NotContains(t, got, "tracking_number")
}

func TestInitiatePaymentRetriesOtherReferenceKind(t *testing.T) {
	var payloads []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		payloads = append(payloads, body)

		if _, ok := body["integration_code"]; ok {
			json.NewEncoder(w).Encode(map[string]any{"error_code": "INVALID_CREDENTIALS"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"payment_id": "PAY-2",
			"challenge":  "<html>ok</html>",
		})
	}))
	defer server.Close()

	c := newTestClient(server.URL, "12345678901234")

	resp, err := c.InitiatePayment(context.Background(), initiateRequest())
	assert.NoError(t, err)
	assert.Equal(t, "PAY-2", resp.PaymentID)

	// First try under the guessed kind, then under the other one.
	assert.Len(t, payloads, 2)
	assert.Contains(t, payloads[0], "integration_code")
	assert.Contains(t, payloads[1], "tracking_number")
}

func TestInitiatePaymentNoChallenge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"payment_id": "PAY-3", "challenge": "  "})
	}))
	defer server.Close()

	c := newTestClient(server.URL, "short-ref")
	_, err := c.InitiatePayment(context.Background(), initiateRequest())
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestInitiatePaymentGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error_code":    "INSUFFICIENT_FUNDS",
			"error_message": "not enough balance",
		})
	}))
	defer server.Close()

	c := newTestClient(server.URL, "short-ref")
	_, err := c.InitiatePayment(context.Background(), initiateRequest())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "INSUFFICIENT_FUNDS")
}

func TestInitiatePaymentUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(server.URL, "short-ref")
	_, err := c.InitiatePayment(context.Background(), initiateRequest())
	// Both interpretations are rejected; the credential error surfaces.
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestQueryStatusMapping(t *testing.T) {
	cases := []struct {
		gatewayStatus string
		want          Status
	}{
		{"COMPLETED", StatusSuccess},
		{"success", StatusSuccess},
		{"FAILED", StatusFailure},
		{"Failure", StatusFailure},
		{"IN_PROGRESS", StatusPending},
		{"", StatusPending},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/checkstatus", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]any{
				"payment_status": tc.gatewayStatus,
				"payment_id":     "PAY-9",
			})
		}))

		c := newTestClient(server.URL, "short-ref")
		resp, err := c.QueryStatus(context.Background(), "SIP-200")
		assert.NoError(t, err, tc.gatewayStatus)
		assert.Equal(t, tc.want, resp.Status, tc.gatewayStatus)
		assert.Equal(t, "PAY-9", resp.PaymentID)

		server.Close()
	}
}

func TestQueryStatusGatewayUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(server.URL, "short-ref")
	_, err := c.QueryStatus(context.Background(), "SIP-201")
	assert.Error(t, err)
}

func TestClassifyReference(t *testing.T) {
	// 13-16 characters look like an integration code; anything else is taken
	// for a tracking number.
	assert.Equal(t, ReferenceIntegrationCode, ClassifyReference("1234567890123"))
	assert.Equal(t, ReferenceIntegrationCode, ClassifyReference("1234567890123456"))
	assert.Equal(t, ReferenceIntegrationCode, ClassifyReference("  1234567890123  "))
	assert.Equal(t, ReferenceTrackingNumber, ClassifyReference("123456789012"))
	assert.Equal(t, ReferenceTrackingNumber, ClassifyReference("12345678901234567"))
	assert.Equal(t, ReferenceTrackingNumber, ClassifyReference(""))
}

// countingService records how many real status queries get through the cache.
type countingService struct {
	statusCalls int
	resp        StatusResponse
}

func (s *countingService) InitiatePayment(context.Context, InitiateRequest) (InitiateResponse, error) {
	return InitiateResponse{}, nil
}

func (s *countingService) QueryStatus(context.Context, string) (StatusResponse, error) {
	s.statusCalls++
	return s.resp, nil
}

func TestStatusCacheMemoizes(t *testing.T) {
	inner := &countingService{resp: StatusResponse{Status: StatusSuccess, PaymentID: "PAY-5"}}
	cached := WithStatusCache(inner)

	for i := 0; i < 3; i++ {
		resp, err := cached.QueryStatus(context.Background(), "SIP-300")
		assert.NoError(t, err)
		assert.Equal(t, StatusSuccess, resp.Status)
	}
	assert.Equal(t, 1, inner.statusCalls)

	// Distinct orders are cached separately.
	_, err := cached.QueryStatus(context.Background(), "SIP-301")
	assert.NoError(t, err)
	assert.Equal(t, 2, inner.statusCalls)
}
