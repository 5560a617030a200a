package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/payflow/internal/checkout/domain"
	"github.com/smallbiznis/payflow/internal/config"
	"go.uber.org/zap"
)

// Status is the gateway's terminal/pending verdict for an order.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusPending Status = "PENDING"
)

var (
	ErrNoChallenge        = errors.New("gateway returned no challenge payload")
	ErrInvalidCredentials = errors.New("gateway rejected merchant credentials")
)

type InitiateRequest struct {
	OrderNumber     string
	Amount          int64
	Currency        string
	Buyer           domain.Buyer
	ShippingAddress domain.Address
	BillingAddress  domain.Address
	Items           []domain.CartItem
}

type InitiateResponse struct {
	PaymentID      string
	ConversationID string
	// ChallengeHTML is opaque markup to render in the challenge surface,
	// possibly base64-encoded.
	ChallengeHTML string
}

type StatusResponse struct {
	Status       Status
	PaymentID    string
	ErrorCode    string
	ErrorMessage string
}

// Service is the gateway contract the session depends on.
type Service interface {
	InitiatePayment(ctx context.Context, req InitiateRequest) (InitiateResponse, error)
	QueryStatus(ctx context.Context, orderNumber string) (StatusResponse, error)
}

// Client talks to the payment gateway's server-side API.
type Client struct {
	holder *config.GatewayConfigHolder
	client *http.Client
	log    *zap.Logger
}

type Params struct {
	Holder *config.GatewayConfigHolder
	Client *http.Client
	Log    *zap.Logger
}

func NewClient(p Params) *Client {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		holder: p.Holder,
		client: p.Client,
		log:    log.Named("gateway.client"),
	}
}

type initiatePayload struct {
	AppKey      string         `json:"app_key"`
	AppSecret   string         `json:"app_secret"`
	Invoice     string         `json:"invoice_id"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency_code"`
	Name        string         `json:"name"`
	Surname     string         `json:"surname"`
	Email       string         `json:"email"`
	Phone       string         `json:"phone"`
	BillAddress string         `json:"bill_address"`
	ShipAddress string         `json:"ship_address"`
	Items       []initiateItem `json:"items"`

	IntegrationCode string `json:"integration_code,omitempty"`
	TrackingNumber  string `json:"tracking_number,omitempty"`
}

type initiateItem struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

type gatewayResponse struct {
	StatusCode     int    `json:"status_code"`
	Status         string `json:"payment_status,omitempty"`
	PaymentID      string `json:"payment_id"`
	ConversationID string `json:"conversation_id"`
	Challenge      string `json:"challenge"`
	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
}

// InitiatePayment asks the gateway to open a 3-D Secure session. The merchant
// reference is tried under its guessed interpretation first and re-tried
// under the other one when the gateway rejects the credentials (see
// ClassifyReference).
func (c *Client) InitiatePayment(ctx context.Context, req InitiateRequest) (InitiateResponse, error) {
	cfg := c.holder.Get()
	kind := ClassifyReference(cfg.MerchantReference)

	resp, err := c.initiateAs(ctx, cfg, req, kind)
	if errors.Is(err, ErrInvalidCredentials) {
		c.log.Warn("merchant reference rejected, retrying under other interpretation",
			zap.String("guessed_kind", string(kind)))
		resp, err = c.initiateAs(ctx, cfg, req, kind.other())
	}
	return resp, err
}

func (c *Client) initiateAs(ctx context.Context, cfg config.GatewayConfig, req InitiateRequest, kind ReferenceKind) (InitiateResponse, error) {
	payload := initiatePayload{
		AppKey:      cfg.AppKey,
		AppSecret:   cfg.AppSecret,
		Invoice:     req.OrderNumber,
		Amount:      req.Amount,
		Currency:    strings.ToUpper(req.Currency),
		Name:        req.Buyer.Name,
		Surname:     req.Buyer.Surname,
		Email:       req.Buyer.Email,
		Phone:       req.Buyer.Phone,
		BillAddress: formatAddress(req.BillingAddress),
		ShipAddress: formatAddress(req.ShippingAddress),
	}
	for _, item := range req.Items {
		payload.Items = append(payload.Items, initiateItem{
			Name:     item.Name,
			Price:    item.UnitPrice,
			Quantity: item.Quantity,
		})
	}
	switch kind {
	case ReferenceIntegrationCode:
		payload.IntegrationCode = cfg.MerchantReference
	default:
		payload.TrackingNumber = cfg.MerchantReference
	}

	var parsed gatewayResponse
	if err := c.post(ctx, cfg, "/api/paySmart3D", payload, &parsed); err != nil {
		return InitiateResponse{}, err
	}
	if parsed.ErrorCode == "INVALID_CREDENTIALS" {
		return InitiateResponse{}, ErrInvalidCredentials
	}
	if parsed.ErrorCode != "" {
		return InitiateResponse{}, fmt.Errorf("gateway error %s: %s", parsed.ErrorCode, parsed.ErrorMessage)
	}
	if strings.TrimSpace(parsed.Challenge) == "" {
		return InitiateResponse{}, ErrNoChallenge
	}
	return InitiateResponse{
		PaymentID:      parsed.PaymentID,
		ConversationID: parsed.ConversationID,
		ChallengeHTML:  parsed.Challenge,
	}, nil
}

// QueryStatus asks the gateway for the attempt's current verdict. Used by the
// manual recovery path when no message ever arrives.
func (c *Client) QueryStatus(ctx context.Context, orderNumber string) (StatusResponse, error) {
	cfg := c.holder.Get()
	payload := map[string]string{
		"app_key":    cfg.AppKey,
		"app_secret": cfg.AppSecret,
		"invoice_id": orderNumber,
	}

	var parsed gatewayResponse
	if err := c.post(ctx, cfg, "/api/checkstatus", payload, &parsed); err != nil {
		return StatusResponse{}, err
	}

	out := StatusResponse{
		PaymentID:    parsed.PaymentID,
		ErrorCode:    parsed.ErrorCode,
		ErrorMessage: parsed.ErrorMessage,
	}
	switch strings.ToUpper(strings.TrimSpace(parsed.Status)) {
	case "COMPLETED", "SUCCESS":
		out.Status = StatusSuccess
	case "FAILED", "FAILURE":
		out.Status = StatusFailure
	default:
		out.Status = StatusPending
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, cfg config.GatewayConfig, path string, payload any, out *gatewayResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.client
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrInvalidCredentials
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("gateway unavailable: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("malformed gateway response: %w", err)
	}
	return nil
}

func formatAddress(addr domain.Address) string {
	parts := []string{addr.Line1}
	if addr.Line2 != "" {
		parts = append(parts, addr.Line2)
	}
	parts = append(parts, addr.City, addr.PostalCode, addr.Country)
	return strings.Join(parts, ", ")
}
