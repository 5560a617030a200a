package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/payflow/internal/checkout/domain"
)

func (s *Server) SubmitCheckout(c *gin.Context) {
	if s.limiter != nil && !s.limiter.AllowSubmit(c.Request.Context(), c.ClientIP()) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": gin.H{"type": "rate_limited", "message": "too many checkout attempts"},
		})
		return
	}

	var req checkoutdomain.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	info, err := s.sessions.Submit(c.Request.Context(), req)
	if info.OrderNumber != "" {
		c.Set("order_number", info.OrderNumber)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, info)
}

func (s *Server) GetCheckout(c *gin.Context) {
	info := s.sessions.Attempt()
	if info.OrderNumber != "" {
		c.Set("order_number", info.OrderNumber)
	}
	c.JSON(http.StatusOK, info)
}

// GetSurface returns the renderable surface state: the header chrome, the
// delivered challenge document reference, and the terminal view once one has
// been presented.
func (s *Server) GetSurface(c *gin.Context) {
	handle := s.sessions.Surface()
	if handle == nil || handle.Closed() {
		AbortWithError(c, ErrNotFound)
		return
	}

	resp := gin.H{
		"surface_id": handle.ID(),
		"header":     handle.Header(),
	}
	if doc, ok := handle.Document(); ok {
		resp["document"] = doc
	}
	if view := handle.View(); view != nil {
		resp["view"] = view
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) CheckStatus(c *gin.Context) {
	orderNumber, ok := s.matchActiveOrder(c)
	if !ok {
		return
	}
	c.Set("order_number", orderNumber)

	if err := s.sessions.CheckStatus(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sessions.Attempt())
}

func (s *Server) CancelCheckout(c *gin.Context) {
	orderNumber, ok := s.matchActiveOrder(c)
	if !ok {
		return
	}
	c.Set("order_number", orderNumber)

	info, err := s.sessions.Cancel(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) AcknowledgeResult(c *gin.Context) {
	orderNumber, ok := s.matchActiveOrder(c)
	if !ok {
		return
	}
	c.Set("order_number", orderNumber)

	target, err := s.sessions.Acknowledge(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"redirect": target})
}

// matchActiveOrder rejects operations addressed to anything but the single
// active attempt.
func (s *Server) matchActiveOrder(c *gin.Context) (string, bool) {
	orderNumber := strings.TrimSpace(c.Param("orderNumber"))
	info := s.sessions.Attempt()
	if orderNumber == "" || info.OrderNumber != orderNumber {
		AbortWithError(c, checkoutdomain.ErrUnknownOrder)
		return "", false
	}
	return orderNumber, true
}

func (s *Server) GetDraft(c *gin.Context) {
	clientID := strings.TrimSpace(c.Param("clientId"))
	if clientID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	found, err := s.drafts.Get(c.Request.Context(), clientID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if found == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (s *Server) SaveDraft(c *gin.Context) {
	clientID := strings.TrimSpace(c.Param("clientId"))
	if clientID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var body checkoutdomain.CheckoutDraft
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	body.ClientID = clientID

	if err := s.drafts.Save(c.Request.Context(), body); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

// PaymentCallback ingests envelopes posted by the challenge surface and its
// injected script. Unrecognized or disallowed payloads are dropped without
// leaking whether anything listened; the response is 202 either way.
func (s *Server) PaymentCallback(c *gin.Context) {
	if s.limiter != nil && !s.limiter.AllowCallback(c.Request.Context(), c.ClientIP()) {
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	var env checkoutdomain.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
		return
	}
	if env.OrderNumber != "" {
		c.Set("order_number", env.OrderNumber)
	}

	s.direct.Ingest(c.GetHeader("Origin"), env)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// ServeSurfaceBlob serves challenge documents delivered by the object-URI
// strategy.
func (s *Server) ServeSurfaceBlob(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	html, ok := s.blobs.Get(key)
	if !ok {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}
