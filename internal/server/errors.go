package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/payflow/internal/checkout/domain"
	"github.com/smallbiznis/payflow/internal/checkout/session"
	"github.com/smallbiznis/payflow/internal/gateway"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var vErr *session.ValidationFailure
	if errors.As(err, &vErr) && vErr != nil {
		payload := errorPayload{
			Type:    "validation_error",
			Message: "validation error",
		}
		for _, fe := range vErr.Fields {
			payload.Errors = append(payload.Errors, ValidationError{
				Field:   fe.Field,
				Code:    fe.Code,
				Message: "invalid value",
			})
		}
		return http.StatusBadRequest, payload
	}

	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "invalid request",
		}
	case errors.Is(err, checkoutdomain.ErrAttemptInProgress):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "a payment attempt is already in progress",
		}
	case errors.Is(err, checkoutdomain.ErrNoActiveAttempt),
		errors.Is(err, checkoutdomain.ErrUnknownOrder),
		errors.Is(err, ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, checkoutdomain.ErrStatusPending):
		return http.StatusAccepted, errorPayload{
			Type:    "pending",
			Message: "payment result is not available yet",
		}
	case errors.Is(err, checkoutdomain.ErrChallengeLoadFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "challenge_load_failed",
			Message: "the verification page could not be displayed",
			Code:    checkoutdomain.CodeChallengeLoadFailed,
		}
	case errors.Is(err, gateway.ErrInvalidCredentials),
		errors.Is(err, gateway.ErrNoChallenge):
		return http.StatusBadGateway, errorPayload{
			Type:    "initiation_failed",
			Message: "the payment could not be started",
			Code:    checkoutdomain.CodeInitiationFailed,
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger a stable (type, code) pair
// without the response-shaping concerns above.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
