package domain

import "errors"

var (
	ErrAttemptInProgress   = errors.New("payment attempt already in progress")
	ErrNoActiveAttempt     = errors.New("no active payment attempt")
	ErrUnknownOrder        = errors.New("unknown order number")
	ErrChallengeLoadFailed = errors.New("challenge content could not be delivered")
	ErrSurfaceClosed       = errors.New("challenge surface is closed")
	ErrStatusPending       = errors.New("gateway status still pending")
)

// Machine-readable error codes surfaced in terminal failure views.
const (
	CodeChallengeLoadFailed = "CHALLENGE_LOAD_FAILED"
	CodeInitiationFailed    = "INITIATION_FAILED"
	CodePaymentFailed       = "PAYMENT_FAILED"
)
