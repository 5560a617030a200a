package gateway

import "strings"

// ReferenceKind is the guessed interpretation of a merchant reference code.
type ReferenceKind string

const (
	ReferenceIntegrationCode ReferenceKind = "integration_code"
	ReferenceTrackingNumber  ReferenceKind = "tracking_number"
)

func (k ReferenceKind) other() ReferenceKind {
	if k == ReferenceIntegrationCode {
		return ReferenceTrackingNumber
	}
	return ReferenceIntegrationCode
}

// ClassifyReference guesses whether a merchant reference is a gateway
// integration code or a tracking number. A 13-16 character code is
// indistinguishable between the two, so the guess is best-effort only and the
// caller falls back to the other interpretation on rejection.
func ClassifyReference(code string) ReferenceKind {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) >= 13 && len(trimmed) <= 16 {
		return ReferenceIntegrationCode
	}
	return ReferenceTrackingNumber
}
