package domain

import (
	"encoding/json"
	"strings"
)

// ChannelSource identifies which transport delivered a result. Downstream
// logic never branches on it; it exists for logging and metrics.
type ChannelSource string

const (
	SourceDirect     ChannelSource = "direct-message"
	SourcePersisted  ChannelSource = "persisted-signal"
	SourceBroadcast  ChannelSource = "broadcast"
	SourcePolledSlot ChannelSource = "polled-name-channel"
	SourceStatusPoll ChannelSource = "status-poll"
)

// Envelope message types. Receivers must ignore envelopes whose type they do
// not recognize so the wire contract stays forward-compatible.
const (
	MessageTypeResult        = "payment_result"
	MessageTypeFormDetected  = "form_detected"
	MessageTypeFormSubmitted = "form_submitted"
	MessageTypeCloseRequest  = "close_request"
)

// SourceTag marks envelopes emitted by the challenge surface or its injected
// continuation script. Anything without it is discarded.
const SourceTag = "payflow-checkout"

// Envelope is the cross-context wire format shared by every channel.
type Envelope struct {
	Type   string `json:"type"`
	Source string `json:"source"`

	OrderNumber    string `json:"order_number,omitempty"`
	Success        *bool  `json:"success,omitempty"`
	PaymentID      string `json:"payment_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// Recognized reports whether the envelope carries our source tag.
func (e Envelope) Recognized() bool {
	return strings.TrimSpace(e.Source) == SourceTag
}

// Result converts a payment_result envelope into a normalized ResultMessage.
// The second return is false when the envelope is not a recognizable result.
func (e Envelope) Result(channel ChannelSource) (ResultMessage, bool) {
	if !e.Recognized() || e.Type != MessageTypeResult || e.Success == nil {
		return ResultMessage{}, false
	}
	if strings.TrimSpace(e.OrderNumber) == "" {
		return ResultMessage{}, false
	}
	return ResultMessage{
		Channel:        channel,
		Success:        *e.Success,
		OrderNumber:    e.OrderNumber,
		PaymentID:      e.PaymentID,
		ConversationID: e.ConversationID,
		ErrorCode:      e.ErrorCode,
		ErrorMessage:   e.ErrorMessage,
	}, true
}

// ParseEnvelope decodes raw channel bytes. Unparseable payloads are not
// errors; callers drop them silently.
func ParseEnvelope(raw []byte) (Envelope, bool) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, false
	}
	return e, true
}

// ResultMessage is the normalized terminal notification, regardless of which
// channel delivered it.
type ResultMessage struct {
	Channel        ChannelSource
	Success        bool
	OrderNumber    string
	PaymentID      string
	ConversationID string
	ErrorCode      string
	ErrorMessage   string
}

// Identity derives the deduplication key. Two deliveries of the same logical
// result collapse to one identity no matter which channel carried them.
func (m ResultMessage) Identity() string {
	outcome := "failure"
	if m.Success {
		outcome = "success"
	}
	return m.OrderNumber + "|" + m.PaymentID + "|" + outcome
}

// Envelope renders the message back into wire form, used when re-publishing a
// synthesized result (manual status check) through the normal path.
func (m ResultMessage) Envelope() Envelope {
	success := m.Success
	return Envelope{
		Type:           MessageTypeResult,
		Source:         SourceTag,
		OrderNumber:    m.OrderNumber,
		Success:        &success,
		PaymentID:      m.PaymentID,
		ConversationID: m.ConversationID,
		ErrorCode:      m.ErrorCode,
		ErrorMessage:   m.ErrorMessage,
	}
}
