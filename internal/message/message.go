package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tmunro/smppgate/pkg/codes"
)

// Message is the canonical form of a short message crossing the transport
// boundary, inbound or outbound.
type Message struct {
	MessageID     string            `json:"message_id"`
	ToAddr        string            `json:"to_addr"`
	FromAddr      string            `json:"from_addr"`
	Content       string            `json:"content"`
	TransportType string            `json:"transport_type"`
	SessionEvent  string            `json:"session_event,omitempty"` // USSD only
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// New creates an outbound SMS message with a fresh message id.
func New(toAddr, fromAddr, content string) *Message {
	return &Message{
		MessageID:     uuid.NewString(),
		ToAddr:        toAddr,
		FromAddr:      fromAddr,
		Content:       content,
		TransportType: codes.TransportTypeSMS,
	}
}

// SessionEventFromIndicator maps a USSD session indicator to a session event.
// Unrecognized indicators are a processing error for the caller to surface.
func SessionEventFromIndicator(indicator string) (string, error) {
	switch indicator {
	case "new":
		return codes.SessionEventNew, nil
	case "continue":
		return codes.SessionEventResume, nil
	case "close":
		return codes.SessionEventClose, nil
	}
	return "", fmt.Errorf("unknown ussd session indicator %q", indicator)
}

// DeliveryReport is a parsed SMSC delivery receipt, resolved back to the
// internal message id it reports on.
type DeliveryReport struct {
	MessageID     string    `json:"message_id"`
	SMSCMessageID string    `json:"smsc_message_id"`
	Status        string    `json:"status"`
	ErrorCode     string    `json:"error_code,omitempty"`
	Submitted     int       `json:"submitted"`
	Delivered     int       `json:"delivered"`
	SubmitDate    time.Time `json:"submit_date"`
	DoneDate      time.Time `json:"done_date"`
	Text          string    `json:"text,omitempty"`
}

// SubmitOutcome is the asynchronous resolution of one submitted segment.
// Every registered segment produces exactly one outcome.
type SubmitOutcome struct {
	MessageID     string `json:"message_id"`
	Sequence      int32  `json:"sequence"`
	Segment       int    `json:"segment"`
	TotalSegments int    `json:"total_segments"`
	Result        string `json:"result"`
	SMSCMessageID string `json:"smsc_message_id,omitempty"` // acked only
	Status        uint32 `json:"status,omitempty"`          // nacked only, raw command_status
}
