// Package notification delivers transport events to the application layer.
package notification

import (
	"context"
	"log/slog"

	"github.com/tmunro/smppgate/internal/message"
	"github.com/tmunro/smppgate/internal/smpp"
	"github.com/tmunro/smppgate/pkg/codes"
)

// LogHandler is a simple implementation that just logs transport events.
// Deployments that feed a queue or webhook replace this with their own
// smpp.Handler.
type LogHandler struct{}

func NewLogHandler() *LogHandler {
	return &LogHandler{}
}

func (h *LogHandler) HandleInboundMessage(ctx context.Context, msg *message.Message) {
	slog.InfoContext(ctx, "Inbound message",
		slog.String("msg_id", msg.MessageID),
		slog.String("from", msg.FromAddr),
		slog.String("to", msg.ToAddr),
		slog.String("transport_type", msg.TransportType),
		slog.Int("content_len", len(msg.Content)))
}

func (h *LogHandler) HandleDeliveryReport(ctx context.Context, report *message.DeliveryReport) {
	slog.InfoContext(ctx, "Delivery report",
		slog.String("msg_id", report.MessageID),
		slog.String("smsc_msg_id", report.SMSCMessageID),
		slog.String("status", report.Status),
		slog.String("error_code", report.ErrorCode))
}

func (h *LogHandler) HandleSubmitOutcome(ctx context.Context, outcome *message.SubmitOutcome) {
	attrs := []any{
		slog.String("msg_id", outcome.MessageID),
		slog.Int("seq_num", int(outcome.Sequence)),
		slog.Int("segment", outcome.Segment),
		slog.Int("total_segments", outcome.TotalSegments),
		slog.String("result", outcome.Result),
	}
	if outcome.SMSCMessageID != "" {
		attrs = append(attrs, slog.String("smsc_msg_id", outcome.SMSCMessageID))
	}

	if outcome.Result == codes.OutcomeAcked {
		slog.InfoContext(ctx, "Submit outcome", attrs...)
		return
	}
	if outcome.Status != 0 {
		attrs = append(attrs, slog.Any("command_status", outcome.Status))
	}
	slog.WarnContext(ctx, "Submit outcome", attrs...)
}

// Compile-time check to ensure LogHandler implements smpp.Handler
var _ smpp.Handler = (*LogHandler)(nil)
