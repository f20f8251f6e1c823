package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	TransportKey contextKey = "transport"
	SystemIDKey  contextKey = "system_id"
	MessageIDKey contextKey = "msg_id"
	SMSCMsgIDKey contextKey = "smsc_msg_id"
	ConnIDKey    contextKey = "conn_id"
	CommandIDKey contextKey = "cmd_id"
	SeqNumberKey contextKey = "seq_num"
	SegmentKey   contextKey = "segment"
	HandlerKey   contextKey = "handler"
)

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if transport, ok := ctx.Value(TransportKey).(string); ok {
		r.AddAttrs(slog.String("transport", transport))
	}
	if sysID, ok := ctx.Value(SystemIDKey).(string); ok {
		r.AddAttrs(slog.String("system_id", sysID))
	}
	if msgID, ok := ctx.Value(MessageIDKey).(string); ok {
		r.AddAttrs(slog.String("msg_id", msgID))
	}
	if smscID, ok := ctx.Value(SMSCMsgIDKey).(string); ok {
		r.AddAttrs(slog.String("smsc_msg_id", smscID))
	}
	if connID, ok := ctx.Value(ConnIDKey).(int64); ok {
		r.AddAttrs(slog.Int64("conn_id", connID))
	}
	if cmdID, ok := ctx.Value(CommandIDKey).(string); ok {
		r.AddAttrs(slog.String("cmd_id", cmdID))
	}
	if seqNum, ok := ctx.Value(SeqNumberKey).(int32); ok {
		r.AddAttrs(slog.Int("seq_num", int(seqNum)))
	}
	if segment, ok := ctx.Value(SegmentKey).(int); ok {
		r.AddAttrs(slog.Int("segment", segment))
	}
	if handler, ok := ctx.Value(HandlerKey).(string); ok {
		r.AddAttrs(slog.String("handler", handler))
	}

	return h.Handler.Handle(ctx, r)
}

// Helper functions to add values to context
func ContextWithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, TransportKey, transport)
}

func ContextWithSystemID(ctx context.Context, systemID string) context.Context {
	return context.WithValue(ctx, SystemIDKey, systemID)
}

func ContextWithMessageID(ctx context.Context, msgID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, msgID)
}

func ContextWithSMSCMsgID(ctx context.Context, smscMsgID string) context.Context {
	return context.WithValue(ctx, SMSCMsgIDKey, smscMsgID)
}

func ContextWithConnID(ctx context.Context, connID int64) context.Context {
	return context.WithValue(ctx, ConnIDKey, connID)
}

func ContextWithSegment(ctx context.Context, segment int) context.Context {
	return context.WithValue(ctx, SegmentKey, segment)
}

func ContextWithPDUInfo(ctx context.Context, commandID string, seqNumber int32) context.Context {
	ctx = context.WithValue(ctx, CommandIDKey, commandID)
	return context.WithValue(ctx, SeqNumberKey, seqNumber)
}

func ContextWithHandler(ctx context.Context, handler string) context.Context {
	return context.WithValue(ctx, HandlerKey, handler)
}
