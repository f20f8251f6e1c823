package smpp

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tmunro/smppgate/internal/config"
	"github.com/tmunro/smppgate/internal/logging"
	"github.com/tmunro/smppgate/internal/message"
	"github.com/tmunro/smppgate/pkg/codes"
)

// Handler consumes what the transport produces: inbound messages, delivery
// reports and the outcome of every submitted segment. Calls arrive on the
// session's goroutines; implementations should hand off quickly.
type Handler interface {
	HandleInboundMessage(ctx context.Context, msg *message.Message)
	HandleDeliveryReport(ctx context.Context, report *message.DeliveryReport)
	HandleSubmitOutcome(ctx context.Context, outcome *message.SubmitOutcome)
}

// TransportStatus is a point-in-time snapshot for the status API.
type TransportStatus struct {
	Transport          string     `json:"transport"`
	SessionState       string     `json:"session_state"`
	BoundAt            *time.Time `json:"bound_at,omitempty"`
	ConnectionAttempts int64      `json:"connection_attempts"`
	PendingSubmits     int64      `json:"pending_submits"`
	LastError          string     `json:"last_error,omitempty"`
}

// Transport keeps one transceiver bind alive for the life of the process,
// reconnecting with backoff whenever the session dies. Submit goes to the
// current session; everything the SMSC sends comes back through the
// Handler.
type Transport struct {
	cfg  config.TransportConfig
	deps SessionDeps

	session  atomic.Pointer[Session]
	attempts atomic.Int64
	lastErr  atomic.Value // string

	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTransport creates a stopped transport.
func NewTransport(cfg config.TransportConfig, deps SessionDeps) *Transport {
	return &Transport{cfg: cfg, deps: deps}
}

// Start launches the supervisor. The transport runs until Stop or until
// ctx is canceled.
func (t *Transport) Start(ctx context.Context) {
	ctx = logging.ContextWithTransport(ctx, t.cfg.Name)
	ctx = logging.ContextWithSystemID(ctx, t.cfg.SystemID)
	ctx, t.cancel = context.WithCancel(ctx)

	slog.InfoContext(ctx, "Starting SMPP transport", slog.String("smsc", t.cfg.SMSCAddr))
	t.wg.Add(1)
	go t.superviseLoop(ctx)
}

// Stop unbinds gracefully and waits for the supervisor to exit. Idempotent.
func (t *Transport) Stop() {
	t.stopOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		t.wg.Wait()
		slog.Info("SMPP transport stopped", slog.String("transport", t.cfg.Name))
	})
}

// Submit sends a message over the current session.
func (t *Transport) Submit(ctx context.Context, msg *message.Message) ([]int32, error) {
	sess := t.session.Load()
	if sess == nil {
		return nil, ErrNotBound
	}
	return sess.Submit(ctx, msg)
}

// Status reports the current connection state.
func (t *Transport) Status() TransportStatus {
	st := TransportStatus{
		Transport:          t.cfg.Name,
		SessionState:       codes.SessionUnbound,
		ConnectionAttempts: t.attempts.Load(),
	}
	if v, ok := t.lastErr.Load().(string); ok {
		st.LastError = v
	}
	if sess := t.session.Load(); sess != nil {
		st.SessionState = sess.Status()
		st.PendingSubmits = sess.PendingSubmits()
		if at := sess.BoundAt(); !at.IsZero() {
			st.BoundAt = &at
		}
	}
	return st
}
