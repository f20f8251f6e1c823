package smpp

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/tmunro/smppgate/internal/logging"
)

// superviseLoop dials and runs sessions until ctx is canceled. Backoff
// doubles from MinDelay up to MaxDelay and resets once a session stays up
// past StableThreshold; the first attempt is immediate.
func (t *Transport) superviseLoop(ctx context.Context) {
	defer t.wg.Done()

	delay := t.cfg.Reconnect.MinDelay
	for {
		if ctx.Err() != nil {
			return
		}

		attempt := t.attempts.Add(1)
		attemptCtx := logging.ContextWithConnID(ctx, attempt)
		started := time.Now()
		if err := t.runOnce(attemptCtx); err != nil {
			t.lastErr.Store(err.Error())
			slog.WarnContext(attemptCtx, "SMPP connection attempt failed", slog.Any("error", err))
		}
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) >= t.cfg.Reconnect.StableThreshold {
			delay = t.cfg.Reconnect.MinDelay
		}
		slog.InfoContext(attemptCtx, "Reconnecting to SMSC",
			slog.Duration("delay", delay),
			slog.Int64("attempt", attempt),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = nextDelay(delay, t.cfg.Reconnect.MaxDelay)
	}
}

// runOnce dials, runs one session to completion and clears it out again.
func (t *Transport) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	tcp, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", t.cfg.SMSCAddr)
	cancel()
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Connected to SMSC", slog.String("smsc", t.cfg.SMSCAddr))

	// The dead session stays visible until the next attempt replaces it,
	// so the status endpoint reports the real terminal state.
	sess := NewSession(t.cfg, NewConn(tcp, t.cfg.WriteTimeout), t.deps)
	t.session.Store(sess)

	return sess.Run(ctx)
}

// nextDelay doubles the backoff, capped at max.
func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	return next
}
