package smpp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"

	"github.com/tmunro/smppgate/internal/config"
	"github.com/tmunro/smppgate/internal/logging"
	"github.com/tmunro/smppgate/internal/message"
	"github.com/tmunro/smppgate/internal/processor"
	"github.com/tmunro/smppgate/pkg/codes"
)

// SequenceAllocator hands out wire sequence numbers. sequence.Allocator
// satisfies this.
type SequenceAllocator interface {
	Next(ctx context.Context) (int32, error)
}

// IDRecorder persists the SMSC-assigned id of an acknowledged submit.
// idmap.Store satisfies this.
type IDRecorder interface {
	Record(ctx context.Context, smscID, messageID string) error
}

// SessionDeps carries everything a session needs besides the connection.
type SessionDeps struct {
	Allocator      SequenceAllocator
	IDs            IDRecorder // nil disables remote id recording
	ShortMessage   processor.ShortMessage
	DeliveryReport processor.DeliveryReport // nil disables receipt handling
	Handler        Handler
}

// pendingSubmit correlates an in-flight submit_sm with its response.
type pendingSubmit struct {
	messageID string
	segment   int
	total     int
	sentAt    time.Time
}

// Session drives one transceiver connection from bind to death: the
// handshake, the reader loop, keepalive probing, submit correlation and
// teardown. A Session serves exactly one connection; the supervisor makes
// a fresh one per attempt.
type Session struct {
	cfg     config.TransportConfig
	conn    *Conn
	alloc   SequenceAllocator
	ids     IDRecorder
	sm      processor.ShortMessage
	dr      processor.DeliveryReport
	handler Handler

	state   atomic.Value // session status string
	boundAt atomic.Int64 // unix nano, 0 until bound

	pending      sync.Map // int32 sequence -> *pendingSubmit
	pendingCount atomic.Int64

	bindSeq     atomic.Int32
	missedLinks atomic.Int32

	boundCh    chan struct{}
	boundOnce  sync.Once
	unbindCh   chan struct{}
	unbindOnce sync.Once

	deadCh   chan struct{}
	deadOnce sync.Once
	deadErr  error // set by terminate before deadCh closes

	wg sync.WaitGroup
}

// NewSession creates a session over an established connection. Call Run to
// start it.
func NewSession(cfg config.TransportConfig, conn *Conn, deps SessionDeps) *Session {
	s := &Session{
		cfg:      cfg,
		conn:     conn,
		alloc:    deps.Allocator,
		ids:      deps.IDs,
		sm:       deps.ShortMessage,
		dr:       deps.DeliveryReport,
		handler:  deps.Handler,
		boundCh:  make(chan struct{}),
		unbindCh: make(chan struct{}),
		deadCh:   make(chan struct{}),
	}
	s.state.Store(codes.SessionUnbound)
	return s
}

// Status returns the current session state.
func (s *Session) Status() string {
	return s.state.Load().(string)
}

// BoundAt returns when the bind completed, zero if it never did.
func (s *Session) BoundAt() time.Time {
	n := s.boundAt.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// PendingSubmits returns the number of submits awaiting a response.
func (s *Session) PendingSubmits() int64 {
	return s.pendingCount.Load()
}

// =============================================================================
// Lifecycle
// =============================================================================

// Run binds and serves the session until the connection dies or ctx is
// canceled. It returns the terminal cause; nil means a clean operator
// stop. The connection is always closed by the time Run returns, and every
// in-flight submit has received exactly one outcome.
func (s *Session) Run(ctx context.Context) error {
	s.state.Store(codes.SessionBinding)

	if err := s.sendBind(ctx); err != nil {
		s.terminate(ctx, err)
	} else {
		s.wg.Add(1)
		go s.readLoop(ctx)
		s.awaitBind(ctx)
	}

	if s.Status() == codes.SessionBound {
		select {
		case <-s.deadCh:
		case <-ctx.Done():
			s.gracefulUnbind(ctx)
		}
	}

	s.wg.Wait()
	s.state.Store(codes.SessionDead)
	s.resolvePending(ctx)
	return s.deadErr
}

// sendBind allocates a sequence number and writes the bind_transceiver.
func (s *Session) sendBind(ctx context.Context) error {
	seq, err := s.alloc.Next(ctx)
	if err != nil {
		return fmt.Errorf("allocate bind sequence: %w", err)
	}

	bind := pdu.NewBindTransceiver().(*pdu.BindRequest)
	bind.SystemID = s.cfg.SystemID
	bind.Password = s.cfg.Password
	bind.SystemType = s.cfg.SystemType
	bind.SetSequenceNumber(seq)
	s.bindSeq.Store(seq)

	slog.InfoContext(ctx, "Sending bind_transceiver",
		slog.String("system_id", s.cfg.SystemID),
		slog.Int("seq", int(seq)),
	)
	if err := s.conn.WritePDU(bind); err != nil {
		return fmt.Errorf("send bind_transceiver: %w", err)
	}
	return nil
}

// awaitBind waits for the bind handshake to finish one way or the other.
// On success it moves the session to bound and starts the keepalive and
// expiry loops.
func (s *Session) awaitBind(ctx context.Context) {
	timer := time.NewTimer(s.cfg.BindTimeout)
	defer timer.Stop()

	select {
	case <-s.boundCh:
	case <-timer.C:
		s.terminate(ctx, fmt.Errorf("bind_transceiver timed out after %s", s.cfg.BindTimeout))
		return
	case <-ctx.Done():
		s.terminate(ctx, nil)
		return
	case <-s.deadCh:
		return
	}

	s.boundAt.Store(time.Now().UnixNano())
	s.state.Store(codes.SessionBound)
	slog.InfoContext(ctx, "SMPP session bound",
		slog.String("smsc", s.cfg.SMSCAddr),
		slog.String("system_id", s.cfg.SystemID),
	)

	s.wg.Add(2)
	go s.keepaliveLoop(ctx)
	go s.sweepLoop(ctx)
}

// gracefulUnbind runs the unbind handshake with a deadline. The session is
// dead when it returns.
func (s *Session) gracefulUnbind(ctx context.Context) {
	s.state.Store(codes.SessionUnbinding)
	ctx = context.WithoutCancel(ctx)
	unbindCtx, cancel := context.WithTimeout(ctx, s.cfg.UnbindTimeout)
	defer cancel()

	seq, err := s.alloc.Next(unbindCtx)
	if err == nil {
		ub := pdu.NewUnbind()
		ub.SetSequenceNumber(seq)
		if err := s.conn.WritePDU(ub); err == nil {
			select {
			case <-s.unbindCh:
				slog.InfoContext(ctx, "Unbound cleanly")
			case <-unbindCtx.Done():
				slog.WarnContext(ctx, "Timed out waiting for unbind_resp")
			case <-s.deadCh:
			}
		}
	}
	s.terminate(ctx, nil)
}

// terminate moves the session to dead exactly once and closes the
// connection, which unblocks the reader. A nil cause is an operator stop.
func (s *Session) terminate(ctx context.Context, cause error) {
	s.deadOnce.Do(func() {
		s.deadErr = cause
		s.state.Store(codes.SessionDead)
		_ = s.conn.Close()
		close(s.deadCh)
		if cause != nil {
			slog.WarnContext(ctx, "SMPP session terminated", slog.Any("cause", cause))
		}
	})
}

// resolvePending fails every still-pending submit exactly once. Runs after
// the reader loop has exited, so nothing else is resolving concurrently.
func (s *Session) resolvePending(ctx context.Context) {
	s.pending.Range(func(k, v any) bool {
		if _, loaded := s.pending.LoadAndDelete(k); !loaded {
			return true
		}
		s.pendingCount.Add(-1)
		job := v.(*pendingSubmit)
		logCtx := logging.ContextWithMessageID(ctx, job.messageID)
		slog.WarnContext(logCtx, "Connection lost with submit in flight",
			slog.Int("seq", int(k.(int32))),
			slog.Int("segment", job.segment),
		)
		s.handler.HandleSubmitOutcome(logCtx, &message.SubmitOutcome{
			MessageID:     job.messageID,
			Sequence:      k.(int32),
			Segment:       job.segment,
			TotalSegments: job.total,
			Result:        codes.OutcomeConnectionLost,
		})
		return true
	})
}

// =============================================================================
// Submission
// =============================================================================

// Submit encodes msg and writes one submit_sm per segment, registering
// each for response correlation before it hits the wire. It returns the
// sequence numbers actually written; a mid-message failure returns those
// already on the wire along with the error, and their outcomes still
// arrive through the handler.
func (s *Session) Submit(ctx context.Context, msg *message.Message) ([]int32, error) {
	if s.Status() != codes.SessionBound {
		return nil, ErrNotBound
	}

	logCtx := logging.ContextWithMessageID(ctx, msg.MessageID)
	subs, err := s.sm.EncodeSubmit(msg)
	if err != nil {
		return nil, fmt.Errorf("encode submit: %w", err)
	}

	total := len(subs)
	seqs := make([]int32, 0, total)
	for i, sub := range subs {
		seq, err := s.alloc.Next(logCtx)
		if err != nil {
			return seqs, fmt.Errorf("allocate sequence for segment %d/%d: %w", i+1, total, err)
		}
		sub.SetSequenceNumber(seq)

		s.pending.Store(seq, &pendingSubmit{
			messageID: msg.MessageID,
			segment:   i + 1,
			total:     total,
			sentAt:    time.Now(),
		})
		s.pendingCount.Add(1)

		if err := s.conn.WritePDU(sub); err != nil {
			if _, loaded := s.pending.LoadAndDelete(seq); loaded {
				s.pendingCount.Add(-1)
			}
			s.terminate(logCtx, fmt.Errorf("write submit_sm: %w", err))
			return seqs, fmt.Errorf("write segment %d/%d: %w", i+1, total, err)
		}
		seqs = append(seqs, seq)
		slog.DebugContext(logCtx, "Segment submitted, awaiting response",
			slog.Int("seq", int(seq)),
			slog.Int("segment", i+1),
			slog.Int("total_segments", total),
		)
	}
	return seqs, nil
}

// =============================================================================
// Reader loop and dispatch
// =============================================================================

func (s *Session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		p, err := s.conn.ReadPDU()
		if err != nil {
			var unknown *UnknownCommandError
			var malformed *MalformedPDUError
			switch {
			case errors.As(err, &unknown):
				slog.WarnContext(ctx, "Unknown command_id, replying generic_nack",
					slog.String("command_id", unknown.Header.CommandID.String()),
					slog.Int("seq", int(unknown.Header.SequenceNumber)),
				)
				s.sendGenericNack(ctx, unknown.Header.SequenceNumber, data.ESME_RINVCMDID)
				continue
			case errors.As(err, &malformed):
				slog.WarnContext(ctx, "Malformed PDU, replying generic_nack", slog.Any("error", err))
				s.sendGenericNack(ctx, malformed.Header.SequenceNumber, data.ESME_RSYSERR)
				continue
			}
			select {
			case <-s.deadCh:
				// Closed locally, not a wire failure.
			default:
				s.terminate(ctx, fmt.Errorf("read: %w", err))
			}
			return
		}
		s.dispatch(ctx, p)
	}
}

func (s *Session) dispatch(ctx context.Context, p pdu.PDU) {
	switch t := p.(type) {
	case *pdu.BindResp:
		s.handleBindResp(ctx, t)
	case *pdu.EnquireLinkResp:
		s.missedLinks.Store(0)
	case *pdu.EnquireLink:
		if err := s.conn.WritePDU(t.GetResponse()); err != nil {
			s.terminate(ctx, fmt.Errorf("reply enquire_link: %w", err))
		}
	case *pdu.SubmitSMResp:
		s.handleSubmitResp(ctx, t)
	case *pdu.DeliverSM:
		s.handleDeliverSM(ctx, t)
	case *pdu.Unbind:
		slog.InfoContext(ctx, "Peer requested unbind")
		_ = s.conn.WritePDU(t.GetResponse())
		s.terminate(ctx, errors.New("peer unbind"))
	case *pdu.UnbindResp:
		s.unbindOnce.Do(func() { close(s.unbindCh) })
	case *pdu.GenericNack:
		slog.WarnContext(ctx, "Received generic_nack",
			slog.String("status", t.CommandStatus.String()),
			slog.Int("seq", int(t.GetSequenceNumber())),
		)
	case *pdu.AlertNotification:
		slog.InfoContext(ctx, "Received alert_notification")
	default:
		if p.CanResponse() {
			slog.WarnContext(ctx, "Unexpected request PDU, replying generic_nack",
				slog.String("command_id", p.GetHeader().CommandID.String()),
			)
			s.sendGenericNack(ctx, p.GetSequenceNumber(), data.ESME_RINVCMDID)
		} else {
			slog.DebugContext(ctx, "Ignoring unexpected PDU",
				slog.String("command_id", p.GetHeader().CommandID.String()),
			)
		}
	}
}

func (s *Session) handleBindResp(ctx context.Context, resp *pdu.BindResp) {
	if resp.GetSequenceNumber() != s.bindSeq.Load() {
		slog.WarnContext(ctx, "Bind response with unexpected sequence number",
			slog.Int("seq", int(resp.GetSequenceNumber())),
		)
		return
	}
	if resp.CommandStatus != data.ESME_ROK {
		s.terminate(ctx, &BindError{Status: resp.CommandStatus})
		return
	}
	slog.InfoContext(ctx, "Received bind_transceiver_resp",
		slog.String("smsc_system_id", resp.SystemID),
	)
	s.boundOnce.Do(func() { close(s.boundCh) })
}

func (s *Session) handleSubmitResp(ctx context.Context, resp *pdu.SubmitSMResp) {
	seq := resp.GetSequenceNumber()
	v, ok := s.pending.LoadAndDelete(seq)
	if !ok {
		slog.WarnContext(ctx, "submit_sm_resp for unknown or already resolved sequence number",
			slog.Int("seq", int(seq)),
		)
		return
	}
	s.pendingCount.Add(-1)
	job := v.(*pendingSubmit)
	logCtx := logging.ContextWithMessageID(ctx, job.messageID)

	outcome := &message.SubmitOutcome{
		MessageID:     job.messageID,
		Sequence:      seq,
		Segment:       job.segment,
		TotalSegments: job.total,
	}
	if resp.CommandStatus == data.ESME_ROK {
		outcome.Result = codes.OutcomeAcked
		outcome.SMSCMessageID = resp.MessageID
		if resp.MessageID != "" && s.ids != nil {
			// Best effort: a failed mapping only orphans the receipt.
			if err := s.ids.Record(logCtx, resp.MessageID, job.messageID); err != nil {
				slog.WarnContext(logCtx, "Failed to record remote message id", slog.Any("error", err))
			}
		}
		slog.InfoContext(logCtx, "Segment acknowledged",
			slog.String("smsc_msg_id", resp.MessageID),
			slog.Int("segment", job.segment),
		)
	} else {
		outcome.Result = codes.OutcomeNacked
		outcome.Status = uint32(resp.CommandStatus)
		slog.WarnContext(logCtx, "Segment rejected",
			slog.String("status", resp.CommandStatus.String()),
			slog.Int("segment", job.segment),
		)
	}
	s.handler.HandleSubmitOutcome(logCtx, outcome)
}

// handleDeliverSM acks the PDU before any processing, so a processor
// failure never leaves the SMSC retrying a deliver_sm we cannot handle.
func (s *Session) handleDeliverSM(ctx context.Context, d *pdu.DeliverSM) {
	logCtx := logging.ContextWithPDUInfo(ctx, "deliver_sm", d.GetSequenceNumber())
	if err := s.conn.WritePDU(d.GetResponse()); err != nil {
		s.terminate(logCtx, fmt.Errorf("ack deliver_sm: %w", err))
		return
	}

	if s.dr != nil && s.dr.Matches(d) {
		report, err := s.dr.Decode(logCtx, d)
		if err != nil {
			slog.ErrorContext(logCtx, "Failed to process delivery receipt", slog.Any("error", err))
			return
		}
		if report != nil {
			s.handler.HandleDeliveryReport(logging.ContextWithMessageID(logCtx, report.MessageID), report)
		}
		return
	}

	msg, err := s.sm.DecodeDeliver(logCtx, d)
	if err != nil {
		slog.ErrorContext(logCtx, "Failed to process deliver_sm", slog.Any("error", err))
		return
	}
	if msg != nil {
		s.handler.HandleInboundMessage(logging.ContextWithMessageID(logCtx, msg.MessageID), msg)
	}
}

func (s *Session) sendGenericNack(ctx context.Context, seq int32, status data.CommandStatusType) {
	gn := pdu.NewGenericNack().(*pdu.GenericNack)
	gn.CommandStatus = status
	gn.SetSequenceNumber(seq)
	if err := s.conn.WritePDU(gn); err != nil {
		s.terminate(ctx, fmt.Errorf("send generic_nack: %w", err))
	}
}

// =============================================================================
// Keepalive and response expiry
// =============================================================================

// keepaliveLoop probes the link with enquire_link. Every answered probe
// resets the miss counter; once the counter reaches the configured limit
// the link is declared dead.
func (s *Session) keepaliveLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.EnquireLinkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.deadCh:
			return
		case <-ticker.C:
		}

		if missed := s.missedLinks.Load(); missed >= int32(s.cfg.EnquireLinkMissed) {
			s.terminate(ctx, fmt.Errorf("keepalive: %d enquire_link probes unanswered", missed))
			return
		}

		seq, err := s.alloc.Next(ctx)
		if err != nil {
			// An unsendable probe counts as unanswered, so a dead
			// allocator eventually tears the link down too.
			slog.WarnContext(ctx, "Could not allocate enquire_link sequence", slog.Any("error", err))
			s.missedLinks.Add(1)
			continue
		}
		el := pdu.NewEnquireLink()
		el.SetSequenceNumber(seq)
		if err := s.conn.WritePDU(el); err != nil {
			s.terminate(ctx, fmt.Errorf("send enquire_link: %w", err))
			return
		}
		s.missedLinks.Add(1)
	}
}

// sweepLoop times out submits that never got a response.
func (s *Session) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.ExpireSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.deadCh:
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-s.cfg.SubmitTimeout)
		s.pending.Range(func(k, v any) bool {
			job := v.(*pendingSubmit)
			if job.sentAt.After(cutoff) {
				return true
			}
			if _, loaded := s.pending.LoadAndDelete(k); !loaded {
				return true
			}
			s.pendingCount.Add(-1)
			seq := k.(int32)
			logCtx := logging.ContextWithMessageID(ctx, job.messageID)
			slog.WarnContext(logCtx, "submit_sm response timed out",
				slog.Int("seq", int(seq)),
				slog.Int("segment", job.segment),
			)
			s.handler.HandleSubmitOutcome(logCtx, &message.SubmitOutcome{
				MessageID:     job.messageID,
				Sequence:      seq,
				Segment:       job.segment,
				TotalSegments: job.total,
				Result:        codes.OutcomeTimedOut,
			})
			return true
		})
	}
}
