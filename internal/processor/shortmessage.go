package processor

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"

	"github.com/tmunro/smppgate/internal/config"
	"github.com/tmunro/smppgate/internal/message"
	"github.com/tmunro/smppgate/pkg/codes"
	"github.com/tmunro/smppgate/pkg/segmenter"
)

// Compile-time check
var _ ShortMessage = (*DefaultShortMessage)(nil)

// ussd_service_op values. Inbound indicators vary by vendor; outbound we
// send a USSR continue or a PSSR final response.
const (
	ussdOpNew      = 0x01
	ussdOpContinue = 0x02
	ussdOpClose    = 0x81
	ussdOpSubmit   = 0x02 // outbound continue
	ussdOpFinal    = 0x11 // outbound close (PSSR response)
)

// DefaultShortMessage is the standard SMS/USSD codec: GSM-7 or UCS2
// selection, segmentation with UDH or SAR concatenation, USSD session
// mapping and multipart reassembly on the inbound path.
type DefaultShortMessage struct {
	cfg   config.ProcessorConfig
	tcfg  config.TransportConfig
	seg   segmenter.Segmenter
	parts PartStore

	ref atomic.Uint32 // concatenation reference counter
}

// NewDefaultShortMessage creates the default codec.
func NewDefaultShortMessage(cfg config.ProcessorConfig, deps Deps) *DefaultShortMessage {
	p := &DefaultShortMessage{
		cfg:   cfg,
		tcfg:  deps.Transport,
		seg:   segmenter.NewDefaultSegmenter(),
		parts: deps.Parts,
	}
	p.ref.Store(rand.Uint32())
	return p
}

// =============================================================================
// Outbound: canonical message -> submit_sm PDUs
// =============================================================================

// EncodeSubmit implements ShortMessage.
func (p *DefaultShortMessage) EncodeSubmit(msg *message.Message) ([]*pdu.SubmitSM, error) {
	segments, requiresUCS2, err := p.seg.GetSegments(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("segment message: %w", err)
	}

	coding := data.GSM7BIT
	if requiresUCS2 {
		coding = data.UCS2
	}

	total := len(segments)
	if total > 255 {
		// The concatenation headers carry total and index as single bytes.
		return nil, fmt.Errorf("message needs %d segments, 255 is the wire limit", total)
	}
	var ref uint16
	if total > 1 {
		ref = uint16(p.ref.Add(1))
	}

	subs := make([]*pdu.SubmitSM, 0, total)
	for i, content := range segments {
		sub, err := p.buildSubmitSM(msg, content, coding)
		if err != nil {
			return nil, err
		}
		if total > 1 {
			p.applyConcat(sub, ref, i+1, total)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// buildSubmitSM constructs the PDU for a single segment.
func (p *DefaultShortMessage) buildSubmitSM(msg *message.Message, content string, coding data.Encoding) (*pdu.SubmitSM, error) {
	sub := pdu.NewSubmitSM().(*pdu.SubmitSM)

	srcAddr := pdu.NewAddress()
	srcAddr.SetTon(p.tcfg.SourceTON)
	srcAddr.SetNpi(p.tcfg.SourceNPI)
	if err := srcAddr.SetAddress(msg.FromAddr); err != nil {
		return nil, fmt.Errorf("invalid source address %q: %w", msg.FromAddr, err)
	}
	sub.SourceAddr = srcAddr

	destAddr := pdu.NewAddress()
	destAddr.SetTon(p.tcfg.DestTON)
	destAddr.SetNpi(p.tcfg.DestNPI)
	if err := destAddr.SetAddress(msg.ToAddr); err != nil {
		return nil, fmt.Errorf("invalid destination address %q: %w", msg.ToAddr, err)
	}
	sub.DestAddr = destAddr

	if err := sub.Message.SetMessageWithEncoding(content, coding); err != nil {
		return nil, fmt.Errorf("encode message content: %w", err)
	}

	sub.ProtocolID = 0
	sub.RegisteredDelivery = p.cfg.RegisteredDelivery
	sub.ReplaceIfPresentFlag = 0

	if msg.TransportType == codes.TransportTypeUSSD {
		p.applyUSSD(sub, msg)
	}
	return sub, nil
}

// applyConcat tags one segment of a multipart message.
func (p *DefaultShortMessage) applyConcat(sub *pdu.SubmitSM, ref uint16, seq, total int) {
	if p.cfg.MultipartMethod == "sar" {
		sub.RegisterOptionalParam(tlvField(pdu.TagSarMsgRefNum, []byte{byte(ref >> 8), byte(ref)}))
		sub.RegisterOptionalParam(tlvField(pdu.TagSarTotalSegments, []byte{byte(total)}))
		sub.RegisterOptionalParam(tlvField(pdu.TagSarSegmentSeqnum, []byte{byte(seq)}))
		return
	}

	// Concatenation UDH, 8-bit reference: [ref, total, seq].
	sub.EsmClass |= data.SM_UDH_GSM
	sub.Message.SetUDH(pdu.UDH{
		pdu.InfoElement{ID: 0x00, Data: []byte{byte(ref), byte(total), byte(seq)}},
	})
}

// applyUSSD sets the session parameters on an outbound USSD response.
func (p *DefaultShortMessage) applyUSSD(sub *pdu.SubmitSM, msg *message.Message) {
	op := byte(ussdOpSubmit)
	if msg.SessionEvent == codes.SessionEventClose {
		op = ussdOpFinal
	}
	sub.RegisterOptionalParam(tlvField(pdu.TagUssdServiceOp, []byte{op}))

	if si := msg.Metadata["session_info"]; si != "" {
		sub.RegisterOptionalParam(tlvField(pdu.TagItsSessionInfo, sessionInfoBytes(si)))
	}
}

// sessionInfoBytes renders the 2-byte its_session_info value from metadata,
// accepting a 4-digit hex string or raw bytes.
func sessionInfoBytes(si string) []byte {
	if raw, err := hex.DecodeString(si); err == nil && len(raw) == 2 {
		return raw
	}
	out := []byte{0, 0}
	copy(out, si)
	return out
}

// =============================================================================
// Inbound: deliver_sm -> canonical message
// =============================================================================

// DecodeDeliver implements ShortMessage.
func (p *DefaultShortMessage) DecodeDeliver(ctx context.Context, d *pdu.DeliverSM) (*message.Message, error) {
	content, err := p.decodeContent(ctx, d)
	if err != nil {
		return nil, err
	}

	msg := &message.Message{
		MessageID:     uuid.NewString(),
		ToAddr:        d.DestAddr.Address(),
		FromAddr:      d.SourceAddr.Address(),
		Content:       content,
		TransportType: codes.TransportTypeSMS,
	}

	if op, ok := tlvBytes(d.OptionalParameters, pdu.TagUssdServiceOp); ok {
		return p.decodeUSSD(msg, d, op)
	}

	if total, seq, ref, found := concatInfo(d); found && p.parts != nil {
		return p.reassemble(ctx, msg, ref, seq, total)
	}
	return msg, nil
}

// decodeUSSD maps the service op onto a session event. Unknown indicators
// are a processing error; the session still acks the PDU.
func (p *DefaultShortMessage) decodeUSSD(msg *message.Message, d *pdu.DeliverSM, op []byte) (*message.Message, error) {
	indicator := ussdIndicator(op)
	event, err := message.SessionEventFromIndicator(indicator)
	if err != nil {
		return nil, fmt.Errorf("ussd deliver_sm: %w", err)
	}

	msg.TransportType = codes.TransportTypeUSSD
	msg.SessionEvent = event
	if si, ok := tlvBytes(d.OptionalParameters, pdu.TagItsSessionInfo); ok {
		msg.Metadata = map[string]string{"session_info": hex.EncodeToString(si)}
	}
	return msg, nil
}

// ussdIndicator names the ussd_service_op value. Unmapped values come back
// as hex and fail the session event mapping downstream.
func ussdIndicator(op []byte) string {
	if len(op) == 0 {
		return ""
	}
	switch op[0] {
	case ussdOpNew:
		return "new"
	case ussdOpContinue:
		return "continue"
	case ussdOpClose:
		return "close"
	}
	return fmt.Sprintf("0x%02x", op[0])
}

// reassemble parks a multipart segment and emits the assembled message once
// all segments have arrived.
func (p *DefaultShortMessage) reassemble(ctx context.Context, msg *message.Message, ref uint16, seq, total int) (*message.Message, error) {
	key := fmt.Sprintf("%s:%s:%d", msg.FromAddr, msg.ToAddr, ref)
	full, complete, err := p.parts.Add(ctx, key, seq, total, msg.Content)
	if err != nil {
		// Degrade to emitting the bare fragment rather than dropping it.
		slog.WarnContext(ctx, "Multipart store failed, emitting fragment",
			slog.Any("error", err),
			slog.Int("segment", seq),
			slog.Int("total_segments", total),
		)
		return msg, nil
	}
	if !complete {
		slog.DebugContext(ctx, "Parked multipart segment",
			slog.Int("segment", seq),
			slog.Int("total_segments", total),
		)
		return nil, nil
	}
	msg.Content = full
	return msg, nil
}

// concatInfo extracts multipart tags from the UDH or, failing that, the SAR
// optional parameters.
func concatInfo(d *pdu.DeliverSM) (total, seq int, ref uint16, found bool) {
	if t, s, r, ok := d.Message.UDH().GetConcatInfo(); ok {
		return int(t), int(s), uint16(r), true
	}

	refRaw, okRef := tlvBytes(d.OptionalParameters, pdu.TagSarMsgRefNum)
	totalRaw, okTotal := tlvBytes(d.OptionalParameters, pdu.TagSarTotalSegments)
	seqRaw, okSeq := tlvBytes(d.OptionalParameters, pdu.TagSarSegmentSeqnum)
	if !okRef || !okTotal || !okSeq || len(totalRaw) == 0 || len(seqRaw) == 0 {
		return 0, 0, 0, false
	}
	for _, b := range refRaw {
		ref = ref<<8 | uint16(b)
	}
	return int(totalRaw[0]), int(seqRaw[0]), ref, true
}

// decodeContent decodes the short message text, honoring configured
// data-coding overrides and the message_payload parameter.
func (p *DefaultShortMessage) decodeContent(ctx context.Context, d *pdu.DeliverSM) (string, error) {
	enc := d.Message.Encoding()
	if enc != nil {
		if name, ok := p.cfg.DataCodingOverrides[int(enc.DataCoding())]; ok {
			if override := encodingByName(name); override != nil {
				enc = override
			}
		}
	} else {
		slog.DebugContext(ctx, "Unknown data coding on deliver_sm, decoding as GSM-7")
		enc = data.GSM7BIT
	}

	content, err := d.Message.GetMessageWithEncoding(enc)
	if err != nil {
		return "", fmt.Errorf("decode short message: %w", err)
	}

	if content == "" {
		if payload, ok := tlvBytes(d.OptionalParameters, pdu.TagMessagePayload); ok {
			content, err = enc.Decode(payload)
			if err != nil {
				return "", fmt.Errorf("decode message_payload: %w", err)
			}
		}
	}
	return content, nil
}

// encodingByName resolves a charset name from configuration.
func encodingByName(name string) data.Encoding {
	switch name {
	case "gsm7":
		return data.GSM7BIT
	case "ascii":
		return data.ASCII
	case "latin1":
		return data.LATIN1
	case "ucs2":
		return data.UCS2
	}
	return nil
}
