package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/linxGnu/gosmpp/pdu"

	"github.com/tmunro/smppgate/internal/config"
	"github.com/tmunro/smppgate/internal/idmap"
	"github.com/tmunro/smppgate/internal/message"
	"github.com/tmunro/smppgate/pkg/codes"
)

// Compile-time check
var _ DeliveryReport = (*DefaultDeliveryReport)(nil)

// esm_class receipt bits: SMSC delivery receipt, SME acks, intermediate
// notification.
const esmClassReceiptMask = 0x3C

// receiptPattern is the canonical receipt grammar. The trailing text field
// is optional and capped at 20 characters; some SMSCs capitalize "Text".
var receiptPattern = regexp.MustCompile(
	`id:(?P<id>\S{1,65}) +sub:(?P<sub>\d{1,3}) +dlvrd:(?P<dlvrd>\d{1,3})` +
		` +submit date:(?P<submit_date>\d{10,12}) +done date:(?P<done_date>\d{10,12})` +
		` +stat:(?P<stat>[A-Z0-9]{5,7}) +err:(?P<err>\w{1,3})` +
		`(?: +[Tt]ext:(?P<text>.{0,20}))?`)

// receiptStatuses maps the stat: field onto delivery statuses.
var receiptStatuses = map[string]string{
	"ENROUTE": codes.DeliveryStatusPending,
	"DELIVRD": codes.DeliveryStatusDelivered,
	"EXPIRED": codes.DeliveryStatusFailed,
	"DELETED": codes.DeliveryStatusFailed,
	"UNDELIV": codes.DeliveryStatusFailed,
	"ACCEPTD": codes.DeliveryStatusDelivered,
	"UNKNOWN": codes.DeliveryStatusPending,
	"REJECTD": codes.DeliveryStatusFailed,
}

// message_state values from the optional-parameter receipt form.
var messageStates = map[byte]string{
	1: codes.DeliveryStatusPending,   // ENROUTE
	2: codes.DeliveryStatusDelivered, // DELIVERED
	3: codes.DeliveryStatusFailed,    // EXPIRED
	4: codes.DeliveryStatusFailed,    // DELETED
	5: codes.DeliveryStatusFailed,    // UNDELIVERABLE
	6: codes.DeliveryStatusDelivered, // ACCEPTED
	7: codes.DeliveryStatusPending,   // UNKNOWN
	8: codes.DeliveryStatusFailed,    // REJECTED
}

// DefaultDeliveryReport parses receipts in both the optional-parameter form
// (receipted_message_id / message_state) and the structured text form.
type DefaultDeliveryReport struct {
	cfg config.ProcessorConfig
	ids IDLookup
}

// NewDefaultDeliveryReport creates the default receipt processor.
func NewDefaultDeliveryReport(cfg config.ProcessorConfig, ids IDLookup) *DefaultDeliveryReport {
	return &DefaultDeliveryReport{cfg: cfg, ids: ids}
}

// Matches implements DeliveryReport.
func (p *DefaultDeliveryReport) Matches(d *pdu.DeliverSM) bool {
	if d.EsmClass&esmClassReceiptMask != 0 {
		return true
	}
	if _, ok := tlvBytes(d.OptionalParameters, pdu.TagReceiptedMessageID); ok {
		return true
	}
	if p.cfg.ReceiptESMClassOnly {
		return false
	}

	// Some SMSCs send receipts as plain deliver_sm; sniff the content.
	content, err := d.Message.GetMessage()
	if err != nil {
		return false
	}
	return receiptPattern.MatchString(content)
}

// Decode implements DeliveryReport.
func (p *DefaultDeliveryReport) Decode(ctx context.Context, d *pdu.DeliverSM) (*message.DeliveryReport, error) {
	report, err := p.parse(ctx, d)
	if err != nil {
		return nil, err
	}

	internalID, err := p.ids.Lookup(ctx, report.SMSCMessageID)
	if errors.Is(err, idmap.ErrNotFound) {
		slog.DebugContext(ctx, "Delivery report for unmapped remote message id, dropping",
			slog.String("smsc_msg_id", report.SMSCMessageID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve remote message id: %w", err)
	}
	report.MessageID = internalID
	return report, nil
}

// parse extracts the receipt fields. The optional-parameter form wins for
// the id and status; the text form fills in everything it can.
func (p *DefaultDeliveryReport) parse(ctx context.Context, d *pdu.DeliverSM) (*message.DeliveryReport, error) {
	var report *message.DeliveryReport
	if content, err := d.Message.GetMessage(); err == nil {
		report = p.parseReceiptText(ctx, content)
	}

	if raw, ok := tlvBytes(d.OptionalParameters, pdu.TagReceiptedMessageID); ok {
		if report == nil {
			report = &message.DeliveryReport{Status: codes.DeliveryStatusPending}
		}
		report.SMSCMessageID = cOctetString(raw)
		if state, ok := tlvBytes(d.OptionalParameters, pdu.TagMessageState); ok && len(state) > 0 {
			if status, known := messageStates[state[0]]; known {
				report.Status = status
			} else {
				slog.WarnContext(ctx, "Unknown message_state in delivery receipt",
					slog.Int("message_state", int(state[0])))
			}
		}
	}

	if report == nil || report.SMSCMessageID == "" {
		return nil, fmt.Errorf("deliver_sm carries no parseable delivery receipt")
	}
	return report, nil
}

// parseReceiptText parses the structured text form; nil when the content
// does not match the grammar.
func (p *DefaultDeliveryReport) parseReceiptText(ctx context.Context, content string) *message.DeliveryReport {
	m := receiptPattern.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	field := func(name string) string {
		return m[receiptPattern.SubexpIndex(name)]
	}

	stat := field("stat")
	status, known := receiptStatuses[stat]
	if !known {
		slog.WarnContext(ctx, "Unknown stat in delivery receipt, treating as pending",
			slog.String("stat", stat))
		status = codes.DeliveryStatusPending
	}

	submitted, _ := strconv.Atoi(field("sub"))
	delivered, _ := strconv.Atoi(field("dlvrd"))

	return &message.DeliveryReport{
		SMSCMessageID: field("id"),
		Status:        status,
		ErrorCode:     field("err"),
		Submitted:     submitted,
		Delivered:     delivered,
		SubmitDate:    parseReceiptDate(field("submit_date")),
		DoneDate:      parseReceiptDate(field("done_date")),
		Text:          field("text"),
	}
}

// parseReceiptDate parses YYMMDDhhmm with optional seconds. Zero time on
// failure; dates are informational.
func parseReceiptDate(s string) time.Time {
	for _, layout := range []string{"0601021504", "060102150405"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// cOctetString trims the trailing NUL and padding from a TLV value.
func cOctetString(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}
