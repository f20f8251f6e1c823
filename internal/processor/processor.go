// Package processor converts between SMPP PDUs and the canonical message
// model. Implementations are registered by name and selected through
// configuration, so deployments can swap codec behavior per SMSC without
// touching the session layer.
package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/linxGnu/gosmpp/pdu"
	"github.com/redis/go-redis/v9"

	"github.com/tmunro/smppgate/internal/config"
	"github.com/tmunro/smppgate/internal/message"
)

// ShortMessage encodes outbound messages into submit_sm PDUs and decodes
// inbound deliver_sm PDUs back into canonical messages.
type ShortMessage interface {
	// EncodeSubmit renders msg into one or more submit_sm PDUs, one per
	// segment, without sequence numbers assigned.
	EncodeSubmit(msg *message.Message) ([]*pdu.SubmitSM, error)

	// DecodeDeliver reconstructs a canonical message from a deliver_sm.
	// A (nil, nil) return means the PDU was consumed without producing a
	// message, e.g. a parked multipart segment.
	DecodeDeliver(ctx context.Context, p *pdu.DeliverSM) (*message.Message, error)
}

// DeliveryReport detects and parses delivery receipts.
type DeliveryReport interface {
	// Matches reports whether the PDU carries a delivery receipt.
	Matches(p *pdu.DeliverSM) bool

	// Decode parses the receipt and resolves the internal message id it
	// reports on. A (nil, nil) return means the receipt was dropped, e.g.
	// its remote id is not mapped (expired or foreign).
	Decode(ctx context.Context, p *pdu.DeliverSM) (*message.DeliveryReport, error)
}

// IDLookup resolves SMSC-assigned message ids back to internal ids.
// idmap.Store satisfies this.
type IDLookup interface {
	Lookup(ctx context.Context, smscID string) (string, error)
}

// Deps carries the shared infrastructure a processor may draw on.
type Deps struct {
	Transport config.TransportConfig
	Redis     *redis.Client
	IDs       IDLookup
	Parts     PartStore // nil disables inbound multipart reassembly
}

// ShortMessageFactory builds a ShortMessage from configuration.
type ShortMessageFactory func(cfg config.ProcessorConfig, deps Deps) (ShortMessage, error)

// DeliveryReportFactory builds a DeliveryReport from configuration.
type DeliveryReportFactory func(cfg config.ProcessorConfig, deps Deps) (DeliveryReport, error)

var (
	registryMu              sync.RWMutex
	shortMessageFactories   = make(map[string]ShortMessageFactory)
	deliveryReportFactories = make(map[string]DeliveryReportFactory)
)

// RegisterShortMessage makes a short message processor selectable by name.
func RegisterShortMessage(name string, f ShortMessageFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	shortMessageFactories[name] = f
}

// RegisterDeliveryReport makes a delivery report processor selectable by name.
func RegisterDeliveryReport(name string, f DeliveryReportFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	deliveryReportFactories[name] = f
}

// NewShortMessage constructs the named short message processor.
func NewShortMessage(name string, cfg config.ProcessorConfig, deps Deps) (ShortMessage, error) {
	registryMu.RLock()
	f, ok := shortMessageFactories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown short message processor %q", name)
	}
	return f(cfg, deps)
}

// NewDeliveryReport constructs the named delivery report processor.
func NewDeliveryReport(name string, cfg config.ProcessorConfig, deps Deps) (DeliveryReport, error) {
	registryMu.RLock()
	f, ok := deliveryReportFactories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown delivery report processor %q", name)
	}
	return f(cfg, deps)
}

func init() {
	RegisterShortMessage("default", func(cfg config.ProcessorConfig, deps Deps) (ShortMessage, error) {
		return NewDefaultShortMessage(cfg, deps), nil
	})
	RegisterDeliveryReport("default", func(cfg config.ProcessorConfig, deps Deps) (DeliveryReport, error) {
		if deps.IDs == nil {
			return nil, fmt.Errorf("delivery report processor requires an id lookup")
		}
		return NewDefaultDeliveryReport(cfg, deps.IDs), nil
	})
}

// tlvField builds an optional parameter. All TLV construction goes through
// here.
func tlvField(tag pdu.Tag, value []byte) pdu.Field {
	return pdu.Field{Tag: tag, Data: value}
}

// tlvBytes fetches an optional parameter's raw value.
func tlvBytes(params map[pdu.Tag]pdu.Field, tag pdu.Tag) ([]byte, bool) {
	f, ok := params[tag]
	if !ok {
		return nil, false
	}
	return f.Data, true
}
