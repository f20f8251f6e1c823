package processor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/linxGnu/gosmpp/pdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmunro/smppgate/internal/config"
	"github.com/tmunro/smppgate/internal/idmap"
	"github.com/tmunro/smppgate/pkg/codes"
)

type fakeIDs struct {
	m   map[string]string
	err error
}

func (f *fakeIDs) Lookup(_ context.Context, smscMsgID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	id, ok := f.m[smscMsgID]
	if !ok {
		return "", idmap.ErrNotFound
	}
	return id, nil
}

const receiptText = "id:smsc-001 sub:001 dlvrd:001 submit date:2508151230 done date:2508151245 stat:DELIVRD err:000 text:hello msg"

func newReceiptDeliverSM(t *testing.T, content string) *pdu.DeliverSM {
	t.Helper()
	d := newDeliverSM(t, "6100", "256700000001", content)
	d.EsmClass = 0x04
	return d
}

func TestMatches(t *testing.T) {
	p := NewDefaultDeliveryReport(config.DefaultProcessorConfig(), &fakeIDs{})

	t.Run("esm_class receipt bit", func(t *testing.T) {
		d := newDeliverSM(t, "6100", "256700000001", "anything")
		d.EsmClass = 0x04
		assert.True(t, p.Matches(d))
	})

	t.Run("receipted_message_id parameter", func(t *testing.T) {
		d := newDeliverSM(t, "6100", "256700000001", "anything")
		d.RegisterOptionalParam(tlvField(pdu.TagReceiptedMessageID, []byte("smsc-001\x00")))
		assert.True(t, p.Matches(d))
	})

	t.Run("receipt text without esm_class bits", func(t *testing.T) {
		d := newDeliverSM(t, "6100", "256700000001", receiptText)
		assert.True(t, p.Matches(d))
	})

	t.Run("mobile originated message", func(t *testing.T) {
		d := newDeliverSM(t, "256700000001", "6100", "hello")
		assert.False(t, p.Matches(d))
	})

	t.Run("esm_class only mode ignores text", func(t *testing.T) {
		cfg := config.DefaultProcessorConfig()
		cfg.ReceiptESMClassOnly = true
		strict := NewDefaultDeliveryReport(cfg, &fakeIDs{})

		d := newDeliverSM(t, "6100", "256700000001", receiptText)
		assert.False(t, strict.Matches(d))
		d.EsmClass = 0x04
		assert.True(t, strict.Matches(d))
	})
}

func TestDecodeTextReceipt(t *testing.T) {
	ids := &fakeIDs{m: map[string]string{"smsc-001": "internal-abc"}}
	p := NewDefaultDeliveryReport(config.DefaultProcessorConfig(), ids)

	report, err := p.Decode(context.Background(), newReceiptDeliverSM(t, receiptText))
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, "internal-abc", report.MessageID)
	assert.Equal(t, "smsc-001", report.SMSCMessageID)
	assert.Equal(t, codes.DeliveryStatusDelivered, report.Status)
	assert.Equal(t, "000", report.ErrorCode)
	assert.Equal(t, 1, report.Submitted)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, time.Date(2025, 8, 15, 12, 30, 0, 0, time.UTC), report.SubmitDate)
	assert.Equal(t, time.Date(2025, 8, 15, 12, 45, 0, 0, time.UTC), report.DoneDate)
	assert.Equal(t, "hello msg", report.Text)
}

func TestDecodeStatusMapping(t *testing.T) {
	cases := []struct {
		stat   string
		status string
	}{
		{"DELIVRD", codes.DeliveryStatusDelivered},
		{"ACCEPTD", codes.DeliveryStatusDelivered},
		{"EXPIRED", codes.DeliveryStatusFailed},
		{"DELETED", codes.DeliveryStatusFailed},
		{"UNDELIV", codes.DeliveryStatusFailed},
		{"REJECTD", codes.DeliveryStatusFailed},
		{"ENROUTE", codes.DeliveryStatusPending},
		{"UNKNOWN", codes.DeliveryStatusPending},
		{"FOOBAR", codes.DeliveryStatusPending},
	}

	ids := &fakeIDs{m: map[string]string{"smsc-001": "internal-abc"}}
	p := NewDefaultDeliveryReport(config.DefaultProcessorConfig(), ids)

	for _, c := range cases {
		t.Run(c.stat, func(t *testing.T) {
			content := fmt.Sprintf(
				"id:smsc-001 sub:001 dlvrd:000 submit date:2508151230 done date:2508151245 stat:%s err:012",
				c.stat,
			)
			report, err := p.Decode(context.Background(), newReceiptDeliverSM(t, content))
			require.NoError(t, err)
			require.NotNil(t, report)
			assert.Equal(t, c.status, report.Status)
			assert.Equal(t, "012", report.ErrorCode)
		})
	}
}

func TestDecodeParameterReceipt(t *testing.T) {
	ids := &fakeIDs{m: map[string]string{"smsc-xyz": "internal-def"}}
	p := NewDefaultDeliveryReport(config.DefaultProcessorConfig(), ids)

	t.Run("delivered state", func(t *testing.T) {
		d := newReceiptDeliverSM(t, "")
		d.RegisterOptionalParam(tlvField(pdu.TagReceiptedMessageID, []byte("smsc-xyz\x00")))
		d.RegisterOptionalParam(tlvField(pdu.TagMessageState, []byte{2}))

		report, err := p.Decode(context.Background(), d)
		require.NoError(t, err)
		require.NotNil(t, report)
		assert.Equal(t, "internal-def", report.MessageID)
		assert.Equal(t, "smsc-xyz", report.SMSCMessageID)
		assert.Equal(t, codes.DeliveryStatusDelivered, report.Status)
	})

	t.Run("undeliverable state", func(t *testing.T) {
		d := newReceiptDeliverSM(t, "")
		d.RegisterOptionalParam(tlvField(pdu.TagReceiptedMessageID, []byte("smsc-xyz")))
		d.RegisterOptionalParam(tlvField(pdu.TagMessageState, []byte{5}))

		report, err := p.Decode(context.Background(), d)
		require.NoError(t, err)
		require.NotNil(t, report)
		assert.Equal(t, codes.DeliveryStatusFailed, report.Status)
	})

	t.Run("parameters override receipt text", func(t *testing.T) {
		d := newReceiptDeliverSM(t, receiptText)
		d.RegisterOptionalParam(tlvField(pdu.TagReceiptedMessageID, []byte("smsc-xyz")))
		d.RegisterOptionalParam(tlvField(pdu.TagMessageState, []byte{8}))

		report, err := p.Decode(context.Background(), d)
		require.NoError(t, err)
		require.NotNil(t, report)
		assert.Equal(t, "smsc-xyz", report.SMSCMessageID)
		assert.Equal(t, codes.DeliveryStatusFailed, report.Status)
	})
}

func TestDecodeUnknownRemoteID(t *testing.T) {
	p := NewDefaultDeliveryReport(config.DefaultProcessorConfig(), &fakeIDs{m: map[string]string{}})

	report, err := p.Decode(context.Background(), newReceiptDeliverSM(t, receiptText))
	assert.NoError(t, err)
	assert.Nil(t, report, "receipts for unmapped remote ids are dropped")
}

func TestDecodeLookupFailure(t *testing.T) {
	p := NewDefaultDeliveryReport(config.DefaultProcessorConfig(), &fakeIDs{err: errors.New("redis down")})

	report, err := p.Decode(context.Background(), newReceiptDeliverSM(t, receiptText))
	assert.Error(t, err)
	assert.Nil(t, report)
}

func TestDecodeUnparseableReceipt(t *testing.T) {
	p := NewDefaultDeliveryReport(config.DefaultProcessorConfig(), &fakeIDs{})

	report, err := p.Decode(context.Background(), newReceiptDeliverSM(t, "stat:DELIVRD but nothing else"))
	assert.Error(t, err)
	assert.Nil(t, report)
}

func TestParseReceiptDate(t *testing.T) {
	assert.Equal(t, time.Date(2025, 8, 15, 12, 30, 0, 0, time.UTC), parseReceiptDate("2508151230"))
	assert.Equal(t, time.Date(2025, 8, 15, 12, 30, 45, 0, time.UTC), parseReceiptDate("250815123045"))
	assert.True(t, parseReceiptDate("not-a-date").IsZero())
}
