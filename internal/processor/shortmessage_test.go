package processor

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmunro/smppgate/internal/config"
	"github.com/tmunro/smppgate/internal/message"
	"github.com/tmunro/smppgate/pkg/codes"
)

type fakeParts struct {
	mu   sync.Mutex
	sets map[string]map[int]string
}

func newFakeParts() *fakeParts {
	return &fakeParts{sets: make(map[string]map[int]string)}
}

func (f *fakeParts) Add(_ context.Context, key string, seq, total int, content string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[key]
	if !ok {
		set = make(map[int]string)
		f.sets[key] = set
	}
	set[seq] = content

	var b strings.Builder
	for i := 1; i <= total; i++ {
		part, ok := set[i]
		if !ok {
			return "", false, nil
		}
		b.WriteString(part)
	}
	delete(f.sets, key)
	return b.String(), true, nil
}

func testTransportConfig() config.TransportConfig {
	return config.TransportConfig{
		Name:      "gate1",
		SystemID:  "esme42",
		SourceTON: 5,
		SourceNPI: 0,
		DestTON:   1,
		DestNPI:   1,
	}
}

func newTestShortMessage(t *testing.T, cfg config.ProcessorConfig) *DefaultShortMessage {
	t.Helper()
	return NewDefaultShortMessage(cfg, Deps{
		Transport: testTransportConfig(),
		Parts:     newFakeParts(),
	})
}

func TestEncodeSubmitSinglePart(t *testing.T) {
	p := newTestShortMessage(t, config.DefaultProcessorConfig())

	msg := message.New("256700000001", "6100", "hello world")
	subs, err := p.EncodeSubmit(msg)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	sub := subs[0]
	assert.Equal(t, "6100", sub.SourceAddr.Address())
	assert.Equal(t, "256700000001", sub.DestAddr.Address())
	assert.Equal(t, byte(5), sub.SourceAddr.Ton())
	assert.Equal(t, byte(1), sub.DestAddr.Ton())
	assert.Equal(t, byte(1), sub.RegisteredDelivery)
	assert.Zero(t, sub.EsmClass&0x40, "single part must not set UDHI")

	content, err := sub.Message.GetMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello world", content)
}

func TestEncodeSubmitUCS2(t *testing.T) {
	p := newTestShortMessage(t, config.DefaultProcessorConfig())

	msg := message.New("256700000001", "6100", "привет мир")
	subs, err := p.EncodeSubmit(msg)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	assert.Equal(t, byte(8), subs[0].Message.Encoding().DataCoding())
	content, err := subs[0].Message.GetMessage()
	require.NoError(t, err)
	assert.Equal(t, "привет мир", content)
}

func TestEncodeSubmitMultipartUDH(t *testing.T) {
	p := newTestShortMessage(t, config.DefaultProcessorConfig())

	msg := message.New("256700000001", "6100", strings.Repeat("a", 161))
	subs, err := p.EncodeSubmit(msg)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	var refs []uint16
	for i, sub := range subs {
		assert.NotZero(t, sub.EsmClass&0x40, "multipart must set UDHI")
		total, part, ref, found := sub.Message.UDH().GetConcatInfo()
		require.True(t, found, "segment %d missing concat UDH", i+1)
		assert.Equal(t, 2, int(total))
		assert.Equal(t, i+1, int(part))
		refs = append(refs, uint16(ref))
	}
	assert.Equal(t, refs[0], refs[1], "segments must share one reference")
}

func TestEncodeSubmitSegmentOverflow(t *testing.T) {
	p := newTestShortMessage(t, config.DefaultProcessorConfig())

	// 153 septets per multipart segment, so this needs 256 segments.
	msg := message.New("256700000001", "6100", strings.Repeat("a", 153*255+1))
	_, err := p.EncodeSubmit(msg)
	require.ErrorContains(t, err, "wire limit")
}

func TestEncodeSubmitMultipartSar(t *testing.T) {
	cfg := config.DefaultProcessorConfig()
	cfg.MultipartMethod = "sar"
	p := newTestShortMessage(t, cfg)

	msg := message.New("256700000001", "6100", strings.Repeat("a", 161))
	subs, err := p.EncodeSubmit(msg)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	for i, sub := range subs {
		assert.Zero(t, sub.EsmClass&0x40, "sar mode must not set UDHI")

		total, ok := tlvBytes(sub.OptionalParameters, pdu.TagSarTotalSegments)
		require.True(t, ok)
		assert.Equal(t, []byte{2}, total)

		seq, ok := tlvBytes(sub.OptionalParameters, pdu.TagSarSegmentSeqnum)
		require.True(t, ok)
		assert.Equal(t, []byte{byte(i + 1)}, seq)

		ref, ok := tlvBytes(sub.OptionalParameters, pdu.TagSarMsgRefNum)
		require.True(t, ok)
		assert.Len(t, ref, 2)
	}
}

func TestEncodeSubmitUSSD(t *testing.T) {
	p := newTestShortMessage(t, config.DefaultProcessorConfig())

	msg := message.New("256700000001", "*160#", "Bye")
	msg.TransportType = codes.TransportTypeUSSD
	msg.SessionEvent = codes.SessionEventClose
	msg.Metadata = map[string]string{"session_info": "0400"}

	subs, err := p.EncodeSubmit(msg)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	op, ok := tlvBytes(subs[0].OptionalParameters, pdu.TagUssdServiceOp)
	require.True(t, ok)
	assert.Equal(t, []byte{ussdOpFinal}, op)

	si, ok := tlvBytes(subs[0].OptionalParameters, pdu.TagItsSessionInfo)
	require.True(t, ok)
	assert.Equal(t, []byte{0x04, 0x00}, si)
}

func TestEncodeSubmitUSSDContinue(t *testing.T) {
	p := newTestShortMessage(t, config.DefaultProcessorConfig())

	msg := message.New("256700000001", "*160#", "1. Balance\n2. Topup")
	msg.TransportType = codes.TransportTypeUSSD
	msg.SessionEvent = codes.SessionEventResume

	subs, err := p.EncodeSubmit(msg)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	op, ok := tlvBytes(subs[0].OptionalParameters, pdu.TagUssdServiceOp)
	require.True(t, ok)
	assert.Equal(t, []byte{ussdOpSubmit}, op)
}

func newDeliverSM(t *testing.T, from, to, content string) *pdu.DeliverSM {
	t.Helper()
	d := pdu.NewDeliverSM().(*pdu.DeliverSM)

	src := pdu.NewAddress()
	require.NoError(t, src.SetAddress(from))
	d.SourceAddr = src

	dst := pdu.NewAddress()
	require.NoError(t, dst.SetAddress(to))
	d.DestAddr = dst

	require.NoError(t, d.Message.SetMessageWithEncoding(content, data.GSM7BIT))
	return d
}

func TestDecodeDeliverMO(t *testing.T) {
	p := newTestShortMessage(t, config.DefaultProcessorConfig())

	d := newDeliverSM(t, "256700000001", "6100", "ping")
	msg, err := p.DecodeDeliver(context.Background(), d)
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.NotEmpty(t, msg.MessageID)
	assert.Equal(t, "256700000001", msg.FromAddr)
	assert.Equal(t, "6100", msg.ToAddr)
	assert.Equal(t, "ping", msg.Content)
	assert.Equal(t, codes.TransportTypeSMS, msg.TransportType)
	assert.Empty(t, msg.SessionEvent)
}

func TestDecodeDeliverUSSD(t *testing.T) {
	p := newTestShortMessage(t, config.DefaultProcessorConfig())

	cases := []struct {
		name  string
		op    byte
		event string
	}{
		{"new session", ussdOpNew, codes.SessionEventNew},
		{"continue session", ussdOpContinue, codes.SessionEventResume},
		{"close session", ussdOpClose, codes.SessionEventClose},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := newDeliverSM(t, "256700000001", "*160#", "")
			d.RegisterOptionalParam(tlvField(pdu.TagUssdServiceOp, []byte{c.op}))
			d.RegisterOptionalParam(tlvField(pdu.TagItsSessionInfo, []byte{0x04, 0x01}))

			msg, err := p.DecodeDeliver(context.Background(), d)
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, codes.TransportTypeUSSD, msg.TransportType)
			assert.Equal(t, c.event, msg.SessionEvent)
			assert.Equal(t, "0401", msg.Metadata["session_info"])
		})
	}

	t.Run("unknown indicator is a processing error", func(t *testing.T) {
		d := newDeliverSM(t, "256700000001", "*160#", "")
		d.RegisterOptionalParam(tlvField(pdu.TagUssdServiceOp, []byte{0x13}))

		msg, err := p.DecodeDeliver(context.Background(), d)
		assert.Error(t, err)
		assert.Nil(t, msg)
	})
}

func TestDecodeDeliverMultipart(t *testing.T) {
	p := newTestShortMessage(t, config.DefaultProcessorConfig())

	part := func(seq byte, content string) *pdu.DeliverSM {
		d := newDeliverSM(t, "256700000001", "6100", content)
		d.EsmClass |= 0x40
		d.Message.SetUDH(pdu.UDH{pdu.InfoElement{ID: 0x00, Data: []byte{0x21, 2, seq}}})
		return d
	}

	msg, err := p.DecodeDeliver(context.Background(), part(1, "first half "))
	require.NoError(t, err)
	assert.Nil(t, msg, "incomplete set must be parked")

	msg, err = p.DecodeDeliver(context.Background(), part(2, "second half"))
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "first half second half", msg.Content)
}

func TestDecodeDeliverMessagePayload(t *testing.T) {
	p := newTestShortMessage(t, config.DefaultProcessorConfig())

	d := newDeliverSM(t, "256700000001", "6100", "")
	payload, err := data.GSM7BIT.Encode("from the payload")
	require.NoError(t, err)
	d.RegisterOptionalParam(tlvField(pdu.TagMessagePayload, payload))

	msg, err := p.DecodeDeliver(context.Background(), d)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "from the payload", msg.Content)
}

func TestDecodeDeliverDataCodingOverride(t *testing.T) {
	cfg := config.DefaultProcessorConfig()
	cfg.DataCodingOverrides = map[int]string{8: "latin1"}
	p := newTestShortMessage(t, cfg)

	d := newDeliverSM(t, "256700000001", "6100", "")
	require.NoError(t, d.Message.SetMessageWithEncoding("AB", data.UCS2))

	// The override wins over the PDU's own data_coding, so the UCS2 bytes
	// come back decoded byte-for-byte as latin1.
	msg, err := p.DecodeDeliver(context.Background(), d)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "\x00A\x00B", msg.Content)
}

func TestEncodingByName(t *testing.T) {
	assert.Equal(t, data.GSM7BIT, encodingByName("gsm7"))
	assert.Equal(t, data.ASCII, encodingByName("ascii"))
	assert.Equal(t, data.LATIN1, encodingByName("latin1"))
	assert.Equal(t, data.UCS2, encodingByName("ucs2"))
	assert.Nil(t, encodingByName("ebcdic"))
}
