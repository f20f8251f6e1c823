// Package smpp maintains a long-lived SMPP 3.4 transceiver bind: framing,
// the session state machine, submit correlation and supervised reconnects.
// PDU marshaling itself is gosmpp's; this package owns the wire loop around
// it.
package smpp

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"
)

const headerLen = 16

// maxPDULen bounds command_length. The largest PDU we ever exchange is a
// deliver_sm with a full message_payload, well under this; anything bigger
// means a corrupt or hostile stream.
const maxPDULen = 4096

// Conn frames SMPP PDUs over a TCP stream. Reads belong to a single
// goroutine; writes are serialized with a mutex so responses and submits
// can interleave safely.
type Conn struct {
	tcp net.Conn
	r   *bufio.Reader

	writeMu      sync.Mutex
	writeTimeout time.Duration
}

// NewConn wraps an established connection. writeTimeout zero disables
// write deadlines; reads have no deadline, liveness comes from
// enquire_link.
func NewConn(tcp net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{
		tcp:          tcp,
		r:            bufio.NewReaderSize(tcp, maxPDULen),
		writeTimeout: writeTimeout,
	}
}

// ReadPDU reads and parses the next PDU. Unknown command ids and
// unparseable bodies come back as typed errors carrying the raw header so
// the caller can reply generic_nack and keep reading; everything else is
// fatal to the connection.
func (c *Conn) ReadPDU() (pdu.PDU, error) {
	var head [headerLen]byte
	if _, err := io.ReadFull(c.r, head[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(head[:4])
	if length < headerLen || length > maxPDULen {
		return nil, &FramingError{Length: length}
	}

	frame := make([]byte, length)
	copy(frame, head[:])
	if _, err := io.ReadFull(c.r, frame[headerLen:]); err != nil {
		return nil, err
	}

	p, err := pdu.Parse(bytes.NewReader(frame))
	if err == nil {
		return p, nil
	}

	hdr := headerFrom(frame)
	if errors.Is(err, pdu.ErrUnknownCommandID) {
		return nil, &UnknownCommandError{Header: hdr}
	}
	return nil, &MalformedPDUError{Header: hdr, cause: err}
}

// WritePDU marshals and writes one PDU.
func (c *Conn) WritePDU(p pdu.PDU) error {
	buf := pdu.NewBuffer(make([]byte, 0, 64))
	p.Marshal(buf)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.tcp.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := c.tcp.Write(buf.Bytes())
	return err
}

// Close closes the underlying connection. Safe to call from any goroutine;
// it is how a blocked ReadPDU gets unstuck.
func (c *Conn) Close() error {
	return c.tcp.Close()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.tcp.RemoteAddr()
}

func headerFrom(frame []byte) pdu.Header {
	return pdu.Header{
		CommandLength:  int32(binary.BigEndian.Uint32(frame[:4])),
		CommandID:      data.CommandIDType(binary.BigEndian.Uint32(frame[4:8])),
		CommandStatus:  data.CommandStatusType(binary.BigEndian.Uint32(frame[8:12])),
		SequenceNumber: int32(binary.BigEndian.Uint32(frame[12:16])),
	}
}
