package smpp

import (
	"errors"
	"fmt"

	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"
)

var (
	// ErrNotBound is returned by Submit when no bound session exists.
	ErrNotBound = errors.New("smpp: session not bound")

	// ErrStopped is returned by operations on a stopped transport.
	ErrStopped = errors.New("smpp: transport stopped")
)

// FramingError reports a command_length outside the legal range. The byte
// stream cannot be resynchronized after one of these, so the connection
// must be dropped.
type FramingError struct {
	Length uint32
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("smpp: invalid command_length %d", e.Length)
}

// UnknownCommandError reports a well-framed PDU with an unrecognized
// command_id. The caller can keep the connection and reply generic_nack.
type UnknownCommandError struct {
	Header pdu.Header
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("smpp: unknown command_id 0x%08x (seq %d)",
		uint32(e.Header.CommandID), e.Header.SequenceNumber)
}

// MalformedPDUError reports a well-framed PDU whose body failed to parse.
// Recoverable for the same reason as UnknownCommandError.
type MalformedPDUError struct {
	Header pdu.Header
	cause  error
}

func (e *MalformedPDUError) Error() string {
	return fmt.Sprintf("smpp: malformed %s PDU (seq %d): %v",
		e.Header.CommandID.String(), e.Header.SequenceNumber, e.cause)
}

func (e *MalformedPDUError) Unwrap() error { return e.cause }

// BindError reports a bind request the SMSC rejected.
type BindError struct {
	Status data.CommandStatusType
}

func (e *BindError) Error() string {
	return fmt.Sprintf("smpp: bind rejected: %s", e.Status.Desc())
}
