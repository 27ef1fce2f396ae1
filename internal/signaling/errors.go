package signaling

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol marks a malformed inbound envelope. The message is dropped and
	// the connection stays open.
	ErrProtocol = errors.New("signaling: protocol error")

	// ErrUnknownRecipient is returned when a relay envelope names an answerId
	// that is not registered. It is never reported to the sender.
	ErrUnknownRecipient = errors.New("signaling: unknown recipient")

	ErrDuplicateID = errors.New("signaling: duplicate connection id")

	// ErrTransportFault wraps read/write failures on a connection's transport.
	ErrTransportFault = errors.New("signaling: transport fault")
)

// ProtocolError describes why an inbound envelope was rejected.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "signaling: protocol error: " + e.Reason }

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

func protocolErrorf(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}
