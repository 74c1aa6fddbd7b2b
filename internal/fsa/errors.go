package fsa

import "errors"

// Domain-specific errors for actuator communication.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTimeout is returned when no datagram arrived within the call's window.
	ErrTimeout = errors.New("fsa: timed out waiting for reply")

	// ErrMalformed is returned when a datagram could not be decoded.
	ErrMalformed = errors.New("fsa: malformed reply")

	// ErrStatus is returned when a JSON reply parsed but its status is not "OK".
	ErrStatus = errors.New("fsa: reply status not OK")

	// ErrAttribution is returned when a group receive could not map a datagram
	// to any pending slot.
	ErrAttribution = errors.New("fsa: reply could not be attributed")

	// ErrNotRegistered is returned for addresses absent from the registry.
	ErrNotRegistered = errors.New("fsa: endpoint not registered")

	// ErrInvalidAddress is returned when an address is not a valid IPv4 address.
	ErrInvalidAddress = errors.New("fsa: invalid address")

	// ErrParamLength is returned when per-slot parameter arrays do not match
	// the address list.
	ErrParamLength = errors.New("fsa: parameter length mismatch")

	// ErrDuplicateAddress is returned when a group lists the same actuator
	// twice. Replies are attributed by source address, so slots must be unique.
	ErrDuplicateAddress = errors.New("fsa: duplicate address in group")

	// ErrNoResponders is returned when discovery finished with no replies.
	ErrNoResponders = errors.New("fsa: no actuators responded")

	// ErrUnsupportedMode is returned for a mode the protocol cannot express.
	ErrUnsupportedMode = errors.New("fsa: unsupported mode of operation")

	// ErrInvalidFrame is returned when a fast frame cannot be encoded.
	ErrInvalidFrame = errors.New("fsa: invalid fast frame")

	// ErrReceiveLoopActive is returned by blocking exchanges while the
	// background receive loop owns the socket.
	ErrReceiveLoopActive = errors.New("fsa: background receive loop owns the socket")

	// ErrClosed is returned when the transport has been closed.
	ErrClosed = errors.New("fsa: transport closed")

	// ErrAlreadyStarted is returned when Start is called on running loops.
	ErrAlreadyStarted = errors.New("fsa: background loops already started")
)
