package wire

import "errors"

var (
	// ErrMalformed reports inbound bytes that do not decode as a message.
	ErrMalformed = errors.New("wire: malformed message")

	// ErrAddrFamily reports an address that has no packed wire form.
	ErrAddrFamily = errors.New("wire: only IPv4 addresses are encodable")

	// ErrOversize reports a message whose fixed header alone exceeds the
	// datagram budget. Unreachable with the default budget.
	ErrOversize = errors.New("wire: message exceeds datagram budget")
)
