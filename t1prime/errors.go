package t1prime

import (
	"errors"
	"fmt"
)

// Kind categorizes a t1prime failure. None of these carry a concrete Go
// type per failure — Error.Kind is the discriminator, matching the
// category-not-type error design in the protocol specification.
type Kind uint8

const (
	// KindTooLittleData: decode found the buffer shorter than declared, or
	// the NAD poll window elapsed without a valid start byte.
	KindTooLittleData Kind = iota
	// KindLengthMismatch: declared information length and buffer length
	// disagree.
	KindLengthMismatch
	// KindInvalidCrc: epilogue CRC does not match payload.
	KindInvalidCrc
	// KindInvalidBlock: block class, sequence, or S-subtype is inconsistent
	// with the engine's current expectation, after exhausting retries.
	KindInvalidBlock
	// KindInvalidPlid: activation's CIP carried an unsupported PLID.
	KindInvalidPlid
	// KindInvalidCipField: activation failed to parse the CIP descriptor.
	KindInvalidCipField
	// KindTransceiveAborted: the card issued S(ABORT request) mid-chain.
	KindTransceiveAborted
	// KindInvalidProtocolStack: the transport failed or lacks a required
	// primitive, or Transceive was called before a successful Activate.
	KindInvalidProtocolStack
	// KindIllegalArgument: caller passed a zero-length request, or an IFS
	// value outside [1, 0xFF9].
	KindIllegalArgument
)

func (k Kind) String() string {
	switch k {
	case KindTooLittleData:
		return "too little data"
	case KindLengthMismatch:
		return "length mismatch"
	case KindInvalidCrc:
		return "invalid crc"
	case KindInvalidBlock:
		return "invalid block"
	case KindInvalidPlid:
		return "invalid plid"
	case KindInvalidCipField:
		return "invalid cip field"
	case KindTransceiveAborted:
		return "transceive aborted"
	case KindInvalidProtocolStack:
		return "invalid protocol stack"
	case KindIllegalArgument:
		return "illegal argument"
	default:
		return "unknown"
	}
}

// Error is the error type t1prime returns. It wraps an underlying cause
// when one exists (a transport error, a block.Error, a cip.Error) so
// callers can still errors.As/errors.Unwrap down to it.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("t1prime: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("t1prime: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func wrapErr(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// IsAborted reports whether err is a TransceiveAborted error.
func IsAborted(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindTransceiveAborted
	}
	return false
}
