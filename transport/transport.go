// Package transport defines the byte-transport seam the T=1′ engine is
// built on (§6 of the protocol design: physical wake/reset, atomic writes,
// exact-length reads, and the parameter mutators activation drives). The
// engine never talks to a bus directly; it only ever talks to a
// transport.Transport.
package transport

import (
	"context"
	"time"
)

// Transport is the byte transport a T=1′ engine drives. Implementations
// must be half-duplex safe: Receive is never called concurrently with
// Transmit for the same logical block exchange.
type Transport interface {
	// Activate performs the transport's own physical wake/reset. Returned
	// bytes (e.g. an I²C bus's own out-of-band response, if any) are
	// discarded by the engine.
	Activate(ctx context.Context) ([]byte, error)

	// Transmit pushes all of data atomically. There are no partial writes.
	Transmit(ctx context.Context, data []byte) error

	// Receive returns exactly n bytes, or an error. It must not coalesce
	// across calls: a caller asking for 1 byte then 3 bytes must observe
	// the same stream it would have seen asking for 4 bytes in one call.
	Receive(ctx context.Context, n int) ([]byte, error)

	// SetClockFrequency sets the bus clock in Hz, if supported.
	SetClockFrequency(hz int) error

	// SetBusTimeout sets the transport's own low-level timeout.
	SetBusTimeout(d time.Duration) error

	// SetSlaveAddress sets the target device address (7-bit or 10-bit).
	SetSlaveAddress(addr uint16) error
}
