// Package session defines the secure-channel seam layered on top of the
// T=1′ link. Establishing and using an AES session key with the card is
// out of scope for this module — no cryptography is implemented here — but
// the interface gives a client a place to plug one in without touching the
// transceive engine underneath.
package session

import "context"

// SecureChannel wraps an authenticated, encrypted exchange with the card on
// top of a plain t1prime.Engine.Transceive. Implementations negotiate their
// own session keys out of band; this package only describes the shape a
// higher layer depends on.
type SecureChannel interface {
	// Open establishes the session (key agreement, mutual authentication).
	Open(ctx context.Context) error

	// SecureTransceive encrypts request, sends it, and decrypts the card's
	// response, using whatever session key Open established.
	SecureTransceive(ctx context.Context, request []byte) ([]byte, error)

	// Close tears the session down. It does not close the underlying
	// engine or transport.
	Close(ctx context.Context) error
}
