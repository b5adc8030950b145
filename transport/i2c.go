package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// I2CTransport drives a Blockchain Security 2Go smartcard over a
// periph.io I²C bus. Activate performs a no-op bus wake (the physical
// activation step this chip expects is a plain write of zero bytes
// followed by the CIP exchange layered on top, per §4.E.1); Transmit and
// Receive translate into half-duplex i2c.Bus.Tx calls with either a write
// or a read, never both in the same Tx, matching the engine's own
// half-duplex discipline.
type I2CTransport struct {
	mu      sync.Mutex
	bus     i2c.BusCloser
	dev     i2c.Dev
	timeout time.Duration
}

// OpenI2CTransport initializes the periph host and opens busName (empty
// string selects the first available bus), addressing the card at addr.
func OpenI2CTransport(busName string, addr uint16) (*I2CTransport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("transport: periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("transport: open i2c bus %q: %w", busName, err)
	}
	return &I2CTransport{
		bus:     bus,
		dev:     i2c.Dev{Bus: bus, Addr: addr},
		timeout: time.Second,
	}, nil
}

var _ Transport = (*I2CTransport)(nil)

// Activate performs the transport's own physical wake/reset. The I²C
// physical layer has no reset signal of its own; any returned bytes are
// always empty, and the real activation happens at the T=1′ layer.
func (t *I2CTransport) Activate(ctx context.Context) ([]byte, error) {
	return nil, nil
}

// Transmit writes data to the card and reads nothing back, matching the
// half-duplex write phase of a block exchange. periph.io's i2c.Dev.Tx has
// no cancellation hook of its own, so a ctx that is already done is
// rejected up front; one that is cancelled mid-Tx cannot interrupt the
// call already in flight.
func (t *I2CTransport) Transmit(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.dev.Tx(data, nil); err != nil {
		return fmt.Errorf("transport: i2c write: %w", err)
	}
	return nil
}

// Receive reads exactly n bytes from the card, matching the half-duplex
// read phase of a block exchange. It issues a zero-length write with the
// read, as this chip expects a bus-read-only transaction rather than a
// combined write+read. See Transmit for the same ctx-cancellation caveat.
func (t *I2CTransport) Receive(ctx context.Context, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := make([]byte, n)
	if err := t.dev.Tx(nil, buf); err != nil {
		return nil, fmt.Errorf("transport: i2c read: %w", err)
	}
	return buf, nil
}

// SetClockFrequency implements Transport by forwarding to the bus's own
// speed control, as applied during activation from the CIP's I²C-PLP.
func (t *I2CTransport) SetClockFrequency(hz int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if setter, ok := t.bus.(interface{ SetSpeed(physic.Frequency) error }); ok {
		return setter.SetSpeed(physic.Frequency(hz) * physic.Hertz)
	}
	return fmt.Errorf("transport: i2c bus %s does not support SetSpeed", t.bus)
}

// SetBusTimeout records the low-level bus timeout. periph's i2c.Bus has no
// explicit per-call timeout knob, so the value is only stored: Transmit and
// Receive do not use it to bound a Tx call.
func (t *I2CTransport) SetBusTimeout(d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
	return nil
}

// SetSlaveAddress changes the I²C address the device talks to.
func (t *I2CTransport) SetSlaveAddress(addr uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dev.Addr = addr
	return nil
}

// Close releases the underlying bus handle.
func (t *I2CTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bus.Close()
}
