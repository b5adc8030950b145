package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"blocksec2go/block"
	"blocksec2go/pcb"
)

// CardReply is one outbound byte frame a simulated card produces in
// response to something the host transmitted, plus how many idle polling
// bytes (0x00) to emit before the frame's NAD byte — used to exercise the
// engine's bounded NAD-poll loop.
type CardReply struct {
	BusyPolls int
	Frame     []byte
}

// SimTransport is an in-memory, single-threaded simulated smartcard
// transport. It is driven by a Responder callback invoked after every
// Transmit, mirroring the real half-duplex exchange: the host writes a
// block, the card decides what (if anything) to send back. This shape
// lets tests script every scenario in §8 — WTX, IFS renegotiation, CRC
// corruption, ABORT, retransmission — without hardcoding a fixed
// request/response tape, the way a record/replay fake would.
type SimTransport struct {
	mu sync.Mutex

	// Responder is called with the bytes just transmitted and returns the
	// next queue of card replies (usually one, occasionally zero for a
	// block the card silently drops to force a host timeout).
	Responder func(sent []byte) []CardReply

	// ActivateReply is returned verbatim by Activate.
	ActivateReply []byte

	queue      []CardReply
	cur        []byte // bytes of the reply currently being drained
	curOffset  int
	busyLeft   int
	lastSlave  uint16
	lastHz     int
	transmits  [][]byte
}

var _ Transport = (*SimTransport)(nil)

func (s *SimTransport) Activate(ctx context.Context) ([]byte, error) {
	return s.ActivateReply, nil
}

func (s *SimTransport) Transmit(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), data...)
	s.transmits = append(s.transmits, cp)
	if s.Responder != nil {
		s.queue = append(s.queue, s.Responder(cp)...)
	}
	return nil
}

// Receive returns exactly n bytes drawn from the queued card replies. n==1
// calls during NAD polling consume busy-poll bytes (0x00) before the next
// queued frame's real NAD byte.
func (s *SimTransport) Receive(ctx context.Context, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, 0, n)
	for len(out) < n {
		if s.busyLeft > 0 {
			s.busyLeft--
			out = append(out, 0x00)
			continue
		}
		if s.curOffset >= len(s.cur) {
			if len(s.queue) == 0 {
				return nil, fmt.Errorf("transport: sim card has nothing more to send (wanted %d bytes, have %d)", n, len(out))
			}
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.busyLeft = next.BusyPolls
			s.cur = next.Frame
			s.curOffset = 0
			continue
		}
		out = append(out, s.cur[s.curOffset])
		s.curOffset++
	}
	return out, nil
}

func (s *SimTransport) SetClockFrequency(hz int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHz = hz
	return nil
}

func (s *SimTransport) SetBusTimeout(d time.Duration) error { return nil }

func (s *SimTransport) SetSlaveAddress(addr uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSlave = addr
	return nil
}

// Transmits returns every frame the host has sent so far, for assertions.
func (s *SimTransport) Transmits() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.transmits...)
}

// QueueReply pushes one more scripted reply, for responders that want to
// seed replies ahead of time instead of computing them inline.
func (s *SimTransport) QueueReply(r CardReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, r)
}

// LastClockHz returns the frequency passed to the most recent
// SetClockFrequency call, or 0 if it was never called.
func (s *SimTransport) LastClockHz() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHz
}

// LastSlaveAddress returns the address passed to the most recent
// SetSlaveAddress call.
func (s *SimTransport) LastSlaveAddress() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSlave
}

// defaultCIP is a canned CIP response advertising the I²C PLP, used by the
// virtual card NewSimTransport builds for -sim runs. Field layout matches
// §4.C; values mirror the chip's own defaults (IFSC 8, BWT 300ms, MPOT 10).
var defaultCIP = []byte{
	0x01, 0x03, 0x00, 0x00, 0x00, // version, iin_len=3, iin
	0x02, // PLID: I2C
	0x08, // plp_len
	0x00, 0x00, 0x01, 0x90, 0x00, 0x0A, 0x00, 0x64, // Configuration, PWT, MCF, PST, MPOT, RWGT
	0x04,                   // dllp_len
	0x01, 0x2C, 0x00, 0x08, // BWT=0x012C, IFSC=8
	0x00, // hb_len
}

// NewSimTransport builds a SimTransport wired to a minimal virtual card: it
// answers the CIP and RESYNCH exchanges Engine.Activate expects, then
// acknowledges every I-block chunk it receives with a single-block
// response carrying status word 0x9000. It exists for the CLI's -sim mode,
// where no real card is attached; the scripted responders in the t1prime
// and client test suites replace it entirely for scenario-specific tests.
func NewSimTransport() *SimTransport {
	s := &SimTransport{}
	var activated bool
	var cardNS byte
	s.Responder = func(sent []byte) []CardReply {
		b, err := block.Decode(sent)
		if err != nil {
			return nil
		}
		switch b.PCB.Class {
		case pcb.ClassS:
			switch b.PCB.Subtype {
			case pcb.SCIP:
				return []CardReply{{Frame: simBlock(pcb.S(pcb.SCIP, pcb.DirResponse), defaultCIP)}}
			case pcb.SResynch:
				activated = true
				cardNS = 0
				return []CardReply{{Frame: simBlock(pcb.S(pcb.SResynch, pcb.DirResponse), nil)}}
			default:
				return []CardReply{{Frame: simBlock(pcb.S(b.PCB.Subtype, pcb.DirResponse), b.Info)}}
			}
		case pcb.ClassI:
			if !activated || b.PCB.More {
				return []CardReply{{Frame: simBlock(pcb.R(b.PCB.NS^1, pcb.RAck), nil)}}
			}
			reply := simBlock(pcb.I(cardNS, false), []byte{0x90, 0x00})
			cardNS ^= 1
			return []CardReply{{Frame: reply}}
		default:
			return nil
		}
	}
	return s
}

func simBlock(p pcb.PCB, info []byte) []byte {
	return block.Encode(block.Block{NAD: 0x12, PCB: p, Info: info})
}
