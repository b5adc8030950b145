// Package t1prime implements the T=1′ block-chaining engine: activation,
// chained transceive with WTX/IFS renegotiation, retransmission on
// corruption, and the small set of supervisory operations (set_ifsd,
// get/set_bwt, resynch, soft_reset) a caller drives the card with.
//
// Engine owns exactly one session and one transport.Transport. It is not
// safe for concurrent use: callers serialize their own Transceive/Activate
// calls, the same way the reference stack assumes a single in-flight
// exchange per card.
package t1prime

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"blocksec2go/block"
	"blocksec2go/cip"
	"blocksec2go/pcb"
	"blocksec2go/transport"

	log "github.com/sirupsen/logrus"
)

// blockRetryBudget is the total number of attempts a single block exchange
// gets, counting the first, when it hits a receive timeout, a decode failure,
// or (for a request/response S-block exchange) a mismatched response — 2
// retries on top of the first attempt, 3 total, per the reference stack's
// T1PRIME_BLOCK_TRANSCEIVE_RETRIES.
const blockRetryBudget = 3

// maxChunkRounds bounds how many WTX/IFS interjections and NAK-driven
// retransmits a single outgoing chunk can absorb before the engine gives up.
// It is not itself part of the protocol's retry budget — a card is free to
// ask for as many waiting-time extensions as it likes — it is only a guard
// against a misbehaving or miswired card spinning the engine forever.
const maxChunkRounds = 64

// Engine drives one card through the T=1′ state machine over a
// transport.Transport.
type Engine struct {
	transport transport.Transport
	sess      *session
	activated bool
	log       *log.Entry
}

// NewEngine builds an Engine around tr. logger may be nil, in which case
// logrus's standard logger is used.
func NewEngine(tr transport.Transport, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{
		transport: tr,
		sess:      newSession(),
		log:       logger.WithField("component", "t1prime"),
	}
}

// Activate runs the six-step activation sequence: restore session defaults,
// wake the transport, exchange S(CIP request)/S(CIP response), apply the
// negotiated DLLP and (if present) I²C-PLP parameters, then RESYNCH.
func (e *Engine) Activate(ctx context.Context) error {
	e.activated = false
	e.sess = newSession()

	if _, err := e.transport.Activate(ctx); err != nil {
		return wrapErr(KindInvalidProtocolStack, "transport activation failed", err)
	}

	cipReq := block.Block{NAD: block.NADHost, PCB: pcb.S(pcb.SCIP, pcb.DirRequest)}
	resp, err := e.exchangeSRequest(ctx, cipReq, matchSResponse(pcb.SCIP))
	if err != nil {
		return err
	}

	parsed, err := cip.Parse(resp.Info)
	if err != nil {
		if ce, ok := err.(*cip.Error); ok && ce.Kind == cip.KindInvalidPlid {
			return wrapErr(KindInvalidPlid, "parsing CIP descriptor", err)
		}
		return wrapErr(KindInvalidCipField, "parsing CIP descriptor", err)
	}
	dllp, err := cip.ParseDLLP(parsed.DLLP)
	if err != nil {
		return wrapErr(KindInvalidCipField, "parsing DLLP sub-record", err)
	}
	e.sess.setBWT(time.Duration(dllp.BWT) * time.Millisecond)
	e.sess.setIFSC(dllp.IFSC)

	if parsed.PLID == cip.PLIDI2C {
		plp, err := cip.ParseI2CPLP(parsed.PLP)
		if err != nil {
			return wrapErr(KindInvalidCipField, "parsing I2C PLP sub-record", err)
		}
		if err := e.transport.SetClockFrequency(int(plp.MCF) * 1000); err != nil {
			return wrapErr(KindInvalidProtocolStack, "applying negotiated clock frequency", err)
		}
		e.sess.setPolling(plp.MPOT)
		if err := e.transport.SetBusTimeout(e.sess.bwt); err != nil {
			return wrapErr(KindInvalidProtocolStack, "applying bus timeout", err)
		}
	}

	resynchReq := block.Block{NAD: block.NADHost, PCB: pcb.S(pcb.SResynch, pcb.DirRequest)}
	if _, err := e.exchangeSRequest(ctx, resynchReq, matchSResponse(pcb.SResynch)); err != nil {
		return err
	}
	e.sess.resetCounters()
	e.activated = true
	e.log.WithFields(log.Fields{"ifsc": e.sess.ifsc, "bwt": e.sess.bwt, "plid": parsed.PLID}).Debug("activated")
	return nil
}

// Resynch sends S(RESYNCH request) and resets both sequence counters on a
// matching response.
func (e *Engine) Resynch(ctx context.Context) error {
	req := block.Block{NAD: block.NADHost, PCB: pcb.S(pcb.SResynch, pcb.DirRequest)}
	if _, err := e.exchangeSRequest(ctx, req, matchSResponse(pcb.SResynch)); err != nil {
		return err
	}
	e.sess.resetCounters()
	return nil
}

// SoftReset sends S(SWR request) and resets both sequence counters on a
// matching response.
func (e *Engine) SoftReset(ctx context.Context) error {
	req := block.Block{NAD: block.NADHost, PCB: pcb.S(pcb.SSWR, pcb.DirRequest)}
	if _, err := e.exchangeSRequest(ctx, req, matchSResponse(pcb.SSWR)); err != nil {
		return err
	}
	e.sess.resetCounters()
	return nil
}

// SetIFSD negotiates the information field size the card may use when
// sending to the host. n must be in [1, 0xFF9].
func (e *Engine) SetIFSD(ctx context.Context, n int) error {
	if n < 1 || n > maxIFSC {
		return newErr(KindIllegalArgument, fmt.Sprintf("ifsd %d out of range [1, %d]", n, maxIFSC))
	}
	info := encodeIFS(uint16(n))
	req := block.Block{NAD: block.NADHost, PCB: pcb.S(pcb.SIFS, pcb.DirRequest), Info: info}
	validate := func(resp block.Block) error {
		if err := matchSResponse(pcb.SIFS)(resp); err != nil {
			return err
		}
		if !bytes.Equal(resp.Info, info) {
			return newErr(KindInvalidBlock, "IFS response did not echo the requested value")
		}
		return nil
	}
	_, err := e.exchangeSRequest(ctx, req, validate)
	return err
}

// Activated reports whether Activate has completed successfully.
func (e *Engine) Activated() bool { return e.activated }

// GetBWT returns the block waiting time currently in effect.
func (e *Engine) GetBWT() time.Duration { return e.sess.bwt }

// SetBWT overrides the block waiting time locally, without talking to the
// card. Used to apply an operator override after activation.
func (e *Engine) SetBWT(d time.Duration) { e.sess.setBWT(d) }

// Transceive sends request as a chain of I-blocks no larger than the
// negotiated IFSC, then collects the card's chained I-block response.
func (e *Engine) Transceive(ctx context.Context, request []byte) ([]byte, error) {
	if !e.activated {
		return nil, newErr(KindInvalidProtocolStack, "engine has not been activated")
	}
	if len(request) == 0 {
		return nil, newErr(KindIllegalArgument, "empty request")
	}

	seed, err := e.sendChain(ctx, request)
	if err != nil {
		return nil, err
	}
	return e.receiveChain(ctx, seed)
}

// sendChain drives the send direction (§4.E.2): chunk request into pieces no
// larger than the current IFSC, send each as an I-block, and handle every
// interjection (WTX, IFS, NAK-retransmit, ABORT) the card can make in
// between. It returns a non-nil seed block only when the card answered the
// final chunk directly with an I-block (a combined ack-and-first-response),
// in which case the caller must not perform its own first read.
func (e *Engine) sendChain(ctx context.Context, request []byte) (*block.Block, error) {
	cursor := 0
	total := len(request)

	for cursor < total {
		chunkLen := int(e.sess.ifsc)
		if remaining := total - cursor; remaining < chunkLen {
			chunkLen = remaining
		}
		chunk := request[cursor : cursor+chunkLen]
		more := cursor+chunkLen < total
		ns := e.sess.s

		pending := block.Block{NAD: block.NADHost, PCB: pcb.I(ns, more), Info: chunk}

		advanced := false
		for round := 0; !advanced; round++ {
			if round >= maxChunkRounds {
				return nil, newErr(KindInvalidBlock, "exceeded chunk interjection guard")
			}
			if err := e.sendBlock(ctx, pending); err != nil {
				return nil, wrapErr(KindInvalidProtocolStack, "transmitting I-block", err)
			}
			resp, err := e.readBlockWithRetry(ctx, e.sess.r)
			if err != nil {
				return nil, err
			}

			switch resp.PCB.Class {
			case pcb.ClassI:
				if more {
					return nil, newErr(KindInvalidBlock, "received I-block while chunks remain to be sent")
				}
				e.sess.toggleS()
				return &resp, nil

			case pcb.ClassR:
				if resp.PCB.RKind != pcb.RAck {
					return nil, newErr(KindInvalidBlock, "unexpected R-block error indication during send")
				}
				switch resp.PCB.NR {
				case ns ^ 1:
					e.sess.toggleS()
					cursor += chunkLen
					advanced = true
				case ns:
					// card asks for the same chunk again; pending is already correct
				default:
					return nil, newErr(KindInvalidBlock, "R-block N(R) out of range")
				}

			case pcb.ClassS:
				switch {
				case resp.PCB.Subtype == pcb.SWTX && resp.PCB.Dir == pcb.DirRequest:
					e.sess.beginWTX(decodeWTXMultiplier(resp.Info))
					pending = block.Block{NAD: block.NADHost, PCB: pcb.S(pcb.SWTX, pcb.DirResponse), Info: resp.Info}

				case resp.PCB.Subtype == pcb.SIFS && resp.PCB.Dir == pcb.DirRequest:
					newIFSC, ierr := decodeIFS(resp.Info)
					if ierr != nil {
						return nil, wrapErr(KindInvalidBlock, "decoding card-requested IFSC", ierr)
					}
					e.sess.setIFSC(newIFSC)
					if int(newIFSC) < chunkLen {
						chunkLen = int(newIFSC)
						chunk = chunk[:chunkLen]
						more = cursor+chunkLen < total
					}
					pending = block.Block{NAD: block.NADHost, PCB: pcb.S(pcb.SIFS, pcb.DirResponse), Info: resp.Info}

				case resp.PCB.Subtype == pcb.SAbort && resp.PCB.Dir == pcb.DirRequest:
					abortResp := block.Block{NAD: block.NADHost, PCB: pcb.S(pcb.SAbort, pcb.DirResponse)}
					_ = e.sendBlock(ctx, abortResp)
					return nil, newErr(KindTransceiveAborted, "card requested ABORT during send")

				default:
					return nil, newErr(KindInvalidBlock, "unexpected S-block during send")
				}

			default:
				return nil, newErr(KindInvalidBlock, "unrecognized block class during send")
			}

			if !advanced {
				// Retransmitting the same (possibly resized) I-block needs a
				// fresh pending value when the interjection branch above
				// didn't already set one (the N(R)==ns case).
				if resp.PCB.Class == pcb.ClassR {
					pending = block.Block{NAD: block.NADHost, PCB: pcb.I(ns, more), Info: chunk}
				}
			}
		}
	}
	return nil, nil
}

// receiveChain drives the receive direction (§4.E.3). seed, if non-nil, is
// the first I-block already read by sendChain; otherwise the first block is
// read fresh.
func (e *Engine) receiveChain(ctx context.Context, seed *block.Block) ([]byte, error) {
	var accum []byte
	first := true

	for {
		var resp block.Block
		if first && seed != nil {
			resp = *seed
		} else {
			r, err := e.readBlockWithRetry(ctx, e.sess.r)
			if err != nil {
				return nil, err
			}
			resp = r
		}
		first = false

		switch resp.PCB.Class {
		case pcb.ClassI:
			if resp.PCB.NS != e.sess.r {
				return nil, newErr(KindInvalidBlock, "I-block N(S) does not match expected N(R)")
			}
			accum = append(accum, resp.Info...)
			e.sess.toggleR()
			if resp.PCB.More {
				ack := block.Block{NAD: block.NADHost, PCB: pcb.R(e.sess.r, pcb.RAck)}
				if err := e.sendBlock(ctx, ack); err != nil {
					return nil, wrapErr(KindInvalidProtocolStack, "transmitting ack", err)
				}
				continue
			}
			return accum, nil

		case pcb.ClassR:
			if resp.PCB.NR == e.sess.s {
				// Card missed our last ack and is asking for it again.
				ack := block.Block{NAD: block.NADHost, PCB: pcb.R(e.sess.r, pcb.RAck)}
				if err := e.sendBlock(ctx, ack); err != nil {
					return nil, wrapErr(KindInvalidProtocolStack, "retransmitting ack", err)
				}
				continue
			}
			return nil, newErr(KindInvalidBlock, "unexpected R-block during receive")

		case pcb.ClassS:
			if resp.PCB.Subtype == pcb.SAbort && resp.PCB.Dir == pcb.DirRequest {
				abortResp := block.Block{NAD: block.NADHost, PCB: pcb.S(pcb.SAbort, pcb.DirResponse)}
				_ = e.sendBlock(ctx, abortResp)
				return nil, newErr(KindTransceiveAborted, "card requested ABORT during receive")
			}
			return nil, newErr(KindInvalidBlock, "unexpected S-block during receive")

		default:
			return nil, newErr(KindInvalidBlock, "unrecognized block class during receive")
		}
	}
}

// sendBlock encodes and transmits b.
func (e *Engine) sendBlock(ctx context.Context, b block.Block) error {
	return e.transport.Transmit(ctx, block.Encode(b))
}

// readBlock polls for a card-originated block within the current BWT
// window (extended by any pending WTX, which is consumed once a NAD byte
// arrives), then reads and decodes the full frame.
func (e *Engine) readBlock(ctx context.Context) (block.Block, error) {
	deadline := time.Now().Add(e.sess.bwt).Add(e.sess.pendingWTX)

	nad, err := e.pollNAD(ctx, deadline)
	if err != nil {
		return block.Block{}, err
	}
	e.sess.consumeWTX()

	prologueTail, err := e.transport.Receive(ctx, 3)
	if err != nil {
		return block.Block{}, wrapErr(KindTooLittleData, "reading pcb/length", err)
	}
	length := int(binary.BigEndian.Uint16(prologueTail[1:3]))
	info, err := e.transport.Receive(ctx, length)
	if err != nil {
		return block.Block{}, wrapErr(KindTooLittleData, "reading information field", err)
	}
	crc, err := e.transport.Receive(ctx, 2)
	if err != nil {
		return block.Block{}, wrapErr(KindTooLittleData, "reading crc", err)
	}

	raw := make([]byte, 0, 4+length+2)
	raw = append(raw, nad)
	raw = append(raw, prologueTail...)
	raw = append(raw, info...)
	raw = append(raw, crc...)

	b, err := block.Decode(raw)
	if err != nil {
		return block.Block{}, wrapBlockErr(err)
	}
	return b, nil
}

// pollNAD reads single bytes until one is neither an idle byte (0x00) nor a
// bus-idle high byte (0xFF), sleeping the card's minimum polling time
// between reads, bounded by deadline.
func (e *Engine) pollNAD(ctx context.Context, deadline time.Time) (byte, error) {
	for {
		if time.Now().After(deadline) {
			return 0, newErr(KindTooLittleData, "NAD poll window elapsed with no response")
		}
		b, err := e.transport.Receive(ctx, 1)
		if err != nil {
			return 0, wrapErr(KindTooLittleData, "polling for NAD", err)
		}
		if b[0] != 0x00 && b[0] != 0xFF {
			return b[0], nil
		}
		select {
		case <-ctx.Done():
			return 0, wrapErr(KindTooLittleData, "context cancelled during NAD poll", ctx.Err())
		case <-time.After(time.Duration(e.sess.mpot) * 100 * time.Microsecond):
		}
	}
}

// readBlockWithRetry reads one block, retrying on decode/timeout failure by
// sending R(crc_error, N(R)=nr) before trying again, up to the shared retry
// budget. It performs no semantic validation of the decoded block — that is
// the caller's job, and a semantic mismatch there is a terminal protocol
// error, not a retry trigger, except in the single-shot request/response
// helper (exchangeSRequest) used for the supervisory S-block exchanges.
func (e *Engine) readBlockWithRetry(ctx context.Context, nr byte) (block.Block, error) {
	var lastErr error
	for attempt := 0; attempt < blockRetryBudget; attempt++ {
		if attempt > 0 {
			nak := block.Block{NAD: block.NADHost, PCB: pcb.R(nr, pcb.RCrcError)}
			if err := e.sendBlock(ctx, nak); err != nil {
				return block.Block{}, wrapErr(KindInvalidProtocolStack, "transmitting crc-error ack", err)
			}
		}
		resp, err := e.readBlock(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return block.Block{}, exhaustedErr(lastErr)
}

// exchangeSRequest sends req and expects a single matching response,
// resending req unchanged on either a decode failure or a semantic mismatch
// — the request was itself a request S-block, so the retransmission
// exception in §4.E.4 applies.
func (e *Engine) exchangeSRequest(ctx context.Context, req block.Block, validate func(block.Block) error) (block.Block, error) {
	var lastErr error
	for attempt := 0; attempt < blockRetryBudget; attempt++ {
		if err := e.sendBlock(ctx, req); err != nil {
			return block.Block{}, wrapErr(KindInvalidProtocolStack, "transmitting request", err)
		}
		resp, err := e.readBlock(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if verr := validate(resp); verr != nil {
			lastErr = verr
			continue
		}
		return resp, nil
	}
	return block.Block{}, exhaustedErr(lastErr)
}

// matchSResponse builds a validator accepting only a response S-block of
// the given subtype.
func matchSResponse(want pcb.SSubtype) func(block.Block) error {
	return func(resp block.Block) error {
		if resp.PCB.Class != pcb.ClassS || resp.PCB.Subtype != want || resp.PCB.Dir != pcb.DirResponse {
			return newErr(KindInvalidBlock, fmt.Sprintf("expected S-block response subtype %d, got class=%d subtype=%d dir=%d",
				want, resp.PCB.Class, resp.PCB.Subtype, resp.PCB.Dir))
		}
		return nil
	}
}

// exhaustedErr turns the last error from an exhausted retry budget into a
// t1prime Error: TooLittleData when nothing ever arrived, InvalidBlock
// otherwise (corruption or mismatch that did get a reply).
func exhaustedErr(lastErr error) error {
	if isTooLittleData(lastErr) {
		return newErr(KindTooLittleData, fmt.Sprintf("retry budget exhausted: %v", lastErr))
	}
	return wrapErr(KindInvalidBlock, "retry budget exhausted", lastErr)
}

func isTooLittleData(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindTooLittleData
}

// wrapBlockErr maps a block.Error's Kind onto the matching t1prime Kind.
func wrapBlockErr(err error) error {
	be, ok := err.(*block.Error)
	if !ok {
		return wrapErr(KindInvalidBlock, "decoding block", err)
	}
	switch be.Kind {
	case block.KindTooLittleData:
		return wrapErr(KindTooLittleData, "decoding block", err)
	case block.KindLengthMismatch:
		return wrapErr(KindLengthMismatch, "decoding block", err)
	case block.KindInvalidCrc:
		return wrapErr(KindInvalidCrc, "decoding block", err)
	default:
		return wrapErr(KindInvalidBlock, "decoding block", err)
	}
}

// decodeWTXMultiplier reads the single-byte waiting-time multiplier a
// S(WTX request) carries; a missing or empty field is treated as 1.
func decodeWTXMultiplier(info []byte) uint16 {
	if len(info) == 0 {
		return 1
	}
	return uint16(info[0])
}

// encodeIFS encodes an information field size per §6: one byte if it fits in
// 0xFE, otherwise three bytes `0x00 | MSB | LSB`.
func encodeIFS(n uint16) []byte {
	if n <= 0xFE {
		return []byte{byte(n)}
	}
	return []byte{0x00, byte(n >> 8), byte(n)}
}

// decodeIFS decodes an information field size encoded per encodeIFS.
func decodeIFS(data []byte) (uint16, error) {
	switch len(data) {
	case 1:
		return uint16(data[0]), nil
	case 3:
		return binary.BigEndian.Uint16(data[1:3]), nil
	default:
		return 0, fmt.Errorf("t1prime: ifs field must be 1 or 3 bytes, got %d", len(data))
	}
}
