package t1prime

import "time"

// maxIFSC is the largest information-field size for the card this engine
// will ever advertise or accept.
const maxIFSC = 0xFF9

const (
	defaultIFSC = 8
	defaultBWT  = 300 * time.Millisecond
	defaultMPOT = 10 // x100us, matches the reference implementation's I2C default
)

// session holds everything persistent across one transceive call: the two
// sequence counters, the negotiated frame sizes, and the pending WTX
// delay. It is owned exclusively by an Engine for the engine's lifetime;
// callers never see it directly, only copies via Engine accessors.
//
// session is not safe for concurrent use — the engine is single-threaded
// cooperative (one transceive in flight at a time), so no mutex is needed.
type session struct {
	s byte // send sequence counter, 0 or 1
	r byte // receive sequence counter, 0 or 1

	ifsc uint16 // information field size for the card
	bwt  time.Duration
	mpot byte // minimum polling time, units of 100us

	pendingWTX time.Duration // consumed on the next successful NAD poll
}

func newSession() *session {
	return &session{
		ifsc: defaultIFSC,
		bwt:  defaultBWT,
		mpot: defaultMPOT,
	}
}

// resetCounters sets both sequence counters to 0, as a successful RESYNCH
// or SWR requires.
func (s *session) resetCounters() {
	s.s = 0
	s.r = 0
}

// setIFSC clamps and stores a new card information field size. Values
// above maxIFSC are clamped, never rejected outright here — callers that
// need to reject an out-of-range IFS value (the host-side §4.E.6 contract)
// validate before calling this.
func (s *session) setIFSC(v uint16) {
	if v > maxIFSC {
		v = maxIFSC
	}
	s.ifsc = v
}

func (s *session) setBWT(d time.Duration) {
	if d > 0 {
		s.bwt = d
	}
}

func (s *session) setPolling(mpot byte) {
	s.mpot = mpot
}

// beginWTX records a card-requested waiting-time extension: multiplier *
// BWT is added to the deadline budget for the block that follows.
func (s *session) beginWTX(multiplier uint16) {
	s.pendingWTX = time.Duration(multiplier) * s.bwt
}

// consumeWTX returns and clears the pending WTX delay.
func (s *session) consumeWTX() time.Duration {
	d := s.pendingWTX
	s.pendingWTX = 0
	return d
}

func (s *session) toggleS() { s.s ^= 1 }
func (s *session) toggleR() { s.r ^= 1 }
