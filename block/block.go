// Package block implements the T=1′ block codec: the prologue/information/
// epilogue framing, the 16-bit CCITT-X.25 CRC, and the mapping to and from
// the three-way PCB classification in package pcb.
package block

import (
	"encoding/binary"
	"fmt"

	"blocksec2go/pcb"
)

// NADHost is the node-address byte used for every host-to-card block.
const NADHost = 0x21

// Kind categorizes decode/encode failures at the block-codec layer. The
// engine decides what to do about each; this package never retries.
type Kind uint8

const (
	// KindTooLittleData: fewer than 6 bytes. A declared LEN that does not
	// fit the available bytes is KindLengthMismatch.
	KindTooLittleData Kind = iota
	// KindLengthMismatch: input length disagrees with 4+LEN+2.
	KindLengthMismatch
	// KindInvalidCrc: the recomputed CRC does not match the epilogue.
	KindInvalidCrc
)

// Error is returned by Decode.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return "block: " + e.Msg }

// Block is a single T=1′ block, after its PCB byte has been classified.
// Info is never nil for a successfully decoded block: a zero-length field
// decodes to an empty, non-nil slice. Hand-built blocks may leave Info nil;
// Encode writes nil and empty Info identically (LEN=0), since the wire form
// cannot tell them apart.
type Block struct {
	NAD  byte
	PCB  pcb.PCB
	Info []byte
}

// Encode serializes b to its wire form: prologue ‖ information ‖ epilogue,
// with a freshly computed CRC.
func Encode(b Block) []byte {
	n := len(b.Info)
	out := make([]byte, 4+n+2)
	out[0] = b.NAD
	out[1] = b.PCB.Byte()
	binary.BigEndian.PutUint16(out[2:4], uint16(n))
	copy(out[4:4+n], b.Info)
	crc := crc16X25(out[:4+n])
	binary.BigEndian.PutUint16(out[4+n:], crc)
	return out
}

// Decode parses raw into a Block. raw must be exactly 4+LEN+2 bytes long
// and carry a matching CRC.
func Decode(raw []byte) (Block, error) {
	if len(raw) < 6 {
		return Block{}, &Error{Kind: KindTooLittleData, Msg: fmt.Sprintf("need at least 6 bytes, got %d", len(raw))}
	}
	length := int(binary.BigEndian.Uint16(raw[2:4]))
	if len(raw) != 4+length+2 {
		return Block{}, &Error{Kind: KindLengthMismatch, Msg: fmt.Sprintf("declared LEN=%d implies %d bytes, got %d", length, 4+length+2, len(raw))}
	}
	want := binary.BigEndian.Uint16(raw[4+length:])
	got := crc16X25(raw[:4+length])
	if want != got {
		return Block{}, &Error{Kind: KindInvalidCrc, Msg: fmt.Sprintf("crc mismatch: epilogue=%04x computed=%04x", want, got)}
	}
	info := make([]byte, length)
	copy(info, raw[4:4+length])
	return Block{
		NAD:  raw[0],
		PCB:  pcb.Classify(raw[1]),
		Info: info,
	}, nil
}
