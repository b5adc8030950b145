package block

import (
	"bytes"
	"testing"

	"blocksec2go/pcb"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Block{
		{NAD: NADHost, PCB: pcb.I(0, false), Info: []byte{0x01, 0x02}},
		{NAD: NADHost, PCB: pcb.I(1, true), Info: []byte{}},
		{NAD: 0x12, PCB: pcb.R(0, pcb.RAck), Info: []byte{}},
		{NAD: NADHost, PCB: pcb.S(pcb.SCIP, pcb.DirRequest), Info: []byte{}},
		{NAD: 0x12, PCB: pcb.S(pcb.SWTX, pcb.DirResponse), Info: []byte{0x10}},
	}
	for i, b := range cases {
		raw := Encode(b)
		got, err := Decode(raw)
		if err != nil {
			t.Fatalf("case %d: decode(encode(b)) failed: %v", i, err)
		}
		if got.NAD != b.NAD || got.PCB != b.PCB || !bytes.Equal(got.Info, b.Info) {
			t.Fatalf("case %d: roundtrip mismatch: got %+v, want %+v", i, got, b)
		}
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	raw := Encode(Block{NAD: NADHost, PCB: pcb.I(0, true), Info: []byte{0xAA, 0xBB, 0xCC}})
	b, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	again := Encode(b)
	if !bytes.Equal(raw, again) {
		t.Fatalf("encode(decode(x)) != x: %x vs %x", again, raw)
	}
}

func TestDecodeTooLittleData(t *testing.T) {
	_, err := Decode([]byte{0x21, 0x00, 0x00})
	assertKind(t, err, KindTooLittleData)
}

func TestDecodeLengthMismatch(t *testing.T) {
	// LEN says 2 bytes of info but only 1 is present.
	raw := []byte{0x21, 0x00, 0x00, 0x02, 0xAA, 0x00, 0x00}
	_, err := Decode(raw)
	assertKind(t, err, KindLengthMismatch)
}

func TestDecodeInvalidCrc(t *testing.T) {
	raw := Encode(Block{NAD: NADHost, PCB: pcb.I(0, false), Info: []byte{0x01, 0x02}})
	raw[len(raw)-1] ^= 0xFF
	_, err := Decode(raw)
	assertKind(t, err, KindInvalidCrc)
}

func TestCase1WireBytes(t *testing.T) {
	// §8 scenario 1: host sends NAD=21 PCB=00 LEN=0002 INFO=01 02.
	raw := Encode(Block{NAD: NADHost, PCB: pcb.I(0, false), Info: []byte{0x01, 0x02}})
	if raw[0] != 0x21 || raw[1] != 0x00 || raw[2] != 0x00 || raw[3] != 0x02 || raw[4] != 0x01 || raw[5] != 0x02 {
		t.Fatalf("unexpected prologue/info: % x", raw[:6])
	}
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	be, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *block.Error, got %T (%v)", err, err)
	}
	if be.Kind != want {
		t.Fatalf("got kind %v, want %v", be.Kind, want)
	}
}
