package pcb

import "testing"

func TestClassifyIBlock(t *testing.T) {
	p := Classify(0x20) // bit7=0, NS=0, M=1
	if p.Class != ClassI || p.NS != 0 || !p.More {
		t.Fatalf("got %+v", p)
	}
	p = Classify(0x40) // NS=1, M=0
	if p.Class != ClassI || p.NS != 1 || p.More {
		t.Fatalf("got %+v", p)
	}
}

func TestClassifyRBlock(t *testing.T) {
	p := Classify(0x80) // 10, NR=0, ack
	if p.Class != ClassR || p.NR != 0 || p.RKind != RAck {
		t.Fatalf("got %+v", p)
	}
	p = Classify(0x91) // NR=1, crc error
	if p.Class != ClassR || p.NR != 1 || p.RKind != RCrcError {
		t.Fatalf("got %+v", p)
	}
	p = Classify(0x8F) // unknown low nibble
	if p.RKind != RUnknown {
		t.Fatalf("expected unknown R kind, got %+v", p)
	}
}

func TestClassifySBlock(t *testing.T) {
	p := Classify(0xC4) // request CIP
	if p.Class != ClassS || p.Subtype != SCIP || p.Dir != DirRequest {
		t.Fatalf("got %+v", p)
	}
	p = Classify(0xE4) // response CIP
	if p.Dir != DirResponse {
		t.Fatalf("got %+v", p)
	}
	p = Classify(0xC5) // unknown subtype (5 unused)
	if p.Subtype != SUnknown {
		t.Fatalf("expected unknown subtype, got %+v", p)
	}
}

func TestByteRoundTrip(t *testing.T) {
	vectors := []PCB{
		I(0, false),
		I(1, true),
		R(0, RAck),
		R(1, RCrcError),
		R(0, ROtherError),
		S(SResynch, DirRequest),
		S(SIFS, DirResponse),
		S(SAbort, DirRequest),
		S(SWTX, DirResponse),
		S(SCIP, DirRequest),
		S(SRelease, DirResponse),
		S(SSWR, DirRequest),
	}
	for _, v := range vectors {
		got := Classify(v.Byte())
		if got != v {
			t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, v)
		}
	}
}
