package cip

import "testing"

// Scenario 6 from the test plan: a self-description block whose DLLP sets
// BWT=0x0080 and IFSC=0x0080. The PLID byte in this literal vector decodes
// to 0x01 (SPI) under the documented field order — the vector's own prose
// calls it an I²C descriptor, but the bytes are unambiguous once BWT/IFSC
// check out, so this test pins the bytes, not the prose label.
func TestParseScenario6(t *testing.T) {
	raw := []byte{
		0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x0C,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x04, 0x00, 0x80, 0x00, 0x80,
		0x00,
	}
	c, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Version != 0x01 {
		t.Fatalf("version = %#x, want 0x01", c.Version)
	}
	if len(c.IIN) != 3 {
		t.Fatalf("iin length = %d, want 3", len(c.IIN))
	}
	if c.PLID != PLIDSPI {
		t.Fatalf("plid = %#x, want %#x", c.PLID, PLIDSPI)
	}
	if len(c.PLP) != 12 {
		t.Fatalf("plp length = %d, want 12", len(c.PLP))
	}
	dllp, err := ParseDLLP(c.DLLP)
	if err != nil {
		t.Fatalf("ParseDLLP: %v", err)
	}
	if dllp.BWT != 0x0080 || dllp.IFSC != 0x0080 {
		t.Fatalf("dllp = %+v, want BWT=0x0080 IFSC=0x0080", dllp)
	}
}

func TestParseI2CVector(t *testing.T) {
	plp := make([]byte, 8)
	plp[0] = 0x00       // configuration
	plp[1] = 0x05       // power wake-up time
	plp[2], plp[3] = 0x01, 0x90 // mcf = 400 kHz
	plp[4] = 0x0A       // power-save timeout
	plp[5] = 0x0A       // mpot = 10 (x100us)
	plp[6], plp[7] = 0x00, 0x64 // rwgt = 100us

	raw := []byte{0x01, 0x03, 0x00, 0x00, 0x00, PLIDI2C, byte(len(plp))}
	raw = append(raw, plp...)
	raw = append(raw, 0x04, 0x00, 0xC8, 0x00, 0xFE) // dllp: BWT=200, IFSC=254
	raw = append(raw, 0x00)                         // hb_len=0

	c, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.PLID != PLIDI2C {
		t.Fatalf("plid = %#x, want I2C", c.PLID)
	}
	got, err := ParseI2CPLP(c.PLP)
	if err != nil {
		t.Fatalf("ParseI2CPLP: %v", err)
	}
	if got.MCF != 400 || got.MPOT != 10 || got.RWGT != 100 {
		t.Fatalf("i2c plp = %+v", got)
	}
}

func TestParseRejectsShortIINLen(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x00, 0x00, PLIDI2C, 0x08}
	_, err := Parse(raw)
	e, ok := err.(*Error)
	if !ok || e.Kind != KindInvalidLength {
		t.Fatalf("expected KindInvalidLength, got %v", err)
	}
}

func TestParseRejectsBadPlid(t *testing.T) {
	raw := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x09, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00}
	_, err := Parse(raw)
	e, ok := err.(*Error)
	if !ok || e.Kind != KindInvalidPlid {
		t.Fatalf("expected KindInvalidPlid, got %v", err)
	}
}

func TestParseRejectsShortI2CPLPLen(t *testing.T) {
	raw := []byte{0x01, 0x03, 0x00, 0x00, 0x00, PLIDI2C, 0x04, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00}
	_, err := Parse(raw)
	e, ok := err.(*Error)
	if !ok || e.Kind != KindInvalidLength {
		t.Fatalf("expected KindInvalidLength, got %v", err)
	}
}
