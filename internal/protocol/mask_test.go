package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestMaskWireWidthPerVariant(t *testing.T) {
	for _, ports := range []int{8, 16, 32, 64, 128} {
		digits := MaskDigitsForPorts(ports)
		if digits != ports/4 {
			t.Fatalf("ports=%d: digits = %d, want %d", ports, digits, ports/4)
		}
		all := AllOnes(digits)
		if got := all.String(); got != strings.Repeat("f", digits) {
			t.Fatalf("ports=%d: all-ones renders %q", ports, got)
		}
		parsed, err := ParseMask(all.String(), digits)
		if err != nil {
			t.Fatalf("ports=%d: parse round trip: %v", ports, err)
		}
		if !parsed.Equal(all) {
			t.Fatalf("ports=%d: round trip lost bits", ports)
		}
		if zero := NewMask(digits); zero.String() != strings.Repeat("0", digits) {
			t.Fatalf("ports=%d: zero renders %q", ports, zero.String())
		}
	}
}

func TestMaskKeepsLeadingZerosAt128Bits(t *testing.T) {
	text := "80000000000000000000000000000001"
	m, err := ParseMask(text, 32)
	if err != nil {
		t.Fatalf("parse 128-bit mask: %v", err)
	}
	if !m.Bit(0) || !m.Bit(127) || m.Bit(64) {
		t.Fatalf("bit extraction wrong for %q", text)
	}
	if got := m.String(); got != text {
		t.Fatalf("render = %q, want %q", got, text)
	}
	low := m.WithBit(127, false)
	if got := low.String(); got != "00000000000000000000000000000001" {
		t.Fatalf("cleared high bit renders %q", got)
	}
	if _, ok := m.Uint64(); ok {
		t.Fatal("128-bit value reported as fitting uint64")
	}
}

func TestParseMaskRejectsMalformedFields(t *testing.T) {
	cases := []struct {
		text   string
		digits int
	}{
		{"0f", 4},      // short
		{"00ff0", 4},   // long
		{"0g0f", 4},    // non-hex
		{"00 f", 4},    // embedded space
		{"", 2},        // empty
	}
	for _, tc := range cases {
		if _, err := ParseMask(tc.text, tc.digits); !errors.Is(err, ErrProtocol) {
			t.Fatalf("ParseMask(%q, %d): %v, want ErrProtocol", tc.text, tc.digits, err)
		}
	}
	// Case-insensitive on the way in, lowercase on the way out.
	m, err := ParseMask("00FF", 4)
	if err != nil {
		t.Fatalf("uppercase mask: %v", err)
	}
	if m.String() != "00ff" {
		t.Fatalf("uppercase mask renders %q", m.String())
	}
}

func TestMaskBitwiseOps(t *testing.T) {
	a := MaskFromUint64(0x0f0, 4)
	b := MaskFromUint64(0x0ff, 4)
	if got := a.And(b).String(); got != "00f0" {
		t.Fatalf("and = %q", got)
	}
	if got := a.Or(b).String(); got != "00ff" {
		t.Fatalf("or = %q", got)
	}
	if got := a.Xor(b).String(); got != "000f" {
		t.Fatalf("xor = %q", got)
	}
	if got := a.Not().String(); got != "ff0f" {
		t.Fatalf("not = %q", got)
	}
	if !a.Xor(a).IsZero() {
		t.Fatal("self-xor not zero")
	}
	set := NewMask(4).WithBit(3, true)
	if got := set.String(); got != "0008" {
		t.Fatalf("with bit 3 = %q", got)
	}
	if v, ok := set.Uint64(); !ok || v != 8 {
		t.Fatalf("uint64 = %d, %v", v, ok)
	}
}

func TestMaskFromUint64TruncatesToWidth(t *testing.T) {
	m := MaskFromUint64(0x1ff, 2)
	if got := m.String(); got != "ff" {
		t.Fatalf("truncated mask = %q, want ff", got)
	}
}
