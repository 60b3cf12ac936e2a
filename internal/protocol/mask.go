package protocol

import (
	"fmt"
	"math/big"
	"strings"
)

// Mask is a fixed-width port bit vector. The width is the variant's mask
// digit count times four bits; rendering and parsing are always exactly that
// many hex digits, 128-port devices included.
type Mask struct {
	digits int
	bits   big.Int
}

// NewMask returns an all-zero mask of the given hex-digit width.
func NewMask(digits int) Mask {
	return Mask{digits: digits}
}

// AllOnes returns a mask with every port bit set.
func AllOnes(digits int) Mask {
	m := Mask{digits: digits}
	one := big.NewInt(1)
	m.bits.Lsh(one, uint(digits)*4)
	m.bits.Sub(&m.bits, one)
	return m
}

// MaskFromUint64 builds a mask from an integer value, truncated to width.
// Convenience for variants up to 64 ports.
func MaskFromUint64(v uint64, digits int) Mask {
	m := Mask{digits: digits}
	m.bits.SetUint64(v)
	return m.trunc()
}

// ParseMask decodes a wire mask field. The text must be exactly digits hex
// characters; anything else is a protocol error.
func ParseMask(text string, digits int) (Mask, error) {
	if len(text) != digits {
		return Mask{}, fmt.Errorf("%w: mask %q has %d digits, want %d",
			ErrProtocol, text, len(text), digits)
	}
	for _, c := range text {
		if !isHexDigit(byte(c)) {
			return Mask{}, fmt.Errorf("%w: mask %q contains non-hex character %q",
				ErrProtocol, text, c)
		}
	}
	m := Mask{digits: digits}
	m.bits.SetString(strings.ToLower(text), 16)
	return m, nil
}

// String renders the mask at its exact wire width.
func (m Mask) String() string {
	return fmt.Sprintf("%0*x", m.digits, &m.bits)
}

// Digits returns the hex-digit width of the mask.
func (m Mask) Digits() int {
	return m.digits
}

// Ports returns the number of port bits the mask covers.
func (m Mask) Ports() int {
	return m.digits * 4
}

// Bit reports the level of one port.
func (m Mask) Bit(port int) bool {
	return m.bits.Bit(port) == 1
}

// WithBit returns a copy with one port bit forced to level.
func (m Mask) WithBit(port int, level bool) Mask {
	out := Mask{digits: m.digits}
	v := uint(0)
	if level {
		v = 1
	}
	out.bits.SetBit(&m.bits, port, v)
	return out
}

// Not returns the bitwise complement within the mask width.
func (m Mask) Not() Mask {
	out := Mask{digits: m.digits}
	all := AllOnes(m.digits)
	out.bits.Xor(&m.bits, &all.bits)
	return out
}

// And returns the intersection of two masks of equal width.
func (m Mask) And(other Mask) Mask {
	out := Mask{digits: m.digits}
	out.bits.And(&m.bits, &other.bits)
	return out
}

// Or returns the union of two masks of equal width.
func (m Mask) Or(other Mask) Mask {
	out := Mask{digits: m.digits}
	out.bits.Or(&m.bits, &other.bits)
	return out
}

// Xor returns the changed-bit set between two masks of equal width.
func (m Mask) Xor(other Mask) Mask {
	out := Mask{digits: m.digits}
	out.bits.Xor(&m.bits, &other.bits)
	return out
}

// Equal reports whether two masks carry the same bits.
func (m Mask) Equal(other Mask) bool {
	return m.bits.Cmp(&other.bits) == 0
}

// IsZero reports whether no bit is set.
func (m Mask) IsZero() bool {
	return m.bits.Sign() == 0
}

// Uint64 returns the mask value for variants of up to 64 ports; ok is false
// when the value does not fit.
func (m Mask) Uint64() (uint64, bool) {
	if !m.bits.IsUint64() {
		return 0, false
	}
	return m.bits.Uint64(), true
}

func (m Mask) trunc() Mask {
	all := AllOnes(m.digits)
	out := Mask{digits: m.digits}
	out.bits.And(&m.bits, &all.bits)
	return out
}

func isHexDigit(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'a' && c <= 'f':
		return true
	case c >= 'A' && c <= 'F':
		return true
	}
	return false
}
