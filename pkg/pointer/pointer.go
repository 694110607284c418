// Package pointer implements the 16-bit instruction pointer arithmetic used by
// recorded snapshots. Addresses are rendered as lower-case hex of at least
// four digits and wrap modulo 0x10000.
package pointer

import (
	"errors"
	"fmt"
	"strconv"
)

// Width is the number of bytes of the instruction pointer register kept.
const Width = 2

// Mask keeps the low 16 bits of an address.
const Mask = 0xFFFF

// ErrInvalidPointer is returned when a pointer string is not base-16.
var ErrInvalidPointer = errors.New("invalid instruction pointer")

// Parse reads a hex address and keeps its low 16 bits. An optional "0x"
// prefix is accepted.
func Parse(s string) (uint16, error) {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPointer)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidPointer, s, err)
	}
	return uint16(v & Mask), nil
}

// Format renders an address as lower-case hex padded to four digits.
func Format(addr uint16) string {
	return fmt.Sprintf("%04x", addr)
}

// Next returns the address following an instruction of length bytes at
// current. The sum wraps at 0x10000.
func Next(current string, length int) (string, error) {
	if length < 0 {
		return "", fmt.Errorf("%w: negative instruction length %d", ErrInvalidPointer, length)
	}
	addr, err := Parse(current)
	if err != nil {
		return "", err
	}
	return Format(uint16((uint64(addr) + uint64(length)) & Mask)), nil
}

// FromLittleEndian renders the low Width bytes of a little-endian register
// value as hex, most significant byte first. Missing bytes read as zero.
func FromLittleEndian(raw []byte) string {
	var buf [Width]byte
	copy(buf[:], raw)
	return fmt.Sprintf("%02x%02x", buf[1], buf[0])
}
