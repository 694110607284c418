package pointer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name    string
		current string
		length  int
		want    string
	}{
		{"simple", "0010", 3, "0013"},
		{"wrap", "ffff", 1, "0000"},
		{"wrap past zero", "fffe", 5, "0003"},
		{"zero length", "00ab", 0, "00ab"},
		{"short input is padded", "a", 1, "000b"},
		{"upper case input", "00FF", 1, "0100"},
		{"prefixed input", "0x1000", 15, "100f"},
		{"wide input keeps low 16 bits", "12345", 0, "2345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.current, tt.length)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextMatchesModularSum(t *testing.T) {
	for _, start := range []uint16{0, 1, 0x7fff, 0xfff0, 0xffff} {
		for _, length := range []int{0, 1, 2, 15, 16, 0xffff, 0x10000, 0x10001} {
			got, err := Next(Format(start), length)
			require.NoError(t, err)
			want := Format(uint16((int(start) + length) % 0x10000))
			assert.Equal(t, want, got, "start=%04x length=%d", start, length)
			assert.GreaterOrEqual(t, len(got), 4)
		}
	}
}

func TestNextRejectsBadInput(t *testing.T) {
	_, err := Next("zz", 1)
	assert.ErrorIs(t, err, ErrInvalidPointer)

	_, err = Next("", 1)
	assert.ErrorIs(t, err, ErrInvalidPointer)

	_, err = Next("0000", -1)
	assert.ErrorIs(t, err, ErrInvalidPointer)
}

func TestFromLittleEndian(t *testing.T) {
	assert.Equal(t, "1234", FromLittleEndian([]byte{0x34, 0x12, 0xff, 0xff}))
	assert.Equal(t, "0003", FromLittleEndian([]byte{0x03, 0x00}))
	assert.Equal(t, "0007", FromLittleEndian([]byte{0x07}))
	assert.Equal(t, "0000", FromLittleEndian(nil))
}
