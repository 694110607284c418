package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validProgram() Program {
	return Program{
		RegistersToShow:   []RegisterID{"EAX", "EBX"},
		FlagsToShow:       []FlagID{"ZF"},
		MemoryAddress:     0x1000,
		MemorySizeInBytes: 16,
		CodeAddress:       0,
		CodeSizeInBytes:   8,
		Code:              []byte{0x90, 0x90},
	}
}

func TestProgramValidate(t *testing.T) {
	require.NoError(t, validProgram().Validate())

	testCases := []struct {
		name   string
		modify func(p *Program)
	}{
		{"no code", func(p *Program) { p.Code = nil }},
		{"empty code region", func(p *Program) { p.CodeSizeInBytes = 0 }},
		{"code too long", func(p *Program) { p.CodeSizeInBytes = 1 }},
		{"code wraps", func(p *Program) { p.CodeAddress = ^uint64(0) - 2 }},
		{"memory wraps", func(p *Program) { p.MemoryAddress = ^uint64(0) - 4 }},
		{"overlap", func(p *Program) { p.MemoryAddress = 4 }},
		{"duplicate register", func(p *Program) { p.RegistersToShow = []RegisterID{"EAX", "EAX"} }},
		{"duplicate flag", func(p *Program) { p.FlagsToShow = []FlagID{"CF", "CF"} }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := validProgram()
			tc.modify(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidProgram)
		})
	}

	// A zero-sized memory region never overlaps.
	p := validProgram()
	p.MemoryAddress = 0
	p.MemorySizeInBytes = 0
	assert.NoError(t, p.Validate())
}

func TestProgramRegions(t *testing.T) {
	p := validProgram()
	p.CodeAddress = 0x2000

	regions := p.Regions()
	require.Len(t, regions, 2)
	assert.Equal(t, uint64(0x1000), regions[0].Address)
	assert.Len(t, regions[0].Data, 16)
	assert.Equal(t, uint64(0x2000), regions[1].Address)
	assert.Len(t, regions[1].Data, 8)

	p.MemorySizeInBytes = 0
	assert.Len(t, p.Regions(), 1)
}

func TestProgramClone(t *testing.T) {
	p := validProgram()
	c := p.Clone()
	c.Code[0] = 0xcc
	c.RegistersToShow[0] = "ECX"
	assert.Equal(t, byte(0x90), p.Code[0])
	assert.Equal(t, RegisterID("EAX"), p.RegistersToShow[0])
}
