package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		Memory: MemoryData{Regions: []MemoryRegion{
			{Address: 0, Data: []byte{0x40, 0x90}},
			{Address: 0x1000, Data: []byte{1, 2, 3, 4}},
		}},
		Registers:          []Register{{ID: "EAX", Value: []byte{1, 0, 0, 0}}},
		CurrentInstruction: Instruction{Address: 0, Bytes: []byte{0x40}, Length: 1, Op: "INC", Text: "inc eax"},
		InstructionPointer: InstructionPointer{Address: "0001"},
		Flags:              []Flag{{ID: "ZF", Set: false}},
		AccessedElements:   AccessedElements{Registers: []RegisterID{"EAX"}},
		ByteInformation:    ByteInformation{Bytes: []ByteInfo{{Address: 0, Access: Executed}}},
		ChangeHistory: []Change{{
			Location: Location{Kind: RegisterLocation, Register: "EAX"},
			Old:      []byte{0, 0, 0, 0},
			New:      []byte{1, 0, 0, 0},
		}},
	}
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	s := sampleSnapshot()
	c := s.Clone()
	assert.True(t, s.Equal(c))

	c.Memory.Regions[1].Data[0] = 0xff
	c.Registers[0].Value[0] = 0xff
	c.CurrentInstruction.Bytes[0] = 0xff
	c.Flags[0].Set = true
	c.AccessedElements.Registers[0] = "EBX"
	c.ByteInformation.Bytes[0].Access = Written
	c.ChangeHistory[0].New[0] = 0xff

	assert.True(t, sampleSnapshot().Equal(s))
	assert.False(t, s.Equal(c))
}

func TestSnapshotLookups(t *testing.T) {
	s := sampleSnapshot()

	r, ok := s.Register("EAX")
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 0, 0, 0}, r.Value)
	_, ok = s.Register("EBX")
	assert.False(t, ok)

	f, ok := s.Flag("ZF")
	assert.True(t, ok)
	assert.False(t, f.Set)
	_, ok = s.Flag("CF")
	assert.False(t, ok)
}

func TestMemoryDataByte(t *testing.T) {
	m := sampleSnapshot().Memory

	b, ok := m.Byte(0x1002)
	assert.True(t, ok)
	assert.Equal(t, byte(3), b)

	_, ok = m.Byte(0x1004)
	assert.False(t, ok)
	_, ok = m.Byte(2)
	assert.False(t, ok)
}

func TestAccessKindString(t *testing.T) {
	assert.Equal(t, "---", AccessKind(0).String())
	assert.Equal(t, "x--", Executed.String())
	assert.Equal(t, "-rw", (Read | Written).String())
}

func TestLocationKindString(t *testing.T) {
	assert.Equal(t, "memory", MemoryLocation.String())
	assert.Equal(t, "register", RegisterLocation.String())
	assert.Equal(t, "flag", FlagLocation.String())
	assert.Equal(t, "unknown", LocationKind(9).String())
}
