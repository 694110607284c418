package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/ChronoCPU/pkg/state"
)

func snapshotAt(i int) state.Snapshot {
	return state.Snapshot{
		Memory: state.MemoryData{Regions: []state.MemoryRegion{
			{Address: 0x100, Data: []byte{byte(i), byte(i + 1)}},
		}},
		Registers:          []state.Register{{ID: "EAX", Value: []byte{byte(i), 0, 0, 0}}},
		CurrentInstruction: state.Instruction{Address: uint64(i), Bytes: []byte{0x90}, Length: 1, Op: "NOP"},
		InstructionPointer: state.InstructionPointer{Address: fmt.Sprintf("%04x", i)},
		Flags:              []state.Flag{{ID: "ZF", Set: i%2 == 0}},
		AccessedElements:   state.AccessedElements{Registers: []state.RegisterID{"EAX"}},
		ByteInformation:    state.ByteInformation{Bytes: []state.ByteInfo{{Address: 0x100, Access: state.Read}}},
		ChangeHistory: []state.Change{{
			Location: state.Location{Kind: state.RegisterLocation, Register: "EAX"},
			Old:      []byte{byte(i - 1)},
			New:      []byte{byte(i)},
		}},
	}
}

func record(t *testing.T, s *Store, n int) []state.Snapshot {
	t.Helper()
	var recorded []state.Snapshot
	for i := 0; i < n; i++ {
		snap := snapshotAt(i)
		v := s.RecordStep(snap)
		require.Equal(t, state.Version(i), v)
		recorded = append(recorded, snap)
	}
	return recorded
}

func TestEmptyStore(t *testing.T) {
	s := NewStore(nil)
	assert.Equal(t, state.NoVersion, s.CurrentVersion())
	assert.Equal(t, 0, s.Len())

	_, err := s.GetVersion(0)
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestRecordStepVersions(t *testing.T) {
	s := NewStore(nil)
	recorded := record(t, s, 5)

	assert.Equal(t, state.Version(4), s.CurrentVersion())
	for i, want := range recorded {
		got, err := s.GetVersion(state.Version(i))
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "version %d differs", i)
	}
}

func TestGetVersionOutOfRange(t *testing.T) {
	s := NewStore(nil)
	record(t, s, 3)

	for _, v := range []state.Version{-1, 3, 100} {
		_, err := s.GetVersion(v)
		require.ErrorIs(t, err, ErrVersionNotFound)

		var verr *VersionError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, v, verr.Version)
		assert.Equal(t, state.Version(2), verr.Current)
	}

	_, err := s.InstructionPointerAt(7)
	var verr *VersionError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, FacetInstructionPointer, verr.Facet)
	assert.Contains(t, err.Error(), FacetInstructionPointer)
}

func TestRecordedSnapshotsAreImmutable(t *testing.T) {
	s := NewStore(nil)
	snap := snapshotAt(1)
	s.RecordStep(snap)

	// Mutating the caller's copy must not reach the store.
	snap.Registers[0].Value[0] = 0xff
	snap.Memory.Regions[0].Data[0] = 0xff
	snap.ChangeHistory[0].New[0] = 0xff
	snap.Flags[0].Set = true

	got, err := s.GetVersion(0)
	require.NoError(t, err)
	assert.True(t, snapshotAt(1).Equal(got))

	// Neither may mutating a returned copy.
	got.Registers[0].Value[0] = 0xee
	got.CurrentInstruction.Bytes[0] = 0xee
	again, err := s.GetVersion(0)
	require.NoError(t, err)
	assert.True(t, snapshotAt(1).Equal(again))
}

func TestTruncateAfter(t *testing.T) {
	s := NewStore(nil)
	record(t, s, 5)

	require.NoError(t, s.TruncateAfter(1))
	assert.Equal(t, state.Version(1), s.CurrentVersion())

	v := s.RecordStep(snapshotAt(9))
	assert.Equal(t, state.Version(2), v)
	assert.Equal(t, state.Version(2), s.CurrentVersion())

	got, err := s.GetVersion(2)
	require.NoError(t, err)
	assert.True(t, snapshotAt(9).Equal(got))

	for _, w := range []state.Version{3, 4} {
		_, err := s.GetVersion(w)
		assert.ErrorIs(t, err, ErrVersionNotFound)
	}

	kept, err := s.GetVersion(1)
	require.NoError(t, err)
	assert.True(t, snapshotAt(1).Equal(kept))
}

func TestTruncateAfterBounds(t *testing.T) {
	s := NewStore(nil)
	record(t, s, 2)

	assert.ErrorIs(t, s.TruncateAfter(5), ErrVersionNotFound)
	assert.ErrorIs(t, s.TruncateAfter(-2), ErrVersionNotFound)
	assert.Equal(t, state.Version(1), s.CurrentVersion())

	require.NoError(t, s.TruncateAfter(1))
	assert.Equal(t, state.Version(1), s.CurrentVersion())

	require.NoError(t, s.TruncateAfter(state.NoVersion))
	assert.Equal(t, state.NoVersion, s.CurrentVersion())
}

func TestReset(t *testing.T) {
	s := NewStore(nil)
	record(t, s, 3)
	s.Reset()

	assert.Equal(t, state.NoVersion, s.CurrentVersion())
	assert.Equal(t, state.Version(0), s.RecordStep(snapshotAt(0)))
}

func TestFacetsAreAlignedAndCopied(t *testing.T) {
	s := NewStore(nil)
	record(t, s, 3)

	f := s.Facets()
	require.Len(t, f.MemoryData, 3)
	require.Len(t, f.ChangeHistory, 3)
	for i := range 3 {
		v := state.Version(i)
		assert.Equal(t, v, f.MemoryData[i].Version)
		assert.Equal(t, v, f.Registers[i].Version)
		assert.Equal(t, v, f.CurrentInstruction[i].Version)
		assert.Equal(t, v, f.InstructionPointer[i].Version)
		assert.Equal(t, v, f.Flags[i].Version)
		assert.Equal(t, v, f.CurrentAccessedElements[i].Version)
		assert.Equal(t, v, f.ByteInformation[i].Version)
		assert.Equal(t, v, f.ChangeHistory[i].Version)
	}

	f.Registers[0].Value[0].Value[0] = 0xff
	got, err := s.GetVersion(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0), got.Registers[0].Value[0])
}

func TestChangeHistoryAt(t *testing.T) {
	s := NewStore(nil)
	record(t, s, 2)

	changes, err := s.ChangeHistoryAt(1)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, []byte{1}, changes[0].New)

	_, err = s.ChangeHistoryAt(2)
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestFromFacets(t *testing.T) {
	s := NewStore(nil)
	recorded := record(t, s, 4)

	rebuilt, err := FromFacets(s.Facets(), nil)
	require.NoError(t, err)
	assert.Equal(t, s.CurrentVersion(), rebuilt.CurrentVersion())
	for i, want := range recorded {
		got, err := rebuilt.GetVersion(state.Version(i))
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "version %d differs", i)
	}
}

func TestFromFacetsRejectsGapsAndMisalignment(t *testing.T) {
	s := NewStore(nil)
	record(t, s, 3)

	f := s.Facets()
	f.Flags[2].Version = 5
	_, err := FromFacets(f, nil)
	assert.ErrorContains(t, err, "contiguous")

	f = s.Facets()
	f.ChangeHistory = f.ChangeHistory[:2]
	_, err = FromFacets(f, nil)
	assert.ErrorContains(t, err, FacetChangeHistory)
}
