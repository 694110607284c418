// Package history is the versioned store of recorded snapshots.
//
// Every facet of CPU state is kept as its own ordered list of
// (version, value) entries. A recorded step appends one entry to every facet
// under the same version, so all facets always cover the same contiguous
// range 0..CurrentVersion.
package history

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/willibrandon/ChronoCPU/pkg/state"
)

// ErrVersionNotFound is returned for versions outside the recorded range.
var ErrVersionNotFound = errors.New("version not found")

// VersionError carries the requested version and the recorded range.
type VersionError struct {
	Version state.Version
	Current state.Version
	Facet   string
}

func (e *VersionError) Error() string {
	if e.Facet != "" {
		return fmt.Sprintf("%s: version %d of facet %s (recorded 0..%d)", ErrVersionNotFound, e.Version, e.Facet, e.Current)
	}
	return fmt.Sprintf("%s: version %d (recorded 0..%d)", ErrVersionNotFound, e.Version, e.Current)
}

func (e *VersionError) Unwrap() error {
	return ErrVersionNotFound
}

// Facet names as used in errors and exports.
const (
	FacetMemory             = "memoryData"
	FacetRegisters          = "registers"
	FacetCurrentInstruction = "currentInstruction"
	FacetInstructionPointer = "instructionPointer"
	FacetFlags              = "flags"
	FacetAccessedElements   = "currentAccessedElements"
	FacetByteInformation    = "byteInformation"
	FacetChangeHistory      = "changeHistory"
)

// Entry is one recorded value of a facet.
type Entry[T any] struct {
	Version state.Version `json:"version"`
	Value   T             `json:"value"`
}

type facet[T any] struct {
	name    string
	entries []Entry[T]
}

func (f *facet[T]) append(v state.Version, value T) {
	f.entries = append(f.entries, Entry[T]{Version: v, Value: value})
}

func (f *facet[T]) truncate(n int) {
	clear(f.entries[n:])
	f.entries = f.entries[:n]
}

func (f *facet[T]) at(v state.Version) T {
	e := f.entries[v]
	if e.Version != v {
		panic(fmt.Sprintf("history: facet %s holds version %d at index %d", f.name, e.Version, v))
	}
	return e.Value
}

// Store owns every recorded snapshot of one session. It is not safe for
// concurrent use.
type Store struct {
	memory      facet[state.MemoryData]
	registers   facet[[]state.Register]
	instruction facet[state.Instruction]
	pointer     facet[state.InstructionPointer]
	flags       facet[[]state.Flag]
	accessed    facet[state.AccessedElements]
	bytes       facet[state.ByteInformation]
	changes     facet[[]state.Change]

	logger *slog.Logger
}

// NewStore returns an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		memory:      facet[state.MemoryData]{name: FacetMemory},
		registers:   facet[[]state.Register]{name: FacetRegisters},
		instruction: facet[state.Instruction]{name: FacetCurrentInstruction},
		pointer:     facet[state.InstructionPointer]{name: FacetInstructionPointer},
		flags:       facet[[]state.Flag]{name: FacetFlags},
		accessed:    facet[state.AccessedElements]{name: FacetAccessedElements},
		bytes:       facet[state.ByteInformation]{name: FacetByteInformation},
		changes:     facet[[]state.Change]{name: FacetChangeHistory},
		logger:      logger,
	}
}

// CurrentVersion returns the latest recorded version, or state.NoVersion.
func (s *Store) CurrentVersion() state.Version {
	return state.Version(len(s.pointer.entries) - 1)
}

// Len returns the number of recorded versions.
func (s *Store) Len() int {
	return len(s.pointer.entries)
}

// RecordStep appends snap to every facet under CurrentVersion()+1 and returns
// that version. The snapshot is copied before anything is appended, so the
// caller keeps ownership of snap and no facet can observe a half-recorded
// step.
func (s *Store) RecordStep(snap state.Snapshot) state.Version {
	c := snap.Clone()
	v := s.CurrentVersion() + 1

	s.memory.append(v, c.Memory)
	s.registers.append(v, c.Registers)
	s.instruction.append(v, c.CurrentInstruction)
	s.pointer.append(v, c.InstructionPointer)
	s.flags.append(v, c.Flags)
	s.accessed.append(v, c.AccessedElements)
	s.bytes.append(v, c.ByteInformation)
	s.changes.append(v, c.ChangeHistory)

	s.checkAligned()
	s.logger.Debug("step recorded", "version", v, "ip", c.InstructionPointer.Address, "changes", len(c.ChangeHistory))
	return v
}

// GetVersion returns a copy of the snapshot recorded at v.
func (s *Store) GetVersion(v state.Version) (state.Snapshot, error) {
	if err := s.check(v, ""); err != nil {
		return state.Snapshot{}, err
	}
	return state.Snapshot{
		Memory:             s.memory.at(v),
		Registers:          s.registers.at(v),
		CurrentInstruction: s.instruction.at(v),
		InstructionPointer: s.pointer.at(v),
		Flags:              s.flags.at(v),
		AccessedElements:   s.accessed.at(v),
		ByteInformation:    s.bytes.at(v),
		ChangeHistory:      s.changes.at(v),
	}.Clone(), nil
}

// InstructionPointerAt returns the instruction pointer recorded at v.
func (s *Store) InstructionPointerAt(v state.Version) (state.InstructionPointer, error) {
	if err := s.check(v, FacetInstructionPointer); err != nil {
		return state.InstructionPointer{}, err
	}
	return s.pointer.at(v), nil
}

// ChangeHistoryAt returns a copy of the change record of v.
func (s *Store) ChangeHistoryAt(v state.Version) ([]state.Change, error) {
	if err := s.check(v, FacetChangeHistory); err != nil {
		return nil, err
	}
	return state.CloneChanges(s.changes.at(v)), nil
}

// TruncateAfter discards every version greater than v. Truncating after
// state.NoVersion empties the store.
func (s *Store) TruncateAfter(v state.Version) error {
	if v != state.NoVersion {
		if err := s.check(v, ""); err != nil {
			return err
		}
	}
	discarded := int(s.CurrentVersion() - v)
	n := int(v) + 1
	s.memory.truncate(n)
	s.registers.truncate(n)
	s.instruction.truncate(n)
	s.pointer.truncate(n)
	s.flags.truncate(n)
	s.accessed.truncate(n)
	s.bytes.truncate(n)
	s.changes.truncate(n)
	s.checkAligned()
	if discarded > 0 {
		s.logger.Info("recorded future discarded", "after", v, "discarded", discarded)
	}
	return nil
}

// Reset empties the store.
func (s *Store) Reset() {
	_ = s.TruncateAfter(state.NoVersion)
}

func (s *Store) check(v state.Version, facet string) error {
	if v < 0 || v > s.CurrentVersion() {
		return &VersionError{Version: v, Current: s.CurrentVersion(), Facet: facet}
	}
	return nil
}

// checkAligned panics if the facets disagree on how many versions exist.
// That can only be a bug in this package.
func (s *Store) checkAligned() {
	n := len(s.pointer.entries)
	lens := [...]int{
		len(s.memory.entries), len(s.registers.entries), len(s.instruction.entries),
		len(s.flags.entries), len(s.accessed.entries), len(s.bytes.entries), len(s.changes.entries),
	}
	for _, l := range lens {
		if l != n {
			panic(fmt.Sprintf("history: facet lengths diverged: %v vs %d", lens, n))
		}
	}
}

// Facets is the per-facet export of a store.
type Facets struct {
	MemoryData              []Entry[state.MemoryData]         `json:"memoryData"`
	Registers               []Entry[[]state.Register]         `json:"registers"`
	CurrentInstruction      []Entry[state.Instruction]        `json:"currentInstruction"`
	InstructionPointer      []Entry[state.InstructionPointer] `json:"instructionPointer"`
	Flags                   []Entry[[]state.Flag]             `json:"flags"`
	CurrentAccessedElements []Entry[state.AccessedElements]   `json:"currentAccessedElements"`
	ByteInformation         []Entry[state.ByteInformation]    `json:"byteInformation"`
	ChangeHistory           []Entry[[]state.Change]           `json:"changeHistory"`
}

// Facets returns a deep copy of every facet's history.
func (s *Store) Facets() Facets {
	var f Facets
	for v := state.Version(0); v <= s.CurrentVersion(); v++ {
		snap, _ := s.GetVersion(v)
		f.MemoryData = append(f.MemoryData, Entry[state.MemoryData]{v, snap.Memory})
		f.Registers = append(f.Registers, Entry[[]state.Register]{v, snap.Registers})
		f.CurrentInstruction = append(f.CurrentInstruction, Entry[state.Instruction]{v, snap.CurrentInstruction})
		f.InstructionPointer = append(f.InstructionPointer, Entry[state.InstructionPointer]{v, snap.InstructionPointer})
		f.Flags = append(f.Flags, Entry[[]state.Flag]{v, snap.Flags})
		f.CurrentAccessedElements = append(f.CurrentAccessedElements, Entry[state.AccessedElements]{v, snap.AccessedElements})
		f.ByteInformation = append(f.ByteInformation, Entry[state.ByteInformation]{v, snap.ByteInformation})
		f.ChangeHistory = append(f.ChangeHistory, Entry[[]state.Change]{v, snap.ChangeHistory})
	}
	return f
}

// FromFacets rebuilds a store from an export. Every facet must hold the same
// contiguous versions starting at 0.
func FromFacets(f Facets, logger *slog.Logger) (*Store, error) {
	n := len(f.InstructionPointer)
	lens := map[string]int{
		FacetMemory:             len(f.MemoryData),
		FacetRegisters:          len(f.Registers),
		FacetCurrentInstruction: len(f.CurrentInstruction),
		FacetFlags:              len(f.Flags),
		FacetAccessedElements:   len(f.CurrentAccessedElements),
		FacetByteInformation:    len(f.ByteInformation),
		FacetChangeHistory:      len(f.ChangeHistory),
	}
	for name, l := range lens {
		if l != n {
			return nil, fmt.Errorf("facet %s has %d entries, %s has %d", name, l, FacetInstructionPointer, n)
		}
	}

	s := NewStore(logger)
	for i := range n {
		v := state.Version(i)
		versions := [...]state.Version{
			f.MemoryData[i].Version, f.Registers[i].Version, f.CurrentInstruction[i].Version,
			f.InstructionPointer[i].Version, f.Flags[i].Version, f.CurrentAccessedElements[i].Version,
			f.ByteInformation[i].Version, f.ChangeHistory[i].Version,
		}
		for _, got := range versions {
			if got != v {
				return nil, fmt.Errorf("entry %d is tagged version %d: versions must be contiguous from 0", i, got)
			}
		}
		s.RecordStep(state.Snapshot{
			Memory:             f.MemoryData[i].Value,
			Registers:          f.Registers[i].Value,
			CurrentInstruction: f.CurrentInstruction[i].Value,
			InstructionPointer: f.InstructionPointer[i].Value,
			Flags:              f.Flags[i].Value,
			AccessedElements:   f.CurrentAccessedElements[i].Value,
			ByteInformation:    f.ByteInformation[i].Value,
			ChangeHistory:      f.ChangeHistory[i].Value,
		})
	}
	return s, nil
}
