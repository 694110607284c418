// Package snapshot builds the immutable per-step state records from what the
// emulation adapter reads.
package snapshot

import (
	"fmt"
	"maps"
	"slices"

	"github.com/willibrandon/ChronoCPU/pkg/pointer"
	"github.com/willibrandon/ChronoCPU/pkg/state"
)

// Source is what the assembler reads from. *emulator.Adapter implements it.
type Source interface {
	ReadRegisters(ids []state.RegisterID) ([]state.Register, error)
	ReadFlags(ids []state.FlagID) ([]state.Flag, error)
	ReadTracked() (state.MemoryData, error)
	InstructionPointerHex() (string, error)
}

// Assembler builds snapshots for one loaded program.
type Assembler struct {
	program state.Program
}

// NewAssembler returns an assembler for p.
func NewAssembler(p state.Program) *Assembler {
	return &Assembler{program: p.Clone()}
}

// Initial builds the version 0 snapshot: nothing executed yet, instruction
// pointer read from the engine.
func (a *Assembler) Initial(src Source) (state.Snapshot, error) {
	snap, err := a.read(src)
	if err != nil {
		return state.Snapshot{}, err
	}
	ip, err := src.InstructionPointerHex()
	if err != nil {
		return state.Snapshot{}, err
	}
	snap.InstructionPointer = state.InstructionPointer{Address: ip}
	return snap, nil
}

// Assemble builds the snapshot following prev after inst executed. The
// instruction pointer is prev's advanced by the instruction length. The
// result shares no storage with prev, inst or accessed; its change history
// is left empty.
func (a *Assembler) Assemble(src Source, inst state.Instruction, accessed state.AccessedElements, prev state.Snapshot) (state.Snapshot, error) {
	snap, err := a.read(src)
	if err != nil {
		return state.Snapshot{}, err
	}
	next, err := pointer.Next(prev.InstructionPointer.Address, inst.Length)
	if err != nil {
		return state.Snapshot{}, fmt.Errorf("advance instruction pointer: %w", err)
	}
	snap.InstructionPointer = state.InstructionPointer{Address: next}
	snap.CurrentInstruction = inst.Clone()
	snap.AccessedElements = accessed.Clone()
	snap.ByteInformation = classify(snap.Memory, inst, accessed)
	return snap, nil
}

func (a *Assembler) read(src Source) (state.Snapshot, error) {
	regs, err := src.ReadRegisters(a.program.RegistersToShow)
	if err != nil {
		return state.Snapshot{}, err
	}
	flags, err := src.ReadFlags(a.program.FlagsToShow)
	if err != nil {
		return state.Snapshot{}, err
	}
	mem, err := src.ReadTracked()
	if err != nil {
		return state.Snapshot{}, err
	}
	return state.Snapshot{
		Memory:    mem.Clone(),
		Registers: state.CloneRegisters(regs),
		Flags:     slices.Clone(flags),
	}, nil
}

// classify marks every tracked byte the instruction executed, read or wrote.
func classify(mem state.MemoryData, inst state.Instruction, accessed state.AccessedElements) state.ByteInformation {
	kinds := make(map[uint64]state.AccessKind)
	mark := func(addr uint64, size int, kind state.AccessKind) {
		if size <= 0 {
			return
		}
		for i := range uint64(size) {
			if _, tracked := mem.Byte(addr + i); tracked {
				kinds[addr+i] |= kind
			}
		}
	}
	mark(inst.Address, inst.Length, state.Executed)
	for _, m := range accessed.Memory {
		mark(m.Address, m.Size, m.Kind)
	}
	if len(kinds) == 0 {
		return state.ByteInformation{}
	}
	info := make([]state.ByteInfo, 0, len(kinds))
	for _, addr := range slices.Sorted(maps.Keys(kinds)) {
		info = append(info, state.ByteInfo{Address: addr, Access: kinds[addr]})
	}
	return state.ByteInformation{Bytes: info}
}
