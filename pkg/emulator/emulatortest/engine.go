// Package emulatortest provides a scripted emulation engine for tests. It
// decodes real x86 bytes to find instruction lengths but implements no
// instruction semantics: each address can carry an Effect that mutates the
// engine the way the instruction would.
package emulatortest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"maps"

	"github.com/willibrandon/ChronoCPU/pkg/emulator"
	"github.com/willibrandon/ChronoCPU/pkg/state"
)

// ErrUnmapped is returned for accesses outside every mapped region.
var ErrUnmapped = errors.New("unmapped memory")

// Effect runs when the instruction at its address executes, before the
// instruction pointer advances. It returns the accesses to report.
type Effect func(e *Engine) state.AccessedElements

// Engine is an in-memory emulator.Engine.
type Engine struct {
	Mode    emulator.Mode
	Effects map[uint64]Effect
	// RegisterErrors makes reads of the listed registers fail.
	RegisterErrors map[state.RegisterID]error
	// StepError makes every Step fail.
	StepError error

	// Steps counts executed instructions.
	Steps int
	// Closed is set by Close.
	Closed bool

	arch    emulator.Arch
	regs    map[state.RegisterID][]byte
	regions []state.MemoryRegion
}

var _ emulator.Engine = (*Engine)(nil)

type context struct {
	regs    map[state.RegisterID][]byte
	regions []state.MemoryRegion
}

// New returns an engine with every register zeroed.
func New(mode emulator.Mode) *Engine {
	e := &Engine{
		Mode:           mode,
		Effects:        make(map[uint64]Effect),
		RegisterErrors: make(map[state.RegisterID]error),
		arch:           emulator.ArchFor(mode),
		regs:           make(map[state.RegisterID][]byte),
	}
	for _, r := range e.arch.Registers {
		e.regs[r.ID] = make([]byte, r.Width)
	}
	return e
}

// Factory returns an emulator.Factory that always hands out e.
func (e *Engine) Factory() emulator.Factory {
	return func(emulator.Mode) (emulator.Engine, error) {
		return e, nil
	}
}

func (e *Engine) MemMap(addr, size uint64) error {
	for _, r := range e.regions {
		if addr < r.End() && r.Address < addr+size {
			return fmt.Errorf("region %#x+%d overlaps mapped region %#x", addr, size, r.Address)
		}
	}
	e.regions = append(e.regions, state.MemoryRegion{Address: addr, Data: make([]byte, size)})
	return nil
}

func (e *Engine) region(addr, size uint64) (*state.MemoryRegion, error) {
	for i := range e.regions {
		r := &e.regions[i]
		if addr >= r.Address && addr+size <= r.End() {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %#x+%d", ErrUnmapped, addr, size)
}

func (e *Engine) MemRead(addr, size uint64) ([]byte, error) {
	r, err := e.region(addr, size)
	if err != nil {
		return nil, err
	}
	off := addr - r.Address
	return bytes.Clone(r.Data[off : off+size]), nil
}

func (e *Engine) MemWrite(addr uint64, data []byte) error {
	r, err := e.region(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(r.Data[addr-r.Address:], data)
	return nil
}

func (e *Engine) RegRead(id state.RegisterID) ([]byte, error) {
	if err := e.RegisterErrors[id]; err != nil {
		return nil, err
	}
	v, ok := e.regs[id]
	if !ok {
		return nil, emulator.ErrUnknownRegister
	}
	return bytes.Clone(v), nil
}

func (e *Engine) RegWrite(id state.RegisterID, value []byte) error {
	width, ok := e.arch.Width(id)
	if !ok {
		return emulator.ErrUnknownRegister
	}
	buf := make([]byte, width)
	copy(buf, value)
	e.regs[id] = buf
	return nil
}

// Reg returns a register as an integer.
func (e *Engine) Reg(id state.RegisterID) uint64 {
	var buf [8]byte
	copy(buf[:], e.regs[id])
	return binary.LittleEndian.Uint64(buf[:])
}

// SetReg stores an integer into a register.
func (e *Engine) SetReg(id state.RegisterID, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_ = e.RegWrite(id, buf[:])
}

// SetFlag sets or clears one flag bit.
func (e *Engine) SetFlag(id state.FlagID, set bool) {
	bit, ok := e.arch.FlagBit(id)
	if !ok {
		return
	}
	word := e.Reg(e.arch.Flags)
	if set {
		word |= 1 << bit
	} else {
		word &^= 1 << bit
	}
	e.SetReg(e.arch.Flags, word)
}

func (e *Engine) Step() (state.AccessedElements, error) {
	if e.StepError != nil {
		return state.AccessedElements{}, e.StepError
	}
	ip := e.Reg(e.arch.InstructionPointer)
	r, err := e.region(ip, 1)
	if err != nil {
		return state.AccessedElements{}, err
	}
	inst, err := emulator.Decode(r.Data[ip-r.Address:], ip, e.Mode)
	if err != nil {
		return state.AccessedElements{}, err
	}
	var accessed state.AccessedElements
	if effect := e.Effects[ip]; effect != nil {
		accessed = effect(e)
	}
	// Effects that jump leave the instruction pointer moved.
	if e.Reg(e.arch.InstructionPointer) == ip {
		e.SetReg(e.arch.InstructionPointer, ip+uint64(inst.Length))
	}
	e.Steps++
	return accessed, nil
}

func (e *Engine) SaveContext() (emulator.Context, error) {
	ctx := context{regs: make(map[state.RegisterID][]byte, len(e.regs))}
	for id, v := range e.regs {
		ctx.regs[id] = bytes.Clone(v)
	}
	ctx.regions = state.MemoryData{Regions: e.regions}.Clone().Regions
	return ctx, nil
}

func (e *Engine) RestoreContext(c emulator.Context) error {
	ctx, ok := c.(context)
	if !ok {
		return fmt.Errorf("context of type %T is not a test engine context", c)
	}
	e.regs = maps.Clone(ctx.regs)
	for id, v := range e.regs {
		e.regs[id] = bytes.Clone(v)
	}
	e.regions = state.MemoryData{Regions: ctx.regions}.Clone().Regions
	return nil
}

func (e *Engine) Close() error {
	e.Closed = true
	return nil
}

