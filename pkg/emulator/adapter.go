package emulator

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/willibrandon/ChronoCPU/pkg/pointer"
	"github.com/willibrandon/ChronoCPU/pkg/state"
)

// Adapter owns one engine handle for one session and exposes the reads the
// snapshot assembler needs. Every engine failure comes back as an
// *EngineReadError; nothing is retried or defaulted.
type Adapter struct {
	engine  Engine
	arch    Arch
	program state.Program
	logger  *slog.Logger
	closed  bool
}

// NewAdapter wraps an engine running in the given mode.
func NewAdapter(engine Engine, mode Mode, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		engine: engine,
		arch:   ArchFor(mode),
		logger: logger,
	}
}

// Arch returns the register file the adapter was created for.
func (a *Adapter) Arch() Arch {
	return a.arch
}

// Load maps the program's code and memory regions, writes the code and
// points the instruction pointer at the first code byte. With a memory
// region present the stack pointer starts at its top.
func (a *Adapter) Load(p state.Program) error {
	if a.closed {
		return ErrEngineClosed
	}
	if err := a.arch.Check(p); err != nil {
		return err
	}
	for _, r := range p.Regions() {
		if err := a.engine.MemMap(r.Address, uint64(len(r.Data))); err != nil {
			return fmt.Errorf("failed to map region %#x+%d: %w", r.Address, len(r.Data), err)
		}
	}
	if err := a.WriteMemory(p.CodeAddress, p.Code); err != nil {
		return err
	}
	if err := a.writeAddress(a.arch.InstructionPointer, p.CodeAddress); err != nil {
		return err
	}
	if p.MemorySizeInBytes > 0 {
		if err := a.writeAddress(a.arch.StackPointer, p.MemoryAddress+p.MemorySizeInBytes); err != nil {
			return err
		}
	}
	a.program = p.Clone()
	a.logger.Debug("program loaded into engine",
		"code_address", p.CodeAddress, "code_bytes", len(p.Code),
		"memory_address", p.MemoryAddress, "memory_bytes", p.MemorySizeInBytes)
	return nil
}

// ReadRegister returns the raw little-endian value of a register.
func (a *Adapter) ReadRegister(id state.RegisterID) ([]byte, error) {
	if a.closed {
		return nil, ErrEngineClosed
	}
	if _, ok := a.arch.Width(id); !ok {
		return nil, readError("register read", string(id), ErrUnknownRegister)
	}
	v, err := a.engine.RegRead(id)
	if err != nil {
		return nil, readError("register read", string(id), err)
	}
	return v, nil
}

// ReadMemory returns size bytes starting at addr.
func (a *Adapter) ReadMemory(addr, size uint64) ([]byte, error) {
	if a.closed {
		return nil, ErrEngineClosed
	}
	b, err := a.engine.MemRead(addr, size)
	if err != nil {
		return nil, readError("memory read", fmt.Sprintf("%#x+%d", addr, size), err)
	}
	return b, nil
}

// WriteMemory stores data at addr.
func (a *Adapter) WriteMemory(addr uint64, data []byte) error {
	if a.closed {
		return ErrEngineClosed
	}
	if err := a.engine.MemWrite(addr, data); err != nil {
		return readError("memory write", fmt.Sprintf("%#x+%d", addr, len(data)), err)
	}
	return nil
}

// WriteRegister stores a raw little-endian value. Short values are
// zero-extended to the register width.
func (a *Adapter) WriteRegister(id state.RegisterID, value []byte) error {
	if a.closed {
		return ErrEngineClosed
	}
	width, ok := a.arch.Width(id)
	if !ok {
		return readError("register write", string(id), ErrUnknownRegister)
	}
	if len(value) > width {
		return readError("register write", string(id),
			fmt.Errorf("value of %d bytes exceeds register width %d", len(value), width))
	}
	buf := make([]byte, width)
	copy(buf, value)
	if err := a.engine.RegWrite(id, buf); err != nil {
		return readError("register write", string(id), err)
	}
	return nil
}

// InstructionPointer returns the full value of the instruction pointer.
func (a *Adapter) InstructionPointer() (uint64, error) {
	raw, err := a.ReadRegister(a.arch.InstructionPointer)
	if err != nil {
		return 0, err
	}
	return littleEndian(raw), nil
}

// InstructionPointerHex renders the lowest two bytes of the instruction
// pointer register as hex, most significant byte first. Higher bits are
// dropped; pointer arithmetic works in the same 16-bit space.
func (a *Adapter) InstructionPointerHex() (string, error) {
	raw, err := a.ReadRegister(a.arch.InstructionPointer)
	if err != nil {
		return "", fmt.Errorf("instruction pointer could not be read: %w", err)
	}
	return pointer.FromLittleEndian(raw), nil
}

// ReadRegisters reads the given registers in order.
func (a *Adapter) ReadRegisters(ids []state.RegisterID) ([]state.Register, error) {
	regs := make([]state.Register, 0, len(ids))
	for _, id := range ids {
		v, err := a.ReadRegister(id)
		if err != nil {
			return nil, err
		}
		regs = append(regs, state.Register{ID: id, Value: bytes.Clone(v)})
	}
	return regs, nil
}

// ReadFlags reads the flags register once and extracts the given flags in
// order.
func (a *Adapter) ReadFlags(ids []state.FlagID) ([]state.Flag, error) {
	if len(ids) == 0 {
		return []state.Flag{}, nil
	}
	raw, err := a.ReadRegister(a.arch.Flags)
	if err != nil {
		return nil, err
	}
	word := littleEndian(raw)
	flags := make([]state.Flag, 0, len(ids))
	for _, id := range ids {
		bit, ok := a.arch.FlagBit(id)
		if !ok {
			return nil, readError("flag read", string(id), ErrUnknownRegister)
		}
		flags = append(flags, state.Flag{ID: id, Set: word&(1<<bit) != 0})
	}
	return flags, nil
}

// ReadTracked reads the current contents of every tracked region of the
// loaded program.
func (a *Adapter) ReadTracked() (state.MemoryData, error) {
	regions := a.program.Regions()
	for i, r := range regions {
		data, err := a.ReadMemory(r.Address, uint64(len(r.Data)))
		if err != nil {
			return state.MemoryData{}, err
		}
		regions[i].Data = bytes.Clone(data)
	}
	return state.MemoryData{Regions: regions}, nil
}

// Fetch decodes the instruction at the instruction pointer without
// executing it.
func (a *Adapter) Fetch() (state.Instruction, error) {
	ip, err := a.InstructionPointer()
	if err != nil {
		return state.Instruction{}, err
	}
	size := uint64(MaxInstructionLength)
	if end := a.program.CodeAddress + a.program.CodeSizeInBytes; ip < end && end-ip < size {
		size = end - ip
	}
	code, err := a.ReadMemory(ip, size)
	if err != nil {
		return state.Instruction{}, err
	}
	inst, err := Decode(code, ip, a.arch.Mode)
	if err != nil {
		return state.Instruction{}, readError("fetch", fmt.Sprintf("%#x", ip), err)
	}
	return inst, nil
}

// Step decodes and executes one instruction.
func (a *Adapter) Step() (state.Instruction, state.AccessedElements, error) {
	inst, err := a.Fetch()
	if err != nil {
		return state.Instruction{}, state.AccessedElements{}, err
	}
	accessed, err := a.engine.Step()
	if err != nil {
		return state.Instruction{}, state.AccessedElements{}, readError("step", fmt.Sprintf("%#x", inst.Address), err)
	}
	a.logger.Debug("instruction executed", "address", inst.Address, "text", inst.Text)
	return inst, accessed, nil
}

// SaveContext captures the engine's execution context.
func (a *Adapter) SaveContext() (Context, error) {
	if a.closed {
		return nil, ErrEngineClosed
	}
	ctx, err := a.engine.SaveContext()
	if err != nil {
		return nil, readError("context save", "", err)
	}
	return ctx, nil
}

// RestoreContext returns the engine to a previously saved context.
func (a *Adapter) RestoreContext(ctx Context) error {
	if a.closed {
		return ErrEngineClosed
	}
	if err := a.engine.RestoreContext(ctx); err != nil {
		return readError("context restore", "", err)
	}
	return nil
}

// Close releases the engine. It is safe to call more than once.
func (a *Adapter) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return a.engine.Close()
}

func (a *Adapter) writeAddress(id state.RegisterID, addr uint64) error {
	width, _ := a.arch.Width(id)
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, addr)
	return a.WriteRegister(id, buf[:width])
}

func littleEndian(raw []byte) uint64 {
	var buf [8]byte
	copy(buf[:], raw)
	return binary.LittleEndian.Uint64(buf[:])
}
