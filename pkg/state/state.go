package state

import (
	"bytes"
	"slices"
)

// Version identifies one recorded execution step. Versions start at 0.
type Version int

// NoVersion is the current version of a store that has recorded nothing.
const NoVersion Version = -1

// RegisterID names an architecture register, e.g. "EAX".
type RegisterID string

// FlagID names a processor flag, e.g. "ZF".
type FlagID string

// Register is a register identifier and its raw little-endian value.
type Register struct {
	ID    RegisterID `json:"id"`
	Value []byte     `json:"value"`
}

// Flag is a flag identifier and its bit value.
type Flag struct {
	ID  FlagID `json:"id"`
	Set bool   `json:"set"`
}

// MemoryRegion is a contiguous block of tracked memory.
type MemoryRegion struct {
	Address uint64 `json:"address"`
	Data    []byte `json:"data"`
}

// End returns the first address past the region.
func (r MemoryRegion) End() uint64 {
	return r.Address + uint64(len(r.Data))
}

// Contains reports whether addr lies inside the region.
func (r MemoryRegion) Contains(addr uint64) bool {
	return addr >= r.Address && addr < r.End()
}

// MemoryData holds the contents of every tracked region, sorted by address.
type MemoryData struct {
	Regions []MemoryRegion `json:"regions"`
}

// Byte returns the tracked byte at addr.
func (m MemoryData) Byte(addr uint64) (byte, bool) {
	for _, r := range m.Regions {
		if r.Contains(addr) {
			return r.Data[addr-r.Address], true
		}
	}
	return 0, false
}

// Instruction is the decoded form of the bytes executed at one step.
// The zero value means no instruction was executed.
type Instruction struct {
	Address uint64 `json:"address"`
	Bytes   []byte `json:"bytes"`
	Length  int    `json:"length"`
	Op      string `json:"op"`
	Text    string `json:"text"`
}

// InstructionPointer is an address rendered as a hex string of at least 4 digits.
type InstructionPointer struct {
	Address string `json:"address"`
}

// AccessKind classifies an access to a byte or register.
type AccessKind uint8

const (
	// Executed marks instruction bytes.
	Executed AccessKind = 1 << iota
	// Read marks bytes loaded by the instruction.
	Read
	// Written marks bytes stored by the instruction.
	Written
)

// String returns the access kind as a compact "xrw" mask.
func (k AccessKind) String() string {
	b := []byte("---")
	if k&Executed != 0 {
		b[0] = 'x'
	}
	if k&Read != 0 {
		b[1] = 'r'
	}
	if k&Written != 0 {
		b[2] = 'w'
	}
	return string(b)
}

// MemoryAccess is one memory access reported by the engine.
type MemoryAccess struct {
	Address uint64     `json:"address"`
	Size    int        `json:"size"`
	Kind    AccessKind `json:"kind"`
}

// AccessedElements lists the memory locations and registers touched by the
// last instruction.
type AccessedElements struct {
	Memory    []MemoryAccess `json:"memory,omitempty"`
	Registers []RegisterID   `json:"registers,omitempty"`
}

// ByteInfo is the access classification of one tracked byte.
type ByteInfo struct {
	Address uint64     `json:"address"`
	Access  AccessKind `json:"access"`
}

// ByteInformation is the per-byte metadata of one step, sorted by address.
type ByteInformation struct {
	Bytes []ByteInfo `json:"bytes,omitempty"`
}

// LocationKind tells which part of the machine a Change refers to.
type LocationKind uint8

const (
	// MemoryLocation is one tracked memory byte.
	MemoryLocation LocationKind = iota
	// RegisterLocation is a displayed register.
	RegisterLocation
	// FlagLocation is a displayed flag.
	FlagLocation
)

// String returns the location kind name.
func (k LocationKind) String() string {
	switch k {
	case MemoryLocation:
		return "memory"
	case RegisterLocation:
		return "register"
	case FlagLocation:
		return "flag"
	default:
		return "unknown"
	}
}

// Location identifies a single memory byte, register or flag.
type Location struct {
	Kind     LocationKind `json:"kind"`
	Address  uint64       `json:"address,omitempty"`
	Register RegisterID   `json:"register,omitempty"`
	Flag     FlagID       `json:"flag,omitempty"`
}

// Change is one (location, old value, new value) triple.
type Change struct {
	Location Location `json:"location"`
	Old      []byte   `json:"old"`
	New      []byte   `json:"new"`
}

// Snapshot is every facet of CPU-visible state at one version. A snapshot
// handed to the history store must not be mutated afterwards; use Clone to
// derive a new one.
type Snapshot struct {
	Memory             MemoryData         `json:"memory"`
	Registers          []Register         `json:"registers"`
	CurrentInstruction Instruction        `json:"current_instruction"`
	InstructionPointer InstructionPointer `json:"instruction_pointer"`
	Flags              []Flag             `json:"flags"`
	AccessedElements   AccessedElements   `json:"accessed_elements"`
	ByteInformation    ByteInformation    `json:"byte_information"`
	ChangeHistory      []Change           `json:"change_history"`
}

// Register returns the register with the given id.
func (s *Snapshot) Register(id RegisterID) (Register, bool) {
	for _, r := range s.Registers {
		if r.ID == id {
			return r, true
		}
	}
	return Register{}, false
}

// Flag returns the flag with the given id.
func (s *Snapshot) Flag(id FlagID) (Flag, bool) {
	for _, f := range s.Flags {
		if f.ID == id {
			return f, true
		}
	}
	return Flag{}, false
}

// Clone returns a deep copy sharing no storage with s.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Memory:             s.Memory.Clone(),
		Registers:          CloneRegisters(s.Registers),
		CurrentInstruction: s.CurrentInstruction.Clone(),
		InstructionPointer: s.InstructionPointer,
		Flags:              slices.Clone(s.Flags),
		AccessedElements:   s.AccessedElements.Clone(),
		ByteInformation:    s.ByteInformation.Clone(),
		ChangeHistory:      CloneChanges(s.ChangeHistory),
	}
}

// Equal reports whether every facet of s and o holds the same value.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.Memory.Equal(o.Memory) &&
		slices.EqualFunc(s.Registers, o.Registers, Register.Equal) &&
		s.CurrentInstruction.Equal(o.CurrentInstruction) &&
		s.InstructionPointer == o.InstructionPointer &&
		slices.Equal(s.Flags, o.Flags) &&
		s.AccessedElements.Equal(o.AccessedElements) &&
		slices.Equal(s.ByteInformation.Bytes, o.ByteInformation.Bytes) &&
		slices.EqualFunc(s.ChangeHistory, o.ChangeHistory, Change.Equal)
}

// Clone returns a deep copy of m.
func (m MemoryData) Clone() MemoryData {
	if m.Regions == nil {
		return MemoryData{}
	}
	regions := make([]MemoryRegion, len(m.Regions))
	for i, r := range m.Regions {
		regions[i] = MemoryRegion{Address: r.Address, Data: bytes.Clone(r.Data)}
	}
	return MemoryData{Regions: regions}
}

// Equal reports whether m and o track the same regions with the same bytes.
func (m MemoryData) Equal(o MemoryData) bool {
	return slices.EqualFunc(m.Regions, o.Regions, func(a, b MemoryRegion) bool {
		return a.Address == b.Address && bytes.Equal(a.Data, b.Data)
	})
}

// Equal reports whether r and o have the same id and value.
func (r Register) Equal(o Register) bool {
	return r.ID == o.ID && bytes.Equal(r.Value, o.Value)
}

// CloneRegisters deep-copies a register list.
func CloneRegisters(regs []Register) []Register {
	if regs == nil {
		return nil
	}
	out := make([]Register, len(regs))
	for i, r := range regs {
		out[i] = Register{ID: r.ID, Value: bytes.Clone(r.Value)}
	}
	return out
}

// Clone returns a deep copy of i.
func (i Instruction) Clone() Instruction {
	i.Bytes = bytes.Clone(i.Bytes)
	return i
}

// Equal reports whether i and o decode the same bytes at the same address.
func (i Instruction) Equal(o Instruction) bool {
	return i.Address == o.Address && i.Length == o.Length && i.Op == o.Op &&
		i.Text == o.Text && bytes.Equal(i.Bytes, o.Bytes)
}

// Clone returns a deep copy of a.
func (a AccessedElements) Clone() AccessedElements {
	return AccessedElements{
		Memory:    slices.Clone(a.Memory),
		Registers: slices.Clone(a.Registers),
	}
}

// Equal reports whether a and o list the same accesses in the same order.
func (a AccessedElements) Equal(o AccessedElements) bool {
	return slices.Equal(a.Memory, o.Memory) && slices.Equal(a.Registers, o.Registers)
}

// Clone returns a deep copy of b.
func (b ByteInformation) Clone() ByteInformation {
	return ByteInformation{Bytes: slices.Clone(b.Bytes)}
}

// Equal reports whether c and o describe the same transition.
func (c Change) Equal(o Change) bool {
	return c.Location == o.Location && bytes.Equal(c.Old, o.Old) && bytes.Equal(c.New, o.New)
}

// CloneChanges deep-copies a change list.
func CloneChanges(changes []Change) []Change {
	if changes == nil {
		return nil
	}
	out := make([]Change, len(changes))
	for i, c := range changes {
		out[i] = Change{Location: c.Location, Old: bytes.Clone(c.Old), New: bytes.Clone(c.New)}
	}
	return out
}
