package emulator

import (
	"fmt"

	"github.com/willibrandon/ChronoCPU/pkg/state"
)

// Mode selects the x86 operating mode of the engine.
type Mode int

const (
	Mode16 Mode = 16
	Mode32 Mode = 32
)

// ParseMode converts "16" or "32" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "16":
		return Mode16, nil
	case "32", "":
		return Mode32, nil
	}
	return 0, fmt.Errorf("unsupported mode %q", s)
}

// Arch describes the register file of one mode.
type Arch struct {
	Mode               Mode
	InstructionPointer state.RegisterID
	StackPointer       state.RegisterID
	Flags              state.RegisterID
	// Registers lists every register with its width in bytes, in display order.
	Registers []RegisterSpec
}

// RegisterSpec is one register of an Arch.
type RegisterSpec struct {
	ID    state.RegisterID
	Width int
}

// flagBits maps each flag to its bit in the flags register.
var flagBits = map[state.FlagID]uint{
	"CF": 0,
	"PF": 2,
	"AF": 4,
	"ZF": 6,
	"SF": 7,
	"TF": 8,
	"IF": 9,
	"DF": 10,
	"OF": 11,
}

var arch32 = Arch{
	Mode:               Mode32,
	InstructionPointer: "EIP",
	StackPointer:       "ESP",
	Flags:              "EFLAGS",
	Registers: []RegisterSpec{
		{"EAX", 4}, {"EBX", 4}, {"ECX", 4}, {"EDX", 4},
		{"ESI", 4}, {"EDI", 4}, {"ESP", 4}, {"EBP", 4},
		{"EIP", 4}, {"EFLAGS", 4},
		{"AX", 2}, {"BX", 2}, {"CX", 2}, {"DX", 2},
		{"SI", 2}, {"DI", 2}, {"SP", 2}, {"BP", 2},
		{"AL", 1}, {"AH", 1}, {"BL", 1}, {"BH", 1},
		{"CL", 1}, {"CH", 1}, {"DL", 1}, {"DH", 1},
		{"CS", 2}, {"DS", 2}, {"ES", 2}, {"SS", 2},
	},
}

var arch16 = Arch{
	Mode:               Mode16,
	InstructionPointer: "IP",
	StackPointer:       "SP",
	Flags:              "FLAGS",
	Registers: []RegisterSpec{
		{"AX", 2}, {"BX", 2}, {"CX", 2}, {"DX", 2},
		{"SI", 2}, {"DI", 2}, {"SP", 2}, {"BP", 2},
		{"IP", 2}, {"FLAGS", 2},
		{"AL", 1}, {"AH", 1}, {"BL", 1}, {"BH", 1},
		{"CL", 1}, {"CH", 1}, {"DL", 1}, {"DH", 1},
		{"CS", 2}, {"DS", 2}, {"ES", 2}, {"SS", 2},
	},
}

// ArchFor returns the register file of mode.
func ArchFor(mode Mode) Arch {
	if mode == Mode16 {
		return arch16
	}
	return arch32
}

// Width returns the width in bytes of register id.
func (a Arch) Width(id state.RegisterID) (int, bool) {
	for _, r := range a.Registers {
		if r.ID == id {
			return r.Width, true
		}
	}
	return 0, false
}

// FlagBit returns the bit position of a flag in the flags register.
func (a Arch) FlagBit(id state.FlagID) (uint, bool) {
	bit, ok := flagBits[id]
	return bit, ok
}

// Check verifies that every register and flag of a program exists.
func (a Arch) Check(p state.Program) error {
	for _, id := range p.RegistersToShow {
		if _, ok := a.Width(id); !ok {
			return fmt.Errorf("%w: %w %s in %d-bit mode", state.ErrInvalidProgram, ErrUnknownRegister, id, a.Mode)
		}
	}
	for _, id := range p.FlagsToShow {
		if _, ok := a.FlagBit(id); !ok {
			return fmt.Errorf("%w: %w flag %s", state.ErrInvalidProgram, ErrUnknownRegister, id)
		}
	}
	return nil
}
