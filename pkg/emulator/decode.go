package emulator

import (
	"bytes"

	"golang.org/x/arch/x86/x86asm"

	"github.com/willibrandon/ChronoCPU/pkg/state"
)

// MaxInstructionLength is the longest x86 encoding.
const MaxInstructionLength = 15

// Decode decodes the instruction at the start of code, located at addr.
func Decode(code []byte, addr uint64, mode Mode) (state.Instruction, error) {
	inst, err := x86asm.Decode(code, int(mode))
	if err != nil {
		return state.Instruction{}, err
	}
	return state.Instruction{
		Address: addr,
		Bytes:   bytes.Clone(code[:inst.Len]),
		Length:  inst.Len,
		Op:      inst.Op.String(),
		Text:    x86asm.IntelSyntax(inst, addr, nil),
	}, nil
}
