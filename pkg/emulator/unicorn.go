//go:build unicorn
// +build unicorn

package emulator

import (
	"bytes"
	"encoding/binary"
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/willibrandon/ChronoCPU/pkg/state"
)

const pageSize = 0x1000

var unicornRegisters = map[state.RegisterID]int{
	"EAX": uc.X86_REG_EAX, "EBX": uc.X86_REG_EBX, "ECX": uc.X86_REG_ECX, "EDX": uc.X86_REG_EDX,
	"ESI": uc.X86_REG_ESI, "EDI": uc.X86_REG_EDI, "ESP": uc.X86_REG_ESP, "EBP": uc.X86_REG_EBP,
	"EIP": uc.X86_REG_EIP, "EFLAGS": uc.X86_REG_EFLAGS,
	"AX": uc.X86_REG_AX, "BX": uc.X86_REG_BX, "CX": uc.X86_REG_CX, "DX": uc.X86_REG_DX,
	"SI": uc.X86_REG_SI, "DI": uc.X86_REG_DI, "SP": uc.X86_REG_SP, "BP": uc.X86_REG_BP,
	"IP": uc.X86_REG_IP, "FLAGS": uc.X86_REG_EFLAGS,
	"AL": uc.X86_REG_AL, "AH": uc.X86_REG_AH, "BL": uc.X86_REG_BL, "BH": uc.X86_REG_BH,
	"CL": uc.X86_REG_CL, "CH": uc.X86_REG_CH, "DL": uc.X86_REG_DL, "DH": uc.X86_REG_DH,
	"CS": uc.X86_REG_CS, "DS": uc.X86_REG_DS, "ES": uc.X86_REG_ES, "SS": uc.X86_REG_SS,
}

func init() {
	RegisterEngine("unicorn", newUnicornEngine)
}

// unicornEngine drives a Unicorn x86 instance.
type unicornEngine struct {
	mu     uc.Unicorn
	arch   Arch
	mapped [][2]uint64
	access state.AccessedElements
}

type unicornContext struct {
	regs   uc.Context
	memory []state.MemoryRegion
}

func newUnicornEngine(mode Mode) (Engine, error) {
	ucMode := uc.MODE_32
	if mode == Mode16 {
		ucMode = uc.MODE_16
	}
	mu, err := uc.NewUnicorn(uc.ARCH_X86, ucMode)
	if err != nil {
		return nil, fmt.Errorf("create unicorn: %w", err)
	}
	e := &unicornEngine{mu: mu, arch: ArchFor(mode)}
	_, err = mu.HookAdd(uc.HOOK_MEM_READ|uc.HOOK_MEM_WRITE,
		func(_ uc.Unicorn, access int, addr uint64, size int, _ int64) {
			kind := state.Read
			if access == uc.MEM_WRITE {
				kind = state.Written
			}
			e.access.Memory = append(e.access.Memory, state.MemoryAccess{Address: addr, Size: size, Kind: kind})
		}, 1, 0)
	if err != nil {
		mu.Close()
		return nil, fmt.Errorf("install memory hook: %w", err)
	}
	return e, nil
}

func (e *unicornEngine) MemMap(addr, size uint64) error {
	start := addr &^ (pageSize - 1)
	end := (addr + size + pageSize - 1) &^ (pageSize - 1)
	for page := start; page < end; page += pageSize {
		if e.isMapped(page) {
			continue
		}
		if err := e.mu.MemMap(page, pageSize); err != nil {
			return err
		}
		e.mapped = append(e.mapped, [2]uint64{page, page + pageSize})
	}
	return nil
}

func (e *unicornEngine) isMapped(page uint64) bool {
	for _, m := range e.mapped {
		if page >= m[0] && page < m[1] {
			return true
		}
	}
	return false
}

func (e *unicornEngine) MemRead(addr, size uint64) ([]byte, error) {
	return e.mu.MemRead(addr, size)
}

func (e *unicornEngine) MemWrite(addr uint64, data []byte) error {
	return e.mu.MemWrite(addr, data)
}

func (e *unicornEngine) RegRead(id state.RegisterID) ([]byte, error) {
	reg, ok := unicornRegisters[id]
	if !ok {
		return nil, ErrUnknownRegister
	}
	width, _ := e.arch.Width(id)
	v, err := e.mu.RegRead(reg)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf[:width], nil
}

func (e *unicornEngine) RegWrite(id state.RegisterID, value []byte) error {
	reg, ok := unicornRegisters[id]
	if !ok {
		return ErrUnknownRegister
	}
	var buf [8]byte
	copy(buf[:], value)
	return e.mu.RegWrite(reg, binary.LittleEndian.Uint64(buf[:]))
}

func (e *unicornEngine) Step() (state.AccessedElements, error) {
	e.access = state.AccessedElements{}
	ip, err := e.mu.RegRead(unicornRegisters[e.arch.InstructionPointer])
	if err != nil {
		return state.AccessedElements{}, err
	}
	if err := e.mu.StartWithOptions(ip, 0, &uc.UcOptions{Count: 1}); err != nil {
		return state.AccessedElements{}, err
	}
	return e.access, nil
}

func (e *unicornEngine) SaveContext() (Context, error) {
	regs, err := e.mu.ContextSave(nil)
	if err != nil {
		return nil, err
	}
	ctx := unicornContext{regs: regs}
	for _, m := range e.mapped {
		data, err := e.mu.MemRead(m[0], m[1]-m[0])
		if err != nil {
			return nil, err
		}
		ctx.memory = append(ctx.memory, state.MemoryRegion{Address: m[0], Data: bytes.Clone(data)})
	}
	return ctx, nil
}

func (e *unicornEngine) RestoreContext(c Context) error {
	ctx, ok := c.(unicornContext)
	if !ok {
		return fmt.Errorf("context of type %T is not a unicorn context", c)
	}
	if err := e.mu.ContextRestore(ctx.regs); err != nil {
		return err
	}
	for _, r := range ctx.memory {
		if err := e.mu.MemWrite(r.Address, r.Data); err != nil {
			return err
		}
	}
	return nil
}

func (e *unicornEngine) Close() error {
	return e.mu.Close()
}
