package debugger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/willibrandon/ChronoCPU/pkg/pointer"
	"github.com/willibrandon/ChronoCPU/pkg/state"
)

// BreakpointType defines the type of breakpoint
type BreakpointType int

const (
	// AddressBreakpoint breaks when the instruction pointer reaches an address
	AddressBreakpoint BreakpointType = iota
	// MnemonicBreakpoint breaks after an instruction with the given opcode ran
	MnemonicBreakpoint
	// MemoryWatchpoint breaks when a memory byte changes
	MemoryWatchpoint
	// RegisterWatchpoint breaks when a register changes
	RegisterWatchpoint
)

// String returns the string representation of the BreakpointType
func (bt BreakpointType) String() string {
	switch bt {
	case AddressBreakpoint:
		return "ip"
	case MnemonicBreakpoint:
		return "op"
	case MemoryWatchpoint:
		return "mem"
	case RegisterWatchpoint:
		return "reg"
	default:
		return "unknown"
	}
}

// Breakpoint represents a condition to stop at while stepping forward
type Breakpoint struct {
	ID       int
	Type     BreakpointType
	Pointer  string           // For AddressBreakpoint, 4-digit hex
	Op       string           // For MnemonicBreakpoint, upper case
	Address  uint64           // For MemoryWatchpoint
	Register state.RegisterID // For RegisterWatchpoint
	Enabled  bool
	Hits     int
}

// String returns the location in the syntax AddBreakpoint accepts
func (bp *Breakpoint) String() string {
	switch bp.Type {
	case AddressBreakpoint:
		return "ip:" + bp.Pointer
	case MnemonicBreakpoint:
		return "op:" + bp.Op
	case MemoryWatchpoint:
		return fmt.Sprintf("mem:%x", bp.Address)
	case RegisterWatchpoint:
		return "reg:" + string(bp.Register)
	default:
		return "?"
	}
}

// Matches reports whether snap satisfies the breakpoint
func (bp *Breakpoint) Matches(snap state.Snapshot) bool {
	switch bp.Type {
	case AddressBreakpoint:
		return snap.InstructionPointer.Address == bp.Pointer
	case MnemonicBreakpoint:
		return strings.EqualFold(snap.CurrentInstruction.Op, bp.Op)
	case MemoryWatchpoint:
		for _, c := range snap.ChangeHistory {
			if c.Location.Kind == state.MemoryLocation && c.Location.Address == bp.Address {
				return true
			}
		}
	case RegisterWatchpoint:
		for _, c := range snap.ChangeHistory {
			if c.Location.Kind == state.RegisterLocation && c.Location.Register == bp.Register {
				return true
			}
		}
	}
	return false
}

// BreakpointManager manages breakpoints for the debugger
type BreakpointManager struct {
	breakpoints []*Breakpoint
	nextID      int
}

// NewBreakpointManager creates a new breakpoint manager
func NewBreakpointManager() *BreakpointManager {
	return &BreakpointManager{
		breakpoints: make([]*Breakpoint, 0),
		nextID:      1,
	}
}

// AddBreakpoint parses a location and adds a breakpoint for it. Accepted
// forms: "ip:0013" or a bare hex address, "op:add", "mem:1000", "reg:EAX".
func (bm *BreakpointManager) AddBreakpoint(location string) (*Breakpoint, error) {
	bp := &Breakpoint{Enabled: true}

	kind, value, found := strings.Cut(location, ":")
	if !found {
		kind, value = "ip", location
	}
	if value == "" {
		return nil, fmt.Errorf("invalid location format: %s", location)
	}

	switch strings.ToLower(kind) {
	case "ip":
		addr, err := pointer.Parse(value)
		if err != nil {
			return nil, err
		}
		bp.Type = AddressBreakpoint
		bp.Pointer = pointer.Format(addr)
	case "op":
		bp.Type = MnemonicBreakpoint
		bp.Op = strings.ToUpper(value)
	case "mem":
		addr, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(value), "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %v", err)
		}
		bp.Type = MemoryWatchpoint
		bp.Address = addr
	case "reg":
		bp.Type = RegisterWatchpoint
		bp.Register = state.RegisterID(strings.ToUpper(value))
	default:
		return nil, fmt.Errorf("unknown breakpoint kind %q", kind)
	}

	bp.ID = bm.nextID
	bm.nextID++
	bm.breakpoints = append(bm.breakpoints, bp)
	return bp, nil
}

// GetBreakpoints returns all breakpoints
func (bm *BreakpointManager) GetBreakpoints() []*Breakpoint {
	return bm.breakpoints
}

// RemoveBreakpoint removes a breakpoint by ID
func (bm *BreakpointManager) RemoveBreakpoint(id int) error {
	for i, bp := range bm.breakpoints {
		if bp.ID == id {
			bm.breakpoints = append(bm.breakpoints[:i], bm.breakpoints[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("breakpoint %d not found", id)
}

// EnableBreakpoint enables a breakpoint by ID
func (bm *BreakpointManager) EnableBreakpoint(id int) error {
	return bm.setEnabled(id, true)
}

// DisableBreakpoint disables a breakpoint by ID
func (bm *BreakpointManager) DisableBreakpoint(id int) error {
	return bm.setEnabled(id, false)
}

func (bm *BreakpointManager) setEnabled(id int, enabled bool) error {
	for _, bp := range bm.breakpoints {
		if bp.ID == id {
			bp.Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("breakpoint %d not found", id)
}

// CheckBreakpoint returns the first enabled breakpoint snap satisfies and
// counts the hit
func (bm *BreakpointManager) CheckBreakpoint(snap state.Snapshot) (*Breakpoint, bool) {
	for _, bp := range bm.breakpoints {
		if bp.Enabled && bp.Matches(snap) {
			bp.Hits++
			return bp, true
		}
	}
	return nil, false
}
