// Package emulator is the query layer over an external instruction-set
// emulation engine. The engine decodes nothing and knows nothing about
// versions; it executes one instruction at a time and answers register and
// memory reads. Adapter turns engine failures into EngineReadError values.
package emulator

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/willibrandon/ChronoCPU/pkg/state"
)

// Context is an opaque saved execution context of an engine.
type Context any

// Engine is the boundary to an emulation engine. Register values are raw
// little-endian bytes of the register's width in the engine's mode.
type Engine interface {
	io.Closer

	// MemMap makes [addr, addr+size) addressable.
	MemMap(addr, size uint64) error
	MemRead(addr, size uint64) ([]byte, error)
	MemWrite(addr uint64, data []byte) error

	RegRead(id state.RegisterID) ([]byte, error)
	RegWrite(id state.RegisterID, value []byte) error

	// Step executes exactly one instruction at the current instruction
	// pointer and reports what it touched.
	Step() (state.AccessedElements, error)

	// SaveContext captures registers and mapped memory so that
	// RestoreContext can later return the engine to this point.
	SaveContext() (Context, error)
	RestoreContext(ctx Context) error
}

// Factory creates a fresh engine for the given mode.
type Factory func(mode Mode) (Engine, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterEngine makes an engine available by name. It panics if the name is
// registered twice.
func RegisterEngine(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[name]; dup {
		panic("emulator: engine registered twice: " + name)
	}
	factories[name] = f
}

// Engines returns the names of the registered engines, sorted.
func Engines() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenEngine creates a new engine instance from a registered factory.
func OpenEngine(name string, mode Mode) (Engine, error) {
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownEngine, name, Engines())
	}
	return f(mode)
}
