package emulator

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEngine is returned by OpenEngine for unregistered names.
	ErrUnknownEngine = errors.New("unknown emulation engine")
	// ErrUnknownRegister is returned for register or flag ids the
	// architecture does not define.
	ErrUnknownRegister = errors.New("unknown register")
	// ErrEngineClosed is returned by an adapter whose engine was released.
	ErrEngineClosed = errors.New("emulation engine closed")
)

// EngineReadError reports that the engine could not satisfy a request. Op is
// what was attempted ("register read", "memory read", "fetch", "step", ...)
// and Target names the register or address range.
type EngineReadError struct {
	Op     string
	Target string
	Err    error
}

func (e *EngineReadError) Error() string {
	return fmt.Sprintf("engine %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *EngineReadError) Unwrap() error {
	return e.Err
}

func readError(op, target string, err error) error {
	return &EngineReadError{Op: op, Target: target, Err: err}
}
