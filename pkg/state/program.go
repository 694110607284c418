package state

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidProgram is returned for program descriptions that cannot be loaded.
var ErrInvalidProgram = errors.New("invalid program")

// Program describes what a debugging session loads and tracks.
type Program struct {
	RegistersToShow   []RegisterID `json:"registers_to_show"`
	FlagsToShow       []FlagID     `json:"flags_to_show"`
	MemoryAddress     uint64       `json:"memory_address"`
	MemorySizeInBytes uint64       `json:"memory_size_in_bytes"`
	CodeAddress       uint64       `json:"code_address"`
	CodeSizeInBytes   uint64       `json:"code_size_in_bytes"`
	Code              []byte       `json:"code"`
}

// Validate checks the layout of the program.
func (p Program) Validate() error {
	if len(p.Code) == 0 {
		return fmt.Errorf("%w: no code", ErrInvalidProgram)
	}
	if p.CodeSizeInBytes == 0 {
		return fmt.Errorf("%w: code region is empty", ErrInvalidProgram)
	}
	if uint64(len(p.Code)) > p.CodeSizeInBytes {
		return fmt.Errorf("%w: %d bytes of code do not fit a %d byte code region",
			ErrInvalidProgram, len(p.Code), p.CodeSizeInBytes)
	}
	if p.CodeAddress+p.CodeSizeInBytes < p.CodeAddress {
		return fmt.Errorf("%w: code region wraps the address space", ErrInvalidProgram)
	}
	if p.MemoryAddress+p.MemorySizeInBytes < p.MemoryAddress {
		return fmt.Errorf("%w: memory region wraps the address space", ErrInvalidProgram)
	}
	if p.MemorySizeInBytes > 0 &&
		p.MemoryAddress < p.CodeAddress+p.CodeSizeInBytes &&
		p.CodeAddress < p.MemoryAddress+p.MemorySizeInBytes {
		return fmt.Errorf("%w: memory region %#x+%d overlaps code region %#x+%d", ErrInvalidProgram,
			p.MemoryAddress, p.MemorySizeInBytes, p.CodeAddress, p.CodeSizeInBytes)
	}
	if dup := firstDuplicate(p.RegistersToShow); dup != "" {
		return fmt.Errorf("%w: register %s listed twice", ErrInvalidProgram, dup)
	}
	if dup := firstDuplicate(p.FlagsToShow); dup != "" {
		return fmt.Errorf("%w: flag %s listed twice", ErrInvalidProgram, dup)
	}
	return nil
}

// Regions returns the tracked regions sorted by address, zero-filled. A
// zero-sized memory region is not tracked.
func (p Program) Regions() []MemoryRegion {
	regions := []MemoryRegion{{Address: p.CodeAddress, Data: make([]byte, p.CodeSizeInBytes)}}
	if p.MemorySizeInBytes > 0 {
		regions = append(regions, MemoryRegion{Address: p.MemoryAddress, Data: make([]byte, p.MemorySizeInBytes)})
	}
	slices.SortFunc(regions, func(a, b MemoryRegion) int {
		switch {
		case a.Address < b.Address:
			return -1
		case a.Address > b.Address:
			return 1
		}
		return 0
	})
	return regions
}

// Clone returns a deep copy of p.
func (p Program) Clone() Program {
	p.RegistersToShow = slices.Clone(p.RegistersToShow)
	p.FlagsToShow = slices.Clone(p.FlagsToShow)
	p.Code = slices.Clone(p.Code)
	return p
}

func firstDuplicate[T ~string](ids []T) T {
	seen := make(map[T]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id
		}
		seen[id] = struct{}{}
	}
	return ""
}
