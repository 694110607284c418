package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/willibrandon/ChronoCPU/pkg/state"
)

// programFile is the YAML form of a program description.
type programFile struct {
	Registers     []string `yaml:"registers"`
	Flags         []string `yaml:"flags"`
	MemoryAddress uint64   `yaml:"memory_address"`
	MemorySize    uint64   `yaml:"memory_size"`
	CodeAddress   uint64   `yaml:"code_address"`
	// CodeSize defaults to the length of Code.
	CodeSize uint64 `yaml:"code_size"`
	// Code is hex; whitespace and a 0x prefix are ignored.
	Code string `yaml:"code"`
}

// LoadProgram reads a program description from path.
func LoadProgram(path string) (state.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return state.Program{}, err
	}
	p, err := ParseProgram(data)
	if err != nil {
		return state.Program{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParseProgram decodes and validates a YAML program description.
func ParseProgram(data []byte) (state.Program, error) {
	var f programFile
	if err := decodeStrict(data, &f); err != nil {
		return state.Program{}, fmt.Errorf("%w: %v", state.ErrInvalidProgram, err)
	}
	code, err := parseCode(f.Code)
	if err != nil {
		return state.Program{}, fmt.Errorf("%w: code: %v", state.ErrInvalidProgram, err)
	}

	p := state.Program{
		MemoryAddress:     f.MemoryAddress,
		MemorySizeInBytes: f.MemorySize,
		CodeAddress:       f.CodeAddress,
		CodeSizeInBytes:   f.CodeSize,
		Code:              code,
	}
	if p.CodeSizeInBytes == 0 {
		p.CodeSizeInBytes = uint64(len(code))
	}
	for _, r := range f.Registers {
		p.RegistersToShow = append(p.RegistersToShow, state.RegisterID(strings.ToUpper(r)))
	}
	for _, fl := range f.Flags {
		p.FlagsToShow = append(p.FlagsToShow, state.FlagID(strings.ToUpper(fl)))
	}
	if err := p.Validate(); err != nil {
		return state.Program{}, err
	}
	return p, nil
}

func parseCode(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	return hex.DecodeString(s)
}
