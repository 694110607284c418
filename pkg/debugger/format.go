package debugger

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/willibrandon/ChronoCPU/pkg/state"
)

// formatValue prints a little-endian value most significant byte first.
func formatValue(v []byte) string {
	if len(v) == 0 {
		return "-"
	}
	r := slices.Clone(v)
	slices.Reverse(r)
	return fmt.Sprintf("%x", r)
}

func bit(set bool) int {
	if set {
		return 1
	}
	return 0
}

func parseAddress(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
}

func formatChange(c state.Change) string {
	switch c.Location.Kind {
	case state.MemoryLocation:
		return fmt.Sprintf("mem  %08x: % x -> % x", c.Location.Address, c.Old, c.New)
	case state.RegisterLocation:
		return fmt.Sprintf("reg  %s: %s -> %s", c.Location.Register, formatValue(c.Old), formatValue(c.New))
	case state.FlagLocation:
		return fmt.Sprintf("flag %s: %s -> %s", c.Location.Flag, formatValue(c.Old), formatValue(c.New))
	}
	return fmt.Sprintf("%v: %x -> %x", c.Location.Kind, c.Old, c.New)
}
