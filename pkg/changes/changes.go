// Package changes computes the locations that differ between two adjacent
// snapshots. Changes come out in a fixed order: memory by ascending address,
// then registers in declaration order, then flags in declaration order.
package changes

import (
	"bytes"
	"cmp"
	"iter"
	"slices"

	"github.com/willibrandon/ChronoCPU/pkg/state"
)

// Diff yields one Change per tracked location whose value differs between
// prev and curr. The sequence can be ranged over any number of times.
// Locations tracked on only one side report a nil value for the other.
func Diff(prev, curr state.Snapshot) iter.Seq[state.Change] {
	return func(yield func(state.Change) bool) {
		if !memory(prev.Memory, curr.Memory, yield) {
			return
		}
		if !registers(prev, curr, yield) {
			return
		}
		flags(prev, curr, yield)
	}
}

// Collect materializes Diff into a slice. No differences give a nil slice.
func Collect(prev, curr state.Snapshot) []state.Change {
	return slices.Collect(Diff(prev, curr))
}

// Empty reports whether prev and curr agree on every tracked location.
func Empty(prev, curr state.Snapshot) bool {
	for range Diff(prev, curr) {
		return false
	}
	return true
}

type span struct{ start, end uint64 }

func memory(prev, curr state.MemoryData, yield func(state.Change) bool) bool {
	spans := make([]span, 0, len(prev.Regions)+len(curr.Regions))
	for _, r := range prev.Regions {
		spans = append(spans, span{r.Address, r.End()})
	}
	for _, r := range curr.Regions {
		spans = append(spans, span{r.Address, r.End()})
	}
	slices.SortFunc(spans, func(a, b span) int { return cmp.Compare(a.start, b.start) })

	var next uint64
	started := false
	for _, s := range spans {
		addr := s.start
		if started && addr < next {
			addr = next
		}
		for ; addr < s.end; addr++ {
			o, inPrev := prev.Byte(addr)
			n, inCurr := curr.Byte(addr)
			if inPrev == inCurr && o == n {
				continue
			}
			c := state.Change{Location: state.Location{Kind: state.MemoryLocation, Address: addr}}
			if inPrev {
				c.Old = []byte{o}
			}
			if inCurr {
				c.New = []byte{n}
			}
			if !yield(c) {
				return false
			}
		}
		if !started || s.end > next {
			next = s.end
		}
		started = true
	}
	return true
}

func registers(prev, curr state.Snapshot, yield func(state.Change) bool) bool {
	for _, r := range curr.Registers {
		old, ok := prev.Register(r.ID)
		if ok && bytes.Equal(old.Value, r.Value) {
			continue
		}
		c := state.Change{
			Location: state.Location{Kind: state.RegisterLocation, Register: r.ID},
			New:      bytes.Clone(r.Value),
		}
		if ok {
			c.Old = bytes.Clone(old.Value)
		}
		if !yield(c) {
			return false
		}
	}
	for _, r := range prev.Registers {
		if _, ok := curr.Register(r.ID); ok {
			continue
		}
		c := state.Change{
			Location: state.Location{Kind: state.RegisterLocation, Register: r.ID},
			Old:      bytes.Clone(r.Value),
		}
		if !yield(c) {
			return false
		}
	}
	return true
}

func flags(prev, curr state.Snapshot, yield func(state.Change) bool) bool {
	for _, f := range curr.Flags {
		old, ok := prev.Flag(f.ID)
		if ok && old.Set == f.Set {
			continue
		}
		c := state.Change{
			Location: state.Location{Kind: state.FlagLocation, Flag: f.ID},
			New:      bit(f.Set),
		}
		if ok {
			c.Old = bit(old.Set)
		}
		if !yield(c) {
			return false
		}
	}
	for _, f := range prev.Flags {
		if _, ok := curr.Flag(f.ID); ok {
			continue
		}
		c := state.Change{
			Location: state.Location{Kind: state.FlagLocation, Flag: f.ID},
			Old:      bit(f.Set),
		}
		if !yield(c) {
			return false
		}
	}
	return true
}

func bit(set bool) []byte {
	if set {
		return []byte{1}
	}
	return []byte{0}
}
