// Package layout assigns addresses to the chunk tree and resolves the
// sizes of control-flow instructions against those addresses.
package layout

import (
	"errors"
	"fmt"

	"harden/internal/chunk"
)

// ErrOverlap is returned by OneToOne when a function no longer fits in
// front of the next one.
var ErrOverlap = errors.New("function overlaps its successor")

// Layouter assigns an address to every instruction in a program from the
// current instruction sizes. Resolve calls it once per pass.
type Layouter interface {
	Layout(prog *chunk.Program) error
}

// Sequential places functions back to back starting at Base, each aligned
// to Align (1 if zero), in program order.
type Sequential struct {
	Base  uint64
	Align uint64
}

func (s Sequential) Layout(prog *chunk.Program) error {
	addr := s.Base
	for _, fn := range prog.Functions() {
		addr = AlignUp(addr, s.Align)
		addr = placeFunction(fn, addr)
	}
	return nil
}

// End returns the address just past the last function for the sizes
// currently in prog.
func (s Sequential) End(prog *chunk.Program) uint64 {
	addr := s.Base
	for _, fn := range prog.Functions() {
		addr = AlignUp(addr, s.Align) + uint64(fn.Size())
	}
	return addr
}

// OneToOne keeps every function that exists in the input at its original
// address. Synthesized functions follow Tail sequentially.
//
// When Strict is set, Layout fails if an original function has grown past
// its original extent plus its Slack, the padding after it that it may
// grow into.
type OneToOne struct {
	Tail   uint64
	Align  uint64
	Strict bool
	Slack  map[*chunk.Function]uint64
}

func (o OneToOne) Layout(prog *chunk.Program) error {
	tail := o.Tail
	for _, fn := range prog.Functions() {
		if fn.Synthesized() {
			tail = AlignUp(tail, o.Align)
			tail = placeFunction(fn, tail)
			continue
		}
		end := placeFunction(fn, fn.OriginalAddress)
		if room := fn.OriginalSize + o.Slack[fn]; o.Strict && end > fn.OriginalAddress+room {
			return fmt.Errorf("%s is %d bytes, room for %d: %w",
				fn.Name, end-fn.OriginalAddress, room, ErrOverlap)
		}
	}
	return nil
}

func placeFunction(fn *chunk.Function, addr uint64) uint64 {
	for ins := range fn.Instructions() {
		ins.SetAddress(addr)
		addr += uint64(ins.Size())
	}
	return addr
}

// AlignUp rounds v up to a multiple of align. Zero and one leave v as is.
func AlignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}
