// Package pass holds the hardening transformations applied to a parsed
// program before it is laid out.
//
// Passes only edit the chunk tree: they insert new instructions, replace
// semantics and move data objects. Addresses are assigned afterwards by
// the layout package, so a pass never computes a displacement itself.
package pass

import (
	"errors"
	"fmt"

	"harden/internal/chunk"
	"harden/internal/logging"
)

// ErrNotPIE is returned by passes that need every absolute data address
// to be covered by a relocation.
var ErrNotPIE = errors.New("image is not position independent")

// Pass transforms a program in place.
type Pass interface {
	Name() string
	Run(prog *chunk.Program) error
}

// Apply runs passes in order and stops at the first error.
func Apply(prog *chunk.Program, logger *logging.LoggerCloser, passes ...Pass) error {
	if logger == nil {
		logger = logging.Discard()
	}
	for _, p := range passes {
		before := count(prog)
		if err := p.Run(prog); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
		logger.Debug("pass done", "pass", p.Name(), "instructions", before, "after", count(prog))
	}
	return nil
}

func count(prog *chunk.Program) int {
	n := 0
	for range prog.Instructions() {
		n++
	}
	return n
}

// raw wraps synthesized bytes in instructions, one per element.
func raw(seq ...[]byte) []*chunk.Instruction {
	out := make([]*chunk.Instruction, len(seq))
	for i, b := range seq {
		out[i] = chunk.NewInstruction(chunk.NewRaw(b))
	}
	return out
}

// bytesOf returns the encoding of a storage-backed instruction. Linked and
// control-flow instructions return nil.
func bytesOf(ins *chunk.Instruction) []byte {
	switch s := ins.Semantic().(type) {
	case *chunk.RawInstruction:
		return s.Storage().Data()
	case *chunk.DisassembledInstruction:
		return s.Storage().Data()
	}
	return nil
}
