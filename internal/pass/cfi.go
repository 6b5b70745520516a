package pass

import (
	"bytes"

	"harden/internal/chunk"
)

// Endbr64 is the CET indirect-branch landing pad.
var Endbr64 = []byte{0xf3, 0x0f, 0x1e, 0xfa}

// CFI places an endbr64 at the entry of every function that lacks one.
// Calls reach the pad through their FunctionLink; intra-function jumps keep
// targeting the original first instruction.
type CFI struct {
	// Inserted counts the pads added by the last Run.
	Inserted int
}

func (*CFI) Name() string { return "cfi" }

func (c *CFI) Run(prog *chunk.Program) error {
	c.Inserted = 0
	for _, fn := range prog.Functions() {
		if len(fn.Blocks()) == 0 || HasEndbr(fn) {
			continue
		}
		fn.Blocks()[0].Insert(0, raw(Endbr64)...)
		c.Inserted++
	}
	return nil
}

// HasEndbr reports whether fn already starts with endbr64.
func HasEndbr(fn *chunk.Function) bool {
	entry := fn.Entry()
	return entry != nil && bytes.Equal(bytesOf(entry), Endbr64)
}
