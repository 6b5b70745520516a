package emit

import (
	"context"
	"fmt"

	"harden/internal/chunk"
	"harden/internal/layout"
)

var endbr64 = []byte{0xf3, 0x0f, 0x1e, 0xfa}

// trampolines overwrites the start of every original function with a jump
// to its new location. The rest of the original body is left in place, so
// code that still reaches it through a jump table keeps working.
//
// The trampolines form a program of their own, laid out one-to-one over
// the original entries and resolved against the already placed functions.
func (w *writer) trampolines(ctx context.Context) error {
	tp := chunk.NewProgram(w.prog.Arch)
	need := uint64(chunk.JMP.Classes[len(chunk.JMP.Classes)-1].Size())
	if w.opts.CFI {
		need += uint64(len(endbr64))
	}

	for _, fn := range w.prog.Functions() {
		if fn.Synthesized() {
			continue
		}
		if fn.OriginalSize < need {
			w.res.Skipped = append(w.res.Skipped, fn.Name)
			w.opts.Logger.Warn("function too small for a trampoline", "function", fn.DisplayName(), "size", fn.OriginalSize)
			continue
		}
		t := chunk.NewFunction(fn.Name)
		t.OriginalAddress = fn.OriginalAddress
		t.OriginalSize = fn.OriginalSize

		b := chunk.NewBlock()
		if w.opts.CFI {
			b.Append(chunk.NewInstruction(chunk.NewRaw(endbr64)))
		}
		b.Append(chunk.NewInstruction(chunk.NewControlFlow(chunk.JMP, chunk.NewFunctionLink(fn))))
		t.AddBlock(b)
		tp.AddFunction(t)
	}

	r := layout.Resolver{Logger: w.opts.Logger}
	if _, err := r.Resolve(ctx, tp, layout.OneToOne{Strict: true}); err != nil {
		return fmt.Errorf("trampolines: %w", err)
	}
	for _, t := range tp.Functions() {
		dst, ok := w.slice(t.OriginalAddress, uint64(t.Size()))
		if !ok {
			return fmt.Errorf("trampoline %s at %#x: not mapped", t.Name, t.OriginalAddress)
		}
		if err := encodeFunction(t, dst, t.OriginalAddress); err != nil {
			return err
		}
		w.res.Trampolines++
	}
	return nil
}
