// Package emit lays out a program and writes the rewritten ELF image.
//
// Two layouts are supported. In one-to-one mode every function keeps its
// original address and is patched over .text in place. In relocating mode
// the whole program moves into a new executable segment and every original
// entry becomes a trampoline to the moved function.
package emit

import (
	"bytes"
	"cmp"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"slices"

	"harden/internal/chunk"
	"harden/internal/disasm"
	"harden/internal/elfx"
	"harden/internal/layout"
	"harden/internal/logging"
)

var (
	// ErrFunctionGrew is returned in one-to-one mode when a function no
	// longer fits its original extent.
	ErrFunctionGrew = errors.New("function grew past its original extent")
	// ErrNoNoteSegment is returned when a new segment is needed and the
	// image has no PT_NOTE header to turn into it.
	ErrNoNoteSegment = errors.New("no PT_NOTE program header to repurpose")
)

const int3 = 0xcc

// Options control how a program is written.
type Options struct {
	OneToOne bool

	// CFI starts trampolines with endbr64.
	CFI bool

	// Align is the function alignment inside the new segment.
	Align uint64
	// SegmentAlign is the alignment of the new segment; 0x1000 if zero.
	SegmentAlign uint64

	MaxPasses int
	OnPass    func(pass, changed int)

	Logger *logging.LoggerCloser
}

// Result describes what Write produced.
type Result struct {
	Layout layout.Stats

	// Segment and SegmentSize describe the added PT_LOAD, if any.
	Segment     uint64
	SegmentSize uint64

	Entry       uint64
	Trampolines int
	// Skipped lists functions too small to hold a trampoline.
	Skipped []string
	// Relocations counts the .rela.dyn entries rewritten for moved data.
	Relocations int
}

type writer struct {
	opts Options
	im   *elfx.Image
	prog *chunk.Program
	buf  []byte
	res  *Result
}

// Write lays out prog, which was loaded from im, and writes the result to
// path. The input image is not modified.
func Write(ctx context.Context, im *elfx.Image, prog *chunk.Program, path string, opts Options) (*Result, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.SegmentAlign == 0 {
		opts.SegmentAlign = 0x1000
	}
	w := &writer{
		opts: opts,
		im:   im,
		prog: prog,
		buf:  bytes.Clone(im.All),
		res:  &Result{Entry: im.Entry()},
	}

	var err error
	if opts.OneToOne {
		err = w.oneToOne(ctx)
	} else {
		err = w.relocate(ctx)
	}
	if err != nil {
		return nil, err
	}
	if err := w.data(); err != nil {
		return nil, err
	}

	mode := os.FileMode(0o755)
	if fi, err := os.Stat(im.Path); err == nil {
		mode = fi.Mode().Perm()
	}
	if err := os.WriteFile(path, w.buf, mode); err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}
	opts.Logger.Debug("wrote image", "path", path, "bytes", len(w.buf), "entry", w.res.Entry)
	return w.res, nil
}

func (w *writer) resolver() *layout.Resolver {
	return &layout.Resolver{MaxPasses: w.opts.MaxPasses, OnPass: w.opts.OnPass, Logger: w.opts.Logger}
}

// segment returns the address and file offset of a new segment placed
// after everything already mapped.
func (w *writer) segment() (vaddr, off uint64, err error) {
	if len(w.im.Notes) == 0 {
		return 0, 0, ErrNoNoteSegment
	}
	vaddr = layout.AlignUp(w.im.HighestAddress(), w.opts.SegmentAlign)
	off = layout.AlignUp(uint64(len(w.buf)), w.opts.SegmentAlign)
	return vaddr, off, nil
}

func (w *writer) oneToOne(ctx context.Context) error {
	var synthesized bool
	for _, fn := range w.prog.Functions() {
		synthesized = synthesized || fn.Synthesized()
	}

	l := layout.OneToOne{Align: w.opts.Align, Strict: true, Slack: w.slack()}
	var off uint64
	if synthesized {
		var err error
		if l.Tail, off, err = w.segment(); err != nil {
			return fmt.Errorf("placing synthesized code: %w", err)
		}
	}

	stats, err := w.resolver().Resolve(ctx, w.prog, l)
	w.res.Layout = stats
	if errors.Is(err, layout.ErrOverlap) {
		return fmt.Errorf("%w: %w", ErrFunctionGrew, err)
	}
	if err != nil {
		return err
	}

	var tail []*chunk.Function
	for _, fn := range w.prog.Functions() {
		if fn.Synthesized() {
			tail = append(tail, fn)
			continue
		}
		dst, ok := w.slice(fn.OriginalAddress, max(fn.OriginalSize, uint64(fn.Size())))
		if !ok {
			return fmt.Errorf("%s at %#x: not mapped", fn.Name, fn.OriginalAddress)
		}
		for i := fn.Size(); i < len(dst); i++ {
			dst[i] = int3
		}
		if err := encodeFunction(fn, dst, fn.OriginalAddress); err != nil {
			return err
		}
	}
	if len(tail) == 0 {
		return nil
	}

	end := l.Tail
	for _, fn := range tail {
		addr, _ := fn.Address()
		end = max(end, addr+uint64(fn.Size()))
	}
	code := make([]byte, end-l.Tail)
	for i := range code {
		code[i] = int3
	}
	for _, fn := range tail {
		if err := encodeFunction(fn, code, l.Tail); err != nil {
			return err
		}
	}
	return w.addSegment(l.Tail, off, code)
}

// slack measures the padding after each original function, up to the next
// function or the end of .text. Only int3 and nop instructions count, so
// code without a symbol is never overwritten.
func (w *writer) slack() map[*chunk.Function]uint64 {
	var fns []*chunk.Function
	for _, fn := range w.prog.Functions() {
		if !fn.Synthesized() {
			fns = append(fns, fn)
		}
	}
	slices.SortFunc(fns, func(a, b *chunk.Function) int {
		return cmp.Compare(a.OriginalAddress, b.OriginalAddress)
	})

	textEnd := w.im.Text.VA + w.im.Text.Size
	slack := make(map[*chunk.Function]uint64)
	for i, fn := range fns {
		end := fn.OriginalAddress + fn.OriginalSize
		limit := textEnd
		if i+1 < len(fns) {
			limit = min(limit, fns[i+1].OriginalAddress)
		}
		if limit <= end {
			continue
		}
		gap, ok := w.im.SliceVA(end, limit-end)
		if !ok {
			continue
		}
		if n := padding(gap, end); n > 0 {
			slack[fn] = n
		}
	}
	return slack
}

// padding returns the length of the run of int3 and nop instructions at
// the start of code.
func padding(code []byte, va uint64) uint64 {
	var n uint64
	for n < uint64(len(code)) {
		if code[n] == int3 {
			n++
			continue
		}
		inst, err := disasm.DecodeX86(code[n:], va+n)
		if err != nil || inst.Op != "nop" {
			break
		}
		n += uint64(inst.Len)
	}
	return n
}

func (w *writer) relocate(ctx context.Context) error {
	vaddr, off, err := w.segment()
	if err != nil {
		return err
	}

	seq := layout.Sequential{Base: vaddr, Align: w.opts.Align}
	stats, err := w.resolver().Resolve(ctx, w.prog, seq)
	w.res.Layout = stats
	if err != nil {
		return err
	}

	code := make([]byte, seq.End(w.prog)-vaddr)
	for i := range code {
		code[i] = int3
	}
	for _, fn := range w.prog.Functions() {
		if err := encodeFunction(fn, code, vaddr); err != nil {
			return err
		}
	}

	if err := w.trampolines(ctx); err != nil {
		return err
	}
	if entry, ok := w.newEntry(); ok {
		binary.LittleEndian.PutUint64(w.buf[24:], entry)
		w.res.Entry = entry
	} else {
		w.opts.Logger.Warn("entry point is not a known instruction, left unchanged", "entry", w.prog.Entry)
	}
	return w.addSegment(vaddr, off, code)
}

// newEntry returns the moved address of the instruction at the original
// entry point.
func (w *writer) newEntry() (uint64, bool) {
	for _, fn := range w.prog.Functions() {
		if !fn.Synthesized() && fn.OriginalAddress == w.prog.Entry {
			return fn.Address()
		}
	}
	for ins := range w.prog.Instructions() {
		if ins.OriginalAddress() == w.prog.Entry {
			return ins.Address()
		}
	}
	return 0, false
}

// slice returns the output bytes for [va, va+size).
func (w *writer) slice(va, size uint64) ([]byte, bool) {
	off, ok := w.im.VA2Off(va)
	if !ok || off+size > uint64(len(w.buf)) {
		return nil, false
	}
	return w.buf[off : off+size], true
}

func encodeFunction(fn *chunk.Function, dst []byte, base uint64) error {
	for ins := range fn.Instructions() {
		addr, ok := ins.Address()
		if !ok || addr < base || addr-base+uint64(ins.Size()) > uint64(len(dst)) {
			return fmt.Errorf("%s: %s outside its output range", fn.Name, ins)
		}
		if _, err := ins.Semantic().Encode(dst[addr-base:]); err != nil {
			return fmt.Errorf("%s: %s: %w", fn.Name, ins, err)
		}
	}
	return nil
}
