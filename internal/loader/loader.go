// Package loader builds a chunk.Program from an ELF image.
//
// Every function symbol in .text becomes a Function with a single block.
// Instructions are decoded linearly; direct branches whose encoding has a
// ControlFlow size class become ControlFlow semantics, other PC-relative
// instructions become Linked disassembled instructions, and everything
// else replays its original bytes.
package loader

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"

	"harden/internal/chunk"
	"harden/internal/elfx"
	"harden/internal/logging"
	"harden/internal/symbols"
)

// ErrUnsupportedArch is returned for images that are not x86-64.
var ErrUnsupportedArch = errors.New("unsupported architecture")

// Stats counts what the loader produced.
type Stats struct {
	Functions    int
	Instructions int
	ControlFlow  int
	Linked       int
	Bad          int
	External     int // links to addresses outside the rewritten code
}

// Loader converts images into programs.
type Loader struct {
	Logger  *logging.LoggerCloser
	Symbols *symbols.Cache

	stats Stats
}

// New returns a loader. A nil logger discards diagnostics.
func New(logger *logging.LoggerCloser) *Loader {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Loader{Logger: logger, Symbols: symbols.NewCache()}
}

// Stats returns counters for the last Load or FromCode call.
func (l *Loader) Stats() Stats { return l.stats }

// Load builds the program for im.
func (l *Loader) Load(im *elfx.Image) (*chunk.Program, error) {
	if im.Machine() != elf.EM_X86_64 {
		return nil, fmt.Errorf("%s: %v: %w", im.Path, im.Machine(), ErrUnsupportedArch)
	}
	if im.Text.Size == 0 {
		return nil, fmt.Errorf("%s: no executable code", im.Path)
	}

	b := l.newBuilder()
	b.prog.Entry = im.Entry()
	b.prog.PIE = im.IsPIE()
	b.name = func(addr uint64) string {
		name, _ := im.SymbolAt(addr)
		return name
	}

	fns := im.Functions()
	if len(fns) == 0 {
		l.Logger.Warn("no function symbols, treating .text as one function", "path", im.Path)
		fns = []elfx.Symbol{{Name: "text", Addr: im.Text.VA, Size: im.Text.Size}}
	}
	for _, sym := range fns {
		code, ok := im.SliceVA(sym.Addr, sym.Size)
		if !ok {
			return nil, fmt.Errorf("function %s at %#x: not mapped", sym.Name, sym.Addr)
		}
		b.addFunction(sym.Name, sym.Addr, code)
	}

	if im.Data.Size != 0 {
		b.prog.Data = l.dataRegion(im)
	}

	b.link()
	l.stats = b.stats
	names, _ := l.Symbols.Stats()
	l.Logger.Debug("loaded",
		"path", im.Path,
		"functions", b.stats.Functions,
		"instructions", b.stats.Instructions,
		"control-flow", b.stats.ControlFlow,
		"linked", b.stats.Linked,
		"external", b.stats.External,
		"demangled", names,
	)
	if b.stats.Bad > 0 {
		l.Logger.Warn("undecodable bytes kept verbatim", "count", b.stats.Bad)
	}
	return b.prog, nil
}

func (l *Loader) dataRegion(im *elfx.Image) *chunk.DataRegion {
	region := &chunk.DataRegion{Name: im.Data.Name, Address: im.Data.VA}
	if data, ok := im.SliceVA(im.Data.VA, im.Data.Size); ok {
		region.Bytes = bytes.Clone(data)
	}
	for _, sym := range im.DataObjects() {
		if im.Exported(sym.Name) {
			continue
		}
		region.Objects = append(region.Objects, chunk.NewDataObject(sym.Name, sym.Addr, sym.Size))
	}
	return region
}

// Func describes one function for FromCode, relative to the code base.
type Func struct {
	Name   string
	Offset uint64
	Size   uint64
}

// FromCode builds a program from raw x86-64 code mapped at base. With no
// funcs the whole buffer is one function named "code". data, if not nil,
// becomes the program's data region.
func (l *Loader) FromCode(code []byte, base uint64, data *chunk.DataRegion, funcs ...Func) (*chunk.Program, error) {
	if len(funcs) == 0 {
		funcs = []Func{{Name: "code", Size: uint64(len(code))}}
	}
	b := l.newBuilder()
	b.prog.Entry = base
	b.prog.Data = data
	for _, fn := range funcs {
		if fn.Offset+fn.Size > uint64(len(code)) {
			return nil, fmt.Errorf("function %s exceeds code", fn.Name)
		}
		b.addFunction(fn.Name, base+fn.Offset, code[fn.Offset:fn.Offset+fn.Size])
	}
	b.link()
	l.stats = b.stats
	return b.prog, nil
}

func (l *Loader) newBuilder() *builder {
	return &builder{
		logger:  l.Logger,
		symbols: l.Symbols,
		prog:    chunk.NewProgram(chunk.ArchX86_64),
		byAddr:  make(map[uint64]*chunk.Instruction),
		entries: make(map[uint64]*chunk.Function),
		name:    func(uint64) string { return "" },
	}
}
