// Package elfx provides helpers for opening ELF binaries, locating sections, and mapping virtual addresses to file offsets.
package elfx

import (
	"debug/elf"
	"fmt"
	"os"
	"slices"
	"strings"
	"syscall"
)

type Image struct {
	Path  string
	File  *elf.File
	All   []byte
	Loads []Seg
	Notes []Seg
	Text  Section
	Data  Section
	Rela  Section // .rela.dyn
	PLT   Section // .plt.sec when present, else .plt

	Dynsyms  []Symbol
	Syms     []Symbol
	PLTStubs []PLTStub
	PLTRels  []Rela
	Relocs   []Rela

	f *os.File
}

type Seg struct {
	Index         int // position in the program header table
	Vaddr, Off    uint64
	Filesz, Memsz uint64
	Align         uint64
	Flags         elf.ProgFlag
}

type Section struct {
	Name          string
	VA, Off, Size uint64
}

// Contains reports whether va lies within the section.
func (s Section) Contains(va uint64) bool {
	return s.Size != 0 && va >= s.VA && va < s.VA+s.Size
}

type Symbol struct {
	Name  string
	Addr  uint64
	Size  uint64
	Type  elf.SymType
	Bind  elf.SymBind
	IsPLT bool
}

type PLTStub struct {
	Addr    uint64
	GOTAddr uint64
	Index   int
}

func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{Path: path, File: f, All: all, f: of}
	for i, p := range f.Progs {
		seg := Seg{
			Index:  i,
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Memsz:  p.Memsz,
			Align:  p.Align,
			Flags:  p.Flags,
		}
		switch p.Type {
		case elf.PT_LOAD:
			im.Loads = append(im.Loads, seg)
		case elf.PT_NOTE:
			im.Notes = append(im.Notes, seg)
		}
	}

	var plt, pltSec Section
	for _, s := range f.Sections {
		sec := Section{s.Name, s.Addr, s.Offset, s.Size}
		switch s.Name {
		case ".text":
			im.Text = sec
		case ".data":
			im.Data = sec
		case ".rela.dyn":
			im.Rela = sec
		case ".plt":
			plt = sec
		case ".plt.sec":
			pltSec = sec
		}
	}
	if pltSec.Size != 0 {
		im.PLT = pltSec
		im.parsePLTStubs(0)
	} else if plt.Size != 0 {
		// .plt starts with the resolver stub.
		im.PLT = plt
		im.parsePLTStubs(1)
	}

	im.loadDynamicSymbols()
	im.loadStaticSymbols()

	if err := im.parseRelocations(); err != nil {
		im.Close()
		return nil, err
	}

	// Fallbacks if stripped.
	if im.Text.Size == 0 {
		for _, l := range im.Loads {
			if l.Flags&elf.PF_X != 0 && l.Filesz > 0 {
				im.Text = Section{"LOAD(exec)", l.Vaddr, l.Off, l.Filesz}
				break
			}
		}
	}
	return im, nil
}

// Close unmaps the memory and closes the underlying files.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil {
		err1 = syscall.Munmap(im.All)
		im.All = nil
	}
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		err3 := im.File.Close()
		if err3 != nil && err2 == nil {
			err2 = err3
		}
		im.File = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// Machine returns the ELF machine of the image.
func (im *Image) Machine() elf.Machine { return im.File.Machine }

// Entry returns the ELF entry point.
func (im *Image) Entry() uint64 { return im.File.Entry }

// IsPIE reports whether the image is position independent (ET_DYN).
func (im *Image) IsPIE() bool { return im.File.Type == elf.ET_DYN }

// VA2Off translates a virtual address into a file offset
// using PT_LOAD segments. It returns false if VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l.Off + (va - l.Vaddr), true
		}
	}
	return 0, false
}

// SliceVA returns a subslice of the mapped file corresponding to the virtual address range [va, va+size).
// It returns (nil, false) if the VA is unmapped or the range is out of bounds.
func (im *Image) SliceVA(va uint64, size uint64) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	end := off + size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// HighestAddress returns the end of the highest PT_LOAD segment in memory.
func (im *Image) HighestAddress() uint64 {
	var end uint64
	for _, l := range im.Loads {
		end = max(end, l.Vaddr+l.Memsz)
	}
	return end
}

func (im *Image) loadDynamicSymbols() {
	dynsyms, err := im.File.DynamicSymbols()
	if err != nil {
		return
	}
	for _, sym := range dynsyms {
		im.Dynsyms = append(im.Dynsyms, fromELF(sym))
	}
}

// loadStaticSymbols loads .symtab. Stripped binaries have none.
func (im *Image) loadStaticSymbols() {
	syms, err := im.File.Symbols()
	if err != nil {
		return
	}
	for _, sym := range syms {
		// Skip undefined symbols
		if sym.Value == 0 || sym.Section == elf.SHN_UNDEF {
			continue
		}
		im.Syms = append(im.Syms, fromELF(sym))
	}
}

func fromELF(sym elf.Symbol) Symbol {
	return Symbol{
		Name:  sym.Name,
		Addr:  sym.Value,
		Size:  sym.Size,
		Type:  elf.ST_TYPE(sym.Info),
		Bind:  elf.ST_BIND(sym.Info),
		IsPLT: strings.HasSuffix(sym.Name, "@plt"),
	}
}

// Functions returns the sized STT_FUNC symbols that lie inside .text,
// sorted by address with aliases removed.
func (im *Image) Functions() []Symbol {
	return im.sized(elf.STT_FUNC, im.Text)
}

// DataObjects returns the sized STT_OBJECT symbols inside .data, sorted by
// address. Overlapping symbols are dropped.
func (im *Image) DataObjects() []Symbol {
	return im.sized(elf.STT_OBJECT, im.Data)
}

func (im *Image) sized(typ elf.SymType, in Section) []Symbol {
	var out []Symbol
	for _, s := range im.Syms {
		if s.Type != typ || s.Size == 0 || !in.Contains(s.Addr) {
			continue
		}
		if s.Addr+s.Size > in.VA+in.Size {
			continue
		}
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(a, b Symbol) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		}
		// Prefer global names for aliases.
		return int(b.Bind) - int(a.Bind)
	})

	kept := out[:0]
	var end uint64
	for _, s := range out {
		if len(kept) > 0 && s.Addr < end {
			continue
		}
		kept = append(kept, s)
		end = s.Addr + s.Size
	}
	return kept
}

// Exported reports whether name is visible in the dynamic symbol table.
func (im *Image) Exported(name string) bool {
	for _, s := range im.Dynsyms {
		if s.Name == name && s.Addr != 0 {
			return true
		}
	}
	return false
}

// SymbolAt returns a name for addr: a static or dynamic symbol starting
// there, or "name@plt" for a PLT stub.
func (im *Image) SymbolAt(addr uint64) (string, bool) {
	for _, s := range im.Syms {
		if s.Addr == addr && s.Name != "" && s.Type != elf.STT_SECTION {
			return s.Name, true
		}
	}
	for _, s := range im.Dynsyms {
		if s.Addr == addr && s.Name != "" {
			return s.Name, true
		}
	}
	if name, ok := im.PLTName(addr); ok {
		return name + "@plt", true
	}
	return "", false
}

// FindFunctionByName searches for a function by name in the symbol tables.
func (im *Image) FindFunctionByName(name string) (uint64, bool) {
	for _, sym := range im.Syms {
		if sym.Name == name && !sym.IsPLT && sym.Addr != 0 {
			return sym.Addr, true
		}
	}
	for _, sym := range im.Dynsyms {
		if sym.Name == name && !sym.IsPLT && sym.Addr != 0 {
			return sym.Addr, true
		}
	}
	return 0, false
}
