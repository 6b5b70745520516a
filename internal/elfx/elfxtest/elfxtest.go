// Package elfxtest builds small x86-64 ELF files for tests.
package elfxtest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

const (
	page      = 0x1000
	noteOff   = 0x200
	textOff   = page
	ehdrSize  = 64
	phdrSize  = 56
	shdrSize  = 64
	symSize   = 24
	relaSize  = 24
	noteBytes = 16
)

// Sym is a symbol placed relative to the start of its section.
type Sym struct {
	Name   string
	Offset uint64
	Size   uint64
	Global bool
}

// Reloc is an R_X86_64_RELATIVE entry. Both fields are virtual addresses.
type Reloc struct {
	Offset uint64
	Addend uint64
}

// Builder describes the file to produce. TextAddr and DataAddr must be
// page aligned.
type Builder struct {
	PIE bool

	TextAddr uint64
	Text     []byte
	Funcs    []Sym

	DataAddr uint64
	Data     []byte
	Objects  []Sym

	Relocs []Reloc

	// Entry defaults to TextAddr.
	Entry uint64

	NoNote bool
}

// Bytes serializes the ELF file.
//
// File layout: ELF header, program headers and a GNU note in the first
// page; .text at 0x1000; .data at the next page boundary; then .rela.dyn,
// .symtab, .strtab, .shstrtab and the section header table.
func (b *Builder) Bytes() []byte {
	textAddr := b.TextAddr
	if textAddr == 0 {
		textAddr = 0x401000
	}
	dataOff := alignUp(textOff+uint64(len(b.Text)), page)
	dataAddr := b.DataAddr
	if dataAddr == 0 {
		dataAddr = alignUp(textAddr+uint64(len(b.Text)), page) + page
	}
	entry := b.Entry
	if entry == 0 {
		entry = textAddr
	}
	base := textAddr - textOff

	out := make([]byte, dataOff+uint64(len(b.Data)))
	copy(out[textOff:], b.Text)
	copy(out[dataOff:], b.Data)
	if !b.NoNote {
		note := out[noteOff:]
		binary.LittleEndian.PutUint32(note[0:], 4) // namesz
		binary.LittleEndian.PutUint32(note[4:], 0) // descsz
		binary.LittleEndian.PutUint32(note[8:], uint32(elf.NT_PRSTATUS))
		copy(note[12:], "GNU\x00")
	}

	// .rela.dyn
	relaOff := uint64(len(out))
	for _, r := range b.Relocs {
		var e [relaSize]byte
		binary.LittleEndian.PutUint64(e[0:], r.Offset)
		binary.LittleEndian.PutUint64(e[8:], uint64(elf.R_X86_64_RELATIVE))
		binary.LittleEndian.PutUint64(e[16:], r.Addend)
		out = append(out, e[:]...)
	}

	// .symtab / .strtab
	strtab := []byte{0}
	addStr := func(s string) uint32 {
		off := uint32(len(strtab))
		strtab = append(strtab, s...)
		strtab = append(strtab, 0)
		return off
	}
	symOff := uint64(len(out))
	var symtab bytes.Buffer
	binary.Write(&symtab, binary.LittleEndian, elf.Sym64{})
	nlocal := uint32(1)
	writeSyms := func(global bool) {
		for _, group := range []struct {
			syms  []Sym
			typ   elf.SymType
			shndx uint16
			addr  uint64
		}{
			{b.Funcs, elf.STT_FUNC, 1, textAddr},
			{b.Objects, elf.STT_OBJECT, 2, dataAddr},
		} {
			for _, s := range group.syms {
				if s.Global != global {
					continue
				}
				bind := elf.STB_LOCAL
				if global {
					bind = elf.STB_GLOBAL
				} else {
					nlocal++
				}
				binary.Write(&symtab, binary.LittleEndian, elf.Sym64{
					Name:  addStr(s.Name),
					Info:  elf.ST_INFO(bind, group.typ),
					Shndx: group.shndx,
					Value: group.addr + s.Offset,
					Size:  s.Size,
				})
			}
		}
	}
	writeSyms(false)
	writeSyms(true)
	out = append(out, symtab.Bytes()...)

	strOff := uint64(len(out))
	out = append(out, strtab...)

	shstrtab := []byte{0}
	addSh := func(s string) uint32 {
		off := uint32(len(shstrtab))
		shstrtab = append(shstrtab, s...)
		shstrtab = append(shstrtab, 0)
		return off
	}
	sections := []elf.Section64{
		{},
		{Name: addSh(".text"), Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr: textAddr, Off: textOff, Size: uint64(len(b.Text)), Addralign: 16},
		{Name: addSh(".data"), Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
			Addr: dataAddr, Off: dataOff, Size: uint64(len(b.Data)), Addralign: 8},
		{Name: addSh(".rela.dyn"), Type: uint32(elf.SHT_RELA), Flags: uint64(elf.SHF_ALLOC),
			Off: relaOff, Size: uint64(len(b.Relocs) * relaSize), Addralign: 8, Entsize: relaSize},
		{Name: addSh(".symtab"), Type: uint32(elf.SHT_SYMTAB), Off: symOff, Size: uint64(symtab.Len()),
			Link: 5, Info: nlocal, Addralign: 8, Entsize: symSize},
		{Name: addSh(".strtab"), Type: uint32(elf.SHT_STRTAB), Off: strOff, Size: uint64(len(strtab)), Addralign: 1},
	}
	shstrndx := len(sections)
	shstrOff := uint64(len(out))
	sections = append(sections, elf.Section64{Name: addSh(".shstrtab"), Type: uint32(elf.SHT_STRTAB),
		Off: shstrOff, Size: 0, Addralign: 1})
	sections[shstrndx].Size = uint64(len(shstrtab))
	out = append(out, shstrtab...)

	shoff := alignUp(uint64(len(out)), 8)
	out = append(out, make([]byte, shoff-uint64(len(out)))...)
	var shdrs bytes.Buffer
	for _, s := range sections {
		binary.Write(&shdrs, binary.LittleEndian, s)
	}
	out = append(out, shdrs.Bytes()...)

	progs := []elf.Prog64{
		{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X), Off: 0, Vaddr: base, Paddr: base,
			Filesz: textOff + uint64(len(b.Text)), Memsz: textOff + uint64(len(b.Text)), Align: page},
		{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_W), Off: dataOff, Vaddr: dataAddr, Paddr: dataAddr,
			Filesz: uint64(len(b.Data)), Memsz: uint64(len(b.Data)), Align: page},
	}
	if !b.NoNote {
		progs = append(progs, elf.Prog64{Type: uint32(elf.PT_NOTE), Flags: uint32(elf.PF_R), Off: noteOff,
			Vaddr: base + noteOff, Paddr: base + noteOff, Filesz: noteBytes, Memsz: noteBytes, Align: 4})
	}

	typ := elf.ET_EXEC
	if b.PIE {
		typ = elf.ET_DYN
	}
	hdr := elf.Header64{
		Type:      uint16(typ),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     ehdrSize,
		Shoff:     shoff,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(progs)),
		Shentsize: shdrSize,
		Shnum:     uint16(len(sections)),
		Shstrndx:  uint16(shstrndx),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	var head bytes.Buffer
	binary.Write(&head, binary.LittleEndian, hdr)
	for _, p := range progs {
		binary.Write(&head, binary.LittleEndian, p)
	}
	copy(out, head.Bytes())
	return out
}

// Write stores the file in a temporary directory and returns its path.
func (b *Builder) Write(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.elf")
	if err := os.WriteFile(path, b.Bytes(), 0o755); err != nil {
		t.Fatalf("write elf: %v", err)
	}
	return path
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) / a * a
}
