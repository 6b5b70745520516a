package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// RelaSize is the size of an Elf64_Rela entry.
const RelaSize = 24

// Rela is one Elf64_Rela entry.
type Rela struct {
	Index   int // entry number within its section
	Offset  uint64
	Type    elf.R_X86_64
	Sym     uint32
	Addend  int64
	SymName string
}

// IsRelative reports whether the entry is R_X86_64_RELATIVE.
func (r Rela) IsRelative() bool { return r.Type == elf.R_X86_64_RELATIVE }

// Encode writes the entry in Elf64_Rela layout into b.
func (r Rela) Encode(b []byte) {
	binary.LittleEndian.PutUint64(b[0:], r.Offset)
	binary.LittleEndian.PutUint64(b[8:], uint64(r.Sym)<<32|uint64(r.Type))
	binary.LittleEndian.PutUint64(b[16:], uint64(r.Addend))
}

// DecodeRelas parses a packed Elf64_Rela table.
func DecodeRelas(data []byte) ([]Rela, error) {
	if len(data)%RelaSize != 0 {
		return nil, fmt.Errorf("rela table of %d bytes is not a multiple of %d", len(data), RelaSize)
	}
	out := make([]Rela, 0, len(data)/RelaSize)
	r := bytes.NewReader(data)
	for i := 0; r.Len() > 0; i++ {
		var raw elf.Rela64
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return nil, fmt.Errorf("rela %d: %w", i, err)
		}
		out = append(out, Rela{
			Index:  i,
			Offset: raw.Off,
			Type:   elf.R_X86_64(elf.R_TYPE64(raw.Info)),
			Sym:    elf.R_SYM64(raw.Info),
			Addend: raw.Addend,
		})
	}
	return out, nil
}

// parseRelocations loads .rela.dyn into Relocs and .rela.plt into PLTRels.
func (im *Image) parseRelocations() error {
	dynsyms, _ := im.File.DynamicSymbols()
	name := func(sym uint32) string {
		// Relocations count the null symbol; DynamicSymbols drops it.
		if sym > 0 && int(sym) <= len(dynsyms) {
			return dynsyms[sym-1].Name
		}
		return ""
	}

	load := func(secName string) ([]Rela, error) {
		s := im.File.Section(secName)
		if s == nil || s.Type != elf.SHT_RELA {
			return nil, nil
		}
		data, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", secName, err)
		}
		relas, err := DecodeRelas(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", secName, err)
		}
		for i := range relas {
			relas[i].SymName = name(relas[i].Sym)
		}
		return relas, nil
	}

	var err error
	if im.Relocs, err = load(".rela.dyn"); err != nil {
		return err
	}
	if im.PLTRels, err = load(".rela.plt"); err != nil {
		return err
	}
	return nil
}

// parsePLTStubs scans 16-byte x86-64 PLT stubs starting at stub index
// first and records the GOT slot each one jumps through. Both the classic
// "jmp *disp(%rip)" form and the IBT form (endbr64; bnd jmp) are found by
// looking for the FF 25 opcode within the stub.
func (im *Image) parsePLTStubs(first int) {
	const stubSize = 16
	for i := uint64(first); (i+1)*stubSize <= im.PLT.Size; i++ {
		addr := im.PLT.VA + i*stubSize
		stub, ok := im.SliceVA(addr, stubSize)
		if !ok {
			return
		}
		at := bytes.Index(stub, []byte{0xff, 0x25})
		if at < 0 || at+6 > len(stub) {
			continue
		}
		disp := int32(binary.LittleEndian.Uint32(stub[at+2:]))
		got := uint64(int64(addr) + int64(at) + 6 + int64(disp))
		im.PLTStubs = append(im.PLTStubs, PLTStub{Addr: addr, GOTAddr: got, Index: int(i)})
	}
}

// IsPLTEntry returns true if the given virtual address lies within
// the PLT section, indicating it's a dynamically linked function stub.
func (im *Image) IsPLTEntry(va uint64) bool {
	return im.PLT.Contains(va)
}

// PLTName returns the imported symbol a PLT stub jumps to.
func (im *Image) PLTName(addr uint64) (string, bool) {
	for _, stub := range im.PLTStubs {
		if stub.Addr != addr {
			continue
		}
		for _, rel := range im.PLTRels {
			if rel.Offset == stub.GOTAddr && rel.SymName != "" {
				return rel.SymName, true
			}
		}
		return "", false
	}
	return "", false
}
