package elfx_test

import (
	"bytes"
	"debug/elf"
	"testing"

	"harden/internal/elfx"
	"harden/internal/elfx/elfxtest"
)

func TestOpenSynthetic(t *testing.T) {
	// first: push rbp; ret. Two nops of padding, then second: ret.
	text := []byte{0x55, 0xc3, 0x90, 0x90, 0xc3}
	b := &elfxtest.Builder{
		PIE:      true,
		TextAddr: 0x1000,
		Text:     text,
		Funcs: []elfxtest.Sym{
			{Name: "first", Offset: 0, Size: 2, Global: true},
			{Name: "first_alias", Offset: 0, Size: 2},
			{Name: "second", Offset: 4, Size: 1},
		},
		DataAddr: 0x3000,
		Data:     make([]byte, 32),
		Objects: []elfxtest.Sym{
			{Name: "a", Offset: 0, Size: 8},
			{Name: "b", Offset: 8, Size: 16},
			{Name: "inner", Offset: 12, Size: 4},
		},
		Relocs: []elfxtest.Reloc{{Offset: 0x3000, Addend: 0x3008}},
	}

	im, err := elfx.Open(b.Write(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer im.Close()

	if im.Machine() != elf.EM_X86_64 || !im.IsPIE() {
		t.Errorf("machine %v pie %v, want x86-64 pie", im.Machine(), im.IsPIE())
	}
	if im.Text.VA != 0x1000 || im.Text.Size != uint64(len(text)) {
		t.Errorf("text = %+v", im.Text)
	}
	if got, ok := im.SliceVA(0x1000, uint64(len(text))); !ok || !bytes.Equal(got, text) {
		t.Errorf("SliceVA = %x, %v; want %x", got, ok, text)
	}
	if len(im.Notes) != 1 {
		t.Errorf("notes = %d, want 1", len(im.Notes))
	}
	if got := im.HighestAddress(); got != 0x3020 {
		t.Errorf("HighestAddress = %#x, want 0x3020", got)
	}

	fns := im.Functions()
	if len(fns) != 2 || fns[0].Name != "first" || fns[1].Name != "second" {
		t.Fatalf("Functions = %+v", fns)
	}
	objs := im.DataObjects()
	if len(objs) != 2 || objs[0].Name != "a" || objs[1].Name != "b" {
		t.Fatalf("DataObjects = %+v", objs)
	}

	if len(im.Relocs) != 1 {
		t.Fatalf("Relocs = %+v", im.Relocs)
	}
	r := im.Relocs[0]
	if !r.IsRelative() || r.Offset != 0x3000 || r.Addend != 0x3008 {
		t.Errorf("reloc = %+v", r)
	}

	if name, ok := im.SymbolAt(0x1004); !ok || name != "second" {
		t.Errorf("SymbolAt(0x1004) = %q, %v", name, ok)
	}
	if addr, ok := im.FindFunctionByName("second"); !ok || addr != 0x1004 {
		t.Errorf("FindFunctionByName = %#x, %v", addr, ok)
	}
}

func TestRelaRoundTrip(t *testing.T) {
	in := elfx.Rela{Offset: 0x4010, Type: elf.R_X86_64_GLOB_DAT, Sym: 3, Addend: -8}
	buf := make([]byte, elfx.RelaSize)
	in.Encode(buf)

	out, err := elfx.DecodeRelas(buf)
	if err != nil {
		t.Fatalf("DecodeRelas: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d entries", len(out))
	}
	got := out[0]
	if got.Offset != in.Offset || got.Type != in.Type || got.Sym != in.Sym || got.Addend != in.Addend {
		t.Errorf("round trip = %+v, want %+v", got, in)
	}

	if _, err := elfx.DecodeRelas(buf[:20]); err == nil {
		t.Error("DecodeRelas accepted a truncated table")
	}
}
