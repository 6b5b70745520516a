package loader

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"harden/internal/chunk"
	"harden/internal/elfx"
	"harden/internal/elfx/elfxtest"
	"harden/internal/layout"
)

const base = 0x401000

// sample is two functions. f calls g, branches locally and loads the
// address of a .data object; g calls an external address and tail-jumps
// back to f.
var sample = []byte{
	// f @ 0x00
	0x55,                         // push rbp
	0xe8, 0x1a, 0x00, 0x00, 0x00, // call g
	0x74, 0x02, // je 0x0a
	0xeb, 0x00, // jmp 0x0a
	0x48, 0x8d, 0x05, 0xf3, 0x0f, 0x00, 0x00, // lea rax, [rip+0xff3] -> 0x402004
	0x5d, // pop rbp
	0xc3, // ret
	// padding 0x13..0x1f
	0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc,
	// g @ 0x20
	0xe8, 0xdb, 0x4f, 0x00, 0x00, // call 0x406000
	0xe9, 0xd6, 0xff, 0xff, 0xff, // jmp f
}

var sampleFuncs = []Func{
	{Name: "f", Offset: 0, Size: 0x13},
	{Name: "g", Offset: 0x20, Size: 10},
}

func sampleData() *chunk.DataRegion {
	return &chunk.DataRegion{
		Name:    ".data",
		Address: 0x402000,
		Bytes:   make([]byte, 16),
		Objects: []*chunk.DataObject{chunk.NewDataObject("counter", 0x402000, 16)},
	}
}

func TestFromCodeSemantics(t *testing.T) {
	l := New(nil)
	prog, err := l.FromCode(sample, base, sampleData(), sampleFuncs...)
	if err != nil {
		t.Fatalf("FromCode: %v", err)
	}

	want := Stats{Functions: 2, Instructions: 9, ControlFlow: 5, Linked: 1, External: 1}
	if got := l.Stats(); got != want {
		t.Errorf("Stats = %+v, want %+v", got, want)
	}

	f, _ := prog.FunctionByName("f")
	g, _ := prog.FunctionByName("g")
	fIns := f.Blocks()[0].Instructions()
	gIns := g.Blocks()[0].Instructions()

	testCases := []struct {
		name  string
		ins   *chunk.Instruction
		kind  chunk.Kind
		check func(t *testing.T, link chunk.Link)
	}{
		{"push", fIns[0], chunk.KindDisassembled, func(t *testing.T, link chunk.Link) {
			if link != nil {
				t.Errorf("link = %v, want none", link)
			}
		}},
		{"call g", fIns[1], chunk.KindControlFlow, func(t *testing.T, link chunk.Link) {
			if fl, ok := link.(*chunk.FunctionLink); !ok || fl.Function() != g {
				t.Errorf("link = %v, want func(g)", link)
			}
		}},
		{"je", fIns[2], chunk.KindControlFlow, func(t *testing.T, link chunk.Link) {
			if il, ok := link.(*chunk.InstructionLink); !ok || il.Instruction() != fIns[4] {
				t.Errorf("link = %v, want lea", link)
			}
		}},
		{"lea", fIns[4], chunk.KindDisassembled, func(t *testing.T, link chunk.Link) {
			dl, ok := link.(*chunk.DataLink)
			if !ok || dl.Object().Name != "counter" || dl.Offset() != 4 {
				t.Errorf("link = %v, want data(counter+4)", link)
			}
		}},
		{"external call", gIns[0], chunk.KindControlFlow, func(t *testing.T, link chunk.Link) {
			if addr, ok := link.Target(); !ok || addr != 0x406000 {
				t.Errorf("link = %v, want abs(0x406000)", link)
			}
		}},
		{"tail jump", gIns[1], chunk.KindControlFlow, func(t *testing.T, link chunk.Link) {
			if il, ok := link.(*chunk.InstructionLink); !ok || il.Instruction() != fIns[0] {
				t.Errorf("link = %v, want push in f", link)
			}
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.ins.Semantic().Kind() != tc.kind {
				t.Errorf("Kind = %v, want %v", tc.ins.Semantic().Kind(), tc.kind)
			}
			tc.check(t, tc.ins.Link())
		})
	}

	if fIns[2].Size() != 2 || fIns[1].Size() != 5 {
		t.Errorf("original size classes not kept: je %d call %d", fIns[2].Size(), fIns[1].Size())
	}
}

func TestIdentityReassembly(t *testing.T) {
	l := New(nil)
	prog, err := l.FromCode(sample, base, sampleData(), sampleFuncs...)
	if err != nil {
		t.Fatalf("FromCode: %v", err)
	}

	var r layout.Resolver
	stats, err := r.Resolve(context.Background(), prog, layout.OneToOne{Strict: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if stats.Escalations != 0 {
		t.Errorf("identity layout escalated %d branches", stats.Escalations)
	}

	for _, fn := range prog.Functions() {
		var out []byte
		for ins := range fn.Instructions() {
			if out, err = ins.Semantic().AppendTo(out); err != nil {
				t.Fatalf("%s: %v", ins, err)
			}
		}
		off := fn.OriginalAddress - base
		if orig := sample[off : off+fn.OriginalSize]; !bytes.Equal(out, orig) {
			t.Errorf("%s reassembled to %x, want %x", fn.Name, out, orig)
		}
	}
}

func TestRelocatedReferences(t *testing.T) {
	l := New(nil)
	prog, err := l.FromCode(sample, base, sampleData(), sampleFuncs...)
	if err != nil {
		t.Fatalf("FromCode: %v", err)
	}

	var r layout.Resolver
	if _, err := r.Resolve(context.Background(), prog, layout.Sequential{Base: 0x800000, Align: 16}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	f, _ := prog.FunctionByName("f")
	lea := f.Blocks()[0].Instructions()[4]
	data, err := lea.Semantic().Data()
	if err != nil {
		t.Fatalf("lea Data: %v", err)
	}
	addr, _ := lea.Address()
	got := uint64(int64(addr) + int64(len(data)) + chunk.ReadDisplacement(data[3:], 4))
	if got != 0x402004 {
		t.Errorf("relocated lea points at %#x, want 0x402004", got)
	}
}

func TestLoadImage(t *testing.T) {
	b := &elfxtest.Builder{
		TextAddr: base,
		Text:     sample,
		Funcs: []elfxtest.Sym{
			{Name: "f", Offset: 0, Size: 0x13, Global: true},
			{Name: "_Z1gv", Offset: 0x20, Size: 10, Global: true},
		},
		DataAddr: 0x402000,
		Data:     make([]byte, 16),
		Objects:  []elfxtest.Sym{{Name: "counter", Size: 16}},
	}
	im, err := elfx.Open(b.Write(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer im.Close()

	prog, err := New(nil).Load(im)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(prog.Functions()) != 2 {
		t.Fatalf("functions = %d, want 2", len(prog.Functions()))
	}
	g, ok := prog.FunctionByName("_Z1gv")
	if !ok || g.DisplayName() != "g()" {
		t.Errorf("g display = %q", g.DisplayName())
	}
	if prog.Data == nil || len(prog.Data.Objects) != 1 {
		t.Fatalf("data region = %+v", prog.Data)
	}
	if prog.Entry != base {
		t.Errorf("Entry = %#x, want %#x", prog.Entry, base)
	}
}

func TestLoadRejectsOtherArch(t *testing.T) {
	b := &elfxtest.Builder{Text: []byte{0xc3}}
	raw := b.Bytes()
	raw[18] = byte(183) // e_machine = EM_AARCH64
	path := filepath.Join(t.TempDir(), "arm.elf")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	im, err := elfx.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer im.Close()

	if _, err := New(nil).Load(im); !errors.Is(err, ErrUnsupportedArch) {
		t.Errorf("Load = %v, want ErrUnsupportedArch", err)
	}
}
