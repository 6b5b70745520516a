package layout

import (
	"errors"
	"testing"

	"harden/internal/chunk"
)

func TestAlignUp(t *testing.T) {
	testCases := []struct {
		v, align, want uint64
	}{
		{0, 0, 0},
		{5, 1, 5},
		{5, 16, 16},
		{16, 16, 16},
		{0x401001, 0x1000, 0x402000},
	}
	for _, tc := range testCases {
		if got := AlignUp(tc.v, tc.align); got != tc.want {
			t.Errorf("AlignUp(%#x, %#x) = %#x, want %#x", tc.v, tc.align, got, tc.want)
		}
	}
}

func TestSequential(t *testing.T) {
	prog := chunk.NewProgram(chunk.ArchX86_64)
	a := chunk.NewFunction("a")
	a.AddBlock(chunk.NewBlock(filler(3), filler(2)))
	b := chunk.NewFunction("b")
	b.AddBlock(chunk.NewBlock(filler(1)))
	prog.AddFunction(a)
	prog.AddFunction(b)

	s := Sequential{Base: 0x2000, Align: 8}
	if err := s.Layout(prog); err != nil {
		t.Fatalf("Layout: %v", err)
	}

	var got []uint64
	for ins := range prog.Instructions() {
		addr, ok := ins.Address()
		if !ok {
			t.Fatalf("%s not placed", ins)
		}
		got = append(got, addr)
	}
	want := []uint64{0x2000, 0x2003, 0x2008}
	if len(got) != len(want) {
		t.Fatalf("got %d addresses, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("instruction %d at %#x, want %#x", i, got[i], want[i])
		}
	}
	if end := s.End(prog); end != 0x2009 {
		t.Errorf("End = %#x, want 0x2009", end)
	}
}

func TestOneToOne(t *testing.T) {
	prog := chunk.NewProgram(chunk.ArchX86_64)

	orig := chunk.NewFunction("orig")
	orig.OriginalAddress = 0x1100
	orig.OriginalSize = 4
	orig.AddBlock(chunk.NewBlock(filler(4)))

	synth := chunk.NewFunction("synth")
	synth.AddBlock(chunk.NewBlock(filler(2)))

	prog.AddFunction(synth)
	prog.AddFunction(orig)

	l := OneToOne{Tail: 0x1201, Align: 16, Strict: true}
	if err := l.Layout(prog); err != nil {
		t.Fatalf("Layout: %v", err)
	}
	if addr, _ := orig.Address(); addr != 0x1100 {
		t.Errorf("orig at %#x, want 0x1100", addr)
	}
	if addr, _ := synth.Address(); addr != 0x1210 {
		t.Errorf("synth at %#x, want 0x1210", addr)
	}

	orig.Blocks()[0].Insert(0, filler(4))
	if err := l.Layout(prog); !errors.Is(err, ErrOverlap) {
		t.Errorf("grown Layout = %v, want ErrOverlap", err)
	}
	l.Strict = false
	if err := l.Layout(prog); err != nil {
		t.Errorf("lenient Layout = %v", err)
	}
}

func TestOneToOneSlack(t *testing.T) {
	prog := chunk.NewProgram(chunk.ArchX86_64)
	fn := chunk.NewFunction("f")
	fn.OriginalAddress = 0x1000
	fn.OriginalSize = 11
	fn.AddBlock(chunk.NewBlock(filler(4), filler(11)))
	prog.AddFunction(fn)

	testCases := []struct {
		slack uint64
		ok    bool
	}{
		{0, false},
		{3, false},
		{4, true},
		{5, true},
	}
	for _, tc := range testCases {
		l := OneToOne{Strict: true, Slack: map[*chunk.Function]uint64{fn: tc.slack}}
		err := l.Layout(prog)
		if tc.ok && err != nil {
			t.Errorf("slack %d: Layout = %v", tc.slack, err)
		}
		if !tc.ok && !errors.Is(err, ErrOverlap) {
			t.Errorf("slack %d: Layout = %v, want ErrOverlap", tc.slack, err)
		}
	}
}
