package chunk

import (
	"bytes"
	"errors"
	"testing"
)

func placed(sem Semantic, addr uint64) *Instruction {
	ins := NewInstruction(sem)
	ins.SetAddress(addr)
	return ins
}

func TestControlFlowSizeClasses(t *testing.T) {
	testCases := []struct {
		name   string
		branch *Branch
		size   int
		opcode []byte
		disp   int
	}{
		{"jmp short", JMP, 2, []byte{0xeb}, 1},
		{"jmp near", JMP, 5, []byte{0xe9}, 4},
		{"je short", Jcc(CondE), 2, []byte{0x74}, 1},
		{"je near", Jcc(CondE), 6, []byte{0x0f, 0x84}, 4},
		{"jg near", Jcc(CondG), 6, []byte{0x0f, 0x8f}, 4},
		{"call", CALL, 5, []byte{0xe8}, 4},
		{"loop", LOOP, 2, []byte{0xe2}, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cf := NewControlFlow(tc.branch, nil)
			if err := cf.SetSize(tc.size); err != nil {
				t.Fatalf("SetSize(%d): %v", tc.size, err)
			}
			if cf.Size() != tc.size {
				t.Errorf("Size() = %d, want %d", cf.Size(), tc.size)
			}
			if !bytes.Equal(cf.Opcode(), tc.opcode) {
				t.Errorf("Opcode() = %x, want %x", cf.Opcode(), tc.opcode)
			}
			if cf.DisplacementSize() != tc.disp {
				t.Errorf("DisplacementSize() = %d, want %d", cf.DisplacementSize(), tc.disp)
			}
		})
	}
}

func TestControlFlowInvalidSize(t *testing.T) {
	for _, n := range []int{0, 1, 3, 4, 6, 7} {
		cf := NewControlFlow(JMP, nil)
		if err := cf.SetSize(n); !errors.Is(err, ErrInvalidSizeClass) {
			t.Errorf("JMP SetSize(%d) = %v, want ErrInvalidSizeClass", n, err)
		}
		if cf.Size() != 2 {
			t.Errorf("JMP size changed to %d after rejected SetSize(%d)", cf.Size(), n)
		}
	}
}

func TestControlFlowPrefix(t *testing.T) {
	// bnd jmp keeps its F2 prefix in both classes.
	cf := NewControlFlow(JMP, nil)
	cf.SetPrefix([]byte{0xf2})
	if cf.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", cf.Size())
	}
	if err := cf.Grow(); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if cf.Size() != 6 || !bytes.Equal(cf.Opcode(), []byte{0xf2, 0xe9}) {
		t.Errorf("after Grow: size %d opcode %x, want 6 f2e9", cf.Size(), cf.Opcode())
	}
	if err := cf.SetSize(5); !errors.Is(err, ErrInvalidSizeClass) {
		t.Errorf("SetSize(5) with prefix = %v, want ErrInvalidSizeClass", err)
	}
}

func TestControlFlowEncode(t *testing.T) {
	target := placed(NewRaw([]byte{0x90}), 0x100)

	testCases := []struct {
		name   string
		branch *Branch
		size   int
		at     uint64
		want   []byte
	}{
		// 0x100 - (0x80 + 2) = 0x7e
		{"short forward", JMP, 2, 0x80, []byte{0xeb, 0x7e}},
		// 0x100 - (0x180 + 5) = -0x85
		{"near backward", JMP, 5, 0x180, []byte{0xe9, 0x7b, 0xff, 0xff, 0xff}},
		{"jne short", Jcc(CondNE), 2, 0xf0, []byte{0x75, 0x0e}},
		{"call", CALL, 5, 0x100, []byte{0xe8, 0xfb, 0xff, 0xff, 0xff}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cf := NewControlFlow(tc.branch, NewInstructionLink(target))
			if err := cf.SetSize(tc.size); err != nil {
				t.Fatalf("SetSize: %v", err)
			}
			placed(cf, tc.at)

			buf := make([]byte, cf.Size())
			n, err := cf.Encode(buf)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if n != cf.Size() {
				t.Errorf("Encode wrote %d, Size() = %d", n, cf.Size())
			}
			if !bytes.Equal(buf, tc.want) {
				t.Errorf("Encode = %x, want %x", buf, tc.want)
			}
			data, err := cf.Data()
			if err != nil || !bytes.Equal(data, tc.want) {
				t.Errorf("Data = %x, %v; want %x", data, err, tc.want)
			}
		})
	}
}

func TestControlFlowUnresolved(t *testing.T) {
	unplaced := NewInstruction(NewRaw([]byte{0x90}))

	testCases := []struct {
		name string
		cf   func() *ControlFlow
	}{
		{"nil link", func() *ControlFlow {
			cf := NewControlFlow(JMP, nil)
			placed(cf, 0)
			return cf
		}},
		{"unresolved link", func() *ControlFlow {
			cf := NewControlFlow(JMP, &UnresolvedLink{Original: 0x1234})
			placed(cf, 0)
			return cf
		}},
		{"unplaced target", func() *ControlFlow {
			cf := NewControlFlow(JMP, NewInstructionLink(unplaced))
			placed(cf, 0)
			return cf
		}},
		{"unplaced source", func() *ControlFlow {
			cf := NewControlFlow(JMP, NewAbsoluteLink(0))
			NewInstruction(cf)
			return cf
		}},
		{"detached", func() *ControlFlow {
			return NewControlFlow(JMP, NewAbsoluteLink(0))
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cf := tc.cf()
			if _, err := cf.Displacement(); !errors.Is(err, ErrUnresolvedTarget) {
				t.Errorf("Displacement = %v, want ErrUnresolvedTarget", err)
			}
			if _, err := cf.Data(); !errors.Is(err, ErrUnresolvedTarget) {
				t.Errorf("Data = %v, want ErrUnresolvedTarget", err)
			}
			if _, err := cf.Encode(make([]byte, cf.Size())); !errors.Is(err, ErrUnresolvedTarget) {
				t.Errorf("Encode = %v, want ErrUnresolvedTarget", err)
			}
		})
	}
}

func TestControlFlowGrow(t *testing.T) {
	cf := NewControlFlow(Jcc(CondL), nil)
	if !cf.CanGrow() {
		t.Fatal("short jl cannot grow")
	}
	if err := cf.Grow(); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if cf.Class() != 1 || cf.Size() != 6 {
		t.Errorf("after Grow: class %d size %d, want 1 6", cf.Class(), cf.Size())
	}
	if err := cf.Grow(); !errors.Is(err, ErrDisplacementOverflow) {
		t.Errorf("Grow at largest class = %v, want ErrDisplacementOverflow", err)
	}

	loop := NewControlFlow(LOOP, NewAbsoluteLink(0x1000))
	placed(loop, 0)
	if _, err := loop.Data(); !errors.Is(err, ErrDisplacementOverflow) {
		t.Errorf("loop out of range Data = %v, want ErrDisplacementOverflow", err)
	}
}

func TestFits(t *testing.T) {
	cf := NewControlFlow(JMP, nil)
	for _, d := range []int64{-128, 0, 127} {
		if !cf.Fits(d) {
			t.Errorf("short Fits(%d) = false", d)
		}
	}
	for _, d := range []int64{-129, 128, 1 << 20} {
		if cf.Fits(d) {
			t.Errorf("short Fits(%d) = true", d)
		}
	}
	_ = cf.Grow()
	if !cf.Fits(1<<31-1) || cf.Fits(1<<31) {
		t.Error("near Fits bounds wrong")
	}
}

func TestMatchBranch(t *testing.T) {
	testCases := []struct {
		name     string
		raw      []byte
		off, w   int
		branch   *Branch
		class    int
		prefix   []byte
		wantFail bool
	}{
		{name: "jmp short", raw: []byte{0xeb, 0xfe}, off: 1, w: 1, branch: JMP, class: 0},
		{name: "jmp near", raw: []byte{0xe9, 0, 0, 0, 0}, off: 1, w: 4, branch: JMP, class: 1},
		{name: "je near", raw: []byte{0x0f, 0x84, 0, 0, 0, 0}, off: 2, w: 4, branch: Jcc(CondE), class: 1},
		{name: "jb short", raw: []byte{0x72, 0x00}, off: 1, w: 1, branch: Jcc(CondB), class: 0},
		{name: "call", raw: []byte{0xe8, 0, 0, 0, 0}, off: 1, w: 4, branch: CALL, class: 0},
		{name: "bnd jmp", raw: []byte{0xf2, 0xe9, 0, 0, 0, 0}, off: 2, w: 4, branch: JMP, class: 1, prefix: []byte{0xf2}},
		{name: "jmp rel16", raw: []byte{0x66, 0xe9, 0, 0}, off: 2, w: 2, wantFail: true},
		{name: "lea rip", raw: []byte{0x48, 0x8d, 0x05, 0, 0, 0, 0}, off: 3, w: 4, wantFail: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b, class, prefix, ok := MatchBranch(tc.raw, tc.off, tc.w)
			if tc.wantFail {
				if ok {
					t.Fatalf("MatchBranch = %s/%d, want no match", b.Name, class)
				}
				return
			}
			if !ok {
				t.Fatal("MatchBranch found nothing")
			}
			if b != tc.branch || class != tc.class || !bytes.Equal(prefix, tc.prefix) {
				t.Errorf("MatchBranch = %s/%d prefix %x, want %s/%d prefix %x",
					b.Name, class, prefix, tc.branch.Name, tc.class, tc.prefix)
			}
		})
	}
}
