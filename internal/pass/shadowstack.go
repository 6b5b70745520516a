package pass

import (
	"fmt"

	"harden/internal/chunk"
)

// ShadowMode selects where return addresses are mirrored.
type ShadowMode string

const (
	// ShadowConst keeps the copy at a fixed distance below the return
	// address slot, inside a region reserved below the stack.
	ShadowConst ShadowMode = "const"
	// ShadowGS keeps a separate stack whose pointer lives at gs:[0].
	ShadowGS ShadowMode = "gs"
)

// ViolationName is the synthesized function a failed check jumps to.
const ViolationName = "__harden_ss_violation"

var ud2 = []byte{0x0f, 0x0b}

// ConstOffset is how far below the return address slot the const mode
// keeps its copy. The stack limit must exceed it (ulimit -s 12288 or more),
// since nothing else reserves that region.
const ConstOffset = 0xb00000

// The sequences clobber only r10, r11 and flags.
var (
	constPrologue = [][]byte{
		// mov r11, [rsp]
		{0x4c, 0x8b, 0x1c, 0x24},
		// mov [rsp-0xb00000], r11
		{0x4c, 0x89, 0x9c, 0x24, 0x00, 0x00, 0x50, 0xff},
	}
	constEpilogue = [][]byte{
		// mov r11, [rsp]
		{0x4c, 0x8b, 0x1c, 0x24},
		// cmp [rsp-0xb00000], r11
		{0x4c, 0x39, 0x9c, 0x24, 0x00, 0x00, 0x50, 0xff},
	}

	gsPrologue = [][]byte{
		// mov r11, gs:[0]
		{0x65, 0x4c, 0x8b, 0x1c, 0x25, 0x00, 0x00, 0x00, 0x00},
		// sub r11, 8
		{0x49, 0x83, 0xeb, 0x08},
		// mov gs:[0], r11
		{0x65, 0x4c, 0x89, 0x1c, 0x25, 0x00, 0x00, 0x00, 0x00},
		// mov r10, [rsp]
		{0x4c, 0x8b, 0x14, 0x24},
		// mov [r11], r10
		{0x4d, 0x89, 0x13},
	}
	gsEpilogue = [][]byte{
		// mov r11, gs:[0]
		{0x65, 0x4c, 0x8b, 0x1c, 0x25, 0x00, 0x00, 0x00, 0x00},
		// mov r10, [r11]
		{0x4d, 0x8b, 0x13},
		// add r11, 8
		{0x49, 0x83, 0xc3, 0x08},
		// mov gs:[0], r11
		{0x65, 0x4c, 0x89, 0x1c, 0x25, 0x00, 0x00, 0x00, 0x00},
		// cmp r10, [rsp]
		{0x4c, 0x3b, 0x14, 0x24},
	}
)

// ShadowStack saves the return address at every function entry and checks
// it before every ret. A mismatch jumps to ViolationName, which traps.
type ShadowStack struct {
	Mode ShadowMode

	// Functions and Returns count what the last Run instrumented.
	Functions int
	Returns   int
}

func (*ShadowStack) Name() string { return "shadow-stack" }

func (s *ShadowStack) Run(prog *chunk.Program) error {
	var prologue, epilogue [][]byte
	switch s.Mode {
	case ShadowConst:
		prologue, epilogue = constPrologue, constEpilogue
	case ShadowGS:
		prologue, epilogue = gsPrologue, gsEpilogue
	default:
		return fmt.Errorf("unknown shadow stack mode %q", s.Mode)
	}
	s.Functions, s.Returns = 0, 0

	violation, ok := prog.FunctionByName(ViolationName)
	if !ok {
		violation = chunk.NewFunction(ViolationName)
		violation.AddBlock(chunk.NewBlock(raw(ud2)...))
		prog.AddFunction(violation)
	}
	// Every check branches through the same link.
	link := chunk.NewFunctionLink(violation)

	for _, fn := range prog.Functions() {
		if fn.Synthesized() || fn.Entry() == nil {
			continue
		}
		entry := fn.Entry()
		block := entry.Parent()
		at := block.Index(entry)
		if HasEndbr(fn) {
			at++
		}
		block.Insert(at, raw(prologue...)...)
		s.Functions++

		for _, ret := range returns(fn) {
			s.check(ret, epilogue, link)
			s.Returns++
		}
	}
	return nil
}

// check puts epilogue and a jne to the violation handler in front of ret.
// The first check instruction takes over ret's slot, so branches that
// targeted the ret now run the check.
func (s *ShadowStack) check(ret *chunk.Instruction, epilogue [][]byte, link chunk.Link) {
	block := ret.Parent()
	orig := ret.Semantic()
	ret.SetSemantic(chunk.NewRaw(epilogue[0]))
	moved := chunk.NewInstruction(orig)
	moved.SetOriginalAddress(ret.OriginalAddress())

	seq := raw(epilogue[1:]...)
	seq = append(seq, chunk.NewInstruction(chunk.NewControlFlow(chunk.Jcc(chunk.CondNE), link)), moved)
	block.Insert(block.Index(ret)+1, seq...)
}

func returns(fn *chunk.Function) []*chunk.Instruction {
	var out []*chunk.Instruction
	for ins := range fn.Instructions() {
		d, ok := ins.Semantic().(*chunk.DisassembledInstruction)
		if ok && d.Storage().Inst().Op == "ret" {
			out = append(out, ins)
		}
	}
	return out
}
