// Package disasm defines a common instruction representation used
// across architecture-specific disassemblers.
package disasm

// Control classifies the control-flow effect of an instruction.
type Control uint8

const (
	ControlNone Control = iota
	ControlJump
	ControlCondJump
	ControlCall
	ControlRet
	// ControlIndirect is a jump or call through a register or memory
	// operand; its target is not known statically.
	ControlIndirect
)

func (c Control) String() string {
	switch c {
	case ControlJump:
		return "jump"
	case ControlCondJump:
		return "cjump"
	case ControlCall:
		return "call"
	case ControlRet:
		return "ret"
	case ControlIndirect:
		return "indirect"
	}
	return "none"
}

// Inst is a decoded instruction.
type Inst struct {
	VA      uint64  // virtual address of instruction
	Bytes   []byte  // raw encoding exactly as consumed by the decoder
	Len     int     // length of Bytes
	Op      string  // mnemonic in lowercase
	Text    string  // formatted disassembly string
	Control Control // control-flow effect

	// Target is the absolute destination of a direct branch or the
	// address referenced by a PC-relative memory operand.
	Target    uint64
	HasTarget bool

	// PCRel is the width in bytes of the PC-relative field inside Bytes
	// (0 if the instruction has none) and PCRelOff its offset.
	PCRel    int
	PCRelOff int
}

// Valid reports whether the record came from a successful decode.
func (i Inst) Valid() bool {
	return i.Op != BadOp
}

// End returns the address just past the instruction.
func (i Inst) End() uint64 {
	return i.VA + uint64(i.Len)
}

// BadOp is the mnemonic given to bytes the decoder could not interpret.
const BadOp = "(bad)"

// Stream is a linear sequence of instructions.
type Stream []Inst

// Decoder decodes a single instruction from the start of code, which is
// located at virtual address va.
type Decoder func(code []byte, va uint64) (Inst, error)

// Disassemble decodes code linearly. Bytes that fail to decode are
// emitted as one-byte BadOp records so the stream always covers the
// whole input.
func Disassemble(decode Decoder, code []byte, va uint64) Stream {
	var out Stream
	for off := 0; off < len(code); {
		inst, err := decode(code[off:], va+uint64(off))
		if err != nil || inst.Len <= 0 {
			inst = bad(code[off:off+1], va+uint64(off))
		}
		out = append(out, inst)
		off += inst.Len
	}
	return out
}

func bad(b []byte, va uint64) Inst {
	return Inst{
		VA:    va,
		Bytes: append([]byte(nil), b...),
		Len:   len(b),
		Op:    BadOp,
		Text:  BadOp,
	}
}
