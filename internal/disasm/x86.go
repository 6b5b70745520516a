package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// x86asm has no CET opcodes; the landing pads are matched by hand.
var endbr = map[byte]string{0xfa: "endbr64", 0xfb: "endbr32"}

// DecodeX86 decodes one 64-bit x86 instruction.
func DecodeX86(code []byte, va uint64) (Inst, error) {
	if len(code) >= 4 && code[0] == 0xf3 && code[1] == 0x0f && code[2] == 0x1e {
		if op, ok := endbr[code[3]]; ok {
			return Inst{VA: va, Bytes: append([]byte(nil), code[:4]...), Len: 4, Op: op, Text: op}, nil
		}
	}
	xi, err := x86asm.Decode(code, 64)
	if err != nil {
		return Inst{}, fmt.Errorf("decode x86 at %#x: %w", va, err)
	}
	return fromX86(xi, code[:xi.Len], va), nil
}

func fromX86(xi x86asm.Inst, raw []byte, va uint64) Inst {
	inst := Inst{
		VA:       va,
		Bytes:    append([]byte(nil), raw...),
		Len:      xi.Len,
		Op:       strings.ToLower(xi.Op.String()),
		Text:     strings.ToLower(x86asm.IntelSyntax(xi, va, nil)),
		Control:  x86Control(xi),
		PCRel:    xi.PCRel,
		PCRelOff: xi.PCRelOff,
	}

	end := int64(va) + int64(xi.Len)
	for _, arg := range xi.Args {
		switch a := arg.(type) {
		case x86asm.Rel:
			inst.Target = uint64(end + int64(a))
			inst.HasTarget = true
		case x86asm.Mem:
			if a.Base == x86asm.RIP {
				inst.Target = uint64(end + a.Disp)
				inst.HasTarget = true
			}
		}
	}
	return inst
}

func x86Control(xi x86asm.Inst) Control {
	_, direct := xi.Args[0].(x86asm.Rel)
	switch xi.Op {
	case x86asm.JMP:
		if direct {
			return ControlJump
		}
		return ControlIndirect
	case x86asm.CALL:
		if direct {
			return ControlCall
		}
		return ControlIndirect
	case x86asm.LJMP, x86asm.LCALL:
		return ControlIndirect
	case x86asm.RET, x86asm.LRET:
		return ControlRet
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JG,
		x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP,
		x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JS, x86asm.JCXZ, x86asm.JECXZ,
		x86asm.JRCXZ, x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return ControlCondJump
	}
	return ControlNone
}
