package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

// DecodeARM64 decodes one fixed-width AArch64 instruction. ARM64
// records are produced for listings only; the rewriter works on x86-64.
func DecodeARM64(code []byte, va uint64) (Inst, error) {
	if len(code) < 4 {
		return Inst{}, fmt.Errorf("decode arm64 at %#x: short buffer", va)
	}
	ai, err := arm64asm.Decode(code[:4])
	if err != nil {
		return Inst{}, fmt.Errorf("decode arm64 at %#x: %w", va, err)
	}

	inst := Inst{
		VA:      va,
		Bytes:   append([]byte(nil), code[:4]...),
		Len:     4,
		Op:      strings.ToLower(ai.Op.String()),
		Text:    arm64asm.GNUSyntax(ai),
		Control: arm64Control(ai),
	}
	for _, arg := range ai.Args {
		if pcRel, ok := arg.(arm64asm.PCRel); ok {
			inst.Target = uint64(int64(va) + int64(pcRel))
			inst.HasTarget = true
		}
	}
	return inst, nil
}

func arm64Control(ai arm64asm.Inst) Control {
	switch ai.Op {
	case arm64asm.B:
		if _, ok := ai.Args[0].(arm64asm.Cond); ok {
			return ControlCondJump
		}
		return ControlJump
	case arm64asm.BL:
		return ControlCall
	case arm64asm.BR, arm64asm.BLR:
		return ControlIndirect
	case arm64asm.RET:
		return ControlRet
	case arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		return ControlCondJump
	}
	return ControlNone
}
