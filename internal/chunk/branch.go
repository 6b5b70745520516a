package chunk

import "bytes"

// SizeClass is one encoding tier of a branch: its opcode bytes and the
// width of the signed displacement that follows.
type SizeClass struct {
	Opcode   []byte
	DispSize int
}

// Size returns the encoded length of the class, excluding prefixes.
func (c SizeClass) Size() int { return len(c.Opcode) + c.DispSize }

// Branch describes an x86-64 relative branch kind by its size classes,
// ordered from the narrowest encoding to the widest.
type Branch struct {
	Name    string
	Classes []SizeClass
}

// Cond is an x86 condition code, the low nibble of a Jcc opcode.
type Cond uint8

const (
	CondO Cond = iota
	CondNO
	CondB
	CondAE
	CondE
	CondNE
	CondBE
	CondA
	CondS
	CondNS
	CondP
	CondNP
	CondL
	CondGE
	CondLE
	CondG
)

var condNames = [16]string{
	"jo", "jno", "jb", "jae", "je", "jne", "jbe", "ja",
	"js", "jns", "jp", "jnp", "jl", "jge", "jle", "jg",
}

var (
	JMP = &Branch{Name: "jmp", Classes: []SizeClass{
		{Opcode: []byte{0xeb}, DispSize: 1},
		{Opcode: []byte{0xe9}, DispSize: 4},
	}}
	CALL = &Branch{Name: "call", Classes: []SizeClass{
		{Opcode: []byte{0xe8}, DispSize: 4},
	}}
	JRCXZ  = &Branch{Name: "jrcxz", Classes: []SizeClass{{Opcode: []byte{0xe3}, DispSize: 1}}}
	LOOP   = &Branch{Name: "loop", Classes: []SizeClass{{Opcode: []byte{0xe2}, DispSize: 1}}}
	LOOPE  = &Branch{Name: "loope", Classes: []SizeClass{{Opcode: []byte{0xe1}, DispSize: 1}}}
	LOOPNE = &Branch{Name: "loopne", Classes: []SizeClass{{Opcode: []byte{0xe0}, DispSize: 1}}}

	jcc [16]*Branch
)

func init() {
	for cc := range jcc {
		jcc[cc] = &Branch{Name: condNames[cc], Classes: []SizeClass{
			{Opcode: []byte{0x70 + byte(cc)}, DispSize: 1},
			{Opcode: []byte{0x0f, 0x80 + byte(cc)}, DispSize: 4},
		}}
	}
}

// Jcc returns the conditional jump kind for cc.
func Jcc(cc Cond) *Branch { return jcc[cc&0xf] }

// Branches lists every known kind.
func Branches() []*Branch {
	out := []*Branch{JMP, CALL, JRCXZ, LOOP, LOOPE, LOOPNE}
	return append(out, jcc[:]...)
}

// Transitions returns how many times a branch at class can still grow.
func (b *Branch) Transitions(class int) int {
	return len(b.Classes) - 1 - class
}

// classOf returns the class whose encoding, after prefix bytes of length
// prefix, totals size bytes.
func (b *Branch) classOf(prefix, size int) (int, bool) {
	for i, c := range b.Classes {
		if prefix+c.Size() == size {
			return i, true
		}
	}
	return 0, false
}

// MatchBranch identifies a branch from its raw encoding, where the
// displacement field of width dispSize starts at dispOff. It returns the
// kind, the size class and any prefix bytes preceding the opcode.
func MatchBranch(raw []byte, dispOff, dispSize int) (*Branch, int, []byte, bool) {
	if dispOff <= 0 || dispOff > len(raw) {
		return nil, 0, nil, false
	}
	head := raw[:dispOff]
	for _, b := range Branches() {
		for i, c := range b.Classes {
			if c.DispSize == dispSize && bytes.HasSuffix(head, c.Opcode) {
				prefix := bytes.Clone(head[:len(head)-len(c.Opcode)])
				return b, i, prefix, true
			}
		}
	}
	return nil, 0, nil, false
}
