package chunk

import (
	"fmt"
	"io"

	"harden/internal/disasm"
)

// Kind identifies one of the closed set of semantic variants.
type Kind uint8

const (
	KindRaw Kind = iota + 1
	KindDisassembled
	KindControlFlow
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindDisassembled:
		return "disassembled"
	case KindControlFlow:
		return "control-flow"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Semantic is the behavior owned by one Instruction: its size, optional
// link and serialization. Size always equals the number of bytes the next
// successful Encode or AppendTo emits.
//
// The interface is sealed; the variants are RawInstruction,
// DisassembledInstruction, ControlFlow and the Linked decorator over the
// first two.
type Semantic interface {
	Kind() Kind

	Size() int
	SetSize(n int) error

	// Link returns nil when the semantic carries no link.
	Link() Link
	SetLink(l Link) error

	// Encode writes the instruction into dst, which must hold Size()
	// bytes, and returns the number of bytes written.
	Encode(dst []byte) (int, error)
	AppendTo(dst []byte) ([]byte, error)
	Data() ([]byte, error)

	semantic()
}

// binder is implemented by semantics that keep a non-owning reference to
// the Instruction that owns them.
type binder interface {
	bind(ins *Instruction)
}

// StorageSemantic adapts a Storage to the Semantic interface. Its size is
// fixed by the storage and it has no link.
type StorageSemantic[S Storage] struct {
	storage S
}

type (
	RawInstruction          = StorageSemantic[RawStorage]
	DisassembledInstruction = StorageSemantic[DisassembledStorage]
)

// NewRaw returns a semantic that emits b verbatim.
func NewRaw(b []byte) *RawInstruction {
	return &RawInstruction{storage: NewRawStorage(b)}
}

// NewDisassembled returns a semantic that replays inst's original encoding.
func NewDisassembled(inst disasm.Inst) *DisassembledInstruction {
	return &DisassembledInstruction{storage: NewDisassembledStorage(inst)}
}

// Storage returns the underlying byte source.
func (s *StorageSemantic[S]) Storage() S { return s.storage }

func (s *StorageSemantic[S]) Kind() Kind {
	if _, ok := any(s.storage).(DisassembledStorage); ok {
		return KindDisassembled
	}
	return KindRaw
}

func (s *StorageSemantic[S]) Size() int { return s.storage.Size() }

func (s *StorageSemantic[S]) SetSize(n int) error {
	return fmt.Errorf("set size %d on %s instruction: %w", n, s.Kind(), ErrUnsupportedMutation)
}

func (s *StorageSemantic[S]) Link() Link { return nil }

func (s *StorageSemantic[S]) SetLink(Link) error {
	return fmt.Errorf("set link on %s instruction: %w", s.Kind(), ErrUnsupportedMutation)
}

func (s *StorageSemantic[S]) Encode(dst []byte) (int, error) {
	if len(dst) < s.storage.Size() {
		return 0, io.ErrShortBuffer
	}
	return s.storage.Encode(dst), nil
}

func (s *StorageSemantic[S]) AppendTo(dst []byte) ([]byte, error) {
	return s.storage.AppendTo(dst), nil
}

func (s *StorageSemantic[S]) Data() ([]byte, error) {
	return s.storage.Data(), nil
}

func (*StorageSemantic[S]) semantic() {}
