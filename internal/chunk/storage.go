package chunk

import (
	"bytes"

	"harden/internal/disasm"
)

// Storage is a read-only byte source for an instruction. Implementations
// never carry a link; see Linked for that capability.
type Storage interface {
	Size() int
	// Encode copies exactly Size() bytes into dst, which must be large
	// enough, and returns the count.
	Encode(dst []byte) int
	AppendTo(dst []byte) []byte
	// Data returns a copy of the bytes.
	Data() []byte

	storage()
}

// RawStorage holds an opaque byte sequence, typically synthesized code.
type RawStorage struct {
	data []byte
}

// NewRawStorage copies b.
func NewRawStorage(b []byte) RawStorage {
	return RawStorage{data: bytes.Clone(b)}
}

func (s RawStorage) Size() int                  { return len(s.data) }
func (s RawStorage) Encode(dst []byte) int      { return copy(dst, s.data) }
func (s RawStorage) AppendTo(dst []byte) []byte { return append(dst, s.data...) }
func (s RawStorage) Data() []byte               { return bytes.Clone(s.data) }
func (RawStorage) storage()                     {}

// DisassembledStorage replays the bytes a decoder consumed. It never
// re-encodes from operands.
type DisassembledStorage struct {
	inst disasm.Inst
}

func NewDisassembledStorage(inst disasm.Inst) DisassembledStorage {
	inst.Bytes = bytes.Clone(inst.Bytes[:inst.Len])
	return DisassembledStorage{inst: inst}
}

// Inst returns the decoded snapshot.
func (s DisassembledStorage) Inst() disasm.Inst { return s.inst }

func (s DisassembledStorage) Size() int                  { return s.inst.Len }
func (s DisassembledStorage) Encode(dst []byte) int      { return copy(dst, s.inst.Bytes) }
func (s DisassembledStorage) AppendTo(dst []byte) []byte { return append(dst, s.inst.Bytes...) }
func (s DisassembledStorage) Data() []byte               { return bytes.Clone(s.inst.Bytes) }
func (DisassembledStorage) storage()                     {}
