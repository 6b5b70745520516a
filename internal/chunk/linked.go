package chunk

import (
	"fmt"
	"io"
)

// Linked decorates a link-less semantic with a Link, forwarding size and
// serialization to the inner semantic.
//
// When the inner semantic is a disassembled instruction with a
// PC-relative field (a RIP-relative memory operand, or a branch form that
// has no ControlFlow encoding), the field is rewritten against the owning
// instruction's assigned address so the reference survives relocation.
// The size never changes.
type Linked struct {
	inner  Semantic
	source *Instruction // non-owning
	link   Link
}

// NewLinked wraps inner, which must be a RawInstruction or
// DisassembledInstruction.
func NewLinked(inner Semantic, link Link) *Linked {
	switch inner.(type) {
	case *RawInstruction, *DisassembledInstruction:
	default:
		panic(fmt.Sprintf("chunk: cannot decorate %T with a link", inner))
	}
	return &Linked{inner: inner, link: link}
}

// Inner returns the decorated semantic.
func (l *Linked) Inner() Semantic { return l.inner }

func (l *Linked) Kind() Kind { return l.inner.Kind() }
func (l *Linked) Size() int  { return l.inner.Size() }

func (l *Linked) SetSize(n int) error { return l.inner.SetSize(n) }

func (l *Linked) Link() Link { return l.link }

func (l *Linked) SetLink(link Link) error {
	l.link = link
	return nil
}

// field returns the PC-relative field to patch, if any.
func (l *Linked) field() (off, width int, ok bool) {
	d, isDisasm := l.inner.(*DisassembledInstruction)
	if !isDisasm {
		return 0, 0, false
	}
	inst := d.Storage().Inst()
	if inst.PCRel == 0 {
		return 0, 0, false
	}
	return inst.PCRelOff, inst.PCRel, true
}

// Displacement returns the value the PC-relative field will hold.
func (l *Linked) Displacement() (int64, error) {
	return relative(l.source, l.Size(), l.link)
}

func (l *Linked) patch(b []byte) error {
	off, width, ok := l.field()
	if !ok {
		return nil
	}
	disp, err := l.Displacement()
	if err != nil {
		return err
	}
	return putDisplacement(b[off:off+width], width, disp)
}

func (l *Linked) Encode(dst []byte) (int, error) {
	if len(dst) < l.Size() {
		return 0, io.ErrShortBuffer
	}
	n, err := l.inner.Encode(dst)
	if err != nil {
		return 0, err
	}
	if err := l.patch(dst[:n]); err != nil {
		return 0, err
	}
	return n, nil
}

func (l *Linked) AppendTo(dst []byte) ([]byte, error) {
	buf := make([]byte, l.Size())
	if _, err := l.Encode(buf); err != nil {
		return dst, err
	}
	return append(dst, buf...), nil
}

func (l *Linked) Data() ([]byte, error) {
	return l.AppendTo(nil)
}

func (l *Linked) bind(ins *Instruction) { l.source = ins }
func (*Linked) semantic()               {}
