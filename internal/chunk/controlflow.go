package chunk

import (
	"bytes"
	"fmt"
	"io"
	"slices"
)

// ControlFlow is a relative branch or call whose encoded length depends on
// the distance to its Link target. The size is chosen by iterating
// Displacement, Fits and Grow until the whole program reaches a fixpoint;
// see layout.Resolver.
type ControlFlow struct {
	source   *Instruction // non-owning; set when installed in an Instruction
	branch   *Branch
	class    int
	prefix   []byte
	opcode   []byte
	dispSize int
	link     Link
}

// NewControlFlow returns a branch of the given kind in its narrowest class.
func NewControlFlow(branch *Branch, link Link) *ControlFlow {
	cf := &ControlFlow{branch: branch, link: link}
	cf.setClass(0)
	return cf
}

// SetPrefix keeps legacy prefix bytes (branch hints, bnd) in front of the
// opcode in every size class.
func (c *ControlFlow) SetPrefix(prefix []byte) {
	c.prefix = bytes.Clone(prefix)
	c.setClass(c.class)
}

func (c *ControlFlow) setClass(class int) {
	sc := c.branch.Classes[class]
	c.class = class
	c.opcode = append(slices.Clip(c.prefix), sc.Opcode...)
	c.dispSize = sc.DispSize
}

func (c *ControlFlow) Kind() Kind { return KindControlFlow }

// Branch returns the branch kind.
func (c *ControlFlow) Branch() *Branch { return c.branch }

// Class returns the index of the current size class.
func (c *ControlFlow) Class() int { return c.class }

// Source returns the owning instruction, or nil if not yet installed.
func (c *ControlFlow) Source() *Instruction { return c.source }

// Opcode returns the current opcode bytes, prefixes included.
func (c *ControlFlow) Opcode() []byte { return bytes.Clone(c.opcode) }

// DisplacementSize returns the number of bytes reserved for the operand.
func (c *ControlFlow) DisplacementSize() int { return c.dispSize }

func (c *ControlFlow) Size() int { return len(c.opcode) + c.dispSize }

// SetSize switches to the size class whose total length is n, changing
// the opcode along with the displacement width.
func (c *ControlFlow) SetSize(n int) error {
	class, ok := c.branch.classOf(len(c.prefix), n)
	if !ok {
		return fmt.Errorf("%s cannot be %d bytes: %w", c.branch.Name, n, ErrInvalidSizeClass)
	}
	c.setClass(class)
	return nil
}

func (c *ControlFlow) Link() Link { return c.link }

func (c *ControlFlow) SetLink(link Link) error {
	c.link = link
	return nil
}

// Displacement returns target - (own address + Size()). The size term is
// why resolution is iterative: a wider class moves the reference point.
func (c *ControlFlow) Displacement() (int64, error) {
	return relative(c.source, c.Size(), c.link)
}

// Fits reports whether disp is encodable in the current class.
func (c *ControlFlow) Fits(disp int64) bool {
	return fitsSigned(disp, c.dispSize)
}

// CanGrow reports whether a wider class exists.
func (c *ControlFlow) CanGrow() bool {
	return c.class+1 < len(c.branch.Classes)
}

// Grow escalates to the next wider class.
func (c *ControlFlow) Grow() error {
	if !c.CanGrow() {
		return fmt.Errorf("%s already at %d bytes: %w", c.branch.Name, c.Size(), ErrDisplacementOverflow)
	}
	return c.SetSize(len(c.prefix) + c.branch.Classes[c.class+1].Size())
}

func (c *ControlFlow) Encode(dst []byte) (int, error) {
	size := c.Size()
	if len(dst) < size {
		return 0, io.ErrShortBuffer
	}
	disp, err := c.Displacement()
	if err != nil {
		return 0, err
	}
	if err := putDisplacement(dst[len(c.opcode):size], c.dispSize, disp); err != nil {
		return 0, fmt.Errorf("%s: %w", c.branch.Name, err)
	}
	copy(dst, c.opcode)
	return size, nil
}

func (c *ControlFlow) AppendTo(dst []byte) ([]byte, error) {
	buf := make([]byte, c.Size())
	if _, err := c.Encode(buf); err != nil {
		return dst, err
	}
	return append(dst, buf...), nil
}

func (c *ControlFlow) Data() ([]byte, error) {
	return c.AppendTo(nil)
}

func (c *ControlFlow) String() string {
	return fmt.Sprintf("%s/%d %v", c.branch.Name, c.Size(), c.link)
}

func (c *ControlFlow) bind(ins *Instruction) { c.source = ins }
func (*ControlFlow) semantic()               {}
