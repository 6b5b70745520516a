package chunk

import "fmt"

// Instruction is one slot in a block. It exclusively owns its Semantic.
type Instruction struct {
	sem Semantic

	original uint64 // address in the input image, 0 for synthesized code
	address  uint64 // assigned by layout
	placed   bool

	parent *Block
}

// NewInstruction returns an unplaced instruction owning sem.
func NewInstruction(sem Semantic) *Instruction {
	ins := &Instruction{}
	ins.SetSemantic(sem)
	return ins
}

// Semantic returns the owned semantic.
func (i *Instruction) Semantic() Semantic { return i.sem }

// SetSemantic replaces the owned semantic wholesale. Semantics that keep a
// back-reference are bound to i; the previous semantic is released.
func (i *Instruction) SetSemantic(sem Semantic) {
	if old, ok := i.sem.(binder); ok {
		old.bind(nil)
	}
	i.sem = sem
	if b, ok := sem.(binder); ok {
		b.bind(i)
	}
}

func (i *Instruction) Size() int { return i.sem.Size() }

// Link returns the semantic's link, if any.
func (i *Instruction) Link() Link { return i.sem.Link() }

// Address returns the address assigned by layout.
func (i *Instruction) Address() (uint64, bool) { return i.address, i.placed }

// SetAddress places the instruction.
func (i *Instruction) SetAddress(addr uint64) {
	i.address = addr
	i.placed = true
}

func (i *Instruction) OriginalAddress() uint64        { return i.original }
func (i *Instruction) SetOriginalAddress(addr uint64) { i.original = addr }

// Parent returns the containing block, or nil.
func (i *Instruction) Parent() *Block { return i.parent }

// Function returns the containing function, or nil.
func (i *Instruction) Function() *Function {
	if i.parent == nil {
		return nil
	}
	return i.parent.parent
}

func (i *Instruction) String() string {
	var where string
	if addr, ok := i.Address(); ok {
		where = fmt.Sprintf("%#x", addr)
	} else {
		where = "?"
	}
	if i.original != 0 {
		where += fmt.Sprintf(" (was %#x)", i.original)
	}
	if fn := i.Function(); fn != nil {
		return fmt.Sprintf("%s:%s %s", fn.Name, where, i.sem.Kind())
	}
	return fmt.Sprintf("%s %s", where, i.sem.Kind())
}
