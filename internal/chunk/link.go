package chunk

import "fmt"

// Link is a reference from a code location to a target that resolves to a
// concrete address once layout is known. A single Link may be shared by
// many instructions.
type Link interface {
	// Target returns the resolved address, or false while unresolved.
	Target() (uint64, bool)
}

// InstructionLink targets a specific instruction.
type InstructionLink struct {
	target *Instruction
}

func NewInstructionLink(target *Instruction) *InstructionLink {
	return &InstructionLink{target: target}
}

func (l *InstructionLink) Instruction() *Instruction { return l.target }

func (l *InstructionLink) Target() (uint64, bool) { return l.target.Address() }

func (l *InstructionLink) String() string {
	return fmt.Sprintf("insn(%s)", l.target)
}

// FunctionLink targets whatever instruction currently begins a function,
// so code inserted at the entry (a CFI landing pad, a prologue) is
// executed by callers.
type FunctionLink struct {
	target *Function
}

func NewFunctionLink(target *Function) *FunctionLink {
	return &FunctionLink{target: target}
}

func (l *FunctionLink) Function() *Function { return l.target }

func (l *FunctionLink) Target() (uint64, bool) {
	entry := l.target.Entry()
	if entry == nil {
		return 0, false
	}
	return entry.Address()
}

func (l *FunctionLink) String() string {
	return fmt.Sprintf("func(%s)", l.target.Name)
}

// AbsoluteLink targets a fixed address outside the rewritten code, such
// as a PLT stub or an external location.
type AbsoluteLink struct {
	addr uint64
	Name string // optional symbol name for listings
}

func NewAbsoluteLink(addr uint64) *AbsoluteLink {
	return &AbsoluteLink{addr: addr}
}

func (l *AbsoluteLink) Target() (uint64, bool) { return l.addr, true }

func (l *AbsoluteLink) String() string {
	if l.Name != "" {
		return fmt.Sprintf("abs(%s)", l.Name)
	}
	return fmt.Sprintf("abs(%#x)", l.addr)
}

// DataLink targets a byte offset inside a data object whose address may
// change when the data layout is permuted.
type DataLink struct {
	object *DataObject
	offset int64
}

func NewDataLink(object *DataObject, offset int64) *DataLink {
	return &DataLink{object: object, offset: offset}
}

func (l *DataLink) Object() *DataObject { return l.object }
func (l *DataLink) Offset() int64       { return l.offset }

func (l *DataLink) Target() (uint64, bool) {
	return uint64(int64(l.object.Address()) + l.offset), true
}

func (l *DataLink) String() string {
	return fmt.Sprintf("data(%s%+d)", l.object.Name, l.offset)
}

// UnresolvedLink never resolves. It marks references the loader could not
// attribute to any known target.
type UnresolvedLink struct {
	Original uint64
}

func (*UnresolvedLink) Target() (uint64, bool) { return 0, false }

func (l *UnresolvedLink) String() string {
	return fmt.Sprintf("unresolved(%#x)", l.Original)
}
