package chunk

import (
	"iter"
	"slices"
)

// Block is an ordered run of instructions inside a function.
type Block struct {
	instructions []*Instruction
	parent       *Function
}

// NewBlock returns a block holding ins.
func NewBlock(ins ...*Instruction) *Block {
	b := &Block{}
	b.Append(ins...)
	return b
}

func (b *Block) Instructions() []*Instruction { return b.instructions }
func (b *Block) Len() int                     { return len(b.instructions) }
func (b *Block) Parent() *Function            { return b.parent }

// Append adds instructions at the end of the block.
func (b *Block) Append(ins ...*Instruction) {
	for _, in := range ins {
		in.parent = b
	}
	b.instructions = append(b.instructions, ins...)
}

// Insert places instructions before position idx.
func (b *Block) Insert(idx int, ins ...*Instruction) {
	for _, in := range ins {
		in.parent = b
	}
	b.instructions = slices.Insert(b.instructions, idx, ins...)
}

// Index returns the position of ins in the block, or -1.
func (b *Block) Index(ins *Instruction) int {
	return slices.Index(b.instructions, ins)
}

// Size returns the sum of the instruction sizes.
func (b *Block) Size() int {
	n := 0
	for _, ins := range b.instructions {
		n += ins.Size()
	}
	return n
}

// Function is a named sequence of blocks.
type Function struct {
	Name    string
	Display string // demangled name, if different

	// OriginalAddress and OriginalSize describe the extent of the function
	// in the input image. Both are 0 for synthesized functions.
	OriginalAddress uint64
	OriginalSize    uint64

	blocks []*Block
	parent *Program
}

// NewFunction returns an empty function.
func NewFunction(name string) *Function {
	return &Function{Name: name}
}

func (f *Function) Blocks() []*Block { return f.blocks }
func (f *Function) Parent() *Program { return f.parent }

// AddBlock appends b to the function.
func (f *Function) AddBlock(b *Block) {
	b.parent = f
	f.blocks = append(f.blocks, b)
}

// Synthesized reports whether the function has no counterpart in the input.
func (f *Function) Synthesized() bool { return f.OriginalSize == 0 }

// Entry returns the first instruction, or nil for an empty function.
func (f *Function) Entry() *Instruction {
	for _, b := range f.blocks {
		if len(b.instructions) > 0 {
			return b.instructions[0]
		}
	}
	return nil
}

// Address returns the assigned address of the entry instruction.
func (f *Function) Address() (uint64, bool) {
	entry := f.Entry()
	if entry == nil {
		return 0, false
	}
	return entry.Address()
}

// Size returns the current encoded size of the function.
func (f *Function) Size() int {
	n := 0
	for _, b := range f.blocks {
		n += b.Size()
	}
	return n
}

// Instructions iterates the function's instructions in order.
func (f *Function) Instructions() iter.Seq[*Instruction] {
	return func(yield func(*Instruction) bool) {
		for _, b := range f.blocks {
			for _, ins := range b.instructions {
				if !yield(ins) {
					return
				}
			}
		}
	}
}

// DisplayName returns the demangled name when known.
func (f *Function) DisplayName() string {
	if f.Display != "" {
		return f.Display
	}
	return f.Name
}

// Arch names the instruction set of a program.
type Arch string

const (
	ArchX86_64 Arch = "x86-64"
	ArchARM64  Arch = "arm64"
)

// Program is the root of the chunk tree.
type Program struct {
	Arch Arch

	// Entry is the original ELF entry point.
	Entry uint64

	// PIE is set for position-independent images, where every absolute
	// address in data is covered by a dynamic relocation.
	PIE bool

	// Data is the writable data region available for permutation, if any.
	Data *DataRegion

	functions []*Function
	byName    map[string]*Function
}

// NewProgram returns an empty program.
func NewProgram(arch Arch) *Program {
	return &Program{Arch: arch, byName: make(map[string]*Function)}
}

func (p *Program) Functions() []*Function { return p.functions }

// AddFunction appends f.
func (p *Program) AddFunction(f *Function) {
	f.parent = p
	p.functions = append(p.functions, f)
	if _, dup := p.byName[f.Name]; !dup {
		p.byName[f.Name] = f
	}
}

// FunctionByName returns the first function registered under name.
func (p *Program) FunctionByName(name string) (*Function, bool) {
	f, ok := p.byName[name]
	return f, ok
}

// FunctionAt returns the function whose original extent contains addr.
func (p *Program) FunctionAt(addr uint64) (*Function, bool) {
	for _, f := range p.functions {
		if f.OriginalSize > 0 && addr >= f.OriginalAddress && addr < f.OriginalAddress+f.OriginalSize {
			return f, true
		}
	}
	return nil, false
}

// Instructions iterates every instruction of every function in order.
func (p *Program) Instructions() iter.Seq[*Instruction] {
	return func(yield func(*Instruction) bool) {
		for _, f := range p.functions {
			for ins := range f.Instructions() {
				if !yield(ins) {
					return
				}
			}
		}
	}
}

// ControlFlows iterates the instructions whose semantic is a ControlFlow.
func (p *Program) ControlFlows() iter.Seq2[*Instruction, *ControlFlow] {
	return func(yield func(*Instruction, *ControlFlow) bool) {
		for ins := range p.Instructions() {
			if cf, ok := ins.Semantic().(*ControlFlow); ok {
				if !yield(ins, cf) {
					return
				}
			}
		}
	}
}
