package loader

import (
	"harden/internal/chunk"
	"harden/internal/disasm"
	"harden/internal/logging"
	"harden/internal/symbols"
)

// pending is a reference whose link is chosen once every function has been
// decoded, since targets may lie in later functions.
type pending struct {
	ins  *chunk.Instruction
	sem  chunk.Semantic
	inst disasm.Inst
}

type builder struct {
	logger  *logging.LoggerCloser
	symbols *symbols.Cache
	prog    *chunk.Program
	name    func(addr uint64) string

	byAddr  map[uint64]*chunk.Instruction
	entries map[uint64]*chunk.Function
	pending []pending
	stats   Stats
}

func (b *builder) addFunction(name string, addr uint64, code []byte) {
	fn := chunk.NewFunction(name)
	fn.Display = b.symbols.Display(name)
	fn.OriginalAddress = addr
	fn.OriginalSize = uint64(len(code))

	block := chunk.NewBlock()
	for _, inst := range disasm.Disassemble(disasm.DecodeX86, code, addr) {
		ins := b.instruction(inst)
		ins.SetOriginalAddress(inst.VA)
		block.Append(ins)
		b.byAddr[inst.VA] = ins
		b.stats.Instructions++
	}
	fn.AddBlock(block)
	b.prog.AddFunction(fn)
	b.entries[addr] = fn
	b.stats.Functions++
}

func (b *builder) instruction(inst disasm.Inst) *chunk.Instruction {
	if !inst.Valid() {
		b.stats.Bad++
		return chunk.NewInstruction(chunk.NewRaw(inst.Bytes))
	}
	if !inst.HasTarget || inst.PCRel == 0 {
		return chunk.NewInstruction(chunk.NewDisassembled(inst))
	}

	var sem chunk.Semantic
	switch inst.Control {
	case disasm.ControlJump, disasm.ControlCondJump, disasm.ControlCall:
		if br, class, prefix, ok := chunk.MatchBranch(inst.Bytes, inst.PCRelOff, inst.PCRel); ok {
			cf := chunk.NewControlFlow(br, nil)
			cf.SetPrefix(prefix)
			// Start from the original encoding so an unmodified program
			// reassembles to identical bytes.
			if err := cf.SetSize(len(prefix) + br.Classes[class].Size()); err != nil {
				panic(err)
			}
			sem = cf
			b.stats.ControlFlow++
		}
	}
	if sem == nil {
		sem = chunk.NewLinked(chunk.NewDisassembled(inst), nil)
		b.stats.Linked++
	}
	ins := chunk.NewInstruction(sem)
	b.pending = append(b.pending, pending{ins: ins, sem: sem, inst: inst})
	return ins
}

// link attaches a Link to every pending reference.
//
// Calls and address references to a function entry use a FunctionLink so
// code inserted at the entry runs. Jumps, including tail jumps, use an
// InstructionLink to the original instruction: the caller's frame already
// went through the prologue. References into .data objects use a DataLink
// so they follow permutation. Anything else keeps its absolute target.
func (b *builder) link() {
	for _, p := range b.pending {
		target := p.inst.Target
		jump := p.inst.Control == disasm.ControlJump || p.inst.Control == disasm.ControlCondJump
		var link chunk.Link

		switch fn, isEntry := b.entries[target]; {
		case isEntry && !jump:
			link = chunk.NewFunctionLink(fn)
		case b.byAddr[target] != nil:
			link = chunk.NewInstructionLink(b.byAddr[target])
		default:
			if d := b.prog.Data; d != nil {
				if obj, ok := d.ObjectAt(target); ok {
					link = chunk.NewDataLink(obj, int64(target-obj.OriginalAddress))
					break
				}
			}
			if fn, ok := b.prog.FunctionAt(target); ok {
				b.logger.Warn("reference into the middle of an instruction",
					"from", p.inst.VA, "to", target, "function", fn.Name)
			}
			abs := chunk.NewAbsoluteLink(target)
			abs.Name = b.name(target)
			link = abs
			b.stats.External++
		}

		if err := p.sem.SetLink(link); err != nil {
			// ControlFlow and Linked both accept links.
			panic(err)
		}
	}
	b.pending = nil
}
