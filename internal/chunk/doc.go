// Package chunk is the instruction model of the rewriter.
//
// A Program holds Functions, a Function holds Blocks and a Block holds
// Instructions. Every Instruction owns exactly one Semantic which decides
// its size, its optional Link and its encoding:
//
//   - RawInstruction emits bytes given at construction.
//   - DisassembledInstruction replays the bytes the decoder consumed.
//   - ControlFlow is a relative branch or call whose size class follows
//     the distance to its target.
//   - Linked decorates one of the first two with a Link and re-targets a
//     PC-relative field on encode.
//
// Displacements are only defined once layout has assigned addresses; see
// package layout for the fixpoint that settles ControlFlow sizes.
package chunk
