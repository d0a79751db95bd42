package ir

import (
	"math"

	"tlog.app/go/errors"
)

// Append adds an instruction without a destination to the end of a
// block.
func (p *Program) Append(b BlockHandle, in Inst) InstHandle {
	h, _ := p.insert(b, len(p.blocks[b].Code), in, 0)
	return h
}

// AppendValue adds an instruction producing a comps-wide value to the
// end of a block.
func (p *Program) AppendValue(b BlockHandle, in Inst, comps int) (InstHandle, ValueHandle) {
	return p.insert(b, len(p.blocks[b].Code), in, comps)
}

// InsertBefore places an instruction immediately before ref in ref's
// block. comps == 0 creates no destination value.
func (p *Program) InsertBefore(ref InstHandle, in Inst, comps int) (InstHandle, ValueHandle) {
	b := p.insts[ref].Block
	return p.insert(b, p.position(b, ref), in, comps)
}

// InsertAfter places an instruction immediately after ref in ref's
// block.
func (p *Program) InsertAfter(ref InstHandle, in Inst, comps int) (InstHandle, ValueHandle) {
	b := p.insts[ref].Block
	return p.insert(b, p.position(b, ref)+1, in, comps)
}

// ConstScalarF inserts a one-component float constant before ref.
func (p *Program) ConstScalarF(ref InstHandle, v float32) ValueHandle {
	_, val := p.InsertBefore(ref, Inst{
		Op:        OpConst,
		Words:     [4]uint32{math.Float32bits(v)},
		ConstType: ConstFloat,
	}, 1)
	return val
}

func (p *Program) position(b BlockHandle, ref InstHandle) int {
	for i, h := range p.blocks[b].Code {
		if h == ref {
			return i
		}
	}
	panic("ir: instruction not in its block")
}

func (p *Program) insert(b BlockHandle, pos int, in Inst, comps int) (InstHandle, ValueHandle) {
	if comps < 0 || comps > 4 {
		panic("ir: component count out of range")
	}

	h := InstHandle(len(p.insts))
	in.Block = b
	in.Dest = NoValue

	v := NoValue
	if comps != 0 {
		v = ValueHandle(len(p.values))
		p.values = append(p.values, Value{Def: h, NumComponents: uint8(comps)})
		p.uses = append(p.uses, nil)
		in.Dest = v
	}

	p.insts = append(p.insts, in)

	code := p.blocks[b].Code
	code = append(code, NoInst)
	copy(code[pos+1:], code[pos:])
	code[pos] = h
	p.blocks[b].Code = code

	for i := 0; i < srcSlots(&p.insts[h]); i++ {
		s := instSrc(&p.insts[h], i)
		if s.Kind == SrcValue {
			p.uses[s.Value] = append(p.uses[s.Value], Use{Inst: h, Index: i})
		}
	}

	return h, v
}

// SetSrc replaces source slot i of an instruction, keeping use lists
// consistent.
func (p *Program) SetSrc(h InstHandle, i int, s Src) {
	in := &p.insts[h]
	old := *instSrc(in, i)
	if old.Kind == SrcValue {
		p.dropUse(old.Value, Use{Inst: h, Index: i})
	}
	*instSrc(in, i) = s
	if s.Kind == SrcValue {
		p.uses[s.Value] = append(p.uses[s.Value], Use{Inst: h, Index: i})
	}
}

func (p *Program) dropUse(v ValueHandle, u Use) {
	list := p.uses[v]
	for i := range list {
		if list[i] == u {
			p.uses[v] = append(list[:i], list[i+1:]...)
			return
		}
	}
	panic("ir: use list out of sync")
}

// ReplaceAllUses rewires every consumer of old to read new instead.
// Consumer swizzles are preserved. The rewrite is all-or-nothing: it
// validates both handles before touching the graph.
func (p *Program) ReplaceAllUses(old, new ValueHandle) error {
	return p.ReplaceUsesExcept(old, new, NoInst)
}

// ReplaceUsesExcept rewires every consumer of old to read new, skipping
// the instruction except. Lowering passes use the exception to insert a
// corrective instruction that itself consumes old.
func (p *Program) ReplaceUsesExcept(old, new ValueHandle, except InstHandle) error {
	return p.replaceUses(old, UseValue(new), except)
}

// ReplaceUsesSrc rewires every consumer of old to the replacement
// source operand, composing swizzles and modifiers. Copy propagation
// folds moves through their consumers with this.
func (p *Program) ReplaceUsesSrc(old ValueHandle, repl Src, except InstHandle) error {
	return p.replaceUses(old, repl, except)
}

func (p *Program) replaceUses(old ValueHandle, repl Src, except InstHandle) error {
	if int(old) >= len(p.values) {
		return errors.New("replace uses: bad value %d", old)
	}
	if repl.Kind != SrcValue || int(repl.Value) >= len(p.values) {
		return errors.New("replace uses: bad replacement")
	}
	if repl.Value == old {
		return errors.New("replace uses: value %d with itself", old)
	}

	// Uses are moved one by one, but no step below can fail, so a
	// partially rewired graph is never observable.
	kept := p.uses[old][:0]
	for _, u := range p.uses[old] {
		if u.Inst == except {
			kept = append(kept, u)
			continue
		}

		s := instSrc(&p.insts[u.Inst], u.Index)
		*s = composeSrc(repl, *s)
		p.uses[repl.Value] = append(p.uses[repl.Value], u)
	}
	p.uses[old] = kept

	return nil
}

// ComposeSrc substitutes repl for the value outer reads, folding
// outer's swizzle and modifiers on top of repl's. Passes use it to
// rewrite single sources without going through a full use-list rewire.
func ComposeSrc(repl, outer Src) Src {
	return composeSrc(repl, outer)
}

// composeSrc rewrites a consumer source that read a replaced value:
// the consumer applied outer's swizzle and modifiers on top of the
// replacement operand. Absolute is applied before negate, so an outer
// absolute discards inner modifiers.
func composeSrc(repl, outer Src) Src {
	s := Src{
		Kind:    SrcValue,
		Value:   repl.Value,
		Swizzle: Compose(repl.Swizzle, outer.Swizzle),
	}
	if outer.Abs {
		s.Abs = true
		s.Neg = outer.Neg
	} else {
		s.Abs = repl.Abs
		s.Neg = outer.Neg != repl.Neg
	}
	return s
}

// RemoveInst deletes an instruction, leaving an OpNop tombstone. The
// instruction's value must be unused.
func (p *Program) RemoveInst(h InstHandle) error {
	in := &p.insts[h]
	if in.Op == OpNop {
		return nil
	}
	if in.Dest != NoValue && len(p.uses[in.Dest]) != 0 {
		return errors.New("remove %v: value %d still has %d uses", in.Op, in.Dest, len(p.uses[in.Dest]))
	}

	for i := 0; i < srcSlots(in); i++ {
		s := instSrc(in, i)
		if s.Kind == SrcValue {
			p.dropUse(s.Value, Use{Inst: h, Index: i})
		}
		*s = Src{}
	}

	if in.Dest != NoValue {
		p.values[in.Dest].Def = NoInst
	}

	*in = Inst{Op: OpNop, Block: in.Block, Dest: NoValue}

	return nil
}

// ReplaceInst swaps an instruction for a new one in place, keeping the
// destination value. Source rewiring is transactional through the use
// lists.
func (p *Program) ReplaceInst(h InstHandle, in Inst) {
	old := &p.insts[h]

	for i := 0; i < srcSlots(old); i++ {
		s := instSrc(old, i)
		if s.Kind == SrcValue {
			p.dropUse(s.Value, Use{Inst: h, Index: i})
		}
	}

	in.Block = old.Block
	in.Dest = old.Dest
	if in.Dest != NoValue {
		p.values[in.Dest].Def = h
	}
	*old = in

	for i := 0; i < srcSlots(old); i++ {
		s := instSrc(old, i)
		if s.Kind == SrcValue {
			p.uses[s.Value] = append(p.uses[s.Value], Use{Inst: h, Index: i})
		}
	}
}

// Preds returns the predecessor blocks of b in program order.
func (p *Program) Preds(b BlockHandle) []BlockHandle {
	var preds []BlockHandle
	for i := range p.blocks {
		bh := BlockHandle(i)
		for _, s := range p.Succs(bh) {
			if s == b {
				preds = append(preds, bh)
				break
			}
		}
	}
	return preds
}

// Succs returns the successor blocks of b: branch targets plus the
// fallthrough block when the terminator does not end the program.
func (p *Program) Succs(b BlockHandle) []BlockHandle {
	var succs []BlockHandle

	term := p.Terminator(b)
	if term != NoInst {
		in := &p.insts[term]
		succs = append(succs, in.Target)
		if in.Op == OpBranch {
			return succs
		}
	}

	if int(b)+1 < len(p.blocks) {
		succs = append(succs, b+1)
	}

	return succs
}

// Terminator returns the block's final branch instruction, or NoInst
// for fallthrough blocks.
func (p *Program) Terminator(b BlockHandle) InstHandle {
	code := p.blocks[b].Code
	for i := len(code) - 1; i >= 0; i-- {
		in := &p.insts[code[i]]
		if in.Op == OpNop {
			continue
		}
		if in.Op.IsTerminator() {
			return code[i]
		}
		return NoInst
	}
	return NoInst
}
