package opt

import (
	"github.com/gogpu/vivante/hw"
	"github.com/gogpu/vivante/ir"
)

// reachable marks blocks reachable from the entry block.
func reachable(p *ir.Program) []bool {
	seen := make([]bool, p.NumBlocks())
	stack := []ir.BlockHandle{0}
	seen[0] = true

	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, s := range p.Succs(b) {
			if !seen[s] {
				seen[s] = true
				stack = append(stack, s)
			}
		}
	}

	return seen
}

// deadCF empties unreachable blocks. Block handles stay valid; the
// blocks remain as empty placeholders that emission skips.
func deadCF(p *ir.Program, specs *hw.Specs) (bool, error) {
	seen := reachable(p)

	dead := false
	for bi := range seen {
		if !seen[bi] && len(p.BlockCode(ir.BlockHandle(bi))) > 0 {
			dead = true
		}
	}
	if !dead {
		return false, nil
	}

	// Phi slots fed from dead predecessors go first, or the dead
	// values would still count as used.
	for bi := 0; bi < p.NumBlocks(); bi++ {
		if !seen[bi] {
			continue
		}

		for _, h := range p.BlockCode(ir.BlockHandle(bi)) {
			in := p.Inst(h)
			if in.Op != ir.OpPhi {
				continue
			}

			for i := range in.Src {
				pb := in.PhiBlocks[i]
				if pb != ir.NoBlock && !seen[pb] {
					p.SetSrc(h, i, ir.Src{})
					p.Inst(h).PhiBlocks[i] = ir.NoBlock
				}
			}
		}
	}

	var doomed []ir.InstHandle
	for bi := 0; bi < p.NumBlocks(); bi++ {
		if seen[bi] {
			continue
		}

		for _, h := range p.BlockCode(ir.BlockHandle(bi)) {
			if p.Inst(h).Op == ir.OpNop {
				continue
			}
			doomed = append(doomed, h)

			// Unhook sources now so dead-on-dead uses do not block
			// removal below.
			for i := 0; i < 4; i++ {
				if i < 3 && p.Inst(h).Src[i].Kind == ir.SrcValue {
					p.SetSrc(h, i, ir.Src{})
				} else if i == 3 && p.Inst(h).Src3.Kind == ir.SrcValue {
					p.SetSrc(h, i, ir.Src{})
				}
			}
		}
	}

	for _, h := range doomed {
		err := p.RemoveInst(h)
		if err != nil {
			return true, err
		}
	}

	return len(doomed) > 0, nil
}

// trivialContinues threads branches through blocks that contain only an
// unconditional branch.
func trivialContinues(p *ir.Program, specs *hw.Specs) (bool, error) {
	// target of the trivial block, or NoBlock
	thread := make([]ir.BlockHandle, p.NumBlocks())
	for bi := range thread {
		thread[bi] = ir.NoBlock

		b := ir.BlockHandle(bi)
		term := p.Terminator(b)
		if term == ir.NoInst || p.Inst(term).Op != ir.OpBranch {
			continue
		}

		trivial := true
		for _, h := range p.BlockCode(b) {
			if op := p.Inst(h).Op; op != ir.OpNop && op != ir.OpBranch {
				trivial = false
				break
			}
		}
		if !trivial {
			continue
		}

		tgt := p.Inst(term).Target
		if tgt == b || hasPhiFrom(p, tgt, b) {
			continue
		}

		thread[bi] = tgt
	}

	changed := false

	for bi := 0; bi < p.NumBlocks(); bi++ {
		term := p.Terminator(ir.BlockHandle(bi))
		if term == ir.NoInst {
			continue
		}

		in := p.Inst(term)
		if t := thread[in.Target]; t != ir.NoBlock && t != in.Target {
			in.Target = t
			changed = true
		}
	}

	return changed, nil
}

func hasPhiFrom(p *ir.Program, b, pred ir.BlockHandle) bool {
	for _, h := range p.BlockCode(b) {
		in := p.Inst(h)
		if in.Op != ir.OpPhi {
			continue
		}
		for _, pb := range in.PhiBlocks {
			if pb == pred {
				return true
			}
		}
	}
	return false
}

// restructureIf strips a redundant inequality test from conditional
// branches: branching on sne(x, 0) is branching on x.
func restructureIf(p *ir.Program, specs *hw.Specs) (bool, error) {
	return eachInst(p, func(h ir.InstHandle) (bool, error) {
		in := p.Inst(h)
		// DiscardIf tests > 0 rather than != 0, but sne produces
		// exactly 0.0 or 1.0, so stripping it is valid there too.
		if in.Op != ir.OpBranchIfZero && in.Op != ir.OpDiscardIf {
			return false, nil
		}
		if in.Src[0].Kind != ir.SrcValue {
			return false, nil
		}

		def := p.Value(in.Src[0].Value).Def
		if def == ir.NoInst {
			return false, nil
		}

		cmp := p.Inst(def)
		if cmp.Op != ir.OpSetNE {
			return false, nil
		}

		var inner ir.Src
		if v, ok := srcConst(p, cmp.Src[1]); ok && v == 0 {
			inner = cmp.Src[0]
		} else if v, ok := srcConst(p, cmp.Src[0]); ok && v == 0 {
			inner = cmp.Src[1]
		} else {
			return false, nil
		}

		if in.Op == ir.OpDiscardIf && inner.Neg {
			// x != 0 is not x > 0 for negated sources.
			return false, nil
		}

		outer := in.Src[0]
		p.SetSrc(h, 0, ir.ComposeSrc(inner, outer))

		return true, nil
	})
}

// selectable limits speculation: a side block may be folded into a
// select only if every instruction is pure ALU work and cheap enough
// to always execute.
const selectBlockLimit = 6

func selectable(p *ir.Program, b ir.BlockHandle) bool {
	n := 0
	for _, h := range p.BlockCode(b) {
		in := p.Inst(h)
		switch in.Op {
		case ir.OpNop, ir.OpBranch:
			continue
		case ir.OpPhi, ir.OpStoreOutput, ir.OpDiscard, ir.OpDiscardIf,
			ir.OpBranchIfZero, ir.OpTexSample, ir.OpTexSampleBias, ir.OpTexSampleLod:
			return false
		}
		if !in.Op.IsPure() {
			return false
		}

		n++
		if n > selectBlockLimit {
			return false
		}
	}
	return true
}

// peepholeSelect flattens two-armed diamonds and one-armed triangles
// into selects, executing both sides unconditionally. The branches
// become dead and later passes clean them up.
func peepholeSelect(p *ir.Program, specs *hw.Specs) (bool, error) {
	changed := false

	for bi := 0; bi+2 < p.NumBlocks(); bi++ {
		b := ir.BlockHandle(bi)

		term := p.Terminator(b)
		if term == ir.NoInst || p.Inst(term).Op != ir.OpBranchIfZero {
			continue
		}

		cond := p.Inst(term).Src[0]
		then := b + 1
		target := p.Inst(term).Target

		var join ir.BlockHandle
		var thenPred, elsePred ir.BlockHandle

		switch {
		case target == b+2 && p.Terminator(then) == ir.NoInst:
			// Triangle: then falls through to the join; the branch
			// skips it.
			join = b + 2
			thenPred, elsePred = then, b

		case target == b+2:
			// Diamond: then jumps over the else block to the join.
			if int(b)+3 >= p.NumBlocks() {
				continue
			}
			tt := p.Terminator(then)
			if tt == ir.NoInst || p.Inst(tt).Op != ir.OpBranch || p.Inst(tt).Target != b+3 {
				continue
			}
			if p.Terminator(b+2) != ir.NoInst {
				continue
			}
			join = b + 3
			thenPred, elsePred = then, b+2

		default:
			continue
		}

		if !selectable(p, then) || (elsePred != b && !selectable(p, elsePred)) {
			continue
		}

		// Every phi in the join must be a two-way merge of exactly
		// the pattern's predecessors.
		ok := true
		type phiconv struct {
			h        ir.InstHandle
			tv, ev   ir.Src
			anyOther bool
		}
		var phis []phiconv

		for _, h := range p.BlockCode(join) {
			in := p.Inst(h)
			if in.Op != ir.OpPhi {
				continue
			}

			pc := phiconv{h: h}
			for i := range in.Src {
				if in.Src[i].Kind != ir.SrcValue {
					continue
				}
				switch in.PhiBlocks[i] {
				case thenPred:
					pc.tv = in.Src[i]
				case elsePred:
					pc.ev = in.Src[i]
				default:
					pc.anyOther = true
				}
			}

			if pc.anyOther || pc.tv.Kind == ir.SrcNone || pc.ev.Kind == ir.SrcNone {
				ok = false
				break
			}
			phis = append(phis, pc)
		}

		if !ok || len(phis) == 0 {
			continue
		}

		for _, pc := range phis {
			// The branch skips the then side when cond == 0, so the
			// then value is taken for nonzero conditions.
			p.ReplaceInst(pc.h, ir.Inst{
				Op:  ir.OpSelect,
				Src: [3]ir.Src{cond, pc.tv, pc.ev},
			})
		}

		// Both sides now execute unconditionally.
		err := p.RemoveInst(term)
		if err != nil {
			return changed, err
		}
		if tt := p.Terminator(then); tt != ir.NoInst {
			err = p.RemoveInst(tt)
			if err != nil {
				return changed, err
			}
		}

		changed = true
	}

	return changed, nil
}
