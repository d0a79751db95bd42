package opt

import (
	"math"

	"github.com/gogpu/vivante/hw"
	"github.com/gogpu/vivante/ir"
)

// Unroll limits. Loops with more iterations or bodies producing more
// instructions than this stay rolled; the hardware executes them as
// real branches.
const (
	unrollMaxTrips = 32
	unrollMaxInsts = 256
)

// counted describes a recognized single-block counted loop.
type counted struct {
	body ir.BlockHandle
	term ir.InstHandle

	phi  ir.InstHandle // induction phi
	init ir.Src        // entry value
	next ir.ValueHandle
	step float32
	base float32

	trips int
}

// loopUnroll fully unrolls single-block do-while loops with a constant
// trip count: an induction phi advanced by a constant step, compared
// against a constant bound, feeding a backward conditional branch.
func loopUnroll(p *ir.Program, specs *hw.Specs) (bool, error) {
	for bi := 0; bi < p.NumBlocks(); bi++ {
		b := ir.BlockHandle(bi)

		c, ok := matchCountedLoop(p, b)
		if !ok {
			continue
		}

		err := unroll(p, c)
		if err != nil {
			return false, err
		}

		return true, nil
	}

	return false, nil
}

func matchCountedLoop(p *ir.Program, b ir.BlockHandle) (counted, bool) {
	var c counted

	term := p.Terminator(b)
	if term == ir.NoInst {
		return c, false
	}

	ti := p.Inst(term)
	if ti.Op != ir.OpBranchIfZero || ti.Target != b {
		return c, false
	}
	if ti.Src[0].Kind != ir.SrcValue {
		return c, false
	}

	// The continue condition: sge(next, limit), looping while it is 0.
	cmp := p.Inst(p.Value(ti.Src[0].Value).Def)
	if cmp.Op != ir.OpSetGE || cmp.Block != b {
		return c, false
	}

	limit, ok := srcConst(p, cmp.Src[1])
	if !ok || cmp.Src[0].Kind != ir.SrcValue {
		return c, false
	}

	// next = fadd(phi, step)
	c.next = cmp.Src[0].Value
	add := p.Inst(p.Value(c.next).Def)
	if add.Op != ir.OpFAdd || add.Block != b {
		return c, false
	}

	step, ok := srcConst(p, add.Src[1])
	if !ok || step <= 0 || add.Src[0].Kind != ir.SrcValue {
		return c, false
	}

	phiV := add.Src[0].Value
	phi := p.Value(phiV).Def
	pin := p.Inst(phi)
	if pin.Op != ir.OpPhi || pin.Block != b {
		return c, false
	}

	// The phi merges the entry value with next from the back edge.
	found := false
	for i := range pin.Src {
		s := pin.Src[i]
		if s.Kind != ir.SrcValue {
			continue
		}
		if pin.PhiBlocks[i] == b {
			if s.Value != c.next {
				return c, false
			}
			found = true
		} else {
			c.init = s
		}
	}
	if !found || c.init.Kind == ir.SrcNone {
		return c, false
	}

	base, ok := srcConst(p, c.init)
	if !ok {
		return c, false
	}

	// Only the loop itself may branch into the body.
	for _, pred := range p.Preds(b) {
		if pred == b || pred == b-1 {
			continue
		}
		return c, false
	}

	// No other phis: every other loop-carried dependency blocks
	// unrolling.
	live := 0
	for _, h := range p.BlockCode(b) {
		in := p.Inst(h)
		if in.Op == ir.OpNop {
			continue
		}
		if in.Op == ir.OpPhi && h != phi {
			return c, false
		}
		live++
	}

	if limit <= base {
		return c, false
	}

	trips := int(math.Ceil(float64(limit-base) / float64(step)))
	if trips <= 0 || trips > unrollMaxTrips || trips*live > unrollMaxInsts {
		return c, false
	}

	c.body = b
	c.term = term
	c.phi = phi
	c.step = step
	c.base = base
	c.trips = trips

	return c, true
}

func unroll(p *ir.Program, c counted) error {
	orig := make([]ir.InstHandle, 0, len(p.BlockCode(c.body)))
	for _, h := range p.BlockCode(c.body) {
		if p.Inst(h).Op != ir.OpNop {
			orig = append(orig, h)
		}
	}

	// Per-iteration map from original loop values to that iteration's
	// clones.
	cur := map[ir.ValueHandle]ir.ValueHandle{}
	var last map[ir.ValueHandle]ir.ValueHandle

	remap := func(s ir.Src, it int) ir.Src {
		if s.Kind != ir.SrcValue {
			return s
		}
		if s.Value == p.Inst(c.phi).Dest {
			if it == 0 {
				return ir.ComposeSrc(c.init, s)
			}
			return ir.ComposeSrc(ir.UseValue(last[c.next]), s)
		}
		if nv, ok := cur[s.Value]; ok {
			return ir.ComposeSrc(ir.UseValue(nv), s)
		}
		if it > 0 {
			if nv, ok := last[s.Value]; ok {
				// Loop-carried use without a phi cannot happen for
				// recognized loops, but keep the clone well formed.
				return ir.ComposeSrc(ir.UseValue(nv), s)
			}
		}
		return s
	}

	for it := 0; it < c.trips; it++ {
		last, cur = cur, map[ir.ValueHandle]ir.ValueHandle{}

		for _, h := range orig {
			in := p.Inst(h)
			if h == c.phi || h == c.term {
				continue
			}

			clone := *in
			for i := 0; i < 4; i++ {
				var s ir.Src
				if i == 3 {
					s = in.Src3
				} else {
					s = in.Src[i]
				}
				s = remap(s, it)
				if i == 3 {
					clone.Src3 = s
				} else {
					clone.Src[i] = s
				}
			}

			dest := in.Dest
			comps := 0
			if dest != ir.NoValue {
				comps = int(p.Value(dest).NumComponents)
			}

			_, nv := p.AppendValue(c.body, clone, comps)
			if dest != ir.NoValue {
				cur[dest] = nv
			}
		}
	}

	// Values escaping the loop read the last iteration's clones; the
	// phi itself reads the value entering the final iteration.
	finalPhi := ir.UseValue(cur[c.next])
	if c.trips == 1 {
		finalPhi = c.init
	} else if v, ok := last[c.next]; ok {
		finalPhi = ir.UseValue(v)
	}

	for _, h := range orig {
		in := p.Inst(h)
		if h == c.term {
			continue
		}
		if in.Dest == ir.NoValue {
			continue
		}

		var repl ir.Src
		if h == c.phi {
			repl = finalPhi
		} else {
			repl = ir.UseValue(cur[in.Dest])
		}

		if repl.Kind == ir.SrcValue && len(p.UsesOf(in.Dest)) > 0 {
			err := p.ReplaceUsesSrc(in.Dest, repl, ir.NoInst)
			if err != nil {
				return err
			}
		}
	}

	// Tear the originals down back to front: unhook sources first so
	// removal never sees a live use.
	for _, h := range orig {
		in := p.Inst(h)
		for i := 0; i < 4; i++ {
			if i == 3 {
				if in.Src3.Kind == ir.SrcValue {
					p.SetSrc(h, i, ir.Src{})
				}
			} else if in.Src[i].Kind == ir.SrcValue {
				p.SetSrc(h, i, ir.Src{})
			}
		}
	}

	for i := len(orig) - 1; i >= 0; i-- {
		err := p.RemoveInst(orig[i])
		if err != nil {
			return err
		}
	}

	return nil
}
