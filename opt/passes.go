package opt

import (
	"math"

	"github.com/gogpu/vivante/hw"
	"github.com/gogpu/vivante/ir"
)

// copyProp folds moves, negates and absolutes into their consumers as
// source swizzles and modifiers.
func copyProp(p *ir.Program, specs *hw.Specs) (bool, error) {
	return eachInst(p, func(h ir.InstHandle) (bool, error) {
		in := p.Inst(h)

		var repl ir.Src

		switch in.Op {
		case ir.OpMov:
			repl = in.Src[0]
		case ir.OpFNeg:
			repl = in.Src[0]
			repl.Neg = !repl.Neg
		case ir.OpFAbs:
			repl = in.Src[0]
			repl.Abs = true
			repl.Neg = false
		default:
			return false, nil
		}

		if in.Saturate || repl.Kind != ir.SrcValue {
			return false, nil
		}
		if len(p.UsesOf(in.Dest)) == 0 {
			return false, nil
		}

		err := p.ReplaceUsesSrc(in.Dest, repl, ir.NoInst)
		if err != nil {
			return false, err
		}

		return true, nil
	})
}

// dce removes pure instructions whose value has no consumers.
func dce(p *ir.Program, specs *hw.Specs) (bool, error) {
	any := false

	// Removal can strand the sources of the removed instruction, so
	// sweep until stable within the pass.
	for {
		changed, err := eachInst(p, func(h ir.InstHandle) (bool, error) {
			in := p.Inst(h)
			if !in.Op.IsPure() || in.Dest == ir.NoValue {
				return false, nil
			}
			if len(p.UsesOf(in.Dest)) != 0 {
				return false, nil
			}

			return true, p.RemoveInst(h)
		})
		if err != nil {
			return any, err
		}
		if !changed {
			return any, nil
		}

		any = true
	}
}

// cseKey identifies an instruction by everything that determines its
// value. Restricted to one block, so dominance holds trivially.
type cseKey struct {
	block ir.BlockHandle
	op    ir.Op
	src   [4]ir.Src
	words [4]uint32
	ctyp  ir.ConstType
	index int
	smp   int
	rect  bool
	sat   bool
	comps uint8
}

// cse deduplicates pure instructions with identical operands within a
// block.
func cse(p *ir.Program, specs *hw.Specs) (bool, error) {
	seen := map[cseKey]ir.ValueHandle{}

	return eachInst(p, func(h ir.InstHandle) (bool, error) {
		in := p.Inst(h)
		if !in.Op.IsPure() || in.Op == ir.OpPhi || in.Dest == ir.NoValue {
			return false, nil
		}

		k := cseKey{
			block: in.Block,
			op:    in.Op,
			src:   [4]ir.Src{in.Src[0], in.Src[1], in.Src[2], in.Src3},
			words: in.Words,
			ctyp:  in.ConstType,
			index: in.Index,
			smp:   in.Sampler,
			rect:  in.Rect,
			sat:   in.Saturate,
			comps: p.Value(in.Dest).NumComponents,
		}

		prev, ok := seen[k]
		if !ok {
			seen[k] = in.Dest
			return false, nil
		}

		err := p.ReplaceAllUses(in.Dest, prev)
		if err != nil {
			return false, err
		}

		return true, p.RemoveInst(h)
	})
}

// algebraic applies local identities, rewriting instructions into
// simpler ones. The resulting moves are folded away by copy
// propagation on the next round.
func algebraic(p *ir.Program, specs *hw.Specs) (bool, error) {
	return eachInst(p, func(h ir.InstHandle) (bool, error) {
		in := p.Inst(h)

		mov := func(s ir.Src) (bool, error) {
			p.ReplaceInst(h, ir.Inst{Op: ir.OpMov, Saturate: in.Saturate, Src: [3]ir.Src{s}})
			return true, nil
		}

		switch in.Op {
		case ir.OpFAdd:
			if v, ok := srcConst(p, in.Src[1]); ok && v == 0 {
				return mov(in.Src[0])
			}
			if v, ok := srcConst(p, in.Src[0]); ok && v == 0 {
				return mov(in.Src[1])
			}

		case ir.OpFMul:
			if v, ok := srcConst(p, in.Src[1]); ok && v == 1 {
				return mov(in.Src[0])
			}
			if v, ok := srcConst(p, in.Src[0]); ok && v == 1 {
				return mov(in.Src[1])
			}

		case ir.OpFFma:
			if v, ok := srcConst(p, in.Src[2]); ok && v == 0 {
				p.ReplaceInst(h, ir.Inst{Op: ir.OpFMul, Saturate: in.Saturate, Src: [3]ir.Src{in.Src[0], in.Src[1]}})
				return true, nil
			}
			if v, ok := srcConst(p, in.Src[1]); ok && v == 1 {
				p.ReplaceInst(h, ir.Inst{Op: ir.OpFAdd, Saturate: in.Saturate, Src: [3]ir.Src{in.Src[0], in.Src[2]}})
				return true, nil
			}

		case ir.OpFMin, ir.OpFMax:
			if in.Src[0] == in.Src[1] {
				return mov(in.Src[0])
			}

		case ir.OpSelect:
			if in.Src[1] == in.Src[2] {
				return mov(in.Src[1])
			}
		}

		return false, nil
	})
}

// constFold evaluates scalar instructions with all-constant operands.
func constFold(p *ir.Program, specs *hw.Specs) (bool, error) {
	return eachInst(p, func(h ir.InstHandle) (bool, error) {
		in := p.Inst(h)
		if in.Dest == ir.NoValue || p.Value(in.Dest).NumComponents != 1 || in.Saturate {
			return false, nil
		}

		n := in.Op.NumSrcs()
		if n == 0 || n > 3 {
			return false, nil
		}

		var a [3]float32
		for i := 0; i < n; i++ {
			v, ok := srcConst(p, in.Src[i])
			if !ok {
				return false, nil
			}
			a[i] = v
		}

		r, ok := evalScalar(in.Op, a)
		if !ok {
			return false, nil
		}

		p.ReplaceInst(h, ir.Inst{
			Op:        ir.OpConst,
			ConstType: ir.ConstFloat,
			Words:     [4]uint32{math.Float32bits(r)},
		})

		return true, nil
	})
}

func evalScalar(op ir.Op, a [3]float32) (float32, bool) {
	b2f := func(b bool) float32 {
		if b {
			return 1
		}
		return 0
	}

	switch op {
	case ir.OpFAdd:
		return a[0] + a[1], true
	case ir.OpFMul:
		return a[0] * a[1], true
	case ir.OpFFma:
		return a[0]*a[1] + a[2], true
	case ir.OpFDiv:
		if a[1] == 0 {
			return 0, false
		}
		return a[0] / a[1], true
	case ir.OpFMin:
		return float32(math.Min(float64(a[0]), float64(a[1]))), true
	case ir.OpFMax:
		return float32(math.Max(float64(a[0]), float64(a[1]))), true
	case ir.OpFFloor:
		return float32(math.Floor(float64(a[0]))), true
	case ir.OpFCeil:
		return float32(math.Ceil(float64(a[0]))), true
	case ir.OpFFract:
		return a[0] - float32(math.Floor(float64(a[0]))), true
	case ir.OpFSign:
		switch {
		case a[0] > 0:
			return 1, true
		case a[0] < 0:
			return -1, true
		}
		return 0, true
	case ir.OpFSqrt:
		if a[0] < 0 {
			return 0, false
		}
		return float32(math.Sqrt(float64(a[0]))), true
	case ir.OpSetEQ:
		return b2f(a[0] == a[1]), true
	case ir.OpSetNE:
		return b2f(a[0] != a[1]), true
	case ir.OpSetGE:
		return b2f(a[0] >= a[1]), true
	case ir.OpSetLT:
		return b2f(a[0] < a[1]), true
	case ir.OpSelect:
		if a[0] != 0 {
			return a[1], true
		}
		return a[2], true
	}

	return 0, false
}

// removePhis eliminates phis that merge a single distinct source.
// A phi referencing itself plus one other source also collapses.
func removePhis(p *ir.Program, specs *hw.Specs) (bool, error) {
	return eachInst(p, func(h ir.InstHandle) (bool, error) {
		in := p.Inst(h)
		if in.Op != ir.OpPhi {
			return false, nil
		}

		uniq := ir.Src{}
		for i := range in.Src {
			s := in.Src[i]
			if s.Kind != ir.SrcValue || s.Value == in.Dest {
				continue
			}
			if uniq.Kind == ir.SrcNone {
				uniq = s
				continue
			}
			if s != uniq {
				return false, nil
			}
		}

		if uniq.Kind == ir.SrcNone {
			return false, nil
		}

		err := p.ReplaceUsesSrc(in.Dest, uniq, h)
		if err != nil {
			return false, err
		}

		for i := range in.Src {
			if p.Inst(h).Src[i].Kind == ir.SrcValue {
				p.SetSrc(h, i, ir.Src{})
			}
			p.Inst(h).PhiBlocks[i] = ir.NoBlock
		}

		return true, p.RemoveInst(h)
	})
}

// pruneUndef exploits the freedom of undefined values: a select arm or
// phi source that is undef may be replaced by the other side.
func pruneUndef(p *ir.Program, specs *hw.Specs) (bool, error) {
	isUndef := func(s ir.Src) bool {
		if s.Kind != ir.SrcValue {
			return false
		}
		def := p.Value(s.Value).Def
		return def != ir.NoInst && p.Inst(def).Op == ir.OpUndef
	}

	return eachInst(p, func(h ir.InstHandle) (bool, error) {
		in := p.Inst(h)

		switch in.Op {
		case ir.OpSelect:
			var keep ir.Src
			switch {
			case isUndef(in.Src[1]):
				keep = in.Src[2]
			case isUndef(in.Src[2]):
				keep = in.Src[1]
			default:
				return false, nil
			}

			p.ReplaceInst(h, ir.Inst{Op: ir.OpMov, Saturate: in.Saturate, Src: [3]ir.Src{keep}})
			return true, nil

		case ir.OpPhi:
			var repl ir.Src
			for i := range in.Src {
				if in.Src[i].Kind == ir.SrcValue && !isUndef(in.Src[i]) {
					repl = in.Src[i]
					break
				}
			}
			if repl.Kind == ir.SrcNone {
				return false, nil
			}

			changed := false
			for i := range in.Src {
				if isUndef(p.Inst(h).Src[i]) {
					s := repl
					p.SetSrc(h, i, s)
					changed = true
				}
			}

			return changed, nil
		}

		return false, nil
	})
}
