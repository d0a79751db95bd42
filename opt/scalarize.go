package opt

import (
	"github.com/gogpu/vivante/hw"
	"github.com/gogpu/vivante/ir"
)

// mustScalarize reports whether the target executes the op one
// component at a time. The transcendental and division units are
// scalar on every generation; the two-component dot product exists as
// a native instruction only from the second unified-ISA revision.
func mustScalarize(op ir.Op, specs *hw.Specs) bool {
	switch op {
	case ir.OpFRcp, ir.OpFRsq, ir.OpFLog2, ir.OpFExp2, ir.OpFSqrt,
		ir.OpFCos, ir.OpFSin, ir.OpFDiv:
		return true
	case ir.OpFDot2:
		return specs.Halti < 2
	}
	return false
}

// laneSrc narrows a source to one output lane of its instruction.
func laneSrc(s ir.Src, lane int) ir.Src {
	if s.Kind != ir.SrcValue {
		return s
	}
	s.Swizzle = ir.SwizzleBroadcast(s.Swizzle.Lane(lane))
	return s
}

// scalarize splits instructions the target cannot execute wide into
// per-lane scalar copies recombined by a vec instruction, and
// decomposes the two-component dot product into multiply-add where no
// dot unit exists.
func scalarize(p *ir.Program, specs *hw.Specs) (bool, error) {
	return eachInst(p, func(h ir.InstHandle) (bool, error) {
		in := p.Inst(h)
		if !mustScalarize(in.Op, specs) || in.Dest == ir.NoValue {
			return false, nil
		}

		if in.Op == ir.OpFDot2 {
			return scalarizeDot2(p, h)
		}

		comps := int(p.Value(in.Dest).NumComponents)
		if comps <= 1 {
			return false, nil
		}

		op := in.Op
		srcs := in.Src
		sat := in.Saturate
		old := in.Dest

		var vec ir.Inst
		switch comps {
		case 2:
			vec.Op = ir.OpVec2
		case 3:
			vec.Op = ir.OpVec3
		default:
			vec.Op = ir.OpVec4
		}

		for i := 0; i < comps; i++ {
			var lane [3]ir.Src
			for j := range srcs {
				lane[j] = laneSrc(srcs[j], i)
			}

			_, lv := p.InsertBefore(h, ir.Inst{Op: op, Saturate: sat, Src: lane}, 1)

			if i == 3 {
				vec.Src3 = ir.UseLane(lv, 0)
			} else {
				vec.Src[i] = ir.UseLane(lv, 0)
			}
		}

		_, nv := p.InsertBefore(h, vec, comps)

		err := p.ReplaceAllUses(old, nv)
		if err != nil {
			return false, err
		}

		for j := range srcs {
			if p.Inst(h).Src[j].Kind == ir.SrcValue {
				p.SetSrc(h, j, ir.Src{})
			}
		}

		return true, p.RemoveInst(h)
	})
}

// scalarizeDot2 rewrites dot2(a, b) as fma(a.y, b.y, mul(a.x, b.x)).
func scalarizeDot2(p *ir.Program, h ir.InstHandle) (bool, error) {
	in := p.Inst(h)

	a := in.Src[0]
	b := in.Src[1]
	sat := in.Saturate
	old := in.Dest

	_, mul := p.InsertBefore(h, ir.Inst{
		Op:  ir.OpFMul,
		Src: [3]ir.Src{laneSrc(a, 0), laneSrc(b, 0)},
	}, 1)

	_, fma := p.InsertBefore(h, ir.Inst{
		Op:       ir.OpFFma,
		Saturate: sat,
		Src:      [3]ir.Src{laneSrc(a, 1), laneSrc(b, 1), ir.UseLane(mul, 0)},
	}, 1)

	err := p.ReplaceAllUses(old, fma)
	if err != nil {
		return false, err
	}

	for j := 0; j < 2; j++ {
		p.SetSrc(h, j, ir.Src{})
	}

	return true, p.RemoveInst(h)
}

// componentwise ops operate independently per lane and are candidates
// for re-fusing scalar lanes into one wide instruction.
func componentwise(op ir.Op) bool {
	switch op {
	case ir.OpFAdd, ir.OpFMul, ir.OpFFma, ir.OpFDiv, ir.OpFMin, ir.OpFMax,
		ir.OpFFract, ir.OpFFloor, ir.OpFCeil, ir.OpFSign,
		ir.OpFRcp, ir.OpFRsq, ir.OpFSqrt, ir.OpFSin, ir.OpFCos,
		ir.OpFLog2, ir.OpFExp2,
		ir.OpSetEQ, ir.OpSetNE, ir.OpSetGE, ir.OpSetLT, ir.OpSelect:
		return true
	}
	return false
}

// vectorize re-fuses a vec of same-op scalar lanes into one wide
// instruction. Some fused ops are still scalar-only on the target; the
// scalarization filter runs again afterwards and splits those back.
func vectorize(p *ir.Program, specs *hw.Specs) (bool, error) {
	return eachInst(p, func(h ir.InstHandle) (bool, error) {
		in := p.Inst(h)

		var comps int
		switch in.Op {
		case ir.OpVec2:
			comps = 2
		case ir.OpVec3:
			comps = 3
		case ir.OpVec4:
			comps = 4
		default:
			return false, nil
		}

		lanes := make([]*ir.Inst, comps)
		var op ir.Op
		sat := false

		for i := 0; i < comps; i++ {
			var s ir.Src
			if i == 3 {
				s = in.Src3
			} else {
				s = in.Src[i]
			}

			if s.Kind != ir.SrcValue || s.Neg || s.Abs {
				return false, nil
			}
			if p.Value(s.Value).NumComponents != 1 || len(p.UsesOf(s.Value)) != 1 {
				return false, nil
			}

			def := p.Value(s.Value).Def
			if def == ir.NoInst {
				return false, nil
			}

			li := p.Inst(def)
			if li.Block != in.Block || !componentwise(li.Op) {
				return false, nil
			}

			if i == 0 {
				op, sat = li.Op, li.Saturate
			} else if li.Op != op || li.Saturate != sat {
				return false, nil
			}

			lanes[i] = li
		}

		// Every lane must read the same base values so the fused
		// sources are expressible as one swizzle per slot.
		n := op.NumSrcs()
		var fused [3]ir.Src

		for j := 0; j < n; j++ {
			base := lanes[0].Src[j]
			sw := [4]int{}

			for i := 0; i < comps; i++ {
				s := lanes[i].Src[j]
				if s.Kind != ir.SrcValue || s.Value != base.Value || s.Neg != base.Neg || s.Abs != base.Abs {
					return false, nil
				}
				sw[i] = s.Swizzle.Lane(0)
			}
			for i := comps; i < 4; i++ {
				sw[i] = sw[comps-1]
			}

			fused[j] = ir.Src{
				Kind:    ir.SrcValue,
				Value:   base.Value,
				Swizzle: ir.MakeSwizzle(sw[0], sw[1], sw[2], sw[3]),
				Neg:     base.Neg,
				Abs:     base.Abs,
			}
		}

		old := in.Dest

		_, nv := p.InsertBefore(h, ir.Inst{Op: op, Saturate: sat, Src: fused}, comps)

		err := p.ReplaceAllUses(old, nv)
		if err != nil {
			return false, err
		}

		for i := 0; i < 4; i++ {
			if i == 3 {
				if p.Inst(h).Src3.Kind == ir.SrcValue {
					p.SetSrc(h, i, ir.Src{})
				}
			} else if p.Inst(h).Src[i].Kind == ir.SrcValue {
				p.SetSrc(h, i, ir.Src{})
			}
		}

		return true, p.RemoveInst(h)
	})
}
