// Package lower rewrites target-independent IR constructs into the
// forms the Vivante shader core can execute: front-face reads become
// comparisons against the hardware flag register, rectangle-texture
// coordinates get scaled by synthetic uniforms, trigonometric arguments
// are prescaled, and lod/bias operands are packed into the coordinate
// vector on hardware generations that require it.
package lower

import (
	"context"
	"math"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/gogpu/vivante/hw"
	"github.com/gogpu/vivante/ir"
)

// Key is the shader-variant state that affects lowering. The same IR
// program compiles to different machine code per key.
type Key struct {
	// FrontCCW flips the front-face comparison for counter-clockwise
	// front winding.
	FrontCCW bool

	// FragRBSwap swaps the red and blue lanes of the fragment color
	// output, for BGRA render targets.
	FragRBSwap bool
}

type pass struct {
	name string
	run  func(p *ir.Program, specs *hw.Specs, key Key) error
}

var passes = []pass{
	{"front_face", frontFace},
	{"instance_id", instanceID},
	{"uniform_address", uniformAddress},
	{"tex_rect", texRect},
	{"pack_coord", packCoord},
	{"trig_prescale", trigPrescale},
	{"new_transcendentals", newTranscendentals},
	{"rb_swap", rbSwap},
}

// Run applies all lowering passes in order. Lowering happens once,
// before the optimization loop.
func Run(ctx context.Context, p *ir.Program, specs *hw.Specs, key Key) error {
	tr := tlog.SpanFromContext(ctx)

	for _, ps := range passes {
		err := ps.run(p, specs, key)
		if err != nil {
			return errors.Wrap(err, "%v", ps.name)
		}

		tr.V("lower").Printw("lowering pass", "pass", ps.name)
	}

	return nil
}

// eachInst visits every non-tombstone instruction present when the
// traversal starts. Instructions the callback inserts are not visited.
func eachInst(p *ir.Program, f func(h ir.InstHandle) error) error {
	for bi := 0; bi < p.NumBlocks(); bi++ {
		code := p.BlockCode(ir.BlockHandle(bi))
		snapshot := make([]ir.InstHandle, len(code))
		copy(snapshot, code)

		for _, h := range snapshot {
			if p.Inst(h).Op == ir.OpNop {
				continue
			}

			err := f(h)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// frontFace turns the raw hardware flag into a boolean: the internal
// register reads 0.0 for front-facing primitives, so the flag is
// seq(raw, 0.0), or sne for counter-clockwise front winding.
func frontFace(p *ir.Program, specs *hw.Specs, key Key) error {
	return eachInst(p, func(h ir.InstHandle) error {
		in := p.Inst(h)
		if in.Op != ir.OpLoadFrontFace {
			return nil
		}

		raw := in.Dest

		c0, cv := p.InsertAfter(h, ir.Inst{
			Op:        ir.OpConst,
			ConstType: ir.ConstFloat,
		}, 1)

		op := ir.OpSetEQ
		if key.FrontCCW {
			op = ir.OpSetNE
		}

		cmpH, cmp := p.InsertAfter(c0, ir.Inst{
			Op:  op,
			Src: [3]ir.Src{ir.UseLane(raw, 0), ir.UseLane(cv, 0)},
		}, 1)

		return p.ReplaceUsesExcept(raw, cmp, cmpH)
	})
}

// instanceID converts the integer instance counter to float for its
// consumers.
func instanceID(p *ir.Program, specs *hw.Specs, key Key) error {
	return eachInst(p, func(h ir.InstHandle) error {
		in := p.Inst(h)
		if in.Op != ir.OpLoadInstanceID {
			return nil
		}

		raw := in.Dest

		cvtH, cvt := p.InsertAfter(h, ir.Inst{
			Op:  ir.OpI2F,
			Src: [3]ir.Src{ir.UseLane(raw, 0)},
		}, 1)

		return p.ReplaceUsesExcept(raw, cvt, cvtH)
	})
}

// uniformAddress rewrites dynamic uniform offsets into the address
// form the load unit expects: the float offset scaled by 16 and
// converted to unsigned.
func uniformAddress(p *ir.Program, specs *hw.Specs, key Key) error {
	return eachInst(p, func(h ir.InstHandle) error {
		in := p.Inst(h)
		if in.Op != ir.OpLoadUniform || in.Src[0].Kind != ir.SrcValue {
			return nil
		}

		off := in.Src[0]

		c16 := p.ConstScalarF(h, 16)
		_, mul := p.InsertBefore(h, ir.Inst{
			Op:  ir.OpFMul,
			Src: [3]ir.Src{off, ir.UseLane(c16, 0)},
		}, 1)
		_, cvt := p.InsertBefore(h, ir.Inst{
			Op:  ir.OpF2U,
			Src: [3]ir.Src{ir.UseLane(mul, 0)},
		}, 1)

		p.SetSrc(h, 0, ir.UseLane(cvt, 0))

		return nil
	})
}

// texRect scales rectangle-texture coordinates from normalized to
// texel space. The scale factors live in a synthetic two-component
// uniform keyed by the bitwise complement of the sampler index; the
// uniform table materializes it during emission.
func texRect(p *ir.Program, specs *hw.Specs, key Key) error {
	return eachInst(p, func(h ir.InstHandle) error {
		in := p.Inst(h)
		if !in.Rect {
			return nil
		}

		switch in.Op {
		case ir.OpTexSample, ir.OpTexSampleBias, ir.OpTexSampleLod:
		default:
			return nil
		}

		coord := in.Src[0]

		_, scale := p.InsertBefore(h, ir.Inst{
			Op:    ir.OpLoadUniform,
			Index: ^in.Sampler,
		}, 2)
		_, scaled := p.InsertBefore(h, ir.Inst{
			Op:  ir.OpFMul,
			Src: [3]ir.Src{coord, ir.UseValue(scale)},
		}, 2)

		p.SetSrc(h, 0, ir.UseValue(scaled))
		p.Inst(h).Rect = false

		return nil
	})
}

// packCoord merges the lod/bias scalar into lane w of the coordinate
// vector. Hardware before the fifth generation reads both from a
// single source register.
func packCoord(p *ir.Program, specs *hw.Specs, key Key) error {
	if specs.Halti >= 5 {
		return nil
	}

	return eachInst(p, func(h ir.InstHandle) error {
		in := p.Inst(h)
		if in.Op != ir.OpTexSampleBias && in.Op != ir.OpTexSampleLod {
			return nil
		}
		if in.Src[1].Kind != ir.SrcValue {
			return nil
		}

		coord := in.Src[0]
		extra := in.Src[1]

		lane := func(i int) ir.Src {
			s := coord
			s.Swizzle = ir.SwizzleBroadcast(coord.Swizzle.Lane(i))
			return s
		}

		_, packed := p.InsertBefore(h, ir.Inst{
			Op:   ir.OpVec4,
			Src:  [3]ir.Src{lane(0), lane(1), lane(2)},
			Src3: extra,
		}, 4)

		p.SetSrc(h, 0, ir.UseValue(packed))
		p.SetSrc(h, 1, ir.Src{})

		return nil
	})
}

// trigPrescale multiplies sin/cos arguments by the constant the
// hardware unit expects: the reworked transcendental unit computes
// sin(pi*x), older cores compute sin(pi/2*x).
func trigPrescale(p *ir.Program, specs *hw.Specs, key Key) error {
	scale := float32(2 / math.Pi)
	if specs.HasNewTranscendentals {
		scale = float32(1 / math.Pi)
	}

	return eachInst(p, func(h ir.InstHandle) error {
		in := p.Inst(h)
		if in.Op != ir.OpFSin && in.Op != ir.OpFCos {
			return nil
		}

		arg := in.Src[0]

		c := p.ConstScalarF(h, scale)
		_, scaled := p.InsertBefore(h, ir.Inst{
			Op:  ir.OpFMul,
			Src: [3]ir.Src{arg, ir.UseLane(c, 0)},
		}, 1)

		p.SetSrc(h, 0, ir.UseLane(scaled, 0))

		return nil
	})
}

// newTranscendentals rewrites div, log2, sin and cos for the reworked
// transcendental unit: the instruction produces a two-component
// mantissa/scale pair that a following multiply combines. Saturation
// moves to the multiply so the combined result is clamped, not the
// raw pair.
func newTranscendentals(p *ir.Program, specs *hw.Specs, key Key) error {
	if !specs.HasNewTranscendentals {
		return nil
	}

	return eachInst(p, func(h ir.InstHandle) error {
		in := p.Inst(h)

		switch in.Op {
		case ir.OpFDiv, ir.OpFLog2, ir.OpFSin, ir.OpFCos:
		default:
			return nil
		}

		sat := in.Saturate
		in.Saturate = false

		old := in.Dest

		srcs := in.Src

		_, pair := p.InsertBefore(h, ir.Inst{
			Op:  in.Op,
			Src: srcs,
		}, 2)

		_, mul := p.InsertAfter(h, ir.Inst{
			Op:       ir.OpFMul,
			Saturate: sat,
			Src:      [3]ir.Src{ir.UseLane(pair, 0), ir.UseLane(pair, 1)},
		}, 1)

		err := p.ReplaceAllUses(old, mul)
		if err != nil {
			return err
		}

		// The original instruction is fully superseded.
		for i := range srcs {
			if p.Inst(h).Src[i].Kind == ir.SrcValue {
				p.SetSrc(h, i, ir.Src{})
			}
		}

		return p.RemoveInst(h)
	})
}

// rbSwap permutes the red and blue lanes of the fragment color output.
func rbSwap(p *ir.Program, specs *hw.Specs, key Key) error {
	if !key.FragRBSwap || p.Stage != ir.StageFragment {
		return nil
	}

	return eachInst(p, func(h ir.InstHandle) error {
		in := p.Inst(h)
		if in.Op != ir.OpStoreOutput {
			return nil
		}
		if p.Outputs[in.Index].Semantic != ir.SemColor {
			return nil
		}

		s := in.Src[0]
		s.Swizzle = ir.Compose(s.Swizzle, ir.MakeSwizzle(2, 1, 0, 3))
		p.SetSrc(h, 0, s)

		return nil
	})
}
