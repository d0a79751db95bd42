// Package opt is the target-independent optimization loop: local value
// rewrites, control-flow cleanup and bounded loop unrolling iterated to
// a fixed point, plus the scalarization/vectorization passes that
// normalize the program for instruction selection.
package opt

import (
	"context"
	"math"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/gogpu/vivante/hw"
	"github.com/gogpu/vivante/ir"
)

// maxRounds bounds the fixed-point loop. Every pass strictly shrinks
// some program measure, so hitting the bound indicates a pass bug.
const maxRounds = 100

type pass struct {
	name string
	run  func(p *ir.Program, specs *hw.Specs) (bool, error)
}

var passes = []pass{
	{"copy_prop", copyProp},
	{"dce", dce},
	{"cse", cse},
	{"peephole_select", peepholeSelect},
	{"algebraic", algebraic},
	{"const_fold", constFold},
	{"dead_cf", deadCF},
	{"trivial_continues", trivialContinues},
	{"loop_unroll", loopUnroll},
	{"restructure_if", restructureIf},
	{"remove_phis", removePhis},
	{"prune_undef", pruneUndef},
}

// Run iterates the optimization passes until none reports a change,
// then scalarizes, re-vectorizes and scalarizes again to normalize the
// program for selection.
func Run(ctx context.Context, p *ir.Program, specs *hw.Specs) error {
	tr := tlog.SpanFromContext(ctx)

	err := fixedPoint(tr, p, specs)
	if err != nil {
		return err
	}

	_, err = scalarize(p, specs)
	if err != nil {
		return errors.Wrap(err, "scalarize")
	}

	changed, err := vectorize(p, specs)
	if err != nil {
		return errors.Wrap(err, "vectorize")
	}

	if changed {
		// Vectorization may have fused forms the target cannot
		// execute wide; the filter splits them back.
		_, err = scalarize(p, specs)
		if err != nil {
			return errors.Wrap(err, "rescalarize")
		}

		err = fixedPoint(tr, p, specs)
		if err != nil {
			return err
		}
	}

	return nil
}

func fixedPoint(tr tlog.Span, p *ir.Program, specs *hw.Specs) error {
	for round := 0; ; round++ {
		if round >= maxRounds {
			return errors.New("optimization loop did not converge after %d rounds", maxRounds)
		}

		any := false

		for _, ps := range passes {
			changed, err := ps.run(p, specs)
			if err != nil {
				return errors.Wrap(err, "%v", ps.name)
			}

			if changed {
				tr.V("opt").Printw("optimization pass changed program", "pass", ps.name, "round", round)
			}

			any = any || changed
		}

		if !any {
			return nil
		}
	}
}

// eachInst visits every live instruction present when the traversal of
// its block starts.
func eachInst(p *ir.Program, f func(h ir.InstHandle) (bool, error)) (bool, error) {
	any := false

	for bi := 0; bi < p.NumBlocks(); bi++ {
		code := p.BlockCode(ir.BlockHandle(bi))
		snapshot := make([]ir.InstHandle, len(code))
		copy(snapshot, code)

		for _, h := range snapshot {
			if p.Inst(h).Op == ir.OpNop {
				continue
			}

			changed, err := f(h)
			if err != nil {
				return any, err
			}

			any = any || changed
		}
	}

	return any, nil
}

// srcConst resolves a source operand to a single float constant. All
// lanes the swizzle selects must agree, so the value is meaningful for
// any write mask.
func srcConst(p *ir.Program, s ir.Src) (float32, bool) {
	if s.Kind != ir.SrcValue {
		return 0, false
	}

	def := p.Value(s.Value).Def
	if def == ir.NoInst {
		return 0, false
	}

	in := p.Inst(def)
	if in.Op != ir.OpConst || in.ConstType != ir.ConstFloat {
		return 0, false
	}

	nc := int(p.Value(s.Value).NumComponents)

	w := in.Words[min(s.Swizzle.Lane(0), nc-1)]
	for i := 1; i < 4; i++ {
		if in.Words[min(s.Swizzle.Lane(i), nc-1)] != w {
			return 0, false
		}
	}

	v := math.Float32frombits(w)
	if s.Abs && v < 0 {
		v = -v
	}
	if s.Neg {
		v = -v
	}

	return v, true
}
