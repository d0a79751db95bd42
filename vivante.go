// Package vivante compiles shader IR programs into machine code for
// Vivante GCxxx unified shader cores.
//
// The input is a platform-independent SSA instruction graph built with
// the ir package; the output is a Variant: the encoded instruction
// stream plus the uniform table, register maps and stage control words
// the driver's pipeline layer programs into the hardware.
//
// The compilation pipeline is:
//  1. Validate the input graph
//  2. Optimize to a fixed point (opt)
//  3. Lower to hardware-representable forms (lower)
//  4. Select, allocate and encode (emit)
//
// Example usage:
//
//	p := ir.NewProgram(ir.StageFragment)
//	// ... build the graph ...
//	v, err := vivante.Compile(ctx, p, hw.GC2000(), vivante.Key{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	upload(v.Code, v.Immediates)
//
// Compilation is all-or-nothing: on error no partial artifact is
// returned. A Program must not be reused after Compile; the passes
// rewrite it in place.
package vivante

import (
	"context"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/gogpu/vivante/emit"
	"github.com/gogpu/vivante/hw"
	"github.com/gogpu/vivante/ir"
	"github.com/gogpu/vivante/lower"
	"github.com/gogpu/vivante/opt"
)

// Key selects the platform-dependent variant of a program.
type Key = lower.Key

// IOReg maps one stage variable to its physical register.
type IOReg struct {
	Reg           int
	Slot          int
	Semantic      ir.Semantic
	NumComponents int
}

// Variant is one compiled shader: machine code plus the metadata the
// pipeline layer consumes. It is immutable once returned.
type Variant struct {
	Stage ir.Stage

	// Code holds the encoded instructions, 4 words each; CodeSize is
	// its length in bytes.
	Code      []uint32
	CodeSize  int
	InstCount int
	NumTemps  int

	// Immediates is the uniform table to upload, with a parallel
	// content tag per word.
	Immediates []uint32
	ImmTags    []emit.UniformTag

	InFile  []IOReg
	OutFile []IOReg

	// Fragment stage scalars. PSColorOutReg is 0 for a shader that
	// never writes the color output.
	PSColorOutReg int
	PSDepthOutReg int

	// Vertex stage scalars, -1 when unused.
	VSIDInReg         int
	VSPosOutReg       int
	VSPointSizeOutReg int

	// VSLoadBalancing steers work distribution between the vertex and
	// fragment stages of the unified cores.
	VSLoadBalancing uint32

	InputCountUnk8 uint32

	// NeedsICache is set when the program exceeds the directly
	// addressable instruction count. Not an error; the driver must
	// run the program from the instruction cache.
	NeedsICache bool

	halti5 bool
}

// Compile runs the full pipeline on p. The program is consumed. The
// span in ctx receives debug dumps under the dump_ir and dump_shader
// topics.
func Compile(ctx context.Context, p *ir.Program, specs *hw.Specs, key Key) (*Variant, error) {
	tr := tlog.SpanFromContext(ctx)

	err := p.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "input program")
	}

	if tr.If("dump_ir") {
		tr.Printw("input program", "stage", p.Stage, "ir", p.Dump())
	}

	err = opt.Run(ctx, p, specs)
	if err != nil {
		return nil, errors.Wrap(err, "optimize")
	}

	err = lower.Run(ctx, p, specs, key)
	if err != nil {
		return nil, errors.Wrap(err, "lower")
	}

	err = p.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "lowered program")
	}

	if tr.If("dump_ir") {
		tr.Printw("lowered program", "stage", p.Stage, "ir", p.Dump())
	}

	res, err := emit.Emit(ctx, p, specs)
	if err != nil {
		return nil, errors.Wrap(err, "emit")
	}

	v := &Variant{
		Stage:      p.Stage,
		Code:       res.Code,
		CodeSize:   len(res.Code) * 4,
		InstCount:  res.InstCount,
		NumTemps:   res.NumTemps,
		Immediates: res.Uniforms.Words,
		ImmTags:    res.Uniforms.Tags,

		PSColorOutReg: 0,
		PSDepthOutReg: -1,

		VSIDInReg:         -1,
		VSPosOutReg:       -1,
		VSPointSizeOutReg: -1,

		NeedsICache: res.InstCount > specs.MaxInstructions,

		halti5: specs.Halti >= 5,
	}

	for i, in := range p.Inputs {
		v.InFile = append(v.InFile, IOReg{
			Reg:           res.InputRegs[i],
			Slot:          in.Slot,
			Semantic:      in.Semantic,
			NumComponents: int(in.NumComponents),
		})
	}

	err = v.fillStageMetadata(p, specs, res)
	if err != nil {
		return nil, err
	}

	if tr.If("dump_shader") {
		var sb strings.Builder
		v.Dump(&sb)
		tr.Printw("compiled shader", "dump", sb.String())
	}

	return v, nil
}

func (v *Variant) fillStageMetadata(p *ir.Program, specs *hw.Specs, res *emit.Result) error {
	if p.Stage == ir.StageFragment {
		v.InputCountUnk8 = 31

		for i, out := range p.Outputs {
			reg := res.OutputRegs[i]
			if reg < 0 {
				continue
			}

			switch out.Semantic {
			case ir.SemColor:
				v.PSColorOutReg = reg
			case ir.SemDepth:
				v.PSDepthOutReg = reg
			default:
				return errors.New("unsupported fragment output semantic: %v", out.Semantic)
			}
		}

		return nil
	}

	if usesInstanceID(p) {
		v.VSIDInReg = len(p.Inputs)
	}

	v.InputCountUnk8 = uint32(len(p.Inputs)+4+15) / 16

	for i, out := range p.Outputs {
		reg := res.OutputRegs[i]
		if reg < 0 {
			continue
		}

		switch out.Semantic {
		case ir.SemPosition:
			v.VSPosOutReg = reg
			continue
		case ir.SemPointSize:
			v.VSPointSizeOutReg = reg
			continue
		}

		v.OutFile = append(v.OutFile, IOReg{
			Reg:           reg,
			Slot:          out.Slot,
			Semantic:      out.Semantic,
			NumComponents: int(out.NumComponents),
		})
	}

	v.VSLoadBalancing = vsLoadBalancing(len(v.OutFile), specs)

	return nil
}

// vsLoadBalancing derives the work distribution control word from the
// varying count and three hardware constants. The formula is
// reverse engineered from the blob driver and deliberately kept
// verbatim; it is a conservative estimate.
func vsLoadBalancing(numVaryings int, specs *hw.Specs) uint32 {
	halfOut := numVaryings/2 + 1

	b := uint32(20480/(specs.VertexOutputBufferSize-2*halfOut*specs.VertexCacheSize)+9) / 10
	a := (b + uint32(256/(specs.ShaderCoreCount*halfOut))) / 2

	return min(a, 255) | min(b, 255)<<8 | 0x3f<<16 | 0x0f<<24
}

func usesInstanceID(p *ir.Program) bool {
	for bi := 0; bi < p.NumBlocks(); bi++ {
		for _, h := range p.BlockCode(ir.BlockHandle(bi)) {
			if p.Inst(h).Op == ir.OpLoadInstanceID {
				return true
			}
		}
	}
	return false
}
