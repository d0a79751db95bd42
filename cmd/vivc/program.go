package main

import (
	"math"
	"strings"

	"tlog.app/go/errors"

	"github.com/gogpu/vivante"
	"github.com/gogpu/vivante/hw"
	"github.com/gogpu/vivante/ir"
)

// shaderFile is the YAML description of one compile request: stage and
// target, I/O declarations, and the instruction graph as blocks of
// named-value instructions.
type shaderFile struct {
	Stage string
	GPU   string

	UniformSlots int `yaml:"uniform_slots"`

	Key struct {
		FrontCCW   bool `yaml:"front_ccw"`
		FragRBSwap bool `yaml:"frag_rb_swap"`
	}

	Inputs  []ioVar
	Outputs []ioVar

	Blocks [][]instDef
}

type ioVar struct {
	Slot       int
	Semantic   string
	Components int
}

// instDef is one instruction. Dst names the produced value; Src
// entries reference earlier names as "name", "name.swz", "-name" or
// "|name|". Phis may reference names from any block.
type instDef struct {
	Op  string
	Dst string

	Src []string

	Components int
	Index      int
	Sampler    int
	Rect       bool
	Saturate   bool
	Target     int
	Blocks     []int // phi predecessor blocks, parallel to Src

	Float []float64
	Int   []int32
}

func (f *shaderFile) build() (*ir.Program, *hw.Specs, vivante.Key, error) {
	key := vivante.Key{
		FrontCCW:   f.Key.FrontCCW,
		FragRBSwap: f.Key.FragRBSwap,
	}

	var specs *hw.Specs
	switch strings.ToLower(f.GPU) {
	case "", "gc2000":
		specs = hw.GC2000()
	case "gc3000":
		specs = hw.GC3000()
	case "gc7000l":
		specs = hw.GC7000L()
	default:
		return nil, nil, key, errors.New("unknown gpu: %v", f.GPU)
	}

	var stage ir.Stage
	switch f.Stage {
	case "vertex":
		stage = ir.StageVertex
	case "fragment":
		stage = ir.StageFragment
	default:
		return nil, nil, key, errors.New("unknown stage: %v", f.Stage)
	}

	p := ir.NewProgram(stage)
	p.UniformSlots = f.UniformSlots

	for _, v := range f.Inputs {
		io, err := v.build()
		if err != nil {
			return nil, nil, key, err
		}
		p.Inputs = append(p.Inputs, io)
	}

	for _, v := range f.Outputs {
		io, err := v.build()
		if err != nil {
			return nil, nil, key, err
		}
		p.Outputs = append(p.Outputs, io)
	}

	err := f.buildBlocks(p)
	if err != nil {
		return nil, nil, key, err
	}

	return p, specs, key, nil
}

func (v ioVar) build() (ir.IOVar, error) {
	sem, ok := map[string]ir.Semantic{
		"": ir.SemGeneric, "generic": ir.SemGeneric,
		"position": ir.SemPosition, "pointsize": ir.SemPointSize,
		"pointcoord": ir.SemPointCoord,
		"color":      ir.SemColor, "depth": ir.SemDepth,
	}[v.Semantic]
	if !ok {
		return ir.IOVar{}, errors.New("unknown semantic: %v", v.Semantic)
	}

	comps := v.Components
	if comps == 0 {
		comps = 4
	}

	return ir.IOVar{Slot: v.Slot, Semantic: sem, NumComponents: uint8(comps)}, nil
}

// phiFix is a phi source left unresolved on the first pass; phis may
// reference values defined later (loop back edges).
type phiFix struct {
	inst ir.InstHandle
	slot int
	ref  string
}

func (f *shaderFile) buildBlocks(p *ir.Program) error {
	for range f.Blocks {
		p.AddBlock()
	}

	vals := map[string]ir.ValueHandle{}

	var fixes []phiFix

	for bi, code := range f.Blocks {
		b := ir.BlockHandle(bi)

		for _, d := range code {
			err := d.build(p, b, vals, &fixes)
			if err != nil {
				return errors.Wrap(err, "block %d: %v", bi, d.Op)
			}
		}
	}

	for _, fx := range fixes {
		src, err := parseSrc(fx.ref, vals)
		if err != nil {
			return errors.Wrap(err, "phi")
		}

		p.SetSrc(fx.inst, fx.slot, src)
	}

	return nil
}

func (d *instDef) build(p *ir.Program, b ir.BlockHandle, vals map[string]ir.ValueHandle, fixes *[]phiFix) error {
	op, ok := ir.ParseOp(d.Op)
	if !ok || op == ir.OpNop {
		return errors.New("unknown op")
	}

	in := ir.Inst{
		Op:       op,
		Saturate: d.Saturate,
		Index:    d.Index,
		Sampler:  d.Sampler,
		Rect:     d.Rect,
	}

	comps := d.Components
	if comps == 0 {
		comps = 4
	}

	switch op {
	case ir.OpConst:
		switch {
		case len(d.Float) > 0:
			in.ConstType = ir.ConstFloat
			comps = len(d.Float)
			for i, v := range d.Float {
				in.Words[i] = math.Float32bits(float32(v))
			}
		case len(d.Int) > 0:
			in.ConstType = ir.ConstInt
			comps = len(d.Int)
			for i, v := range d.Int {
				in.Words[i] = uint32(v)
			}
		default:
			return errors.New("const without float or int words")
		}

	case ir.OpBranch, ir.OpBranchIfZero:
		if d.Target < 0 || d.Target >= p.NumBlocks() {
			return errors.New("branch target %d out of range", d.Target)
		}
		in.Target = ir.BlockHandle(d.Target)

	case ir.OpPhi:
		if len(d.Blocks) != len(d.Src) {
			return errors.New("phi needs one block per source")
		}

		in.PhiBlocks = [3]ir.BlockHandle{ir.NoBlock, ir.NoBlock, ir.NoBlock}
		for i, pb := range d.Blocks {
			if pb < 0 || pb >= p.NumBlocks() {
				return errors.New("phi block %d out of range", pb)
			}
			in.PhiBlocks[i] = ir.BlockHandle(pb)
		}
	}

	if op != ir.OpPhi {
		for i, ref := range d.Src {
			src, err := parseSrc(ref, vals)
			if err != nil {
				return err
			}

			if i == 3 {
				in.Src3 = src
			} else {
				in.Src[i] = src
			}
		}
	}

	if !op.HasDest() {
		p.Append(b, in)
		return nil
	}

	if d.Dst == "" {
		return errors.New("missing dst name")
	}
	if _, ok := vals[d.Dst]; ok {
		return errors.New("redefined value: %v", d.Dst)
	}

	h, v := p.AppendValue(b, in, comps)
	vals[d.Dst] = v

	if op == ir.OpPhi {
		for i, ref := range d.Src {
			*fixes = append(*fixes, phiFix{inst: h, slot: i, ref: ref})
		}
	}

	return nil
}

func parseSrc(s string, vals map[string]ir.ValueHandle) (ir.Src, error) {
	var neg, abs bool

	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if strings.HasPrefix(s, "|") && strings.HasSuffix(s, "|") && len(s) > 1 {
		abs = true
		s = s[1 : len(s)-1]
	}

	name, swz, _ := strings.Cut(s, ".")

	v, ok := vals[name]
	if !ok {
		return ir.Src{}, errors.New("undefined value: %v", name)
	}

	src := ir.UseValue(v)
	src.Neg, src.Abs = neg, abs

	if swz != "" {
		if len(swz) > 4 {
			return ir.Src{}, errors.New("bad swizzle: %v", swz)
		}

		var lanes [4]int
		for i := 0; i < 4; i++ {
			c := swz[min(i, len(swz)-1)]

			l := strings.IndexByte("xyzw", c)
			if l < 0 {
				return ir.Src{}, errors.New("bad swizzle: %v", swz)
			}
			lanes[i] = l
		}

		src.Swizzle = ir.MakeSwizzle(lanes[0], lanes[1], lanes[2], lanes[3])
	}

	return src, nil
}
