// Package emit turns a lowered, normalized program into machine code:
// it selects hardware instructions, allocates temporary registers and
// uniform slots, schedules blocks in program order and produces the
// binary instruction stream plus the register maps the driver needs.
package emit

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/gogpu/vivante/hw"
	"github.com/gogpu/vivante/ir"
	"github.com/gogpu/vivante/isa"
)

// Result is the flat output of emission.
type Result struct {
	// Code is the encoded instruction stream, 4 words per
	// instruction.
	Code []uint32

	InstCount int
	NumTemps  int

	Uniforms *UniformTable

	// InputRegs and OutputRegs map stage I/O variables to temporary
	// registers. -1 marks an output never stored to.
	InputRegs  []int
	OutputRegs []int

	// BlockPtrs gives the instruction index each block starts at.
	BlockPtrs []int
}

type fixup struct {
	inst   int
	target ir.BlockHandle
}

type emitter struct {
	p     *ir.Program
	specs *hw.Specs

	alloc *allocation
	uni   *UniformTable

	// uniform word index per constant-pool value
	uniWord map[ir.ValueHandle]int

	insts    []isa.Inst
	blockPtr []int
	fixups   []fixup

	// scratch registers claimed past the allocator's assignment
	scratchUsed int

	outputRegs []int
}

// scratch returns the i'th scratch temporary. Scratch values never
// live across an instruction boundary, so the registers are shared by
// every use site.
func (e *emitter) scratch(i int) (int, error) {
	if i+1 > e.scratchUsed {
		e.scratchUsed = i + 1
	}

	n := e.alloc.numTemps + e.scratchUsed
	if n > e.specs.MaxTemps {
		return 0, errors.New("register allocation needs %d temporaries, hardware has %d", n, e.specs.MaxTemps)
	}

	return e.alloc.numTemps + i, nil
}

// Emit compiles an allocated program to machine code. The program must
// already be lowered and normalized; emission is deterministic and
// fails only on resource exhaustion or an internal inconsistency.
func Emit(ctx context.Context, p *ir.Program, specs *hw.Specs) (*Result, error) {
	tr := tlog.SpanFromContext(ctx)

	base0, err := normalizeStores(p)
	if err != nil {
		return nil, errors.Wrap(err, "normalize stores")
	}

	alloc, err := allocate(p, specs, base0)
	if err != nil {
		return nil, err
	}

	e := &emitter{
		p:          p,
		specs:      specs,
		alloc:      alloc,
		uni:        newUniformTable(p.UniformSlots, specs.MaxImmediates),
		uniWord:    map[ir.ValueHandle]int{},
		blockPtr:   make([]int, p.NumBlocks()),
		outputRegs: make([]int, len(p.Outputs)),
	}
	for i := range e.outputRegs {
		e.outputRegs[i] = -1
	}

	err = e.buildConstants()
	if err != nil {
		return nil, err
	}

	for bi := 0; bi < p.NumBlocks(); bi++ {
		err = e.emitBlock(ir.BlockHandle(bi))
		if err != nil {
			return nil, errors.Wrap(err, "block %d", bi)
		}
	}

	// The hardware rejects empty programs.
	if len(e.insts) == 0 {
		e.insts = append(e.insts, isa.Inst{Opcode: isa.OpNop})
	}

	for _, f := range e.fixups {
		e.insts[f.inst].Imm = uint32(e.blockPtr[f.target])
	}

	code := make([]uint32, 0, len(e.insts)*isa.InstWords)
	halti5 := specs.Halti >= 5

	for i, in := range e.insts {
		w, err := isa.Assemble(in, halti5)
		if err != nil {
			return nil, errors.Wrap(err, "instruction %d", i)
		}
		code = append(code, w[:]...)
	}

	inputRegs := make([]int, len(p.Inputs))
	for i := range inputRegs {
		inputRegs[i] = inputReg(p.Stage, i)
	}

	numTemps := alloc.numTemps + e.scratchUsed

	tr.V("emit").Printw("emitted program",
		"stage", p.Stage, "insts", len(e.insts),
		"temps", numTemps, "uniform_slots", e.uni.Slots())

	return &Result{
		Code:       code,
		InstCount:  len(e.insts),
		NumTemps:   numTemps,
		Uniforms:   e.uni,
		InputRegs:  inputRegs,
		OutputRegs: e.outputRegs,
		BlockPtrs:  e.blockPtr,
	}, nil
}

// normalizeStores guarantees every stored value sits at component 0 of
// a register, unswizzled and unmodified, inserting a copy when the
// producer does not already satisfy that. Returns the set of values
// whose register window must start at component 0.
func normalizeStores(p *ir.Program) (map[ir.ValueHandle]bool, error) {
	base0 := map[ir.ValueHandle]bool{}

	for bi := 0; bi < p.NumBlocks(); bi++ {
		code := p.BlockCode(ir.BlockHandle(bi))
		snapshot := make([]ir.InstHandle, len(code))
		copy(snapshot, code)

		for _, h := range snapshot {
			in := p.Inst(h)
			if in.Op != ir.OpStoreOutput {
				continue
			}

			s := in.Src[0]
			if s.Kind != ir.SrcValue {
				return nil, errors.New("store without a value")
			}

			comps := int(p.Outputs[in.Index].NumComponents)

			ok := tempResident(p, s.Value) && !s.Neg && !s.Abs &&
				int(p.Value(s.Value).NumComponents) == comps
			for i := 0; ok && i < comps; i++ {
				ok = s.Swizzle.Lane(i) == i
			}

			if !ok {
				_, mv := p.InsertBefore(h, ir.Inst{Op: ir.OpMov, Src: [3]ir.Src{s}}, comps)
				p.SetSrc(h, 0, ir.UseValue(mv))
				base0[mv] = true
				continue
			}

			base0[s.Value] = true
		}
	}

	return base0, nil
}

// buildConstants places every constant and synthetic uniform in the
// table before emission so operand resolution is a lookup.
func (e *emitter) buildConstants() error {
	for bi := 0; bi < e.p.NumBlocks(); bi++ {
		for _, h := range e.p.BlockCode(ir.BlockHandle(bi)) {
			in := e.p.Inst(h)

			switch {
			case in.Op == ir.OpConst:
				comps := int(e.p.Value(in.Dest).NumComponents)
				tag := UniformConst
				if in.ConstType == ir.ConstInt {
					tag = UniformConstInt
				}

				w, err := e.uni.AddConst(in.Words[:comps], tag)
				if err != nil {
					return err
				}
				e.uniWord[in.Dest] = w

			case in.Op == ir.OpLoadUniform && in.Index < 0:
				w, err := e.uni.AddTexScale(^in.Index)
				if err != nil {
					return err
				}
				e.uniWord[in.Dest] = w
			}
		}
	}

	return nil
}

// physLane maps a logical source lane to the physical register lane it
// reads.
func (e *emitter) physLane(s ir.Src, lane int) int {
	v := s.Value
	comps := int(e.p.Value(v).NumComponents)

	l := s.Swizzle.Lane(lane)
	if l > comps-1 {
		l = comps - 1
	}

	if w, ok := e.uniWord[v]; ok {
		return w%4 + l
	}

	def := e.p.Value(v).Def
	if def != ir.NoInst && e.p.Inst(def).Op == ir.OpLoadUniform {
		return l
	}

	return e.alloc.vals[v].base + l
}

// operand resolves a source to its hardware form. dstBase aligns the
// swizzle with the destination window; scalarLane, when non-negative,
// broadcasts that logical lane to all components.
func (e *emitter) operand(s ir.Src, dstBase, scalarLane int) isa.Src {
	out := isa.Src{Use: true, Neg: s.Neg, Abs: s.Abs}

	v := s.Value

	if w, ok := e.uniWord[v]; ok {
		out.RGroup = isa.RGroupUniform
		out.Reg = uint32(w / 4)
	} else {
		def := e.p.Value(v).Def
		if def != ir.NoInst && e.p.Inst(def).Op == ir.OpLoadUniform {
			in := e.p.Inst(def)
			out.RGroup = isa.RGroupUniform
			out.Reg = uint32(in.Index)
			if in.Src[0].Kind == ir.SrcValue {
				out.AMode = isa.AAddrX
			}
		} else {
			out.RGroup = isa.RGroupTemp
			out.Reg = uint32(e.alloc.vals[v].reg)
		}
	}

	var sw isa.Swizzle
	if scalarLane >= 0 {
		sw = isa.BroadcastSwizzle(e.physLane(s, scalarLane))
	} else {
		for pp := 0; pp < 4; pp++ {
			lane := pp - dstBase
			if lane < 0 {
				lane = 0
			}
			if lane > 3 {
				lane = 3
			}
			sw |= isa.Swizzle(e.physLane(s, lane)) << (2 * uint(pp))
		}
	}
	out.Swizzle = sw

	return out
}

// dst resolves a destination value to its register window and physical
// write mask.
func (e *emitter) dst(v ir.ValueHandle, logicalMask uint8) (isa.Dst, int) {
	vi := &e.alloc.vals[v]

	m := logicalMask
	if m == 0 {
		m = uint8(1<<vi.comps) - 1
	}

	return isa.Dst{
		Use:       true,
		Reg:       uint32(vi.reg),
		WriteMask: m << uint(vi.base),
	}, vi.base
}

func (e *emitter) emitBlock(b ir.BlockHandle) error {
	e.blockPtr[b] = len(e.insts)

	flushed := false

	for _, h := range e.p.BlockCode(b) {
		in := e.p.Inst(h)
		if in.Op == ir.OpNop {
			continue
		}

		if in.Op.IsTerminator() {
			err := e.emitPhiCopies(b)
			if err != nil {
				return err
			}
			flushed = true
		}

		err := e.emitInst(h)
		if err != nil {
			return errors.Wrap(err, "%v", in.Op)
		}
	}

	if !flushed {
		return e.emitPhiCopies(b)
	}

	return nil
}

// emitPhiCopies writes this block's outgoing phi values: for every phi
// in a successor fed from here, a move into the phi's register. The
// moves form a parallel copy: a move whose destination still feeds
// another pending move is deferred, and a copy cycle is broken by
// detaching one source into a scratch register.
func (e *emitter) emitPhiCopies(b ir.BlockHandle) error {
	type move struct {
		dst isa.Dst
		src isa.Src
	}

	var pending []move

	for _, succ := range e.p.Succs(b) {
		for _, h := range e.p.BlockCode(succ) {
			in := e.p.Inst(h)
			if in.Op != ir.OpPhi {
				continue
			}

			for i := range in.Src {
				if in.PhiBlocks[i] != b || in.Src[i].Kind != ir.SrcValue {
					continue
				}

				d, base := e.dst(in.Dest, 0)
				pending = append(pending, move{dst: d, src: e.operand(in.Src[i], base, -1)})
			}
		}
	}

	for len(pending) > 0 {
		emitted := false

		for i := 0; i < len(pending); i++ {
			m := pending[i]

			blocked := false
			for j, o := range pending {
				if j != i && o.src.Use && o.src.RGroup == isa.RGroupTemp && o.src.Reg == m.dst.Reg {
					blocked = true
					break
				}
			}
			if blocked {
				continue
			}

			e.insts = append(e.insts, isa.Inst{Opcode: isa.OpMov, Dst: m.dst, Src: [3]isa.Src{2: m.src}})
			pending = append(pending[:i], pending[i+1:]...)
			emitted = true
			i--
		}

		if emitted {
			continue
		}

		// Every remaining move is part of a cycle.
		reg, err := e.scratch(0)
		if err != nil {
			return err
		}

		m := &pending[0]
		e.insts = append(e.insts, isa.Inst{
			Opcode: isa.OpMov,
			Dst:    isa.Dst{Use: true, Reg: uint32(reg), WriteMask: m.dst.WriteMask},
			Src:    [3]isa.Src{2: m.src},
		})

		// Lanes keep their physical positions through the scratch
		// copy, and the modifiers are already applied.
		m.src = isa.Src{
			Use:     true,
			Reg:     uint32(reg),
			Swizzle: isa.SwizzleXYZW,
			RGroup:  isa.RGroupTemp,
		}
	}

	return nil
}

func (e *emitter) emitInst(h ir.InstHandle) error {
	in := e.p.Inst(h)

	switch in.Op {
	case ir.OpConst, ir.OpUndef, ir.OpLoadInput, ir.OpPhi:
		// No code: constants live in the uniform table, undefs read
		// whatever their register holds, inputs arrive pre-loaded and
		// phis are written by their predecessors.
		return nil

	case ir.OpLoadUniform:
		if in.Src[0].Kind != ir.SrcValue {
			return nil
		}

		// The dynamic offset goes through the address register.
		e.insts = append(e.insts, isa.Inst{
			Opcode: isa.OpMovAR,
			Type:   isa.TypeU32,
			Dst:    isa.Dst{Use: true, WriteMask: 0x1},
			Src:    [3]isa.Src{2: e.operand(in.Src[0], 0, 0)},
		})
		return nil

	case ir.OpLoadInstanceID:
		d, _ := e.dst(in.Dest, 0)
		e.insts = append(e.insts, isa.Inst{
			Opcode: isa.OpMov,
			Dst:    d,
			Src: [3]isa.Src{2: {
				Use:     true,
				Reg:     uint32(idReg(e.p)),
				Swizzle: isa.BroadcastSwizzle(0),
				RGroup:  isa.RGroupTemp,
			}},
		})
		return nil

	case ir.OpLoadFrontFace:
		d, _ := e.dst(in.Dest, 0)
		e.insts = append(e.insts, isa.Inst{
			Opcode: isa.OpMov,
			Dst:    d,
			Src: [3]isa.Src{2: {
				Use:     true,
				Reg:     0,
				Swizzle: isa.BroadcastSwizzle(0),
				RGroup:  isa.RGroupInternal,
			}},
		})
		return nil

	case ir.OpStoreOutput:
		e.outputRegs[in.Index] = e.alloc.vals[in.Src[0].Value].reg
		return nil

	case ir.OpFNeg, ir.OpFAbs:
		// Normally folded into consumers as source modifiers; a
		// survivor becomes a modified MOV.
		s := in.Src[0]
		if in.Op == ir.OpFAbs {
			s.Abs, s.Neg = true, false
		} else {
			s.Neg = !s.Neg
		}

		d, base := e.dst(in.Dest, in.WriteMask)
		e.insts = append(e.insts, isa.Inst{
			Opcode:   isa.OpMov,
			Saturate: in.Saturate,
			Dst:      d,
			Src:      [3]isa.Src{2: e.operand(s, base, -1)},
		})
		return nil

	case ir.OpVec2, ir.OpVec3, ir.OpVec4:
		return e.emitVec(h)

	case ir.OpTexSample, ir.OpTexSampleBias, ir.OpTexSampleLod:
		return e.emitTex(h)

	case ir.OpBranch:
		e.fixups = append(e.fixups, fixup{inst: len(e.insts), target: in.Target})
		e.insts = append(e.insts, isa.Inst{Opcode: isa.OpBranch})
		return nil

	case ir.OpBranchIfZero:
		e.fixups = append(e.fixups, fixup{inst: len(e.insts), target: in.Target})
		e.insts = append(e.insts, isa.Inst{
			Opcode: isa.OpBranch,
			Cond:   isa.CondNot,
			Type:   isa.TypeU32,
			Src:    [3]isa.Src{0: e.operand(in.Src[0], 0, 0)},
		})
		return nil

	case ir.OpDiscard:
		e.insts = append(e.insts, isa.Inst{Opcode: isa.OpTexKill})
		return nil

	case ir.OpDiscardIf:
		e.insts = append(e.insts, isa.Inst{
			Opcode: isa.OpTexKill,
			Cond:   isa.CondGZ,
			Src:    [3]isa.Src{0: e.operand(in.Src[0], 0, 0)},
		})
		return nil
	}

	info, ok := opTable[in.Op]
	if !ok {
		return errors.New("no selection rule")
	}

	d, base := e.dst(in.Dest, in.WriteMask)

	scalarLane := -1
	if info.scalar {
		scalarLane = ir.FirstLane(d.WriteMask >> uint(base))
	}

	out := isa.Inst{
		Opcode:   info.opcode,
		Cond:     info.cond,
		Type:     info.typ,
		Saturate: in.Saturate,
		Dst:      d,
	}

	for slot := 0; slot < 3; slot++ {
		idx := info.perm[slot]
		if idx == absent {
			continue
		}

		s := in.Src[idx]
		if s.Kind != ir.SrcValue {
			return errors.New("source %d missing", idx)
		}

		out.Src[slot] = e.operand(s, base, scalarLane)
	}

	if e.specs.Halti < 5 {
		err := e.legalizeUniformSrcs(&out)
		if err != nil {
			return err
		}
	}

	e.insts = append(e.insts, out)

	return nil
}

// legalizeUniformSrcs rewrites second and third distinct uniform
// operands through temp-register moves. Hardware before the fifth
// generation fetches a single constant-file slot per instruction;
// repeated reads of the same slot are fine.
func (e *emitter) legalizeUniformSrcs(out *isa.Inst) error {
	first := -1
	n := 0

	for i := range out.Src {
		s := &out.Src[i]
		if !s.Use || s.RGroup != isa.RGroupUniform {
			continue
		}

		if first < 0 {
			first = i
			continue
		}
		if s.Reg == out.Src[first].Reg && s.AMode == out.Src[first].AMode {
			continue
		}

		reg, err := e.scratch(n)
		if err != nil {
			return err
		}
		n++

		e.insts = append(e.insts, isa.Inst{
			Opcode: isa.OpMov,
			Dst:    isa.Dst{Use: true, Reg: uint32(reg), WriteMask: 0xf},
			Src: [3]isa.Src{2: {
				Use:     true,
				Reg:     s.Reg,
				Swizzle: isa.SwizzleXYZW,
				RGroup:  isa.RGroupUniform,
				AMode:   s.AMode,
			}},
		})

		s.Reg = uint32(reg)
		s.RGroup = isa.RGroupTemp
		s.AMode = isa.ADirect
	}

	return nil
}

// emitVec writes a vector-compose as masked moves, one per run of
// lanes sharing a source value.
func (e *emitter) emitVec(h ir.InstHandle) error {
	in := e.p.Inst(h)

	var comps int
	switch in.Op {
	case ir.OpVec2:
		comps = 2
	case ir.OpVec3:
		comps = 3
	default:
		comps = 4
	}

	vi := &e.alloc.vals[in.Dest]

	srcAt := func(i int) ir.Src {
		if i == 3 {
			return in.Src3
		}
		return in.Src[i]
	}

	for i := 0; i < comps; {
		s := srcAt(i)
		if s.Kind != ir.SrcValue {
			return errors.New("lane %d missing", i)
		}

		// Extend the run while lanes come from the same value with
		// the same modifiers.
		j := i + 1
		for j < comps {
			n := srcAt(j)
			if n.Kind != ir.SrcValue || n.Value != s.Value || n.Neg != s.Neg || n.Abs != s.Abs {
				break
			}
			j++
		}

		op := e.operand(s, 0, 0)

		var mask uint8
		var sw isa.Swizzle
		for k := 0; k < 4; k++ {
			lane := k - vi.base
			if lane < i {
				lane = i
			}
			if lane >= j {
				lane = j - 1
			}
			sw |= isa.Swizzle(e.physLane(srcAt(lane), 0)) << (2 * uint(k))
		}
		for k := i; k < j; k++ {
			mask |= 1 << uint(vi.base+k)
		}

		op.Swizzle = sw

		e.insts = append(e.insts, isa.Inst{
			Opcode: isa.OpMov,
			Dst:    isa.Dst{Use: true, Reg: uint32(vi.reg), WriteMask: mask},
			Src:    [3]isa.Src{2: op},
		})

		i = j
	}

	return nil
}

func (e *emitter) emitTex(h ir.InstHandle) error {
	in := e.p.Inst(h)

	var opc isa.Opcode
	switch in.Op {
	case ir.OpTexSample:
		opc = isa.OpTexLd
	case ir.OpTexSampleBias:
		opc = isa.OpTexLdB
	default:
		opc = isa.OpTexLdL
	}

	sampler := in.Sampler
	if e.p.Stage == ir.StageVertex {
		sampler += e.specs.VertexSamplerOffset
	}

	d, base := e.dst(in.Dest, in.WriteMask)

	out := isa.Inst{
		Opcode: opc,
		Dst:    d,
		Tex:    isa.Tex{ID: uint32(sampler), Swizzle: isa.SwizzleXYZW},
		Src:    [3]isa.Src{0: e.operand(in.Src[0], base, -1)},
	}

	// Separate lod/bias operand survives only on hardware with
	// multi-source texture instructions.
	if in.Src[1].Kind == ir.SrcValue {
		out.Src[1] = e.operand(in.Src[1], 0, 0)
	}

	e.insts = append(e.insts, out)

	return nil
}
