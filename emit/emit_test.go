package emit

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gogpu/vivante/hw"
	"github.com/gogpu/vivante/ir"
	"github.com/gogpu/vivante/isa"
)

func fsProgram(inputs int) (*ir.Program, ir.BlockHandle) {
	p := ir.NewProgram(ir.StageFragment)
	for i := 0; i < inputs; i++ {
		p.Inputs = append(p.Inputs, ir.IOVar{NumComponents: 4})
	}
	p.Outputs = []ir.IOVar{{Semantic: ir.SemColor, NumComponents: 4}}
	return p, p.AddBlock()
}

func constF(p *ir.Program, b ir.BlockHandle, v float32) ir.ValueHandle {
	_, val := p.AppendValue(b, ir.Inst{
		Op:        ir.OpConst,
		ConstType: ir.ConstFloat,
		Words:     [4]uint32{math.Float32bits(v)},
	}, 1)
	return val
}

func decode(t *testing.T, res *Result, i int, halti5 bool) isa.Inst {
	t.Helper()

	var w [isa.InstWords]uint32
	copy(w[:], res.Code[i*isa.InstWords:])

	return isa.Disassemble(w, halti5)
}

func opcodes(t *testing.T, res *Result, halti5 bool) []isa.Opcode {
	t.Helper()

	var r []isa.Opcode
	for i := 0; i < res.InstCount; i++ {
		r = append(r, decode(t, res, i, halti5).Opcode)
	}
	return r
}

func TestEmitSingleMul(t *testing.T) {
	p, b := fsProgram(2)

	_, in0 := p.AppendValue(b, ir.Inst{Op: ir.OpLoadInput, Index: 0}, 4)
	_, in1 := p.AppendValue(b, ir.Inst{Op: ir.OpLoadInput, Index: 1}, 4)
	_, mul := p.AppendValue(b, ir.Inst{Op: ir.OpFMul, Src: [3]ir.Src{ir.UseValue(in0), ir.UseValue(in1)}}, 4)
	p.Append(b, ir.Inst{Op: ir.OpStoreOutput, Src: [3]ir.Src{ir.UseValue(mul)}})

	res, err := Emit(context.Background(), p, hw.GC2000())
	require.NoError(t, err)

	require.Equal(t, 1, res.InstCount)
	require.Len(t, res.Code, isa.InstWords)
	require.Equal(t, []int{1, 2}, res.InputRegs)

	mi := decode(t, res, 0, false)
	require.Equal(t, isa.OpMul, mi.Opcode)
	require.Equal(t, uint32(res.OutputRegs[0]), mi.Dst.Reg)
	require.Equal(t, uint8(0xf), mi.Dst.WriteMask)
	require.Equal(t, uint32(1), mi.Src[0].Reg)
	require.Equal(t, uint32(2), mi.Src[1].Reg)
	require.Equal(t, isa.RGroupTemp, mi.Src[0].RGroup)
	require.Equal(t, "xyzw", mi.Src[0].Swizzle.String())
}

func TestEmitConstDedup(t *testing.T) {
	p, b := fsProgram(1)
	p.UniformSlots = 2

	_, in := p.AppendValue(b, ir.Inst{Op: ir.OpLoadInput}, 4)
	c1 := constF(p, b, 0.5)
	c2 := constF(p, b, 0.5)
	_, a1 := p.AppendValue(b, ir.Inst{Op: ir.OpFAdd, Src: [3]ir.Src{ir.UseValue(in), ir.UseValue(c1)}}, 4)
	_, a2 := p.AppendValue(b, ir.Inst{Op: ir.OpFAdd, Src: [3]ir.Src{ir.UseValue(a1), ir.UseValue(c2)}}, 4)
	p.Append(b, ir.Inst{Op: ir.OpStoreOutput, Src: [3]ir.Src{ir.UseValue(a2)}})

	res, err := Emit(context.Background(), p, hw.GC2000())
	require.NoError(t, err)

	// Both constants share one pool word after the user slots.
	require.Len(t, res.Uniforms.Words, 9)
	require.Equal(t, UniformTag{Kind: UniformConst, Value: math.Float32bits(0.5)}, res.Uniforms.Tags[8])

	require.Equal(t, 2, res.InstCount)
	for i := 0; i < 2; i++ {
		ai := decode(t, res, i, false)
		require.Equal(t, isa.OpAdd, ai.Opcode)
		require.Equal(t, isa.RGroupUniform, ai.Src[2].RGroup)
		require.Equal(t, uint32(2), ai.Src[2].Reg)
		require.Equal(t, "xxxx", ai.Src[2].Swizzle.String())
	}
}

func TestEmitBranchFixupAndPhiCopies(t *testing.T) {
	p := ir.NewProgram(ir.StageFragment)
	p.Inputs = []ir.IOVar{{NumComponents: 4}}
	p.Outputs = []ir.IOVar{{Semantic: ir.SemColor, NumComponents: 4}}

	b0 := p.AddBlock()
	b1 := p.AddBlock()
	b2 := p.AddBlock()
	b3 := p.AddBlock()

	_, in := p.AppendValue(b0, ir.Inst{Op: ir.OpLoadInput}, 4)
	p.Append(b0, ir.Inst{Op: ir.OpBranchIfZero, Src: [3]ir.Src{ir.UseValue(in)}, Target: b2})

	_, x1 := p.AppendValue(b1, ir.Inst{Op: ir.OpFAdd, Src: [3]ir.Src{ir.UseValue(in), ir.UseValue(in)}}, 4)
	p.Append(b1, ir.Inst{Op: ir.OpBranch, Target: b3})

	_, x2 := p.AppendValue(b2, ir.Inst{Op: ir.OpFMul, Src: [3]ir.Src{ir.UseValue(in), ir.UseValue(in)}}, 4)

	_, phi := p.AppendValue(b3, ir.Inst{
		Op:        ir.OpPhi,
		Src:       [3]ir.Src{ir.UseValue(x1), ir.UseValue(x2)},
		PhiBlocks: [3]ir.BlockHandle{b1, b2, ir.NoBlock},
	}, 4)
	p.Append(b3, ir.Inst{Op: ir.OpStoreOutput, Src: [3]ir.Src{ir.UseSwiz(phi, ir.MakeSwizzle(3, 2, 1, 0))}})

	res, err := Emit(context.Background(), p, hw.GC2000())
	require.NoError(t, err)

	require.Equal(t, []isa.Opcode{
		isa.OpBranch,
		isa.OpAdd, isa.OpMov, isa.OpBranch,
		isa.OpMul, isa.OpMov,
		isa.OpMov,
	}, opcodes(t, res, false))
	require.Equal(t, []int{0, 1, 4, 6}, res.BlockPtrs)

	biz := decode(t, res, 0, false)
	require.Equal(t, isa.CondNot, biz.Cond)
	require.Equal(t, isa.TypeU32, biz.Type)
	require.Equal(t, uint32(4), biz.Imm)

	br := decode(t, res, 3, false)
	require.Equal(t, isa.CondTrue, br.Cond)
	require.Equal(t, uint32(6), br.Imm)

	// Both phi copies target the phi's register.
	require.Equal(t, decode(t, res, 2, false).Dst.Reg, decode(t, res, 5, false).Dst.Reg)

	norm := decode(t, res, 6, false)
	require.Equal(t, uint32(res.OutputRegs[0]), norm.Dst.Reg)
	require.Equal(t, "wzyx", norm.Src[2].Swizzle.String())
}

func TestEmitScalarBroadcast(t *testing.T) {
	p, b := fsProgram(1)

	_, in := p.AppendValue(b, ir.Inst{Op: ir.OpLoadInput}, 4)
	_, rcp := p.AppendValue(b, ir.Inst{
		Op:  ir.OpFRcp,
		Src: [3]ir.Src{ir.UseSwiz(in, ir.MakeSwizzle(3, 3, 3, 3))},
	}, 1)
	p.Append(b, ir.Inst{Op: ir.OpStoreOutput, Src: [3]ir.Src{ir.UseLane(rcp, 0)}})

	res, err := Emit(context.Background(), p, hw.GC2000())
	require.NoError(t, err)

	var ri isa.Inst
	found := false
	for i := 0; i < res.InstCount; i++ {
		if d := decode(t, res, i, false); d.Opcode == isa.OpRcp {
			ri, found = d, true
		}
	}
	require.True(t, found)
	require.Equal(t, "wwww", ri.Src[2].Swizzle.String())
	require.Equal(t, uint32(1), ri.Src[2].Reg)
}

func TestEmitVertexSamplerOffset(t *testing.T) {
	p := ir.NewProgram(ir.StageVertex)
	p.Inputs = []ir.IOVar{{NumComponents: 2}}
	p.Outputs = []ir.IOVar{{Semantic: ir.SemPosition, NumComponents: 4}}
	b := p.AddBlock()

	_, coord := p.AppendValue(b, ir.Inst{Op: ir.OpLoadInput}, 2)
	_, tex := p.AppendValue(b, ir.Inst{Op: ir.OpTexSampleLod, Sampler: 1, Src: [3]ir.Src{ir.UseValue(coord), ir.UseValue(coord)}}, 4)
	p.Append(b, ir.Inst{Op: ir.OpStoreOutput, Src: [3]ir.Src{ir.UseValue(tex)}})

	specs := hw.GC7000L()

	res, err := Emit(context.Background(), p, specs)
	require.NoError(t, err)

	ti := decode(t, res, 0, true)
	require.Equal(t, isa.OpTexLdL, ti.Opcode)
	require.Equal(t, uint32(1+specs.VertexSamplerOffset), ti.Tex.ID)
	require.True(t, ti.Src[1].Use)
}

func TestEmitTexScaleUniform(t *testing.T) {
	p, b := fsProgram(1)

	_, coord := p.AppendValue(b, ir.Inst{Op: ir.OpLoadInput}, 2)
	_, scale := p.AppendValue(b, ir.Inst{Op: ir.OpLoadUniform, Index: ^1}, 2)
	_, sc := p.AppendValue(b, ir.Inst{Op: ir.OpFMul, Src: [3]ir.Src{ir.UseValue(coord), ir.UseValue(scale)}}, 2)
	_, tex := p.AppendValue(b, ir.Inst{Op: ir.OpTexSample, Sampler: 1, Src: [3]ir.Src{ir.UseValue(sc)}}, 4)
	p.Append(b, ir.Inst{Op: ir.OpStoreOutput, Src: [3]ir.Src{ir.UseValue(tex)}})

	res, err := Emit(context.Background(), p, hw.GC2000())
	require.NoError(t, err)

	require.Equal(t, UniformTag{Kind: UniformTexScaleX, Value: 1}, res.Uniforms.Tags[0])
	require.Equal(t, UniformTag{Kind: UniformTexScaleY, Value: 1}, res.Uniforms.Tags[1])

	mi := decode(t, res, 0, false)
	require.Equal(t, isa.OpMul, mi.Opcode)
	require.Equal(t, isa.RGroupUniform, mi.Src[1].RGroup)
	require.Equal(t, uint32(0), mi.Src[1].Reg)
}

func TestEmitDynamicUniformAddress(t *testing.T) {
	p, b := fsProgram(1)
	p.UniformSlots = 8

	_, in := p.AppendValue(b, ir.Inst{Op: ir.OpLoadInput}, 4)
	_, off := p.AppendValue(b, ir.Inst{Op: ir.OpF2U, Src: [3]ir.Src{ir.UseValue(in)}}, 1)
	_, u := p.AppendValue(b, ir.Inst{Op: ir.OpLoadUniform, Index: 2, Src: [3]ir.Src{ir.UseValue(off)}}, 4)
	_, a := p.AppendValue(b, ir.Inst{Op: ir.OpFAdd, Src: [3]ir.Src{ir.UseValue(in), ir.UseValue(u)}}, 4)
	p.Append(b, ir.Inst{Op: ir.OpStoreOutput, Src: [3]ir.Src{ir.UseValue(a)}})

	res, err := Emit(context.Background(), p, hw.GC2000())
	require.NoError(t, err)

	require.Equal(t, []isa.Opcode{isa.OpF2I, isa.OpMovAR, isa.OpAdd}, opcodes(t, res, false))

	ai := decode(t, res, 2, false)
	require.Equal(t, isa.RGroupUniform, ai.Src[2].RGroup)
	require.Equal(t, uint32(2), ai.Src[2].Reg)
	require.Equal(t, isa.AAddrX, ai.Src[2].AMode)
}

func TestEmitPhiSwapCopies(t *testing.T) {
	p := ir.NewProgram(ir.StageFragment)
	p.Inputs = []ir.IOVar{{NumComponents: 4}, {Slot: 1, NumComponents: 4}, {Slot: 2, NumComponents: 4}}
	p.Outputs = []ir.IOVar{{Semantic: ir.SemColor, NumComponents: 4}}

	b0 := p.AddBlock()
	b1 := p.AddBlock()
	b2 := p.AddBlock()

	_, in0 := p.AppendValue(b0, ir.Inst{Op: ir.OpLoadInput, Index: 0}, 4)
	_, in1 := p.AppendValue(b0, ir.Inst{Op: ir.OpLoadInput, Index: 1}, 4)
	_, cond := p.AppendValue(b0, ir.Inst{Op: ir.OpLoadInput, Index: 2}, 4)

	// Two loop-carried values exchanging registers every iteration.
	aH, a := p.AppendValue(b1, ir.Inst{
		Op:        ir.OpPhi,
		Src:       [3]ir.Src{ir.UseValue(in0)},
		PhiBlocks: [3]ir.BlockHandle{b0, b1, ir.NoBlock},
	}, 4)
	_, bb := p.AppendValue(b1, ir.Inst{
		Op:        ir.OpPhi,
		Src:       [3]ir.Src{ir.UseValue(in1), ir.UseValue(a)},
		PhiBlocks: [3]ir.BlockHandle{b0, b1, ir.NoBlock},
	}, 4)
	p.SetSrc(aH, 1, ir.UseValue(bb))
	p.Append(b1, ir.Inst{Op: ir.OpBranchIfZero, Src: [3]ir.Src{ir.UseValue(cond)}, Target: b1})

	_, sum := p.AppendValue(b2, ir.Inst{Op: ir.OpFAdd, Src: [3]ir.Src{ir.UseValue(a), ir.UseValue(bb)}}, 4)
	p.Append(b2, ir.Inst{Op: ir.OpStoreOutput, Src: [3]ir.Src{ir.UseValue(sum)}})

	res, err := Emit(context.Background(), p, hw.GC2000())
	require.NoError(t, err)

	require.Equal(t, []isa.Opcode{
		isa.OpMov, isa.OpMov,
		isa.OpMov, isa.OpMov, isa.OpMov, isa.OpBranch,
		isa.OpAdd,
	}, opcodes(t, res, false))
	require.Equal(t, []int{0, 2, 6}, res.BlockPtrs)

	ra := decode(t, res, 0, false).Dst.Reg
	rb := decode(t, res, 1, false).Dst.Reg
	require.NotEqual(t, ra, rb)

	// The back-edge copies swap through a scratch register instead of
	// clobbering one side.
	detach := decode(t, res, 2, false)
	first := decode(t, res, 3, false)
	second := decode(t, res, 4, false)

	scratch := detach.Dst.Reg
	require.NotContains(t, []uint32{ra, rb}, scratch)
	require.Equal(t, uint32(res.NumTemps-1), scratch)

	require.Equal(t, rb, detach.Src[2].Reg)
	require.Equal(t, rb, first.Dst.Reg)
	require.Equal(t, ra, first.Src[2].Reg)
	require.Equal(t, ra, second.Dst.Reg)
	require.Equal(t, scratch, second.Src[2].Reg)

	require.Equal(t, uint32(2), decode(t, res, 5, false).Imm)
}

func TestEmitSingleUniformSrc(t *testing.T) {
	build := func() *ir.Program {
		p, b := fsProgram(0)
		p.UniformSlots = 1

		_, u := p.AppendValue(b, ir.Inst{Op: ir.OpLoadUniform, Index: 0}, 4)
		c := constF(p, b, 2)
		_, a := p.AppendValue(b, ir.Inst{Op: ir.OpFAdd, Src: [3]ir.Src{ir.UseValue(u), ir.UseLane(c, 0)}}, 4)
		p.Append(b, ir.Inst{Op: ir.OpStoreOutput, Src: [3]ir.Src{ir.UseValue(a)}})
		return p
	}

	// Before the fifth generation one constant-file fetch is allowed
	// per instruction: the second uniform goes through a temp.
	res, err := Emit(context.Background(), build(), hw.GC2000())
	require.NoError(t, err)

	require.Equal(t, []isa.Opcode{isa.OpMov, isa.OpAdd}, opcodes(t, res, false))

	mv := decode(t, res, 0, false)
	require.Equal(t, isa.RGroupUniform, mv.Src[2].RGroup)
	require.Equal(t, uint32(1), mv.Src[2].Reg)
	require.Equal(t, uint8(0xf), mv.Dst.WriteMask)

	ai := decode(t, res, 1, false)
	require.Equal(t, isa.RGroupUniform, ai.Src[0].RGroup)
	require.Equal(t, uint32(0), ai.Src[0].Reg)
	require.Equal(t, isa.RGroupTemp, ai.Src[2].RGroup)
	require.Equal(t, mv.Dst.Reg, ai.Src[2].Reg)
	require.Equal(t, "xxxx", ai.Src[2].Swizzle.String())

	// Later generations fetch both directly.
	res, err = Emit(context.Background(), build(), hw.GC7000L())
	require.NoError(t, err)

	require.Equal(t, []isa.Opcode{isa.OpAdd}, opcodes(t, res, true))

	ai = decode(t, res, 0, true)
	require.Equal(t, isa.RGroupUniform, ai.Src[0].RGroup)
	require.Equal(t, isa.RGroupUniform, ai.Src[2].RGroup)
	require.Equal(t, uint32(1), ai.Src[2].Reg)
}

func TestEmitTempBudget(t *testing.T) {
	p, b := fsProgram(2)

	_, in0 := p.AppendValue(b, ir.Inst{Op: ir.OpLoadInput, Index: 0}, 4)
	_, in1 := p.AppendValue(b, ir.Inst{Op: ir.OpLoadInput, Index: 1}, 4)
	_, mul := p.AppendValue(b, ir.Inst{Op: ir.OpFMul, Src: [3]ir.Src{ir.UseValue(in0), ir.UseValue(in1)}}, 4)
	p.Append(b, ir.Inst{Op: ir.OpStoreOutput, Src: [3]ir.Src{ir.UseValue(mul)}})

	specs := hw.GC2000()
	specs.MaxTemps = 2

	_, err := Emit(context.Background(), p, specs)
	require.ErrorContains(t, err, "temporaries")
}

func TestEmitUniformBudget(t *testing.T) {
	p, b := fsProgram(1)
	p.UniformSlots = 1

	_, in := p.AppendValue(b, ir.Inst{Op: ir.OpLoadInput}, 4)
	c := constF(p, b, 3.25)
	_, a := p.AppendValue(b, ir.Inst{Op: ir.OpFAdd, Src: [3]ir.Src{ir.UseValue(in), ir.UseValue(c)}}, 4)
	p.Append(b, ir.Inst{Op: ir.OpStoreOutput, Src: [3]ir.Src{ir.UseValue(a)}})

	specs := hw.GC2000()
	specs.MaxImmediates = 1

	_, err := Emit(context.Background(), p, specs)
	require.ErrorContains(t, err, "uniform slots")
}

func TestEmitEmptyProgram(t *testing.T) {
	p := ir.NewProgram(ir.StageFragment)
	p.AddBlock()

	res, err := Emit(context.Background(), p, hw.GC2000())
	require.NoError(t, err)

	require.Equal(t, 1, res.InstCount)
	require.Equal(t, isa.OpNop, decode(t, res, 0, false).Opcode)
}

func TestEmitDeterministic(t *testing.T) {
	build := func() *ir.Program {
		p, b := fsProgram(2)
		_, in0 := p.AppendValue(b, ir.Inst{Op: ir.OpLoadInput, Index: 0}, 4)
		_, in1 := p.AppendValue(b, ir.Inst{Op: ir.OpLoadInput, Index: 1}, 4)
		c := constF(p, b, 2)
		_, m := p.AppendValue(b, ir.Inst{Op: ir.OpFMul, Src: [3]ir.Src{ir.UseValue(in0), ir.UseValue(c)}}, 4)
		_, a := p.AppendValue(b, ir.Inst{Op: ir.OpFAdd, Src: [3]ir.Src{ir.UseValue(m), ir.UseValue(in1)}}, 4)
		p.Append(b, ir.Inst{Op: ir.OpStoreOutput, Src: [3]ir.Src{ir.UseValue(a)}})
		return p
	}

	r1, err := Emit(context.Background(), build(), hw.GC2000())
	require.NoError(t, err)
	r2, err := Emit(context.Background(), build(), hw.GC2000())
	require.NoError(t, err)

	require.Equal(t, r1.Code, r2.Code)
	require.Equal(t, r1.Uniforms.Words, r2.Uniforms.Words)
}
