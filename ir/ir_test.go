package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSwizzleCompose(t *testing.T) {
	require.Equal(t, "xyzw", SwizzleIdentity.String())
	require.Equal(t, "yyyy", SwizzleBroadcast(1).String())
	require.Equal(t, "wzyx", MakeSwizzle(3, 2, 1, 0).String())

	// Identity is neutral on both sides.
	s := MakeSwizzle(2, 0, 3, 1)
	require.Equal(t, s, Compose(s, SwizzleIdentity))
	require.Equal(t, s, Compose(SwizzleIdentity, s))

	// outer selects lanes of inner's result.
	inner := MakeSwizzle(1, 0, 3, 2) // yxwz
	outer := SwizzleBroadcast(2)
	require.Equal(t, "wwww", Compose(inner, outer).String())
}

func TestFirstLane(t *testing.T) {
	require.Equal(t, 0, FirstLane(0b0001))
	require.Equal(t, 1, FirstLane(0b0110))
	require.Equal(t, 3, FirstLane(0b1000))
	require.Equal(t, 0, FirstLane(0))
}

func TestBuildUseLists(t *testing.T) {
	p := NewProgram(StageFragment)
	p.Inputs = []IOVar{{Slot: 0, NumComponents: 4}}
	p.Outputs = []IOVar{{Slot: 0, Semantic: SemColor, NumComponents: 4}}

	b := p.AddBlock()

	_, in := p.AppendValue(b, Inst{Op: OpLoadInput}, 4)
	addH, add := p.AppendValue(b, Inst{
		Op:  OpFAdd,
		Src: [3]Src{UseValue(in), UseValue(in)},
	}, 4)
	p.Append(b, Inst{Op: OpStoreOutput, Src: [3]Src{UseValue(add)}})

	require.Equal(t, []Use{{Inst: addH, Index: 0}, {Inst: addH, Index: 1}}, p.UsesOf(in))
	require.Len(t, p.UsesOf(add), 1)
	require.NoError(t, p.Validate())
}

func TestInsertBefore(t *testing.T) {
	p := NewProgram(StageVertex)
	b := p.AddBlock()

	_, a := p.AppendValue(b, Inst{Op: OpUndef}, 1)
	mulH, _ := p.AppendValue(b, Inst{
		Op:  OpFMul,
		Src: [3]Src{UseValue(a), UseValue(a)},
	}, 1)

	c := p.ConstScalarF(mulH, 2)

	code := p.BlockCode(b)
	require.Len(t, code, 3)
	require.Equal(t, OpConst, p.Inst(code[1]).Op)
	require.Equal(t, c, p.Inst(code[1]).Dest)
	require.Equal(t, mulH, code[2])
}

func TestReplaceUsesComposesModifiers(t *testing.T) {
	p := NewProgram(StageVertex)
	b := p.AddBlock()

	_, x := p.AppendValue(b, Inst{Op: OpUndef}, 4)

	// mov with swizzle and negate, then a consumer with its own
	// swizzle. Folding the mov must compose both.
	movH, m := p.AppendValue(b, Inst{
		Op:  OpMov,
		Src: [3]Src{{Kind: SrcValue, Value: x, Swizzle: MakeSwizzle(1, 0, 3, 2), Neg: true}},
	}, 4)

	useH, _ := p.AppendValue(b, Inst{
		Op:  OpFAdd,
		Src: [3]Src{UseLane(m, 2), UseValue(m)},
	}, 4)

	repl := p.Inst(movH).Src[0]
	err := p.ReplaceUsesSrc(m, repl, NoInst)
	require.NoError(t, err)

	s0 := p.Inst(useH).Src[0]
	require.Equal(t, x, s0.Value)
	require.Equal(t, "wwww", s0.Swizzle.String()) // lane 2 of yxwz is w
	require.True(t, s0.Neg)
	require.False(t, s0.Abs)

	s1 := p.Inst(useH).Src[1]
	require.Equal(t, "yxwz", s1.Swizzle.String())
	require.True(t, s1.Neg)

	require.Empty(t, p.UsesOf(m))
	require.Len(t, p.UsesOf(x), 3) // mov itself plus two rewired uses

	// Now the mov is dead and removable.
	require.NoError(t, p.RemoveInst(movH))
	require.Equal(t, OpNop, p.Inst(movH).Op)
	require.Len(t, p.UsesOf(x), 2)
}

func TestReplaceUsesOuterAbsWins(t *testing.T) {
	p := NewProgram(StageVertex)
	b := p.AddBlock()

	_, x := p.AppendValue(b, Inst{Op: OpUndef}, 4)
	_, m := p.AppendValue(b, Inst{
		Op:  OpMov,
		Src: [3]Src{{Kind: SrcValue, Value: x, Swizzle: SwizzleIdentity, Neg: true}},
	}, 4)

	useH, _ := p.AppendValue(b, Inst{
		Op:  OpFAdd,
		Src: [3]Src{{Kind: SrcValue, Value: m, Swizzle: SwizzleIdentity, Abs: true}, UseValue(m)},
	}, 4)

	err := p.ReplaceUsesSrc(m, Src{Kind: SrcValue, Value: x, Swizzle: SwizzleIdentity, Neg: true}, NoInst)
	require.NoError(t, err)

	// |−x| = |x|: the inner negate vanishes under the consumer's abs.
	s0 := p.Inst(useH).Src[0]
	require.True(t, s0.Abs)
	require.False(t, s0.Neg)
}

func TestRemoveInstRefusesLiveValue(t *testing.T) {
	p := NewProgram(StageVertex)
	b := p.AddBlock()

	uh, u := p.AppendValue(b, Inst{Op: OpUndef}, 1)
	p.AppendValue(b, Inst{Op: OpMov, Src: [3]Src{UseValue(u)}}, 1)

	err := p.RemoveInst(uh)
	require.Error(t, err)
}

func TestReplaceUsesExcept(t *testing.T) {
	p := NewProgram(StageVertex)
	b := p.AddBlock()

	_, old := p.AppendValue(b, Inst{Op: OpUndef}, 1)
	fixH, fixed := p.AppendValue(b, Inst{Op: OpMov, Src: [3]Src{UseValue(old)}}, 1)
	useH, _ := p.AppendValue(b, Inst{Op: OpFAdd, Src: [3]Src{UseValue(old), UseValue(fixed)}}, 1)

	require.NoError(t, p.ReplaceUsesExcept(old, fixed, fixH))

	// The corrective mov still reads old; the other consumer moved.
	require.Equal(t, old, p.Inst(fixH).Src[0].Value)
	require.Equal(t, fixed, p.Inst(useH).Src[0].Value)
	require.Equal(t, []Use{{Inst: fixH, Index: 0}}, p.UsesOf(old))
}

func TestValidateCatchesBrokenGraph(t *testing.T) {
	p := NewProgram(StageVertex)
	b := p.AddBlock()

	_, v := p.AppendValue(b, Inst{Op: OpUndef}, 1)
	h, _ := p.AppendValue(b, Inst{Op: OpMov, Src: [3]Src{UseValue(v)}}, 1)
	require.NoError(t, p.Validate())

	// Bypassing SetSrc desynchronizes the use list.
	p.Inst(h).Src[0] = Src{}
	require.Error(t, p.Validate())
}

func TestValidateIORange(t *testing.T) {
	p := NewProgram(StageFragment)
	b := p.AddBlock()
	p.AppendValue(b, Inst{Op: OpLoadInput, Index: 3}, 4)
	require.Error(t, p.Validate())
}

func TestSuccsAndTerminator(t *testing.T) {
	p := NewProgram(StageFragment)
	b0 := p.AddBlock()
	b1 := p.AddBlock()
	b2 := p.AddBlock()

	_, c := p.AppendValue(b0, Inst{Op: OpUndef}, 1)
	p.Append(b0, Inst{Op: OpBranchIfZero, Src: [3]Src{UseValue(c)}, Target: b2})
	p.Append(b1, Inst{Op: OpBranch, Target: b2})

	require.Equal(t, []BlockHandle{b2, b1}, p.Succs(b0))
	require.Equal(t, []BlockHandle{b2}, p.Succs(b1))
	require.Equal(t, NoInst, p.Terminator(b2))
	require.Equal(t, []BlockHandle{b0, b1}, p.Preds(b2))
}

func TestDump(t *testing.T) {
	p := NewProgram(StageFragment)
	p.Inputs = []IOVar{{NumComponents: 4}}
	p.Outputs = []IOVar{{Semantic: SemColor, NumComponents: 4}}

	b := p.AddBlock()
	_, in := p.AppendValue(b, Inst{Op: OpLoadInput}, 4)
	_, tex := p.AppendValue(b, Inst{Op: OpTexSample, Sampler: 1, Src: [3]Src{UseValue(in)}}, 4)
	p.Append(b, Inst{Op: OpStoreOutput, Src: [3]Src{UseValue(tex)}})

	d := p.Dump()
	require.Contains(t, d, "fragment shader")
	require.Contains(t, d, "tex s1")
	require.Contains(t, d, "store_output [0]")
}
