package isa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleInsts() []Inst {
	return []Inst{
		{Opcode: OpNop},
		{
			Opcode: OpMul,
			Dst:    Dst{Use: true, Reg: 2, WriteMask: 0xf},
			Src:    [3]Src{TempSrc(0), TempSrc(1)},
		},
		{
			Opcode:   OpMad,
			Saturate: true,
			Dst:      Dst{Use: true, Reg: 5, WriteMask: 0x3},
			Src: [3]Src{
				{Use: true, Reg: 1, Swizzle: BroadcastSwizzle(2), Neg: true, RGroup: RGroupTemp},
				UniformSrc(7),
				{Use: true, Reg: 3, Swizzle: SwizzleXYZW, Abs: true, RGroup: RGroupTemp},
			},
		},
		{
			Opcode: OpSelect,
			Cond:   CondLT,
			Dst:    Dst{Use: true, Reg: 1, WriteMask: 0xf},
			Src:    [3]Src{TempSrc(2), TempSrc(3), TempSrc(2)},
		},
		{
			Opcode: OpSet,
			Cond:   CondEQ,
			Dst:    Dst{Use: true, Reg: 0, WriteMask: 0x1},
			Src:    [3]Src{TempSrc(4), UniformSrc(0)},
		},
		{
			Opcode: OpI2F,
			Type:   TypeS32,
			Dst:    Dst{Use: true, Reg: 3, WriteMask: 0x1},
			Src:    [3]Src{TempSrc(6)},
		},
		{
			Opcode: OpF2I,
			Type:   TypeU32,
			Dst:    Dst{Use: true, Reg: 3, WriteMask: 0x1},
			Src:    [3]Src{TempSrc(6)},
		},
		{
			Opcode: OpTexLd,
			Dst:    Dst{Use: true, Reg: 1, WriteMask: 0xf},
			Tex:    Tex{ID: 3, Swizzle: SwizzleXYZW},
			Src:    [3]Src{TempSrc(0)},
		},
		{Opcode: OpBranch, Cond: CondNot, Type: TypeU32, Src: [3]Src{TempSrc(1)}, Imm: 17},
		{Opcode: OpTexKill, Cond: CondGZ, Src: [3]Src{TempSrc(0)}},
		{
			Opcode: OpDp2, // opcode 0x73 exercises the 7th opcode bit
			Dst:    Dst{Use: true, Reg: 4, WriteMask: 0xf},
			Src:    [3]Src{TempSrc(1), TempSrc(2)},
		},
		{
			Opcode: OpMov,
			Dst:    Dst{Use: true, Reg: 0, WriteMask: 0xf},
			Src:    [3]Src{{Use: true, Reg: 0, Swizzle: SwizzleXYZW, RGroup: RGroupInternal}},
		},
	}
}

func TestAssembleRoundTrip(t *testing.T) {
	for _, halti5 := range []bool{false, true} {
		for _, in := range sampleInsts() {
			w, err := Assemble(in, halti5)
			require.NoError(t, err, "%v halti5=%v", in, halti5)

			back := Disassemble(w, halti5)

			// Branches have no third source in the encoding.
			want := in
			if in.Opcode == OpBranch {
				want.Src[2] = Src{}
			}

			require.Equal(t, want, back, "%v halti5=%v", in, halti5)
		}
	}
}

func TestAssembleDeterministic(t *testing.T) {
	in := sampleInsts()[2]

	a, err := Assemble(in, false)
	require.NoError(t, err)
	b, err := Assemble(in, false)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestAssembleLayoutsDiffer(t *testing.T) {
	in := sampleInsts()[1]

	legacy, err := Assemble(in, false)
	require.NoError(t, err)
	h5, err := Assemble(in, true)
	require.NoError(t, err)
	require.NotEqual(t, legacy, h5)
}

func TestAssembleFieldOverflow(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   Inst
	}{
		{"dst reg", Inst{Opcode: OpMov, Dst: Dst{Use: true, Reg: 200, WriteMask: 0xf}, Src: [3]Src{TempSrc(0)}}},
		{"src reg", Inst{Opcode: OpMov, Dst: Dst{Use: true, Reg: 0, WriteMask: 0xf}, Src: [3]Src{TempSrc(2000)}}},
		{"tex id", Inst{Opcode: OpTexLd, Dst: Dst{Use: true, WriteMask: 0xf}, Tex: Tex{ID: 40}, Src: [3]Src{TempSrc(0)}}},
		{"branch target", Inst{Opcode: OpBranch, Imm: 1 << 21}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Assemble(tc.in, false)
			require.Error(t, err)
		})
	}
}

func TestInstString(t *testing.T) {
	in := sampleInsts()[2]
	s := in.String()
	require.Contains(t, s, "mad.sat")
	require.Contains(t, s, "-t1.zzzz")
	require.Contains(t, s, "|t3.xyzw|")
	require.Contains(t, s, "u7.xyzw")
}
