package isa

// Dst is a fully allocated destination operand.
type Dst struct {
	Use       bool
	Reg       uint32
	WriteMask uint8
}

// Src is a fully allocated source operand.
type Src struct {
	Use     bool
	Reg     uint32
	Swizzle Swizzle
	Neg     bool
	Abs     bool
	RGroup  RGroup
	AMode   AMode
}

// Tex is the sampler operand of texture instructions.
type Tex struct {
	ID      uint32
	Swizzle Swizzle
}

// Inst is one fully allocated hardware instruction, the input to
// Assemble. Imm is the absolute instruction pointer for branch
// targets.
type Inst struct {
	Opcode   Opcode
	Cond     Cond
	Type     Type
	Saturate bool

	Dst Dst
	Tex Tex
	Src [3]Src

	Imm uint32
}

// TempSrc builds a temporary-register source with the identity
// swizzle.
func TempSrc(reg uint32) Src {
	return Src{Use: true, Reg: reg, Swizzle: SwizzleXYZW, RGroup: RGroupTemp}
}

// UniformSrc builds a uniform-slot source with the identity swizzle.
func UniformSrc(slot uint32) Src {
	return Src{Use: true, Reg: slot, Swizzle: SwizzleXYZW, RGroup: RGroupUniform}
}
