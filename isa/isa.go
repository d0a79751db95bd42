// Package isa models the Vivante shader instruction set: the hardware
// opcode space, condition codes, operand addressing, and the bit-exact
// binary form. It is the only package that knows instruction word
// layouts; everything upstream works on symbolic operands.
package isa

// Opcode is the 7-bit hardware opcode.
type Opcode uint8

const (
	OpNop     Opcode = 0x00
	OpAdd     Opcode = 0x01
	OpMad     Opcode = 0x02
	OpMul     Opcode = 0x03
	OpDp3     Opcode = 0x05
	OpDp4     Opcode = 0x06
	OpDsx     Opcode = 0x07
	OpDsy     Opcode = 0x08
	OpMov     Opcode = 0x09
	OpMovAR   Opcode = 0x0b
	OpRcp     Opcode = 0x0c
	OpRsq     Opcode = 0x0d
	OpSelect  Opcode = 0x0f
	OpSet     Opcode = 0x10
	OpExp     Opcode = 0x11
	OpLog     Opcode = 0x12
	OpFrc     Opcode = 0x13
	OpBranch  Opcode = 0x16
	OpTexKill Opcode = 0x17
	OpTexLd   Opcode = 0x18
	OpTexLdB  Opcode = 0x19
	OpTexLdL  Opcode = 0x1b
	OpSqrt    Opcode = 0x21
	OpSin     Opcode = 0x22
	OpCos     Opcode = 0x23
	OpFloor   Opcode = 0x25
	OpCeil    Opcode = 0x26
	OpSign    Opcode = 0x27
	OpI2F     Opcode = 0x2d
	OpF2I     Opcode = 0x2e
	OpLoad    Opcode = 0x32
	OpDiv     Opcode = 0x64
	OpDp2     Opcode = 0x73
)

var opcodeNames = map[Opcode]string{
	OpNop: "nop", OpAdd: "add", OpMad: "mad", OpMul: "mul",
	OpDp3: "dp3", OpDp4: "dp4", OpDsx: "dsx", OpDsy: "dsy",
	OpMov: "mov", OpMovAR: "movar",
	OpRcp: "rcp", OpRsq: "rsq", OpSelect: "select",
	OpSet: "set", OpExp: "exp", OpLog: "log", OpFrc: "frc",
	OpBranch: "branch", OpTexKill: "texkill",
	OpTexLd: "texld", OpTexLdB: "texldb", OpTexLdL: "texldl",
	OpSqrt: "sqrt", OpSin: "sin", OpCos: "cos",
	OpFloor: "floor", OpCeil: "ceil", OpSign: "sign",
	OpI2F: "i2f", OpF2I: "f2i", OpLoad: "load",
	OpDiv: "div", OpDp2: "dp2",
}

func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return "op?"
}

// Cond is the per-instruction condition code. ALU instructions execute
// unconditionally with CondTrue; SET and SELECT use the condition as
// their comparison; BRANCH takes the branch when the condition holds.
type Cond uint8

const (
	CondTrue Cond = iota
	CondGT
	CondLT
	CondGE
	CondLE
	CondEQ
	CondNE
	CondAnd
	CondOr
	CondXor
	CondNot
	CondNZ
	CondGEZ
	CondGZ
	CondLEZ
	CondLZ
)

var condNames = [16]string{
	"true", "gt", "lt", "ge", "le", "eq", "ne",
	"and", "or", "xor", "not", "nz", "gez", "gz", "lez", "lz",
}

func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return "cond?"
}

// Type is the 3-bit numeric type tag.
type Type uint8

const (
	TypeF32 Type = 0
	TypeS32 Type = 1
	TypeU32 Type = 6
)

func (t Type) String() string {
	switch t {
	case TypeF32:
		return "f32"
	case TypeS32:
		return "s32"
	case TypeU32:
		return "u32"
	default:
		return "type?"
	}
}

// RGroup selects the register file a source operand reads from.
type RGroup uint8

const (
	RGroupTemp     RGroup = 0
	RGroupInternal RGroup = 1 // front-face flag and friends
	RGroupUniform  RGroup = 2
)

func (g RGroup) String() string {
	switch g {
	case RGroupTemp:
		return "t"
	case RGroupInternal:
		return "i"
	case RGroupUniform:
		return "u"
	default:
		return "g?"
	}
}

// AMode selects direct or address-register-relative operand
// addressing. Relative addressing indexes by one lane of the address
// register, written by MOVAR.
type AMode uint8

const (
	ADirect AMode = 0
	AAddrX  AMode = 1
	AAddrY  AMode = 2
	AAddrZ  AMode = 3
	AAddrW  AMode = 4
)

// Swizzle packs four 2-bit source lane selectors, lane 0 low.
type Swizzle uint8

// SwizzleXYZW selects all lanes in order.
const SwizzleXYZW Swizzle = 0xe4

// BroadcastSwizzle replicates one lane into all four.
func BroadcastSwizzle(lane int) Swizzle {
	l := Swizzle(lane & 3)
	return l | l<<2 | l<<4 | l<<6
}

func (s Swizzle) String() string {
	const names = "xyzw"
	b := make([]byte, 4)
	for i := 0; i < 4; i++ {
		b[i] = names[(s>>(2*uint(i)))&3]
	}
	return string(b)
}
