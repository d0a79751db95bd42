package ir

// Op is the closed operation set of the IR. The emission table maps
// each op to a hardware opcode; ops past the ALU group are intrinsics
// with dedicated emission paths.
type Op uint8

const (
	OpNop Op = iota // tombstone left by instruction removal

	OpConst // immediate constant, up to 4 words
	OpUndef // undefined value

	OpMov
	OpFNeg
	OpFAbs
	OpFAdd
	OpFMul
	OpFFma
	OpFDiv
	OpFDot2
	OpFDot3
	OpFDot4
	OpFMin
	OpFMax
	OpFFract
	OpFFloor
	OpFCeil
	OpFSign
	OpFRcp
	OpFRsq
	OpFSqrt
	OpFSin
	OpFCos
	OpFLog2
	OpFExp2
	OpSetEQ
	OpSetNE
	OpSetGE
	OpSetLT
	OpSelect
	OpDdx
	OpDdy
	OpI2F
	OpF2U
	OpVec2
	OpVec3
	OpVec4
	OpPhi

	OpLoadInput      // Index: input variable index
	OpLoadUniform    // Index: uniform base; negative bases key texcoord scales
	OpLoadInstanceID // hardware-provided instance counter (integer)
	OpLoadFrontFace  // hardware front-face flag
	OpStoreOutput    // Index: output variable index; Src[0]: value

	OpTexSample     // Src[0]: coordinate
	OpTexSampleBias // Src[0]: coordinate, Src[1]: bias
	OpTexSampleLod  // Src[0]: coordinate, Src[1]: lod

	OpBranch       // unconditional, Target
	OpBranchIfZero // taken when Src[0] == 0, Target
	OpDiscard
	OpDiscardIf // discards when Src[0] > 0

	opCount
)

var opNames = [opCount]string{
	OpNop: "nop", OpConst: "const", OpUndef: "undef",
	OpMov: "mov", OpFNeg: "fneg", OpFAbs: "fabs",
	OpFAdd: "fadd", OpFMul: "fmul", OpFFma: "ffma", OpFDiv: "fdiv",
	OpFDot2: "fdot2", OpFDot3: "fdot3", OpFDot4: "fdot4",
	OpFMin: "fmin", OpFMax: "fmax", OpFFract: "ffract",
	OpFFloor: "ffloor", OpFCeil: "fceil", OpFSign: "fsign",
	OpFRcp: "frcp", OpFRsq: "frsq", OpFSqrt: "fsqrt",
	OpFSin: "fsin", OpFCos: "fcos", OpFLog2: "flog2", OpFExp2: "fexp2",
	OpSetEQ: "seq", OpSetNE: "sne", OpSetGE: "sge", OpSetLT: "slt",
	OpSelect: "select", OpDdx: "ddx", OpDdy: "ddy",
	OpI2F: "i2f", OpF2U: "f2u",
	OpVec2: "vec2", OpVec3: "vec3", OpVec4: "vec4", OpPhi: "phi",
	OpLoadInput: "load_input", OpLoadUniform: "load_uniform",
	OpLoadInstanceID: "load_instance_id", OpLoadFrontFace: "load_front_face",
	OpStoreOutput: "store_output",
	OpTexSample:   "tex", OpTexSampleBias: "txb", OpTexSampleLod: "txl",
	OpBranch: "branch", OpBranchIfZero: "branch_if_zero",
	OpDiscard: "discard", OpDiscardIf: "discard_if",
}

func (o Op) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}
	return "op?"
}

// ParseOp is the inverse of Op.String.
func ParseOp(name string) (Op, bool) {
	for o, n := range opNames {
		if n == name {
			return Op(o), true
		}
	}
	return OpNop, false
}

// NumSrcs returns how many source slots the op reads.
func (o Op) NumSrcs() int {
	switch o {
	case OpNop, OpConst, OpUndef, OpLoadInput, OpLoadInstanceID,
		OpLoadFrontFace, OpBranch, OpDiscard:
		return 0
	case OpMov, OpFNeg, OpFAbs, OpFFract, OpFFloor, OpFCeil, OpFSign,
		OpFRcp, OpFRsq, OpFSqrt, OpFSin, OpFCos, OpFLog2, OpFExp2,
		OpDdx, OpDdy, OpI2F, OpF2U, OpStoreOutput, OpTexSample,
		OpBranchIfZero, OpDiscardIf:
		return 1
	case OpFAdd, OpFMul, OpFDiv, OpFDot2, OpFDot3, OpFDot4, OpFMin,
		OpFMax, OpSetEQ, OpSetNE, OpSetGE, OpSetLT, OpVec2,
		OpTexSampleBias, OpTexSampleLod:
		return 2
	case OpFFma, OpSelect, OpVec3:
		return 3
	case OpVec4:
		return 4 // fourth slot is Inst.Src3
	case OpLoadUniform:
		return 1 // optional dynamic offset
	case OpPhi:
		return 3 // up to one source per predecessor
	default:
		return 0
	}
}

// HasDest reports whether the op produces a value.
func (o Op) HasDest() bool {
	switch o {
	case OpNop, OpStoreOutput, OpBranch, OpBranchIfZero, OpDiscard, OpDiscardIf:
		return false
	}
	return true
}

// IsPure reports whether the op has no side effects and may be removed
// when its value is unused, or deduplicated by CSE.
func (o Op) IsPure() bool {
	switch o {
	case OpStoreOutput, OpBranch, OpBranchIfZero, OpDiscard, OpDiscardIf, OpNop:
		return false
	case OpPhi:
		// Pure, but identity depends on position; excluded from CSE
		// separately.
		return true
	}
	return true
}

// IsTerminator reports whether the op ends a basic block.
func (o Op) IsTerminator() bool {
	return o == OpBranch || o == OpBranchIfZero
}

// ConstType tags the content of a constant word for the uniform table.
type ConstType uint8

const (
	ConstFloat ConstType = iota
	ConstInt
)

// SrcKind discriminates source operand slots.
type SrcKind uint8

const (
	SrcNone SrcKind = iota
	SrcValue
)

// Src is one typed source operand: a reference to an SSA value with a
// per-lane swizzle and negate/absolute modifiers. Absolute is applied
// before negate.
type Src struct {
	Kind    SrcKind
	Value   ValueHandle
	Swizzle Swizzle
	Neg     bool
	Abs     bool
}

// UseValue references a value with the identity swizzle.
func UseValue(v ValueHandle) Src {
	return Src{Kind: SrcValue, Value: v, Swizzle: SwizzleIdentity}
}

// UseLane references a single lane of a value, broadcast to all lanes.
func UseLane(v ValueHandle, lane int) Src {
	return Src{Kind: SrcValue, Value: v, Swizzle: SwizzleBroadcast(lane)}
}

// UseSwiz references a value through an explicit swizzle.
func UseSwiz(v ValueHandle, swiz Swizzle) Src {
	return Src{Kind: SrcValue, Value: v, Swizzle: swiz}
}

// Inst is one instruction node. Which payload fields are meaningful
// depends on Op; unused fields stay zero.
type Inst struct {
	Op    Op
	Block BlockHandle

	// Dest is the produced value, NoValue for ops without one.
	// WriteMask selects destination lanes; the zero value means all
	// lanes of the destination.
	Dest      ValueHandle
	WriteMask uint8
	Saturate  bool

	Src [3]Src

	// Src3 is the fourth source of OpVec4 only; every other op uses
	// at most three sources, matching the hardware source slots.
	Src3 Src

	// OpConst payload: NumComponents words and their content tag.
	Words     [4]uint32
	ConstType ConstType

	// Intrinsic payload.
	Index   int  // io variable index or uniform base
	Sampler int  // texture unit, pairs the sampler and texture
	Rect    bool // texture-rectangle sampling (unnormalized coords)

	// Control flow payload.
	Target    BlockHandle
	PhiBlocks [3]BlockHandle // predecessor block per phi source
}

// srcSlots returns the number of source slots to scan for an
// instruction, accounting for vec4's fourth source.
func srcSlots(in *Inst) int {
	if in.Op == OpVec4 {
		return 4
	}
	return 3
}

// instSrc returns a pointer to source slot i, where slot 3 is Src3.
func instSrc(in *Inst, i int) *Src {
	if i == 3 {
		return &in.Src3
	}
	return &in.Src[i]
}
