package emit

import (
	"github.com/gogpu/vivante/ir"
	"github.com/gogpu/vivante/isa"
)

// absent marks an unused hardware source slot in a permutation.
const absent = 0xff

// opInfo maps a normalized IR op onto the hardware instruction that
// implements it.
type opInfo struct {
	opcode isa.Opcode
	cond   isa.Cond
	typ    isa.Type

	// perm[hwSlot] selects the IR source feeding each of the three
	// hardware source slots.
	perm [3]uint8

	// scalar ops compute one component: the hardware broadcasts the
	// sources from the lane matching the lowest set destination
	// write-mask bit.
	scalar bool
}

var unary = [3]uint8{absent, absent, 0}

var opTable = map[ir.Op]opInfo{
	ir.OpMov:  {opcode: isa.OpMov, perm: unary},
	ir.OpFAdd: {opcode: isa.OpAdd, perm: [3]uint8{0, absent, 1}},
	ir.OpFMul: {opcode: isa.OpMul, perm: [3]uint8{0, 1, absent}},
	ir.OpFFma: {opcode: isa.OpMad, perm: [3]uint8{0, 1, 2}},
	ir.OpFDiv: {opcode: isa.OpDiv, perm: [3]uint8{0, 1, absent}, scalar: true},

	ir.OpFDot2: {opcode: isa.OpDp2, perm: [3]uint8{0, 1, absent}},
	ir.OpFDot3: {opcode: isa.OpDp3, perm: [3]uint8{0, 1, absent}},
	ir.OpFDot4: {opcode: isa.OpDp4, perm: [3]uint8{0, 1, absent}},

	ir.OpFMin:   {opcode: isa.OpSelect, cond: isa.CondGT, perm: [3]uint8{0, 1, 0}},
	ir.OpFMax:   {opcode: isa.OpSelect, cond: isa.CondLT, perm: [3]uint8{0, 1, 0}},
	ir.OpSelect: {opcode: isa.OpSelect, cond: isa.CondNZ, perm: [3]uint8{0, 1, 2}},

	ir.OpFFract: {opcode: isa.OpFrc, perm: unary},
	ir.OpFFloor: {opcode: isa.OpFloor, perm: unary},
	ir.OpFCeil:  {opcode: isa.OpCeil, perm: unary},
	ir.OpFSign:  {opcode: isa.OpSign, perm: unary},

	ir.OpFRcp:  {opcode: isa.OpRcp, perm: unary, scalar: true},
	ir.OpFRsq:  {opcode: isa.OpRsq, perm: unary, scalar: true},
	ir.OpFSqrt: {opcode: isa.OpSqrt, perm: unary, scalar: true},
	ir.OpFSin:  {opcode: isa.OpSin, perm: unary, scalar: true},
	ir.OpFCos:  {opcode: isa.OpCos, perm: unary, scalar: true},
	ir.OpFLog2: {opcode: isa.OpLog, perm: unary, scalar: true},
	ir.OpFExp2: {opcode: isa.OpExp, perm: unary, scalar: true},

	ir.OpSetEQ: {opcode: isa.OpSet, cond: isa.CondEQ, perm: [3]uint8{0, 1, absent}},
	ir.OpSetNE: {opcode: isa.OpSet, cond: isa.CondNE, perm: [3]uint8{0, 1, absent}},
	ir.OpSetGE: {opcode: isa.OpSet, cond: isa.CondGE, perm: [3]uint8{0, 1, absent}},
	ir.OpSetLT: {opcode: isa.OpSet, cond: isa.CondLT, perm: [3]uint8{0, 1, absent}},

	ir.OpDdx: {opcode: isa.OpDsx, perm: [3]uint8{0, absent, 0}},
	ir.OpDdy: {opcode: isa.OpDsy, perm: [3]uint8{0, absent, 0}},

	// Converts read hardware slot 0, unlike the other single-source ops.
	ir.OpI2F: {opcode: isa.OpI2F, typ: isa.TypeS32, perm: [3]uint8{0, absent, absent}, scalar: true},
	ir.OpF2U: {opcode: isa.OpF2I, typ: isa.TypeU32, perm: [3]uint8{0, absent, absent}, scalar: true},
}
