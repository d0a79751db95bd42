package isa

import (
	"fmt"
	"strings"

	"tlog.app/go/errors"
)

// Word counts of the fixed-width encoding.
const (
	InstWords = 4
	InstBytes = InstWords * 4
)

// Field widths shared by both layouts.
const (
	dstRegBits = 7
	texIDBits  = 5
)

// Source register widths differ between the layouts: the reworked
// encoding grew the source register fields by one bit.
const (
	srcRegBitsLegacy = 9
	srcRegBitsH5     = 10

	immBitsLegacy = 20
	immBitsH5     = 24
)

type packer struct {
	w   [InstWords]uint32
	err error
}

func (p *packer) put(word int, shift, width uint, v uint32, name string) {
	if width < 32 && v >= 1<<width {
		if p.err == nil {
			p.err = errors.New("%v overflows %d-bit field (value %d)", name, width, v)
		}
		return
	}
	p.w[word] |= v << shift
}

func (p *packer) bit(word int, shift uint, v bool) {
	if v {
		p.w[word] |= 1 << shift
	}
}

// Assemble packs one allocated instruction into its binary form.
// The halti5 flag selects between the two mutually exclusive word
// layouts; they never coexist in one program. Assemble fails only on
// field overflow, which indicates an allocation bug upstream.
func Assemble(in Inst, halti5 bool) ([InstWords]uint32, error) {
	var p packer

	if halti5 {
		p.packH5(in)
	} else {
		p.packLegacy(in)
	}

	if p.err != nil {
		return [InstWords]uint32{}, errors.Wrap(p.err, "%v", in.Opcode)
	}

	return p.w, nil
}

func (p *packer) packLegacy(in Inst) {
	p.put(0, 0, 6, uint32(in.Opcode)&0x3f, "opcode")
	p.bit(2, 16, in.Opcode&0x40 != 0)
	p.put(0, 6, 5, uint32(in.Cond), "cond")
	p.bit(0, 11, in.Saturate)

	p.bit(0, 12, in.Dst.Use)
	p.put(0, 16, dstRegBits, in.Dst.Reg, "dst reg")
	p.put(0, 23, 4, uint32(in.Dst.WriteMask), "write mask")

	p.put(0, 27, texIDBits, in.Tex.ID, "tex id")
	p.put(1, 3, 8, uint32(in.Tex.Swizzle), "tex swizzle")

	// Type splits: low two bits in word 2, the third in word 1.
	p.put(2, 30, 2, uint32(in.Type)&3, "type")
	p.bit(1, 21, in.Type&4 != 0)

	p.bit(1, 11, in.Src[0].Use)
	p.put(1, 12, srcRegBitsLegacy, in.Src[0].Reg, "src0 reg")
	p.put(1, 22, 8, uint32(in.Src[0].Swizzle), "src0 swizzle")
	p.bit(1, 30, in.Src[0].Neg)
	p.bit(1, 31, in.Src[0].Abs)
	p.put(2, 0, 3, uint32(in.Src[0].AMode), "src0 amode")
	p.put(2, 3, 3, uint32(in.Src[0].RGroup), "src0 rgroup")

	p.bit(2, 6, in.Src[1].Use)
	p.put(2, 7, srcRegBitsLegacy, in.Src[1].Reg, "src1 reg")
	p.put(2, 17, 8, uint32(in.Src[1].Swizzle), "src1 swizzle")
	p.bit(2, 25, in.Src[1].Neg)
	p.bit(2, 26, in.Src[1].Abs)
	p.put(2, 27, 3, uint32(in.Src[1].AMode), "src1 amode")
	p.put(3, 0, 3, uint32(in.Src[1].RGroup), "src1 rgroup")

	// The branch target immediate overlays the src2 fields; branches
	// never carry a third source.
	if in.Opcode == OpBranch {
		p.put(3, 4, immBitsLegacy, in.Imm, "branch target")
		return
	}

	p.bit(3, 3, in.Src[2].Use)
	p.put(3, 4, srcRegBitsLegacy, in.Src[2].Reg, "src2 reg")
	p.put(3, 14, 8, uint32(in.Src[2].Swizzle), "src2 swizzle")
	p.bit(3, 22, in.Src[2].Neg)
	p.bit(3, 23, in.Src[2].Abs)
	p.put(3, 25, 3, uint32(in.Src[2].AMode), "src2 amode")
	p.put(3, 28, 3, uint32(in.Src[2].RGroup), "src2 rgroup")
}

func (p *packer) packH5(in Inst) {
	p.put(0, 0, 7, uint32(in.Opcode), "opcode")
	p.put(0, 7, 5, uint32(in.Cond), "cond")
	p.put(0, 12, 3, uint32(in.Type), "type")
	p.bit(0, 15, in.Saturate)

	p.bit(0, 16, in.Dst.Use)
	p.put(0, 17, dstRegBits, in.Dst.Reg, "dst reg")
	p.put(0, 24, 4, uint32(in.Dst.WriteMask), "write mask")

	p.put(1, 0, texIDBits, in.Tex.ID, "tex id")
	p.put(1, 5, 8, uint32(in.Tex.Swizzle), "tex swizzle")

	p.bit(1, 13, in.Src[0].Use)
	p.put(1, 14, srcRegBitsH5, in.Src[0].Reg, "src0 reg")
	p.put(1, 24, 8, uint32(in.Src[0].Swizzle), "src0 swizzle")
	p.bit(2, 0, in.Src[0].Neg)
	p.bit(2, 1, in.Src[0].Abs)
	p.put(2, 2, 3, uint32(in.Src[0].RGroup), "src0 rgroup")

	p.bit(2, 5, in.Src[1].Use)
	p.put(2, 6, srcRegBitsH5, in.Src[1].Reg, "src1 reg")
	p.put(2, 16, 8, uint32(in.Src[1].Swizzle), "src1 swizzle")
	p.bit(2, 24, in.Src[1].Neg)
	p.bit(2, 25, in.Src[1].Abs)
	p.put(2, 26, 3, uint32(in.Src[1].RGroup), "src1 rgroup")
	p.put(2, 29, 3, uint32(in.Src[1].AMode), "src1 amode")

	// The branch immediate owns the upper bits of word 3; branch
	// conditions are always direct temps, so no amode is lost.
	if in.Opcode == OpBranch {
		p.put(3, 8, immBitsH5, in.Imm, "branch target")
		return
	}

	p.bit(3, 0, in.Src[2].Use)
	p.put(3, 1, srcRegBitsH5, in.Src[2].Reg, "src2 reg")
	p.put(3, 11, 8, uint32(in.Src[2].Swizzle), "src2 swizzle")
	p.bit(3, 19, in.Src[2].Neg)
	p.bit(3, 20, in.Src[2].Abs)
	p.put(3, 21, 3, uint32(in.Src[2].RGroup), "src2 rgroup")
	p.put(3, 24, 3, uint32(in.Src[0].AMode), "src0 amode")
	p.put(3, 27, 3, uint32(in.Src[2].AMode), "src2 amode")
}

func get(w uint32, shift, width uint) uint32 {
	return (w >> shift) & (1<<width - 1)
}

// Disassemble unpacks an encoded instruction. It is the inverse of
// Assemble for well-formed words and exists for debug dumps and tests.
func Disassemble(w [InstWords]uint32, halti5 bool) Inst {
	if halti5 {
		return disasmH5(w)
	}
	return disasmLegacy(w)
}

func disasmLegacy(w [InstWords]uint32) Inst {
	in := Inst{
		Opcode:   Opcode(get(w[0], 0, 6) | get(w[2], 16, 1)<<6),
		Cond:     Cond(get(w[0], 6, 5)),
		Type:     Type(get(w[2], 30, 2) | get(w[1], 21, 1)<<2),
		Saturate: get(w[0], 11, 1) != 0,
		Dst: Dst{
			Use:       get(w[0], 12, 1) != 0,
			Reg:       get(w[0], 16, dstRegBits),
			WriteMask: uint8(get(w[0], 23, 4)),
		},
		Tex: Tex{
			ID:      get(w[0], 27, texIDBits),
			Swizzle: Swizzle(get(w[1], 3, 8)),
		},
	}

	in.Src[0] = Src{
		Use:     get(w[1], 11, 1) != 0,
		Reg:     get(w[1], 12, srcRegBitsLegacy),
		Swizzle: Swizzle(get(w[1], 22, 8)),
		Neg:     get(w[1], 30, 1) != 0,
		Abs:     get(w[1], 31, 1) != 0,
		RGroup:  RGroup(get(w[2], 3, 3)),
		AMode:   AMode(get(w[2], 0, 3)),
	}
	in.Src[1] = Src{
		Use:     get(w[2], 6, 1) != 0,
		Reg:     get(w[2], 7, srcRegBitsLegacy),
		Swizzle: Swizzle(get(w[2], 17, 8)),
		Neg:     get(w[2], 25, 1) != 0,
		Abs:     get(w[2], 26, 1) != 0,
		RGroup:  RGroup(get(w[3], 0, 3)),
		AMode:   AMode(get(w[2], 27, 3)),
	}

	if in.Opcode == OpBranch {
		in.Imm = get(w[3], 4, immBitsLegacy)
		return in
	}

	in.Src[2] = Src{
		Use:     get(w[3], 3, 1) != 0,
		Reg:     get(w[3], 4, srcRegBitsLegacy),
		Swizzle: Swizzle(get(w[3], 14, 8)),
		Neg:     get(w[3], 22, 1) != 0,
		Abs:     get(w[3], 23, 1) != 0,
		RGroup:  RGroup(get(w[3], 28, 3)),
		AMode:   AMode(get(w[3], 25, 3)),
	}

	return in
}

func disasmH5(w [InstWords]uint32) Inst {
	in := Inst{
		Opcode:   Opcode(get(w[0], 0, 7)),
		Cond:     Cond(get(w[0], 7, 5)),
		Type:     Type(get(w[0], 12, 3)),
		Saturate: get(w[0], 15, 1) != 0,
		Dst: Dst{
			Use:       get(w[0], 16, 1) != 0,
			Reg:       get(w[0], 17, dstRegBits),
			WriteMask: uint8(get(w[0], 24, 4)),
		},
		Tex: Tex{
			ID:      get(w[1], 0, texIDBits),
			Swizzle: Swizzle(get(w[1], 5, 8)),
		},
	}

	in.Src[0] = Src{
		Use:     get(w[1], 13, 1) != 0,
		Reg:     get(w[1], 14, srcRegBitsH5),
		Swizzle: Swizzle(get(w[1], 24, 8)),
		Neg:     get(w[2], 0, 1) != 0,
		Abs:     get(w[2], 1, 1) != 0,
		RGroup:  RGroup(get(w[2], 2, 3)),
	}
	in.Src[1] = Src{
		Use:     get(w[2], 5, 1) != 0,
		Reg:     get(w[2], 6, srcRegBitsH5),
		Swizzle: Swizzle(get(w[2], 16, 8)),
		Neg:     get(w[2], 24, 1) != 0,
		Abs:     get(w[2], 25, 1) != 0,
		RGroup:  RGroup(get(w[2], 26, 3)),
		AMode:   AMode(get(w[2], 29, 3)),
	}

	if in.Opcode == OpBranch {
		in.Imm = get(w[3], 8, immBitsH5)
		return in
	}

	in.Src[0].AMode = AMode(get(w[3], 24, 3))
	in.Src[2] = Src{
		Use:     get(w[3], 0, 1) != 0,
		Reg:     get(w[3], 1, srcRegBitsH5),
		Swizzle: Swizzle(get(w[3], 11, 8)),
		Neg:     get(w[3], 19, 1) != 0,
		Abs:     get(w[3], 20, 1) != 0,
		RGroup:  RGroup(get(w[3], 21, 3)),
		AMode:   AMode(get(w[3], 27, 3)),
	}

	return in
}

// String renders an instruction in assembly-like form for debug dumps.
func (in Inst) String() string {
	var sb strings.Builder

	sb.WriteString(in.Opcode.String())
	if in.Cond != CondTrue {
		fmt.Fprintf(&sb, ".%v", in.Cond)
	}
	if in.Type != TypeF32 {
		fmt.Fprintf(&sb, ".%v", in.Type)
	}
	if in.Saturate {
		sb.WriteString(".sat")
	}

	if in.Dst.Use {
		fmt.Fprintf(&sb, " t%d", in.Dst.Reg)
		if in.Dst.WriteMask != 0xf {
			sb.WriteByte('.')
			const names = "xyzw"
			for i := 0; i < 4; i++ {
				if in.Dst.WriteMask&(1<<uint(i)) != 0 {
					sb.WriteByte(names[i])
				}
			}
		}
		sb.WriteByte(',')
	}

	switch in.Opcode {
	case OpTexLd, OpTexLdB, OpTexLdL:
		fmt.Fprintf(&sb, " tex%d.%v,", in.Tex.ID, in.Tex.Swizzle)
	case OpBranch:
		fmt.Fprintf(&sb, " %d", in.Imm)
	}

	for i := range in.Src {
		s := in.Src[i]
		if !s.Use {
			continue
		}

		sb.WriteByte(' ')
		if s.Neg {
			sb.WriteByte('-')
		}
		if s.Abs {
			sb.WriteByte('|')
		}
		fmt.Fprintf(&sb, "%v%d.%v", s.RGroup, s.Reg, s.Swizzle)
		if s.Abs {
			sb.WriteByte('|')
		}
	}

	return sb.String()
}
