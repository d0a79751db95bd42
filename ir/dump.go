package ir

import (
	"fmt"
	"strings"
)

// Dump renders the program as text, one instruction per line. Meant for
// debug logging and golden tests, not for round-tripping.
func (p *Program) Dump() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%v shader: %d inputs, %d outputs\n", p.Stage, len(p.Inputs), len(p.Outputs))

	for bi := range p.blocks {
		b := BlockHandle(bi)
		fmt.Fprintf(&sb, "b%d:\n", b)

		for _, h := range p.blocks[b].Code {
			in := &p.insts[h]
			if in.Op == OpNop {
				continue
			}

			sb.WriteString("  ")
			p.dumpInst(&sb, h)
			sb.WriteByte('\n')
		}
	}

	return sb.String()
}

func (p *Program) dumpInst(sb *strings.Builder, h InstHandle) {
	in := &p.insts[h]

	if in.Dest != NoValue {
		fmt.Fprintf(sb, "v%d", in.Dest)
		if in.WriteMask != 0 {
			sb.WriteByte('.')
			for i := 0; i < 4; i++ {
				if in.WriteMask&(1<<uint(i)) != 0 {
					sb.WriteByte(laneNames[i])
				}
			}
		}
		sb.WriteString(" = ")
	}

	sb.WriteString(in.Op.String())
	if in.Saturate {
		sb.WriteString(".sat")
	}

	switch in.Op {
	case OpConst:
		nc := int(p.values[in.Dest].NumComponents)
		for i := 0; i < nc; i++ {
			fmt.Fprintf(sb, " 0x%x", in.Words[i])
		}
		return
	case OpLoadInput, OpLoadUniform, OpStoreOutput:
		fmt.Fprintf(sb, " [%d]", in.Index)
	case OpTexSample, OpTexSampleBias, OpTexSampleLod:
		fmt.Fprintf(sb, " s%d", in.Sampler)
		if in.Rect {
			sb.WriteString(" rect")
		}
	case OpBranch, OpBranchIfZero:
		fmt.Fprintf(sb, " b%d", in.Target)
	}

	for i := 0; i < srcSlots(in); i++ {
		s := instSrc(in, i)
		if s.Kind != SrcValue {
			continue
		}

		sb.WriteByte(' ')
		if in.Op == OpPhi {
			fmt.Fprintf(sb, "[b%d: ", in.PhiBlocks[i])
		}
		if s.Neg {
			sb.WriteByte('-')
		}
		if s.Abs {
			sb.WriteByte('|')
		}
		fmt.Fprintf(sb, "v%d", s.Value)
		if s.Swizzle != SwizzleIdentity {
			fmt.Fprintf(sb, ".%v", s.Swizzle)
		}
		if s.Abs {
			sb.WriteByte('|')
		}
		if in.Op == OpPhi {
			sb.WriteByte(']')
		}
	}
}
