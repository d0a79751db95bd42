package vivante

import (
	"fmt"
	"io"
	"math"

	"github.com/gogpu/vivante/ir"
	"github.com/gogpu/vivante/isa"
)

// Dump writes a human-readable listing of the variant: disassembly,
// immediates, register maps and the stage scalars. Debugging aid only;
// the format is not stable.
func (v *Variant) Dump(w io.Writer) {
	if v.Stage == ir.StageVertex {
		fmt.Fprintf(w, "VERT\n")
	} else {
		fmt.Fprintf(w, "FRAG\n")
	}

	for i := 0; i < v.InstCount; i++ {
		var words [isa.InstWords]uint32
		copy(words[:], v.Code[i*isa.InstWords:])

		fmt.Fprintf(w, "%3d: %v\n", i, isa.Disassemble(words, v.halti5))
	}

	fmt.Fprintf(w, "num temps: %d\n", v.NumTemps)
	fmt.Fprintf(w, "immediates:\n")

	const lanes = "xyzw"

	for i, word := range v.Immediates {
		fmt.Fprintf(w, " [%d].%c = %f (0x%08x) (%v)\n",
			i/4, lanes[i%4],
			math.Float32frombits(word), word, v.ImmTags[i].Kind)
	}

	fmt.Fprintf(w, "inputs:\n")
	for _, r := range v.InFile {
		fmt.Fprintf(w, " [%d] slot=%d comps=%d\n", r.Reg, r.Slot, r.NumComponents)
	}

	fmt.Fprintf(w, "outputs:\n")
	for _, r := range v.OutFile {
		fmt.Fprintf(w, " [%d] slot=%d comps=%d\n", r.Reg, r.Slot, r.NumComponents)
	}

	fmt.Fprintf(w, "special:\n")
	if v.Stage == ir.StageVertex {
		fmt.Fprintf(w, "  vs_pos_out_reg=%d\n", v.VSPosOutReg)
		fmt.Fprintf(w, "  vs_pointsize_out_reg=%d\n", v.VSPointSizeOutReg)
		fmt.Fprintf(w, "  vs_load_balancing=0x%08x\n", v.VSLoadBalancing)
	} else {
		fmt.Fprintf(w, "  ps_color_out_reg=%d\n", v.PSColorOutReg)
		fmt.Fprintf(w, "  ps_depth_out_reg=%d\n", v.PSDepthOutReg)
	}
	fmt.Fprintf(w, "  input_count_unk8=0x%08x\n", v.InputCountUnk8)
}
