package vivante

import (
	"tlog.app/go/errors"

	"github.com/gogpu/vivante/ir"
)

// VaryingUse tells the rasterizer setup what one component of a
// varying register carries.
type VaryingUse uint8

const (
	VaryingUnused VaryingUse = iota
	VaryingUsed
	VaryingPointCoordX
	VaryingPointCoordY
)

// Varying is one linked vertex-to-fragment interpolant.
type Varying struct {
	// Reg is the vertex shader output register feeding this varying;
	// 0 for the point-coord placeholder.
	Reg           int
	NumComponents int

	// PAAttributes is the primitive-assembly shading mode word for
	// this varying.
	PAAttributes uint32

	Use [4]VaryingUse
}

// LinkInfo is the varying table produced by linking a vertex and a
// fragment variant.
type LinkInfo struct {
	Varyings []Varying

	// PCoordCompOfs is the flat component offset of the point-coord
	// varying, -1 when the fragment shader does not read it.
	PCoordCompOfs int
}

// LinkShaders pairs every fragment input with the vertex output of the
// same slot. Point coord is the one input without a matching vertex
// output; it gets a varying entry filled by the rasterizer. A fragment
// input with no counterpart is a link error.
func LinkShaders(vs, fs *Variant) (*LinkInfo, error) {
	if vs.Stage != ir.StageVertex || fs.Stage != ir.StageFragment {
		return nil, errors.New("link needs a vertex and a fragment variant")
	}

	info := &LinkInfo{PCoordCompOfs: -1}

	numVaryings := 0
	for _, fsio := range fs.InFile {
		if fsio.Reg > numVaryings {
			numVaryings = fsio.Reg
		}
	}
	info.Varyings = make([]Varying, numVaryings)

	compOfs := 0

	for _, fsio := range fs.InFile {
		if fsio.Reg < 1 || fsio.Reg > len(info.Varyings) {
			return nil, errors.New("fragment input register %d out of range", fsio.Reg)
		}

		va := &info.Varyings[fsio.Reg-1]
		va.NumComponents = fsio.NumComponents

		// Texture coordinates and other non-color varyings bypass
		// flat shading.
		va.PAAttributes = 0x2f1

		if fsio.Semantic == ir.SemPointCoord {
			va.Use[0] = VaryingPointCoordX
			va.Use[1] = VaryingPointCoordY

			info.PCoordCompOfs = compOfs
		} else {
			vsio := vsLookup(vs, fsio.Slot)
			if vsio == nil {
				return nil, errors.New("varying slot %d not written by the vertex shader", fsio.Slot)
			}

			va.Reg = vsio.Reg
			for c := 0; c < fsio.NumComponents; c++ {
				va.Use[c] = VaryingUsed
			}
		}

		compOfs += va.NumComponents
	}

	return info, nil
}

func vsLookup(vs *Variant, slot int) *IOReg {
	for i := range vs.OutFile {
		if vs.OutFile[i].Slot == slot {
			return &vs.OutFile[i]
		}
	}
	return nil
}
