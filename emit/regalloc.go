package emit

import (
	"sort"

	"tlog.app/go/errors"

	"github.com/gogpu/vivante/hw"
	"github.com/gogpu/vivante/ir"
)

// valInfo is one SSA value's allocation state: its live range over the
// linear instruction order and the physical register window assigned
// to it.
type valInfo struct {
	temp  bool // lives in a temporary register
	comps int

	start, end int

	pinned bool // register fixed before coloring
	base0  bool // window must start at component 0
	reg    int
	base   int
}

type allocation struct {
	vals     []valInfo
	numTemps int

	pos      []int // per instruction, -1 for tombstones
	termPos  []int // per block: terminator position, or last position
	blockPos []int // per block: first position
}

// inputReg returns the fixed temporary holding a stage input.
// Fragment inputs start at register 1; register 0 carries the
// rasterizer-provided position.
func inputReg(stage ir.Stage, idx int) int {
	if stage == ir.StageFragment {
		return idx + 1
	}
	return idx
}

// idReg returns the fixed temporary the instance counter arrives in,
// directly after the vertex inputs.
func idReg(p *ir.Program) int {
	return len(p.Inputs)
}

// tempResident reports whether a value's bits live in a temporary
// register, as opposed to a uniform slot.
func tempResident(p *ir.Program, v ir.ValueHandle) bool {
	def := p.Value(v).Def
	if def == ir.NoInst {
		return false
	}
	switch p.Inst(def).Op {
	case ir.OpConst, ir.OpLoadUniform:
		return false
	}
	return true
}

// allocate colors the value-interference graph into 4-component
// temporary registers. Interference comes from live-range overlap over
// the linear instruction order; ranges crossing a loop back edge are
// extended to the back branch. Inputs are pre-colored to their fixed
// registers.
func allocate(p *ir.Program, specs *hw.Specs, base0 map[ir.ValueHandle]bool) (*allocation, error) {
	a := &allocation{
		vals:     make([]valInfo, p.NumValues()),
		pos:      make([]int, p.NumInsts()),
		termPos:  make([]int, p.NumBlocks()),
		blockPos: make([]int, p.NumBlocks()),
	}

	a.number(p)
	a.ranges(p)

	for v := range base0 {
		a.vals[v].base0 = true
	}

	// Pinned registers: stage inputs, and the instance counter for
	// vertex programs that read it.
	reserved := 0

	if p.Stage == ir.StageFragment {
		reserved = 1 // position register
	}

	usesID := false

	for bi := 0; bi < p.NumBlocks(); bi++ {
		for _, h := range p.BlockCode(ir.BlockHandle(bi)) {
			in := p.Inst(h)

			switch in.Op {
			case ir.OpLoadInput:
				vi := &a.vals[in.Dest]
				vi.pinned = true
				vi.reg = inputReg(p.Stage, in.Index)
				vi.base = 0
				vi.start = 0
			case ir.OpLoadInstanceID:
				usesID = true
			}
		}
	}

	for i := range a.vals {
		if a.vals[i].temp && a.vals[i].pinned && a.vals[i].reg+1 > reserved {
			reserved = a.vals[i].reg + 1
		}
	}
	if usesID && idReg(p)+1 > reserved {
		reserved = idReg(p) + 1
	}

	a.color(reserved)

	if a.numTemps > specs.MaxTemps {
		return nil, errors.New("register allocation needs %d temporaries, hardware has %d", a.numTemps, specs.MaxTemps)
	}

	return a, nil
}

// number assigns linear positions to live instructions.
func (a *allocation) number(p *ir.Program) {
	for i := range a.pos {
		a.pos[i] = -1
	}

	n := 0
	for bi := 0; bi < p.NumBlocks(); bi++ {
		b := ir.BlockHandle(bi)
		a.blockPos[b] = n

		last := n
		for _, h := range p.BlockCode(b) {
			if p.Inst(h).Op == ir.OpNop {
				continue
			}
			a.pos[h] = n
			last = n
			n++
		}
		a.termPos[b] = last
	}
}

func (a *allocation) ranges(p *ir.Program) {
	for v := range a.vals {
		vi := &a.vals[v]
		vi.comps = int(p.Value(ir.ValueHandle(v)).NumComponents)
		vi.temp = tempResident(p, ir.ValueHandle(v))
		vi.reg = -1
		vi.start = -1
	}

	touch := func(v ir.ValueHandle, pos int) {
		vi := &a.vals[v]
		if !vi.temp {
			return
		}
		if vi.start < 0 || pos < vi.start {
			vi.start = pos
		}
		if pos > vi.end {
			vi.end = pos
		}
	}

	for bi := 0; bi < p.NumBlocks(); bi++ {
		for _, h := range p.BlockCode(ir.BlockHandle(bi)) {
			in := p.Inst(h)
			if in.Op == ir.OpNop {
				continue
			}

			pos := a.pos[h]

			if in.Dest != ir.NoValue {
				touch(in.Dest, pos)
			}

			for i := 0; i < 4; i++ {
				var s ir.Src
				if i == 3 {
					s = in.Src3
				} else {
					s = in.Src[i]
				}
				if s.Kind != ir.SrcValue {
					continue
				}

				upos := pos
				if in.Op == ir.OpPhi && i < 3 && in.PhiBlocks[i] != ir.NoBlock {
					// Phi sources are read by the copy at the end of
					// their predecessor; the phi register is written
					// there too.
					upos = a.termPos[in.PhiBlocks[i]]
					touch(in.Dest, upos)
				}

				touch(s.Value, upos)
			}
		}
	}

	// Values live across a loop back edge stay live for the whole
	// loop body.
	for bi := 0; bi < p.NumBlocks(); bi++ {
		b := ir.BlockHandle(bi)

		term := p.Terminator(b)
		if term == ir.NoInst {
			continue
		}

		tgt := p.Inst(term).Target
		if tgt > b {
			continue
		}

		head := a.blockPos[tgt]
		back := a.termPos[b]

		for v := range a.vals {
			vi := &a.vals[v]
			if vi.temp && vi.start >= 0 && vi.start < head && vi.end >= head && vi.end < back {
				vi.end = back
			}
		}
	}
}

func (a *allocation) color(reserved int) {
	a.numTemps = reserved

	order := make([]int, 0, len(a.vals))
	for v := range a.vals {
		vi := &a.vals[v]
		if vi.temp && !vi.pinned && vi.start >= 0 {
			order = append(order, v)
		}
	}

	sort.Slice(order, func(i, j int) bool {
		oi, oj := &a.vals[order[i]], &a.vals[order[j]]
		if oi.start != oj.start {
			return oi.start < oj.start
		}
		return order[i] < order[j]
	})

	overlap := func(x, y *valInfo) bool {
		return x.start <= y.end && y.start <= x.end
	}

	for _, v := range order {
		vi := &a.vals[v]

	regs:
		for reg := reserved; ; reg++ {
			maxBase := 4 - vi.comps
			if vi.base0 {
				maxBase = 0
			}

		bases:
			for base := 0; base <= maxBase; base++ {
				for w := range a.vals {
					wi := &a.vals[w]
					if w == v || !wi.temp || wi.reg != reg {
						continue
					}
					if !overlap(vi, wi) {
						continue
					}
					if base < wi.base+wi.comps && wi.base < base+vi.comps {
						continue bases
					}
				}

				vi.reg = reg
				vi.base = base
				if reg+1 > a.numTemps {
					a.numTemps = reg + 1
				}
				break regs
			}
		}
	}
}
