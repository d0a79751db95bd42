package ir

import (
	"tlog.app/go/errors"
)

// Validate checks structural invariants of the program. Passes are
// expected to leave a valid program behind; the pipeline driver runs
// Validate between stages in debug builds.
func (p *Program) Validate() error {
	if len(p.blocks) == 0 {
		return errors.New("no blocks")
	}

	seen := make([]bool, len(p.insts))
	defined := make([]bool, len(p.values))

	for bi := range p.blocks {
		b := BlockHandle(bi)

		err := p.validateBlock(b, seen, defined)
		if err != nil {
			return errors.Wrap(err, "block %d", b)
		}
	}

	for vi := range p.values {
		v := ValueHandle(vi)

		for _, u := range p.uses[v] {
			s := instSrc(&p.insts[u.Inst], u.Index)
			if s.Kind != SrcValue || s.Value != v {
				return errors.New("value %d: stale use (%v slot %d)", v, p.insts[u.Inst].Op, u.Index)
			}
		}
	}

	return nil
}

func (p *Program) validateBlock(b BlockHandle, seen []bool, defined []bool) error {
	code := p.blocks[b].Code

	for pos, h := range code {
		if int(h) >= len(p.insts) {
			return errors.New("bad instruction handle %d", h)
		}
		if seen[h] {
			return errors.New("instruction %d appears twice", h)
		}
		seen[h] = true

		in := &p.insts[h]
		if in.Op == OpNop {
			continue
		}
		if in.Block != b {
			return errors.New("%v %d: block field says %d", in.Op, h, in.Block)
		}

		err := p.validateInst(b, h, pos, defined)
		if err != nil {
			return errors.Wrap(err, "%v %d", in.Op, h)
		}
	}

	return nil
}

func (p *Program) validateInst(b BlockHandle, h InstHandle, pos int, defined []bool) error {
	in := &p.insts[h]

	if in.Op.IsTerminator() && !p.isLast(b, pos) {
		return errors.New("terminator not at block end")
	}
	if in.Op.IsTerminator() && (in.Target < 0 || int(in.Target) >= len(p.blocks)) {
		return errors.New("bad branch target %d", in.Target)
	}

	switch {
	case in.Op.HasDest():
		if in.Dest == NoValue {
			return errors.New("missing destination")
		}
		if p.values[in.Dest].Def != h {
			return errors.New("value %d not defined here", in.Dest)
		}
		defined[in.Dest] = true
	case in.Dest != NoValue:
		return errors.New("unexpected destination")
	}

	n := in.Op.NumSrcs()
	for i := 0; i < srcSlots(in); i++ {
		s := instSrc(in, i)
		switch {
		case i < n && in.Op == OpLoadUniform, i < n && in.Op == OpPhi:
			// Optional slots: dynamic uniform offset, one phi source
			// per predecessor.
		case i == 1 && (in.Op == OpTexSampleBias || in.Op == OpTexSampleLod):
			// Empty once lowering packs lod/bias into the coordinate.
		case i < n && s.Kind == SrcNone:
			return errors.New("source %d missing", i)
		case i >= n && s.Kind != SrcNone:
			return errors.New("source %d unexpected", i)
		}

		if s.Kind != SrcValue {
			continue
		}
		if int(s.Value) >= len(p.values) {
			return errors.New("source %d: bad value %d", i, s.Value)
		}
		// Phis may reference values defined later (loop back edges).
		if in.Op != OpPhi && !defined[s.Value] && p.values[s.Value].Def != NoInst {
			if !p.definedBefore(s.Value, b) {
				return errors.New("source %d: value %d used before definition", i, s.Value)
			}
		}
	}

	switch in.Op {
	case OpLoadInput:
		if in.Index < 0 || in.Index >= len(p.Inputs) {
			return errors.New("input index %d out of range", in.Index)
		}
	case OpStoreOutput:
		if in.Index < 0 || in.Index >= len(p.Outputs) {
			return errors.New("output index %d out of range", in.Index)
		}
	case OpConst:
		nc := int(p.values[in.Dest].NumComponents)
		if nc < 1 || nc > 4 {
			return errors.New("constant width %d", nc)
		}
	case OpPhi:
		for i := 0; i < 3; i++ {
			if (in.Src[i].Kind == SrcValue) != (in.PhiBlocks[i] != NoBlock) {
				return errors.New("phi slot %d: source and block out of sync", i)
			}
		}
	}

	return nil
}

// definedBefore reports whether v's defining instruction sits in a
// block strictly before b in program order. Within a block, slot order
// already guarantees dominance for straight-line code.
func (p *Program) definedBefore(v ValueHandle, b BlockHandle) bool {
	def := p.values[v].Def
	return def != NoInst && p.insts[def].Block < b
}

func (p *Program) isLast(b BlockHandle, pos int) bool {
	code := p.blocks[b].Code
	for _, h := range code[pos+1:] {
		if p.insts[h].Op != OpNop {
			return false
		}
	}
	return true
}
