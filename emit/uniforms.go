package emit

import (
	"tlog.app/go/errors"
)

// UniformKind tags one 32-bit word of the uniform table so the driver
// knows what to upload there.
type UniformKind uint8

const (
	// UniformUser words mirror driver-declared uniforms; Value is the
	// source word index.
	UniformUser UniformKind = iota

	// UniformConst words are compiler float immediates; Value is the
	// raw bit pattern, already stored in Words. UniformConstInt marks
	// packed integer immediates.
	UniformConst
	UniformConstInt

	// UniformTexScaleX and UniformTexScaleY are filled by the driver
	// with the rectangle-texture coordinate scale of sampler Value.
	UniformTexScaleX
	UniformTexScaleY
)

func (k UniformKind) String() string {
	switch k {
	case UniformUser:
		return "user"
	case UniformConst:
		return "const"
	case UniformConstInt:
		return "const.i"
	case UniformTexScaleX:
		return "texscale.x"
	case UniformTexScaleY:
		return "texscale.y"
	default:
		return "kind?"
	}
}

// UniformTag describes one word of the uniform table.
type UniformTag struct {
	Kind  UniformKind
	Value uint32
}

// UniformTable is the flattened constant pool: 4 words per hardware
// slot, a parallel tag per word. Word indices are stable once
// assigned.
type UniformTable struct {
	Words []uint32
	Tags  []UniformTag

	maxSlots int
}

func newUniformTable(userSlots, maxSlots int) *UniformTable {
	t := &UniformTable{maxSlots: maxSlots}

	for s := 0; s < userSlots; s++ {
		for w := 0; w < 4; w++ {
			t.Words = append(t.Words, 0)
			t.Tags = append(t.Tags, UniformTag{Kind: UniformUser, Value: uint32(4*s + w)})
		}
	}

	return t
}

// Slots returns the number of occupied hardware slots.
func (t *UniformTable) Slots() int {
	return (len(t.Words) + 3) / 4
}

// AddConst places n constant words contiguously within one slot,
// reusing an existing placement with identical content when one
// exists. It returns the word index of the first component.
func (t *UniformTable) AddConst(words []uint32, tag UniformKind) (int, error) {
	n := len(words)

	// Dedup: a matching run must not cross a slot boundary.
	for i := 0; i+n <= len(t.Words); i++ {
		if i%4+n > 4 {
			continue
		}

		match := true
		for j := 0; j < n; j++ {
			if t.Tags[i+j].Kind != tag || t.Words[i+j] != words[j] {
				match = false
				break
			}
		}
		if match {
			return i, nil
		}
	}

	// Pad to the next slot when the run would straddle one.
	if len(t.Words)%4+n > 4 {
		for len(t.Words)%4 != 0 {
			t.Words = append(t.Words, 0)
			t.Tags = append(t.Tags, UniformTag{Kind: UniformConst})
		}
	}

	idx := len(t.Words)
	for j := 0; j < n; j++ {
		t.Words = append(t.Words, words[j])
		t.Tags = append(t.Tags, UniformTag{Kind: tag, Value: words[j]})
	}

	if t.Slots() > t.maxSlots {
		return 0, errors.New("constant pool needs %d uniform slots, hardware has %d", t.Slots(), t.maxSlots)
	}

	return idx, nil
}

// AddTexScale places (or finds) the two-word rectangle-texture scale
// for a sampler and returns the word index of the x component.
func (t *UniformTable) AddTexScale(sampler int) (int, error) {
	for i := 0; i+1 < len(t.Tags); i++ {
		if t.Tags[i].Kind == UniformTexScaleX && t.Tags[i].Value == uint32(sampler) {
			return i, nil
		}
	}

	if len(t.Words)%4+2 > 4 {
		for len(t.Words)%4 != 0 {
			t.Words = append(t.Words, 0)
			t.Tags = append(t.Tags, UniformTag{Kind: UniformConst})
		}
	}

	idx := len(t.Words)
	t.Words = append(t.Words, 0, 0)
	t.Tags = append(t.Tags,
		UniformTag{Kind: UniformTexScaleX, Value: uint32(sampler)},
		UniformTag{Kind: UniformTexScaleY, Value: uint32(sampler)},
	)

	if t.Slots() > t.maxSlots {
		return 0, errors.New("constant pool needs %d uniform slots, hardware has %d", t.Slots(), t.maxSlots)
	}

	return idx, nil
}
