package ir

// Handle types for referencing IR objects. Handles are stable across
// mutation: instructions are never moved in the arena, removal leaves a
// tombstone (OpNop) behind.
type (
	InstHandle  int32
	ValueHandle int32
	BlockHandle int32
)

// Sentinel handles for absent references.
const (
	NoInst  InstHandle  = -1
	NoValue ValueHandle = -1
	NoBlock BlockHandle = -1
)

// Stage identifies the pipeline stage a program compiles for.
type Stage uint8

const (
	StageVertex Stage = iota
	StageFragment
)

func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	default:
		return "unknown"
	}
}

// Semantic tags an input or output variable with its fixed-function
// meaning. Generic covers vertex attributes and user varyings.
type Semantic uint8

const (
	SemGeneric Semantic = iota
	SemPosition
	SemPointSize
	SemPointCoord
	SemColor
	SemDepth
)

func (s Semantic) String() string {
	switch s {
	case SemGeneric:
		return "generic"
	case SemPosition:
		return "position"
	case SemPointSize:
		return "pointsize"
	case SemPointCoord:
		return "pointcoord"
	case SemColor:
		return "color"
	case SemDepth:
		return "depth"
	default:
		return "unknown"
	}
}

// IOVar declares one stage input or output.
type IOVar struct {
	// Slot is the driver-assigned location. LoadInput and StoreOutput
	// instructions reference variables by their index in the
	// Inputs/Outputs slice, not by Slot.
	Slot          int
	Semantic      Semantic
	NumComponents uint8
}

// Value is an SSA virtual register: one producing instruction and a
// fixed component count between 1 and 4.
type Value struct {
	Def           InstHandle
	NumComponents uint8
}

// Use records one source operand reading a value.
type Use struct {
	Inst  InstHandle
	Index int // source slot within the instruction
}

// Block is an ordered run of instructions with a single entry.
// Non-terminal blocks end in a branch or fall through to the next block
// in program order. Block boundaries are fixed before emission.
type Block struct {
	Code []InstHandle
}

// Program is one compilation unit: the instruction arena, the value
// arena, blocks in program order, and the stage I/O declarations.
// A Program is built per shader-variant compile and discarded after
// encoding completes or the compile fails.
type Program struct {
	Stage   Stage
	Inputs  []IOVar
	Outputs []IOVar

	// UniformSlots is the number of driver-declared uniform slots.
	// LoadUniform indices below it reference those; compiler-created
	// constants are placed after them in the uniform table.
	UniformSlots int

	insts  []Inst
	values []Value
	blocks []Block
	uses   [][]Use
}

// NewProgram returns an empty program for the given stage.
func NewProgram(stage Stage) *Program {
	return &Program{Stage: stage}
}

// AddBlock appends a new empty block in program order.
func (p *Program) AddBlock() BlockHandle {
	p.blocks = append(p.blocks, Block{})
	return BlockHandle(len(p.blocks) - 1)
}

// NumBlocks returns the number of blocks in program order.
func (p *Program) NumBlocks() int { return len(p.blocks) }

// NumInsts returns the size of the instruction arena, including
// tombstones.
func (p *Program) NumInsts() int { return len(p.insts) }

// NumValues returns the size of the value arena.
func (p *Program) NumValues() int { return len(p.values) }

// BlockCode returns the instruction handles of a block in order.
// The slice may contain OpNop tombstones; traversals skip them.
func (p *Program) BlockCode(b BlockHandle) []InstHandle {
	return p.blocks[b].Code
}

// Inst returns the instruction for a handle. The returned pointer is
// valid until the next arena growth; mutate sources only through
// SetSrc so use lists stay consistent.
func (p *Program) Inst(h InstHandle) *Inst { return &p.insts[h] }

// Value returns the value record for a handle.
func (p *Program) Value(v ValueHandle) Value { return p.values[v] }

// UsesOf returns the use list of a value in insertion order.
func (p *Program) UsesOf(v ValueHandle) []Use { return p.uses[v] }
