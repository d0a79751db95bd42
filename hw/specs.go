// Package hw describes the hardware capabilities of a Vivante unified
// shader core. A Specs value is the immutable input shared by every
// compilation; it selects instruction encodings, lowering strategies and
// resource budgets.
package hw

// Specs is the capability descriptor for one GPU generation.
// It is read-only during compilation and safe to share across
// concurrently running compiles.
type Specs struct {
	// Halti is the generation level of the shader ISA.
	// Halti >= 5 selects the new instruction encoding and allows
	// separate texture coordinate and lod/bias sources.
	Halti int

	// MaxTemps is the number of 4-component temporary registers.
	MaxTemps int

	// MaxImmediates is the number of 4-word constant-file slots
	// shared by declared uniforms and compiler-generated immediates.
	MaxImmediates int

	// MaxInstructions is the directly addressable instruction count.
	// Programs exceeding it need instruction cache residency.
	MaxInstructions int

	// HasSqrtTrig reports a transcendental unit with native
	// sqrt/sin/cos and a two-component dot product.
	HasSqrtTrig bool

	// HasNewTranscendentals reports the revised transcendental unit
	// that produces 2-component intermediates for div/log2/sin/cos.
	HasNewTranscendentals bool

	// VertexSamplerOffset is added to sampler indices used from the
	// vertex stage; vertex samplers live past the fragment samplers.
	VertexSamplerOffset int

	// Load balancing inputs. See Variant.VSLoadBalancing.
	VertexOutputBufferSize int
	VertexCacheSize        int
	ShaderCoreCount        int
}

// GC2000 describes the GC2000 found in i.MX6 quad parts.
func GC2000() *Specs {
	return &Specs{
		Halti:                  0,
		MaxTemps:               64,
		MaxImmediates:          168,
		MaxInstructions:        512,
		HasSqrtTrig:            false,
		HasNewTranscendentals:  false,
		VertexSamplerOffset:    8,
		VertexOutputBufferSize: 512,
		VertexCacheSize:        16,
		ShaderCoreCount:        4,
	}
}

// GC3000 describes the GC3000 (i.MX6 QuadPlus).
func GC3000() *Specs {
	return &Specs{
		Halti:                  2,
		MaxTemps:               64,
		MaxImmediates:          240,
		MaxInstructions:        512,
		HasSqrtTrig:            true,
		HasNewTranscendentals:  false,
		VertexSamplerOffset:    8,
		VertexOutputBufferSize: 1024,
		VertexCacheSize:        16,
		ShaderCoreCount:        4,
	}
}

// GC7000L describes the GC7000 Lite (i.MX8M).
func GC7000L() *Specs {
	return &Specs{
		Halti:                  5,
		MaxTemps:               64,
		MaxImmediates:          320,
		MaxInstructions:        256,
		HasSqrtTrig:            true,
		HasNewTranscendentals:  true,
		VertexSamplerOffset:    8,
		VertexOutputBufferSize: 1024,
		VertexCacheSize:        16,
		ShaderCoreCount:        8,
	}
}
