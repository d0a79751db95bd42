// Package ir defines the intermediate representation consumed by the
// Vivante shader compiler.
//
// A Program is an arena of typed SSA instructions grouped into basic
// blocks. Instructions, values and blocks are referenced by stable
// integer handles; dependency edges live in per-value use lists kept in
// sync by the mutation API. The representation is deliberately
// pointer-free so passes can rewire the graph in O(1) without ownership
// cycles.
//
// The IR is produced by an external front end (a high-level shading
// language is already lowered by the time a Program reaches this
// module) and consumed by the lowering, optimization and emission
// stages.
package ir
