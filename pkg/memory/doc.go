// Package memory defines the record model shared by the store, retriever,
// consolidation and decay packages.
//
// Invariants:
// - Confidence stays within [MinConfidence, MaxConfidence].
// - Semantic records use DecayNone.
// - Privacy level and origin scope are fixed at creation.
//
// Kind-dependent constants (reinforcement boost, ceiling, default decay policy)
// are resolved through exhaustive switches on Kind.
package memory
