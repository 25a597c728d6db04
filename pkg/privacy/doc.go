// Package privacy classifies origin contexts into privacy levels and builds
// the visibility predicates that retrieval applies inside its candidate
// searches.
//
// Invariants:
// - Classification is pure and deterministic.
// - An unclassifiable querying context fails closed: only the requester's own
//   global records stay visible.
// - Admits and SQL encode the same rules.
package privacy
