// Package store persists memory records in SQLite together with an FTS4
// lexical index and a sqlite-vec vector index.
//
// Invariants:
// - A record, its lexical entry and its vector are written in one transaction.
// - Counters and confidence are updated with single UPDATE expressions, never
//   read-modify-write in Go.
// - Merges re-check owner, privacy level and scope inside the transaction.
// - Superseded records are excluded from every search but never deleted.
//
// Usage:
//
//	st, _ := store.Open(store.Config{DBPath: "/data/recall.db", Dimension: 1536})
//	defer st.Close()
//	hits, _ := st.LexicalSearch(ctx, predicate, "green tea", 20)
//	_ = hits
package store
