//go:build sqlite_fts5

package store

import "github.com/mattn/go-sqlite3"

// Built with -tags sqlite_fts5 the lexical index uses FTS5 and its built-in
// bm25(), weighting topic over evidence. bm25() is lower-is-better, so the
// score is negated to keep higher scores first.
const (
	ftsModule    = "FTS5"
	ftsTable     = `CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(topic, evidence, tokenize='porter unicode61')`
	lexicalScore = `-bm25(records_fts, 1.0, 0.5)`
)

func registerFunctions(conn *sqlite3.SQLiteConn) error {
	return nil
}
