package store

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/harun/recall/pkg/memory"
)

// Filter is a visibility predicate rendered as SQL over the records table.
// privacy.Predicate satisfies it.
type Filter interface {
	SQL(alias string) (string, []any)
}

// LexicalHit is one lexical search result
type LexicalHit struct {
	Record *memory.Record
	Score  float64 // BM25, higher is better
}

// VectorHit is one vector search result
type VectorHit struct {
	Record     *memory.Record
	Similarity float64 // cosine similarity
}

const maxQueryTerms = 32

// LexicalSearch ranks records matching any token of query by BM25. The
// visibility filter is part of the query, so records it rejects never take
// part in ranking.
func (s *SQLiteStore) LexicalSearch(ctx context.Context, filter Filter, query string, limit int) ([]LexicalHit, error) {
	match := buildMatchQuery(query)
	if match == "" || limit <= 0 {
		return nil, nil
	}

	clause, args := filter.SQL("r")
	q := `
		SELECT ` + recordColumns + `, ` + lexicalScore + ` AS score
		FROM records_fts
		JOIN records r ON r.seq = records_fts.rowid
		WHERE records_fts MATCH ? AND r.superseded_by IS NULL AND ` + clause + `
		ORDER BY score DESC, r.seq ASC
		LIMIT ?`

	params := append([]any{match}, args...)
	params = append(params, limit)

	rows, err := s.db.QueryContext(ctx, q, params...)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var score float64
		r, _, err := scanRecord(rows, &score)
		if err != nil {
			return nil, err
		}
		hits = append(hits, LexicalHit{Record: r, Score: score})
	}
	return hits, rows.Err()
}

// VectorSearch ranks visible records by cosine similarity to vec
func (s *SQLiteStore) VectorSearch(ctx context.Context, filter Filter, vec []float32, limit int) ([]VectorHit, error) {
	clause, args := filter.SQL("r")
	return s.vectorQuery(ctx, clause, args, vec, limit, -1)
}

// FindSimilar returns the owner's live records at exactly the given privacy
// level and scope whose similarity to vec is at least minSimilarity, best
// first. When kinds is non-empty only records of those kinds are considered.
// It is the merge-candidate search of consolidation.
func (s *SQLiteStore) FindSimilar(ctx context.Context, ownerID string, level memory.PrivacyLevel, scope memory.Scope, vec []float32, limit int, minSimilarity float64, kinds ...memory.Kind) ([]VectorHit, error) {
	clause := "(r.owner_id = ? AND r.privacy_level = ? AND r.scope_group = ?"
	args := []any{ownerID, string(level), scope.GroupID}
	if len(kinds) > 0 {
		clause += " AND r.kind IN (?" + strings.Repeat(", ?", len(kinds)-1) + ")"
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	clause += ")"
	return s.vectorQuery(ctx, clause, args, vec, limit, minSimilarity)
}

func (s *SQLiteStore) vectorQuery(ctx context.Context, clause string, args []any, vec []float32, limit int, minSimilarity float64) ([]VectorHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	if len(vec) != s.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, expected %d", len(vec), s.dimension)
	}

	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query vector: %w", err)
	}

	// cosine distance is 1 - similarity
	maxDistance := 2.0
	if minSimilarity > -1 {
		maxDistance = 1.0 - minSimilarity
	}

	q := `
		SELECT * FROM (
			SELECT ` + recordColumns + `, vec_distance_cosine(v.embedding, ?) AS distance
			FROM record_vectors v
			JOIN records r ON r.id = v.record_id
			WHERE r.superseded_by IS NULL AND ` + clause + `
		)
		WHERE distance <= ?
		ORDER BY distance ASC, seq ASC
		LIMIT ?`

	params := append([]any{blob}, args...)
	params = append(params, maxDistance+1e-9, limit)

	rows, err := s.db.QueryContext(ctx, q, params...)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var distance float64
		r, _, err := scanRecord(rows, &distance)
		if err != nil {
			return nil, err
		}
		hits = append(hits, VectorHit{Record: r, Similarity: 1.0 - distance})
	}
	return hits, rows.Err()
}

// buildMatchQuery turns free text into an FTS OR-query of quoted terms so
// user input can never inject FTS operators.
func buildMatchQuery(text string) string {
	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+t+`"`)
		if len(quoted) == maxQueryTerms {
			break
		}
	}
	return strings.Join(quoted, " OR ")
}
