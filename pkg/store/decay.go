package store

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/recall/pkg/memory"
)

// DecayCandidate is the slice of a record the decay job needs
type DecayCandidate struct {
	Seq            int64
	ID             string
	Kind           memory.Kind
	Confidence     float64
	DecayBase      float64
	RetrievalCount int
	LastAccessedAt time.Time
}

// DecayCandidates pages through live, unprotected records under the standard
// decay policy whose last access is at or before cutoff. Paging is keyed by
// seq: pass the last seq of the previous page as afterSeq.
func (s *SQLiteStore) DecayCandidates(ctx context.Context, cutoff time.Time, afterSeq int64, limit int) ([]DecayCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, kind, confidence, decay_base, retrieval_count, last_accessed_at
		FROM records
		WHERE decay_policy = ? AND is_protected = 0 AND superseded_by IS NULL
			AND kind != ? AND last_accessed_at <= ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?`,
		string(memory.DecayStandard), string(memory.KindSemantic), cutoff.UnixMilli(), afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list decay candidates: %w", err)
	}
	defer rows.Close()

	var out []DecayCandidate
	for rows.Next() {
		var c DecayCandidate
		var kind string
		var accessed int64
		if err := rows.Scan(&c.Seq, &c.ID, &kind, &c.Confidence, &c.DecayBase, &c.RetrievalCount, &accessed); err != nil {
			return nil, err
		}
		c.Kind = memory.Kind(kind)
		c.LastAccessedAt = time.UnixMilli(accessed).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// ApplyDecay writes a decayed confidence (and optionally a policy transition)
// as a compare-and-swap on last_accessed_at: if the record was reinforced,
// protected or re-policied since it was read, nothing is written and applied
// is false.
func (s *SQLiteStore) ApplyDecay(ctx context.Context, c DecayCandidate, confidence float64, policy memory.DecayPolicy) (bool, error) {
	if !policy.Valid() {
		return false, fmt.Errorf("invalid decay policy %q", policy)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET confidence = ?, decay_policy = ?
		WHERE id = ? AND last_accessed_at = ? AND decay_policy = ? AND is_protected = 0`,
		memory.ClampConfidence(confidence), string(policy),
		c.ID, c.LastAccessedAt.UnixMilli(), string(memory.DecayStandard),
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply decay: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
