package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	"github.com/harun/recall/pkg/memory"
)

const recordColumns = `r.seq, r.id, r.owner_id, r.topic_summary, r.raw_evidence, r.kind,
	r.privacy_level, r.scope_group, r.source_count, r.confidence, r.decay_base,
	r.decay_policy, r.retrieval_count, r.is_protected, r.created_at, r.updated_at,
	r.last_accessed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one row selected with recordColumns plus any extra
// trailing destinations.
func scanRecord(row rowScanner, extra ...any) (*memory.Record, int64, error) {
	var (
		r                           memory.Record
		seq                         int64
		evidence, kind, level, pol  string
		group                       string
		protected                   int
		createdAt, updatedAt, accAt int64
	)

	dest := []any{
		&seq, &r.ID, &r.OwnerID, &r.TopicSummary, &evidence, &kind,
		&level, &group, &r.SourceCount, &r.Confidence, &r.DecayBase,
		&pol, &r.RetrievalCount, &protected, &createdAt, &updatedAt,
		&accAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, 0, err
	}

	if err := json.Unmarshal([]byte(evidence), &r.RawEvidence); err != nil {
		return nil, 0, fmt.Errorf("corrupt evidence for record %s: %w", r.ID, err)
	}
	r.Kind = memory.Kind(kind)
	r.PrivacyLevel = memory.PrivacyLevel(level)
	r.OriginScope = memory.Scope{GroupID: group}
	r.DecayPolicy = memory.DecayPolicy(pol)
	r.IsProtected = protected != 0
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	r.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	r.LastAccessedAt = time.UnixMilli(accAt).UTC()

	return &r, seq, nil
}

// validateNew checks the invariants a record must satisfy before insert
func validateNew(r *memory.Record, dimension int) error {
	if r.OwnerID == "" {
		return fmt.Errorf("%w: owner id is required", memory.ErrInvalidCandidate)
	}
	if strings.TrimSpace(r.TopicSummary) == "" {
		return fmt.Errorf("%w: topic summary is required", memory.ErrInvalidCandidate)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: %q", memory.ErrInvalidKind, r.Kind)
	}
	if err := memory.ValidateScope(r.PrivacyLevel, r.OriginScope); err != nil {
		return err
	}
	if len(r.Embedding) != dimension {
		return fmt.Errorf("%w: embedding has dimension %d, expected %d", memory.ErrInvalidCandidate, len(r.Embedding), dimension)
	}
	return nil
}

// Insert stores a new record together with its lexical and vector index
// entries. Missing ids and timestamps are filled in; confidence is clamped and
// semantic records are forced to DecayNone.
func (s *SQLiteStore) Insert(ctx context.Context, r *memory.Record) error {
	if err := validateNew(r, s.dimension); err != nil {
		return err
	}

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.LastAccessedAt.IsZero() {
		r.LastAccessedAt = r.CreatedAt
	}
	if r.SourceCount <= 0 {
		r.SourceCount = 1
	}
	r.Confidence = memory.ClampConfidence(r.Confidence)
	r.DecayBase = r.Confidence
	if !r.DecayPolicy.Valid() {
		r.DecayPolicy = r.Kind.DefaultDecayPolicy()
	}
	if r.Kind == memory.KindSemantic {
		r.DecayPolicy = memory.DecayNone
	}
	if r.RawEvidence == nil {
		r.RawEvidence = []string{}
	}

	evidence, err := json.Marshal(r.RawEvidence)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}
	vec, err := sqlite_vec.SerializeFloat32(r.Embedding)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO records (
			id, owner_id, topic_summary, raw_evidence, kind, privacy_level, scope_group,
			source_count, confidence, decay_base, decay_policy, retrieval_count, is_protected,
			created_at, updated_at, last_accessed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.TopicSummary, string(evidence), string(r.Kind), string(r.PrivacyLevel), r.OriginScope.GroupID,
		r.SourceCount, r.Confidence, r.DecayBase, string(r.DecayPolicy), r.RetrievalCount, boolToInt(r.IsProtected),
		r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(), r.LastAccessedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO records_fts (rowid, topic, evidence) VALUES (?, ?, ?)",
		seq, r.TopicSummary, strings.Join(r.RawEvidence, "\n"),
	); err != nil {
		return fmt.Errorf("failed to index record text: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO record_vectors (record_id, embedding) VALUES (?, ?)",
		r.ID, vec,
	); err != nil {
		return fmt.Errorf("failed to index record vector: %w", err)
	}

	return tx.Commit()
}

// Get returns the record with the given id, including its embedding
func (s *SQLiteStore) Get(ctx context.Context, id string) (*memory.Record, error) {
	var blob []byte
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`, v.embedding
		FROM records r
		LEFT JOIN record_vectors v ON v.record_id = r.id
		WHERE r.id = ?`, id)

	r, _, err := scanRecord(row, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	r.Embedding = deserializeFloat32(blob)
	return r, nil
}

// MergeParams describes one consolidation merge. The confidence update is
// evaluated by SQLite as max(confidence, min(Ceiling, max(Hint, confidence+Step)))
// so concurrent merges never lose an increment. Like reinforcement, a merge
// never lowers a record that already sits above the ceiling.
type MergeParams struct {
	TargetID     string
	OwnerID      string
	PrivacyLevel memory.PrivacyLevel
	OriginScope  memory.Scope
	Evidence     []string
	Summary      string
	Embedding    []float32
	Hint         float64
	Step         float64
	Ceiling      float64
	Sources      int         // extraction events folded in, default 1
	Promote      memory.Kind // when set, the target takes this kind and its default decay policy
	Now          time.Time
}

// Merge folds a candidate fact into an existing record. The owner, privacy
// level and scope in params must match the target exactly, otherwise the
// merge is rejected with memory.ErrCrossScopeMerge. The summary is replaced
// only when the new phrasing is at least as long as the stored one; in that
// case the vector is replaced too.
func (s *SQLiteStore) Merge(ctx context.Context, p MergeParams) (*memory.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.mergeTx(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Get(ctx, p.TargetID)
}

// Absorb merges duplicateID's content (described by p) into p.TargetID and
// marks the duplicate superseded, in one transaction.
func (s *SQLiteStore) Absorb(ctx context.Context, p MergeParams, duplicateID string) (*memory.Record, error) {
	if duplicateID == p.TargetID {
		return nil, fmt.Errorf("%w: record cannot absorb itself", memory.ErrInvalidCandidate)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var owner, level, group string
	err = tx.QueryRowContext(ctx,
		"SELECT owner_id, privacy_level, scope_group FROM records WHERE id = ? AND superseded_by IS NULL",
		duplicateID,
	).Scan(&owner, &level, &group)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, duplicateID)
	}
	if err != nil {
		return nil, err
	}
	if owner != p.OwnerID || level != string(p.PrivacyLevel) || group != p.OriginScope.GroupID {
		return nil, fmt.Errorf("%w: duplicate %s is %s/%s/%q", memory.ErrCrossScopeMerge, duplicateID, owner, level, group)
	}

	if err := s.mergeTx(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := supersedeTx(ctx, tx, duplicateID, p.TargetID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Get(ctx, p.TargetID)
}

func (s *SQLiteStore) mergeTx(ctx context.Context, tx *sql.Tx, p MergeParams) error {
	if p.Now.IsZero() {
		p.Now = time.Now().UTC()
	}
	if p.Ceiling <= 0 || p.Ceiling > memory.MaxConfidence {
		p.Ceiling = memory.MaxConfidence
	}
	if p.Sources <= 0 {
		p.Sources = 1
	}

	var owner, level, group string
	var superseded sql.NullString
	err := tx.QueryRowContext(ctx,
		"SELECT owner_id, privacy_level, scope_group, superseded_by FROM records WHERE id = ?",
		p.TargetID,
	).Scan(&owner, &level, &group, &superseded)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, p.TargetID)
	}
	if err != nil {
		return err
	}
	if owner != p.OwnerID || level != string(p.PrivacyLevel) || group != p.OriginScope.GroupID {
		return fmt.Errorf("%w: target %s is %s/%s/%q, candidate is %s/%s/%q",
			memory.ErrCrossScopeMerge, p.TargetID, owner, level, group,
			p.OwnerID, p.PrivacyLevel, p.OriginScope.GroupID)
	}
	if superseded.Valid {
		return fmt.Errorf("%w: %s was superseded by %s", memory.ErrNotFound, p.TargetID, superseded.String)
	}

	summary := strings.TrimSpace(p.Summary)
	hint := memory.ClampConfidence(p.Hint)
	promote := p.Promote
	if promote != "" && !promote.Valid() {
		return fmt.Errorf("%w: %q", memory.ErrInvalidKind, promote)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE records SET
			topic_summary = CASE
				WHEN ?1 != '' AND length(?1) >= length(topic_summary) THEN ?1
				ELSE topic_summary
			END,
			source_count = source_count + ?2,
			confidence = MAX(0.1, confidence, MIN(?3, MAX(?4, confidence + ?5))),
			decay_base = MAX(0.1, confidence, MIN(?3, MAX(?4, confidence + ?5))),
			kind = CASE WHEN ?11 != '' THEN ?11 ELSE kind END,
			decay_policy = CASE WHEN ?11 != '' THEN ?12 ELSE decay_policy END,
			updated_at = ?6,
			last_accessed_at = MAX(last_accessed_at, ?6)
		WHERE id = ?7 AND owner_id = ?8 AND privacy_level = ?9 AND scope_group = ?10`,
		summary, p.Sources, p.Ceiling, hint, p.Step, p.Now.UnixMilli(),
		p.TargetID, p.OwnerID, string(p.PrivacyLevel), p.OriginScope.GroupID,
		string(promote), string(promote.DefaultDecayPolicy()),
	)
	if err != nil {
		return fmt.Errorf("failed to merge record: %w", err)
	}

	for _, ev := range p.Evidence {
		if strings.TrimSpace(ev) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE records SET raw_evidence = json_insert(raw_evidence, '$[#]', ?1)
			WHERE id = ?2 AND NOT EXISTS (SELECT 1 FROM json_each(raw_evidence) WHERE value = ?1)`,
			ev, p.TargetID,
		); err != nil {
			return fmt.Errorf("failed to append evidence: %w", err)
		}
	}

	var (
		seq        int64
		topic, evJ string
	)
	if err := tx.QueryRowContext(ctx,
		"SELECT seq, topic_summary, raw_evidence FROM records WHERE id = ?", p.TargetID,
	).Scan(&seq, &topic, &evJ); err != nil {
		return err
	}

	var evidence []string
	if err := json.Unmarshal([]byte(evJ), &evidence); err != nil {
		return fmt.Errorf("corrupt evidence for record %s: %w", p.TargetID, err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE records_fts SET topic = ?, evidence = ? WHERE rowid = ?",
		topic, strings.Join(evidence, "\n"), seq,
	); err != nil {
		return fmt.Errorf("failed to reindex record text: %w", err)
	}

	if summary != "" && topic == summary && len(p.Embedding) == s.dimension {
		if err := replaceVector(ctx, tx, p.TargetID, p.Embedding); err != nil {
			return err
		}
	}
	return nil
}

func replaceVector(ctx context.Context, tx *sql.Tx, id string, embedding []float32) error {
	vec, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM record_vectors WHERE record_id = ?", id); err != nil {
		return fmt.Errorf("failed to drop record vector: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO record_vectors (record_id, embedding) VALUES (?, ?)", id, vec,
	); err != nil {
		return fmt.Errorf("failed to index record vector: %w", err)
	}
	return nil
}

// Reinforce applies one retrieval's reinforcement as a single UPDATE
// statement: the kind's boost is added up to its ceiling, retrieval_count is
// incremented and last_accessed_at is set to now. A confidence already above
// the ceiling is left as is.
func (s *SQLiteStore) Reinforce(ctx context.Context, id string, now time.Time) error {
	boost, ceiling := kindCase("boost"), kindCase("ceiling")
	newConfidence := fmt.Sprintf("MAX(confidence, MIN(%s, confidence + %s))", ceiling, boost)

	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET
			confidence = `+newConfidence+`,
			decay_base = `+newConfidence+`,
			retrieval_count = retrieval_count + 1,
			last_accessed_at = MAX(last_accessed_at, ?)
		WHERE id = ?`,
		now.UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to reinforce record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	return nil
}

// kindCase renders a CASE expression over the kind column from the Go-side
// per-kind tables, so SQL and Go never disagree.
func kindCase(field string) string {
	var b strings.Builder
	b.WriteString("(CASE kind")
	for _, k := range memory.Kinds {
		v := k.Boost()
		if field == "ceiling" {
			v = k.Ceiling()
		}
		fmt.Fprintf(&b, " WHEN '%s' THEN %g", k, v)
	}
	if field == "ceiling" {
		fmt.Fprintf(&b, " ELSE %g END)", memory.KindEpisodic.Ceiling())
	} else {
		fmt.Fprintf(&b, " ELSE %g END)", memory.KindEpisodic.Boost())
	}
	return b.String()
}

// SetProtected toggles the decay override on a record
func (s *SQLiteStore) SetProtected(ctx context.Context, id string, protected bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET is_protected = ?, updated_at = ? WHERE id = ?",
		boolToInt(protected), time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update protection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	return nil
}

// OverridePrivacy is the administrative path for changing a record's privacy
// level and scope. Nothing else mutates them after creation.
func (s *SQLiteStore) OverridePrivacy(ctx context.Context, id string, level memory.PrivacyLevel, scope memory.Scope) error {
	if err := memory.ValidateScope(level, scope); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET privacy_level = ?, scope_group = ?, updated_at = ? WHERE id = ?",
		string(level), scope.GroupID, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to override privacy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	return nil
}

// Supersede marks duplicate as absorbed into keeper. The duplicate drops out
// of every search and is flagged pending_cleanup; it is never deleted here.
func (s *SQLiteStore) Supersede(ctx context.Context, duplicateID, keeperID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := supersedeTx(ctx, tx, duplicateID, keeperID); err != nil {
		return err
	}
	return tx.Commit()
}

func supersedeTx(ctx context.Context, tx *sql.Tx, duplicateID, keeperID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE records SET
			superseded_by = ?,
			decay_policy = CASE WHEN kind = 'semantic' THEN decay_policy ELSE 'pending_cleanup' END,
			updated_at = ?
		WHERE id = ? AND superseded_by IS NULL`,
		keeperID, time.Now().UnixMilli(), duplicateID,
	)
	if err != nil {
		return fmt.Errorf("failed to supersede record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, duplicateID)
	}
	return nil
}

// ListByOwner returns the owner's live records with embeddings, oldest first
func (s *SQLiteStore) ListByOwner(ctx context.Context, ownerID string) ([]*memory.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`, v.embedding
		FROM records r
		LEFT JOIN record_vectors v ON v.record_id = r.id
		WHERE r.owner_id = ? AND r.superseded_by IS NULL
		ORDER BY r.created_at ASC, r.seq ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*memory.Record
	for rows.Next() {
		var blob []byte
		r, _, err := scanRecord(rows, &blob)
		if err != nil {
			return nil, err
		}
		r.Embedding = deserializeFloat32(blob)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats summarizes the store contents
type Stats struct {
	Total          int                         `json:"total"`
	Superseded     int                         `json:"superseded"`
	ByKind         map[memory.Kind]int         `json:"by_kind"`
	ByPrivacy      map[memory.PrivacyLevel]int `json:"by_privacy"`
	ByDecayPolicy  map[memory.DecayPolicy]int  `json:"by_decay_policy"`
	Protected      int                         `json:"protected"`
	MeanConfidence float64                     `json:"mean_confidence"`
}

// Stats returns counts over live records
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByKind:        make(map[memory.Kind]int),
		ByPrivacy:     make(map[memory.PrivacyLevel]int),
		ByDecayPolicy: make(map[memory.DecayPolicy]int),
	}

	var mean sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(is_protected), 0), AVG(confidence)
		FROM records WHERE superseded_by IS NULL`,
	).Scan(&st.Total, &st.Protected, &mean); err != nil {
		return nil, err
	}
	st.MeanConfidence = mean.Float64

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE superseded_by IS NOT NULL",
	).Scan(&st.Superseded); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, privacy_level, decay_policy, COUNT(*)
		FROM records WHERE superseded_by IS NULL
		GROUP BY kind, privacy_level, decay_policy`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var kind, level, policy string
		var n int
		if err := rows.Scan(&kind, &level, &policy, &n); err != nil {
			return nil, err
		}
		st.ByKind[memory.Kind(kind)] += n
		st.ByPrivacy[memory.PrivacyLevel(level)] += n
		st.ByDecayPolicy[memory.DecayPolicy(policy)] += n
	}
	return st, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// deserializeFloat32 decodes a sqlite-vec float32 blob
func deserializeFloat32(blob []byte) []float32 {
	if len(blob) == 0 {
		return nil
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}
