package retrieval

import (
	"sort"

	"github.com/harun/recall/pkg/memory"
	"github.com/harun/recall/pkg/store"
)

// DefaultRRFK is the rank smoothing constant of Reciprocal Rank Fusion
const DefaultRRFK = 60

// Source says which candidate lists a hit came from
type Source string

const (
	SourceLexical Source = "lexical"
	SourceVector  Source = "vector"
	SourceBoth    Source = "both"
)

// Hit is one fused retrieval result
type Hit struct {
	Record          *memory.Record `json:"record"`
	Similarity      float64        `json:"similarity"`
	LexicalRank     int            `json:"lexical_rank,omitempty"` // 1-indexed, 0 when absent
	VectorRank      int            `json:"vector_rank,omitempty"`  // 1-indexed, 0 when absent
	FusedScore      float64        `json:"fused_score"`
	Source          Source         `json:"source"`
	ConfidenceLabel string         `json:"confidence_label"`
	AgeLabel        string         `json:"age_label"`
}

// Fuse merges the lexical and vector candidate lists with Reciprocal Rank
// Fusion: score(d) = sum over lists of 1/(k + rank(d)), ranks 1-indexed.
// A record present in only one list still scores from that list alone.
// Results are ordered by fused score, then confidence, then id.
func Fuse(lexical []store.LexicalHit, vector []store.VectorHit, k int) []Hit {
	if k < 1 {
		k = DefaultRRFK
	}
	if len(lexical) == 0 && len(vector) == 0 {
		return nil
	}

	byID := make(map[string]*Hit, len(lexical)+len(vector))
	order := make([]string, 0, len(lexical)+len(vector))

	get := func(r *memory.Record) *Hit {
		h, ok := byID[r.ID]
		if !ok {
			h = &Hit{Record: r}
			byID[r.ID] = h
			order = append(order, r.ID)
		}
		return h
	}

	for i, lh := range lexical {
		h := get(lh.Record)
		if h.LexicalRank != 0 {
			continue
		}
		h.LexicalRank = i + 1
		h.FusedScore += 1.0 / float64(k+i+1)
	}
	for i, vh := range vector {
		h := get(vh.Record)
		if h.VectorRank != 0 {
			continue
		}
		h.VectorRank = i + 1
		h.Similarity = vh.Similarity
		h.FusedScore += 1.0 / float64(k+i+1)
	}

	hits := make([]Hit, 0, len(byID))
	for _, id := range order {
		h := byID[id]
		switch {
		case h.LexicalRank > 0 && h.VectorRank > 0:
			h.Source = SourceBoth
		case h.LexicalRank > 0:
			h.Source = SourceLexical
		default:
			h.Source = SourceVector
		}
		hits = append(hits, *h)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].FusedScore != hits[j].FusedScore {
			return hits[i].FusedScore > hits[j].FusedScore
		}
		if hits[i].Record.Confidence != hits[j].Record.Confidence {
			return hits[i].Record.Confidence > hits[j].Record.Confidence
		}
		return hits[i].Record.ID < hits[j].Record.ID
	})

	return hits
}
