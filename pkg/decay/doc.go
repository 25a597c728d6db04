// Package decay lowers the confidence of records that have not been accessed
// recently.
//
// Confidence is recomputed from the record's base confidence (its value at
// the last access, merge or ingest) and the whole 30-day periods since last
// access:
//
//	resistance = min(1, retrieval_count/10)
//	rate       = 0.95 + 0.04*resistance
//	confidence = max(0.10, base * rate^periods)
//
// Because the base never moves during decay, repeated runs inside one period
// are no-ops. Semantic and protected records are never touched. A record that
// has reached the floor and gone unaccessed for 90 days is moved to the
// pending_cleanup policy; nothing is deleted.
package decay
