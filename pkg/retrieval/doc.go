// Package retrieval implements hybrid lexical and vector retrieval over the
// memory store.
//
// Both candidate searches run in parallel with the requester's visibility
// predicate applied inside the query, so a record the requester may not see
// can never influence ranking. The two ranked lists are fused with
// Reciprocal Rank Fusion (k=60) and truncated to K. Ids of returned records
// are handed to the reinforcement queue after the result is produced.
package retrieval
