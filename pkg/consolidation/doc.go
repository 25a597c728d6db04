// Package consolidation turns extracted candidate facts into memory records.
//
// Each candidate is embedded and compared against the owner's live records at
// exactly the same privacy level and scope. A match at or above the merge
// threshold is merged (evidence appended, source count incremented,
// confidence raised toward the kind's ceiling); otherwise a new record is
// added. Merge detection is not globally locked, so concurrent ingests can
// still create near-duplicates; Reconcile folds those together later.
package consolidation
