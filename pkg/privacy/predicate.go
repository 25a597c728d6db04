package privacy

import (
	"fmt"
	"strings"

	"github.com/harun/recall/pkg/memory"
)

// Mode is the querying context a visibility predicate was built for
type Mode string

const (
	ModePrivate    Mode = "private"
	ModeRestricted Mode = "restricted"
	ModePublic     Mode = "public"
	// ModeClosed admits only the requester's own global records. It is the
	// fail-closed mode used when the querying context cannot be classified.
	ModeClosed Mode = "closed"
)

// Predicate decides which records a requester may see from a given context.
// The same rules are available as an in-memory check (Admits) and as a SQL
// clause (SQL) so that candidate searches can filter before ranking.
type Predicate struct {
	RequesterID string
	Mode        Mode
	GroupID     string
}

// VisibilityFor converts the querying context into a visibility predicate
func VisibilityFor(requesterID string, origin Origin) Predicate {
	p := Predicate{RequesterID: requesterID, Mode: ModeClosed}

	switch origin.Kind {
	case OriginDirect:
		p.Mode = ModePrivate
	case OriginRestrictedGroup:
		if origin.GroupID != "" {
			p.Mode = ModeRestricted
			p.GroupID = origin.GroupID
		}
	case OriginOpenGroup:
		if origin.GroupID != "" {
			p.Mode = ModePublic
			p.GroupID = origin.GroupID
		}
	}

	return p
}

// Closed reports whether the predicate is in fail-closed mode
func (p Predicate) Closed() bool {
	return p.Mode == ModeClosed
}

// Admits reports whether r is visible under the predicate
func (p Predicate) Admits(r *memory.Record) bool {
	if r == nil || p.RequesterID == "" {
		return false
	}

	own := r.OwnerID == p.RequesterID
	if own && r.PrivacyLevel == memory.PrivacyGlobal {
		return true
	}

	switch p.Mode {
	case ModePrivate:
		return own && r.PrivacyLevel == memory.PrivacyPrivate
	case ModeRestricted:
		if r.PrivacyLevel == memory.PrivacyPublic && r.OriginScope.GroupID == p.GroupID {
			return true
		}
		return own &&
			(r.PrivacyLevel == memory.PrivacyPrivate || r.PrivacyLevel == memory.PrivacyRestricted) &&
			r.OriginScope.GroupID == p.GroupID
	case ModePublic:
		return r.PrivacyLevel == memory.PrivacyPublic && r.OriginScope.GroupID == p.GroupID
	}

	return false
}

// SQL renders the predicate as a WHERE fragment over the records table.
// alias is the table alias (empty for none). The fragment is parenthesised and
// uses positional placeholders.
func (p Predicate) SQL(alias string) (string, []any) {
	if p.RequesterID == "" {
		return "(0)", nil
	}

	col := func(name string) string {
		if alias == "" {
			return name
		}
		return alias + "." + name
	}

	var clauses []string
	var args []any

	clauses = append(clauses, fmt.Sprintf("(%s = ? AND %s = ?)", col("owner_id"), col("privacy_level")))
	args = append(args, p.RequesterID, string(memory.PrivacyGlobal))

	switch p.Mode {
	case ModePrivate:
		clauses = append(clauses, fmt.Sprintf("(%s = ? AND %s = ?)", col("owner_id"), col("privacy_level")))
		args = append(args, p.RequesterID, string(memory.PrivacyPrivate))
	case ModeRestricted:
		clauses = append(clauses, fmt.Sprintf("(%s = ? AND %s = ?)", col("privacy_level"), col("scope_group")))
		args = append(args, string(memory.PrivacyPublic), p.GroupID)
		clauses = append(clauses, fmt.Sprintf("(%s = ? AND %s IN (?, ?) AND %s = ?)", col("owner_id"), col("privacy_level"), col("scope_group")))
		args = append(args, p.RequesterID, string(memory.PrivacyPrivate), string(memory.PrivacyRestricted), p.GroupID)
	case ModePublic:
		clauses = append(clauses, fmt.Sprintf("(%s = ? AND %s = ?)", col("privacy_level"), col("scope_group")))
		args = append(args, string(memory.PrivacyPublic), p.GroupID)
	}

	return "(" + strings.Join(clauses, " OR ") + ")", args
}

// String is used in log fields
func (p Predicate) String() string {
	if p.GroupID == "" {
		return string(p.Mode)
	}
	return string(p.Mode) + ":" + p.GroupID
}
