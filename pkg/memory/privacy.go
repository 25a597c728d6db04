package memory

import (
	"fmt"
	"strings"
)

// PrivacyLevel is the visibility scope of a record. Levels are ordered from
// the narrowest (private) to the widest (global).
type PrivacyLevel string

const (
	PrivacyPrivate    PrivacyLevel = "private"
	PrivacyRestricted PrivacyLevel = "restricted"
	PrivacyPublic     PrivacyLevel = "public"
	PrivacyGlobal     PrivacyLevel = "global"
)

// ParsePrivacyLevel converts a string into a PrivacyLevel
func ParsePrivacyLevel(s string) (PrivacyLevel, error) {
	p := PrivacyLevel(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPrivacy, s)
	}
	return p, nil
}

// Valid reports whether p is a known level
func (p PrivacyLevel) Valid() bool {
	switch p {
	case PrivacyPrivate, PrivacyRestricted, PrivacyPublic, PrivacyGlobal:
		return true
	}
	return false
}

// Rank orders levels by how widely they are visible
func (p PrivacyLevel) Rank() int {
	switch p {
	case PrivacyPrivate:
		return 0
	case PrivacyRestricted:
		return 1
	case PrivacyPublic:
		return 2
	case PrivacyGlobal:
		return 3
	}
	return -1
}

// Scope holds the group identifiers a restricted or public record is bound to.
// Global records never carry one; private records only when pinned to a
// restricted group.
type Scope struct {
	GroupID string `json:"group_id,omitempty"`
}

// IsZero reports whether the scope carries no identifiers
func (s Scope) IsZero() bool {
	return s.GroupID == ""
}

// ValidateScope checks that a scope is consistent with its privacy level
func ValidateScope(level PrivacyLevel, scope Scope) error {
	switch level {
	case PrivacyRestricted, PrivacyPublic:
		if scope.IsZero() {
			return fmt.Errorf("%w: %s records require a group scope", ErrInvalidPrivacy, level)
		}
	case PrivacyGlobal:
		if !scope.IsZero() {
			return fmt.Errorf("%w: global records cannot carry a group scope", ErrInvalidPrivacy)
		}
	case PrivacyPrivate:
		// a private record may be pinned to the restricted group it came from
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPrivacy, level)
	}
	return nil
}
