package privacy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/harun/recall/pkg/memory"
)

// ErrUnclassifiable is returned when an origin context cannot be mapped to a
// privacy level. Callers must treat it as maximally restrictive.
var ErrUnclassifiable = errors.New("origin context cannot be classified")

// OriginKind describes the conversation scope a fact or query came from
type OriginKind string

const (
	OriginDirect          OriginKind = "direct"           // private one-to-one exchange
	OriginRestrictedGroup OriginKind = "restricted_group" // scope-restricted group
	OriginOpenGroup       OriginKind = "open_group"       // open group
	OriginAnywhere        OriginKind = "anywhere"         // explicit "always visible"
)

// Origin is the context descriptor supplied by the chat layer
type Origin struct {
	Kind    OriginKind `json:"kind"`
	UserID  string     `json:"user_id,omitempty"`
	GroupID string     `json:"group_id,omitempty"`
}

// ParseOriginKind converts a string into an OriginKind
func ParseOriginKind(s string) (OriginKind, error) {
	k := OriginKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case OriginDirect, OriginRestrictedGroup, OriginOpenGroup, OriginAnywhere:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown origin kind %q", ErrUnclassifiable, s)
}

// Classify maps an origin context to the privacy level and scope a record
// created from it carries. It is pure: it never consults the store.
func Classify(origin Origin) (memory.PrivacyLevel, memory.Scope, error) {
	switch origin.Kind {
	case OriginDirect:
		return memory.PrivacyPrivate, memory.Scope{}, nil
	case OriginRestrictedGroup:
		if origin.GroupID == "" {
			return "", memory.Scope{}, fmt.Errorf("%w: restricted group without group id", ErrUnclassifiable)
		}
		return memory.PrivacyRestricted, memory.Scope{GroupID: origin.GroupID}, nil
	case OriginOpenGroup:
		if origin.GroupID == "" {
			return "", memory.Scope{}, fmt.Errorf("%w: open group without group id", ErrUnclassifiable)
		}
		return memory.PrivacyPublic, memory.Scope{GroupID: origin.GroupID}, nil
	case OriginAnywhere:
		return memory.PrivacyGlobal, memory.Scope{}, nil
	}
	return "", memory.Scope{}, fmt.Errorf("%w: kind %q", ErrUnclassifiable, origin.Kind)
}
