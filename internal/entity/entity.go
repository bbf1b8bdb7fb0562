// Package entity holds the in-memory shapes the sync engine keeps for posts,
// users, follow requests, notifications, messages and stories.
package entity

import (
	"strings"

	"github.com/google/uuid"
)

// Kind names a collection in the entity store.
type Kind string

const (
	KindUser          Kind = "user"
	KindPost          Kind = "post"
	KindComment       Kind = "comment"
	KindLike          Kind = "like"
	KindFriendRequest Kind = "friend_request"
	KindNotification  Kind = "notification"
	KindMessage       Kind = "message"
	KindStory         Kind = "story"
)

// Kinds lists every collection in load order (users first so display fields resolve).
var Kinds = []Kind{
	KindUser, KindPost, KindComment, KindLike,
	KindFriendRequest, KindNotification, KindMessage, KindStory,
}

// Entity is implemented by every value held in the entity store.
type Entity interface {
	Kind() Kind
	Key() string
	// SetKey replaces the identifier in place. Only the store calls it, so
	// that every index keyed by the old id is re-keyed in the same step.
	SetKey(id string)
	Clone() Entity
	Equal(other Entity) bool
	// Fingerprint is the logical identity of a mutation, independent of id.
	Fingerprint() string
}

// LocalIDPrefix marks identifiers synthesized before the remote store confirmed a write.
const LocalIDPrefix = "local-"

// DefaultAvatar is used whenever a user has no avatar.
const DefaultAvatar = "https://www.gravatar.com/avatar/00000000000000000000000000000000?d=mp&f=y"

// UnknownHandle is shown for authors the store does not know yet.
const UnknownHandle = "unknown"

// NewLocalID returns a fresh temporary identifier.
func NewLocalID() string { return LocalIDPrefix + uuid.NewString() }

// IsLocalID reports whether id was synthesized locally.
func IsLocalID(id string) bool { return strings.HasPrefix(id, LocalIDPrefix) }

// MediaKind is the type of a post or story attachment.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// ParseMediaKind maps wire values onto a MediaKind, defaulting to image.
func ParseMediaKind(s string) (MediaKind, bool) {
	switch MediaKind(strings.ToLower(strings.TrimSpace(s))) {
	case MediaVideo:
		return MediaVideo, true
	case MediaImage, "":
		return MediaImage, true
	}
	return MediaImage, false
}

func fingerprint(parts ...string) string { return strings.Join(parts, "\x1f") }
