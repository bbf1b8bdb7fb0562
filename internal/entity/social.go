package entity

import "time"

// RequestStatus is the state of a friend request.
type RequestStatus string

const (
	StatusNone     RequestStatus = ""
	StatusPending  RequestStatus = "pending"
	StatusAccepted RequestStatus = "accepted"
	StatusRejected RequestStatus = "rejected"
)

// Terminal reports whether s can no longer change.
func (s RequestStatus) Terminal() bool { return s == StatusAccepted || s == StatusRejected }

// Valid reports whether s is one of the wire values.
func (s RequestStatus) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// FriendRequest lives between a follow request and its resolution.
type FriendRequest struct {
	ID         string
	SenderID   string
	ReceiverID string
	Status     RequestStatus
	CreatedAt  time.Time
}

func (r *FriendRequest) Kind() Kind       { return KindFriendRequest }
func (r *FriendRequest) Key() string      { return r.ID }
func (r *FriendRequest) SetKey(id string) { r.ID = id }
func (r *FriendRequest) Clone() Entity    { cp := *r; return &cp }

func (r *FriendRequest) Fingerprint() string {
	return fingerprint(string(KindFriendRequest), r.SenderID, r.ReceiverID)
}

func (r *FriendRequest) Equal(other Entity) bool {
	o, ok := other.(*FriendRequest)
	return ok && r.ID == o.ID && r.SenderID == o.SenderID && r.ReceiverID == o.ReceiverID &&
		r.Status == o.Status && r.CreatedAt.Equal(o.CreatedAt)
}

// NotificationType enumerates what a notification reports.
type NotificationType string

const (
	NotifyLike           NotificationType = "LIKE"
	NotifyComment        NotificationType = "COMMENT"
	NotifyMessage        NotificationType = "MESSAGE"
	NotifyFriendRequest  NotificationType = "FRIEND_REQUEST"
	NotifyFriendAccepted NotificationType = "FRIEND_ACCEPTED"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotifyLike, NotifyComment, NotifyMessage, NotifyFriendRequest, NotifyFriendAccepted:
		return true
	}
	return false
}

// Notification is routed to ReceiverID. ReferenceID may dangle once the
// referenced post is deleted.
type Notification struct {
	ID           string
	Type         NotificationType
	SenderID     string
	SenderHandle string
	SenderAvatar string
	ReceiverID   string
	ReferenceID  string
	CreatedAt    time.Time
	Read         bool
	// Status mirrors the friend request for FRIEND_REQUEST notifications only.
	Status RequestStatus
}

func (n *Notification) Kind() Kind       { return KindNotification }
func (n *Notification) Key() string      { return n.ID }
func (n *Notification) SetKey(id string) { n.ID = id }
func (n *Notification) Clone() Entity    { cp := *n; return &cp }

func (n *Notification) Fingerprint() string {
	return fingerprint(string(KindNotification), string(n.Type), n.SenderID, n.ReceiverID, n.ReferenceID)
}

func (n *Notification) Equal(other Entity) bool {
	o, ok := other.(*Notification)
	return ok && n.ID == o.ID && n.Type == o.Type && n.SenderID == o.SenderID &&
		n.SenderHandle == o.SenderHandle && n.SenderAvatar == o.SenderAvatar &&
		n.ReceiverID == o.ReceiverID && n.ReferenceID == o.ReferenceID &&
		n.CreatedAt.Equal(o.CreatedAt) && n.Read == o.Read && n.Status == o.Status
}

// Message is immutable once created.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Text       string
	Timestamp  time.Time
}

func (m *Message) Kind() Kind       { return KindMessage }
func (m *Message) Key() string      { return m.ID }
func (m *Message) SetKey(id string) { m.ID = id }
func (m *Message) Clone() Entity    { cp := *m; return &cp }

func (m *Message) Fingerprint() string {
	return fingerprint(string(KindMessage), m.SenderID, m.ReceiverID, m.Text)
}

func (m *Message) Equal(other Entity) bool {
	o, ok := other.(*Message)
	return ok && m.ID == o.ID && m.SenderID == o.SenderID && m.ReceiverID == o.ReceiverID &&
		m.Text == o.Text && m.Timestamp.Equal(o.Timestamp)
}

// Between reports whether the message belongs to the conversation of a and b.
func (m *Message) Between(a, b string) bool {
	return m.SenderID == a && m.ReceiverID == b || m.SenderID == b && m.ReceiverID == a
}

// StoryTTL is how long a story stays visible.
const StoryTTL = 24 * time.Hour

// Story expires StoryTTL after CreatedAt. Expiry is a read filter, never a deletion.
type Story struct {
	ID           string
	AuthorID     string
	AuthorHandle string
	AuthorAvatar string
	MediaRef     string
	MediaKind    MediaKind
	CreatedAt    time.Time
}

func (s *Story) Kind() Kind       { return KindStory }
func (s *Story) Key() string      { return s.ID }
func (s *Story) SetKey(id string) { s.ID = id }
func (s *Story) Clone() Entity    { cp := *s; return &cp }

func (s *Story) Fingerprint() string {
	return fingerprint(string(KindStory), s.AuthorID, s.MediaRef)
}

func (s *Story) Equal(other Entity) bool {
	o, ok := other.(*Story)
	return ok && s.ID == o.ID && s.AuthorID == o.AuthorID && s.AuthorHandle == o.AuthorHandle &&
		s.AuthorAvatar == o.AuthorAvatar && s.MediaRef == o.MediaRef && s.MediaKind == o.MediaKind &&
		s.CreatedAt.Equal(o.CreatedAt)
}

// ActiveAt reports whether the story is still visible at now.
func (s *Story) ActiveAt(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = StoryTTL
	}
	return now.Sub(s.CreatedAt) < ttl
}
