package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/feedsync/internal/entity"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/store"
)

var tableKinds = map[remote.Table]entity.Kind{
	remote.TableProfiles:       entity.KindUser,
	remote.TablePosts:          entity.KindPost,
	remote.TableComments:       entity.KindComment,
	remote.TableLikes:          entity.KindLike,
	remote.TableFriendRequests: entity.KindFriendRequest,
	remote.TableNotifications:  entity.KindNotification,
	remote.TableMessages:       entity.KindMessage,
	remote.TableStories:        entity.KindStory,
}

var kindTables = func() map[entity.Kind]remote.Table {
	m := make(map[entity.Kind]remote.Table, len(tableKinds))
	for t, k := range tableKinds {
		m[k] = t
	}
	return m
}()

// Timestamp accepts RFC 3339 strings, postgres text timestamps and unix
// milliseconds.
type Timestamp struct{ time.Time }

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		for _, layout := range timestampLayouts {
			if v, err := time.Parse(layout, s); err == nil {
				t.Time = v.UTC()
				return nil
			}
		}
		return fmt.Errorf("unrecognised timestamp %q", s)
	}
	var ms float64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

type profileRow struct {
	ID        string    `json:"id" validate:"required"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url"`
	Bio       string    `json:"bio"`
	CreatedAt Timestamp `json:"created_at"`
	Followers []string  `json:"followers"`
	Following []string  `json:"following"`
}

type postRow struct {
	ID         string    `json:"id" validate:"required"`
	UserID     string    `json:"user_id" validate:"required"`
	Content    string    `json:"content"`
	ImageURL   string    `json:"image_url"`
	Type       string    `json:"type"`
	CreatedAt  Timestamp `json:"created_at"`
	RepostOf   string    `json:"repost_of"`
	RepostedBy string    `json:"reposted_by"`
}

type commentRow struct {
	ID        string    `json:"id" validate:"required"`
	PostID    string    `json:"post_id" validate:"required"`
	UserID    string    `json:"user_id" validate:"required"`
	Content   string    `json:"content"`
	Text      string    `json:"text"`
	CreatedAt Timestamp `json:"created_at"`
}

type likeRow struct {
	ID        string    `json:"id" validate:"required"`
	PostID    string    `json:"post_id" validate:"required"`
	UserID    string    `json:"user_id" validate:"required"`
	CreatedAt Timestamp `json:"created_at"`
}

type friendRequestRow struct {
	ID         string    `json:"id" validate:"required"`
	SenderID   string    `json:"sender_id" validate:"required"`
	ReceiverID string    `json:"receiver_id" validate:"required"`
	Status     string    `json:"status" validate:"required,oneof=pending accepted rejected"`
	CreatedAt  Timestamp `json:"created_at"`
}

type notificationRow struct {
	ID          string    `json:"id" validate:"required"`
	Type        string    `json:"type" validate:"required,oneof=LIKE COMMENT MESSAGE FRIEND_REQUEST FRIEND_ACCEPTED"`
	SenderID    string    `json:"sender_id" validate:"required"`
	UserID      string    `json:"user_id" validate:"required"`
	ReferenceID string    `json:"reference_id"`
	CreatedAt   Timestamp `json:"created_at"`
	Read        bool      `json:"read"`
	Status      string    `json:"status" validate:"omitempty,oneof=pending accepted rejected"`
}

type messageRow struct {
	ID         string    `json:"id" validate:"required"`
	SenderID   string    `json:"sender_id" validate:"required"`
	ReceiverID string    `json:"receiver_id" validate:"required"`
	Text       string    `json:"text"`
	CreatedAt  Timestamp `json:"created_at"`
}

type storyRow struct {
	ID        string    `json:"id" validate:"required"`
	UserID    string    `json:"user_id" validate:"required"`
	ImageURL  string    `json:"image_url" validate:"required"`
	Type      string    `json:"type"`
	CreatedAt Timestamp `json:"created_at"`
}

// Mapper converts wire rows into entities. Author display fields come from
// users already in the store; unknown ones fall back to placeholders.
type Mapper struct {
	validate *validator.Validate
	now      func() time.Time
}

func NewMapper(now func() time.Time) *Mapper {
	if now == nil {
		now = time.Now
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	return &Mapper{validate: v, now: now}
}

func (m *Mapper) decode(table remote.Table, row remote.Row, dst any) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return &MalformedEventError{Table: table, Err: err}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &MalformedEventError{Table: table, Field: typeErr.Field, Err: err}
		}
		return &MalformedEventError{Table: table, Err: err}
	}
	if err := m.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &MalformedEventError{Table: table, Field: verrs[0].Field(), Err: fmt.Errorf("failed %q", verrs[0].Tag())}
		}
		return &MalformedEventError{Table: table, Err: err}
	}
	return nil
}

func (m *Mapper) stamp(t Timestamp) time.Time {
	if t.IsZero() {
		return m.now().UTC()
	}
	return t.Time
}

func author(st *store.Store, id string) (handle, avatar string) {
	if u, ok := st.User(id); ok && u.Handle != "" {
		return u.Handle, u.Avatar()
	}
	return entity.UnknownHandle, entity.DefaultAvatar
}

// ToEntity maps row of table. Errors are always *MalformedEventError.
func (m *Mapper) ToEntity(st *store.Store, table remote.Table, row remote.Row) (entity.Entity, error) {
	switch table {
	case remote.TableProfiles:
		var r profileRow
		if err := m.decode(table, row, &r); err != nil {
			return nil, err
		}
		return &entity.User{
			ID: r.ID, Handle: r.Username, DisplayName: r.FullName, AvatarRef: r.AvatarURL,
			Bio: r.Bio, JoinedAt: m.stamp(r.CreatedAt),
			Followers: entity.Dedup(r.Followers), Following: entity.Dedup(r.Following),
		}, nil
	case remote.TablePosts:
		var r postRow
		if err := m.decode(table, row, &r); err != nil {
			return nil, err
		}
		handle, avatar := author(st, r.UserID)
		kind, _ := entity.ParseMediaKind(r.Type)
		return &entity.Post{
			ID: r.ID, AuthorID: r.UserID, AuthorHandle: handle, AuthorAvatar: avatar,
			Body: r.Content, MediaRef: r.ImageURL, MediaKind: kind, CreatedAt: m.stamp(r.CreatedAt),
			RepostOf: r.RepostOf, RepostedBy: r.RepostedBy,
		}, nil
	case remote.TableComments:
		var r commentRow
		if err := m.decode(table, row, &r); err != nil {
			return nil, err
		}
		text := r.Content
		if text == "" {
			text = r.Text
		}
		handle, _ := author(st, r.UserID)
		return &entity.Comment{
			ID: r.ID, PostID: r.PostID, AuthorID: r.UserID, AuthorHandle: handle,
			Text: text, CreatedAt: m.stamp(r.CreatedAt),
		}, nil
	case remote.TableLikes:
		var r likeRow
		if err := m.decode(table, row, &r); err != nil {
			return nil, err
		}
		return &entity.Like{ID: r.ID, PostID: r.PostID, UserID: r.UserID, CreatedAt: m.stamp(r.CreatedAt)}, nil
	case remote.TableFriendRequests:
		var r friendRequestRow
		if err := m.decode(table, row, &r); err != nil {
			return nil, err
		}
		return &entity.FriendRequest{
			ID: r.ID, SenderID: r.SenderID, ReceiverID: r.ReceiverID,
			Status: entity.RequestStatus(r.Status), CreatedAt: m.stamp(r.CreatedAt),
		}, nil
	case remote.TableNotifications:
		var r notificationRow
		if err := m.decode(table, row, &r); err != nil {
			return nil, err
		}
		handle, avatar := author(st, r.SenderID)
		n := &entity.Notification{
			ID: r.ID, Type: entity.NotificationType(r.Type), SenderID: r.SenderID,
			SenderHandle: handle, SenderAvatar: avatar, ReceiverID: r.UserID,
			ReferenceID: r.ReferenceID, CreatedAt: m.stamp(r.CreatedAt), Read: r.Read,
		}
		if n.Type == entity.NotifyFriendRequest {
			n.Status = entity.RequestStatus(r.Status)
		}
		return n, nil
	case remote.TableMessages:
		var r messageRow
		if err := m.decode(table, row, &r); err != nil {
			return nil, err
		}
		return &entity.Message{
			ID: r.ID, SenderID: r.SenderID, ReceiverID: r.ReceiverID,
			Text: r.Text, Timestamp: m.stamp(r.CreatedAt),
		}, nil
	case remote.TableStories:
		var r storyRow
		if err := m.decode(table, row, &r); err != nil {
			return nil, err
		}
		handle, avatar := author(st, r.UserID)
		kind, _ := entity.ParseMediaKind(r.Type)
		return &entity.Story{
			ID: r.ID, AuthorID: r.UserID, AuthorHandle: handle, AuthorAvatar: avatar,
			MediaRef: r.ImageURL, MediaKind: kind, CreatedAt: m.stamp(r.CreatedAt),
		}, nil
	}
	return nil, &MalformedEventError{Table: table, Err: remote.ErrUnknownTable}
}

func wireTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// ToRow is the insert payload for e. Local ids are never sent; the remote
// store issues its own.
func ToRow(e entity.Entity) remote.Row {
	var r remote.Row
	switch v := e.(type) {
	case *entity.User:
		r = remote.Row{
			"username": v.Handle, "full_name": v.DisplayName, "avatar_url": v.AvatarRef, "bio": v.Bio,
			"created_at": wireTime(v.JoinedAt), "followers": nonNil(v.Followers), "following": nonNil(v.Following),
		}
	case *entity.Post:
		r = remote.Row{
			"user_id": v.AuthorID, "content": v.Body, "image_url": v.MediaRef, "type": string(v.MediaKind),
			"created_at": wireTime(v.CreatedAt),
		}
		if v.RepostOf != "" {
			r["repost_of"] = v.RepostOf
			r["reposted_by"] = v.RepostedBy
		}
	case *entity.Comment:
		r = remote.Row{"post_id": v.PostID, "user_id": v.AuthorID, "content": v.Text, "created_at": wireTime(v.CreatedAt)}
	case *entity.Like:
		r = remote.Row{"post_id": v.PostID, "user_id": v.UserID, "created_at": wireTime(v.CreatedAt)}
	case *entity.FriendRequest:
		r = remote.Row{"sender_id": v.SenderID, "receiver_id": v.ReceiverID, "status": string(v.Status), "created_at": wireTime(v.CreatedAt)}
	case *entity.Notification:
		r = remote.Row{
			"type": string(v.Type), "sender_id": v.SenderID, "user_id": v.ReceiverID,
			"reference_id": v.ReferenceID, "read": v.Read, "created_at": wireTime(v.CreatedAt),
		}
		if v.Status != entity.StatusNone {
			r["status"] = string(v.Status)
		}
	case *entity.Message:
		r = remote.Row{"sender_id": v.SenderID, "receiver_id": v.ReceiverID, "text": v.Text, "created_at": wireTime(v.Timestamp)}
	case *entity.Story:
		r = remote.Row{"user_id": v.AuthorID, "image_url": v.MediaRef, "type": string(v.MediaKind), "created_at": wireTime(v.CreatedAt)}
	default:
		return nil
	}
	if id := e.Key(); id != "" && !entity.IsLocalID(id) {
		r["id"] = id
	}
	return r
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
