package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedsync/internal/entity"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/store"
)

func fixedMapper() *Mapper {
	return NewMapper(func() time.Time { return t0 })
}

func TestTimestampFormats(t *testing.T) {
	want := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	m := fixedMapper()
	st := store.New()
	for _, v := range []any{
		"2024-03-04T05:06:07Z",
		"2024-03-04T07:06:07+02:00",
		"2024-03-04 05:06:07+00",
		"2024-03-04 05:06:07",
		want.UnixMilli(),
	} {
		ent, err := m.ToEntity(st, remote.TableLikes, remote.Row{"id": "l1", "post_id": "p1", "user_id": "u1", "created_at": v})
		require.NoError(t, err, "%v", v)
		assert.True(t, want.Equal(ent.(*entity.Like).CreatedAt), "%v", v)
	}

	ent, err := m.ToEntity(st, remote.TableLikes, remote.Row{"id": "l1", "post_id": "p1", "user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, t0, ent.(*entity.Like).CreatedAt)
}

func TestToEntityReportsField(t *testing.T) {
	m := fixedMapper()
	_, err := m.ToEntity(store.New(), remote.TableFriendRequests,
		remote.Row{"id": "r1", "sender_id": "u1", "receiver_id": "u2", "status": "maybe"})

	var bad *MalformedEventError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, "status", bad.Field)
	assert.Equal(t, remote.TableFriendRequests, bad.Table)

	_, err = m.ToEntity(store.New(), remote.TableProfiles, remote.Row{"id": "u1", "followers": "u2"})
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, "followers", bad.Field)
}

func TestToEntityAuthorFields(t *testing.T) {
	m := fixedMapper()
	st := store.New()
	_, err := st.Upsert(&entity.User{ID: "u2", Handle: "bob", AvatarRef: "b.png"})
	require.NoError(t, err)

	ent, err := m.ToEntity(st, remote.TablePosts, remote.Row{"id": "p1", "user_id": "u2", "content": "x", "type": "VIDEO"})
	require.NoError(t, err)
	p := ent.(*entity.Post)
	assert.Equal(t, "bob", p.AuthorHandle)
	assert.Equal(t, "b.png", p.AuthorAvatar)
	assert.Equal(t, entity.MediaVideo, p.MediaKind)

	ent, err = m.ToEntity(st, remote.TableComments, remote.Row{"id": "c1", "post_id": "p1", "user_id": "u9", "text": "legacy"})
	require.NoError(t, err)
	c := ent.(*entity.Comment)
	assert.Equal(t, entity.UnknownHandle, c.AuthorHandle)
	assert.Equal(t, "legacy", c.Text)

	ent, err = m.ToEntity(st, remote.TableProfiles, remote.Row{"id": "u3", "followers": []string{"u1", "u1", "u2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ent.(*entity.User).Followers)
}

func TestToRowOmitsLocalIDs(t *testing.T) {
	local := &entity.Comment{ID: entity.NewLocalID(), PostID: "p1", AuthorID: "u1", Text: "hi", CreatedAt: t0}
	row := ToRow(local)
	_, hasID := row["id"]
	assert.False(t, hasID)
	assert.Equal(t, "hi", row["content"])
	assert.Equal(t, "2024-06-01T09:00:00Z", row["created_at"])

	n := &entity.Notification{ID: "n1", Type: entity.NotifyLike, SenderID: "u1", ReceiverID: "u2", ReferenceID: "p1"}
	row = ToRow(n)
	assert.Equal(t, "n1", row["id"])
	assert.Equal(t, "u2", row["user_id"])
	_, hasStatus := row["status"]
	assert.False(t, hasStatus)

	u := &entity.User{ID: "u1", Handle: "ann"}
	assert.Equal(t, []string{}, ToRow(u)["followers"])
	assert.Nil(t, ToRow(nil))
}

func TestRowRoundTripThroughMapper(t *testing.T) {
	m := fixedMapper()
	st := store.New()
	orig := &entity.FriendRequest{ID: "r1", SenderID: "u1", ReceiverID: "u2", Status: entity.StatusPending, CreatedAt: t0}
	ent, err := m.ToEntity(st, remote.TableFriendRequests, ToRow(orig))
	require.NoError(t, err)
	assert.True(t, orig.Equal(ent))
}
