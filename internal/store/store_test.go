package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedsync/internal/entity"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func seedPost(t *testing.T, s *Store, id string, at time.Time) *entity.Post {
	t.Helper()
	_, err := s.Upsert(&entity.Post{ID: id, AuthorID: "u1", Body: "body " + id, CreatedAt: at})
	require.NoError(t, err)
	p, ok := s.Post(id)
	require.True(t, ok)
	return p
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := New()
	u := &entity.User{ID: "u1", Handle: "ann", Followers: []string{"u2"}}

	changed, err := s.Upsert(u)
	require.NoError(t, err)
	assert.True(t, changed)
	before := s.Snapshot()

	changed, err = s.Upsert(u.Clone())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, before, s.Snapshot())
}

func TestUpsertKeepsPointerIdentity(t *testing.T) {
	s := New()
	_, err := s.Upsert(&entity.User{ID: "u1", Handle: "ann"})
	require.NoError(t, err)
	held, _ := s.User("u1")

	_, err = s.Upsert(&entity.User{ID: "u1", Handle: "ann", Bio: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", held.Bio)
}

func TestHandleUniqueness(t *testing.T) {
	s := New()
	_, err := s.Upsert(&entity.User{ID: "u1", Handle: "Ann"})
	require.NoError(t, err)

	_, err = s.Upsert(&entity.User{ID: "u2", Handle: "ann"})
	assert.ErrorIs(t, err, ErrHandleTaken)

	_, err = s.Upsert(&entity.User{ID: "u1", Handle: "annie"})
	require.NoError(t, err)
	_, err = s.Upsert(&entity.User{ID: "u2", Handle: "ann"})
	require.NoError(t, err)

	u, ok := s.UserByHandle("ANN")
	require.True(t, ok)
	assert.Equal(t, "u2", u.ID)
}

func TestFeedOrder(t *testing.T) {
	s := New()
	seedPost(t, s, "p2", t0.Add(time.Hour))
	seedPost(t, s, "p1", t0)
	seedPost(t, s, "p3", t0.Add(2*time.Hour))

	var ids []string
	for _, p := range s.Feed() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"p3", "p2", "p1"}, ids)
}

func TestPostUpsertKeepsChildren(t *testing.T) {
	s := New()
	seedPost(t, s, "p1", t0)
	_, err := s.Upsert(&entity.Comment{ID: "c1", PostID: "p1", AuthorID: "u2", Text: "hi"})
	require.NoError(t, err)
	_, err = s.Upsert(&entity.Like{ID: "l1", PostID: "p1", UserID: "u2"})
	require.NoError(t, err)

	changed, err := s.Upsert(&entity.Post{ID: "p1", AuthorID: "u1", Body: "edited", CreatedAt: t0})
	require.NoError(t, err)
	assert.True(t, changed)

	p, _ := s.Post("p1")
	assert.Equal(t, "edited", p.Body)
	assert.Len(t, p.Comments, 1)
	assert.Equal(t, []string{"u2"}, p.Likes)
}

func TestChildrenNeedPost(t *testing.T) {
	s := New()
	_, err := s.Upsert(&entity.Comment{ID: "c1", PostID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Upsert(&entity.Like{ID: "l1", PostID: "missing", UserID: "u1"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommentPointerShared(t *testing.T) {
	s := New()
	p := seedPost(t, s, "p1", t0)
	_, err := s.Upsert(&entity.Comment{ID: "c1", PostID: "p1", Text: "a"})
	require.NoError(t, err)

	_, err = s.Upsert(&entity.Comment{ID: "c1", PostID: "p1", Text: "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", p.Comments[0].Text)

	c, _ := s.Comment("c1")
	assert.Same(t, p.Comments[0], c)
}

func TestLikeWithSamePairAdoptsID(t *testing.T) {
	s := New()
	p := seedPost(t, s, "p1", t0)
	local := entity.NewLocalID()
	_, err := s.Upsert(&entity.Like{ID: local, PostID: "p1", UserID: "u2"})
	require.NoError(t, err)

	changed, err := s.Upsert(&entity.Like{ID: "l-9", PostID: "p1", UserID: "u2"})
	require.NoError(t, err)
	assert.True(t, changed)

	_, ok := s.Like(local)
	assert.False(t, ok)
	l, ok := s.LikeOf("p1", "u2")
	require.True(t, ok)
	assert.Equal(t, "l-9", l.ID)
	assert.Equal(t, []string{"u2"}, p.Likes)
	assert.Equal(t, 1, s.Len(entity.KindLike))
}

func TestRemovePostCascades(t *testing.T) {
	s := New()
	seedPost(t, s, "p1", t0)
	_, _ = s.Upsert(&entity.Comment{ID: "c1", PostID: "p1"})
	_, _ = s.Upsert(&entity.Like{ID: "l1", PostID: "p1", UserID: "u2"})
	_, _ = s.Upsert(&entity.Notification{ID: "n1", Type: entity.NotifyLike, ReferenceID: "p1"})

	assert.True(t, s.Remove(entity.KindPost, "p1"))
	assert.False(t, s.Remove(entity.KindPost, "p1"))

	assert.Equal(t, 0, s.Len(entity.KindComment))
	assert.Equal(t, 0, s.Len(entity.KindLike))
	assert.Empty(t, s.Feed())
	_, ok := s.Notification("n1")
	assert.True(t, ok)
}

func TestRemoveLikeOf(t *testing.T) {
	s := New()
	_, err := s.Upsert(&entity.Post{ID: "p1", Likes: []string{"u3"}})
	require.NoError(t, err)
	_, _ = s.Upsert(&entity.Like{ID: "l1", PostID: "p1", UserID: "u2"})

	assert.True(t, s.RemoveLikeOf("p1", "u2"))
	assert.True(t, s.RemoveLikeOf("p1", "u3"))
	assert.False(t, s.RemoveLikeOf("p1", "u3"))
	p, _ := s.Post("p1")
	assert.Empty(t, p.Likes)
}

func TestRekeyPostMovesReferences(t *testing.T) {
	s := New()
	local := entity.NewLocalID()
	p := seedPost(t, s, local, t0)
	_, _ = s.Upsert(&entity.Comment{ID: "c1", PostID: local})
	_, _ = s.Upsert(&entity.Like{ID: "l1", PostID: local, UserID: "u2"})
	_, _ = s.Upsert(&entity.Post{ID: "p9", RepostOf: local, CreatedAt: t0.Add(time.Minute)})
	_, _ = s.Upsert(&entity.Notification{ID: "n1", ReferenceID: local})

	require.NoError(t, s.Rekey(entity.KindPost, local, "p1"))

	got, ok := s.Post("p1")
	require.True(t, ok)
	assert.Same(t, p, got)
	_, ok = s.Post(local)
	assert.False(t, ok)
	assert.Equal(t, "p1", p.Comments[0].PostID)
	l, ok := s.LikeOf("p1", "u2")
	require.True(t, ok)
	assert.Equal(t, "p1", l.PostID)
	repost, _ := s.Post("p9")
	assert.Equal(t, "p1", repost.RepostOf)
	n, _ := s.Notification("n1")
	assert.Equal(t, "p1", n.ReferenceID)
	assert.Equal(t, "p1", s.Feed()[1].ID)
}

func TestRekeyMergesIntoExisting(t *testing.T) {
	s := New()
	local := entity.NewLocalID()
	seedPost(t, s, local, t0)
	_, _ = s.Upsert(&entity.Comment{ID: "c1", PostID: local})
	seedPost(t, s, "p1", t0)

	require.NoError(t, s.Rekey(entity.KindPost, local, "p1"))
	assert.Equal(t, 1, s.Len(entity.KindPost))
	p, _ := s.Post("p1")
	require.Len(t, p.Comments, 1)
	assert.Equal(t, "p1", p.Comments[0].PostID)
	c, ok := s.Comment("c1")
	require.True(t, ok)
	assert.Same(t, p.Comments[0], c)
}

func TestRekeyMissing(t *testing.T) {
	s := New()
	seedPost(t, s, "p1", t0)
	assert.NoError(t, s.Rekey(entity.KindPost, "local-gone", "p1"))
	assert.ErrorIs(t, s.Rekey(entity.KindPost, "local-gone", "p2"), ErrNotFound)
}

func TestFindLocalPicksOldest(t *testing.T) {
	s := New()
	seedPost(t, s, "p1", t0)
	first := &entity.Comment{ID: entity.NewLocalID(), PostID: "p1", AuthorID: "u1", Text: "same"}
	second := &entity.Comment{ID: entity.NewLocalID(), PostID: "p1", AuthorID: "u1", Text: "same"}
	_, _ = s.Upsert(first)
	_, _ = s.Upsert(second)
	_, _ = s.Upsert(&entity.Comment{ID: "c-remote", PostID: "p1", AuthorID: "u1", Text: "same"})

	e, ok := s.FindLocal(entity.KindComment, first.Fingerprint())
	require.True(t, ok)
	assert.Equal(t, first.ID, e.Key())

	_, ok = s.FindLocal(entity.KindComment, "nothing")
	assert.False(t, ok)
}

func TestQueryOrderAndFilter(t *testing.T) {
	s := New()
	for _, id := range []string{"m3", "m1", "m2"} {
		_, err := s.Upsert(&entity.Message{ID: id, SenderID: "a", ReceiverID: "b"})
		require.NoError(t, err)
	}
	var ids []string
	for _, e := range s.Query(entity.KindMessage, nil) {
		ids = append(ids, e.Key())
	}
	assert.Equal(t, []string{"m3", "m1", "m2"}, ids)

	got := s.Query(entity.KindMessage, func(e entity.Entity) bool { return e.Key() != "m1" })
	assert.Len(t, got, 2)
}

func TestPendingRequest(t *testing.T) {
	s := New()
	_, _ = s.Upsert(&entity.FriendRequest{ID: "r1", SenderID: "a", ReceiverID: "b", Status: entity.StatusRejected})
	_, ok := s.PendingRequest("a", "b")
	assert.False(t, ok)

	_, _ = s.Upsert(&entity.FriendRequest{ID: "r2", SenderID: "a", ReceiverID: "b", Status: entity.StatusPending})
	r, ok := s.PendingRequest("a", "b")
	require.True(t, ok)
	assert.Equal(t, "r2", r.ID)
}

func TestUnknownKind(t *testing.T) {
	_, err := New().Upsert(nil)
	assert.Error(t, err)
}
