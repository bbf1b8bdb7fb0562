package httpstore

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/feedsync/internal/api/handler"
	"github.com/d60-Lab/feedsync/internal/api/router"
	"github.com/d60-Lab/feedsync/internal/cache"
	"github.com/d60-Lab/feedsync/internal/changefeed"
	"github.com/d60-Lab/feedsync/internal/entity"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/internal/service"
)

func startServer(t *testing.T, ping time.Duration) string {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repository.Migrate(db))

	broker := changefeed.NewMemoryBroker(256)
	relay := changefeed.NewRelay(repository.NewOutboxRepository(db), broker, 64, 5*time.Millisecond)
	stop := relay.Start()
	t.Cleanup(func() { _ = stop(context.Background()) })

	h := handler.NewHandler(repository.NewTableStore(db, broker), cache.NewRelationCache(db, nil, time.Minute))
	h.SetPingInterval(ping)
	srv := httptest.NewServer(router.Setup(h, gin.TestMode, "feedsync-test"))
	t.Cleanup(srv.Close)
	return srv.URL
}

func next(t *testing.T, ch <-chan remote.ChangeEvent) remote.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok)
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no change event")
	}
	return remote.ChangeEvent{}
}

func TestClientCRUD(t *testing.T) {
	c := New(startServer(t, time.Second), DefaultSettings())
	ctx := context.Background()

	row, err := c.Insert(ctx, remote.TableMessages, remote.Row{"sender_id": "u1", "receiver_id": "u2", "text": "hey"})
	require.NoError(t, err)
	id := row.ID()
	require.NotEmpty(t, id)

	require.NoError(t, c.Update(ctx, remote.TableMessages, id, remote.Row{"text": "hey!"}))
	rows, err := c.Query(ctx, remote.TableMessages, remote.Filter{"receiver_id": "u2"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "hey!", rows[0].String("text"))

	require.NoError(t, c.Delete(ctx, remote.TableMessages, id))
	require.NoError(t, c.Delete(ctx, remote.TableMessages, id))
	rows, err = c.Query(ctx, remote.TableMessages, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestClientErrors(t *testing.T) {
	c := New(startServer(t, time.Second), DefaultSettings())
	ctx := context.Background()

	err := c.Update(ctx, remote.TablePosts, "missing", remote.Row{"content": "x"})
	assert.ErrorIs(t, err, remote.ErrNotFound)

	like := remote.Row{"post_id": "p1", "user_id": "u1"}
	_, err = c.Insert(ctx, remote.TableLikes, like)
	require.NoError(t, err)
	_, err = c.Insert(ctx, remote.TableLikes, like)
	assert.ErrorIs(t, err, remote.ErrConflict)

	_, err = c.Query(ctx, remote.Table("bogus"), nil)
	assert.ErrorIs(t, err, remote.ErrUnknownTable)
	_, err = c.Subscribe(ctx, remote.Table("bogus"), nil)
	assert.ErrorIs(t, err, remote.ErrUnknownTable)

	_, err = c.Insert(ctx, remote.TablePosts, remote.Row{"nope": true})
	assert.ErrorIs(t, err, ErrRequest)
}

func TestSubscribeStreamsFilteredChanges(t *testing.T) {
	c := New(startServer(t, 20*time.Millisecond), DefaultSettings())
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Subscribe(ctx, remote.TableNotifications, remote.Filter{"user_id": "u2"})
	require.NoError(t, err)

	for _, uid := range []string{"u3", "u2"} {
		_, err := c.Insert(ctx, remote.TableNotifications, remote.Row{"type": "LIKE", "sender_id": "u1", "user_id": uid, "reference_id": "p1"})
		require.NoError(t, err)
	}
	ev := next(t, ch)
	assert.Equal(t, remote.OpInsert, ev.Op)
	assert.Equal(t, "u2", ev.Row.String("user_id"))

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("stream not closed")
	}
}

func TestSubscribeRedialsAfterDrop(t *testing.T) {
	// no keep-alive frames: every connection times out on the client side
	c := New(startServer(t, time.Hour), Settings{ReadTimeout: 80 * time.Millisecond, ReconnectTimeout: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := c.Subscribe(ctx, remote.TableStories, nil)
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	assert.Eventually(t, func() bool {
		if _, err := c.Insert(ctx, remote.TableStories, remote.Row{"user_id": "u1", "image_url": "s.jpg"}); err != nil {
			return false
		}
		select {
		case ev := <-ch:
			return ev.Table == remote.TableStories
		case <-time.After(60 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
}

func TestEngineOverHTTP(t *testing.T) {
	c := New(startServer(t, 50*time.Millisecond), DefaultSettings())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, p := range []remote.Row{
		{"id": "u1", "username": "ann", "full_name": "Ann"},
		{"id": "u2", "username": "bob", "full_name": "Bob"},
	} {
		_, err := c.Insert(ctx, remote.TableProfiles, p)
		require.NoError(t, err)
	}

	e := service.NewEngine(service.Options{Remote: c, Actor: service.StaticActor{UserID: "u1", Name: "ann"}})
	stop := e.Start()
	defer func() { _ = stop(context.Background()) }()
	require.NoError(t, e.Load(ctx))
	require.NoError(t, e.Sync(ctx))

	op, err := e.AddPost(ctx, "over the wire", "", entity.MediaImage, "u1")
	require.NoError(t, err)
	require.NoError(t, op.Wait(ctx))
	postID := op.ID()
	require.False(t, entity.IsLocalID(postID))

	rows, err := c.Query(ctx, remote.TablePosts, remote.Filter{"id": postID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "over the wire", rows[0].String("content"))

	// a like written by another client arrives through the change stream
	_, err = c.Insert(ctx, remote.TableLikes, remote.Row{"post_id": postID, "user_id": "u2"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		p, err := e.Post(ctx, postID)
		return err == nil && p.HasLike("u2")
	}, 3*time.Second, 20*time.Millisecond)
}
