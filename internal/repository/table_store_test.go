package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/remote"
)

func setupDB(tb testing.TB) *gorm.DB {
	tb.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(tb, err)
	sqlDB, err := db.DB()
	require.NoError(tb, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(tb, Migrate(db))
	return db
}

func pending(t *testing.T, db *gorm.DB) []remote.ChangeEvent {
	t.Helper()
	entries, err := NewOutboxRepository(db).Pending(context.Background(), 100)
	require.NoError(t, err)
	out := make([]remote.ChangeEvent, len(entries))
	for i, e := range entries {
		require.NoError(t, json.Unmarshal([]byte(e.Payload), &out[i]))
	}
	return out
}

func TestInsertIssuesIDAndRecordsOutbox(t *testing.T) {
	db := setupDB(t)
	s := NewTableStore(db, nil)
	ctx := context.Background()

	row, err := s.Insert(ctx, remote.TablePosts, remote.Row{"user_id": "u1", "content": "hello", "type": "image"})
	require.NoError(t, err)
	assert.NotEmpty(t, row.ID())
	assert.NotEmpty(t, row.String("created_at"))
	assert.Equal(t, "hello", row.String("content"))

	evs := pending(t, db)
	require.Len(t, evs, 1)
	assert.Equal(t, remote.OpInsert, evs[0].Op)
	assert.Equal(t, row.ID(), evs[0].Row.ID())

	rows, err := s.Query(ctx, remote.TablePosts, remote.Filter{"user_id": "u1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, row.ID(), rows[0].ID())
}

func TestInsertRejectsDuplicates(t *testing.T) {
	db := setupDB(t)
	s := NewTableStore(db, nil)
	ctx := context.Background()

	_, err := s.Insert(ctx, remote.TableLikes, remote.Row{"post_id": "p1", "user_id": "u1"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, remote.TableLikes, remote.Row{"post_id": "p1", "user_id": "u1"})
	assert.ErrorIs(t, err, remote.ErrConflict)

	_, err = s.Insert(ctx, remote.TableProfiles, remote.Row{"id": "u1", "username": "ann"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, remote.TableProfiles, remote.Row{"id": "u1", "username": "again"})
	assert.ErrorIs(t, err, remote.ErrConflict)

	assert.Len(t, pending(t, db), 2)
}

func TestInsertValidatesColumns(t *testing.T) {
	s := NewTableStore(setupDB(t), nil)
	ctx := context.Background()

	_, err := s.Insert(ctx, remote.TablePosts, remote.Row{"user_id": "u1", "password": "x"})
	assert.ErrorIs(t, err, ErrInvalidRow)
	_, err = s.Insert(ctx, remote.TableProfiles, remote.Row{"id": "u1", "followers": "u2"})
	assert.ErrorIs(t, err, ErrInvalidRow)
	_, err = s.Insert(ctx, "sessions", remote.Row{})
	assert.ErrorIs(t, err, remote.ErrUnknownTable)
	_, err = s.Query(ctx, remote.TablePosts, remote.Filter{"1=1 OR id": "x"})
	assert.ErrorIs(t, err, ErrInvalidRow)
}

func TestUpdateMergesPatchAndSyncsEdges(t *testing.T) {
	db := setupDB(t)
	s := NewTableStore(db, nil)
	ctx := context.Background()

	_, err := s.Insert(ctx, remote.TableProfiles, remote.Row{"id": "u1", "username": "ann", "bio": "hi"})
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, remote.TableProfiles, "u1",
		remote.Row{"following": []string{"u2", "u3"}, "followers": []string{"u2"}}))

	rows, err := s.Query(ctx, remote.TableProfiles, remote.Filter{"id": "u1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "hi", rows[0].String("bio"))
	assert.Equal(t, []any{"u2", "u3"}, rows[0]["following"])

	follows, err := NewFollowRepository(db).ListFollowings(ctx, "u1", 0, 10)
	require.NoError(t, err)
	assert.Len(t, follows, 2)
	ok, err := NewFollowRepository(db).Exists(ctx, "u1", "u3")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Update(ctx, remote.TableProfiles, "u1", remote.Row{"following": []string{"u3"}}))
	ok, err = NewFollowRepository(db).Exists(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.False(t, ok)
	fans, err := NewFanRepository(db).ListFans(ctx, "u1", 0, 10)
	require.NoError(t, err)
	require.Len(t, fans, 1)
	assert.Equal(t, "u2", fans[0].FanID)

	evs := pending(t, db)
	require.Len(t, evs, 3)
	assert.Equal(t, remote.OpUpdate, evs[2].Op)
	assert.Equal(t, "ann", evs[2].Row.String("username"))

	err = s.Update(ctx, remote.TableProfiles, "ghost", remote.Row{"bio": "x"})
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestNotificationReadFilter(t *testing.T) {
	s := NewTableStore(setupDB(t), nil)
	ctx := context.Background()
	n, err := s.Insert(ctx, remote.TableNotifications,
		remote.Row{"type": "LIKE", "sender_id": "u2", "user_id": "u1", "reference_id": "p1"})
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, remote.TableNotifications, n.ID(), remote.Row{"read": true}))

	rows, err := s.Query(ctx, remote.TableNotifications, remote.Filter{"user_id": "u1", "read": "true"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, true, rows[0]["read"])
}

func TestDeleteRecordsFullRow(t *testing.T) {
	db := setupDB(t)
	s := NewTableStore(db, nil)
	ctx := context.Background()

	like, err := s.Insert(ctx, remote.TableLikes, remote.Row{"post_id": "p1", "user_id": "u1"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, remote.TableLikes, like.ID()))
	require.NoError(t, s.Delete(ctx, remote.TableLikes, like.ID()))

	evs := pending(t, db)
	require.Len(t, evs, 2)
	assert.Equal(t, remote.OpDelete, evs[1].Op)
	assert.Equal(t, "p1", evs[1].Row.String("post_id"))
	assert.Equal(t, "u1", evs[1].Row.String("user_id"))

	rows, err := s.Query(ctx, remote.TableLikes, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestOutboxDoneAndPurge(t *testing.T) {
	db := setupDB(t)
	s := NewTableStore(db, nil)
	repo := NewOutboxRepository(db)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Insert(ctx, remote.TableMessages, remote.Row{"sender_id": "u1", "receiver_id": "u2", "text": "hi"})
		require.NoError(t, err)
	}
	entries, err := repo.Pending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Less(t, entries[0].ID, entries[1].ID)

	require.NoError(t, repo.MarkDone(ctx, []string{entries[0].ID, entries[1].ID}))
	left, err := repo.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, left, 1)

	n, err := repo.Purge(ctx, entries[0].CreatedAt.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	var total int64
	require.NoError(t, db.Model(&model.Outbox{}).Count(&total).Error)
	assert.EqualValues(t, 1, total)
}

func TestSubscribeWithoutFeed(t *testing.T) {
	s := NewTableStore(setupDB(t), nil)
	_, err := s.Subscribe(context.Background(), remote.TablePosts, nil)
	assert.Error(t, err)
}
