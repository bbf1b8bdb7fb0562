package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedsync/internal/entity"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/remote/memstore"
	"github.com/d60-Lab/feedsync/internal/store"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	e      *Engine
	remote *memstore.Store
	errs   chan error
}

func newHarness(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{errs: make(chan error, 64)}
	h.remote = memstore.New()
	o := Options{
		Remote:     h.remote,
		Actor:      StaticActor{UserID: "u1", Name: "ann"},
		Dispatcher: DispatcherConfig{Workers: 2, QueueSize: 64},
		OnError:    func(err error) { h.errs <- err },
	}
	for _, f := range opts {
		f(&o)
	}
	if ms, ok := o.Remote.(*memstore.Store); ok {
		h.remote = ms
	}
	h.e = NewEngine(o)
	stop := h.e.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = stop(ctx)
	})
	return h
}

func (h *harness) seed(t *testing.T, ents ...entity.Entity) {
	t.Helper()
	require.NoError(t, h.e.exec(context.Background(), func() error {
		for _, ent := range ents {
			if _, err := h.e.st.Upsert(ent); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (h *harness) snapshot(t *testing.T) map[entity.Kind][]entity.Entity {
	t.Helper()
	snap, err := view(context.Background(), h.e, func(st *store.Store) map[entity.Kind][]entity.Entity {
		return st.Snapshot()
	})
	require.NoError(t, err)
	return snap
}

func (h *harness) post(t *testing.T, id string) *entity.Post {
	t.Helper()
	p, err := h.e.Post(context.Background(), id)
	require.NoError(t, err)
	return p
}

// social seeds ann (u1), bob (u2) and a post p1 by bob.
func (h *harness) social(t *testing.T) {
	h.seed(t,
		&entity.User{ID: "u1", Handle: "ann"},
		&entity.User{ID: "u2", Handle: "bob"},
		&entity.Post{ID: "p1", AuthorID: "u2", AuthorHandle: "bob", Body: "hello", CreatedAt: t0},
	)
	h.remote.Seed(remote.TablePosts, remote.Row{"id": "p1", "user_id": "u2", "content": "hello"})
}

func settle(t *testing.T, op *Op) error {
	t.Helper()
	require.NotNil(t, op)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := op.Wait(ctx)
	require.False(t, errors.Is(err, context.DeadlineExceeded), "op never settled")
	return err
}

func notificationsOf(t *testing.T, h *harness, receiver string, typ entity.NotificationType) []*entity.Notification {
	t.Helper()
	all, err := h.e.Notifications(context.Background(), receiver)
	require.NoError(t, err)
	var out []*entity.Notification
	for _, n := range all {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func TestExecAfterStop(t *testing.T) {
	e := NewEngine(Options{Remote: memstore.New()})
	stop := e.Start()
	require.NoError(t, stop(context.Background()))

	_, err := e.Feed(context.Background())
	assert.ErrorIs(t, err, ErrEngineStopped)
}

func TestTaskPanicKeepsLoopAlive(t *testing.T) {
	h := newHarness(t)
	err := h.e.exec(context.Background(), func() error { panic("boom") })
	assert.ErrorIs(t, err, errTaskPanicked)

	_, err = h.e.Feed(context.Background())
	assert.NoError(t, err)
}

func TestApplySameEventTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := remote.ChangeEvent{Table: remote.TableProfiles, Op: remote.OpInsert, Row: remote.Row{
		"id": "u9", "username": "zed", "created_at": "2024-01-02T03:04:05Z", "followers": []any{"u1"},
	}}
	require.NoError(t, h.e.Apply(ctx, ev))
	first := h.snapshot(t)
	require.NoError(t, h.e.Apply(ctx, ev))
	assert.Equal(t, first, h.snapshot(t))
}

func TestOpID(t *testing.T) {
	op := newOp("local-1")
	assert.Equal(t, "local-1", op.ID())
	assert.NoError(t, op.Err())
	op.finish("r-1", nil)
	op.finish("r-2", errors.New("ignored"))
	assert.Equal(t, "r-1", op.ID())
	assert.NoError(t, op.Err())
	assert.Equal(t, "x", settledOp("x").ID())
}
