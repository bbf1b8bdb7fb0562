package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/d60-Lab/feedsync/internal/entity"
	"github.com/d60-Lab/feedsync/internal/store"
)

// Read models run on the loop and hand out clones.

func (e *Engine) Post(ctx context.Context, id string) (*entity.Post, error) {
	p, err := view(ctx, e, func(st *store.Store) *entity.Post {
		if p, ok := st.Post(e.canonical(entity.KindPost, id)); ok {
			return p.Clone().(*entity.Post)
		}
		return nil
	})
	if err == nil && p == nil {
		err = fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return p, err
}

// Feed returns every post, most recent first.
func (e *Engine) Feed(ctx context.Context) ([]*entity.Post, error) {
	return view(ctx, e, func(st *store.Store) []*entity.Post {
		feed := st.Feed()
		out := make([]*entity.Post, len(feed))
		for i, p := range feed {
			out[i] = p.Clone().(*entity.Post)
		}
		return out
	})
}

func (e *Engine) User(ctx context.Context, id string) (*entity.User, error) {
	u, err := view(ctx, e, func(st *store.Store) *entity.User {
		if u, ok := st.User(id); ok {
			return u.Clone().(*entity.User)
		}
		return nil
	})
	if err == nil && u == nil {
		err = fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, err
}

func (e *Engine) UserByHandle(ctx context.Context, handle string) (*entity.User, error) {
	u, err := view(ctx, e, func(st *store.Store) *entity.User {
		if u, ok := st.UserByHandle(handle); ok {
			return u.Clone().(*entity.User)
		}
		return nil
	})
	if err == nil && u == nil {
		err = fmt.Errorf("user @%s: %w", handle, ErrNotFound)
	}
	return u, err
}

// Notifications returns receiverID's notifications, newest first.
func (e *Engine) Notifications(ctx context.Context, receiverID string) ([]*entity.Notification, error) {
	return view(ctx, e, func(st *store.Store) []*entity.Notification {
		var out []*entity.Notification
		for _, ent := range st.Query(entity.KindNotification, nil) {
			if n := ent.(*entity.Notification); n.ReceiverID == receiverID {
				out = append(out, n.Clone().(*entity.Notification))
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
		return out
	})
}

func (e *Engine) UnreadCount(ctx context.Context, receiverID string) (int, error) {
	return view(ctx, e, func(st *store.Store) int {
		n := 0
		for _, ent := range st.Query(entity.KindNotification, nil) {
			if x := ent.(*entity.Notification); x.ReceiverID == receiverID && !x.Read {
				n++
			}
		}
		return n
	})
}

// PendingRequests lists the requests waiting on receiverID.
func (e *Engine) PendingRequests(ctx context.Context, receiverID string) ([]*entity.FriendRequest, error) {
	return view(ctx, e, func(st *store.Store) []*entity.FriendRequest {
		var out []*entity.FriendRequest
		for _, ent := range st.Query(entity.KindFriendRequest, nil) {
			if r := ent.(*entity.FriendRequest); r.ReceiverID == receiverID && r.Status == entity.StatusPending {
				out = append(out, r.Clone().(*entity.FriendRequest))
			}
		}
		return out
	})
}

// FriendState is where a stands with b: pending while a request from a to b
// waits, accepted once a follows b, otherwise the latest terminal request
// status or none.
func (e *Engine) FriendState(ctx context.Context, a, b string) (entity.RequestStatus, error) {
	return view(ctx, e, func(st *store.Store) entity.RequestStatus {
		if _, ok := st.PendingRequest(a, b); ok {
			return entity.StatusPending
		}
		if u, ok := st.User(a); ok && u.IsFollowing(b) {
			return entity.StatusAccepted
		}
		state := entity.StatusNone
		for _, ent := range st.Query(entity.KindFriendRequest, nil) {
			if r := ent.(*entity.FriendRequest); r.SenderID == a && r.ReceiverID == b && r.Status == entity.StatusRejected {
				state = r.Status
			}
		}
		return state
	})
}

// ActiveStories returns stories younger than the story TTL at now, newest first.
func (e *Engine) ActiveStories(ctx context.Context, now time.Time) ([]*entity.Story, error) {
	return view(ctx, e, func(st *store.Store) []*entity.Story {
		var out []*entity.Story
		for _, ent := range st.Query(entity.KindStory, nil) {
			if s := ent.(*entity.Story); s.ActiveAt(now, e.storyTTL) {
				out = append(out, s.Clone().(*entity.Story))
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
		return out
	})
}
