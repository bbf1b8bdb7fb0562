package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedsync/internal/entity"
	"github.com/d60-Lab/feedsync/internal/remote"
)

// friends seeds ann and bob locally and remotely.
func (h *harness) friends(t *testing.T) {
	h.seed(t,
		&entity.User{ID: "u1", Handle: "ann"},
		&entity.User{ID: "u2", Handle: "bob"},
	)
	h.remote.Seed(remote.TableProfiles,
		remote.Row{"id": "u1", "username": "ann"},
		remote.Row{"id": "u2", "username": "bob"},
	)
}

func (h *harness) user(t *testing.T, id string) *entity.User {
	t.Helper()
	u, err := h.e.User(context.Background(), id)
	require.NoError(t, err)
	return u
}

func requestFollow(t *testing.T, h *harness, from, to string) string {
	t.Helper()
	op, err := h.e.RequestFollow(context.Background(), from, to)
	require.NoError(t, err)
	require.NoError(t, settle(t, op))
	return op.ID()
}

func TestRequestFollowGuards(t *testing.T) {
	h := newHarness(t)
	h.friends(t)
	ctx := context.Background()

	_, err := h.e.RequestFollow(ctx, "u1", "u1")
	assert.ErrorIs(t, err, ErrFollowSelf)
	_, err = h.e.RequestFollow(ctx, "u1", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	first := requestFollow(t, h, "u1", "u2")
	again, err := h.e.RequestFollow(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, first, again.ID())

	pending, err := h.e.PendingRequests(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	rows, _ := h.remote.Query(ctx, remote.TableFriendRequests, nil)
	assert.Len(t, rows, 1)

	state, err := h.e.FriendState(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, state)
}

func TestRequestNotificationReferencesCommittedID(t *testing.T) {
	h := newHarness(t)
	h.friends(t)
	reqID := requestFollow(t, h, "u1", "u2")

	ns := notificationsOf(t, h, "u2", entity.NotifyFriendRequest)
	require.Len(t, ns, 1)
	assert.Equal(t, reqID, ns[0].ReferenceID)
	assert.Equal(t, entity.StatusPending, ns[0].Status)
	assert.False(t, entity.IsLocalID(ns[0].ID))

	rows, _ := h.remote.Query(context.Background(), remote.TableNotifications, remote.Filter{"user_id": "u2"})
	require.Len(t, rows, 1)
	assert.Equal(t, reqID, rows[0].String("reference_id"))
}

func TestAcceptMakesMutualFriends(t *testing.T) {
	h := newHarness(t)
	h.friends(t)
	ctx := context.Background()
	reqID := requestFollow(t, h, "u1", "u2")

	op, err := h.e.Respond(ctx, reqID, entity.StatusAccepted)
	require.NoError(t, err)
	ann, bob := h.user(t, "u1"), h.user(t, "u2")
	assert.True(t, ann.IsFollowing("u2") && ann.HasFollower("u2"))
	assert.True(t, bob.IsFollowing("u1") && bob.HasFollower("u1"))
	require.NoError(t, settle(t, op))

	origin := notificationsOf(t, h, "u2", entity.NotifyFriendRequest)
	require.Len(t, origin, 1)
	assert.True(t, origin[0].Read)
	assert.Equal(t, entity.StatusAccepted, origin[0].Status)

	accepted := notificationsOf(t, h, "u1", entity.NotifyFriendAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, "u2", accepted[0].SenderID)
	assert.False(t, entity.IsLocalID(accepted[0].ID))

	rows, _ := h.remote.Query(ctx, remote.TableProfiles, remote.Filter{"id": "u2"})
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"u1"}, rows[0]["following"])

	state, err := h.e.FriendState(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAccepted, state)

	_, err = h.e.Respond(ctx, reqID, entity.StatusRejected)
	assert.ErrorIs(t, err, ErrRequestNotPending)
}

func TestRejectThenRequestAgain(t *testing.T) {
	h := newHarness(t)
	h.friends(t)
	ctx := context.Background()
	reqID := requestFollow(t, h, "u1", "u2")

	op, err := h.e.Respond(ctx, reqID, entity.StatusRejected)
	require.NoError(t, err)
	require.NoError(t, settle(t, op))

	assert.Empty(t, h.user(t, "u1").Following)
	assert.Empty(t, notificationsOf(t, h, "u1", entity.NotifyFriendAccepted))
	state, _ := h.e.FriendState(ctx, "u1", "u2")
	assert.Equal(t, entity.StatusRejected, state)

	second := requestFollow(t, h, "u1", "u2")
	assert.NotEqual(t, reqID, second)
	state, _ = h.e.FriendState(ctx, "u1", "u2")
	assert.Equal(t, entity.StatusPending, state)
}

func TestRespondValidation(t *testing.T) {
	h := newHarness(t)
	h.friends(t)
	ctx := context.Background()

	_, err := h.e.Respond(ctx, "r1", entity.StatusPending)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	_, err = h.e.Respond(ctx, "missing", entity.StatusAccepted)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTerminalRequestIsNotResurrected(t *testing.T) {
	h := newHarness(t)
	h.friends(t)
	ctx := context.Background()
	reqID := requestFollow(t, h, "u1", "u2")
	op, err := h.e.Respond(ctx, reqID, entity.StatusAccepted)
	require.NoError(t, err)
	require.NoError(t, settle(t, op))

	// a late echo of the original insert
	require.NoError(t, h.e.Apply(ctx, remote.ChangeEvent{Table: remote.TableFriendRequests, Op: remote.OpInsert,
		Row: remote.Row{"id": reqID, "sender_id": "u1", "receiver_id": "u2", "status": "pending"}}))

	pending, err := h.e.PendingRequests(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRequestRollback(t *testing.T) {
	h := newHarness(t)
	h.friends(t)
	h.remote.SetFault(failOn(remote.OpInsert, remote.TableFriendRequests))

	op, err := h.e.RequestFollow(context.Background(), "u1", "u2")
	require.NoError(t, err)
	require.Error(t, settle(t, op))

	pending, _ := h.e.PendingRequests(context.Background(), "u2")
	assert.Empty(t, pending)
	assert.Empty(t, notificationsOf(t, h, "u2", entity.NotifyFriendRequest))
}

func TestUnfollowIsLocalToActor(t *testing.T) {
	h := newHarness(t)
	h.friends(t)
	ctx := context.Background()
	reqID := requestFollow(t, h, "u1", "u2")
	op, _ := h.e.Respond(ctx, reqID, entity.StatusAccepted)
	require.NoError(t, settle(t, op))

	op, err := h.e.Unfollow(ctx, "u1", "u2")
	require.NoError(t, err)
	ann, bob := h.user(t, "u1"), h.user(t, "u2")
	assert.False(t, ann.IsFollowing("u2"))
	assert.False(t, ann.HasFollower("u2"))
	assert.True(t, bob.IsFollowing("u1"))
	require.NoError(t, settle(t, op))

	rows, _ := h.remote.Query(ctx, remote.TableProfiles, remote.Filter{"id": "u1"})
	require.Len(t, rows, 1)
	assert.Equal(t, []string{}, rows[0]["following"])
	assert.Equal(t, []string{}, rows[0]["followers"])
	rows, _ = h.remote.Query(ctx, remote.TableProfiles, remote.Filter{"id": "u2"})
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"u1"}, rows[0]["following"])

	again, err := h.e.Unfollow(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.NoError(t, settle(t, again))
	_, err = h.e.Unfollow(ctx, "u1", "u1")
	assert.ErrorIs(t, err, ErrFollowSelf)
}

func TestUnfollowKeepsEdgesNotSeenLocally(t *testing.T) {
	h := newHarness(t)
	h.seed(t,
		&entity.User{ID: "u1", Handle: "ann", Followers: []string{"u2"}, Following: []string{"u2"}},
		&entity.User{ID: "u2", Handle: "bob", Followers: []string{"u1"}, Following: []string{"u1"}},
	)
	h.remote.Seed(remote.TableProfiles,
		remote.Row{"id": "u1", "username": "ann", "followers": []string{"u2", "u4"}, "following": []string{"u2"}},
		remote.Row{"id": "u2", "username": "bob", "followers": []string{"u1", "u3"}, "following": []string{"u1", "u3"}},
	)
	ctx := context.Background()

	op, err := h.e.Unfollow(ctx, "u1", "u2")
	require.NoError(t, err)
	require.NoError(t, settle(t, op))

	rows, _ := h.remote.Query(ctx, remote.TableProfiles, remote.Filter{"id": "u1"})
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"u4"}, rows[0]["followers"])
	assert.Equal(t, []string{}, rows[0]["following"])

	rows, _ = h.remote.Query(ctx, remote.TableProfiles, remote.Filter{"id": "u2"})
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"u1", "u3"}, rows[0]["followers"])
	assert.Equal(t, []string{"u1", "u3"}, rows[0]["following"])
}

func TestAcceptKeepsEdgesNotSeenLocally(t *testing.T) {
	h := newHarness(t)
	h.seed(t,
		&entity.User{ID: "u1", Handle: "ann"},
		&entity.User{ID: "u2", Handle: "bob"},
	)
	h.remote.Seed(remote.TableProfiles,
		remote.Row{"id": "u1", "username": "ann", "followers": []any{"u3"}},
		remote.Row{"id": "u2", "username": "bob", "following": []any{"u4"}},
	)
	ctx := context.Background()
	reqID := requestFollow(t, h, "u1", "u2")

	op, err := h.e.Respond(ctx, reqID, entity.StatusAccepted)
	require.NoError(t, err)
	require.NoError(t, settle(t, op))

	rows, _ := h.remote.Query(ctx, remote.TableProfiles, remote.Filter{"id": "u1"})
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"u3", "u2"}, rows[0]["followers"])
	assert.Equal(t, []string{"u2"}, rows[0]["following"])

	rows, _ = h.remote.Query(ctx, remote.TableProfiles, remote.Filter{"id": "u2"})
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"u1"}, rows[0]["followers"])
	assert.Equal(t, []string{"u4", "u1"}, rows[0]["following"])
}

func TestAcceptBeforeRequestConfirmed(t *testing.T) {
	h := newHarness(t)
	h.friends(t)
	gate := make(chan struct{})
	h.remote.SetFault(func(op remote.Operation, table remote.Table, _ remote.Row) error {
		if op == remote.OpInsert && table == remote.TableFriendRequests {
			<-gate
		}
		return nil
	})
	ctx := context.Background()

	req, err := h.e.RequestFollow(ctx, "u1", "u2")
	require.NoError(t, err)
	require.True(t, entity.IsLocalID(req.ID()))

	op, err := h.e.Respond(ctx, req.ID(), entity.StatusAccepted)
	require.NoError(t, err)
	close(gate)
	require.NoError(t, settle(t, req))
	require.NoError(t, settle(t, op))

	rows, _ := h.remote.Query(ctx, remote.TableFriendRequests, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, "accepted", rows[0].String("status"))

	state, err := h.e.FriendState(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAccepted, state)

	origin := notificationsOf(t, h, "u2", entity.NotifyFriendRequest)
	require.Len(t, origin, 1)
	assert.True(t, origin[0].Read)
	assert.Equal(t, entity.StatusAccepted, origin[0].Status)
	accepted := notificationsOf(t, h, "u1", entity.NotifyFriendAccepted)
	require.Len(t, accepted, 1)
	assert.False(t, entity.IsLocalID(accepted[0].ID))
}
