package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/d60-Lab/feedsync/internal/entity"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/store"
)

func pairKey(senderID, receiverID string) string {
	return "friend:" + senderID + "|" + receiverID
}

// RequestFollow 关注请求：NONE -> PENDING。已有待处理请求或已是好友时为幂等空操作；
// 终态请求不阻止新的请求。
func (e *Engine) RequestFollow(ctx context.Context, actorID, targetID string) (*Op, error) {
	if actorID == "" || targetID == "" {
		return nil, invalid("user", "must not be empty")
	}
	if actorID == targetID {
		return nil, ErrFollowSelf
	}
	var op *Op
	err := e.exec(ctx, func() error {
		if _, ok := e.st.User(targetID); !ok {
			return fmt.Errorf("user %s: %w", targetID, ErrNotFound)
		}
		if r, ok := e.st.PendingRequest(actorID, targetID); ok {
			op = settledOp(r.ID)
			return nil
		}
		if a, ok := e.st.User(actorID); ok && a.IsFollowing(targetID) {
			op = settledOp(targetID)
			return nil
		}
		req := &entity.FriendRequest{
			ID: entity.NewLocalID(), SenderID: actorID, ReceiverID: targetID,
			Status: entity.StatusPending, CreatedAt: e.now(),
		}
		if _, err := e.st.Upsert(req); err != nil {
			return err
		}
		op = e.create(creation{
			label:     "friend_request",
			ent:       req,
			table:     remote.TableFriendRequests,
			key:       pairKey(actorID, targetID),
			notify:    e.fanout(entity.NotifyFriendRequest, actorID, targetID, req.ID),
			notifyRef: true,
		})
		return nil
	})
	return op, err
}

// Respond 处理请求：PENDING -> ACCEPTED/REJECTED，由接收者发起。接受时双方互相关注
// 作为一个整体在本地生效；远端失败只上报，不回滚。
func (e *Engine) Respond(ctx context.Context, requestID string, status entity.RequestStatus) (*Op, error) {
	if !status.Terminal() {
		return nil, invalid("status", fmt.Sprintf("must be %s or %s", entity.StatusAccepted, entity.StatusRejected))
	}
	var op *Op
	err := e.exec(ctx, func() error {
		req, ok := e.st.Request(e.canonical(entity.KindFriendRequest, requestID))
		if !ok {
			return fmt.Errorf("friend request %s: %w", requestID, ErrNotFound)
		}
		if req.Status != entity.StatusPending {
			return fmt.Errorf("friend request %s is %s: %w", requestID, req.Status, ErrRequestNotPending)
		}
		a, b, reqID := req.SenderID, req.ReceiverID, req.ID
		req.Status = status

		var edits []edgeEdit
		if status == entity.StatusAccepted {
			befriend(e.st, a, b)
			edits = []edgeEdit{{user: a, peer: b, add: true}, {user: b, peer: a, add: true}}
		}
		var originating []string
		for _, ent := range e.st.Query(entity.KindNotification, nil) {
			n := ent.(*entity.Notification)
			if n.Type == entity.NotifyFriendRequest && n.ReferenceID == reqID && n.ReceiverID == b {
				n.Read = true
				n.Status = status
				originating = append(originating, n.ID)
			}
		}
		var (
			acceptedRow   remote.Row
			acceptedLocal string
		)
		if status == entity.StatusAccepted {
			if n := e.fanout(entity.NotifyFriendAccepted, b, a, reqID); n != nil {
				acceptedRow, acceptedLocal = ToRow(n), n.ID
			}
		}

		var (
			committed remote.Row
			notifErr  error
		)
		run := func(ctx context.Context) error {
			rid := e.ids.resolve(reqID)
			if entity.IsLocalID(rid) {
				return fmt.Errorf("friend request %s: %w", reqID, errParentUnconfirmed)
			}
			if err := e.remote.Update(ctx, remote.TableFriendRequests, rid, remote.Row{"status": string(status)}); err != nil {
				return err
			}
			for _, ed := range edits {
				if err := e.editEdges(ctx, ed); err != nil {
					return err
				}
			}
			for _, id := range originating {
				nid := e.ids.resolve(id)
				if entity.IsLocalID(nid) {
					continue
				}
				if err := e.remote.Update(ctx, remote.TableNotifications, nid,
					remote.Row{"read": true, "status": string(status)}); err != nil {
					return err
				}
			}
			if acceptedRow != nil {
				acceptedRow["reference_id"] = rid
				committed, notifErr = e.remote.Insert(ctx, remote.TableNotifications, acceptedRow)
				if notifErr == nil {
					e.ids.set(acceptedLocal, committed.ID())
				}
			}
			return nil
		}
		done := func(err error) {
			if acceptedLocal == "" {
				return
			}
			if err != nil && notifErr == nil && committed == nil {
				notifErr = err
			}
			e.settleNotification(acceptedLocal, committed, notifErr)
		}
		op = e.write(pairKey(a, b), remote.TableFriendRequests, remote.OpUpdate, reqID, run, done)
		return nil
	})
	return op, err
}

// befriend adds the mutual edges locally.
func befriend(st *store.Store, a, b string) {
	if ua, ok := st.User(a); ok {
		ua.AddFollowing(b)
		ua.AddFollower(b)
	}
	if ub, ok := st.User(b); ok {
		ub.AddFollowing(a)
		ub.AddFollower(a)
	}
}

// edgeEdit adds or removes peer in both edge arrays of user's profile row.
type edgeEdit struct {
	user, peer string
	add        bool
}

// editEdges applies ed to the row as the remote store holds it now, so edges
// this engine has not seen yet survive.
func (e *Engine) editEdges(ctx context.Context, ed edgeEdit) error {
	rows, err := e.remote.Query(ctx, remote.TableProfiles, remote.Filter{"id": ed.user})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("profile %s: %w", ed.user, remote.ErrNotFound)
	}
	patch := remote.Row{}
	for _, col := range []string{"followers", "following"} {
		ids := columnIDs(rows[0], col)
		has := slices.Contains(ids, ed.peer)
		switch {
		case ed.add && !has:
			patch[col] = append(ids, ed.peer)
		case !ed.add && has:
			patch[col] = slices.DeleteFunc(ids, func(id string) bool { return id == ed.peer })
		}
	}
	if len(patch) == 0 {
		return nil
	}
	return e.remote.Update(ctx, remote.TableProfiles, ed.user, patch)
}

// columnIDs copies a string array column; JSON-decoded rows carry []any.
func columnIDs(r remote.Row, col string) []string {
	out := []string{}
	switch v := r[col].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, x := range v {
			if id, ok := x.(string); ok {
				out = append(out, id)
			}
		}
	}
	return out
}

// Unfollow 单方面解除互关：本地与远端都只改动发起方自己的边；对方的边由其自身更新
// 经推送回来时再收敛，期间允许短暂不对称。远端失败只上报。
func (e *Engine) Unfollow(ctx context.Context, actorID, targetID string) (*Op, error) {
	if actorID == targetID {
		return nil, ErrFollowSelf
	}
	var op *Op
	err := e.exec(ctx, func() error {
		ua, ok := e.st.User(actorID)
		if !ok {
			return fmt.Errorf("user %s: %w", actorID, ErrNotFound)
		}
		removed := ua.RemoveFollowing(targetID)
		removed = ua.RemoveFollower(targetID) || removed
		if !removed {
			op = settledOp(actorID)
			return nil
		}
		ed := edgeEdit{user: actorID, peer: targetID}
		run := func(ctx context.Context) error { return e.editEdges(ctx, ed) }
		op = e.write("profile:"+actorID, remote.TableProfiles, remote.OpUpdate, actorID, run, nil)
		return nil
	})
	return op, err
}
