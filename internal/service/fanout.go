package service

import (
	"context"

	"github.com/d60-Lab/feedsync/internal/entity"
	"github.com/d60-Lab/feedsync/internal/remote"
)

// fanout 为一次本地变更派生通知并放入接收者的未读集合；自己对自己的操作不产生通知。
// 返回的通知已在存储中，由调用方在主写入成功后落地。Must run on the loop.
func (e *Engine) fanout(typ entity.NotificationType, actorID, receiverID, referenceID string) *entity.Notification {
	if receiverID == "" || actorID == receiverID {
		return nil
	}
	handle, avatar := author(e.st, actorID)
	n := &entity.Notification{
		ID:           entity.NewLocalID(),
		Type:         typ,
		SenderID:     actorID,
		SenderHandle: handle,
		SenderAvatar: avatar,
		ReceiverID:   receiverID,
		ReferenceID:  referenceID,
		CreatedAt:    e.now(),
	}
	if typ == entity.NotifyFriendRequest {
		n.Status = entity.StatusPending
	}
	if _, err := e.st.Upsert(n); err != nil {
		return nil
	}
	return n
}

// MarkAllRead marks every notification of receiverID read.
func (e *Engine) MarkAllRead(ctx context.Context, receiverID string) (*Op, error) {
	return e.markRead(ctx, receiverID, func(n *entity.Notification) bool { return true })
}

// MarkConversationRead marks the MESSAGE notifications senderID sent to
// receiverID read.
func (e *Engine) MarkConversationRead(ctx context.Context, receiverID, senderID string) (*Op, error) {
	return e.markRead(ctx, receiverID, func(n *entity.Notification) bool {
		return n.Type == entity.NotifyMessage && n.SenderID == senderID
	})
}

func (e *Engine) markRead(ctx context.Context, receiverID string, match func(*entity.Notification) bool) (*Op, error) {
	if receiverID == "" {
		return nil, invalid("receiver", "must not be empty")
	}
	var op *Op
	err := e.exec(ctx, func() error {
		var ids []string
		for _, ent := range e.st.Query(entity.KindNotification, nil) {
			n := ent.(*entity.Notification)
			if n.ReceiverID != receiverID || n.Read || !match(n) {
				continue
			}
			n.Read = true
			ids = append(ids, n.ID)
		}
		if len(ids) == 0 {
			op = settledOp(receiverID)
			return nil
		}
		run := func(ctx context.Context) error {
			for _, id := range ids {
				rid := e.ids.resolve(id)
				if entity.IsLocalID(rid) {
					continue
				}
				if err := e.remote.Update(ctx, remote.TableNotifications, rid, remote.Row{"read": true}); err != nil {
					return err
				}
			}
			return nil
		}
		op = e.write("notifications:"+receiverID, remote.TableNotifications, remote.OpUpdate, receiverID, run, nil)
		return nil
	})
	return op, err
}
