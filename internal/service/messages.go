package service

import (
	"context"
	"sort"
	"strings"

	"github.com/d60-Lab/feedsync/internal/entity"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/store"
)

// SendMessage appends a message optimistically and notifies the receiver
// once the message is stored remotely.
func (e *Engine) SendMessage(ctx context.Context, senderID, receiverID, text string) (*Op, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return nil, invalid("text", "must not be empty")
	case senderID == "" || receiverID == "":
		return nil, invalid("user", "must not be empty")
	case senderID == receiverID:
		return nil, invalid("receiver", "cannot message yourself")
	}
	var op *Op
	err := e.exec(ctx, func() error {
		m := &entity.Message{
			ID: entity.NewLocalID(), SenderID: senderID, ReceiverID: receiverID,
			Text: text, Timestamp: e.now(),
		}
		if _, err := e.st.Upsert(m); err != nil {
			return err
		}
		op = e.create(creation{
			label:     "message",
			ent:       m,
			table:     remote.TableMessages,
			key:       m.ID,
			notify:    e.fanout(entity.NotifyMessage, senderID, receiverID, m.ID),
			notifyRef: true,
		})
		return nil
	})
	return op, err
}

// Conversation returns the messages between a and b, oldest first.
func (e *Engine) Conversation(ctx context.Context, a, b string) ([]*entity.Message, error) {
	return view(ctx, e, func(st *store.Store) []*entity.Message {
		var out []*entity.Message
		for _, ent := range st.Query(entity.KindMessage, nil) {
			if m := ent.(*entity.Message); m.Between(a, b) {
				out = append(out, m.Clone().(*entity.Message))
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
		return out
	})
}
