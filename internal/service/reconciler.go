package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/entity"
	"github.com/d60-Lab/feedsync/internal/metrics"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// Apply folds one change event into the store and waits for it. Malformed
// events are dropped and logged, never returned.
func (e *Engine) Apply(ctx context.Context, ev remote.ChangeEvent) error {
	return e.exec(ctx, func() error {
		e.apply(ev)
		return nil
	})
}

// Sync subscribes to every table and feeds the events into the loop in
// arrival order, one pump per table, until ctx ends.
func (e *Engine) Sync(ctx context.Context) error {
	for _, t := range remote.Tables {
		ch, err := e.remote.Subscribe(ctx, t, e.subscriptionFilter(t))
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
		go e.pump(ch)
	}
	return nil
}

func (e *Engine) subscriptionFilter(t remote.Table) remote.Filter {
	if t == remote.TableNotifications && e.actor != nil && e.actor.ID() != "" {
		return remote.Filter{"user_id": e.actor.ID()}
	}
	return nil
}

func (e *Engine) pump(ch <-chan remote.ChangeEvent) {
	for ev := range ch {
		if !e.enqueue(func() { e.apply(ev) }) {
			return
		}
	}
}

// Load fills the store from the remote store: profiles first so author
// fields resolve, then posts, comments oldest first, likes, requests, the
// actor's notifications, the actor's messages and stories.
func (e *Engine) Load(ctx context.Context) error {
	rows := make(map[remote.Table][]remote.Row, len(remote.Tables))
	for _, t := range remote.Tables {
		r, err := e.loadRows(ctx, t)
		if err != nil {
			return fmt.Errorf("load %s: %w", t, err)
		}
		rows[t] = r
	}
	return e.exec(ctx, func() error {
		for _, t := range remote.Tables {
			var ents []entity.Entity
			for _, row := range rows[t] {
				ent, err := e.mapper.ToEntity(e.st, t, row)
				if err != nil {
					e.drop(t, err)
					continue
				}
				ents = append(ents, ent)
			}
			if t == remote.TableComments {
				sort.SliceStable(ents, func(i, j int) bool {
					return ents[i].(*entity.Comment).CreatedAt.Before(ents[j].(*entity.Comment).CreatedAt)
				})
			}
			for _, ent := range ents {
				if _, err := e.st.Upsert(ent); err != nil {
					e.drop(t, err)
				}
			}
		}
		return nil
	})
}

func (e *Engine) loadRows(ctx context.Context, t remote.Table) ([]remote.Row, error) {
	if e.actor == nil || e.actor.ID() == "" {
		return e.remote.Query(ctx, t, nil)
	}
	id := e.actor.ID()
	switch t {
	case remote.TableNotifications:
		return e.remote.Query(ctx, t, remote.Filter{"user_id": id})
	case remote.TableMessages:
		sent, err := e.remote.Query(ctx, t, remote.Filter{"sender_id": id})
		if err != nil {
			return nil, err
		}
		received, err := e.remote.Query(ctx, t, remote.Filter{"receiver_id": id})
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(sent))
		for _, r := range sent {
			seen[r.ID()] = true
		}
		for _, r := range received {
			if !seen[r.ID()] {
				sent = append(sent, r)
			}
		}
		return sent, nil
	}
	return e.remote.Query(ctx, t, nil)
}

func (e *Engine) drop(t remote.Table, err error) {
	metrics.EventsDropped.WithLabelValues(string(t)).Inc()
	var bad *MalformedEventError
	if errors.As(err, &bad) {
		logger.Warn("malformed row dropped", zap.String("table", string(t)),
			zap.String("field", bad.Field), zap.Error(err))
		return
	}
	logger.Warn("row not applied", zap.String("table", string(t)), zap.Error(err))
}

// apply 事件折叠：同 id 且值相同视为已乐观应用（no-op）；未知 id 但与本地临时实体
// 逻辑指纹相同则认领该实体并改用远端 id。Must run on the loop.
func (e *Engine) apply(ev remote.ChangeEvent) {
	kind, ok := tableKinds[ev.Table]
	if !ok {
		e.drop(ev.Table, &MalformedEventError{Table: ev.Table, Field: "table", Err: remote.ErrUnknownTable})
		return
	}
	switch ev.Op {
	case remote.OpInsert, remote.OpUpdate:
		e.applyUpsert(kind, ev)
	case remote.OpDelete:
		e.applyDelete(kind, ev)
	default:
		e.drop(ev.Table, &MalformedEventError{Table: ev.Table, Field: "op", Err: fmt.Errorf("unknown operation %q", ev.Op)})
	}
}

func (e *Engine) applyUpsert(kind entity.Kind, ev remote.ChangeEvent) {
	ent, err := e.mapper.ToEntity(e.st, ev.Table, ev.Row)
	if err != nil {
		e.drop(ev.Table, err)
		return
	}
	id := ent.Key()
	if e.buried(id) {
		metrics.EventsDeduplicated.WithLabelValues(string(ev.Table)).Inc()
		return
	}
	cur, exists := e.st.Get(kind, id)
	if !exists {
		if local, ok := e.st.FindLocal(kind, ent.Fingerprint()); ok {
			localID := local.Key()
			if err := e.st.Rekey(kind, localID, id); err == nil {
				e.ids.set(localID, id)
				cur, exists = e.st.Get(kind, id)
			}
		}
	}
	if exists && regresses(cur, ent) {
		metrics.EventsDeduplicated.WithLabelValues(string(ev.Table)).Inc()
		return
	}
	changed, err := e.st.Upsert(ent)
	if err != nil {
		e.drop(ev.Table, err)
		return
	}
	if changed {
		metrics.EventsApplied.WithLabelValues(string(ev.Table)).Inc()
	} else {
		metrics.EventsDeduplicated.WithLabelValues(string(ev.Table)).Inc()
	}
}

// regresses reports whether next would take cur back to an earlier state:
// a terminal request back to pending, or a read notification back to unread.
func regresses(cur, next entity.Entity) bool {
	switch c := cur.(type) {
	case *entity.FriendRequest:
		n, ok := next.(*entity.FriendRequest)
		return ok && c.Status.Terminal() && !n.Status.Terminal()
	case *entity.Notification:
		n, ok := next.(*entity.Notification)
		return ok && ((c.Read && !n.Read) || (c.Status.Terminal() && !n.Status.Terminal()))
	}
	return false
}

func (e *Engine) applyDelete(kind entity.Kind, ev remote.ChangeEvent) {
	id := ev.Row.ID()
	// no insert echo can follow its own delete
	delete(e.tomb, id)
	removed := id != "" && e.st.Remove(kind, id)
	if !removed && kind == entity.KindLike {
		if pid, uid := ev.Row.String("post_id"), ev.Row.String("user_id"); pid != "" && uid != "" {
			removed = e.st.RemoveLikeOf(pid, uid)
		}
	}
	if !removed && id == "" {
		e.drop(ev.Table, &MalformedEventError{Table: ev.Table, Field: "id", Err: errors.New("missing")})
		return
	}
	if removed {
		metrics.EventsApplied.WithLabelValues(string(ev.Table)).Inc()
	} else {
		metrics.EventsDeduplicated.WithLabelValues(string(ev.Table)).Inc()
	}
}
