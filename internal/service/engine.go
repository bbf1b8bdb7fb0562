package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/entity"
	"github.com/d60-Lab/feedsync/internal/metrics"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/store"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

var errTaskPanicked = errors.New("engine task panicked")

type Options struct {
	Remote   remote.Store
	Actor    CurrentActor
	Profiles ProfileUpdater

	Dispatcher DispatcherConfig
	// EventBuffer is the capacity of the loop's task queue.
	EventBuffer int
	StoryTTL    time.Duration
	// TombstoneTTL is how long a deleted id keeps swallowing late insert
	// echoes after the remote delete succeeded.
	TombstoneTTL time.Duration
	Clock        func() time.Time
	// OnError receives every RemoteError, from any goroutine.
	OnError func(error)
}

// Engine 单写者同步引擎：实体存储只在 loop goroutine 上读写，本地变更、
// 远端确认与推送事件都以任务形式进入同一个串行序列。
type Engine struct {
	st       *store.Store
	remote   remote.Store
	actor    CurrentActor
	profiles ProfileUpdater
	mapper   *Mapper
	disp     *WriteDispatcher

	tasks chan func()
	quit  chan struct{}
	done  chan struct{}
	start sync.Once

	now      func() time.Time
	storyTTL time.Duration
	tombTTL  time.Duration
	onError  func(error)

	ids idMap
	// ids deleted locally; a zero expiry means the remote delete is still
	// pending. Loop-owned.
	tomb map[string]time.Time
}

func NewEngine(opts Options) *Engine {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 1024
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.StoryTTL <= 0 {
		opts.StoryTTL = entity.StoryTTL
	}
	if opts.TombstoneTTL <= 0 {
		opts.TombstoneTTL = time.Minute
	}
	if opts.Profiles == nil && opts.Remote != nil {
		opts.Profiles = RemoteProfileUpdater{Remote: opts.Remote}
	}
	return &Engine{
		st:       store.New(),
		remote:   opts.Remote,
		actor:    opts.Actor,
		profiles: opts.Profiles,
		mapper:   NewMapper(opts.Clock),
		disp:     NewWriteDispatcher(opts.Dispatcher),
		tasks:    make(chan func(), opts.EventBuffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      opts.Clock,
		storyTTL: opts.StoryTTL,
		tombTTL:  opts.TombstoneTTL,
		onError:  opts.OnError,
		ids:      idMap{m: make(map[string]string)},
		tomb:     make(map[string]time.Time),
	}
}

// Start 启动 loop 与写执行器，返回停止函数：先排空远端写（其确认仍会回到
// loop），再停 loop。
func (e *Engine) Start() func(context.Context) error {
	stopDisp := func(context.Context) error { return nil }
	e.start.Do(func() {
		stopDisp = e.disp.Start()
		go e.run()
	})
	return func(ctx context.Context) error {
		err := stopDisp(ctx)
		select {
		case <-e.quit:
		default:
			close(e.quit)
		}
		select {
		case <-e.done:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}
		return err
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case task := <-e.tasks:
			e.safely(task)
		case <-e.quit:
			for {
				select {
				case task := <-e.tasks:
					e.safely(task)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) safely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("engine task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// exec runs fn on the loop and waits for it.
func (e *Engine) exec(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	task := func() {
		err := errTaskPanicked
		defer func() { res <- err }()
		err = fn()
	}
	select {
	case e.tasks <- task:
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-e.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrEngineStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue hands task to the loop without waiting for it to run. It reports
// false once the loop is gone.
func (e *Engine) enqueue(task func()) bool {
	select {
	case e.tasks <- task:
		return true
	case <-e.done:
		return false
	}
}

func view[T any](ctx context.Context, e *Engine, fn func(st *store.Store) T) (T, error) {
	var out T
	err := e.exec(ctx, func() error {
		out = fn(e.st)
		return nil
	})
	return out, err
}

func (e *Engine) report(err error) {
	if e.onError != nil && err != nil {
		e.onError(err)
	}
}

func remoteErr(op remote.Operation, table remote.Table, err error) error {
	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}
	return &RemoteError{Op: op, Table: table, Err: err}
}

// idMap resolves local ids to the ids the remote store issued for them. It is
// read by dispatcher workers, hence the lock.
type idMap struct {
	mu sync.RWMutex
	m  map[string]string
}

func (m *idMap) set(localID, remoteID string) {
	m.mu.Lock()
	m.m[localID] = remoteID
	m.mu.Unlock()
}

func (m *idMap) resolve(id string) string {
	if !entity.IsLocalID(id) {
		return id
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.m[id]; ok {
		return r
	}
	return id
}

// canonical returns the key the store holds for id, which may be a local id
// handed out by Op.ID before its insert was confirmed. Must run on the loop.
func (e *Engine) canonical(kind entity.Kind, id string) string {
	if _, ok := e.st.Get(kind, id); ok {
		return id
	}
	return e.ids.resolve(id)
}

func (e *Engine) bury(id string) { e.tomb[id] = time.Time{} }

func (e *Engine) buried(id string) bool {
	exp, ok := e.tomb[id]
	if !ok {
		return false
	}
	if !exp.IsZero() && e.now().After(exp) {
		delete(e.tomb, id)
		return false
	}
	return true
}

// settleTomb starts the expiry of ids whose remote delete went through and
// sweeps the expired ones.
func (e *Engine) settleTomb(ids ...string) {
	now := e.now()
	for _, id := range ids {
		if exp, ok := e.tomb[id]; ok && exp.IsZero() {
			e.tomb[id] = now.Add(e.tombTTL)
		}
	}
	for id, exp := range e.tomb {
		if !exp.IsZero() && now.After(exp) {
			delete(e.tomb, id)
		}
	}
}

var errParentUnconfirmed = errors.New("referenced entity was never confirmed by the remote store")

// resolveRefs rewrites local ids in foreign key columns.
func (e *Engine) resolveRefs(row remote.Row) error {
	for _, col := range []string{"post_id", "reference_id", "repost_of"} {
		v, ok := row[col].(string)
		if !ok || v == "" {
			continue
		}
		r := e.ids.resolve(v)
		if entity.IsLocalID(r) {
			return fmt.Errorf("%s %s: %w", col, v, errParentUnconfirmed)
		}
		row[col] = r
	}
	return nil
}

// creation describes an optimistic insert already applied to the store.
type creation struct {
	label string
	ent   entity.Entity
	table remote.Table
	key   string
	// notify is a derived notification already in the store; it is written
	// after ent commits. With notifyRef its reference is the committed id.
	notify    *entity.Notification
	notifyRef bool
}

// create issues the remote insert for c. Must run on the loop.
func (e *Engine) create(c creation) *Op {
	kind := c.ent.Kind()
	localID := c.ent.Key()
	op := newOp(localID)
	metrics.Mutations.WithLabelValues(c.label).Inc()

	row := ToRow(c.ent)
	var (
		notifRow   remote.Row
		notifLocal string
	)
	if c.notify != nil {
		notifRow = ToRow(c.notify)
		notifLocal = c.notify.ID
	}
	var (
		committed      remote.Row
		notifCommitted remote.Row
		notifErr       error
	)
	job := writeJob{
		key:   c.key,
		table: c.table,
		op:    remote.OpInsert,
		run: func(ctx context.Context) error {
			if err := e.resolveRefs(row); err != nil {
				return err
			}
			r, err := e.remote.Insert(ctx, c.table, row)
			if err != nil {
				return err
			}
			committed = r
			e.ids.set(localID, r.ID())
			if notifRow == nil {
				return nil
			}
			if c.notifyRef {
				notifRow["reference_id"] = r.ID()
			}
			if notifErr = e.resolveRefs(notifRow); notifErr == nil {
				notifCommitted, notifErr = e.remote.Insert(ctx, remote.TableNotifications, notifRow)
			}
			if notifErr == nil {
				e.ids.set(notifLocal, notifCommitted.ID())
			}
			return nil
		},
		done: func(err error) {
			settled := e.enqueue(func() {
				if err != nil {
					e.rollback(c, op, err)
					return
				}
				e.confirm(kind, c.table, localID, committed)
				if notifLocal != "" {
					e.settleNotification(notifLocal, notifCommitted, notifErr)
				}
				op.finish(committed.ID(), nil)
			})
			if !settled {
				op.finish("", ErrEngineStopped)
			}
		},
	}
	if err := e.disp.Submit(job); err != nil {
		e.rollback(c, op, err)
	}
	return op
}

func (e *Engine) rollback(c creation, op *Op, err error) {
	rerr := remoteErr(remote.OpInsert, c.table, err)
	e.st.Remove(c.ent.Kind(), c.ent.Key())
	if c.notify != nil {
		e.st.Remove(entity.KindNotification, c.notify.ID)
	}
	metrics.Rollbacks.WithLabelValues(c.label).Inc()
	logger.Warn("optimistic mutation rolled back",
		zap.String("kind", c.label), zap.String("id", c.ent.Key()), zap.Error(err))
	e.report(rerr)
	op.finish("", rerr)
}

// confirm re-keys the optimistic entity and folds in the committed row.
func (e *Engine) confirm(kind entity.Kind, table remote.Table, localID string, row remote.Row) {
	remoteID := row.ID()
	if _, dead := e.tomb[localID]; dead {
		// deleted before the insert came back
		delete(e.tomb, localID)
		e.bury(remoteID)
		e.st.Remove(kind, remoteID)
		e.deleteLater(table, remoteID)
		return
	}
	if err := e.st.Rekey(kind, localID, remoteID); err != nil {
		logger.Debug("confirmed entity no longer in store", zap.String("table", string(table)), zap.String("id", localID))
		return
	}
	ent, err := e.mapper.ToEntity(e.st, table, row)
	if err != nil {
		return
	}
	if cur, ok := e.st.Get(kind, remoteID); ok && regresses(cur, ent) {
		return
	}
	if _, err := e.st.Upsert(ent); err != nil {
		logger.Debug("committed row not folded", zap.String("table", string(table)), zap.Error(err))
	}
}

func (e *Engine) settleNotification(localID string, row remote.Row, err error) {
	if err != nil {
		e.st.Remove(entity.KindNotification, localID)
		logger.Warn("notification not delivered", zap.String("id", localID), zap.Error(err))
		return
	}
	if rerr := e.st.Rekey(entity.KindNotification, localID, row.ID()); rerr != nil {
		return
	}
	ent, merr := e.mapper.ToEntity(e.st, remote.TableNotifications, row)
	if merr != nil {
		return
	}
	if cur, ok := e.st.Get(entity.KindNotification, row.ID()); ok && regresses(cur, ent) {
		return
	}
	_, _ = e.st.Upsert(ent)
}

// remove deletes an entity optimistically and never restores it; a remote
// failure is only reported. Must run on the loop.
func (e *Engine) remove(kind entity.Kind, table remote.Table, id, key, label string) *Op {
	e.st.Remove(kind, id)
	e.bury(id)
	metrics.Mutations.WithLabelValues(label).Inc()
	op := newOp(id)
	job := writeJob{
		key:   key,
		table: table,
		op:    remote.OpDelete,
		run: func(ctx context.Context) error {
			rid := e.ids.resolve(id)
			if entity.IsLocalID(rid) {
				return nil
			}
			return e.remote.Delete(ctx, table, rid)
		},
		done: func(err error) {
			if err != nil {
				rerr := remoteErr(remote.OpDelete, table, err)
				e.report(rerr)
				op.finish("", rerr)
				return
			}
			rid := e.ids.resolve(id)
			e.enqueue(func() { e.settleTomb(id, rid) })
			op.finish(rid, nil)
		},
	}
	if err := e.disp.Submit(job); err != nil {
		rerr := remoteErr(remote.OpDelete, table, err)
		e.report(rerr)
		op.finish("", rerr)
	}
	return op
}

func (e *Engine) deleteLater(table remote.Table, id string) {
	_ = e.disp.Submit(writeJob{
		key:   id,
		table: table,
		op:    remote.OpDelete,
		run: func(ctx context.Context) error {
			return e.remote.Delete(ctx, table, id)
		},
		done: func(err error) {
			if err == nil {
				e.enqueue(func() { e.settleTomb(id) })
			}
		},
	})
}

// write submits a job whose only local consequence is the report; done, if
// set, runs on the loop with the outcome.
func (e *Engine) write(key string, table remote.Table, op remote.Operation, id string,
	run func(ctx context.Context) error, done func(err error)) *Op {
	res := newOp(id)
	finish := func(err error) {
		if err != nil {
			err = remoteErr(op, table, err)
			e.report(err)
		}
		settle := func() {
			if done != nil {
				done(err)
			}
			res.finish(id, err)
		}
		if !e.enqueue(settle) {
			res.finish(id, err)
		}
	}
	job := writeJob{key: key, table: table, op: op, run: run, done: finish}
	if err := e.disp.Submit(job); err != nil {
		err = remoteErr(op, table, err)
		e.report(err)
		if done != nil {
			done(err)
		}
		res.finish(id, err)
	}
	return res
}

// WriteLatencies streams, per remote write, the time from enqueue to settle.
func (e *Engine) WriteLatencies() <-chan time.Duration { return e.disp.Metrics() }

// PendingWrites samples how many remote writes are queued.
func (e *Engine) PendingWrites() int { return e.disp.QueueLen() }
