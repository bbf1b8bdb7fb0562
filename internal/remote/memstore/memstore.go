// Package memstore is an in-process remote.Store. It issues ids, defaults
// created_at, enforces one like per (post, user) and pushes every committed
// change to subscribers in commit order.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/feedsync/internal/remote"
)

// Fault decides whether a write fails. Returning nil lets it through.
type Fault func(op remote.Operation, table remote.Table, row remote.Row) error

// Call records one write issued against the store.
type Call struct {
	Op    remote.Operation
	Table remote.Table
	ID    string
}

type Option func(*Store)

// WithLatency delays every write by d.
func WithLatency(d time.Duration) Option { return func(s *Store) { s.latency = d } }

// WithBuffer sets the per-subscription channel capacity.
func WithBuffer(n int) Option { return func(s *Store) { s.buffer = n } }

// WithIDs replaces the id generator.
func WithIDs(next func() string) Option { return func(s *Store) { s.nextID = next } }

// WithClock replaces time.Now for created_at defaults.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

type subscriber struct {
	ctx    context.Context
	filter remote.Filter
	ch     chan remote.ChangeEvent
}

type Store struct {
	mu    sync.Mutex
	pubMu sync.Mutex
	rows  map[remote.Table][]remote.Row
	subs  map[remote.Table][]*subscriber
	fault Fault
	calls []Call

	latency time.Duration
	buffer  int
	now     func() time.Time
	nextID  func() string
}

func New(opts ...Option) *Store {
	s := &Store{
		rows:   make(map[remote.Table][]remote.Row),
		subs:   make(map[remote.Table][]*subscriber),
		buffer: 64,
		now:    time.Now,
		nextID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetFault installs f for subsequent writes; nil clears it.
func (s *Store) SetFault(f Fault) {
	s.mu.Lock()
	s.fault = f
	s.mu.Unlock()
}

// Calls returns the writes issued so far, failed ones included.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Seed inserts rows without faults, latency or change events.
func (s *Store) Seed(table remote.Table, rows ...remote.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.rows[table] = append(s.rows[table], s.complete(r))
	}
}

func (s *Store) complete(r remote.Row) remote.Row {
	out := r.Clone()
	if out.ID() == "" {
		out["id"] = s.nextID()
	}
	if _, ok := out["created_at"]; !ok {
		out["created_at"] = s.now().UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (s *Store) Query(ctx context.Context, table remote.Table, filter remote.Filter) ([]remote.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []remote.Row
	for _, r := range s.rows[table] {
		if filter.Match(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, table remote.Table, row remote.Row) (remote.Row, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	committed := s.complete(row)
	s.calls = append(s.calls, Call{remote.OpInsert, table, committed.ID()})
	if err := s.check(remote.OpInsert, table, committed); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if table == remote.TableLikes && s.findLike(committed) >= 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("insert %s: %w", table, remote.ErrConflict)
	}
	s.rows[table] = append(s.rows[table], committed)
	s.publishLocked(remote.ChangeEvent{Table: table, Op: remote.OpInsert, Row: committed.Clone()})
	return committed.Clone(), nil
}

func (s *Store) Update(ctx context.Context, table remote.Table, id string, patch remote.Row) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.calls = append(s.calls, Call{remote.OpUpdate, table, id})
	if err := s.check(remote.OpUpdate, table, patch); err != nil {
		s.mu.Unlock()
		return err
	}
	i := s.index(table, id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("update %s %s: %w", table, id, remote.ErrNotFound)
	}
	r := s.rows[table][i]
	for k, v := range patch {
		if k != "id" {
			r[k] = v
		}
	}
	s.publishLocked(remote.ChangeEvent{Table: table, Op: remote.OpUpdate, Row: r.Clone()})
	return nil
}

func (s *Store) Delete(ctx context.Context, table remote.Table, id string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.calls = append(s.calls, Call{remote.OpDelete, table, id})
	if err := s.check(remote.OpDelete, table, remote.Row{"id": id}); err != nil {
		s.mu.Unlock()
		return err
	}
	i := s.index(table, id)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	old := s.rows[table][i]
	s.rows[table] = append(s.rows[table][:i], s.rows[table][i+1:]...)
	s.publishLocked(remote.ChangeEvent{Table: table, Op: remote.OpDelete, Row: old.Clone()})
	return nil
}

func (s *Store) Subscribe(ctx context.Context, table remote.Table, filter remote.Filter) (<-chan remote.ChangeEvent, error) {
	sub := &subscriber{ctx: ctx, filter: filter, ch: make(chan remote.ChangeEvent, s.buffer)}
	s.mu.Lock()
	s.subs[table] = append(s.subs[table], sub)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		list := s.subs[table]
		for i, x := range list {
			if x == sub {
				s.subs[table] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		// senders hold pubMu and skip cancelled subscribers
		s.pubMu.Lock()
		close(sub.ch)
		s.pubMu.Unlock()
	}()
	return sub.ch, nil
}

// publishLocked is called with mu held and releases it. Delivery happens
// under pubMu so events leave in commit order; a full subscriber channel
// blocks the writer until the reader catches up or goes away.
func (s *Store) publishLocked(ev remote.ChangeEvent) {
	subs := append([]*subscriber(nil), s.subs[ev.Table]...)
	s.pubMu.Lock()
	s.mu.Unlock()
	defer s.pubMu.Unlock()
	for _, sub := range subs {
		if sub.ctx.Err() != nil || !sub.filter.Match(ev.Row) {
			continue
		}
		select {
		case sub.ch <- ev:
		case <-sub.ctx.Done():
		}
	}
}

func (s *Store) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) check(op remote.Operation, table remote.Table, row remote.Row) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op, table, row)
}

func (s *Store) index(table remote.Table, id string) int {
	for i, r := range s.rows[table] {
		if r.ID() == id {
			return i
		}
	}
	return -1
}

func (s *Store) findLike(r remote.Row) int {
	for i, x := range s.rows[remote.TableLikes] {
		if x.String("post_id") == r.String("post_id") && x.String("user_id") == r.String("user_id") {
			return i
		}
	}
	return -1
}
