// Package store is the in-memory entity store. It is owned by a single
// goroutine (the engine loop) and does no locking of its own.
package store

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/d60-Lab/feedsync/internal/entity"
)

var (
	ErrNotFound    = errors.New("entity not found")
	ErrUnknownKind = errors.New("unknown entity kind")
	ErrHandleTaken = errors.New("handle already taken")
)

type likePair struct{ postID, userID string }

// Store holds typed collections keyed by entity id. Pointers returned by the
// accessors are the stored values; callers that hand them to other goroutines
// must Clone them first.
type Store struct {
	users         map[string]*entity.User
	handles       map[string]string
	posts         map[string]*entity.Post
	feed          []string
	comments      map[string]*entity.Comment
	likes         map[string]*entity.Like
	likePairs     map[likePair]string
	requests      map[string]*entity.FriendRequest
	notifications map[string]*entity.Notification
	messages      map[string]*entity.Message
	stories       map[string]*entity.Story

	seq   uint64
	order map[entity.Kind]map[string]uint64
}

func New() *Store {
	s := &Store{
		users:         make(map[string]*entity.User),
		handles:       make(map[string]string),
		posts:         make(map[string]*entity.Post),
		comments:      make(map[string]*entity.Comment),
		likes:         make(map[string]*entity.Like),
		likePairs:     make(map[likePair]string),
		requests:      make(map[string]*entity.FriendRequest),
		notifications: make(map[string]*entity.Notification),
		messages:      make(map[string]*entity.Message),
		stories:       make(map[string]*entity.Story),
		order:         make(map[entity.Kind]map[string]uint64, len(entity.Kinds)),
	}
	for _, k := range entity.Kinds {
		s.order[k] = make(map[string]uint64)
	}
	return s
}

// Get returns the entity of kind with id.
func (s *Store) Get(kind entity.Kind, id string) (entity.Entity, bool) {
	var (
		e  entity.Entity
		ok bool
	)
	switch kind {
	case entity.KindUser:
		e, ok = lookup(s.users, id)
	case entity.KindPost:
		e, ok = lookup(s.posts, id)
	case entity.KindComment:
		e, ok = lookup(s.comments, id)
	case entity.KindLike:
		e, ok = lookup(s.likes, id)
	case entity.KindFriendRequest:
		e, ok = lookup(s.requests, id)
	case entity.KindNotification:
		e, ok = lookup(s.notifications, id)
	case entity.KindMessage:
		e, ok = lookup(s.messages, id)
	case entity.KindStory:
		e, ok = lookup(s.stories, id)
	}
	return e, ok
}

func lookup[P entity.Entity](m map[string]P, id string) (entity.Entity, bool) {
	v, ok := m[id]
	if !ok {
		return nil, false
	}
	return v, true
}

// Upsert inserts e or overwrites the stored value with the same id in place.
// It reports whether the store changed; applying an identical value is a no-op.
func (s *Store) Upsert(e entity.Entity) (bool, error) {
	if e == nil || e.Key() == "" {
		return false, fmt.Errorf("upsert: %w: empty id", ErrNotFound)
	}
	switch v := e.(type) {
	case *entity.User:
		return s.upsertUser(v)
	case *entity.Post:
		return s.upsertPost(v), nil
	case *entity.Comment:
		return s.upsertComment(v)
	case *entity.Like:
		return s.upsertLike(v)
	case *entity.FriendRequest:
		return s.track(v, upsertValue(s.requests, v)), nil
	case *entity.Notification:
		return s.track(v, upsertValue(s.notifications, v)), nil
	case *entity.Message:
		return s.track(v, upsertValue(s.messages, v)), nil
	case *entity.Story:
		return s.track(v, upsertValue(s.stories, v)), nil
	}
	return false, fmt.Errorf("upsert %T: %w", e, ErrUnknownKind)
}

// upsertValue copies e over the stored value so that pointer identity survives updates.
func upsertValue[E any, P interface {
	*E
	entity.Entity
}](m map[string]P, e P) bool {
	if cur, ok := m[e.Key()]; ok {
		if cur.Equal(e) {
			return false
		}
		*cur = *(e.Clone().(P))
		return true
	}
	m[e.Key()] = e.Clone().(P)
	return true
}

func (s *Store) track(e entity.Entity, changed bool) bool {
	if _, ok := s.order[e.Kind()][e.Key()]; !ok {
		s.seq++
		s.order[e.Kind()][e.Key()] = s.seq
	}
	return changed
}

func (s *Store) upsertUser(u *entity.User) (bool, error) {
	handle := strings.ToLower(u.Handle)
	if owner, ok := s.handles[handle]; ok && owner != u.ID && handle != "" {
		return false, fmt.Errorf("user %s: %w: %q", u.ID, ErrHandleTaken, u.Handle)
	}
	if cur, ok := s.users[u.ID]; ok {
		if cur.Equal(u) {
			return false, nil
		}
		delete(s.handles, strings.ToLower(cur.Handle))
	}
	if handle != "" {
		s.handles[handle] = u.ID
	}
	return s.track(u, upsertValue(s.users, u)), nil
}

func (s *Store) upsertPost(p *entity.Post) bool {
	if cur, ok := s.posts[p.ID]; ok {
		if cur.SameHeader(p) {
			return false
		}
		cur.CopyHeader(p)
		return true
	}
	np := p.Clone().(*entity.Post)
	np.Likes = entity.Dedup(np.Likes)
	for _, c := range np.Comments {
		c.PostID = np.ID
		s.comments[c.ID] = c
		s.track(c, true)
	}
	s.posts[np.ID] = np
	s.insertIntoFeed(np)
	return s.track(np, true)
}

// insertIntoFeed keeps the feed most-recent-first; a post newer than or as new
// as every other goes to the front.
func (s *Store) insertIntoFeed(p *entity.Post) {
	i := sort.Search(len(s.feed), func(i int) bool {
		return !s.posts[s.feed[i]].CreatedAt.After(p.CreatedAt)
	})
	s.feed = slices.Insert(s.feed, i, p.ID)
}

func (s *Store) upsertComment(c *entity.Comment) (bool, error) {
	post, ok := s.posts[c.PostID]
	if !ok {
		return false, fmt.Errorf("comment %s: post %s: %w", c.ID, c.PostID, ErrNotFound)
	}
	if cur, ok := s.comments[c.ID]; ok {
		if cur.Equal(c) {
			return false, nil
		}
		if cur.PostID != c.PostID {
			s.removeComment(cur.ID)
			return s.upsertComment(c)
		}
		*cur = *(c.Clone().(*entity.Comment))
		return true, nil
	}
	nc := c.Clone().(*entity.Comment)
	post.Comments = append(post.Comments, nc)
	s.comments[nc.ID] = nc
	return s.track(nc, true), nil
}

func (s *Store) upsertLike(l *entity.Like) (bool, error) {
	post, ok := s.posts[l.PostID]
	if !ok {
		return false, fmt.Errorf("like %s: post %s: %w", l.ID, l.PostID, ErrNotFound)
	}
	pair := likePair{l.PostID, l.UserID}
	if cur, ok := s.likes[l.ID]; ok {
		if cur.Equal(l) {
			return false, nil
		}
		s.removeLike(cur.ID)
	}
	if otherID, ok := s.likePairs[pair]; ok && otherID != l.ID {
		// same like recorded under another id: adopt the incoming id
		if err := s.Rekey(entity.KindLike, otherID, l.ID); err != nil {
			return false, err
		}
		return true, nil
	}
	s.likes[l.ID] = l.Clone().(*entity.Like)
	s.likePairs[pair] = l.ID
	post.AddLike(l.UserID)
	return s.track(l, true), nil
}

// Remove deletes the entity. Removing a post cascades to its comments and
// likes only; notifications that reference it are left dangling.
func (s *Store) Remove(kind entity.Kind, id string) bool {
	if _, ok := s.Get(kind, id); !ok {
		return false
	}
	switch kind {
	case entity.KindUser:
		delete(s.handles, strings.ToLower(s.users[id].Handle))
		delete(s.users, id)
	case entity.KindPost:
		s.removePost(id)
	case entity.KindComment:
		s.removeComment(id)
	case entity.KindLike:
		s.removeLike(id)
	case entity.KindFriendRequest:
		delete(s.requests, id)
	case entity.KindNotification:
		delete(s.notifications, id)
	case entity.KindMessage:
		delete(s.messages, id)
	case entity.KindStory:
		delete(s.stories, id)
	}
	delete(s.order[kind], id)
	return true
}

func (s *Store) removePost(id string) {
	p := s.posts[id]
	for _, c := range p.Comments {
		delete(s.comments, c.ID)
		delete(s.order[entity.KindComment], c.ID)
	}
	for _, uid := range p.Likes {
		pair := likePair{id, uid}
		if lid, ok := s.likePairs[pair]; ok {
			delete(s.likes, lid)
			delete(s.order[entity.KindLike], lid)
			delete(s.likePairs, pair)
		}
	}
	delete(s.posts, id)
	if i := slices.Index(s.feed, id); i >= 0 {
		s.feed = slices.Delete(s.feed, i, i+1)
	}
}

func (s *Store) removeComment(id string) {
	c := s.comments[id]
	if p, ok := s.posts[c.PostID]; ok {
		if i := p.CommentIndex(id); i >= 0 {
			p.Comments = slices.Delete(p.Comments, i, i+1)
		}
	}
	delete(s.comments, id)
	delete(s.order[entity.KindComment], id)
}

func (s *Store) removeLike(id string) {
	l := s.likes[id]
	pair := likePair{l.PostID, l.UserID}
	if s.likePairs[pair] == id {
		delete(s.likePairs, pair)
		if p, ok := s.posts[l.PostID]; ok {
			p.RemoveLike(l.UserID)
		}
	}
	delete(s.likes, id)
	delete(s.order[entity.KindLike], id)
}

// RemoveLikeOf removes the like of userID on postID whether or not a like
// record exists for it.
func (s *Store) RemoveLikeOf(postID, userID string) bool {
	if id, ok := s.likePairs[likePair{postID, userID}]; ok {
		return s.Remove(entity.KindLike, id)
	}
	if p, ok := s.posts[postID]; ok {
		return p.RemoveLike(userID)
	}
	return false
}

// Query returns the entities of kind accepted by pred (all of them when pred
// is nil). Posts come in feed order, comments in post then arrival order and
// everything else in insertion order.
func (s *Store) Query(kind entity.Kind, pred func(entity.Entity) bool) []entity.Entity {
	var all []entity.Entity
	switch kind {
	case entity.KindPost:
		for _, id := range s.feed {
			all = append(all, s.posts[id])
		}
	case entity.KindComment:
		for _, id := range s.feed {
			for _, c := range s.posts[id].Comments {
				all = append(all, c)
			}
		}
	default:
		ids := make([]string, 0, len(s.order[kind]))
		for id := range s.order[kind] {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return s.order[kind][ids[i]] < s.order[kind][ids[j]] })
		for _, id := range ids {
			if e, ok := s.Get(kind, id); ok {
				all = append(all, e)
			}
		}
	}
	if pred == nil {
		return all
	}
	out := all[:0]
	for _, e := range all {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the size of a collection.
func (s *Store) Len(kind entity.Kind) int {
	if kind == entity.KindPost {
		return len(s.posts)
	}
	if kind == entity.KindComment {
		return len(s.comments)
	}
	return len(s.order[kind])
}

// FindLocal returns the oldest entity of kind that still carries a local id
// and has the given fingerprint.
func (s *Store) FindLocal(kind entity.Kind, fingerprint string) (entity.Entity, bool) {
	var (
		best    entity.Entity
		bestSeq uint64
	)
	for id, seq := range s.order[kind] {
		if !entity.IsLocalID(id) || (best != nil && seq >= bestSeq) {
			continue
		}
		e, ok := s.Get(kind, id)
		if ok && e.Fingerprint() == fingerprint {
			best, bestSeq = e, seq
		}
	}
	return best, best != nil
}

// Snapshot returns deep copies of every collection, in Query order.
func (s *Store) Snapshot() map[entity.Kind][]entity.Entity {
	out := make(map[entity.Kind][]entity.Entity, len(entity.Kinds))
	for _, k := range entity.Kinds {
		for _, e := range s.Query(k, nil) {
			out[k] = append(out[k], e.Clone())
		}
	}
	return out
}
