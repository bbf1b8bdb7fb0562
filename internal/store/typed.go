package store

import (
	"strings"

	"github.com/d60-Lab/feedsync/internal/entity"
)

func (s *Store) User(id string) (*entity.User, bool) {
	u, ok := s.users[id]
	return u, ok
}

// UserByHandle looks a user up by handle, case-insensitively.
func (s *Store) UserByHandle(handle string) (*entity.User, bool) {
	id, ok := s.handles[strings.ToLower(handle)]
	if !ok {
		return nil, false
	}
	return s.User(id)
}

func (s *Store) Post(id string) (*entity.Post, bool) {
	p, ok := s.posts[id]
	return p, ok
}

// Feed returns posts most recent first.
func (s *Store) Feed() []*entity.Post {
	out := make([]*entity.Post, 0, len(s.feed))
	for _, id := range s.feed {
		out = append(out, s.posts[id])
	}
	return out
}

func (s *Store) Comment(id string) (*entity.Comment, bool) {
	c, ok := s.comments[id]
	return c, ok
}

func (s *Store) Like(id string) (*entity.Like, bool) {
	l, ok := s.likes[id]
	return l, ok
}

// LikeOf returns the like record of userID on postID, if one was stored.
func (s *Store) LikeOf(postID, userID string) (*entity.Like, bool) {
	id, ok := s.likePairs[likePair{postID, userID}]
	if !ok {
		return nil, false
	}
	return s.Like(id)
}

func (s *Store) Request(id string) (*entity.FriendRequest, bool) {
	r, ok := s.requests[id]
	return r, ok
}

// PendingRequest returns the pending request from sender to receiver.
func (s *Store) PendingRequest(senderID, receiverID string) (*entity.FriendRequest, bool) {
	for _, e := range s.Query(entity.KindFriendRequest, nil) {
		r := e.(*entity.FriendRequest)
		if r.SenderID == senderID && r.ReceiverID == receiverID && r.Status == entity.StatusPending {
			return r, true
		}
	}
	return nil, false
}

func (s *Store) Notification(id string) (*entity.Notification, bool) {
	n, ok := s.notifications[id]
	return n, ok
}

func (s *Store) Message(id string) (*entity.Message, bool) {
	m, ok := s.messages[id]
	return m, ok
}

func (s *Store) Story(id string) (*entity.Story, bool) {
	st, ok := s.stories[id]
	return st, ok
}
