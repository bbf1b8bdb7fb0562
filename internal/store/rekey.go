package store

import (
	"fmt"
	"slices"
	"strings"

	"github.com/d60-Lab/feedsync/internal/entity"
)

// Rekey replaces oldID by newID in place. References held by other
// collections (comments and likes of a post, repost pointers, notification
// references) follow the new id. If newID is already stored the two are merged
// and the entity under oldID is dropped. Rekeying an id that is gone while
// newID exists is a no-op.
func (s *Store) Rekey(kind entity.Kind, oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	e, ok := s.Get(kind, oldID)
	if !ok {
		if _, exists := s.Get(kind, newID); exists {
			return nil
		}
		return fmt.Errorf("rekey %s %s: %w", kind, oldID, ErrNotFound)
	}
	if _, exists := s.Get(kind, newID); exists {
		s.merge(kind, oldID, newID)
	} else {
		s.move(kind, e, oldID, newID)
	}
	s.retarget(oldID, newID)
	return nil
}

func (s *Store) move(kind entity.Kind, e entity.Entity, oldID, newID string) {
	e.SetKey(newID)
	switch kind {
	case entity.KindUser:
		delete(s.users, oldID)
		s.users[newID] = e.(*entity.User)
		if h := strings.ToLower(e.(*entity.User).Handle); h != "" {
			s.handles[h] = newID
		}
	case entity.KindPost:
		p := e.(*entity.Post)
		delete(s.posts, oldID)
		s.posts[newID] = p
		if i := slices.Index(s.feed, oldID); i >= 0 {
			s.feed[i] = newID
		}
		for _, c := range p.Comments {
			c.PostID = newID
		}
		for _, uid := range p.Likes {
			old := likePair{oldID, uid}
			if lid, ok := s.likePairs[old]; ok {
				delete(s.likePairs, old)
				s.likePairs[likePair{newID, uid}] = lid
				s.likes[lid].PostID = newID
			}
		}
	case entity.KindComment:
		delete(s.comments, oldID)
		s.comments[newID] = e.(*entity.Comment)
	case entity.KindLike:
		l := e.(*entity.Like)
		delete(s.likes, oldID)
		s.likes[newID] = l
		s.likePairs[likePair{l.PostID, l.UserID}] = newID
	case entity.KindFriendRequest:
		delete(s.requests, oldID)
		s.requests[newID] = e.(*entity.FriendRequest)
	case entity.KindNotification:
		delete(s.notifications, oldID)
		s.notifications[newID] = e.(*entity.Notification)
	case entity.KindMessage:
		delete(s.messages, oldID)
		s.messages[newID] = e.(*entity.Message)
	case entity.KindStory:
		delete(s.stories, oldID)
		s.stories[newID] = e.(*entity.Story)
	}
	s.order[kind][newID] = s.order[kind][oldID]
	delete(s.order[kind], oldID)
}

// merge folds the entity under oldID into the one under newID.
func (s *Store) merge(kind entity.Kind, oldID, newID string) {
	switch kind {
	case entity.KindPost:
		from, to := s.posts[oldID], s.posts[newID]
		for _, c := range from.Comments {
			if to.CommentIndex(c.ID) >= 0 {
				continue
			}
			c.PostID = newID
			to.Comments = append(to.Comments, c)
		}
		from.Comments = nil
		for _, uid := range from.Likes {
			old := likePair{oldID, uid}
			lid, recorded := s.likePairs[old]
			delete(s.likePairs, old)
			_, dup := s.likePairs[likePair{newID, uid}]
			to.AddLike(uid)
			if !recorded {
				continue
			}
			if dup {
				delete(s.likes, lid)
				delete(s.order[entity.KindLike], lid)
				continue
			}
			s.likes[lid].PostID = newID
			s.likePairs[likePair{newID, uid}] = lid
		}
		from.Likes = nil
		s.removePost(oldID)
		delete(s.order[kind], oldID)
	case entity.KindLike:
		l, nl := s.likes[oldID], s.likes[newID]
		if l.PostID != nl.PostID || l.UserID != nl.UserID {
			s.removeLike(oldID)
			return
		}
		delete(s.likes, oldID)
		delete(s.order[kind], oldID)
		s.likePairs[likePair{nl.PostID, nl.UserID}] = newID
	default:
		s.Remove(kind, oldID)
	}
}

// retarget rewrites cross-collection references from oldID to newID.
func (s *Store) retarget(oldID, newID string) {
	for _, n := range s.notifications {
		if n.ReferenceID == oldID {
			n.ReferenceID = newID
		}
	}
	for _, p := range s.posts {
		if p.RepostOf == oldID {
			p.RepostOf = newID
		}
	}
}
