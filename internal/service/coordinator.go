package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/entity"
	"github.com/d60-Lab/feedsync/internal/metrics"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// ToggleLike likes postID as actorID, or unlikes it if the like is already
// there. A failed remote write restores the previous like state.
func (e *Engine) ToggleLike(ctx context.Context, postID, actorID string) (*Op, error) {
	if actorID == "" {
		return nil, invalid("actor", "must not be empty")
	}
	var op *Op
	err := e.exec(ctx, func() error {
		postID := e.canonical(entity.KindPost, postID)
		p, ok := e.st.Post(postID)
		if !ok {
			return fmt.Errorf("post %s: %w", postID, ErrNotFound)
		}
		if p.HasLike(actorID) {
			op = e.unlike(postID, actorID)
			return nil
		}
		like := &entity.Like{ID: entity.NewLocalID(), PostID: postID, UserID: actorID, CreatedAt: e.now()}
		if _, err := e.st.Upsert(like); err != nil {
			return err
		}
		op = e.create(creation{
			label:  "like",
			ent:    like,
			table:  remote.TableLikes,
			key:    postID,
			notify: e.fanout(entity.NotifyLike, actorID, p.AuthorID, postID),
		})
		return nil
	})
	return op, err
}

func (e *Engine) unlike(postID, actorID string) *Op {
	likeID := ""
	if l, ok := e.st.LikeOf(postID, actorID); ok {
		likeID = l.ID
		e.bury(likeID)
	}
	e.st.RemoveLikeOf(postID, actorID)
	metrics.Mutations.WithLabelValues("unlike").Inc()

	run := func(ctx context.Context) error {
		if id := e.ids.resolve(likeID); id != "" && !entity.IsLocalID(id) {
			return e.remote.Delete(ctx, remote.TableLikes, id)
		}
		pid := e.ids.resolve(postID)
		if entity.IsLocalID(pid) {
			return nil
		}
		rows, err := e.remote.Query(ctx, remote.TableLikes, remote.Filter{"post_id": pid, "user_id": actorID})
		if err != nil {
			return err
		}
		for _, r := range rows {
			if err := e.remote.Delete(ctx, remote.TableLikes, r.ID()); err != nil {
				return err
			}
		}
		return nil
	}
	done := func(err error) {
		if err == nil {
			if likeID != "" {
				e.settleTomb(likeID, e.ids.resolve(likeID))
			}
			return
		}
		e.restoreLike(postID, actorID, likeID)
		metrics.Rollbacks.WithLabelValues("unlike").Inc()
		logger.Warn("optimistic mutation rolled back",
			zap.String("kind", "unlike"), zap.String("post", postID), zap.Error(err))
	}
	return e.write(postID, remote.TableLikes, remote.OpDelete, likeID, run, done)
}

// restoreLike undoes an unlike unless the actor liked the post again since.
func (e *Engine) restoreLike(postID, actorID, likeID string) {
	p, ok := e.st.Post(postID)
	if !ok || p.HasLike(actorID) {
		return
	}
	if likeID == "" {
		p.AddLike(actorID)
		return
	}
	delete(e.tomb, likeID)
	id := e.ids.resolve(likeID)
	if _, err := e.st.Upsert(&entity.Like{ID: id, PostID: postID, UserID: actorID, CreatedAt: e.now()}); err != nil {
		p.AddLike(actorID)
	}
}

// AddComment appends a comment with a local id; it is re-keyed in place once
// the remote store issues the real one, or removed if the insert fails.
func (e *Engine) AddComment(ctx context.Context, postID, actorID, text string) (*Op, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("text", "must not be empty")
	}
	if actorID == "" {
		return nil, invalid("actor", "must not be empty")
	}
	var op *Op
	err := e.exec(ctx, func() error {
		postID := e.canonical(entity.KindPost, postID)
		p, ok := e.st.Post(postID)
		if !ok {
			return fmt.Errorf("post %s: %w", postID, ErrNotFound)
		}
		handle, _ := author(e.st, actorID)
		c := &entity.Comment{
			ID: entity.NewLocalID(), PostID: postID, AuthorID: actorID,
			AuthorHandle: handle, Text: text, CreatedAt: e.now(),
		}
		if _, err := e.st.Upsert(c); err != nil {
			return err
		}
		op = e.create(creation{
			label:  "comment",
			ent:    c,
			table:  remote.TableComments,
			key:    postID,
			notify: e.fanout(entity.NotifyComment, actorID, p.AuthorID, postID),
		})
		return nil
	})
	return op, err
}

// DeletePost removes the post and what it owns. Only the author may do it.
// The removal is not undone if the remote delete fails.
func (e *Engine) DeletePost(ctx context.Context, postID, actorID string) (*Op, error) {
	var op *Op
	err := e.exec(ctx, func() error {
		postID := e.canonical(entity.KindPost, postID)
		p, ok := e.st.Post(postID)
		if !ok {
			return fmt.Errorf("post %s: %w", postID, ErrNotFound)
		}
		if p.AuthorID != actorID {
			return fmt.Errorf("delete post %s: %w", postID, ErrForbidden)
		}
		op = e.remove(entity.KindPost, remote.TablePosts, postID, postID, "delete_post")
		return nil
	})
	return op, err
}

// DeleteComment removes a comment; its author and the post's author may.
func (e *Engine) DeleteComment(ctx context.Context, commentID, actorID string) (*Op, error) {
	var op *Op
	err := e.exec(ctx, func() error {
		commentID := e.canonical(entity.KindComment, commentID)
		c, ok := e.st.Comment(commentID)
		if !ok {
			return fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
		}
		postAuthor := ""
		if p, ok := e.st.Post(c.PostID); ok {
			postAuthor = p.AuthorID
		}
		if actorID != c.AuthorID && actorID != postAuthor {
			return fmt.Errorf("delete comment %s: %w", commentID, ErrForbidden)
		}
		op = e.remove(entity.KindComment, remote.TableComments, commentID, c.PostID, "delete_comment")
		return nil
	})
	return op, err
}
