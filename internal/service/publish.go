package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/d60-Lab/feedsync/internal/entity"
	"github.com/d60-Lab/feedsync/internal/remote"
)

func parseKind(kind entity.MediaKind) (entity.MediaKind, error) {
	k, ok := entity.ParseMediaKind(string(kind))
	if !ok {
		return "", invalid("media_kind", fmt.Sprintf("unsupported %q", kind))
	}
	return k, nil
}

// AddPost 发帖：本地临时 id 立即进入 feed 顶部，远端插入失败时撤回。
func (e *Engine) AddPost(ctx context.Context, body, mediaRef string, kind entity.MediaKind, actorID string) (*Op, error) {
	body, mediaRef = strings.TrimSpace(body), strings.TrimSpace(mediaRef)
	if body == "" && mediaRef == "" {
		return nil, invalid("body", "body and media must not both be empty")
	}
	if actorID == "" {
		return nil, invalid("actor", "must not be empty")
	}
	kind, err := parseKind(kind)
	if err != nil {
		return nil, err
	}
	var op *Op
	err = e.exec(ctx, func() error {
		handle, avatar := author(e.st, actorID)
		p := &entity.Post{
			ID: entity.NewLocalID(), AuthorID: actorID, AuthorHandle: handle, AuthorAvatar: avatar,
			Body: body, MediaRef: mediaRef, MediaKind: kind, CreatedAt: e.now(),
		}
		if _, err := e.st.Upsert(p); err != nil {
			return err
		}
		op = e.create(creation{label: "post", ent: p, table: remote.TablePosts, key: p.ID})
		return nil
	})
	return op, err
}

// RepostPost 转发：新帖指向原帖（转发的转发指向最初的原帖），likes/comments 为空，
// 不修改原帖。
func (e *Engine) RepostPost(ctx context.Context, originalID, actorID string) (*Op, error) {
	if actorID == "" {
		return nil, invalid("actor", "must not be empty")
	}
	var op *Op
	err := e.exec(ctx, func() error {
		originalID := e.canonical(entity.KindPost, originalID)
		orig, ok := e.st.Post(originalID)
		if !ok {
			return fmt.Errorf("post %s: %w", originalID, ErrNotFound)
		}
		rootID := orig.ID
		if orig.IsRepost() {
			rootID = orig.RepostOf
			if root, ok := e.st.Post(rootID); ok {
				orig = root
			}
		}
		handle, avatar := author(e.st, actorID)
		p := &entity.Post{
			ID: entity.NewLocalID(), AuthorID: actorID, AuthorHandle: handle, AuthorAvatar: avatar,
			Body: orig.Body, MediaRef: orig.MediaRef, MediaKind: orig.MediaKind, CreatedAt: e.now(),
			RepostOf: rootID, RepostedBy: handle,
		}
		if _, err := e.st.Upsert(p); err != nil {
			return err
		}
		op = e.create(creation{label: "repost", ent: p, table: remote.TablePosts, key: rootID})
		return nil
	})
	return op, err
}

// AddStory publishes a story that stays visible for the configured TTL.
func (e *Engine) AddStory(ctx context.Context, actorID, mediaRef string, kind entity.MediaKind) (*Op, error) {
	mediaRef = strings.TrimSpace(mediaRef)
	if mediaRef == "" {
		return nil, invalid("media", "must not be empty")
	}
	if actorID == "" {
		return nil, invalid("actor", "must not be empty")
	}
	kind, err := parseKind(kind)
	if err != nil {
		return nil, err
	}
	var op *Op
	err = e.exec(ctx, func() error {
		handle, avatar := author(e.st, actorID)
		s := &entity.Story{
			ID: entity.NewLocalID(), AuthorID: actorID, AuthorHandle: handle, AuthorAvatar: avatar,
			MediaRef: mediaRef, MediaKind: kind, CreatedAt: e.now(),
		}
		if _, err := e.st.Upsert(s); err != nil {
			return err
		}
		op = e.create(creation{label: "story", ent: s, table: remote.TableStories, key: s.ID})
		return nil
	})
	return op, err
}

// DeleteStory removes the actor's own story.
func (e *Engine) DeleteStory(ctx context.Context, storyID, actorID string) (*Op, error) {
	var op *Op
	err := e.exec(ctx, func() error {
		storyID := e.canonical(entity.KindStory, storyID)
		s, ok := e.st.Story(storyID)
		if !ok {
			return fmt.Errorf("story %s: %w", storyID, ErrNotFound)
		}
		if s.AuthorID != actorID {
			return fmt.Errorf("delete story %s: %w", storyID, ErrForbidden)
		}
		op = e.remove(entity.KindStory, remote.TableStories, storyID, storyID, "delete_story")
		return nil
	})
	return op, err
}
