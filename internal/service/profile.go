package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/entity"
	"github.com/d60-Lab/feedsync/internal/metrics"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// UpdateProfile applies patch to the current actor's profile right away and
// hands it to the ProfileUpdater; fields are restored if that fails.
func (e *Engine) UpdateProfile(ctx context.Context, patch ProfilePatch) (*Op, error) {
	if e.actor == nil || e.actor.ID() == "" {
		return nil, invalid("actor", "no current actor")
	}
	if patch.empty() {
		return nil, invalid("patch", "nothing to update")
	}
	if e.profiles == nil {
		return nil, fmt.Errorf("update profile: %w", ErrNotFound)
	}
	userID := e.actor.ID()
	var op *Op
	err := e.exec(ctx, func() error {
		u, ok := e.st.User(userID)
		if !ok {
			return fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		prev := u.Clone().(*entity.User)
		applyPatch(u, patch)
		metrics.Mutations.WithLabelValues("profile").Inc()

		run := func(ctx context.Context) error {
			return e.profiles.UpdateProfile(ctx, userID, patch)
		}
		done := func(err error) {
			if err == nil {
				return
			}
			if cur, ok := e.st.User(userID); ok {
				restorePatch(cur, prev, patch)
			}
			metrics.Rollbacks.WithLabelValues("profile").Inc()
			logger.Warn("optimistic mutation rolled back", zap.String("kind", "profile"),
				zap.String("id", userID), zap.Error(err))
		}
		op = e.write("profile:"+userID, remote.TableProfiles, remote.OpUpdate, userID, run, done)
		return nil
	})
	return op, err
}

func applyPatch(u *entity.User, p ProfilePatch) {
	if p.DisplayName != nil {
		u.DisplayName = *p.DisplayName
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.AvatarRef != nil {
		u.AvatarRef = *p.AvatarRef
	}
}

// restorePatch puts back the patched fields that still hold the patched value.
func restorePatch(u, prev *entity.User, p ProfilePatch) {
	if p.DisplayName != nil && u.DisplayName == *p.DisplayName {
		u.DisplayName = prev.DisplayName
	}
	if p.Bio != nil && u.Bio == *p.Bio {
		u.Bio = prev.Bio
	}
	if p.AvatarRef != nil && u.AvatarRef == *p.AvatarRef {
		u.AvatarRef = prev.AvatarRef
	}
}
