package service

import (
	"context"

	"github.com/d60-Lab/feedsync/internal/remote"
)

// CurrentActor is the read-only identity of the signed-in user.
type CurrentActor interface {
	ID() string
	Handle() string
	DisplayName() string
	AvatarRef() string
}

// StaticActor is a fixed CurrentActor.
type StaticActor struct {
	UserID string
	Name   string
	Full   string
	Avatar string
}

func (a StaticActor) ID() string          { return a.UserID }
func (a StaticActor) Handle() string      { return a.Name }
func (a StaticActor) DisplayName() string { return a.Full }
func (a StaticActor) AvatarRef() string   { return a.Avatar }

// ProfilePatch lists the profile fields an actor may change; nil leaves a field alone.
type ProfilePatch struct {
	DisplayName *string
	Bio         *string
	AvatarRef   *string
}

func (p ProfilePatch) empty() bool {
	return p.DisplayName == nil && p.Bio == nil && p.AvatarRef == nil
}

func (p ProfilePatch) row() remote.Row {
	r := remote.Row{}
	if p.DisplayName != nil {
		r["full_name"] = *p.DisplayName
	}
	if p.Bio != nil {
		r["bio"] = *p.Bio
	}
	if p.AvatarRef != nil {
		r["avatar_url"] = *p.AvatarRef
	}
	return r
}

// ProfileUpdater persists the actor's own profile changes.
type ProfileUpdater interface {
	UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) error
}

// RemoteProfileUpdater writes profile patches to the profiles table.
type RemoteProfileUpdater struct {
	Remote remote.Store
}

func (u RemoteProfileUpdater) UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) error {
	return u.Remote.Update(ctx, remote.TableProfiles, userID, patch.row())
}
