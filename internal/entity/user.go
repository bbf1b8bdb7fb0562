package entity

import (
	"slices"
	"time"
)

// User is a profile together with its follow edges.
type User struct {
	ID          string
	Handle      string
	DisplayName string
	AvatarRef   string
	Bio         string
	JoinedAt    time.Time
	Followers   []string
	Following   []string
}

func (u *User) Kind() Kind          { return KindUser }
func (u *User) Key() string         { return u.ID }
func (u *User) SetKey(id string)    { u.ID = id }
func (u *User) Fingerprint() string { return fingerprint(string(KindUser), u.ID) }

func (u *User) Clone() Entity {
	c := *u
	c.Followers = slices.Clone(u.Followers)
	c.Following = slices.Clone(u.Following)
	return &c
}

func (u *User) Equal(other Entity) bool {
	o, ok := other.(*User)
	if !ok {
		return false
	}
	return u.ID == o.ID &&
		u.Handle == o.Handle &&
		u.DisplayName == o.DisplayName &&
		u.AvatarRef == o.AvatarRef &&
		u.Bio == o.Bio &&
		u.JoinedAt.Equal(o.JoinedAt) &&
		SameSet(u.Followers, o.Followers) &&
		SameSet(u.Following, o.Following)
}

func (u *User) HasFollower(id string) bool  { return slices.Contains(u.Followers, id) }
func (u *User) IsFollowing(id string) bool  { return slices.Contains(u.Following, id) }
func (u *User) AddFollower(id string) bool  { return addID(&u.Followers, id) }
func (u *User) AddFollowing(id string) bool { return addID(&u.Following, id) }
func (u *User) RemoveFollower(id string) bool {
	return removeID(&u.Followers, id)
}
func (u *User) RemoveFollowing(id string) bool {
	return removeID(&u.Following, id)
}

// Avatar returns the avatar reference or the placeholder.
func (u *User) Avatar() string {
	if u == nil || u.AvatarRef == "" {
		return DefaultAvatar
	}
	return u.AvatarRef
}
