package entity

import (
	"slices"
	"time"
)

// Post is a feed entry. Likes and Comments are owned by the post; the store
// keeps them consistent with the Like and Comment collections.
type Post struct {
	ID           string
	AuthorID     string
	AuthorHandle string
	AuthorAvatar string
	Body         string
	MediaRef     string
	MediaKind    MediaKind
	CreatedAt    time.Time
	// RepostOf points at the original post. It never points at another repost.
	RepostOf   string
	RepostedBy string

	Likes    []string
	Comments []*Comment
}

func (p *Post) Kind() Kind       { return KindPost }
func (p *Post) Key() string      { return p.ID }
func (p *Post) SetKey(id string) { p.ID = id }

func (p *Post) Fingerprint() string {
	return fingerprint(string(KindPost), p.AuthorID, p.Body, p.MediaRef, p.RepostOf)
}

func (p *Post) Clone() Entity {
	c := *p
	c.Likes = slices.Clone(p.Likes)
	c.Comments = make([]*Comment, len(p.Comments))
	for i, cm := range p.Comments {
		c.Comments[i] = cm.Clone().(*Comment)
	}
	return &c
}

// SameHeader compares the fields carried by a posts row, ignoring likes and comments.
func (p *Post) SameHeader(o *Post) bool {
	return p.ID == o.ID &&
		p.AuthorID == o.AuthorID &&
		p.AuthorHandle == o.AuthorHandle &&
		p.AuthorAvatar == o.AuthorAvatar &&
		p.Body == o.Body &&
		p.MediaRef == o.MediaRef &&
		p.MediaKind == o.MediaKind &&
		p.CreatedAt.Equal(o.CreatedAt) &&
		p.RepostOf == o.RepostOf &&
		p.RepostedBy == o.RepostedBy
}

// CopyHeader overwrites the row fields of p with those of o.
func (p *Post) CopyHeader(o *Post) {
	p.AuthorID = o.AuthorID
	p.AuthorHandle = o.AuthorHandle
	p.AuthorAvatar = o.AuthorAvatar
	p.Body = o.Body
	p.MediaRef = o.MediaRef
	p.MediaKind = o.MediaKind
	p.CreatedAt = o.CreatedAt
	p.RepostOf = o.RepostOf
	p.RepostedBy = o.RepostedBy
}

func (p *Post) Equal(other Entity) bool {
	o, ok := other.(*Post)
	if !ok || !p.SameHeader(o) || !SameSet(p.Likes, o.Likes) || len(p.Comments) != len(o.Comments) {
		return false
	}
	for i := range p.Comments {
		if !p.Comments[i].Equal(o.Comments[i]) {
			return false
		}
	}
	return true
}

func (p *Post) IsRepost() bool             { return p.RepostOf != "" }
func (p *Post) HasLike(userID string) bool { return slices.Contains(p.Likes, userID) }
func (p *Post) AddLike(userID string) bool { return addID(&p.Likes, userID) }
func (p *Post) RemoveLike(userID string) bool {
	return removeID(&p.Likes, userID)
}

// CommentIndex returns the position of the comment with id, or -1.
func (p *Post) CommentIndex(id string) int {
	return slices.IndexFunc(p.Comments, func(c *Comment) bool { return c.ID == id })
}

// Comment belongs to exactly one post.
type Comment struct {
	ID           string
	PostID       string
	AuthorID     string
	AuthorHandle string
	Text         string
	CreatedAt    time.Time
}

func (c *Comment) Kind() Kind       { return KindComment }
func (c *Comment) Key() string      { return c.ID }
func (c *Comment) SetKey(id string) { c.ID = id }
func (c *Comment) Clone() Entity    { cp := *c; return &cp }

func (c *Comment) Fingerprint() string {
	return fingerprint(string(KindComment), c.PostID, c.AuthorID, c.Text)
}

func (c *Comment) Equal(other Entity) bool {
	o, ok := other.(*Comment)
	if !ok {
		return false
	}
	return c.ID == o.ID && c.PostID == o.PostID && c.AuthorID == o.AuthorID &&
		c.AuthorHandle == o.AuthorHandle && c.Text == o.Text && c.CreatedAt.Equal(o.CreatedAt)
}

// Like records that UserID liked PostID. The (PostID, UserID) pair is its logical identity.
type Like struct {
	ID        string
	PostID    string
	UserID    string
	CreatedAt time.Time
}

func (l *Like) Kind() Kind       { return KindLike }
func (l *Like) Key() string      { return l.ID }
func (l *Like) SetKey(id string) { l.ID = id }
func (l *Like) Clone() Entity    { cp := *l; return &cp }

func (l *Like) Fingerprint() string {
	return fingerprint(string(KindLike), l.PostID, l.UserID)
}

// Equal ignores CreatedAt: two records for the same pair describe the same like.
func (l *Like) Equal(other Entity) bool {
	o, ok := other.(*Like)
	return ok && l.ID == o.ID && l.PostID == o.PostID && l.UserID == o.UserID
}
