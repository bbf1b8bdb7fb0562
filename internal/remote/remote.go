// Package remote describes the remote authority the sync engine talks to:
// table-scoped queries, writes and change subscriptions.
package remote

import (
	"context"
	"errors"
	"fmt"
)

// Table names a remote relation.
type Table string

const (
	TableProfiles       Table = "profiles"
	TablePosts          Table = "posts"
	TableComments       Table = "comments"
	TableLikes          Table = "likes"
	TableFriendRequests Table = "friend_requests"
	TableNotifications  Table = "notifications"
	TableMessages       Table = "messages"
	TableStories        Table = "stories"
)

// Tables lists every table in load order.
var Tables = []Table{
	TableProfiles, TablePosts, TableComments, TableLikes,
	TableFriendRequests, TableNotifications, TableMessages, TableStories,
}

// ParseTable validates a table name coming from the outside.
func ParseTable(s string) (Table, error) {
	for _, t := range Tables {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTable, s)
}

var (
	ErrUnknownTable = errors.New("unknown table")
	ErrNotFound     = errors.New("row not found")
	ErrConflict     = errors.New("row conflicts with an existing row")
)

// Operation is the kind of change carried by a ChangeEvent.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Row is a wire row keyed by snake_case column names.
type Row map[string]any

// ID returns the id column as a string.
func (r Row) ID() string { return r.String("id") }

// String returns the column as a string, or "" when missing or not a string.
func (r Row) String(col string) string {
	if v, ok := r[col].(string); ok {
		return v
	}
	return ""
}

// Clone returns a shallow copy.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Filter is a conjunction of column equality conditions.
type Filter map[string]any

// Match reports whether every condition holds for r. Values are compared by
// their string form so that JSON-decoded numbers and strings still match.
func (f Filter) Match(r Row) bool {
	for col, want := range f {
		got, ok := r[col]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// ChangeEvent is one committed change pushed to subscribers. Delete events
// carry at least the id column.
type ChangeEvent struct {
	Table Table     `json:"table"`
	Op    Operation `json:"op"`
	Row   Row       `json:"row"`
}

// Store is the remote authority. Subscribe streams committed changes for a
// table until ctx is cancelled; the channel is closed afterwards. A slow
// reader holds up its own subscription only.
type Store interface {
	Query(ctx context.Context, table Table, filter Filter) ([]Row, error)
	Insert(ctx context.Context, table Table, row Row) (Row, error)
	Update(ctx context.Context, table Table, id string, patch Row) error
	Delete(ctx context.Context, table Table, id string) error
	Subscribe(ctx context.Context, table Table, filter Filter) (<-chan ChangeEvent, error)
}
