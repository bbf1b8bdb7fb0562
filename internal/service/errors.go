package service

import (
	"errors"
	"fmt"

	"github.com/d60-Lab/feedsync/internal/remote"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("not allowed for this actor")
	ErrFollowSelf        = errors.New("cannot follow self")
	ErrRequestNotPending = errors.New("friend request is not pending")
	ErrEngineStopped     = errors.New("engine stopped")
	ErrQueueFull         = errors.New("write queue full")
)

// ValidationError 输入校验失败：同步返回，不做任何本地或远端修改。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RemoteError 远端写失败，经 Op 异步送达。
type RemoteError struct {
	Op    remote.Operation
	Table remote.Table
	Err   error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// MalformedEventError 推送行缺字段或取值非法；只记录日志并丢弃。
type MalformedEventError struct {
	Table remote.Table
	Field string
	Err   error
}

func (e *MalformedEventError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed %s row: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("malformed %s row: field %s: %v", e.Table, e.Field, e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
