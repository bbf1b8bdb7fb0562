package service

import (
	"context"
	"sync"
)

// Op is the pending outcome of an optimistic mutation. The local effect is
// already visible when the caller gets it; Done closes once the remote write
// settled, and Err then reports the RemoteError, if any.
type Op struct {
	localID  string
	remoteID string
	err      error
	done     chan struct{}
	once     sync.Once
}

func newOp(localID string) *Op {
	return &Op{localID: localID, done: make(chan struct{})}
}

// settledOp is an Op that needed no remote write.
func settledOp(id string) *Op {
	op := newOp(id)
	op.finish(id, nil)
	return op
}

func (o *Op) finish(remoteID string, err error) {
	o.once.Do(func() {
		o.remoteID = remoteID
		o.err = err
		close(o.done)
	})
}

func (o *Op) Done() <-chan struct{} { return o.done }

// Err is nil until Done is closed.
func (o *Op) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

// Wait blocks until the remote write settled or ctx ends.
func (o *Op) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ID is the id of the entity the mutation created or touched: the local id
// until the remote store confirmed it, the remote id afterwards.
func (o *Op) ID() string {
	select {
	case <-o.done:
		if o.remoteID != "" {
			return o.remoteID
		}
	default:
	}
	return o.localID
}
