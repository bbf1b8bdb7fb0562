package changefeed

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// Broker 变更广播：relay 发布已提交的变更，订阅者按表（及等值过滤）接收。
type Broker interface {
	Publish(ctx context.Context, ev remote.ChangeEvent) error
	Subscribe(ctx context.Context, table remote.Table, filter remote.Filter) (<-chan remote.ChangeEvent, error)
}

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

type subscriber struct {
	table  remote.Table
	filter remote.Filter
	ch     chan remote.ChangeEvent
}

// MemoryBroker fans events out inside one process. A subscriber that falls
// a full buffer behind is disconnected; it must resubscribe and reload.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	buffer int
}

func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &MemoryBroker{subs: make(map[*subscriber]struct{}), buffer: buffer}
}

func (b *MemoryBroker) Publish(_ context.Context, ev remote.ChangeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if s.table != ev.Table || !s.filter.Match(ev.Row) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			logger.Warn("subscriber too slow, disconnect",
				zap.String("table", string(ev.Table)), zap.Int("buffer", cap(s.ch)))
			b.dropLocked(s)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, table remote.Table, filter remote.Filter) (<-chan remote.ChangeEvent, error) {
	s := &subscriber{table: table, filter: filter, ch: make(chan remote.ChangeEvent, b.buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		b.dropLocked(s)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

func (b *MemoryBroker) dropLocked(s *subscriber) {
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Len reports the number of live subscriptions.
func (b *MemoryBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
