package changefeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

const channelPrefix = "feedsync:changes:"

func channelFor(table remote.Table) string { return channelPrefix + string(table) }

// RedisBroker 通过 Redis pub/sub 在多个 feedsyncd 实例间广播变更，
// 每个实例只需连接同一个 Redis。
type RedisBroker struct {
	client *redis.Client
	buffer int
}

func NewRedisBroker(client *redis.Client, buffer int) *RedisBroker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &RedisBroker{client: client, buffer: buffer}
}

func (b *RedisBroker) Publish(ctx context.Context, ev remote.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelFor(ev.Table), payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, table remote.Table, filter remote.Filter) (<-chan remote.ChangeEvent, error) {
	ps := b.client.Subscribe(ctx, channelFor(table))
	// wait for the subscription to be confirmed so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}
	out := make(chan remote.ChangeEvent, b.buffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev remote.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Warn("bad change payload", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				if !filter.Match(ev.Row) {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
