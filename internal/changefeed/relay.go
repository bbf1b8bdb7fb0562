package changefeed

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/metrics"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// Hook observes every published change, after it reached the broker.
type Hook func(ctx context.Context, ev remote.ChangeEvent)

// Relay 从 outbox 按提交顺序拉取变更并发布到 broker。单 goroutine 处理以保证顺序；
// 发布失败的条目保持 pending，下一轮重试。
type Relay struct {
	outbox       repository.OutboxRepository
	broker       Broker
	hooks        []Hook
	claimLimit   int
	pollInterval time.Duration
	retention    time.Duration
	metricsCh    chan time.Duration // outbox->published latency
}

func NewRelay(outbox repository.OutboxRepository, broker Broker, claimLimit int, pollInterval time.Duration, hooks ...Hook) *Relay {
	if claimLimit <= 0 {
		claimLimit = 128
	}
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	return &Relay{
		outbox: outbox, broker: broker, hooks: hooks,
		claimLimit: claimLimit, pollInterval: pollInterval, retention: 24 * time.Hour,
		metricsCh: make(chan time.Duration, 65536),
	}
}

func (r *Relay) Metrics() <-chan time.Duration { return r.metricsCh }

// Start 启动轮询；返回的停止函数等待当前批次处理完。
func (r *Relay) Start() func(context.Context) error {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.loop(stop)
	}()
	return func(ctx context.Context) error {
		close(stop)
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Relay) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	purge := time.NewTicker(time.Hour)
	defer purge.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := r.ProcessOnce(context.Background()); err != nil {
				logger.Warn("relay batch failed", zap.Error(err))
			}
		case <-purge.C:
			n, err := r.outbox.Purge(context.Background(), time.Now().Add(-r.retention))
			if err != nil {
				logger.Warn("outbox purge failed", zap.Error(err))
				continue
			}
			logger.Debug("outbox purged", zap.Int64("rows", n))
		}
	}
}

// ProcessOnce publishes one batch of pending entries and reports how many
// were published.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	batch, err := r.outbox.Pending(ctx, r.claimLimit)
	if err != nil || len(batch) == 0 {
		return 0, err
	}

	published := make([]string, 0, len(batch))
	var pubErr error
	for _, entry := range batch {
		var ev remote.ChangeEvent
		if err := json.Unmarshal([]byte(entry.Payload), &ev); err != nil {
			// corrupt entries must not stall the log
			logger.Error("skip corrupt outbox entry", zap.String("id", entry.ID), zap.Error(err))
			published = append(published, entry.ID)
			continue
		}
		if err := r.broker.Publish(ctx, ev); err != nil {
			pubErr = err
			break
		}
		published = append(published, entry.ID)
		metrics.RelayPublished.WithLabelValues(entry.Table).Inc()
		for _, h := range r.hooks {
			h(ctx, ev)
		}
		if !entry.CreatedAt.IsZero() {
			select {
			case r.metricsCh <- time.Since(entry.CreatedAt):
			default:
			}
		}
	}
	if err := r.outbox.MarkDone(ctx, published); err != nil {
		return 0, err
	}
	return len(published), pubErr
}
