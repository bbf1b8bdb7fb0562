package service

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/feedsync/internal/metrics"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

type writeJob struct {
	key   string
	table remote.Table
	op    remote.Operation
	run   func(ctx context.Context) error
	done  func(error)
	enqAt time.Time
}

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	RPS       float64
	Burst     int
	// Timeout bounds a single job; zero leaves it to the remote store.
	Timeout time.Duration
}

// WriteDispatcher 远端写执行器：按实体 key 哈希到固定 lane，lane 内 FIFO 串行，
// 不同 lane 并行；令牌桶限速。
type WriteDispatcher struct {
	lanes     []chan writeJob
	limiter   *rate.Limiter
	timeout   time.Duration
	tracer    trace.Tracer
	metricsCh chan time.Duration

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewWriteDispatcher(cfg DispatcherConfig) *WriteDispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
		if cfg.Burst <= 0 {
			cfg.Burst = max(1, int(cfg.RPS))
		}
	}
	d := &WriteDispatcher{
		lanes:     make([]chan writeJob, cfg.Workers),
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		timeout:   cfg.Timeout,
		tracer:    otel.Tracer("github.com/d60-Lab/feedsync/internal/service"),
		metricsCh: make(chan time.Duration, 65536),
	}
	for i := range d.lanes {
		d.lanes[i] = make(chan writeJob, cfg.QueueSize)
	}
	return d
}

// Start 启动每个 lane 的 worker；返回的停止函数排空所有 lane 后返回。
func (d *WriteDispatcher) Start() func(context.Context) error {
	for _, lane := range d.lanes {
		d.wg.Add(1)
		go d.work(lane)
	}
	return func(ctx context.Context) error {
		d.mu.Lock()
		if !d.stopped {
			d.stopped = true
			for _, lane := range d.lanes {
				close(lane)
			}
		}
		d.mu.Unlock()
		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Submit never blocks: a full lane rejects the job with ErrQueueFull.
func (d *WriteDispatcher) Submit(job writeJob) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrEngineStopped
	}
	job.enqAt = time.Now()
	select {
	case d.lanes[laneFor(job.key, len(d.lanes))] <- job:
		return nil
	default:
		logger.Warn("write queue full, drop job",
			zap.String("table", string(job.table)), zap.String("op", string(job.op)), zap.String("key", job.key))
		return ErrQueueFull
	}
}

func laneFor(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (d *WriteDispatcher) work(lane <-chan writeJob) {
	defer d.wg.Done()
	for job := range lane {
		d.execute(job)
	}
}

func (d *WriteDispatcher) execute(job writeJob) {
	// in-flight writes are never cancelled
	ctx, span := d.tracer.Start(context.Background(), "remote."+string(job.op),
		trace.WithAttributes(
			attribute.String("feedsync.table", string(job.table)),
			attribute.String("feedsync.key", job.key),
		))
	defer span.End()

	err := d.limiter.Wait(ctx)
	if err == nil {
		runCtx, cancel := ctx, context.CancelFunc(func() {})
		if d.timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		}
		err = job.run(runCtx)
		cancel()
	}

	metrics.ObserveRemoteWrite(string(job.table), job.enqAt)
	select {
	case d.metricsCh <- time.Since(job.enqAt):
	default:
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		sentry.CaptureException(err)
		logger.Warn("remote write failed",
			zap.String("table", string(job.table)), zap.String("op", string(job.op)),
			zap.String("key", job.key), zap.Error(err))
	}
	if job.done != nil {
		job.done(err)
	}
}

// Metrics 返回写入落地耗时的只读通道（每处理一条发送一次 duration）。
func (d *WriteDispatcher) Metrics() <-chan time.Duration { return d.metricsCh }

// QueueLen 返回所有 lane 的排队总数（采样值）。
func (d *WriteDispatcher) QueueLen() int {
	n := 0
	for _, lane := range d.lanes {
		n += len(lane)
	}
	return n
}
