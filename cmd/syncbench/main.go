package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/remote/memstore"
	"github.com/d60-Lab/feedsync/internal/service"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	k = max(0, min(k, len(xs)-1))
	return xs[k]
}

func main() {
	cfg := must(config.Load())

	N := envInt("N", 10000)
	CONC := envInt("CONC", 8)
	POSTS := envInt("POSTS", 100)
	LATENCY := time.Duration(envInt("LATENCY_MS", 2)) * time.Millisecond

	remoteStore := memstore.New(memstore.WithLatency(LATENCY), memstore.WithBuffer(N+POSTS))
	users := make([]remote.Row, CONC+1)
	for i := range users {
		users[i] = remote.Row{"id": fmt.Sprintf("u%d", i), "username": fmt.Sprintf("user%d", i)}
	}
	remoteStore.Seed(remote.TableProfiles, users...)
	posts := make([]remote.Row, POSTS)
	for i := range posts {
		posts[i] = remote.Row{"id": fmt.Sprintf("p%d", i), "user_id": "u0", "content": "post", "type": "image"}
	}
	remoteStore.Seed(remote.TablePosts, posts...)

	e := service.NewEngine(service.Options{
		Remote: remoteStore,
		Actor:  service.StaticActor{UserID: "u0", Name: "user0"},
		Dispatcher: service.DispatcherConfig{
			Workers: cfg.Sync.Workers, QueueSize: max(cfg.Sync.QueueSize, N),
			RPS: cfg.Sync.WriteRPS, Burst: cfg.Sync.WriteBurst, Timeout: cfg.Sync.RemoteTimeout,
		},
		EventBuffer:  max(cfg.Sync.EventBuffer, N),
		StoryTTL:     cfg.Sync.StoryTTL,
		TombstoneTTL: cfg.Sync.TombstoneTTL,
	})
	stop := e.Start()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	check(e.Load(ctx))
	check(e.Sync(ctx))

	// landing latency from the write dispatcher
	landing := make([]time.Duration, 0, N)
	doneLanding := make(chan struct{})
	var landingMu sync.Mutex
	go func() {
		for {
			select {
			case d := <-e.WriteLatencies():
				landingMu.Lock()
				landing = append(landing, d)
				landingMu.Unlock()
			case <-doneLanding:
				return
			}
		}
	}()

	maxQ := 0
	quitSample := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				maxQ = max(maxQ, e.PendingWrites())
			case <-quitSample:
				return
			}
		}
	}()

	feed := make(chan int, N)
	for i := 0; i < N; i++ {
		feed <- i
	}
	close(feed)

	optimistic := make(chan time.Duration, N)
	ops := make(chan *service.Op, N)
	t0 := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < CONC; w++ {
		wg.Add(1)
		actor := fmt.Sprintf("u%d", w+1)
		go func() {
			defer wg.Done()
			for i := range feed {
				postID := fmt.Sprintf("p%d", i%POSTS)
				st := time.Now()
				var op *service.Op
				var err error
				if i%2 == 0 {
					op, err = e.ToggleLike(ctx, postID, actor)
				} else {
					op, err = e.AddComment(ctx, postID, actor, fmt.Sprintf("comment %d", i))
				}
				optimistic <- time.Since(st)
				if err == nil {
					ops <- op
				}
			}
		}()
	}
	wg.Wait()
	issueDur := time.Since(t0)
	close(optimistic)
	close(ops)

	var failed int
	for op := range ops {
		if op.Wait(ctx) != nil {
			failed++
		}
	}
	settleDur := time.Since(t0)
	close(quitSample)

	drainStart := time.Now()
	_ = stop(context.Background())
	drainDur := time.Since(drainStart)
	close(doneLanding)

	optRecs := make([]time.Duration, 0, N)
	for d := range optimistic {
		optRecs = append(optRecs, d)
	}
	fmt.Printf("N=%d, CONC=%d, POSTS=%d, remote latency=%v, workers=%d\n", N, CONC, POSTS, LATENCY, cfg.Sync.Workers)
	fmt.Printf("Optimistic apply total: %v, per op: %v, p50: %v, p95: %v, p99: %v\n",
		issueDur, issueDur/time.Duration(N), pct(optRecs, 0.50), pct(optRecs, 0.95), pct(optRecs, 0.99))
	fmt.Printf("All writes settled after %v, failed=%d\n", settleDur, failed)
	landingMu.Lock()
	if len(landing) > 0 {
		fmt.Printf("Remote landing: samples=%d, p50=%v, p95=%v, p99=%v, maxQueue=%d, drain=%v\n",
			len(landing), pct(landing, 0.50), pct(landing, 0.95), pct(landing, 0.99), maxQ, drainDur)
	}
	landingMu.Unlock()
}
