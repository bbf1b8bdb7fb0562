// Package cache serves follower and following pages from Redis, backed by the
// fans/follows edge tables.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// Snapshot contains the profile fields a relation page shows.
type Snapshot struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
}

// Counters reports how many loads reached the database.
type Counters struct {
	IndexLoads   int64
	ProfileLoads int64
}

func followersKey(id string) string { return fmt.Sprintf("followers:index:%s", id) }
func followingKey(id string) string { return fmt.Sprintf("following:index:%s", id) }
func userKey(id string) string      { return fmt.Sprintf("user:%s", id) }

// RelationCache 关系链读缓存：id 列表存 Redis List（LRANGE 分页），用户快照用 MGET 批量取。
// rdb 为 nil 时直接读库。
type RelationCache struct {
	db      *gorm.DB
	rdb     *redis.Client
	fans    repository.FanRepository
	follows repository.FollowRepository
	ttl     time.Duration

	indexLoads   atomic.Int64
	profileLoads atomic.Int64
}

func NewRelationCache(db *gorm.DB, rdb *redis.Client, ttl time.Duration) *RelationCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RelationCache{
		db: db, rdb: rdb, ttl: ttl,
		fans:    repository.NewFanRepository(db),
		follows: repository.NewFollowRepository(db),
	}
}

// Followers returns one page of userID's followers, newest edge first.
func (c *RelationCache) Followers(ctx context.Context, userID string, page, size int) ([]Snapshot, error) {
	return c.page(ctx, followersKey(userID), page, size, func() ([]string, error) {
		fans, err := c.fans.ListFans(ctx, userID, 0, -1)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(fans))
		for i, f := range fans {
			ids[i] = f.FanID
		}
		return ids, nil
	})
}

// Following returns one page of the users userID follows.
func (c *RelationCache) Following(ctx context.Context, userID string, page, size int) ([]Snapshot, error) {
	return c.page(ctx, followingKey(userID), page, size, func() ([]string, error) {
		follows, err := c.follows.ListFollowings(ctx, userID, 0, -1)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(follows))
		for i, f := range follows {
			ids[i] = f.FolloweeID
		}
		return ids, nil
	})
}

// IsFollowing reports whether followerID follows followeeID. It reads the
// cached index when present and the edge table otherwise.
func (c *RelationCache) IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error) {
	if c.rdb != nil {
		key := followingKey(followerID)
		if n, _ := c.rdb.Exists(ctx, key).Result(); n > 0 {
			ids, err := c.rdb.LRange(ctx, key, 0, -1).Result()
			if err == nil {
				return slices.Contains(ids, followeeID), nil
			}
		}
	}
	return c.follows.Exists(ctx, followerID, followeeID)
}

func (c *RelationCache) page(ctx context.Context, key string, page, size int, load func() ([]string, error)) ([]Snapshot, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	start := (page - 1) * size

	var ids []string
	if c.rdb != nil {
		if n, _ := c.rdb.Exists(ctx, key).Result(); n > 0 {
			ids, _ = c.rdb.LRange(ctx, key, int64(start), int64(start+size-1)).Result()
		}
	}
	if len(ids) == 0 {
		all, err := c.loadIndex(ctx, key, load)
		if err != nil {
			return nil, err
		}
		if start >= len(all) {
			return []Snapshot{}, nil
		}
		ids = all[start:min(start+size, len(all))]
	}
	return c.loadProfiles(ctx, ids)
}

func (c *RelationCache) loadIndex(ctx context.Context, key string, load func() ([]string, error)) ([]string, error) {
	c.indexLoads.Add(1)
	ids, err := load()
	if err != nil {
		return nil, err
	}
	if c.rdb != nil && len(ids) > 0 {
		pipe := c.rdb.Pipeline()
		pipe.Del(ctx, key)
		pipe.RPush(ctx, key, toAny(ids)...)
		pipe.Expire(ctx, key, c.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warn("cache index write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return ids, nil
}

func (c *RelationCache) loadProfiles(ctx context.Context, ids []string) ([]Snapshot, error) {
	if len(ids) == 0 {
		return []Snapshot{}, nil
	}
	cached := make(map[string]Snapshot, len(ids))
	if c.rdb != nil {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = userKey(id)
		}
		if vals, err := c.rdb.MGet(ctx, keys...).Result(); err == nil {
			for i, v := range vals {
				str, ok := v.(string)
				if !ok {
					continue
				}
				var snap Snapshot
				if json.Unmarshal([]byte(str), &snap) == nil {
					cached[ids[i]] = snap
				}
			}
		}
	}

	var missing []string
	for _, id := range ids {
		if _, ok := cached[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		c.profileLoads.Add(1)
		var profiles []model.Profile
		if err := c.db.WithContext(ctx).Where("id IN ?", missing).Find(&profiles).Error; err != nil {
			return nil, err
		}
		for _, p := range profiles {
			snap := Snapshot{ID: p.ID, Username: p.Username, FullName: p.FullName, AvatarURL: p.AvatarURL}
			cached[p.ID] = snap
			if c.rdb == nil {
				continue
			}
			if payload, err := json.Marshal(snap); err == nil {
				_ = c.rdb.Set(ctx, userKey(p.ID), payload, c.ttl).Err()
			}
		}
	}

	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := cached[id]; ok {
			out = append(out, snap)
		}
	}
	return out, nil
}

// Invalidate drops the cached snapshot and both indexes of every id.
func (c *RelationCache) Invalidate(ctx context.Context, ids ...string) error {
	if c.rdb == nil || len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, 3*len(ids))
	for _, id := range ids {
		keys = append(keys, userKey(id), followersKey(id), followingKey(id))
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// OnChange invalidates entries touched by a profile change: the profile
// itself and everyone on either side of its edges.
func (c *RelationCache) OnChange(ctx context.Context, ev remote.ChangeEvent) {
	if ev.Table != remote.TableProfiles {
		return
	}
	ids := []string{ev.Row.ID()}
	ids = append(ids, stringList(ev.Row["followers"])...)
	ids = append(ids, stringList(ev.Row["following"])...)
	if err := c.Invalidate(ctx, ids...); err != nil {
		logger.Warn("cache invalidate failed", zap.String("profile", ev.Row.ID()), zap.Error(err))
	}
}

func (c *RelationCache) Counters() Counters {
	return Counters{IndexLoads: c.indexLoads.Load(), ProfileLoads: c.profileLoads.Load()}
}

func (c *RelationCache) ResetCounters() {
	c.indexLoads.Store(0)
	c.profileLoads.Store(0)
}

func stringList(v any) []string {
	switch xs := v.(type) {
	case []string:
		return xs
	case []any:
		out := make([]string, 0, len(xs))
		for _, x := range xs {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toAny(strs []string) []any {
	out := make([]any, len(strs))
	for i, s := range strs {
		out[i] = s
	}
	return out
}
