package user

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Directory resolves user ids to display info.
type Directory interface {
	UsersByID(ctx context.Context) (map[string]DisplayInfo, error)
	Invalidate(ctx context.Context)
}

const (
	usersCacheKey = "users:display"
	loadTimeout   = 5 * time.Second
)

// CachedDirectory reads the user table through an optional Redis cache.
// Concurrent misses share one database query.
type CachedDirectory struct {
	repo   *Repository
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	log    *slog.Logger
	group  singleflight.Group
}

// NewCachedDirectory builds a directory; a nil Redis client disables caching.
func NewCachedDirectory(repo *Repository, client *redis.Client, prefix string, ttl time.Duration, log *slog.Logger) *CachedDirectory {
	return &CachedDirectory{
		repo:   repo,
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
		log:    log.With("component", "user-directory"),
	}
}

func (d *CachedDirectory) key() string {
	return d.prefix + usersCacheKey
}

func (d *CachedDirectory) UsersByID(ctx context.Context) (map[string]DisplayInfo, error) {
	if d.redis != nil {
		raw, err := d.redis.Get(ctx, d.key()).Bytes()
		switch {
		case err == nil:
			var users map[string]DisplayInfo
			if err := json.Unmarshal(raw, &users); err == nil {
				return users, nil
			}
			d.log.Warn("discarding corrupt cache entry", "key", d.key())
		case !errors.Is(err, redis.Nil):
			d.log.Warn("cache read failed", "error", err)
		}
	}

	// the load is shared, so one caller giving up must not fail the rest
	v, err, _ := d.group.Do("users", func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return d.repo.GetAll(loadCtx)
	})
	if err != nil {
		return nil, err
	}
	users := v.(map[string]DisplayInfo)

	if d.redis != nil {
		if raw, err := json.Marshal(users); err == nil {
			if err := d.redis.Set(ctx, d.key(), raw, d.ttl).Err(); err != nil {
				d.log.Warn("cache write failed", "error", err)
			}
		}
	}
	return users, nil
}

// Invalidate drops the cached user table after a sign-up.
func (d *CachedDirectory) Invalidate(ctx context.Context) {
	if d.redis == nil {
		return
	}
	if err := d.redis.Del(ctx, d.key()).Err(); err != nil {
		d.log.Warn("cache invalidation failed", "error", err)
	}
}
