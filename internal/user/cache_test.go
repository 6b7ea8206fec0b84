package user

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"crisisflow/internal/db/dbtest"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRedisAddr = "localhost:6379"

func seedUsers(t *testing.T, repo *Repository, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, repo.CreateUser(context.Background(), &User{
			Username:     name,
			PasswordHash: "x",
			Role:         RoleConsumer,
			DisplayName:  "Display " + name,
		}))
	}
}

func TestCachedDirectory_WithoutRedis(t *testing.T) {
	repo := NewRepository(dbtest.New(t))
	seedUsers(t, repo, "alice", "bob")

	dir := NewCachedDirectory(repo, nil, "test:", time.Minute, slog.Default())
	users, err := dir.UsersByID(context.Background())
	require.NoError(t, err)

	require.Len(t, users, 2)
	assert.Equal(t, DisplayInfo{Username: "bob", Role: RoleConsumer, DisplayName: "Display bob"}, users["bob"])

	// no-op without a cache
	dir.Invalidate(context.Background())
}

func TestCachedDirectory_WithRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}

	prefix := "crisisflow-test:" + t.Name() + ":"
	defer client.Del(ctx, prefix+usersCacheKey)

	repo := NewRepository(dbtest.New(t))
	seedUsers(t, repo, "alice")

	dir := NewCachedDirectory(repo, client, prefix, time.Minute, slog.Default())
	users, err := dir.UsersByID(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)

	exists, err := client.Exists(ctx, prefix+usersCacheKey).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, exists)

	// a stale cache hides the new user until invalidated
	seedUsers(t, repo, "bob")
	users, err = dir.UsersByID(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	dir.Invalidate(ctx)
	users, err = dir.UsersByID(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestCachedDirectory_SharedLoadOutlivesCaller(t *testing.T) {
	repo := NewRepository(dbtest.New(t))
	seedUsers(t, repo, "alice")

	dir := NewCachedDirectory(repo, nil, "test:", time.Minute, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	users, err := dir.UsersByID(ctx)
	require.NoError(t, err)
	assert.Contains(t, users, "alice")
}
