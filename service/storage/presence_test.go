package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkPresence(t *testing.T, p Presence, user string) {
	ctx := context.Background()
	online, err := p.Lookup(ctx, user)
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, p.Online(ctx, user, "c1", "n1"))
	require.NoError(t, p.Online(ctx, user, "c2", "n2"))
	online, err = p.Lookup(ctx, user)
	require.NoError(t, err)
	assert.True(t, online)

	// 一端下线，另一端还在
	require.NoError(t, p.Offline(ctx, user, "c1"))
	online, _ = p.Lookup(ctx, user)
	assert.True(t, online)

	require.NoError(t, p.Offline(ctx, user, "c2"))
	require.NoError(t, p.Offline(ctx, user, "c2"))
	online, _ = p.Lookup(ctx, user)
	assert.False(t, online)
}

func TestMemPresence(t *testing.T) {
	checkPresence(t, NewMemPresence(), "u1")
}

// 需要真实 redis：REDIS_ADDR=localhost:6379
func TestRedisPresence(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	user := "presence-test-" + time.Now().Format("150405.000000")
	checkPresence(t, NewRedisPresence(rdb, time.Minute), user)
}
