package storage

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Presence 记录每个用户当前在线的连接，多端同时在线时按连接计
type Presence interface {
	Online(ctx context.Context, user, connID, nodeID string) error
	Offline(ctx context.Context, user, connID string) error
	Lookup(ctx context.Context, user string) (online bool, err error)
}

// presence key: im:presence:<user>
// hash field = connID, value = nodeID；整个 key 的 TTL 由心跳续期
func presenceKey(user string) string { return "im:presence:" + user }

type RedisPresence struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisPresence(rdb redis.Cmdable, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisPresence{rdb: rdb, ttl: ttl}
}

// Online 标记连接在线并续期
func (p *RedisPresence) Online(ctx context.Context, user, connID, nodeID string) error {
	key := presenceKey(user)
	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, key, connID, nodeID)
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "presence online %s", user)
	}
	return nil
}

// Offline 删掉该连接；最后一个连接下线时 key 自然消失
func (p *RedisPresence) Offline(ctx context.Context, user, connID string) error {
	if err := p.rdb.HDel(ctx, presenceKey(user), connID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrapf(err, "presence offline %s", user)
	}
	return nil
}

func (p *RedisPresence) Lookup(ctx context.Context, user string) (bool, error) {
	n, err := p.rdb.HLen(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "presence lookup %s", user)
	}
	return n > 0, nil
}

// MemPresence 单机/测试用
type MemPresence struct {
	mu    sync.Mutex
	conns map[string]map[string]string
}

func NewMemPresence() *MemPresence {
	return &MemPresence{conns: make(map[string]map[string]string)}
}

func (p *MemPresence) Online(_ context.Context, user, connID, nodeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.conns[user]
	if !ok {
		m = make(map[string]string)
		p.conns[user] = m
	}
	m[connID] = nodeID
	return nil
}

func (p *MemPresence) Offline(_ context.Context, user, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.conns[user]; ok {
		delete(m, connID)
		if len(m) == 0 {
			delete(p.conns, user)
		}
	}
	return nil
}

func (p *MemPresence) Lookup(_ context.Context, user string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns[user]) > 0, nil
}
