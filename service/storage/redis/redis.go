package redis

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// 进程内唯一的 redis 连接；在线状态和跨节点转发共用
var (
	mu     sync.RWMutex
	client *redis.Client
)

// Config 用于初始化 Redis
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"poolSize"`
}

// InitRedis 建连并 ping；重复调用直接返回已有连接
func InitRedis(c Config) error {
	mu.Lock()
	defer mu.Unlock()
	if client != nil {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return errors.Wrapf(err, "redis ping %s", c.Addr)
	}
	client = rdb
	return nil
}

// GetRedis 未初始化时 panic，只在启动装配阶段调用
func GetRedis() *redis.Client {
	mu.RLock()
	defer mu.RUnlock()
	if client == nil {
		panic("Redis not initialized, call InitRedis first")
	}
	return client
}

// Ping 健康检查；未启用 redis 时返回 nil
func Ping(ctx context.Context) error {
	mu.RLock()
	rdb := client
	mu.RUnlock()
	if rdb == nil {
		return nil
	}
	return rdb.Ping(ctx).Err()
}

func CloseRedis() error {
	mu.Lock()
	defer mu.Unlock()
	if client == nil {
		return nil
	}
	err := client.Close()
	client = nil
	return err
}
