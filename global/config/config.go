package config

import (
	"strings"
	"sync"
	"time"

	"MarketChat/logger"
	sec "MarketChat/tools/security"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const EnvPrefix = "CHAT"

var (
	Global AppConfig
	mu     sync.RWMutex
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("node_id", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.ws_path", "/socket-message")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.alg", "HS256")
	v.SetDefault("jwt.access_ttl", 2*time.Hour)
	v.SetDefault("jwt.refresh_ttl", 30*24*time.Hour)
	v.SetDefault("jwt.leeway", 5*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("store.conversations", "mongo")
	v.SetDefault("store.users", "mongo")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "marketchat")
	v.SetDefault("mongo.maxPoolSize", 20)
	v.SetDefault("mongo.connectTimeout", 5*time.Second)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 20)
	v.SetDefault("redis.presence_ttl", 2*time.Minute)

	v.SetDefault("bus.driver", "local")
	v.SetDefault("bus.subject", "marketchat.relay")

	v.SetDefault("nats.servers", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.name", "marketchat")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.groupId", "chat-push-consumer")
	v.SetDefault("kafka.version", "2.1.0")
	v.SetDefault("kafka.push_topic", "chat_push")

	v.SetDefault("gateway.send_queue", 256)
	v.SetDefault("gateway.read_limit", 64*1024)
	v.SetDefault("gateway.write_wait", 10*time.Second)
	v.SetDefault("gateway.pong_wait", 60*time.Second)
	v.SetDefault("gateway.ping_period", 54*time.Second)
	v.SetDefault("gateway.handler_timeout", 10*time.Second)
	v.SetDefault("gateway.events_per_second", 20)
	v.SetDefault("gateway.burst", 40)
	v.SetDefault("gateway.max_per_user", 0)
	v.SetDefault("gateway.evict_oldest", true)

	v.SetDefault("notify.mode", "none")
	v.SetDefault("notify.push_timeout", 5*time.Second)
	v.SetDefault("notify.http.endpoint", "")
	v.SetDefault("notify.http.timeout", 5*time.Second)
	v.SetDefault("notify.http.maxFailures", 5)
	v.SetDefault("notify.http.openInterval", 30*time.Second)
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var c AppConfig
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if c.JWT.Secret == "" {
		return nil, errors.New("jwt.secret is required (CHAT_JWT_SECRET)")
	}
	return &c, nil
}

// Load 读配置文件（可为空）+ CHAT_ 前缀环境变量，写入 Global
func Load(path string) (*AppConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	c, err := decode(v)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	Global = *c
	mu.Unlock()
	if path != "" {
		watch(v)
	}
	return c, nil
}

// watch 配置文件变化时热更新日志级别，其余配置需要重启
func watch(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		c, err := decode(v)
		if err != nil {
			logger.Warn("[Config] reload failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		mu.Lock()
		Global.Log = c.Log
		mu.Unlock()
		logger.SetLevel(c.Log.Level)
		logger.Info("[Config] reloaded", zap.String("file", e.Name), zap.String("log.level", c.Log.Level))
	})
	v.WatchConfig()
}

func Get() AppConfig {
	mu.RLock()
	defer mu.RUnlock()
	return Global
}

func GetJwtSecret() []byte {
	return []byte(Get().JWT.Secret)
}

// SecurityOptions jwt 配置转签发参数
func (c JWTConfig) SecurityOptions() sec.Options {
	return sec.Options{
		Secret:     []byte(c.Secret),
		Alg:        c.Alg,
		TTL:        c.AccessTTL,
		RefreshTTL: c.RefreshTTL,
		Leeway:     c.Leeway,
	}
}
