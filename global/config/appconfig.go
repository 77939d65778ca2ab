package config

import (
	"time"

	"MarketChat/data/database/mgo/mongoutil"
	"MarketChat/module/notify"
	"MarketChat/service/kafka"
	"MarketChat/service/natsx"
	redis "MarketChat/service/storage/redis"
)

type AppConfig struct {
	NodeID   string            `mapstructure:"node_id"` // 节点ID，跨节点转发时用来跳过自己
	Server   ServerConfig      `mapstructure:"server"`
	JWT      JWTConfig         `mapstructure:"jwt"`
	Log      LogConfig         `mapstructure:"log"`
	Store    StoreConfig       `mapstructure:"store"`
	Mongo    mongoutil.Config  `mapstructure:"mongo"`
	Postgres PostgresConfig    `mapstructure:"postgres"`
	Redis    RedisConfig       `mapstructure:"redis"`
	Bus      BusConfig         `mapstructure:"bus"`
	Nats     natsx.NatsxConfig `mapstructure:"nats"`
	Kafka    KafkaConfig       `mapstructure:"kafka"`
	Gateway  GatewayConfig     `mapstructure:"gateway"`
	Notify   NotifyConfig      `mapstructure:"notify"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	Mode        string   `mapstructure:"mode"` // gin: debug/release/test
	CorsOrigins []string `mapstructure:"cors_origins"`
	WsPath      string   `mapstructure:"ws_path"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Alg        string        `mapstructure:"alg"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
	Leeway     time.Duration `mapstructure:"leeway"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// StoreConfig 存储实现：mongo / memory；用户目录另外可选 postgres
type StoreConfig struct {
	Conversations string `mapstructure:"conversations"`
	Users         string `mapstructure:"users"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	redis.Config `mapstructure:",squash"`
	PresenceTTL  time.Duration `mapstructure:"presence_ttl"`
}

// BusConfig 跨节点转发：local / redis / nats
type BusConfig struct {
	Driver  string `mapstructure:"driver"`
	Subject string `mapstructure:"subject"`
}

type KafkaConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	kafka.AppConfig `mapstructure:",squash"`
	PushTopic       string `mapstructure:"push_topic"`
}

type GatewayConfig struct {
	SendQueue       int           `mapstructure:"send_queue"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	HandlerTimeout  time.Duration `mapstructure:"handler_timeout"`
	EventsPerSecond float64       `mapstructure:"events_per_second"`
	Burst           int           `mapstructure:"burst"`
	MaxPerUser      int           `mapstructure:"max_per_user"`
	EvictOldest     bool          `mapstructure:"evict_oldest"`
}

// NotifyConfig mode: none / direct / kafka（kafka 时本节点同时消费推送任务）
type NotifyConfig struct {
	Mode        string                  `mapstructure:"mode"`
	PushTimeout time.Duration           `mapstructure:"push_timeout"`
	HTTP        notify.HTTPSenderConfig `mapstructure:"http"`
}
