package config

import (
	"context"
	"fmt"
	"time"

	"MarketChat/logger"
	userstore "MarketChat/module/user/store"
	"MarketChat/service/kafka"
	mgoSrv "MarketChat/service/mgo"
	"MarketChat/service/natsx"
	redis "MarketChat/service/storage/redis"
	"MarketChat/tools/ids"

	"github.com/Shopify/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ConfigAll 按顺序初始化基础设施：ids -> redis -> mongo -> kafka；postgres/nats 由调用方按需初始化
func ConfigAll(ctx context.Context, c *AppConfig) error {
	logger.SetLevel(c.Log.Level)
	ConfigIds(c)
	if err := ConfigRedis(c); err != nil {
		return err
	}
	if c.Store.Conversations == "mongo" || c.Store.Users == "mongo" {
		ConfigMgo(ctx, c)
	}
	if c.Kafka.Enabled {
		if err := ConfigKafka(c); err != nil {
			return err
		}
	}
	return nil
}

func ConfigIds(c *AppConfig) {
	ids.SetNodeID(-1)
	if c.NodeID == "" {
		c.NodeID = fmt.Sprintf("node-%d-%d", ids.NodeID(), time.Now().UnixNano()%100000)
	}
	logger.Info("[Config] node id", zap.String("node", c.NodeID), zap.Int64("snowflake", ids.NodeID()))
}

func ConfigRedis(c *AppConfig) error {
	if !c.Redis.Enabled {
		return nil
	}
	if err := redis.InitRedis(c.Redis.Config); err != nil {
		return errors.Wrap(err, "init redis")
	}
	logger.Info("[Config] redis ready", zap.String("addr", c.Redis.Addr))
	return nil
}

// ConfigMgo 异步连接，存储层通过 TryGetDB 判断是否就绪
func ConfigMgo(ctx context.Context, c *AppConfig) {
	cfg := c.Mongo
	mgoSrv.StartAsync(ctx, &cfg)
}

func ConfigPostgres(ctx context.Context, c *AppConfig) (*pgxpool.Pool, error) {
	if c.Postgres.DSN == "" {
		return nil, errors.New("postgres.dsn is required when store.users=postgres")
	}
	return userstore.NewPgPool(ctx, c.Postgres.DSN, c.Postgres.MaxConns)
}

func ConfigNats(c *AppConfig) (*natsx.NatsxClient, error) {
	cfg := c.Nats
	if cfg.Name == "" {
		cfg.Name = c.NodeID
	}
	return natsx.NewNatsxClient(cfg, natsx.LogErrors())
}

// ConfigKafka 建 topic、初始化 client 和同步 producer
func ConfigKafka(c *AppConfig) error {
	kafka.Cfg = c.Kafka.AppConfig
	if kafka.Cfg.AutoCreateTopicsOnStart && c.Kafka.PushTopic != "" {
		admin, err := sarama.NewClusterAdmin(kafka.Cfg.Brokers, kafka.BuildBaseConfig())
		if err != nil {
			return errors.Wrap(err, "kafka admin")
		}
		err = kafka.EnsureTopics(admin, []string{c.Kafka.PushTopic}, &kafka.Cfg)
		_ = admin.Close()
		if err != nil {
			return errors.Wrap(err, "ensure topics")
		}
	}
	if err := kafka.InitKafkaClient(); err != nil {
		return err
	}
	if err := kafka.InitSyncProducerFromClient(); err != nil {
		return err
	}
	logger.Info("[Config] kafka ready", zap.Strings("brokers", kafka.Cfg.Brokers))
	return nil
}
