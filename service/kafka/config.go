package kafka

import (
	"github.com/Shopify/sarama"
)

type AppConfig struct {
	Brokers                 []string `mapstructure:"brokers"`
	GroupID                 string   `mapstructure:"groupId"`
	PartitionsPerTopic      int32    `mapstructure:"partitionsPerTopic"`
	ReplicationFactor       int16    `mapstructure:"replicationFactor"`
	ProducerRetries         int      `mapstructure:"producerRetries"`
	ProducerCompression     string   `mapstructure:"producerCompression"` // none/snappy/lz4/zstd
	ConsumerInitialOffset   string   `mapstructure:"consumerInitialOffset"`
	Version                 string   `mapstructure:"version"`
	AutoCreateTopicsOnStart bool     `mapstructure:"autoCreateTopicsOnStart"`
}

// 默认配置，启动时被 config 覆盖
var Cfg = AppConfig{
	Brokers:                 []string{"127.0.0.1:9092"},
	GroupID:                 "chat-push-consumer",
	PartitionsPerTopic:      8,
	ReplicationFactor:       1,
	ProducerRetries:         5,
	ProducerCompression:     "snappy",
	ConsumerInitialOffset:   "newest",
	Version:                 "2.1.0",
	AutoCreateTopicsOnStart: true,
}

func (c AppConfig) kafkaVersion() sarama.KafkaVersion {
	if v, err := sarama.ParseKafkaVersion(c.Version); err == nil {
		return v
	}
	return sarama.V2_1_0_0
}
