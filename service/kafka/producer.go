package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

var (
	KafkaClient sarama.Client
	SyncProd    sarama.SyncProducer
)

func BuildBaseConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = Cfg.kafkaVersion()
	cfg.ClientID = "market-chat"

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if Cfg.ProducerRetries <= 0 {
		Cfg.ProducerRetries = 1
	}
	cfg.Producer.Retry.Max = Cfg.ProducerRetries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // Key 控制分区，同一用户的推送保持顺序
	switch strings.ToLower(Cfg.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Consumer
	switch strings.ToLower(Cfg.ConsumerInitialOffset) {
	case "oldest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func InitKafkaClient() error {
	c, err := sarama.NewClient(Cfg.Brokers, BuildBaseConfig())
	if err != nil {
		return errors.Wrap(err, "kafka new client")
	}
	KafkaClient = c
	return nil
}

func InitSyncProducerFromClient() error {
	if KafkaClient == nil {
		return errors.New("kafka client not initialized")
	}
	p, err := sarama.NewSyncProducerFromClient(KafkaClient)
	if err != nil {
		return errors.Wrap(err, "kafka new sync producer")
	}
	SyncProd = p
	return nil
}

// SendSync key 决定分区
func SendSync(topic string, key, value []byte) error {
	if SyncProd == nil {
		return errors.New("kafka producer not initialized")
	}
	_, _, err := SyncProd.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

func Close() {
	if SyncProd != nil {
		_ = SyncProd.Close()
	}
	if KafkaClient != nil && !KafkaClient.Closed() {
		_ = KafkaClient.Close()
	}
}
