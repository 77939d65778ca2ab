package notify

import (
	"context"
	"encoding/json"
	"errors"

	"MarketChat/logger"
	"MarketChat/service/kafka"
	"MarketChat/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// KafkaQueue 网关只负责投递到 topic，由消费端 Direct 实际发送
type KafkaQueue struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaQueue(producer sarama.SyncProducer, topic string) *KafkaQueue {
	return &KafkaQueue{producer: producer, topic: topic}
}

func (q *KafkaQueue) Dispatch(_ context.Context, n Notification) error {
	if err := n.validate(); err != nil {
		return err
	}
	b, err := json.Marshal(n)
	if err != nil {
		return errs.WrapMsg(err, "marshal notification")
	}
	_, _, err = q.producer.SendMessage(&sarama.ProducerMessage{
		Topic: q.topic,
		Key:   sarama.StringEncoder(n.UserID), // 同一用户进同一分区
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return errs.ErrUnavailable.WrapMsg("enqueue notification", "err", err.Error())
	}
	return nil
}

// ConsumeHandler 消费端：没用户/没 token 的直接丢弃
func ConsumeHandler(d Dispatcher) kafka.MessageHandler {
	return func(topic string, _, value []byte) error {
		var n Notification
		if err := json.Unmarshal(value, &n); err != nil {
			logger.Warn("[Push] bad notification payload", zap.String("topic", topic), zap.Error(err))
			return nil
		}
		err := d.Dispatch(context.Background(), n)
		if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrPrecondition) {
			logger.Debug("[Push] skip", zap.String("user", n.UserID), zap.Error(err))
			return nil
		}
		return err
	}
}
