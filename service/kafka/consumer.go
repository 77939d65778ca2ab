package kafka

import (
	"context"
	"errors"

	"MarketChat/logger"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

type ConsumerGroupHandler struct{}

func (h *ConsumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	logger.Debug("[Kafka] consumer group setup")
	return nil
}

func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	logger.Debug("[Kafka] consumer group cleanup")
	return nil
}

// ConsumeClaim handler 出错只记日志并照常提交，推送不做重投
func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		handler, err := GetHandler(msg.Topic)
		if err != nil {
			logger.Warn("[Kafka] no handler", zap.String("topic", msg.Topic))
		} else if err := handler(msg.Topic, msg.Key, msg.Value); err != nil {
			logger.Warn("[Kafka] handler error",
				zap.String("topic", msg.Topic), zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset), zap.Error(err))
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// StartConsumerGroup 阻塞到 ctx 结束
func StartConsumerGroup(ctx context.Context, groupID string, topics []string) error {
	group, err := sarama.NewConsumerGroup(Cfg.Brokers, groupID, BuildBaseConfig())
	if err != nil {
		return err
	}
	defer group.Close()

	go func() {
		for err := range group.Errors() {
			logger.Warn("[Kafka] consumer group error", zap.Error(err))
		}
	}()

	handler := &ConsumerGroupHandler{}
	for {
		if err := group.Consume(ctx, topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.Warn("[Kafka] consume error", zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
