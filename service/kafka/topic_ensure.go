package kafka

import (
	"errors"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"
	pkgerr "github.com/pkg/errors"
)

// EnsureTopics 推送任务 topic 不存在就建，分区少于期望时扩分区（只能加不能减）
func EnsureTopics(admin sarama.ClusterAdmin, topics []string, appCfg *AppConfig) error {
	for _, t := range topics {
		if t == "" {
			continue
		}
		descs, err := admin.DescribeTopics([]string{t})
		if err != nil {
			return pkgerr.Wrapf(err, "describe topic %s", t)
		}
		exists := len(descs) == 1 && errors.Is(descs[0].Err, sarama.ErrNoError)

		minISR := "1"
		if appCfg.ReplicationFactor >= 3 {
			minISR = "2"
		}

		if !exists {
			td := &sarama.TopicDetail{
				NumPartitions:     appCfg.PartitionsPerTopic,
				ReplicationFactor: appCfg.ReplicationFactor,
				ConfigEntries: map[string]*string{
					"cleanup.policy":                 strPtr("delete"),
					"min.insync.replicas":            strPtr(minISR),
					"unclean.leader.election.enable": strPtr("false"),
					"compression.type":               strPtr("producer"),
				},
			}
			if err := admin.CreateTopic(t, td, false); err != nil {
				var te *sarama.TopicError
				if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
					glog.Infof("[Kafka] push topic exists (race): %s", t)
					continue
				}
				return pkgerr.Wrapf(err, "create topic %s", t)
			}
			glog.Infof("[Kafka] push topic created: %s partitions=%d rf=%d", t, appCfg.PartitionsPerTopic, appCfg.ReplicationFactor)
			continue
		}

		curParts := int32(len(descs[0].Partitions))
		if appCfg.PartitionsPerTopic > curParts {
			if err := admin.CreatePartitions(t, appCfg.PartitionsPerTopic, nil, false); err != nil {
				return pkgerr.Wrapf(err, "expand partitions %s %d -> %d", t, curParts, appCfg.PartitionsPerTopic)
			}
			glog.Infof("[Kafka] push topic expanded: %s %d -> %d", t, curParts, appCfg.PartitionsPerTopic)
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }
