package kafka

import (
	"errors"
	"fmt"

	"PPoker/logger"

	"github.com/Shopify/sarama"
)

// topicAdmin sarama.ClusterAdmin 里用到的部分
type topicAdmin interface {
	DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	CreatePartitions(topic string, count int32, assignment [][]int32, validateOnly bool) error
}

// EnsureTopic 会：
// 1) 不存在就按配置创建；
// 2) 已存在且分区数 < 期望值时扩分区（Kafka 只能加不能减）。
func EnsureTopic(admin topicAdmin, c Config) error {
	t := c.Topic
	descs, err := admin.DescribeTopics([]string{t})
	if err != nil {
		return fmt.Errorf("describe topic %s: %w", t, err)
	}
	exists := len(descs) == 1 && errors.Is(descs[0].Err, sarama.ErrNoError)

	minISR := "1"
	if c.ReplicationFactor >= 3 {
		minISR = "2"
	}

	if !exists {
		td := &sarama.TopicDetail{
			NumPartitions:     c.Partitions,
			ReplicationFactor: c.ReplicationFactor,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(t, td, false); err != nil {
			var te *sarama.TopicError
			if errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists {
				logger.Infof("[Topic] exists (race): %s", t)
				return nil
			}
			if errors.Is(err, sarama.ErrTopicAlreadyExists) {
				logger.Infof("[Topic] exists (race): %s", t)
				return nil
			}
			return fmt.Errorf("create topic %s: %w", t, err)
		}
		logger.Infof("[Topic] created: %s (partitions=%d, rf=%d)", t, c.Partitions, c.ReplicationFactor)
		return nil
	}

	curParts := int32(len(descs[0].Partitions))
	if c.Partitions > curParts {
		if err := admin.CreatePartitions(t, c.Partitions, nil, false); err != nil {
			return fmt.Errorf("expand partitions %s from %d to %d: %w", t, curParts, c.Partitions, err)
		}
		logger.Infof("[Topic] partitions expanded: %s (%d -> %d)", t, curParts, c.Partitions)
		return nil
	}
	logger.Infof("[Topic] exists: %s (partitions=%d)", t, curParts)
	return nil
}

func strPtr(s string) *string { return &s }
