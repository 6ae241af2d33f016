package kafka

import "github.com/Shopify/sarama"

// Config 在线状态事件流的 Kafka 配置
type Config struct {
	Brokers             []string
	Topic               string
	Partitions          int32 // 按 sessionId 分区，同一 session 的事件有序
	ReplicationFactor   int16 // 单机=1；生产=3
	ProducerRetries     int
	ProducerCompression string // none/snappy/lz4/zstd
	KafkaVersion        sarama.KafkaVersion
	EnsureTopicOnStart  bool
}

func DefaultConfig() Config {
	return Config{
		Topic:               "ppoker.presence",
		Partitions:          8,
		ReplicationFactor:   1,
		ProducerRetries:     3,
		ProducerCompression: "snappy",
		KafkaVersion:        sarama.V2_1_0_0,
		EnsureTopicOnStart:  true,
	}
}
