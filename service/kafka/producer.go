package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

func BuildBaseConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = c.KafkaVersion
	cfg.ClientID = "ppoker"

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	retries := c.ProducerRetries
	if retries <= 0 {
		retries = 1
	}
	cfg.Producer.Retry.Max = retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // Key 控制分区
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

// NewSyncProducer 建 client + 同步生产者；需要时先确保 topic 存在
func NewSyncProducer(c Config) (sarama.SyncProducer, error) {
	cfg := BuildBaseConfig(c)
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, err
	}
	if c.EnsureTopicOnStart {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		// admin 与 client 共用连接，不单独关闭
		if err := EnsureTopic(admin, c); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return p, nil
}
