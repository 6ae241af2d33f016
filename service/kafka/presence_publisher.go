package kafka

import (
	"context"
	"encoding/json"

	"PPoker/service/presence"

	"github.com/Shopify/sarama"
)

// PresencePublisher 把在线状态变化写进 Kafka，key = sessionId
type PresencePublisher struct {
	producer sarama.SyncProducer
	topic    string
}

var _ presence.EventSink = (*PresencePublisher)(nil)

func NewPresencePublisher(producer sarama.SyncProducer, topic string) *PresencePublisher {
	return &PresencePublisher{producer: producer, topic: topic}
}

func (p *PresencePublisher) Publish(ctx context.Context, ev presence.PresenceEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := p.buildMessage(ev)
	if err != nil {
		return err
	}
	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *PresencePublisher) buildMessage(ev presence.PresenceEvent) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.SessionID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(ev.Type)},
		},
	}, nil
}

func (p *PresencePublisher) Close() error {
	return p.producer.Close()
}
