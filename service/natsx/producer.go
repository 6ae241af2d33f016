package natsx

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const HeaderMsgID = "Nats-Msg-Id"

// NatsxProducer 生产端
type NatsxProducer struct{ c *NatsxClient }

func NewNatsxProducer(c *NatsxClient) *NatsxProducer { return &NatsxProducer{c: c} }

// Publish 按 Biz 路由发送；没有 msgID 时自动补一个
func (p *NatsxProducer) Publish(_ context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return fmt.Errorf("route not found: %s", biz)
	}
	msg := nats.NewMsg(r.Subject)
	msg.Data = data
	for k, v := range withMsgID(hdr) {
		msg.Header.Add(k, v)
	}
	if err := p.c.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

func withMsgID(hdr map[string]string) map[string]string {
	out := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		out[k] = v
	}
	if out[HeaderMsgID] == "" {
		out[HeaderMsgID] = uuid.NewString()
	}
	return out
}
