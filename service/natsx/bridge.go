package natsx

import (
	"context"
	"time"

	"PPoker/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	BizGlobal        = "global"
	HeaderInstanceID = "X-Instance-Id"
)

// Bridge 实例之间转发全局广播（人数变化、session 创建/删除）。
// 每条消息带上本实例 ID，收到自己发的直接丢弃。
type Bridge struct {
	instanceID string
	pub        *NatsxSyncPublisher
	client     *NatsxClient
	consumer   *NatsxConsumer
	idem       *memIdem
	deliver    func(frame []byte)
	log        *zap.Logger
}

type BridgeConfig struct {
	Client  NatsxConfig
	Subject string
}

// NewBridge 连接 NATS 并注册全局 subject；deliver 负责本地投递
func NewBridge(cfg BridgeConfig, deliver func(frame []byte)) (*Bridge, error) {
	c, err := NewNatsxClient(cfg.Client)
	if err != nil {
		return nil, err
	}
	if err := c.RegisterRoute(NatsxRoute{Biz: BizGlobal, Subject: cfg.Subject}); err != nil {
		_ = c.Close()
		return nil, err
	}
	b := newBridge(NewNatsxProducer(c), deliver)
	b.client = c
	b.consumer = NewNatsxConsumer(c, NatsxIdemMiddleware(b.idem, time.Minute))
	return b, nil
}

func newBridge(p publisher, deliver func(frame []byte)) *Bridge {
	return &Bridge{
		instanceID: uuid.NewString(),
		pub:        &NatsxSyncPublisher{P: p, Retries: 1, Backoff: 100 * time.Millisecond},
		idem:       NewMemIdem(time.Minute),
		deliver:    deliver,
		log:        logger.Named("nats-bridge"),
	}
}

func (b *Bridge) InstanceID() string { return b.instanceID }

// Start 开始订阅，ctx 结束时停止清理协程
func (b *Bridge) Start(ctx context.Context) error {
	go b.idem.RunPurge(ctx, time.Minute)
	return b.consumer.Subscribe(BizGlobal, b.handle)
}

func (b *Bridge) Publish(ctx context.Context, frame []byte) error {
	return b.pub.Publish(ctx, BizGlobal, frame, map[string]string{HeaderInstanceID: b.instanceID})
}

func (b *Bridge) handle(_ context.Context, msg NatsxMessage) error {
	if msg.Header[HeaderInstanceID] == b.instanceID {
		return nil
	}
	b.log.Debug("remote global frame", zap.String("from", msg.Header[HeaderInstanceID]), zap.Int("bytes", len(msg.Data)))
	b.deliver(msg.Data)
	return nil
}

func (b *Bridge) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}
