package natsx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu    sync.Mutex
	fails int
	calls []map[string]string
	data  [][]byte
}

func (f *fakePublisher) Publish(_ context.Context, biz string, data []byte, hdr map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, hdr)
	if f.fails > 0 {
		f.fails--
		return errors.New("nats down")
	}
	f.data = append(f.data, data)
	return nil
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) NatsxMiddleware {
		return func(next NatsxHandler) NatsxHandler {
			return func(ctx context.Context, msg NatsxMessage) error {
				order = append(order, name)
				return next(ctx, msg)
			}
		}
	}
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		order = append(order, "h")
		return nil
	}, mw("a"), mw("b"))
	require.NoError(t, h(context.Background(), NatsxMessage{}))
	assert.Equal(t, []string{"a", "b", "h"}, order)
}

func TestIdemMiddlewareSkipsDuplicates(t *testing.T) {
	now := time.Unix(1000, 0)
	store := NewMemIdem(time.Minute)
	store.now = func() time.Time { return now }

	n := 0
	h := NatsxChain(func(context.Context, NatsxMessage) error { n++; return nil }, NatsxIdemMiddleware(store, 0))
	msg := NatsxMessage{Subject: "s", Header: map[string]string{HeaderMsgID: "m1"}}

	_ = h(context.Background(), msg)
	_ = h(context.Background(), msg)
	assert.Equal(t, 1, n)

	// 无 ID 时按 subject+内容去重
	_ = h(context.Background(), NatsxMessage{Subject: "s", Data: []byte("x")})
	_ = h(context.Background(), NatsxMessage{Subject: "s", Data: []byte("x")})
	assert.Equal(t, 2, n)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, store.Purge())
	_ = h(context.Background(), msg)
	assert.Equal(t, 3, n)
}

func TestSyncPublisherRetries(t *testing.T) {
	fp := &fakePublisher{fails: 1}
	sp := &NatsxSyncPublisher{P: fp, Retries: 1, Backoff: time.Millisecond}
	require.NoError(t, sp.Publish(context.Background(), BizGlobal, []byte("x"), nil))
	assert.Len(t, fp.calls, 2)

	fp = &fakePublisher{fails: 5}
	sp = &NatsxSyncPublisher{P: fp, Retries: 2, Backoff: time.Millisecond}
	assert.Error(t, sp.Publish(context.Background(), BizGlobal, []byte("x"), nil))
	assert.Len(t, fp.calls, 3)
}

func TestBridgeSkipsOwnMessages(t *testing.T) {
	var got [][]byte
	fp := &fakePublisher{}
	b := newBridge(fp, func(frame []byte) { got = append(got, frame) })

	require.NoError(t, b.Publish(context.Background(), []byte(`{"event":"x"}`)))
	require.Len(t, fp.calls, 1)
	assert.Equal(t, b.InstanceID(), fp.calls[0][HeaderInstanceID])

	_ = b.handle(context.Background(), NatsxMessage{Data: []byte("own"), Header: map[string]string{HeaderInstanceID: b.InstanceID()}})
	_ = b.handle(context.Background(), NatsxMessage{Data: []byte("remote"), Header: map[string]string{HeaderInstanceID: "other"}})
	assert.Equal(t, [][]byte{[]byte("remote")}, got)
	assert.NoError(t, b.Close())
}

func TestWithMsgID(t *testing.T) {
	h := withMsgID(map[string]string{"a": "1"})
	assert.NotEmpty(t, h[HeaderMsgID])
	assert.Equal(t, "1", h["a"])
	assert.Equal(t, "fixed", withMsgID(map[string]string{HeaderMsgID: "fixed"})[HeaderMsgID])
	assert.Nil(t, headerToMap(nil))
}
