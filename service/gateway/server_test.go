package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"PPoker/logger"
	"PPoker/service/metrics"
	"PPoker/service/presence"
	"PPoker/tools/errs"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type noSessions struct{}

func (noSessions) FindSession(_ context.Context, id string) (*presence.SessionInfo, error) {
	return nil, errs.ErrSessionNotFound.WrapMsg("find", "sessionId", id)
}

func (noSessions) RemoveParticipant(context.Context, string, string) (bool, error) {
	return false, nil
}

func newTestServer(t *testing.T, m *metrics.Metrics) (*Server, *WsConn) {
	t.Helper()
	rooms := presence.NewRoomIndex()
	tracker := presence.NewMemoryTracker()
	proto := presence.NewProtocol(rooms, tracker, presence.NewReconciler(rooms, tracker, nil),
		noSessions{}, presence.NewLifecycleHooks(noSessions{}, nil))
	s := NewServer(Options{
		NodeID:   "gw-test",
		Registry: presence.NewMemoryRegistry(),
		Protocol: proto,
		Rooms:    rooms,
		Metrics:  m,
	})
	w := NewWsConn("c1", presence.Identity{UserID: "u1", Username: "alice"}, nil, 1024, time.Now())
	require.NoError(t, s.mgr.Add(w))
	return s, w
}

func TestUnknownEventsShareOneMetricSeries(t *testing.T) {
	m := metrics.NewMetrics()
	s, w := newTestServer(t, m)
	s.disp.Register(stubHandler{event: "ok", fn: func() ([]presence.Outbound, error) { return nil, nil }})
	ctx := context.Background()

	unknownBefore := testutil.ToFloat64(m.EventsTotal.WithLabelValues(metrics.UnknownEvent))
	unknownErrBefore := testutil.ToFloat64(m.EventErrorsTotal.WithLabelValues(metrics.UnknownEvent))
	okBefore := testutil.ToFloat64(m.EventsTotal.WithLabelValues("ok"))
	series := testutil.CollectAndCount(m.EventsTotal)
	errSeries := testutil.CollectAndCount(m.EventErrorsTotal)

	for i := 0; i < 200; i++ {
		s.handleEvent(ctx, &Envelope{Event: fmt.Sprintf("junk-%d", i)}, w)
	}
	s.handleEvent(ctx, &Envelope{Event: "ok"}, w)

	assert.Equal(t, series, testutil.CollectAndCount(m.EventsTotal))
	assert.Equal(t, errSeries, testutil.CollectAndCount(m.EventErrorsTotal))
	assert.Equal(t, unknownBefore+200, testutil.ToFloat64(m.EventsTotal.WithLabelValues(metrics.UnknownEvent)))
	assert.Equal(t, unknownErrBefore+200, testutil.ToFloat64(m.EventErrorsTotal.WithLabelValues(metrics.UnknownEvent)))
	assert.Equal(t, okBefore+1, testutil.ToFloat64(m.EventsTotal.WithLabelValues("ok")))
	// 每个未知事件都给发送方回了 error
	assert.Len(t, w.SendChan, 200)
}

func TestRejectedEventLoggedAtDebugWithoutStack(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := logger.Log
	logger.Log = zap.New(core)
	t.Cleanup(func() { logger.Log = prev })

	s, w := newTestServer(t, nil)
	s.disp.Register(stubHandler{event: "boom", fn: func() ([]presence.Outbound, error) {
		return nil, errs.ErrInternal.WrapMsg("store down")
	}})
	ctx := context.Background()

	s.handleEvent(ctx, &Envelope{Event: "voteUpdate"}, w)
	rejected := logs.FilterMessage("event rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, zapcore.DebugLevel, rejected[0].Level)
	assert.Equal(t, metrics.UnknownEvent, rejected[0].ContextMap()["event"])
	assert.NotContains(t, rejected[0].ContextMap(), "reasonVerbose")
	assert.NotContains(t, rejected[0].ContextMap(), "errorVerbose")

	s.handleEvent(ctx, &Envelope{Event: "boom"}, w)
	failed := logs.FilterMessage("event failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
}
