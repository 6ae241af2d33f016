package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UnknownEvent 未注册事件统一使用的 event 标签
const UnknownEvent = "unknown"

// Metrics 网关在线状态相关指标；nil 接收者上的方法都是空操作，测试里可以直接传 nil
type Metrics struct {
	ConnectionsOnline     prometheus.Gauge
	SessionsTracked       prometheus.Gauge
	ReconcileTotal        prometheus.Counter
	ReconcileDriftTotal   prometheus.Counter
	RegistrationConflicts prometheus.Counter
	EventsTotal           *prometheus.CounterVec
	EventErrorsTotal      *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ConnectionsOnline: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "ppoker_connections_online",
				Help: "Current number of live websocket connections on this instance",
			}),
			SessionsTracked: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "ppoker_sessions_tracked",
				Help: "Number of sessions with at least one live member",
			}),
			ReconcileTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ppoker_reconcile_total",
				Help: "Total number of room reconciliations",
			}),
			ReconcileDriftTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ppoker_reconcile_drift_total",
				Help: "Reconciliations where the cached membership differed from the room",
			}),
			RegistrationConflicts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ppoker_registration_conflicts_total",
				Help: "Login attempts rejected because the identity was already connected",
			}),
			EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ppoker_events_total",
				Help: "Client events handled, by event name",
			}, []string{"event"}),
			EventErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ppoker_event_errors_total",
				Help: "Client events that ended in an error emission, by event name",
			}, []string{"event"}),
		}
	})
	return metricsInstance
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) ConnOpened() {
	if m == nil || m.ConnectionsOnline == nil {
		return
	}
	m.ConnectionsOnline.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil || m.ConnectionsOnline == nil {
		return
	}
	m.ConnectionsOnline.Dec()
}

func (m *Metrics) SetSessionsTracked(n int) {
	if m == nil || m.SessionsTracked == nil {
		return
	}
	m.SessionsTracked.Set(float64(n))
}

func (m *Metrics) RecordReconcile(drift bool) {
	if m == nil || m.ReconcileTotal == nil {
		return
	}
	m.ReconcileTotal.Inc()
	if drift && m.ReconcileDriftTotal != nil {
		m.ReconcileDriftTotal.Inc()
	}
}

func (m *Metrics) RecordConflict() {
	if m == nil || m.RegistrationConflicts == nil {
		return
	}
	m.RegistrationConflicts.Inc()
}

func (m *Metrics) RecordEvent(event string, failed bool) {
	if m == nil || m.EventsTotal == nil {
		return
	}
	m.EventsTotal.WithLabelValues(event).Inc()
	if failed && m.EventErrorsTotal != nil {
		m.EventErrorsTotal.WithLabelValues(event).Inc()
	}
}
