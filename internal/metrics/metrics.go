// Package metrics exposes the platform's Prometheus instrumentation:
// task lifecycle counters, order/position gauges, WebSocket connection
// counts, and stream/reconciler health, served over /metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the platform emits, grounded on the
// pack's own prometheus/client_golang usage
// (tommy-ca-opensqt_market_maker's pkg/liveserver.Server: package-level
// CounterVec/GaugeVec registered against a dedicated registry rather
// than the global default, one label dimension per instrument).
type Metrics struct {
	registry *prometheus.Registry

	TasksStarted    *prometheus.CounterVec
	TasksCompleted  *prometheus.CounterVec
	TaskExecutionDuration *prometheus.HistogramVec

	OrdersSubmitted *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	OrderLatency    *prometheus.HistogramVec

	OpenPositions   *prometheus.GaugeVec
	UnrealizedPnL   *prometheus.GaugeVec

	LockAcquireFailures *prometheus.CounterVec
	StaleTasksSwept     prometheus.Counter

	StreamReconnects     *prometheus.CounterVec
	ReconcileDiscrepancies *prometheus.CounterVec

	WebSocketActiveConnections *prometheus.GaugeVec
	WebSocketRejected          *prometheus.CounterVec
	TicksPublished             *prometheus.CounterVec
}

// New builds every instrument and registers them on a dedicated
// registry (never the global default, so multiple Metrics instances
// can coexist in tests without a double-registration panic).
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		TasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_tasks_started_total", Help: "Total tasks started, by type.",
		}, []string{"type"}),
		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_tasks_completed_total", Help: "Total tasks reaching a terminal state, by type and outcome.",
		}, []string{"type", "status"}),
		TaskExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "atlas_task_execution_duration_seconds", Help: "Task execution wall time, by type.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"type"}),
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_orders_submitted_total", Help: "Total orders submitted to the broker, by instrument.",
		}, []string{"instrument"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_orders_rejected_total", Help: "Total orders rejected by the broker or compliance, by reason.",
		}, []string{"reason"}),
		OrderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "atlas_order_latency_seconds", Help: "Time from submit to fill/reject acknowledgement.",
			Buckets: prometheus.DefBuckets,
		}, []string{"instrument"}),
		OpenPositions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "atlas_open_positions", Help: "Current open position count, by account.",
		}, []string{"account"}),
		UnrealizedPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "atlas_unrealized_pnl", Help: "Current unrealized P&L, by account and instrument.",
		}, []string{"account", "instrument"}),
		LockAcquireFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_lock_acquire_failures_total", Help: "Total failed task lock acquisitions, by task type.",
		}, []string{"type"}),
		StreamReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_stream_reconnects_total", Help: "Total broker transaction stream reconnects, by account.",
		}, []string{"account"}),
		ReconcileDiscrepancies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_reconcile_discrepancies_total", Help: "Total reconciliation discrepancies found, by kind.",
		}, []string{"kind"}),
		WebSocketActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "atlas_websocket_active_connections", Help: "Current active WebSocket connections, by group.",
		}, []string{"group"}),
		WebSocketRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_websocket_rejected_total", Help: "Total rejected WebSocket upgrade attempts, by reason.",
		}, []string{"reason"}),
		TicksPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_ticks_published_total", Help: "Total ticks published to subscribers, by instrument.",
		}, []string{"instrument"}),
	}

	m.StaleTasksSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atlas_stale_tasks_swept_total", Help: "Total tasks reaped by the stale-task sweep.",
	})

	reg.MustRegister(
		m.TasksStarted, m.TasksCompleted, m.TaskExecutionDuration,
		m.OrdersSubmitted, m.OrdersRejected, m.OrderLatency,
		m.OpenPositions, m.UnrealizedPnL,
		m.LockAcquireFailures, m.StaleTasksSwept,
		m.StreamReconnects, m.ReconcileDiscrepancies,
		m.WebSocketActiveConnections, m.WebSocketRejected, m.TicksPublished,
	)
	return m
}

// Handler returns the HTTP handler serving this registry's metrics in
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server runs a dedicated HTTP listener for /metrics, separate from
// the realtime WebSocket server, matching the pack's own pattern of a
// standalone metrics port (tommy-ca-opensqt_market_maker's
// infrastructure/metrics.Server).
type Server struct {
	httpServer *http.Server
}

func NewServer(port int, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &Server{httpServer: &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}}
}

func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
