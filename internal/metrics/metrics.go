// Package metrics exposes the engine's Prometheus collectors:
//
//	oitrader_anomalies_total{action}            pipeline outcome per anomaly
//	oitrader_rejections_total{stage,category}   typed no-trade results
//	oitrader_orders_total{mode,type}            orders submitted
//	oitrader_order_failures_total{mode}         aborted executions
//	oitrader_cancel_failures_total{symbol}      escalated cancellation failures
//	oitrader_positions_closed_total{reason}     closes by reason
//	oitrader_sync_changes_total{kind}           reconciliation diff counts
//	oitrader_open_positions                     ledger size
//	oitrader_balance_usdt                       last known balance
//	oitrader_realized_pnl_usdt                  cumulative realized PnL
//	oitrader_http_request_seconds{method,route,code}  API latency
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oitrader"

type Metrics struct {
	registry *prometheus.Registry

	anomalies      *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	orders         *prometheus.CounterVec
	orderFailures  *prometheus.CounterVec
	cancelFailures *prometheus.CounterVec
	closed         *prometheus.CounterVec
	syncChanges    *prometheus.CounterVec
	openPositions  prometheus.Gauge
	balance        prometheus.Gauge
	realizedPnL    prometheus.Gauge
	httpLatency    *prometheus.HistogramVec
}

// New builds the collectors on a private registry so tests can construct as
// many instances as they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "anomalies_total",
			Help: "Anomalies processed by pipeline outcome.",
		}, []string{"action"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejections_total",
			Help: "Rejected signals by stage and category.",
		}, []string{"stage", "category"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_total",
			Help: "Orders submitted.",
		}, []string{"mode", "type"}),
		orderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "order_failures_total",
			Help: "Entry attempts aborted by the exchange.",
		}, []string{"mode"}),
		cancelFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cancel_failures_total",
			Help: "Open-order cancellations that exhausted their retries.",
		}, []string{"symbol"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "positions_closed_total",
			Help: "Positions closed by reason.",
		}, []string{"reason"}),
		syncChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_changes_total",
			Help: "Ledger changes applied by reconciliation.",
		}, []string{"kind"}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_positions",
			Help: "Open positions in the local ledger.",
		}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "balance_usdt",
			Help: "Last known account balance in USDT.",
		}),
		realizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "realized_pnl_usdt",
			Help: "Cumulative realized PnL since start.",
		}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_seconds",
			Help:    "HTTP API latency by route and status code.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"method", "route", "code"}),
	}
	m.registry.MustRegister(
		m.anomalies, m.rejections, m.orders, m.orderFailures, m.cancelFailures,
		m.closed, m.syncChanges, m.openPositions, m.balance, m.realizedPnL,
		m.httpLatency,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Anomaly(action string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(action).Inc()
}

func (m *Metrics) Rejection(stage, category string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(stage, category).Inc()
}

func (m *Metrics) OrderPlaced(mode, orderType string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(mode, orderType).Inc()
}

func (m *Metrics) OrderFailed(mode string) {
	if m == nil {
		return
	}
	m.orderFailures.WithLabelValues(mode).Inc()
}

func (m *Metrics) CancelFailed(symbol string) {
	if m == nil {
		return
	}
	m.cancelFailures.WithLabelValues(symbol).Inc()
}

func (m *Metrics) PositionClosed(reason string, pnl float64) {
	if m == nil {
		return
	}
	m.closed.WithLabelValues(reason).Inc()
	m.realizedPnL.Add(pnl)
}

func (m *Metrics) SyncChanges(added, removed, updated int) {
	if m == nil {
		return
	}
	m.syncChanges.WithLabelValues("added").Add(float64(added))
	m.syncChanges.WithLabelValues("removed").Add(float64(removed))
	m.syncChanges.WithLabelValues("updated").Add(float64(updated))
}

func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}

func (m *Metrics) SetBalance(v float64) {
	if m == nil {
		return
	}
	m.balance.Set(v)
}

// ObserveHTTP records one served request. route is the matched pattern, not
// the raw path, to keep cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, code int, took time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpLatency.WithLabelValues(method, route, strconv.Itoa(code)).Observe(took.Seconds())
}
