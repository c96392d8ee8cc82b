// Package metrics exposes the prometheus collectors shared across monitors
// and processors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the service registers. A fresh instance
// with its own registry is used in tests so parallel suites never collide.
type Metrics struct {
	Registry *prometheus.Registry

	MonitorLastBlock *prometheus.GaugeVec
	MonitorRunning   *prometheus.GaugeVec
	RangesProcessed  *prometheus.CounterVec
	LogsDecoded      *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec
	RangeRetries     *prometheus.CounterVec
	RPCErrors        *prometheus.CounterVec
	AlertsRouted     *prometheus.CounterVec
	RangeSeconds     *prometheus.HistogramVec
	WSClients        prometheus.Gauge
}

// New builds and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		MonitorLastBlock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pumpwatch",
			Name:      "monitor_last_block",
			Help:      "Last block committed by each monitor.",
		}, []string{"monitor"}),
		MonitorRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pumpwatch",
			Name:      "monitor_running",
			Help:      "1 while the monitor loop is running.",
		}, []string{"monitor"}),
		RangesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pumpwatch",
			Name:      "ranges_processed_total",
			Help:      "Block ranges committed.",
		}, []string{"monitor"}),
		LogsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pumpwatch",
			Name:      "logs_decoded_total",
			Help:      "Chain logs decoded into events.",
		}, []string{"monitor"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pumpwatch",
			Name:      "decode_errors_total",
			Help:      "Logs skipped because they failed to decode.",
		}, []string{"monitor"}),
		RangeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pumpwatch",
			Name:      "range_retries_total",
			Help:      "Range processing retries.",
		}, []string{"monitor"}),
		RPCErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pumpwatch",
			Name:      "rpc_errors_total",
			Help:      "RPC failures by classified kind.",
		}, []string{"kind"}),
		AlertsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pumpwatch",
			Name:      "alerts_routed_total",
			Help:      "Alerts persisted and fanned out, by severity.",
		}, []string{"severity"}),
		RangeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pumpwatch",
			Name:      "range_duration_seconds",
			Help:      "Wall time spent processing one block range.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"monitor"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pumpwatch",
			Name:      "websocket_clients",
			Help:      "Connected websocket clients.",
		}),
	}
	reg.MustRegister(
		m.MonitorLastBlock, m.MonitorRunning, m.RangesProcessed, m.LogsDecoded,
		m.DecodeErrors, m.RangeRetries, m.RPCErrors, m.AlertsRouted,
		m.RangeSeconds, m.WSClients,
	)
	return m
}
