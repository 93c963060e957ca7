// Package metrics 提供 Prometheus helper，包含引擎业务指标与 HTTP 指标
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unxversal/optionsengine/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration prometheus.Histogram

	// 业务指标
	MarketsCreatedTotal prometheus.Counter
	TradesTotal         *prometheus.CounterVec
	PremiumCharged      prometheus.Histogram
	ExercisesTotal      *prometheus.CounterVec
	SettlementPositions *prometheus.CounterVec
	SettlementDuration  prometheus.Histogram
	PositionsActive     prometheus.Gauge
	OracleErrorsTotal   prometheus.Counter
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		MarketsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "markets_created_total",
			Help:      "Total option markets created",
		}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "trades_total",
			Help:      "Total trades by side",
		}, []string{"side"}),
		PremiumCharged: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "premium_base_units",
			Help:      "Premium charged per trade in base units",
			Buckets:   prometheus.ExponentialBuckets(1, 10, 10),
		}),
		ExercisesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "exercises_total",
			Help:      "Total exercises by mode (manual/auto)",
		}, []string{"mode"}),
		SettlementPositions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "settlement_positions_total",
			Help:      "Positions processed by the settlement batch, by outcome",
		}, []string{"outcome"}),
		SettlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "settlement_batch_duration_seconds",
			Help:      "Settlement batch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		PositionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "positions_active",
			Help:      "Number of open positions",
		}),
		OracleErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "options",
			Subsystem: serviceName,
			Name:      "oracle_errors_total",
			Help:      "Oracle lookups rejected (stale, mismatch, missing)",
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.MarketsCreatedTotal,
		m.TradesTotal,
		m.PremiumCharged,
		m.ExercisesTotal,
		m.SettlementPositions,
		m.SettlementDuration,
		m.PositionsActive,
		m.OracleErrorsTotal,
	}

	for _, c := range collectors {
		if err := prometheus.DefaultRegisterer.Register(c); err != nil {
			logger.Error(context.Background(), "failed to register metric", "error", err)
			return err
		}
	}

	return nil
}

// StartHTTPServer 启动 Prometheus HTTP 服务器
func StartHTTPServer(port int, path string) {
	if path == "" {
		path = "/metrics"
	}

	http.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info(context.Background(), "starting Prometheus HTTP server", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.Error(context.Background(), "prometheus HTTP server stopped", "error", err)
		}
	}()
}
