package observability

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics aggregates the Prometheus collectors for the lending pool
// service: RPC traffic, engine operations and liquidation activity.
type LendingMetrics struct {
	requests     *prometheus.CounterVec
	errors       *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	throttles    *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	utilisation  *prometheus.GaugeVec
	borrowRate   *prometheus.GaugeVec
	supplyRate   *prometheus.GaugeVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// Metrics returns the lazily-initialised registry. Collectors register with
// the default Prometheus registry exactly once.
func Metrics() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and status code.",
			}, []string{"method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendpool",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by rate limiting.",
			}, []string{"reason"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "engine",
				Name:      "liquidations_total",
				Help:      "Executed liquidations segmented by debt and collateral asset.",
			}, []string{"debt_asset", "collateral_asset"}),
			utilisation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendpool",
				Subsystem: "engine",
				Name:      "utilisation_ratio",
				Help:      "Current reserve utilisation per asset.",
			}, []string{"asset"}),
			borrowRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendpool",
				Subsystem: "engine",
				Name:      "borrow_rate",
				Help:      "Current annual borrow rate per asset.",
			}, []string{"asset"}),
			supplyRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendpool",
				Subsystem: "engine",
				Name:      "supply_rate",
				Help:      "Current annual supply rate per asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			lendingRegistry.requests,
			lendingRegistry.errors,
			lendingRegistry.latency,
			lendingRegistry.throttles,
			lendingRegistry.liquidations,
			lendingRegistry.utilisation,
			lendingRegistry.borrowRate,
			lendingRegistry.supplyRate,
		)
	})
	return lendingRegistry
}

// Observe records the outcome of an RPC request. The status code should be the
// HTTP status written to the response.
func (m *LendingMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards stay consistent.
func (m *LendingMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// RecordLiquidation counts an executed liquidation.
func (m *LendingMetrics) RecordLiquidation(debtAsset, collateralAsset string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(debtAsset, collateralAsset).Inc()
}

// RecordReserveRates publishes the wad-scaled utilisation and rates reported
// for a reserve. Values outside float range are skipped rather than distorted.
func (m *LendingMetrics) RecordReserveRates(asset string, utilisation, borrowRate, supplyRate *big.Int) {
	if m == nil || asset == "" {
		return
	}
	if value, ok := wadToFloat(utilisation); ok {
		m.utilisation.WithLabelValues(asset).Set(value)
	}
	if value, ok := wadToFloat(borrowRate); ok {
		m.borrowRate.WithLabelValues(asset).Set(value)
	}
	if value, ok := wadToFloat(supplyRate); ok {
		m.supplyRate.WithLabelValues(asset).Set(value)
	}
}

var wadFloat = new(big.Float).SetFloat64(1e18)

func wadToFloat(value *big.Int) (float64, bool) {
	if value == nil {
		return 0, false
	}
	scaled := new(big.Float).SetInt(value)
	scaled.Quo(scaled, wadFloat)
	result, _ := scaled.Float64()
	return result, true
}
