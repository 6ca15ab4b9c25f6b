package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "moneymarket"

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics

	liquidatorMetricsOnce sync.Once
	liquidatorRegistry    *LiquidatorMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity per route group.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	module = labelOr(module, "unknown")
	method = labelOr(method, "unknown")
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(labelOr(module, "unknown"), labelOr(reason, "unspecified")).Inc()
}

// LendingMetrics tracks ledger transactions, market operations and the
// events they commit.
type LendingMetrics struct {
	txs        *prometheus.CounterVec
	txLatency  *prometheus.HistogramVec
	ops        *prometheus.CounterVec
	opLatency  *prometheus.HistogramVec
	events     *prometheus.CounterVec
	block      prometheus.Gauge
	marketCash *prometheus.GaugeVec
	borrows    *prometheus.GaugeVec
}

// Lending returns the singleton lending metrics registry.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			txs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "transactions_total",
				Help:      "Count of ledger transactions segmented by kind and outcome.",
			}, []string{"kind", "outcome"}),
			txLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "transaction_duration_seconds",
				Help:      "Latency distribution for ledger transactions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind"}),
			ops: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "market",
				Name:      "operations_total",
				Help:      "Count of market operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "market",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for market operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "events_total",
				Help:      "Count of committed ledger events segmented by type.",
			}, []string{"type"}),
			block: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "block_number",
				Help:      "Block number of the most recent committed transaction.",
			}),
			marketCash: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "market",
				Name:      "cash",
				Help:      "Underlying cash held by each market in whole units.",
			}, []string{"market"}),
			borrows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "market",
				Name:      "total_borrows",
				Help:      "Outstanding borrows of each market in whole units.",
			}, []string{"market"}),
		}
		prometheus.MustRegister(
			lendingRegistry.txs,
			lendingRegistry.txLatency,
			lendingRegistry.ops,
			lendingRegistry.opLatency,
			lendingRegistry.events,
			lendingRegistry.block,
			lendingRegistry.marketCash,
			lendingRegistry.borrows,
		)
	})
	return lendingRegistry
}

// ObserveTx records a ledger transaction.
func (m *LendingMetrics) ObserveTx(kind string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	kind = labelOr(kind, "unknown")
	m.txs.WithLabelValues(kind, outcome(err)).Inc()
	m.txLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveOp records a single market or flash loan operation.
func (m *LendingMetrics) ObserveOp(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	operation = labelOr(operation, "unknown")
	m.ops.WithLabelValues(operation, outcome(err)).Inc()
	m.opLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordEvent counts a committed event.
func (m *LendingMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(labelOr(eventType, "unknown")).Inc()
}

// RecordBlock updates the committed block gauge.
func (m *LendingMetrics) RecordBlock(block uint64) {
	if m == nil {
		return
	}
	m.block.Set(float64(block))
}

// RecordMarket updates the cash and borrow gauges of a market. Amounts are in
// the smallest unit and are scaled down by decimals.
func (m *LendingMetrics) RecordMarket(symbol string, decimals uint8, cash, totalBorrows *big.Int) {
	if m == nil {
		return
	}
	label := labelAsset(symbol)
	scale := math.Pow10(int(decimals))
	m.marketCash.WithLabelValues(label).Set(bigToFloat(cash) / scale)
	m.borrows.WithLabelValues(label).Set(bigToFloat(totalBorrows) / scale)
}

// LiquidatorMetrics wraps collectors tracking the liquidation bot.
type LiquidatorMetrics struct {
	attempts   *prometheus.CounterVec
	profit     *prometheus.CounterVec
	shortfalls prometheus.Gauge
	scans      *prometheus.HistogramVec
}

// Liquidator exposes the metrics registry for the liquidation bot.
func Liquidator() *LiquidatorMetrics {
	liquidatorMetricsOnce.Do(func() {
		liquidatorRegistry = &LiquidatorMetrics{
			attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "liquidator",
				Name:      "attempts_total",
				Help:      "Count of liquidation attempts segmented by repay market and outcome.",
			}, []string{"market", "outcome"}),
			profit: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "liquidator",
				Name:      "profit_total",
				Help:      "Cumulative liquidation profit per repay market in whole units.",
			}, []string{"market"}),
			shortfalls: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "liquidator",
				Name:      "accounts_in_shortfall",
				Help:      "Accounts found in shortfall during the most recent scan.",
			}),
			scans: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "liquidator",
				Name:      "scan_duration_seconds",
				Help:      "Latency distribution for a full account scan.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			liquidatorRegistry.attempts,
			liquidatorRegistry.profit,
			liquidatorRegistry.shortfalls,
			liquidatorRegistry.scans,
		)
	})
	return liquidatorRegistry
}

// RecordAttempt counts a liquidation attempt. Outcomes should be stable
// strings such as "liquidated", "retried" or "skipped".
func (m *LiquidatorMetrics) RecordAttempt(market, result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(labelAsset(market), labelOr(result, "unknown")).Inc()
}

// RecordProfit adds a realised profit given in whole units.
func (m *LiquidatorMetrics) RecordProfit(market string, profit float64) {
	if m == nil || profit <= 0 {
		return
	}
	m.profit.WithLabelValues(labelAsset(market)).Add(profit)
}

// ObserveScan records a scan and the number of accounts in shortfall.
func (m *LiquidatorMetrics) ObserveScan(shortfalls int, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if err == nil {
		m.shortfalls.Set(float64(shortfalls))
	}
	m.scans.WithLabelValues(outcome(err)).Observe(duration.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func labelOr(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
