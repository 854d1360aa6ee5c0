// Package metrics exposes Prometheus instruments for bill run processing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "billing_"

	resultSuccess = "success"
	resultReview  = "review"
	resultError   = "error"

	outcomeKept      = "kept"
	outcomeCancelled = "cancelled"
	outcomeReversed  = "reversed"
)

var (
	registerOnce sync.Once

	allocationRuns      *prometheus.CounterVec
	allocationLatency   *prometheus.HistogramVec
	returnsWithIssues   *prometheus.CounterVec
	allocatedQuantity   prometheus.Counter
	reconciledTxs       *prometheus.CounterVec
	supplementaryErrors prometheus.Counter
)

// Init registers billing metrics with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		allocationRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "allocation_runs_total",
				Help: "Total two-part tariff allocation runs by result",
			},
			[]string{"result"},
		)
		allocationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "allocation_latency_seconds",
				Help:    "Two-part tariff allocation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		returnsWithIssues = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "returns_with_issues_total",
				Help: "Total issues raised against returns and charge elements by issue",
			},
			[]string{"issue"},
		)
		allocatedQuantity = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "allocated_quantity_total",
				Help: "Total return quantity allocated to charge elements",
			},
		)
		reconciledTxs = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconciled_transactions_total",
				Help: "Total supplementary transactions by reconciliation outcome",
			},
			[]string{"outcome"},
		)
		supplementaryErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "supplementary_errors_total",
				Help: "Total billing accounts that failed supplementary processing",
			},
		)

		prometheus.MustRegister(
			allocationRuns,
			allocationLatency,
			returnsWithIssues,
			allocatedQuantity,
			reconciledTxs,
			supplementaryErrors,
		)
	})
}

// ObserveAllocation records an allocation run's duration and result.
func ObserveAllocation(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if allocationRuns != nil {
		allocationRuns.WithLabelValues(result).Inc()
	}
	if allocationLatency != nil {
		allocationLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddIssues increments the issue counter for each issue, keyed by issue text.
func AddIssues(issues map[string]int) {
	if returnsWithIssues == nil {
		return
	}
	for issue, count := range issues {
		if count > 0 {
			returnsWithIssues.WithLabelValues(issue).Add(float64(count))
		}
	}
}

// AddAllocatedQuantity adds quantity to the allocated total. Negative values are ignored.
func AddAllocatedQuantity(quantity float64) {
	if quantity <= 0 || allocatedQuantity == nil {
		return
	}
	allocatedQuantity.Add(quantity)
}

// ObserveReconciliation records how many transactions were kept, cancelled and reversed.
func ObserveReconciliation(kept, cancelled, reversed int) {
	if reconciledTxs == nil {
		return
	}
	reconciledTxs.WithLabelValues(outcomeKept).Add(float64(kept))
	reconciledTxs.WithLabelValues(outcomeCancelled).Add(float64(cancelled))
	reconciledTxs.WithLabelValues(outcomeReversed).Add(float64(reversed))
}

// IncSupplementaryError increments the failed billing account counter.
func IncSupplementaryError() {
	if supplementaryErrors != nil {
		supplementaryErrors.Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultReview  = resultReview
	ResultError   = resultError
)
