package ledger

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	participantsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fedledger",
		Subsystem: "registry",
		Name:      "participants",
		Help:      "Number of registered participants",
	})

	roundMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fedledger",
		Subsystem: "round",
		Name:      "current",
		Help:      "The current round number",
	})

	submissionsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fedledger",
		Subsystem: "round",
		Name:      "submissions_total",
		Help:      "Number of accepted updates in a round",
	}, []string{"id"})

	rewardsCreditedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fedledger",
		Subsystem: "rewards",
		Name:      "credited_total",
		Help:      "Total amount of rewards credited to participants",
	})

	rewardsClaimedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fedledger",
		Subsystem: "rewards",
		Name:      "claimed_total",
		Help:      "Total amount of rewards withdrawn by participants",
	})

	rewardsRestoredMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fedledger",
		Subsystem: "rewards",
		Name:      "restored_total",
		Help:      "Total amount of withdrawn rewards credited back after a failed settlement",
	})

	rejectedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fedledger",
		Subsystem: "ledger",
		Name:      "rejected_total",
		Help:      "Number of rejected operations by error code",
	}, []string{"op", "code"})

	commitLatencyMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fedledger",
		Subsystem: "ledger",
		Name:      "commit_latency_seconds",
		Help:      "Latency of ledger batch commits",
		Buckets:   prometheus.ExponentialBuckets(0.001, 1.5, 20),
	})
)

func roundLabel(round uint64) string {
	return strconv.FormatUint(round, 10)
}

func observeRejected(op string, err error) {
	code, ok := CodeOf(err)
	if !ok {
		return
	}
	rejectedMetric.WithLabelValues(op, strconv.FormatUint(uint64(code), 10)).Inc()
}
