// Package metrics exposes Interlink's Prometheus metrics. Collectors are
// registered with the default registry on import; Handler serves them.
//
// # Basic Usage
//
//	timer := metrics.NewTimer()
//	n, err := store.Enqueue(ctx, iface, sourceID, records, hash)
//	metrics.ObservePoll(err, timer.Stop())
//	metrics.MessagesEnqueued.WithLabelValues(iface).Add(float64(n))
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/ajitpratap0/interlink/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Poll outcomes used as the status label of PollsTotal
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

var (
	// PollsTotal counts source polls by outcome
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interlink_polls_total",
			Help: "Source polls by outcome",
		},
		[]string{"status"},
	)

	// PollDuration tracks how long a source poll takes, from Read to the last Commit
	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "interlink_poll_duration_seconds",
			Help:    "Duration of source polls",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8), // 10ms .. ~160s
		},
	)

	// MessagesEnqueued counts staged messages per interface
	MessagesEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interlink_messages_enqueued_total",
			Help: "Messages staged in the message store",
		},
		[]string{"interface"},
	)

	// MessagesClaimed counts messages leased by each destination
	MessagesClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interlink_messages_claimed_total",
			Help: "Messages claimed for delivery",
		},
		[]string{"destination"},
	)

	// MessagesAcknowledged counts successful deliveries
	MessagesAcknowledged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interlink_messages_acknowledged_total",
			Help: "Messages acknowledged by a destination",
		},
	)

	// MessagesFailed counts failed delivery attempts
	MessagesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interlink_messages_failed_total",
			Help: "Failed delivery attempts",
		},
	)

	// MessagesDeadLettered counts messages that exhausted their retries
	MessagesDeadLettered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interlink_messages_dead_lettered_total",
			Help: "Messages moved to the dead-letter state",
		},
	)

	// DeliveryDuration tracks destination writes per adapter type
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "interlink_delivery_duration_seconds",
			Help:    "Duration of destination writes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"adapter"},
	)

	// StagedMessages reports the message store contents by state
	StagedMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "interlink_staged_messages",
			Help: "Messages in the store by state",
		},
		[]string{"state"},
	)
)

// ObservePoll records the outcome and duration of one poll.
func ObservePoll(err error, d time.Duration) {
	if err != nil {
		PollsTotal.WithLabelValues(StatusFailed).Inc()
	} else {
		PollsTotal.WithLabelValues(StatusSuccess).Inc()
	}
	PollDuration.Observe(d.Seconds())
}

// SetStaged updates the staged message gauges from store statistics.
func SetStaged(s *store.Stats) {
	StagedMessages.WithLabelValues("pending").Set(float64(s.Pending))
	StagedMessages.WithLabelValues("leased").Set(float64(s.Leased))
	StagedMessages.WithLabelValues("dead_lettered").Set(float64(s.DeadLettered))
}

// StatsSource is the part of the message store the gauge refresher reads.
type StatsSource interface {
	Stats(ctx context.Context) (*store.Stats, error)
}

// RefreshStaged refreshes the staged message gauges every interval until ctx
// is cancelled.
func RefreshStaged(ctx context.Context, src StatsSource, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		stats, err := src.Stats(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("failed to refresh staged message gauges", zap.Error(err))
		} else {
			SetStaged(stats)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the time elapsed since NewTimer. It may be called repeatedly.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
