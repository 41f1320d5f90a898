// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Session transition labels.
const (
	TransitionStart = "start"
	TransitionStop  = "stop"
)

// Delivery failure kinds.
const (
	DeliveryBroadcast = "broadcast"
	DeliveryNotify    = "notify"
	DeliveryRequest   = "request"
)

// Capture drop reasons.
const (
	DropNotRecording  = "not_recording"
	DropCrossOrigin   = "cross_origin"
	DropRateLimited   = "rate_limited"
	DropContextClosed = "context_closed"
)

var (
	initOnce sync.Once

	eventsAppendedCounter      *prometheus.CounterVec
	sessionTransitionsCounter  *prometheus.CounterVec
	deliveryFailuresCounter    *prometheus.CounterVec
	persistenceFailuresCounter prometheus.Counter
	persistenceDurationMetric  prometheus.Histogram
	captureDroppedCounter      *prometheus.CounterVec
	captureContextsGauge       prometheus.Gauge
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		eventsAppendedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_events_appended_total",
				Help: "Total number of event records appended to the log by type.",
			},
			[]string{"type"},
		)

		sessionTransitionsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_session_transitions_total",
				Help: "Total number of recording session transitions.",
			},
			[]string{"transition"},
		)

		deliveryFailuresCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_delivery_failures_total",
				Help: "Total number of messages that could not be delivered, by kind.",
			},
			[]string{"kind"},
		)

		persistenceFailuresCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recorder_persistence_failures_total",
				Help: "Total number of failed event log write-throughs.",
			},
		)

		persistenceDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "recorder_persistence_duration_seconds",
				Help:    "Duration of event log write-throughs in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		captureDroppedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_capture_dropped_total",
				Help: "Total number of capture signals dropped before reaching the log, by reason.",
			},
			[]string{"reason"},
		)

		captureContextsGauge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "recorder_capture_contexts",
				Help: "Number of capture contexts currently connected.",
			},
		)

		prometheus.MustRegister(
			eventsAppendedCounter,
			sessionTransitionsCounter,
			deliveryFailuresCounter,
			persistenceFailuresCounter,
			persistenceDurationMetric,
			captureDroppedCounter,
			captureContextsGauge,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, transition := range []string{TransitionStart, TransitionStop} {
			sessionTransitionsCounter.WithLabelValues(transition)
		}
		for _, kind := range []string{DeliveryBroadcast, DeliveryNotify, DeliveryRequest} {
			deliveryFailuresCounter.WithLabelValues(kind)
		}
		for _, reason := range []string{DropNotRecording, DropCrossOrigin, DropRateLimited, DropContextClosed} {
			captureDroppedCounter.WithLabelValues(reason)
		}
	})
}

func IncEventsAppended(eventType string) {
	Init()
	eventsAppendedCounter.WithLabelValues(eventType).Inc()
}

func IncSessionTransition(transition string) {
	Init()
	sessionTransitionsCounter.WithLabelValues(transition).Inc()
}

func IncDeliveryFailure(kind string) {
	Init()
	deliveryFailuresCounter.WithLabelValues(kind).Inc()
}

func IncPersistenceFailure() {
	Init()
	persistenceFailuresCounter.Inc()
}

func ObservePersistenceDuration(d time.Duration) {
	Init()
	persistenceDurationMetric.Observe(d.Seconds())
}

func IncCaptureDropped(reason string) {
	Init()
	captureDroppedCounter.WithLabelValues(reason).Inc()
}

func AddCaptureContexts(delta float64) {
	Init()
	captureContextsGauge.Add(delta)
}
