package pipeline

import "github.com/prometheus/client_golang/prometheus"

const metricPrefix = "gelf_listener_"

// Drop reasons recorded on frames_dropped_total.
const (
	DropSaturated   = "saturated"
	DropRateLimited = "rate_limited"
	DropTooLarge    = "too_large"
)

var (
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "frames_received_total",
			Help: "Number of frames received",
		},
		[]string{"proto"},
	)
	bytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "received_bytes_total",
			Help: "Number of frame bytes received",
		},
		[]string{"proto"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "frames_dropped_total",
			Help: "Number of frames dropped before decoding",
		},
		[]string{"proto", "reason"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "decode_errors_total",
			Help: "Number of frames that failed to decode",
		},
		[]string{"proto", "stage"},
	)
	published = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "published_total",
			Help: "Number of messages acknowledged by the broker",
		},
		[]string{"proto"},
	)
	publishErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "publish_errors_total",
			Help: "Number of messages the broker did not acknowledge in time",
		},
		[]string{"proto"},
	)
	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: metricPrefix + "in_flight",
			Help: "Frames admitted and not yet published",
		},
	)
)

func init() {
	prometheus.MustRegister(framesReceived)
	prometheus.MustRegister(bytesReceived)
	prometheus.MustRegister(framesDropped)
	prometheus.MustRegister(decodeErrors)
	prometheus.MustRegister(published)
	prometheus.MustRegister(publishErrors)
	prometheus.MustRegister(inFlight)
}

// RecordDrop counts a frame a listener discarded before submitting it.
func RecordDrop(proto, reason string) {
	framesDropped.WithLabelValues(proto, reason).Inc()
}
