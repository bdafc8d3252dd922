// Package metrics exposes Prometheus collectors for the softphone.
// Collectors are registered on the default registry and served by the
// control API's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "softphone"

var (
	// RegistrationsTotal counts successful registrations.
	RegistrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Number of successful SIP registrations.",
	})

	// RegistrationActive is 1 while a registration is active.
	RegistrationActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registration_active",
		Help:      "Whether a SIP registration is currently active.",
	})

	// CallsTotal counts calls by direction.
	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_total",
		Help:      "Number of calls handled, by direction.",
	}, []string{"direction"})

	// CallFailures counts outbound call attempts that failed to establish.
	CallFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "call_failures_total",
		Help:      "Number of failed outbound call attempts.",
	})

	// CallsRejectedBusy counts inbound invitations rejected because the
	// session slot was occupied.
	CallsRejectedBusy = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_rejected_busy_total",
		Help:      "Number of inbound invitations rejected with 486 Busy Here.",
	})

	// CallDuration observes talk time of completed calls.
	CallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "call_duration_seconds",
		Help:      "Talk time of completed calls.",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	// KeepAliveTicks counts keep-alive probes sent.
	KeepAliveTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keepalive_ticks_total",
		Help:      "Number of registration keep-alive probes sent.",
	})

	// KeepAliveFailures counts keep-alive probes that failed.
	KeepAliveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keepalive_failures_total",
		Help:      "Number of registration keep-alive probes that failed.",
	})

	// RTPPacketsSent counts RTP packets written by media sessions.
	RTPPacketsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rtp_packets_sent_total",
		Help:      "Number of RTP packets sent.",
	})

	// RTPPacketsReceived counts RTP packets read by media sessions.
	RTPPacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rtp_packets_received_total",
		Help:      "Number of RTP packets received.",
	})
)
