// Package metrics exposes Prometheus instrumentation for the session
// subsystem: signaling traffic, session lifecycle, billing and relay load.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SignalConnected is 1 while the signaling channel is open.
	SignalConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "augur_signal_connected",
		Help: "Whether the signaling channel is currently open",
	})

	// SignalEnvelopes counts envelopes by direction ("in", "out") and type.
	SignalEnvelopes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "augur_signal_envelopes_total",
		Help: "Signaling envelopes processed",
	}, []string{"direction", "type"})

	// SessionTransitions counts lifecycle state entries.
	SessionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "augur_session_transitions_total",
		Help: "Session lifecycle transitions by target state",
	}, []string{"state"})

	// SessionsEnded counts finished sessions by type and end reason.
	SessionsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "augur_sessions_ended_total",
		Help: "Finished sessions by type and end reason",
	}, []string{"type", "reason"})

	// SessionDuration records the connected duration of finished sessions.
	SessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "augur_session_duration_seconds",
		Help:    "Connected duration of finished sessions",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	})

	// ChargesTotal counts committed billing charges.
	ChargesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "augur_billing_charges_total",
		Help: "Per-minute charges committed",
	})

	// ChargedCents sums committed charges in cents.
	ChargedCents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "augur_billing_charged_cents_total",
		Help: "Sum of committed charges in cents",
	})

	// ChatMessages counts chat messages by direction and delivery path.
	ChatMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "augur_chat_messages_total",
		Help: "Chat messages by direction and delivery path",
	}, []string{"direction", "path"})

	// RelayConnections tracks clients attached to the development relay.
	RelayConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "augur_relay_connections",
		Help: "Clients currently attached to the signaling relay",
	})

	// RelayRouted counts relay deliveries; result is "delivered" or "dropped".
	RelayRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "augur_relay_routed_total",
		Help: "Envelopes routed by the signaling relay",
	}, []string{"result"})

	// MediaRTCP counts RTCP packets received on remote tracks, by type.
	MediaRTCP = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "augur_media_rtcp_packets_total",
		Help: "RTCP packets observed on the media transport",
	}, []string{"type"})

	// MediaPackets counts RTP packets read from remote tracks, by kind.
	MediaPackets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "augur_media_rtp_packets_total",
		Help: "RTP packets received from remote tracks",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		SignalConnected,
		SignalEnvelopes,
		SessionTransitions,
		SessionsEnded,
		SessionDuration,
		ChargesTotal,
		ChargedCents,
		ChatMessages,
		RelayConnections,
		RelayRouted,
		MediaRTCP,
		MediaPackets,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
