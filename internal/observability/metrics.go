package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the recorder's collectors on a private registry.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry             *prometheus.Registry
	SessionState         *prometheus.GaugeVec
	RecordingsStarted    prometheus.Counter
	RecordingsStopped    prometheus.Counter
	SetupFailures        prometheus.Counter
	NegotiationAttempts  *prometheus.CounterVec
	EncoderFallbacks     *prometheus.CounterVec
	LowSpaceStops        prometheus.Counter
	MediaIndexPublishErr prometheus.Counter
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		SessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "screen_recorder",
			Name:      "session_state",
			Help:      "1 for the current recording session state, 0 otherwise",
		}, []string{"state"}),
		RecordingsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "screen_recorder",
			Name:      "recordings_started_total",
			Help:      "Total recordings started",
		}),
		RecordingsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "screen_recorder",
			Name:      "recordings_stopped_total",
			Help:      "Total recordings finalized",
		}),
		SetupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "screen_recorder",
			Name:      "setup_failures_total",
			Help:      "Total recorder setups that failed",
		}),
		NegotiationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "screen_recorder",
			Name:      "negotiation_attempts_total",
			Help:      "Encoder negotiation attempts by outcome",
		}, []string{"outcome"}),
		EncoderFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "screen_recorder",
			Name:      "encoder_fallbacks_total",
			Help:      "Moves to the next encoder candidate by media kind",
		}, []string{"kind"}),
		LowSpaceStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "screen_recorder",
			Name:      "low_space_stops_total",
			Help:      "Recordings stopped because the output volume ran low on space",
		}),
		MediaIndexPublishErr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "screen_recorder",
			Name:      "media_index_errors_total",
			Help:      "Total failures registering recordings with the media index",
		}),
	}
	r.MustRegister(m.SessionState, m.RecordingsStarted, m.RecordingsStopped, m.SetupFailures,
		m.NegotiationAttempts, m.EncoderFallbacks, m.LowSpaceStops, m.MediaIndexPublishErr)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// SetState marks state as current and clears every other known state.
func (m *Metrics) SetState(state string, known ...string) {
	if m == nil {
		return
	}
	for _, s := range known {
		m.SessionState.WithLabelValues(s).Set(0)
	}
	m.SessionState.WithLabelValues(state).Set(1)
}

func (m *Metrics) RecordingStarted() {
	if m != nil {
		m.RecordingsStarted.Inc()
	}
}

func (m *Metrics) RecordingStopped() {
	if m != nil {
		m.RecordingsStopped.Inc()
	}
}

func (m *Metrics) SetupFailed() {
	if m != nil {
		m.SetupFailures.Inc()
	}
}

// Negotiation counts one attempt: ok, video_constraint, audio_constraint,
// exhausted or error.
func (m *Metrics) Negotiation(outcome string) {
	if m != nil {
		m.NegotiationAttempts.WithLabelValues(outcome).Inc()
	}
}

// Fallback counts a move to the next candidate for kind (video or audio).
func (m *Metrics) Fallback(kind string) {
	if m != nil {
		m.EncoderFallbacks.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) PublishFailed() {
	if m != nil {
		m.MediaIndexPublishErr.Inc()
	}
}

func (m *Metrics) LowSpaceStop() {
	if m != nil {
		m.LowSpaceStops.Inc()
	}
}
