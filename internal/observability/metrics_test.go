package observability

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.SetState("idle")
	m.RecordingStarted()
	m.RecordingStopped()
	m.SetupFailed()
	m.Negotiation("ok")
	m.Fallback("video")
	m.PublishFailed()
}

func TestMetricsState(t *testing.T) {
	m := NewMetrics()
	known := []string{"idle", "prepared", "recording"}

	m.SetState("recording", known...)
	m.SetState("idle", known...)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionState.WithLabelValues("idle")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionState.WithLabelValues("recording")))

	m.Fallback("audio")
	m.Fallback("audio")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EncoderFallbacks.WithLabelValues("audio")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn")

	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "test").Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"component":"test"`)
}
