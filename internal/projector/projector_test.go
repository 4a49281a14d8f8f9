package projector_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apatte-racing/telemetry-ingest/internal/envelope"
	"github.com/apatte-racing/telemetry-ingest/internal/projector"
)

func TestProject_Telemetry(t *testing.T) {
	raw := []byte(`{"v":1,"msg_id":"m1"}`)
	env := &envelope.Envelope{
		Kind: envelope.KindTelemetry,
		At:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Data: &envelope.Data{Metrics: map[string]float64{"speed_kph": 42.5}},
	}

	row := projector.Project(env, raw, "apatte/v1/dev1/telemetry", 11, "mqtt-ingest")

	assert.Equal(t, env.At, row.EventTime)
	assert.Equal(t, int64(11), row.DeviceID)
	assert.Equal(t, "apatte/v1/dev1/telemetry", row.Topic)
	assert.Equal(t, raw, row.Payload)
	assert.Equal(t, 42.5, row.Metrics["speed_kph"])
	assert.Equal(t, "mqtt-ingest", row.Source)
	assert.True(t, row.IsValid)
	assert.Empty(t, row.ValidationErrors)
}

func TestProject_NonTelemetryHasEmptyMetrics(t *testing.T) {
	env := &envelope.Envelope{
		Kind: envelope.KindStatus,
		Data: &envelope.Data{State: "ok", Health: map[string]float64{"cpu_temp": 55}},
	}

	row := projector.Project(env, nil, "apatte/v1/dev1/status", 1, "mqtt-ingest")

	require.NotNil(t, row.Metrics)
	assert.Empty(t, row.Metrics)
}

func TestProject_SessionID(t *testing.T) {
	valid := "0b9af30e-2a54-4f1a-8f4e-2f6f7b1b2c3d"
	malformed := "session-1"

	t.Run("valid uuid kept", func(t *testing.T) {
		env := &envelope.Envelope{Kind: envelope.KindTelemetry, SessionID: &valid, Data: &envelope.Data{}}
		row := projector.Project(env, nil, "t", 1, "s")
		require.NotNil(t, row.SessionID)
		assert.Equal(t, valid, *row.SessionID)
	})

	t.Run("malformed stored as null", func(t *testing.T) {
		env := &envelope.Envelope{Kind: envelope.KindTelemetry, SessionID: &malformed, Data: &envelope.Data{}}
		row := projector.Project(env, nil, "t", 1, "s")
		assert.Nil(t, row.SessionID)
	})
}
