package envelope_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apatte-racing/telemetry-ingest/internal/envelope"
)

func validTelemetryPayload() map[string]any {
	return map[string]any{
		"v":          1,
		"msg_id":     "dev1-1-1",
		"ts":         "2026-01-01T00:00:00Z",
		"device_uid": "dev1",
		"type":       "telemetry",
		"data": map[string]any{
			"metrics": map[string]any{"speed_kph": 42.5},
		},
	}
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestValidate_ValidTelemetry(t *testing.T) {
	env, verr := envelope.Validate(marshal(t, validTelemetryPayload()))

	require.Nil(t, verr)
	require.NotNil(t, env)
	assert.Equal(t, 1, env.Version)
	assert.Equal(t, "dev1-1-1", env.MessageID)
	assert.Equal(t, "dev1", env.DeviceUID)
	assert.Equal(t, envelope.KindTelemetry, env.Kind)
	assert.Equal(t, 42.5, env.Data.Metrics["speed_kph"])
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), env.At.UTC())
}

func TestValidate_RoundTrip(t *testing.T) {
	seq := int64(7)
	orig := &envelope.Envelope{
		Version:   1,
		MessageID: "dev9-42",
		Timestamp: "2026-03-01T12:30:00+01:00",
		DeviceUID: "dev9",
		Kind:      envelope.KindStatus,
		Data: &envelope.Data{
			State:  "degraded",
			Health: map[string]float64{"cpu_temp": 61.2},
		},
		Meta: &envelope.Meta{Firmware: "2.4.1", Seq: &seq, Tags: []string{"pit"}},
	}

	env, verr := envelope.Validate(marshal(t, orig))

	require.Nil(t, verr)
	assert.Equal(t, orig.Version, env.Version)
	assert.Equal(t, orig.MessageID, env.MessageID)
	assert.Equal(t, orig.Timestamp, env.Timestamp)
	assert.Equal(t, orig.DeviceUID, env.DeviceUID)
	assert.Equal(t, orig.Kind, env.Kind)
	assert.Equal(t, orig.Data, env.Data)
	assert.Equal(t, orig.Meta, env.Meta)
}

func TestValidate_InvalidJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed object", `{"v":1,`},
		{"empty payload", ``},
		{"not json", `speed=42`},
		{"trailing garbage", `{"v":1} extra`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, verr := envelope.Validate([]byte(tt.raw))

			assert.Nil(t, env)
			require.NotNil(t, verr)
			assert.Equal(t, envelope.CodeInvalidJSON, verr.Code)
		})
	}
}

func TestValidate_SchemaViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p map[string]any)
		path   string
	}{
		{"missing msg_id", func(p map[string]any) { delete(p, "msg_id") }, "msg_id"},
		{"missing device_uid", func(p map[string]any) { delete(p, "device_uid") }, "device_uid"},
		{"wrong version", func(p map[string]any) { p["v"] = 2 }, "v"},
		{"missing ts", func(p map[string]any) { delete(p, "ts") }, "ts"},
		{"bad ts", func(p map[string]any) { p["ts"] = "yesterday" }, "ts"},
		{"ts without zone", func(p map[string]any) { p["ts"] = "2026-01-01T00:00:00" }, "ts"},
		{"missing type", func(p map[string]any) { delete(p, "type") }, "type"},
		{"unknown type", func(p map[string]any) { p["type"] = "command" }, "type"},
		{"missing data", func(p map[string]any) { delete(p, "data") }, "data"},
		{"telemetry without metrics", func(p map[string]any) { p["data"] = map[string]any{} }, "data.metrics"},
		{"oversized msg_id", func(p map[string]any) {
			id := make([]byte, 65)
			for i := range id {
				id[i] = 'a'
			}
			p["msg_id"] = string(id)
		}, "msg_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := validTelemetryPayload()
			tt.mutate(payload)

			env, verr := envelope.Validate(marshal(t, payload))

			assert.Nil(t, env)
			require.NotNil(t, verr)
			assert.Equal(t, envelope.CodeSchemaValidationFailed, verr.Code)

			found := false
			for _, issue := range verr.Issues {
				if issue.Path == tt.path {
					found = true
				}
			}
			assert.True(t, found, "expected an issue at path %q, got %v", tt.path, verr.Issues)
		})
	}
}

func TestValidate_StatusKind(t *testing.T) {
	payload := map[string]any{
		"v": 1, "msg_id": "m1", "ts": "2026-01-01T00:00:00Z", "device_uid": "dev1",
		"type": "status",
		"data": map[string]any{"state": "ok", "health": map[string]any{"uptime_s": 120.0}},
	}

	env, verr := envelope.Validate(marshal(t, payload))
	require.Nil(t, verr)
	assert.Equal(t, "ok", env.Data.State)

	payload["data"] = map[string]any{"state": "exploded"}
	env, verr = envelope.Validate(marshal(t, payload))
	assert.Nil(t, env)
	require.NotNil(t, verr)
	assert.Equal(t, envelope.CodeSchemaValidationFailed, verr.Code)
}

func TestValidate_EventKind(t *testing.T) {
	payload := map[string]any{
		"v": 1, "msg_id": "m1", "ts": "2026-01-01T00:00:00Z", "device_uid": "dev1",
		"type": "event",
		"data": map[string]any{"name": "lap_complete", "severity": "info", "message": "lap 3"},
	}

	env, verr := envelope.Validate(marshal(t, payload))
	require.Nil(t, verr)
	assert.Equal(t, "lap_complete", env.Data.Name)

	payload["data"] = map[string]any{"severity": "info"}
	_, verr = envelope.Validate(marshal(t, payload))
	require.NotNil(t, verr)
	assert.Equal(t, envelope.CodeSchemaValidationFailed, verr.Code)
}

func TestValidate_SessionID(t *testing.T) {
	t.Run("valid uuid retained", func(t *testing.T) {
		payload := validTelemetryPayload()
		payload["session_id"] = "0b9af30e-2a54-4f1a-8f4e-2f6f7b1b2c3d"

		env, verr := envelope.Validate(marshal(t, payload))
		require.Nil(t, verr)
		require.NotNil(t, env.SessionID)
		assert.Equal(t, "0b9af30e-2a54-4f1a-8f4e-2f6f7b1b2c3d", *env.SessionID)
	})

	t.Run("malformed uuid dropped without rejection", func(t *testing.T) {
		payload := validTelemetryPayload()
		payload["session_id"] = "not-a-uuid"

		env, verr := envelope.Validate(marshal(t, payload))
		require.Nil(t, verr)
		assert.Nil(t, env.SessionID)
	})

	t.Run("null treated as absent", func(t *testing.T) {
		payload := validTelemetryPayload()
		payload["session_id"] = nil

		env, verr := envelope.Validate(marshal(t, payload))
		require.Nil(t, verr)
		assert.Nil(t, env.SessionID)
	})
}

func TestValidate_UnknownTopLevelFieldsIgnored(t *testing.T) {
	payload := validTelemetryPayload()
	payload["future_field"] = map[string]any{"nested": true}
	payload["another"] = 12

	env, verr := envelope.Validate(marshal(t, payload))

	require.Nil(t, verr)
	assert.Equal(t, "dev1-1-1", env.MessageID)
}

func TestValidate_NonFiniteMetricRejectedAsInvalidJSON(t *testing.T) {
	// NaN is not representable in JSON, so a producer emitting it fails the
	// parse stage, never the schema stage.
	raw := []byte(`{"v":1,"msg_id":"m","ts":"2026-01-01T00:00:00Z","device_uid":"d","type":"telemetry","data":{"metrics":{"x":NaN}}}`)

	env, verr := envelope.Validate(raw)

	assert.Nil(t, env)
	require.NotNil(t, verr)
	assert.Equal(t, envelope.CodeInvalidJSON, verr.Code)
}
