package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/apatte-racing/telemetry-ingest/internal/metrics"
)

func newTestEvaluator(t *testing.T, transportRequired, storageConfigured bool) (*Evaluator, *metrics.Recorder, *time.Time) {
	t.Helper()
	recorder := metrics.NewRecorder()
	t.Cleanup(recorder.Close)

	e := NewEvaluator(recorder, time.Minute, transportRequired, storageConfigured)
	now := e.started
	e.now = func() time.Time { return now }
	return e, recorder, &now
}

func TestReport_OKWhenAllConditionsHold(t *testing.T) {
	e, recorder, _ := newTestEvaluator(t, true, true)
	recorder.SetTransportConnected(true)
	recorder.MarkInsertSuccess(1)

	report := e.Report()

	assert.Equal(t, "ok", report.Status)
	assert.True(t, report.Transport.Connected)
	assert.True(t, report.Storage.Configured)
	assert.NotNil(t, report.Storage.LastSuccessAt)
}

func TestReport_DegradedWhenTransportDownAndRequired(t *testing.T) {
	e, recorder, _ := newTestEvaluator(t, true, true)
	recorder.SetTransportConnected(false)
	recorder.MarkInsertSuccess(1)

	assert.Equal(t, "degraded", e.Report().Status)
}

func TestReport_TransportNotRequired(t *testing.T) {
	e, recorder, _ := newTestEvaluator(t, false, true)
	recorder.SetTransportConnected(false)
	recorder.MarkInsertSuccess(1)

	assert.Equal(t, "ok", e.Report().Status)
}

func TestReport_DegradedWithoutStorageConfig(t *testing.T) {
	e, recorder, _ := newTestEvaluator(t, true, false)
	recorder.SetTransportConnected(true)
	recorder.MarkInsertSuccess(1)

	assert.Equal(t, "degraded", e.Report().Status)
}

func TestReport_DegradedOnStaleInserts(t *testing.T) {
	e, recorder, now := newTestEvaluator(t, true, true)
	recorder.SetTransportConnected(true)
	recorder.MarkInsertSuccess(1)

	assert.Equal(t, "ok", e.Report().Status)

	*now = now.Add(2 * time.Minute)
	report := e.Report()
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, int64(120), report.UptimeS)
}

func TestReport_StartupGraceWindow(t *testing.T) {
	e, recorder, now := newTestEvaluator(t, true, true)
	recorder.SetTransportConnected(true)

	// No insert yet, but within the staleness window of startup.
	assert.Equal(t, "ok", e.Report().Status)

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, "degraded", e.Report().Status)
}

func TestReport_CarriesBufferAndError(t *testing.T) {
	e, recorder, _ := newTestEvaluator(t, true, true)
	recorder.SetTransportConnected(true)
	recorder.SetBufferSize(42)
	recorder.MarkInsertError("connection refused")
	recorder.MarkInsertSuccess(1)

	report := e.Report()
	assert.Equal(t, 42, report.Buffer.Size)
	assert.Equal(t, "connection refused", report.Storage.LastError)
}
