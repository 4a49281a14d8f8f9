// Package health evaluates liveness/readiness of the ingest pipeline. The
// result is observational only: nothing in the pipeline acts on it.
package health

import (
	"time"

	"github.com/apatte-racing/telemetry-ingest/internal/metrics"
)

// Report is the health endpoint payload.
type Report struct {
	Status    string          `json:"status"`
	UptimeS   int64           `json:"uptime_s"`
	Transport TransportStatus `json:"transport"`
	Storage   StorageStatus   `json:"storage"`
	Buffer    BufferStatus    `json:"buffer"`
	TS        time.Time       `json:"ts"`
}

type TransportStatus struct {
	Connected bool       `json:"connected"`
	LastEvent *time.Time `json:"last_event"`
}

type StorageStatus struct {
	Configured    bool       `json:"configured"`
	LastSuccessAt *time.Time `json:"last_success_at"`
	LastError     string     `json:"last_error,omitempty"`
}

type BufferStatus struct {
	Size int `json:"size"`
}

// Evaluator derives an overall status from the pipeline metrics. Status is
// "ok" only when the transport is connected (or not required), storage is
// configured, and the last successful insert is within the staleness
// window; otherwise "degraded".
type Evaluator struct {
	recorder          *metrics.Recorder
	stalenessWindow   time.Duration
	transportRequired bool
	storageConfigured bool
	started           time.Time
	now               func() time.Time
}

// NewEvaluator creates an Evaluator. storageConfigured reflects whether
// storage credentials were present at startup.
func NewEvaluator(recorder *metrics.Recorder, stalenessWindow time.Duration, transportRequired, storageConfigured bool) *Evaluator {
	return &Evaluator{
		recorder:          recorder,
		stalenessWindow:   stalenessWindow,
		transportRequired: transportRequired,
		storageConfigured: storageConfigured,
		started:           time.Now(),
		now:               time.Now,
	}
}

// Report evaluates the current health.
func (e *Evaluator) Report() Report {
	now := e.now()
	connected := e.recorder.TransportConnected()
	lastInsert := e.recorder.LastInsertAt()

	status := "ok"
	if e.transportRequired && !connected {
		status = "degraded"
	}
	if !e.storageConfigured {
		status = "degraded"
	}
	// Before the first insert, staleness is measured from process start so
	// a freshly booted service gets a grace window.
	reference := lastInsert
	if reference.IsZero() {
		reference = e.started
	}
	if now.Sub(reference) > e.stalenessWindow {
		status = "degraded"
	}

	report := Report{
		Status:  status,
		UptimeS: int64(now.Sub(e.started).Seconds()),
		Transport: TransportStatus{
			Connected: connected,
			LastEvent: timePtr(e.recorder.LastTransportEvent()),
		},
		Storage: StorageStatus{
			Configured:    e.storageConfigured,
			LastSuccessAt: timePtr(lastInsert),
			LastError:     e.recorder.LastInsertError(),
		},
		Buffer: BufferStatus{Size: e.recorder.BufferSize()},
		TS:     now.UTC(),
	}
	return report
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
