// Package projector transforms a validated envelope into the storage row
// shape. It is a pure transform with no error path.
package projector

import (
	"time"

	"github.com/google/uuid"

	"github.com/apatte-racing/telemetry-ingest/internal/envelope"
)

// Row is the persistence projection of one envelope. Created once at flush
// time, never mutated, written once.
type Row struct {
	EventTime        time.Time
	DeviceID         int64
	SessionID        *string
	Topic            string
	Payload          []byte
	Metrics          map[string]float64
	Source           string
	IsValid          bool
	ValidationErrors []string
}

// Project builds a Row from an already-validated envelope and its resolved
// internal device id. raw is the original wire payload, retained verbatim
// for audit.
func Project(env *envelope.Envelope, raw []byte, topic string, deviceID int64, source string) Row {
	row := Row{
		EventTime: env.At,
		DeviceID:  deviceID,
		Topic:     topic,
		Payload:   raw,
		Metrics:   map[string]float64{},
		Source:    source,
		IsValid:   true,
	}

	if env.Kind == envelope.KindTelemetry && env.Data != nil && env.Data.Metrics != nil {
		row.Metrics = env.Data.Metrics
	}

	// Guard the storage uuid column even if an unvalidated envelope slips
	// through: a malformed session id becomes null, not a rejected row.
	if env.SessionID != nil {
		if _, err := uuid.Parse(*env.SessionID); err == nil {
			row.SessionID = env.SessionID
		}
	}

	return row
}
