// Package envelope defines the versioned wire contract for device messages
// and validates raw payloads against it.
package envelope

import (
	"fmt"
	"strings"
	"time"
)

// ContractVersion is the only envelope version the pipeline accepts.
const ContractVersion = 1

// Kind discriminates the shape of an envelope's data section.
type Kind string

const (
	KindTelemetry Kind = "telemetry"
	KindStatus    Kind = "status"
	KindEvent     Kind = "event"
)

// Error codes for the ingest error taxonomy. Every rejected message is
// dead-lettered with exactly one of these codes.
const (
	CodeInvalidJSON            = "INVALID_JSON"
	CodeSchemaValidationFailed = "SCHEMA_VALIDATION_FAILED"
	CodeTopicMismatch          = "TOPIC_MISMATCH"
	CodeDeviceResolutionFailed = "DEVICE_RESOLUTION_FAILED"
	CodeDBInsertFailed         = "DB_INSERT_FAILED"
)

// Envelope is the validated, typed representation of one inbound message.
// Unknown top-level fields in the wire payload are ignored so additive
// producer changes do not break ingestion.
type Envelope struct {
	Version   int     `json:"v"`
	MessageID string  `json:"msg_id"`
	Timestamp string  `json:"ts"`
	DeviceUID string  `json:"device_uid"`
	SessionID *string `json:"session_id,omitempty"`
	Kind      Kind    `json:"type"`
	Data      *Data   `json:"data"`
	Meta      *Meta   `json:"meta,omitempty"`

	// At is the parsed instant of Timestamp, populated by Validate.
	At time.Time `json:"-"`
}

// Data is the kind-specific payload. It is a superset of the three kind
// shapes; Validate enforces the fields required by the envelope's Kind.
type Data struct {
	// telemetry
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Flags   map[string]bool    `json:"flags,omitempty"`
	GPS     *GPS               `json:"gps,omitempty"`
	Errors  []string           `json:"errors,omitempty"`

	// status
	State  string             `json:"state,omitempty"`
	Health map[string]float64 `json:"health,omitempty"`

	// event
	Name     string `json:"name,omitempty"`
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message,omitempty"`
}

// GPS is an optional position fix attached to telemetry samples.
type GPS struct {
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	AltM     *float64 `json:"alt_m,omitempty"`
	SpeedKph *float64 `json:"speed_kph,omitempty"`
}

// Meta carries optional device-side bookkeeping.
type Meta struct {
	Firmware string   `json:"fw,omitempty"`
	Seq      *int64   `json:"seq,omitempty"`
	SentMS   *int64   `json:"sent_ms,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Issue is a single field-level validation problem.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError is the typed rejection result returned by validation and
// consistency checks. It never crosses a component boundary as a panic.
type ValidationError struct {
	Code   string  `json:"code"`
	Issues []Issue `json:"issues,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return e.Code
	}
	parts := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", i.Path, i.Message))
	}
	return fmt.Sprintf("%s: %s", e.Code, strings.Join(parts, "; "))
}

// NewValidationError builds a ValidationError from a code and issue list.
func NewValidationError(code string, issues ...Issue) *ValidationError {
	return &ValidationError{Code: code, Issues: issues}
}
