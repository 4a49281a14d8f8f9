package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

const maxIDLength = 64

var validStates = map[string]struct{}{
	"ok":          {},
	"degraded":    {},
	"fault":       {},
	"offline":     {},
	"maintenance": {},
}

var validSeverities = map[string]struct{}{
	"debug":    {},
	"info":     {},
	"warning":  {},
	"error":    {},
	"critical": {},
}

// Validate parses raw bytes into an Envelope and checks it against the v1
// contract. It is pure: no I/O, deterministic for identical input.
//
// A payload that is not syntactically valid JSON yields INVALID_JSON and no
// schema checks run. A parseable payload that violates the contract yields
// SCHEMA_VALIDATION_FAILED with one issue per violated field.
func Validate(raw []byte) (*Envelope, *ValidationError) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&env); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			path := typeErr.Field
			if path == "" {
				path = "$"
			}
			return nil, NewValidationError(CodeSchemaValidationFailed, Issue{
				Path:    path,
				Message: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
			})
		}
		return nil, NewValidationError(CodeInvalidJSON, Issue{
			Path:    "$",
			Message: err.Error(),
		})
	}
	if dec.More() {
		return nil, NewValidationError(CodeInvalidJSON, Issue{
			Path:    "$",
			Message: "trailing data after JSON object",
		})
	}

	var issues []Issue

	if env.Version != ContractVersion {
		issues = append(issues, Issue{"v", fmt.Sprintf("unsupported contract version %d, expected %d", env.Version, ContractVersion)})
	}
	if env.MessageID == "" {
		issues = append(issues, Issue{"msg_id", "required, must be non-empty"})
	} else if len(env.MessageID) > maxIDLength {
		issues = append(issues, Issue{"msg_id", fmt.Sprintf("exceeds %d characters", maxIDLength)})
	}
	if env.DeviceUID == "" {
		issues = append(issues, Issue{"device_uid", "required, must be non-empty"})
	} else if len(env.DeviceUID) > maxIDLength {
		issues = append(issues, Issue{"device_uid", fmt.Sprintf("exceeds %d characters", maxIDLength)})
	}

	if env.Timestamp == "" {
		issues = append(issues, Issue{"ts", "required, must be an ISO-8601 instant"})
	} else {
		at, err := time.Parse(time.RFC3339, env.Timestamp)
		if err != nil {
			issues = append(issues, Issue{"ts", fmt.Sprintf("not a valid ISO-8601 instant: %v", err)})
		} else {
			env.At = at
		}
	}

	// A malformed session id is dropped, not rejected: the message itself is
	// still usable, the session association is not.
	if env.SessionID != nil {
		if _, err := uuid.Parse(*env.SessionID); err != nil {
			env.SessionID = nil
		}
	}

	issues = append(issues, validateData(&env)...)

	if len(issues) > 0 {
		return nil, NewValidationError(CodeSchemaValidationFailed, issues...)
	}
	return &env, nil
}

func validateData(env *Envelope) []Issue {
	var issues []Issue

	switch env.Kind {
	case KindTelemetry, KindStatus, KindEvent:
	case "":
		return append(issues, Issue{"type", "required, one of telemetry|status|event"})
	default:
		return append(issues, Issue{"type", fmt.Sprintf("unknown kind %q", env.Kind)})
	}

	if env.Data == nil {
		return append(issues, Issue{"data", "required"})
	}

	switch env.Kind {
	case KindTelemetry:
		if env.Data.Metrics == nil {
			issues = append(issues, Issue{"data.metrics", "required for telemetry"})
		}
		for name, v := range env.Data.Metrics {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				issues = append(issues, Issue{"data.metrics." + name, "metric must be finite"})
			}
		}
	case KindStatus:
		if env.Data.State == "" {
			issues = append(issues, Issue{"data.state", "required for status"})
		} else if _, ok := validStates[env.Data.State]; !ok {
			issues = append(issues, Issue{"data.state", fmt.Sprintf("unknown state %q", env.Data.State)})
		}
		for name, v := range env.Data.Health {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				issues = append(issues, Issue{"data.health." + name, "health value must be finite"})
			}
		}
	case KindEvent:
		if env.Data.Name == "" {
			issues = append(issues, Issue{"data.name", "required for event"})
		}
		if env.Data.Severity != "" {
			if _, ok := validSeverities[env.Data.Severity]; !ok {
				issues = append(issues, Issue{"data.severity", fmt.Sprintf("unknown severity %q", env.Data.Severity)})
			}
		}
	}

	return issues
}
