// Package topic parses the transport topic hierarchy and cross-checks it
// against the payload's declared device identity.
//
// Topics follow <namespace>/v1/<device_uid>/<channel>[/<substream>]:
// lowercase, no spaces, at most 128 characters.
package topic

import (
	"fmt"
	"strings"

	"github.com/apatte-racing/telemetry-ingest/internal/envelope"
)

// ContractSegment is the literal version segment required in every topic.
const ContractSegment = "v1"

const maxTopicLength = 128

// Channel names accepted in the fourth topic segment.
var validChannels = map[string]struct{}{
	"telemetry": {},
	"status":    {},
	"event":     {},
	"cmd":       {},
}

// Topic is a parsed transport topic.
type Topic struct {
	Raw       string
	Namespace string
	Version   string
	DeviceUID string
	Channel   string
	Substream string
}

// Parse splits a raw topic string into its positional segments. It fails
// closed: anything that does not match the fixed hierarchy is an error.
func Parse(raw string) (Topic, error) {
	if raw == "" {
		return Topic{}, fmt.Errorf("empty topic")
	}
	if len(raw) > maxTopicLength {
		return Topic{}, fmt.Errorf("topic exceeds %d characters", maxTopicLength)
	}
	if raw != strings.ToLower(raw) || strings.ContainsAny(raw, " \t") {
		return Topic{}, fmt.Errorf("topic must be lowercase without spaces: %q", raw)
	}

	segments := strings.Split(raw, "/")
	if len(segments) < 4 || len(segments) > 5 {
		return Topic{}, fmt.Errorf("topic %q does not match <namespace>/v1/<device>/<channel>[/<substream>]", raw)
	}
	for i, seg := range segments {
		if seg == "" {
			return Topic{}, fmt.Errorf("topic %q has an empty segment at position %d", raw, i+1)
		}
	}

	t := Topic{
		Raw:       raw,
		Namespace: segments[0],
		Version:   segments[1],
		DeviceUID: segments[2],
		Channel:   segments[3],
	}
	if len(segments) == 5 {
		t.Substream = segments[4]
	}

	if t.Version != ContractSegment {
		return Topic{}, fmt.Errorf("topic %q version segment is %q, expected %q", raw, t.Version, ContractSegment)
	}
	if _, ok := validChannels[t.Channel]; !ok {
		return Topic{}, fmt.Errorf("topic %q has unknown channel %q", raw, t.Channel)
	}

	return t, nil
}

// Check verifies that the topic agrees with the envelope: expected namespace,
// matching device segment, and a channel that matches the envelope kind.
// Any disagreement is a rejection with code TOPIC_MISMATCH, never a warning.
func Check(t Topic, env *envelope.Envelope, namespace string) *envelope.ValidationError {
	var issues []envelope.Issue

	if t.Namespace != namespace {
		issues = append(issues, envelope.Issue{
			Path:    "topic",
			Message: fmt.Sprintf("namespace %q does not match expected %q", t.Namespace, namespace),
		})
	}
	if t.DeviceUID != env.DeviceUID {
		issues = append(issues, envelope.Issue{
			Path:    "device_uid",
			Message: fmt.Sprintf("topic device segment %q does not match payload device_uid %q", t.DeviceUID, env.DeviceUID),
		})
	}
	if t.Channel != string(env.Kind) {
		issues = append(issues, envelope.Issue{
			Path:    "type",
			Message: fmt.Sprintf("topic channel %q does not match payload kind %q", t.Channel, env.Kind),
		})
	}

	if len(issues) > 0 {
		return envelope.NewValidationError(envelope.CodeTopicMismatch, issues...)
	}
	return nil
}
