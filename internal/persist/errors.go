package persist

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// transientMessageHints are substrings in error text that suggest a
// network-level or timeout condition worth retrying, used as a fallback
// when no structured classification applies.
var transientMessageHints = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network",
	"temporarily unavailable",
	"too many connections",
}

// IsTransient classifies an insert failure. Transient failures are likely
// to succeed on retry: cancelled deadlines, network errors, connection and
// resource exhaustion conditions, serialization conflicts. Everything else
// (constraint violations, schema errors) is permanent and retrying will
// not help.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		// Serialization failure and deadlock resolve on retry.
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return true
		}
		switch pgErr.Code[:2] {
		case "08": // connection exception
			return true
		case "53": // insufficient resources
			return true
		case "57": // operator intervention (shutdown, crash)
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range transientMessageHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
