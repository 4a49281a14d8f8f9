// Package deadletter durably records rejected or failed messages to an
// append-only NDJSON side channel for offline inspection and replay.
package deadletter

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apatte-racing/telemetry-ingest/internal/envelope"
	"github.com/apatte-racing/telemetry-ingest/internal/logging"
	"github.com/apatte-racing/telemetry-ingest/internal/metrics"
)

// Record is one dead-letter entry, written as a single JSON line.
type Record struct {
	ReceivedAt   time.Time        `json:"received_at"`
	Topic        string           `json:"topic"`
	PayloadText  string           `json:"payload_text"`
	ErrorCode    string           `json:"error_code"`
	ErrorMessage string           `json:"error_message"`
	Issues       []envelope.Issue `json:"issues,omitempty"`
	Truncated    bool             `json:"truncated,omitempty"`
}

// Writer appends dead-letter records to a newline-delimited JSON file.
//
// Dead-lettering is best-effort: a failed disk write is logged and counted
// but never propagated, so it can never stall or crash message intake.
// The file grows without bound; rotation is an operator concern.
type Writer struct {
	path     string
	maxBytes int
	logger   *logging.Logger
	recorder *metrics.Recorder

	mu      sync.Mutex
	file    *os.File
	written uint64
	failed  uint64
}

// NewWriter creates a Writer targeting path. The file and its directory are
// created lazily on first write so construction cannot fail.
func NewWriter(path string, maxBytes int, logger *logging.Logger, recorder *metrics.Recorder) *Writer {
	return &Writer{
		path:     path,
		maxBytes: maxBytes,
		logger:   logger.Component("deadletter"),
		recorder: recorder,
	}
}

// Write appends rec to the dead-letter file. The payload text is truncated
// to the configured byte cap. A warning is logged for every record
// regardless of disk outcome.
func (w *Writer) Write(ctx context.Context, rec Record) {
	if w.maxBytes > 0 && len(rec.PayloadText) > w.maxBytes {
		rec.PayloadText = rec.PayloadText[:w.maxBytes]
		rec.Truncated = true
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}

	w.logger.WarnContext(ctx, "message dead-lettered",
		slog.String("topic", rec.Topic),
		slog.String("error_code", rec.ErrorCode),
		slog.String("error_message", rec.ErrorMessage),
	)
	w.recorder.IncDeadlettered()

	line, err := json.Marshal(rec)
	if err != nil {
		w.noteFailure(ctx, err)
		return
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
			w.noteFailureLocked(ctx, err)
			return
		}
		f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			w.noteFailureLocked(ctx, err)
			return
		}
		w.file = f
	}

	if _, err := w.file.Write(line); err != nil {
		w.noteFailureLocked(ctx, err)
		return
	}
	w.written++
}

func (w *Writer) noteFailure(ctx context.Context, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.noteFailureLocked(ctx, err)
}

func (w *Writer) noteFailureLocked(ctx context.Context, err error) {
	w.failed++
	w.logger.ErrorContext(ctx, "dead-letter write failed", slog.Any("error", err))
}

// Stats reports how many records were durably written and how many writes
// failed since startup.
func (w *Writer) Stats() (written, failed uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written, w.failed
}

// Close releases the underlying file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
