// Package persist performs the batched insert of projected rows, with
// retry and exponential backoff on transient failure and dead-lettering on
// permanent failure.
package persist

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/apatte-racing/telemetry-ingest/internal/deadletter"
	"github.com/apatte-racing/telemetry-ingest/internal/envelope"
	"github.com/apatte-racing/telemetry-ingest/internal/logging"
	"github.com/apatte-racing/telemetry-ingest/internal/metrics"
	"github.com/apatte-racing/telemetry-ingest/internal/projector"
)

// maxJitter is the upper bound of the random component added to each
// backoff delay.
const maxJitter = 100 * time.Millisecond

// Inserter writes one batch of rows to storage. The write is atomic: either
// the whole row set is inserted or none of it.
type Inserter interface {
	InsertRows(ctx context.Context, rows []projector.Row) error
}

// Writer wraps an Inserter with the flush retry policy. A batch that fails
// transiently is retried with exponential backoff and jitter; a permanent
// failure, or exhaustion of retries, dead-letters every row in the batch.
type Writer struct {
	inserter   Inserter
	dlq        *deadletter.Writer
	recorder   *metrics.Recorder
	logger     *logging.Logger
	maxRetries int
	retryBase  time.Duration

	sleep func(time.Duration)
}

// NewWriter creates a Writer with the given retry policy.
func NewWriter(inserter Inserter, dlq *deadletter.Writer, recorder *metrics.Recorder, logger *logging.Logger, maxRetries int, retryBase time.Duration) *Writer {
	return &Writer{
		inserter:   inserter,
		dlq:        dlq,
		recorder:   recorder,
		logger:     logger.Component("persist"),
		maxRetries: maxRetries,
		retryBase:  retryBase,
		sleep:      time.Sleep,
	}
}

// WriteBatch attempts to insert rows, retrying transient failures up to the
// configured limit. It never returns an error: terminal failures are
// resolved by dead-lettering the whole batch.
func (w *Writer) WriteBatch(ctx context.Context, rows []projector.Row) {
	if len(rows) == 0 {
		return
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			delay := w.backoff(attempt - 1)
			w.logger.WarnContext(ctx, "retrying batch insert",
				slog.Int("attempt", attempt),
				slog.Int("rows", len(rows)),
				slog.Duration("delay", delay),
				slog.Any("error", lastErr),
			)
			w.recorder.IncInsertRetry()
			w.sleep(delay)
		}

		err := w.inserter.InsertRows(ctx, rows)
		if err == nil {
			w.recorder.MarkInsertSuccess(len(rows))
			w.logger.DebugContext(ctx, "batch inserted", slog.Int("rows", len(rows)))
			return
		}

		lastErr = err
		w.recorder.MarkInsertError(err.Error())
		if !IsTransient(err) {
			w.logger.ErrorContext(ctx, "batch insert failed permanently",
				slog.Int("rows", len(rows)),
				slog.Any("error", err),
			)
			break
		}
	}

	w.logger.ErrorContext(ctx, "dead-lettering failed batch",
		slog.Int("rows", len(rows)),
		slog.Any("error", lastErr),
	)
	for _, row := range rows {
		w.dlq.Write(ctx, deadletter.Record{
			Topic:        row.Topic,
			PayloadText:  string(row.Payload),
			ErrorCode:    envelope.CodeDBInsertFailed,
			ErrorMessage: lastErr.Error(),
		})
	}
}

// backoff computes retryBase * 2^attempt plus up to 100ms of jitter.
func (w *Writer) backoff(attempt int) time.Duration {
	delay := w.retryBase << uint(attempt)
	return delay + time.Duration(rand.Int63n(int64(maxJitter)))
}
