// Package pipeline wires the ingest stages together: validate, check topic
// consistency, buffer, resolve device identities, project and persist.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/apatte-racing/telemetry-ingest/internal/buffer"
	"github.com/apatte-racing/telemetry-ingest/internal/deadletter"
	"github.com/apatte-racing/telemetry-ingest/internal/envelope"
	"github.com/apatte-racing/telemetry-ingest/internal/identity"
	"github.com/apatte-racing/telemetry-ingest/internal/logging"
	"github.com/apatte-racing/telemetry-ingest/internal/metrics"
	"github.com/apatte-racing/telemetry-ingest/internal/persist"
	"github.com/apatte-racing/telemetry-ingest/internal/projector"
	"github.com/apatte-racing/telemetry-ingest/internal/topic"
)

// Item is one accepted message waiting in the batch buffer.
type Item struct {
	Topic    string
	Envelope *envelope.Envelope
	Raw      []byte
}

// Options configures a Pipeline.
type Options struct {
	Namespace     string
	Source        string
	BatchSize     int
	FlushInterval time.Duration
}

// Pipeline runs the per-message intake stages and the per-batch flush
// stages. Handle is called from transport callbacks and must stay cheap;
// everything involving the database happens on the buffer's flush goroutine.
type Pipeline struct {
	opts     Options
	dlq      *deadletter.Writer
	resolver *identity.Resolver
	writer   *persist.Writer
	recorder *metrics.Recorder
	logger   *logging.Logger
	buf      *buffer.Buffer[Item]
}

func New(opts Options, dlq *deadletter.Writer, resolver *identity.Resolver, writer *persist.Writer, recorder *metrics.Recorder, logger *logging.Logger) *Pipeline {
	p := &Pipeline{
		opts:     opts,
		dlq:      dlq,
		resolver: resolver,
		writer:   writer,
		recorder: recorder,
		logger:   logger.Component("pipeline"),
	}
	p.buf = buffer.New(opts.BatchSize, opts.FlushInterval, p.flush,
		buffer.WithSizeObserver[Item](recorder.SetBufferSize))
	return p
}

// Handle ingests one raw message. Rejections are dead-lettered and counted;
// accepted messages are enqueued for the next batch flush. It never returns
// an error: a bad message must not affect the broker session.
func (p *Pipeline) Handle(ctx context.Context, topicStr string, payload []byte) {
	p.recorder.IncReceived()

	env, verr := envelope.Validate(payload)
	if verr != nil {
		p.reject(ctx, topicStr, payload, verr)
		return
	}

	t, err := topic.Parse(topicStr)
	if err != nil {
		p.reject(ctx, topicStr, payload, envelope.NewValidationError(
			envelope.CodeTopicMismatch,
			envelope.Issue{Path: "topic", Message: err.Error()},
		))
		return
	}
	if verr := topic.Check(t, env, p.opts.Namespace); verr != nil {
		p.reject(ctx, topicStr, payload, verr)
		return
	}

	p.recorder.IncValid()
	p.buf.Enqueue(Item{Topic: topicStr, Envelope: env, Raw: payload})
}

func (p *Pipeline) reject(ctx context.Context, topicStr string, payload []byte, verr *envelope.ValidationError) {
	p.recorder.IncInvalid()
	p.dlq.Write(ctx, deadletter.Record{
		ReceivedAt:   time.Now().UTC(),
		Topic:        topicStr,
		PayloadText:  string(payload),
		ErrorCode:    verr.Code,
		ErrorMessage: verr.Error(),
		Issues:       verr.Issues,
	})
}

// flush is installed as the buffer's flush function. Device identities are
// resolved for the whole batch; items whose device cannot be resolved are
// dead-lettered individually while the rest continue to the insert.
func (p *Pipeline) flush(ctx context.Context, items []Item) {
	uids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.Envelope.DeviceUID]; ok {
			continue
		}
		seen[item.Envelope.DeviceUID] = struct{}{}
		uids = append(uids, item.Envelope.DeviceUID)
	}

	ids, err := p.resolver.Resolve(ctx, uids)
	var unresolved *identity.UnresolvedError
	if err != nil && !errors.As(err, &unresolved) {
		// The registry itself is unreachable; nothing in this batch can
		// be attributed, so the whole batch goes to the dead letter file.
		p.logger.Error("device resolution failed for batch", "batch_size", len(items), "error", err)
		for _, item := range items {
			p.deadLetterUnresolved(ctx, item, err.Error())
		}
		return
	}
	if unresolved != nil {
		p.logger.Warn("some devices could not be resolved", "missing", unresolved.Missing)
	}

	rows := make([]projector.Row, 0, len(items))
	for _, item := range items {
		id, ok := ids[item.Envelope.DeviceUID]
		if !ok {
			p.deadLetterUnresolved(ctx, item, "device identity could not be resolved")
			continue
		}
		rows = append(rows, projector.Project(item.Envelope, item.Raw, item.Topic, id, p.opts.Source))
	}

	p.writer.WriteBatch(ctx, rows)
}

func (p *Pipeline) deadLetterUnresolved(ctx context.Context, item Item, msg string) {
	p.dlq.Write(ctx, deadletter.Record{
		ReceivedAt:   time.Now().UTC(),
		Topic:        item.Topic,
		PayloadText:  string(item.Raw),
		ErrorCode:    envelope.CodeDeviceResolutionFailed,
		ErrorMessage: msg,
	})
}

// Size reports the number of buffered items.
func (p *Pipeline) Size() int {
	return p.buf.Size()
}

// Close drains the buffer, flushing every remaining item.
func (p *Pipeline) Close() {
	p.buf.Close()
}
