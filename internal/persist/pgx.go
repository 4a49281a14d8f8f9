package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apatte-racing/telemetry-ingest/internal/projector"
)

// insertTimeout is the hard per-attempt deadline for one batch insert. The
// retry policy bounds the number of attempts; this bounds the duration of
// each one so a hung connection cannot stall a flush indefinitely.
const insertTimeout = 30 * time.Second

const insertSQL = `
	INSERT INTO device_messages
		(event_time, device_id, session_id, topic, payload, metrics, source, is_valid, validation_errors)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// PgxInserter writes row batches to PostgreSQL. All rows of a batch go
// through a single transaction, so a flush inserts its whole row set or
// none of it.
type PgxInserter struct {
	pool *pgxpool.Pool
}

// NewPgxInserter creates a PgxInserter on an existing pool.
func NewPgxInserter(pool *pgxpool.Pool) *PgxInserter {
	return &PgxInserter{pool: pool}
}

// InsertRows inserts the batch transactionally, preserving row order.
func (p *PgxInserter) InsertRows(ctx context.Context, rows []projector.Row) error {
	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insertSQL,
			row.EventTime,
			row.DeviceID,
			row.SessionID,
			row.Topic,
			string(row.Payload),
			row.Metrics,
			row.Source,
			row.IsValid,
			row.ValidationErrors,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("insert row: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert transaction: %w", err)
	}
	return nil
}
