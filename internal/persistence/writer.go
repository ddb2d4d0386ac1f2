package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"LendLedger/internal/engine"
)

// EventRow is a row in operation_log.events.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Asset          *string
	Payload        []byte
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// RowFromOutput flattens an engine output for storage.
func RowFromOutput(out engine.Output) EventRow {
	env := out.Envelope
	stateHash := make([]byte, 32)
	prevHash := make([]byte, 32)
	copy(stateHash, env.StateHash[:])
	copy(prevHash, env.PrevHash[:])
	return EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Asset:          env.Asset,
		Payload:        env.Payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
		Timestamp:      env.Timestamp,
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// OperationLogWriter appends committed operations to Postgres using
// multi-row INSERTs. Sequence conflicts are ignored so replays after a
// crash are idempotent.
type OperationLogWriter struct {
	db *sql.DB
}

func NewOperationLogWriter(db *sql.DB) *OperationLogWriter {
	return &OperationLogWriter{db: db}
}

// WriteEventBatch writes a batch of events inside the caller's transaction.
func (w *OperationLogWriter) WriteEventBatch(ctx context.Context, tx execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO operation_log.events
		(sequence, event_type, idempotency_key, asset, payload, state_hash, prev_hash, occurred_at)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*8)

	for i, e := range events {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Asset,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LatestState returns the highest persisted sequence and its state hash,
// or -1 when the log is empty. Startup feeds this into the engine so the
// chain continues where the last run stopped.
func (w *OperationLogWriter) LatestState(ctx context.Context) (int64, [32]byte, error) {
	var sequence int64
	var stateHash []byte
	err := w.db.QueryRowContext(ctx,
		`SELECT sequence, state_hash FROM operation_log.events ORDER BY sequence DESC LIMIT 1`,
	).Scan(&sequence, &stateHash)
	if err == sql.ErrNoRows {
		return -1, [32]byte{}, nil
	}
	if err != nil {
		return 0, [32]byte{}, err
	}
	var hash [32]byte
	copy(hash[:], stateHash)
	return sequence, hash, nil
}

// LoadEventsFrom returns up to limit events starting at fromSequence, in
// sequence order. Startup replays these through the engine to rebuild
// in-memory state.
func (w *OperationLogWriter) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, asset, payload, state_hash, prev_hash, occurred_at
		FROM operation_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Asset,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DB exposes the underlying handle for transaction management.
func (w *OperationLogWriter) DB() *sql.DB {
	return w.db
}
