package sqlite

import (
	"context"
	"time"

	"github.com/jbctechsolutions/leadline/internal/domain/pending"
)

// PendingQueue implements ports.PendingQueue on the pending_actions table.
// It shares its connection with CacheStore.
type PendingQueue struct {
	conn *Connection
}

// NewPendingQueue creates a queue on an open connection.
func NewPendingQueue(conn *Connection) *PendingQueue {
	return &PendingQueue{conn: conn}
}

// Enqueue appends a validated action.
func (q *PendingQueue) Enqueue(ctx context.Context, a *pending.Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	payload, err := a.MarshalPayload()
	if err != nil {
		return storageErr("enqueue", err)
	}
	db, err := q.conn.DB()
	if err != nil {
		return storageErr("enqueue", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO pending_actions (id, table_name, operation, payload, enqueued_at, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Table, string(a.Operation), string(payload), a.EnqueuedAt.UTC(), a.Attempts, a.LastError)
	if err != nil {
		return storageErr("enqueue", err)
	}
	return nil
}

// List returns all actions in enqueue order.
func (q *PendingQueue) List(ctx context.Context) ([]*pending.Action, error) {
	db, err := q.conn.DB()
	if err != nil {
		return nil, storageErr("list", err)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, table_name, operation, payload, enqueued_at, attempts, last_error
		FROM pending_actions ORDER BY seq
	`)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()

	var out []*pending.Action
	for rows.Next() {
		var (
			a          pending.Action
			op         string
			payload    string
			enqueuedAt time.Time
		)
		if err := rows.Scan(&a.ID, &a.Table, &op, &payload, &enqueuedAt, &a.Attempts, &a.LastError); err != nil {
			return nil, storageErr("list", err)
		}
		a.Operation = pending.Operation(op)
		a.EnqueuedAt = enqueuedAt
		if a.Payload, err = pending.UnmarshalPayload([]byte(payload)); err != nil {
			return nil, storageErr("list", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", err)
	}
	return out, nil
}

// Remove deletes an action by id.
func (q *PendingQueue) Remove(ctx context.Context, id string) error {
	db, err := q.conn.DB()
	if err != nil {
		return storageErr("remove action", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM pending_actions WHERE id = ?`, id); err != nil {
		return storageErr("remove action", err)
	}
	return nil
}

// Count returns the number of queued actions.
func (q *PendingQueue) Count(ctx context.Context) (int, error) {
	db, err := q.conn.DB()
	if err != nil {
		return 0, storageErr("count", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_actions`).Scan(&n); err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

// RecordFailure increments the attempt counter and stores the error text.
func (q *PendingQueue) RecordFailure(ctx context.Context, id string, cause error) error {
	db, err := q.conn.DB()
	if err != nil {
		return storageErr("record failure", err)
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := db.ExecContext(ctx,
		`UPDATE pending_actions SET attempts = attempts + 1, last_error = ? WHERE id = ?`, msg, id); err != nil {
		return storageErr("record failure", err)
	}
	return nil
}

// Clear drops every queued action.
func (q *PendingQueue) Clear(ctx context.Context) error {
	db, err := q.conn.DB()
	if err != nil {
		return storageErr("clear queue", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM pending_actions`); err != nil {
		return storageErr("clear queue", err)
	}
	return nil
}
