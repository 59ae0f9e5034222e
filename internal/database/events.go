package database

import (
	"context"
	"fmt"
	"time"

	"bookingagent/internal/events"
)

// RecordEvent appends e to the event log and returns its row ID.
func (db *DB) RecordEvent(ctx context.Context, e events.Event) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO agent_events (type, payload, processed, created_at)
		VALUES (?, ?, ?, ?)`, e.Type, e.Payload, e.Processed, e.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("record event %s: %w", e.Type, err)
	}
	return res.LastInsertId()
}

// PendingEvents returns up to limit unprocessed events, oldest first.
func (db *DB) PendingEvents(ctx context.Context, limit int) ([]events.Event, error) {
	return db.pendingEvents(ctx, "", limit)
}

// PendingEventsOfType is PendingEvents restricted to one event type.
func (db *DB) PendingEventsOfType(ctx context.Context, eventType string, limit int) ([]events.Event, error) {
	return db.pendingEvents(ctx, eventType, limit)
}

func (db *DB) pendingEvents(ctx context.Context, eventType string, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, type, payload, processed, created_at
		FROM agent_events
		WHERE processed = 0 AND (? = '' OR type = ?)
		ORDER BY id
		LIMIT ?`, eventType, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("pending events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var e events.Event
		if err := rows.Scan(&e.ID, &e.Type, &e.Payload, &e.Processed, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkEventProcessed flags an event as handled.
func (db *DB) MarkEventProcessed(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `UPDATE agent_events SET processed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark event %d processed: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
