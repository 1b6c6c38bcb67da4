package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/giveq/giveq/internal/types"
)

// AppendOutbox records a downstream event in the same transaction as the
// lifecycle transition it describes. Delivery is external plumbing.
func (t *txn) AppendOutbox(ctx context.Context, kind string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload for %s: %w", kind, err)
	}
	_, err = t.q.Exec(ctx,
		`INSERT INTO outbox (id, kind, payload) VALUES ($1, $2, $3)`,
		uuid.NewString(), kind, body)
	if err != nil {
		return fmt.Errorf("failed to append outbox event %s: %w", kind, mapError(err))
	}
	return nil
}

// ListUndeliveredOutbox returns pending outbox events, oldest first. Used
// by the delivery worker (out of scope here) and by tests asserting that
// transitions append events.
func (s *Store) ListUndeliveredOutbox(ctx context.Context, limit int) ([]*types.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, payload, created_at, delivered_at
		FROM outbox WHERE delivered_at IS NULL
		ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox events: %w", mapError(err))
	}
	defer rows.Close()

	var events []*types.OutboxEvent
	for rows.Next() {
		var e types.OutboxEvent
		if err := rows.Scan(&e.ID, &e.Kind, &e.Payload, &e.CreatedAt, &e.DeliveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
