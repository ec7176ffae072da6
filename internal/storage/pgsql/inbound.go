/*
Gale Messaging Gateway - Unified SMS/MMS/Email messaging gateway.
Copyright © 2024-2026 Max Mazurov <fox.cpp@disroot.org>, Gale Messaging Gateway contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package pgsql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/foxcpp/gale/internal/conversation"
	"github.com/foxcpp/gale/internal/storage"
)

// InsertInboundEvent appends a pending event to the durable queue. Events
// carrying a provider message id are deduplicated by the partial unique
// index on (channel, provider_message_id).
func (s *Store) InsertInboundEvent(ctx context.Context, ch conversation.Channel, from, to, providerMessageID string, payload []byte) error {
	var pmid sql.NullString
	if providerMessageID != "" {
		pmid = sql.NullString{String: providerMessageID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inbound_events (event_type, payload, available_at, status, channel, "from", "to", provider_message_id)
		VALUES ($1, $2, now(), 'pending', $1, $3, $4, $5)
		ON CONFLICT (channel, provider_message_id) WHERE provider_message_id IS NOT NULL DO NOTHING`,
		string(ch), string(payload), from, to, pmid)
	if err != nil {
		return fmt.Errorf("pgsql: insert inbound event: %w", err)
	}
	return nil
}

// ClaimBatch moves up to n due pending events to processing and returns
// their ids. FOR UPDATE SKIP LOCKED keeps concurrent workers from claiming
// the same rows.
func (s *Store) ClaimBatch(ctx context.Context, n int) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("pgsql: claim begin: %w", err)
	}
	defer tx.Rollback()

	ids, err := claimIDs(ctx, tx, n)
	if err != nil {
		return nil, err
	}

	if len(ids) != 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE inbound_events SET status = 'processing', updated_at = now()
			WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
			return nil, fmt.Errorf("pgsql: claim update: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("pgsql: claim commit: %w", err)
	}
	return ids, nil
}

func claimIDs(ctx context.Context, tx *sql.Tx, n int) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM inbound_events
		WHERE status = 'pending' AND available_at <= now()
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("pgsql: claim select: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgsql: claim scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgsql: claim select: %w", err)
	}
	return ids, nil
}

func (s *Store) FetchEvent(ctx context.Context, id int64) (*storage.InboundEvent, error) {
	evt := storage.InboundEvent{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT channel, "from", "to", payload FROM inbound_events WHERE id = $1`, id).
		Scan(&evt.Channel, &evt.From, &evt.To, &evt.Payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgsql: fetch event: %w", err)
	}
	return &evt, nil
}

func (s *Store) MarkProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE inbound_events SET status = 'done', processed_at = now(), updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pgsql: mark processed: %w", err)
	}
	return nil
}

// MarkError schedules a retry with exponential backoff, or moves the event
// to dead once attempts exceed maxRetries. Only the worker that claimed
// the event touches it while it is processing, so the separate attempts
// read is safe.
func (s *Store) MarkError(ctx context.Context, id int64, code, message string, maxRetries int, backoffBase time.Duration) (bool, error) {
	var attempts int
	if err := s.db.QueryRowContext(ctx, `SELECT attempts FROM inbound_events WHERE id = $1`, id).Scan(&attempts); err != nil {
		return false, fmt.Errorf("pgsql: mark error: %w", err)
	}
	attempts++

	if attempts > maxRetries {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE inbound_events SET status = 'dead', error_code = $2, error_message = $3, attempts = $4, updated_at = now()
			WHERE id = $1`, id, code, message, attempts); err != nil {
			return false, fmt.Errorf("pgsql: mark dead: %w", err)
		}
		return true, nil
	}

	delay := storage.BackoffDelay(attempts, backoffBase)
	if _, err := s.db.ExecContext(ctx, `
		UPDATE inbound_events SET status = 'pending', error_code = $2, error_message = $3, attempts = $4,
			available_at = now() + $5 * INTERVAL '1 millisecond', updated_at = now()
		WHERE id = $1`, id, code, message, attempts, delay.Milliseconds()); err != nil {
		return false, fmt.Errorf("pgsql: mark retry: %w", err)
	}
	return false, nil
}

// ReapStale returns events stuck in processing past the claim timeout to
// pending. Covers workers that died between claim and completion.
func (s *Store) ReapStale(ctx context.Context, timeout time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inbound_events SET status = 'pending', updated_at = now()
		WHERE status = 'processing' AND updated_at < now() - $1 * INTERVAL '1 second'`,
		int64(timeout.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("pgsql: reap stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pgsql: reap stale: %w", err)
	}
	return n, nil
}
