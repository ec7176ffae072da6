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

	"github.com/foxcpp/gale/framework/exterrors"
	"github.com/foxcpp/gale/internal/conversation"
	"github.com/foxcpp/gale/internal/storage"
)

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// Upsert resolves the conversation row for a normalized participant pair,
// creating it when absent and bumping last_activity_at otherwise.
// last_activity_at only ever moves forward (GREATEST on both paths).
func (s *Store) Upsert(ctx context.Context, ch conversation.Channel, from, to string, activityTS time.Time) (storage.UpsertResult, error) {
	key := conversation.DeriveKey(ch, from, to)

	res, err := s.upsert(ctx, key, activityTS)
	if err != nil {
		s.metrics.ConversationsFailures.Add(1)
		// Loggers up the stack pull these fields out of the chain.
		return storage.UpsertResult{}, exterrors.WithFields(err, map[string]interface{}{
			"conversation_key": key.Value,
			"channel":          string(key.Channel),
		})
	}
	if res.Created {
		s.metrics.ConversationsCreated.Add(1)
	} else {
		s.metrics.ConversationsReused.Add(1)
	}
	return res, nil
}

func (s *Store) upsert(ctx context.Context, key conversation.Key, activityTS time.Time) (storage.UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.UpsertResult{}, fmt.Errorf("pgsql: upsert begin: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM conversations
		WHERE channel = $1 AND participant_a = $2 AND participant_b = $3
		FOR UPDATE`,
		string(key.Channel), key.ParticipantA, key.ParticipantB).Scan(&id)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `
			UPDATE conversations SET last_activity_at = GREATEST(last_activity_at, $1)
			WHERE id = $2`, nullTime(activityTS), id); err != nil {
			return storage.UpsertResult{}, fmt.Errorf("pgsql: upsert activity: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return storage.UpsertResult{}, fmt.Errorf("pgsql: upsert commit: %w", err)
		}
		return storage.UpsertResult{ID: id, Key: key}, nil
	case err == sql.ErrNoRows:
		// Concurrent creators race here; ON CONFLICT turns the loser's
		// insert into an activity bump on the winner's row.
		err := tx.QueryRowContext(ctx, `
			INSERT INTO conversations (channel, participant_a, participant_b, message_count, last_activity_at, key)
			VALUES ($1, $2, $3, 0, $4, $5)
			ON CONFLICT (channel, participant_a, participant_b) DO UPDATE
				SET last_activity_at = GREATEST(conversations.last_activity_at, EXCLUDED.last_activity_at)
			RETURNING id`,
			string(key.Channel), key.ParticipantA, key.ParticipantB, nullTime(activityTS), key.Value).Scan(&id)
		if err != nil {
			return storage.UpsertResult{}, fmt.Errorf("pgsql: upsert insert: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return storage.UpsertResult{}, fmt.Errorf("pgsql: upsert commit: %w", err)
		}
		return storage.UpsertResult{ID: id, Key: key, Created: true}, nil
	default:
		return storage.UpsertResult{}, fmt.Errorf("pgsql: upsert select: %w", err)
	}
}

func (s *Store) Conversations(ctx context.Context, limit, offset int64) ([]storage.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, channel, participant_a, participant_b, message_count, last_activity_at
		FROM conversations
		ORDER BY last_activity_at DESC NULLS LAST, id ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("pgsql: list conversations: %w", err)
	}
	defer rows.Close()

	var list []storage.ConversationSummary
	for rows.Next() {
		var (
			c        storage.ConversationSummary
			activity sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.Key, &c.Channel, &c.ParticipantA, &c.ParticipantB, &c.MessageCount, &activity); err != nil {
			return nil, fmt.Errorf("pgsql: list conversations: %w", err)
		}
		if activity.Valid {
			c.LastActivityAt = activity.Time
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgsql: list conversations: %w", err)
	}
	return list, nil
}

func (s *Store) ConversationsTotal(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&total); err != nil {
		return 0, fmt.Errorf("pgsql: conversations total: %w", err)
	}
	return total, nil
}

func (s *Store) ConversationByID(ctx context.Context, id int64) (storage.ConversationSummary, bool, error) {
	var (
		c        storage.ConversationSummary
		activity sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, key, channel, participant_a, participant_b, message_count, last_activity_at
		FROM conversations WHERE id = $1`, id).
		Scan(&c.ID, &c.Key, &c.Channel, &c.ParticipantA, &c.ParticipantB, &c.MessageCount, &activity)
	if err == sql.ErrNoRows {
		return storage.ConversationSummary{}, false, nil
	}
	if err != nil {
		return storage.ConversationSummary{}, false, fmt.Errorf("pgsql: conversation lookup: %w", err)
	}
	if activity.Valid {
		c.LastActivityAt = activity.Time
	}
	return c, true, nil
}
