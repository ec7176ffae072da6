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
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/lib/pq"

	"github.com/foxcpp/gale/framework/exterrors"
	"github.com/foxcpp/gale/internal/conversation"
	"github.com/foxcpp/gale/internal/storage"
)

// Referenced by messages.provider_id. EnsureIdentities creates the row.
const bootstrapProviderID = 1

// InsertMessage persists one message: resolve the shared body row, upsert
// the conversation, skip exact duplicates, insert, then bump the
// conversation counters. Attachment failures are logged and skipped, they
// never fail the insert.
func (s *Store) InsertMessage(ctx context.Context, dir conversation.Direction, ch conversation.Channel, from, to, body string, attachments []string, timestamp string) (int64, error) {
	ts := storage.ParseTimestamp(timestamp)

	var bodyID sql.NullInt64
	if body != "" {
		id, err := s.bodyID(ctx, body)
		if err != nil {
			return 0, err
		}
		bodyID = sql.NullInt64{Int64: id, Valid: true}
	}

	res, err := s.Upsert(ctx, ch, from, to, ts)
	if err != nil {
		return 0, err
	}

	// Exact duplicate: same conversation, direction, sent_at and body row.
	var existing int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM messages
		WHERE conversation_id = $1 AND direction = $2 AND sent_at = $3 AND body_id IS NOT DISTINCT FROM $4
		LIMIT 1`, res.ID, string(dir), ts, bodyID).Scan(&existing)
	switch {
	case err == nil:
		return existing, nil
	case err != sql.ErrNoRows:
		return 0, fmt.Errorf("pgsql: message dedup check: %w", err)
	}

	var msgID int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, provider_id, direction, sent_at, received_at, body_id)
		VALUES ($1, $2, $3, $4, $4, $5)
		RETURNING id`, res.ID, bootstrapProviderID, string(dir), ts, bodyID).Scan(&msgID)
	if err != nil {
		return 0, pqPermanent(fmt.Errorf("pgsql: insert message: %w", err))
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET message_count = message_count + 1, last_activity_at = GREATEST(last_activity_at, $2)
		WHERE id = $1`, res.ID, ts); err != nil {
		s.log.Error("failed to bump conversation counters", err, "conversation_id", res.ID)
	}

	s.log.DebugMsg("message persisted", "direction", string(dir), "msg_id", msgID, "conversation_id", res.ID, "key", res.Key.Value)

	for _, url := range attachments {
		if err := s.persistAttachment(ctx, msgID, url); err != nil {
			s.log.Error("failed to persist attachment", err, "msg_id", msgID, "url", url)
		}
	}
	return msgID, nil
}

// bodyID deduplicates message bodies. ON CONFLICT DO NOTHING returns no
// row when the body already exists, so fall back to a lookup.
func (s *Store) bodyID(ctx context.Context, body string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO message_bodies (body) VALUES ($1)
		ON CONFLICT (body) DO NOTHING
		RETURNING id`, body).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case err != sql.ErrNoRows:
		return 0, fmt.Errorf("pgsql: insert body: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT id FROM message_bodies WHERE body = $1 LIMIT 1`, body).Scan(&id); err != nil {
		return 0, fmt.Errorf("pgsql: lookup body: %w", err)
	}
	return id, nil
}

// pqPermanent marks integrity violations (SQLSTATE class 23) permanent:
// they repeat on every retry with the same inputs.
func pqPermanent(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return exterrors.WithTemporary(err, false)
	}
	return err
}

// attachmentHash is the value stored in the BIGINT hash column on raw+hash
// schemas. It is only ever compared against itself.
func attachmentHash(url string) int64 {
	return int64(xxhash.Sum64String(url))
}

func (s *Store) persistAttachment(ctx context.Context, messageID int64, url string) error {
	attID, ok, err := s.attachmentID(ctx, messageID, url)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO message_attachment_urls (message_id, attachment_url_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, messageID, attID); err != nil {
		return fmt.Errorf("pgsql: link attachment: %w", err)
	}
	return nil
}

// attachmentID resolves or creates the attachment row for url using the
// insert strategy matching the detected schema variant. ok=false without
// an error means the row must not be linked (hash collision on a legacy
// raw+hash table).
func (s *Store) attachmentID(ctx context.Context, messageID int64, url string) (int64, bool, error) {
	var id int64
	switch s.attachmentSchemaKind(ctx) {
	case attachmentRawHash:
		hash := attachmentHash(url)
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO attachment_urls (raw, hash) VALUES ($1, $2)
			ON CONFLICT (hash) DO NOTHING
			RETURNING id`, url, hash).Scan(&id)
		switch {
		case err == nil:
			return id, true, nil
		case err != sql.ErrNoRows:
			return 0, false, fmt.Errorf("pgsql: insert attachment: %w", err)
		}

		// The hash is taken; make sure it actually belongs to this URL.
		var existingRaw string
		if err := s.db.QueryRowContext(ctx, `SELECT id, raw FROM attachment_urls WHERE hash = $1 LIMIT 1`, hash).Scan(&id, &existingRaw); err != nil {
			return 0, false, fmt.Errorf("pgsql: lookup attachment: %w", err)
		}
		if existingRaw != url {
			s.log.Msg("attachment hash collision, not linking", "msg_id", messageID, "url", url, "existing", existingRaw, "hash", hash)
			return 0, false, nil
		}
		return id, true, nil
	case attachmentRawHashURL:
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO attachment_urls (raw, hash, url) VALUES ($1, $2, $1)
			ON CONFLICT (url) DO NOTHING
			RETURNING id`, url, attachmentHash(url)).Scan(&id)
		switch {
		case err == nil:
			return id, true, nil
		case err != sql.ErrNoRows:
			return 0, false, fmt.Errorf("pgsql: insert attachment: %w", err)
		}
	default: // attachmentURLOnly
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO attachment_urls (url) VALUES ($1)
			ON CONFLICT (url) DO NOTHING
			RETURNING id`, url).Scan(&id)
		switch {
		case err == nil:
			return id, true, nil
		case err != sql.ErrNoRows:
			return 0, false, fmt.Errorf("pgsql: insert attachment: %w", err)
		}
	}

	if err := s.db.QueryRowContext(ctx, `SELECT id FROM attachment_urls WHERE url = $1 LIMIT 1`, url).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("pgsql: lookup attachment: %w", err)
	}
	return id, true, nil
}

func (s *Store) Messages(ctx context.Context, conversationID, limit, offset int64) ([]storage.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.direction, m.sent_at, m.received_at, b.body
		FROM messages m
		LEFT JOIN message_bodies b ON m.body_id = b.id
		WHERE m.conversation_id = $1
		ORDER BY COALESCE(m.received_at, m.sent_at) DESC, m.id ASC
		LIMIT $2 OFFSET $3`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("pgsql: list messages: %w", err)
	}
	defer rows.Close()

	var list []storage.MessageRecord
	for rows.Next() {
		var (
			m        storage.MessageRecord
			received sql.NullTime
			body     sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Direction, &m.SentAt, &received, &body); err != nil {
			return nil, fmt.Errorf("pgsql: list messages: %w", err)
		}
		if received.Valid {
			m.ReceivedAt = received.Time
		}
		m.Body = body.String
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgsql: list messages: %w", err)
	}
	return list, nil
}

func (s *Store) MessagesTotal(ctx context.Context, conversationID int64) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&total); err != nil {
		return 0, fmt.Errorf("pgsql: messages total: %w", err)
	}
	return total, nil
}
