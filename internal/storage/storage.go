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

// Package storage defines the persistence contract shared by the PostgreSQL
// store and the in-memory fallback.
//
// Both implementations expose identical semantics: one conversation row per
// (channel, participant pair), monotone last_activity_at, deduplicated
// message bodies, and an at-least-once inbound event queue with claim /
// retry / dead-letter state transitions. The gateway picks the
// implementation at startup based on DATABASE_URL and the rest of the code
// does not care which one it got.
package storage

import (
	"context"
	"time"

	"github.com/foxcpp/gale/internal/conversation"
)

// UpsertResult reports the conversation an activity landed in. Created is
// best-effort: a concurrent insert racing through the ON CONFLICT path is
// still reported as Created by the transaction that ran the INSERT.
type UpsertResult struct {
	ID      int64
	Key     conversation.Key
	Created bool
}

// ConversationSummary is a conversation row. LastActivityAt may be the zero
// time when the conversation never saw a message.
type ConversationSummary struct {
	ID             int64
	Key            string
	Channel        string
	ParticipantA   string
	ParticipantB   string
	MessageCount   int64
	LastActivityAt time.Time
}

// MessageRecord is a message row joined with its deduplicated body.
// ReceivedAt may be the zero time. Body is empty when the message had none.
type MessageRecord struct {
	ID         int64
	Direction  string
	SentAt     time.Time
	ReceivedAt time.Time
	Body       string
}

// InboundEvent is the claimable unit of inbound work. Payload is the raw
// JSON the intake endpoint accepted.
type InboundEvent struct {
	ID      int64
	Channel string
	From    string
	To      string
	Payload []byte
}

type Store interface {
	// Durable reports whether state survives a process restart.
	Durable() bool

	// Upsert finds or creates the conversation for the normalized
	// participant pair and raises last_activity_at to activityTS if it is
	// newer. message_count is untouched; only InsertMessage bumps it, and
	// only after the message row landed.
	Upsert(ctx context.Context, ch conversation.Channel, from, to string, activityTS time.Time) (UpsertResult, error)

	// InsertMessage runs the full persistence pipeline: parse timestamp,
	// deduplicate body, upsert conversation, drop exact duplicates, insert,
	// bump the conversation counter and link attachments. Attachment
	// failures are logged and skipped, never returned.
	InsertMessage(ctx context.Context, dir conversation.Direction, ch conversation.Channel, from, to, body string, attachments []string, timestamp string) (int64, error)

	Conversations(ctx context.Context, limit, offset int64) ([]ConversationSummary, error)
	ConversationsTotal(ctx context.Context) (int64, error)
	ConversationByID(ctx context.Context, id int64) (ConversationSummary, bool, error)
	Messages(ctx context.Context, conversationID, limit, offset int64) ([]MessageRecord, error)
	MessagesTotal(ctx context.Context, conversationID int64) (int64, error)

	// InsertInboundEvent enqueues one inbound event with status pending.
	// When providerMessageID is non-empty, a duplicate (channel,
	// providerMessageID) pair is silently dropped.
	InsertInboundEvent(ctx context.Context, ch conversation.Channel, from, to, providerMessageID string, payload []byte) error

	// ClaimBatch moves up to n due pending events to processing and returns
	// their ids. Claimed events are invisible to concurrent claimers.
	ClaimBatch(ctx context.Context, n int) ([]int64, error)

	FetchEvent(ctx context.Context, id int64) (*InboundEvent, error)
	MarkProcessed(ctx context.Context, id int64) error

	// MarkError counts one failed attempt. Once attempts exceed maxRetries
	// the event is dead-lettered and MarkError reports true; otherwise the
	// event returns to pending after an exponential backoff delay.
	MarkError(ctx context.Context, id int64, code, message string, maxRetries int, backoffBase time.Duration) (bool, error)

	// ReapStale returns events stuck in processing longer than timeout back
	// to pending and reports how many were reset.
	ReapStale(ctx context.Context, timeout time.Duration) (int64, error)

	Close() error
}

// ParseTimestamp parses an RFC 3339 timestamp, falling back to the current
// time when the value is malformed or empty.
func ParseTimestamp(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Now()
}

// BackoffDelay computes the retry delay after the given failed attempt
// count: base doubled per prior attempt, capped at one minute.
func BackoffDelay(attempts int, base time.Duration) time.Duration {
	const maxDelay = time.Minute

	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
