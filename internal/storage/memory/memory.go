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

// Package memory is the in-memory storage fallback used when DATABASE_URL
// is not set or the pool cannot be created. It mirrors the PostgreSQL
// store's semantics over plain maps so the rest of the gateway behaves the
// same either way, just without durability.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/foxcpp/gale/framework/log"
	"github.com/foxcpp/gale/internal/conversation"
	"github.com/foxcpp/gale/internal/metrics"
	"github.com/foxcpp/gale/internal/storage"
)

type conversationRow struct {
	id           int64
	key          conversation.Key
	messageCount int64
	lastActivity time.Time
}

type messageRow struct {
	id             int64
	conversationID int64
	direction      string
	sentAt         time.Time
	receivedAt     time.Time
	bodyID         int64
	attachments    map[int64]struct{}
}

type eventRow struct {
	id                int64
	channel           string
	from              string
	to                string
	providerMessageID string
	payload           []byte
	status            string
	attempts          int
	availableAt       time.Time
	updatedAt         time.Time
	processedAt       time.Time
	errorCode         string
	errorMessage      string
}

type Store struct {
	log     log.Logger
	metrics *metrics.Registry

	// Replaced in tests.
	now func() time.Time

	lck        sync.Mutex
	nextConvID int64
	nextMsgID  int64
	nextBodyID int64
	nextAttID  int64
	nextEvtID  int64

	convs    map[string]*conversationRow
	convByID map[int64]*conversationRow
	messages []*messageRow
	bodies   map[string]int64
	bodyText map[int64]string
	atts     map[string]int64
	events   map[int64]*eventRow
	evtDedup map[string]struct{}
}

func New(logger log.Logger, reg *metrics.Registry) *Store {
	return &Store{
		log:      logger,
		metrics:  reg,
		now:      time.Now,
		convs:    map[string]*conversationRow{},
		convByID: map[int64]*conversationRow{},
		bodies:   map[string]int64{},
		bodyText: map[int64]string{},
		atts:     map[string]int64{},
		events:   map[int64]*eventRow{},
		evtDedup: map[string]struct{}{},
	}
}

func (s *Store) Durable() bool {
	return false
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) Upsert(_ context.Context, ch conversation.Channel, from, to string, activityTS time.Time) (storage.UpsertResult, error) {
	key := conversation.DeriveKey(ch, from, to)

	s.lck.Lock()
	defer s.lck.Unlock()

	if row, ok := s.convs[key.Value]; ok {
		if activityTS.After(row.lastActivity) {
			row.lastActivity = activityTS
		}
		s.metrics.ConversationsReused.Add(1)
		return storage.UpsertResult{ID: row.id, Key: key}, nil
	}

	s.nextConvID++
	row := &conversationRow{id: s.nextConvID, key: key, lastActivity: activityTS}
	s.convs[key.Value] = row
	s.convByID[row.id] = row
	s.metrics.ConversationsCreated.Add(1)
	return storage.UpsertResult{ID: row.id, Key: key, Created: true}, nil
}

func (s *Store) InsertMessage(ctx context.Context, dir conversation.Direction, ch conversation.Channel, from, to, body string, attachments []string, timestamp string) (int64, error) {
	ts := storage.ParseTimestamp(timestamp)

	res, err := s.Upsert(ctx, ch, from, to, ts)
	if err != nil {
		return 0, err
	}

	s.lck.Lock()
	defer s.lck.Unlock()

	var bodyID int64
	if body != "" {
		id, ok := s.bodies[body]
		if !ok {
			s.nextBodyID++
			id = s.nextBodyID
			s.bodies[body] = id
			s.bodyText[id] = body
		}
		bodyID = id
	}

	// Exact duplicate: same conversation, direction, sent_at and body row.
	for _, m := range s.messages {
		if m.conversationID == res.ID && m.direction == string(dir) && m.sentAt.Equal(ts) && m.bodyID == bodyID {
			return m.id, nil
		}
	}

	s.nextMsgID++
	row := &messageRow{
		id:             s.nextMsgID,
		conversationID: res.ID,
		direction:      string(dir),
		sentAt:         ts,
		receivedAt:     ts,
		bodyID:         bodyID,
	}
	s.messages = append(s.messages, row)

	conv := s.convByID[res.ID]
	conv.messageCount++
	if ts.After(conv.lastActivity) {
		conv.lastActivity = ts
	}

	for _, url := range attachments {
		id, ok := s.atts[url]
		if !ok {
			s.nextAttID++
			id = s.nextAttID
			s.atts[url] = id
		}
		if row.attachments == nil {
			row.attachments = map[int64]struct{}{}
		}
		row.attachments[id] = struct{}{}
	}

	s.log.DebugMsg("message persisted", "direction", string(dir), "msg_id", row.id, "conversation_id", res.ID, "key", res.Key.Value)
	return row.id, nil
}

func (s *Store) summary(row *conversationRow) storage.ConversationSummary {
	return storage.ConversationSummary{
		ID:             row.id,
		Key:            row.key.Value,
		Channel:        string(row.key.Channel),
		ParticipantA:   row.key.ParticipantA,
		ParticipantB:   row.key.ParticipantB,
		MessageCount:   row.messageCount,
		LastActivityAt: row.lastActivity,
	}
}

func (s *Store) Conversations(_ context.Context, limit, offset int64) ([]storage.ConversationSummary, error) {
	s.lck.Lock()
	all := make([]storage.ConversationSummary, 0, len(s.convs))
	for _, row := range s.convs {
		all = append(all, s.summary(row))
	}
	s.lck.Unlock()

	// last_activity_at DESC NULLS LAST, id ASC.
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		switch {
		case a.LastActivityAt.IsZero() != b.LastActivityAt.IsZero():
			return !a.LastActivityAt.IsZero()
		case !a.LastActivityAt.Equal(b.LastActivityAt):
			return a.LastActivityAt.After(b.LastActivityAt)
		default:
			return a.ID < b.ID
		}
	})

	if offset >= int64(len(all)) {
		return nil, nil
	}
	all = all[offset:]
	if limit < int64(len(all)) {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) ConversationsTotal(_ context.Context) (int64, error) {
	s.lck.Lock()
	defer s.lck.Unlock()
	return int64(len(s.convs)), nil
}

func (s *Store) ConversationByID(_ context.Context, id int64) (storage.ConversationSummary, bool, error) {
	s.lck.Lock()
	defer s.lck.Unlock()

	row, ok := s.convByID[id]
	if !ok {
		return storage.ConversationSummary{}, false, nil
	}
	return s.summary(row), true, nil
}

func (s *Store) Messages(_ context.Context, conversationID, limit, offset int64) ([]storage.MessageRecord, error) {
	s.lck.Lock()
	var all []storage.MessageRecord
	for _, m := range s.messages {
		if m.conversationID != conversationID {
			continue
		}
		all = append(all, storage.MessageRecord{
			ID:         m.id,
			Direction:  m.direction,
			SentAt:     m.sentAt,
			ReceivedAt: m.receivedAt,
			Body:       s.bodyText[m.bodyID],
		})
	}
	s.lck.Unlock()

	// COALESCE(received_at, sent_at) DESC, id ASC.
	sort.Slice(all, func(i, j int) bool {
		a, b := effectiveTS(all[i]), effectiveTS(all[j])
		if !a.Equal(b) {
			return a.After(b)
		}
		return all[i].ID < all[j].ID
	})

	if offset >= int64(len(all)) {
		return nil, nil
	}
	all = all[offset:]
	if limit < int64(len(all)) {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) MessagesTotal(_ context.Context, conversationID int64) (int64, error) {
	s.lck.Lock()
	defer s.lck.Unlock()

	var total int64
	for _, m := range s.messages {
		if m.conversationID == conversationID {
			total++
		}
	}
	return total, nil
}

func effectiveTS(m storage.MessageRecord) time.Time {
	if !m.ReceivedAt.IsZero() {
		return m.ReceivedAt
	}
	return m.SentAt
}

func (s *Store) InsertInboundEvent(_ context.Context, ch conversation.Channel, from, to, providerMessageID string, payload []byte) error {
	s.lck.Lock()
	defer s.lck.Unlock()

	if providerMessageID != "" {
		dk := string(ch) + "\x00" + providerMessageID
		if _, dup := s.evtDedup[dk]; dup {
			return nil
		}
		s.evtDedup[dk] = struct{}{}
	}

	now := s.now()
	s.nextEvtID++
	s.events[s.nextEvtID] = &eventRow{
		id:                s.nextEvtID,
		channel:           string(ch),
		from:              from,
		to:                to,
		providerMessageID: providerMessageID,
		payload:           append([]byte(nil), payload...),
		status:            "pending",
		availableAt:       now,
		updatedAt:         now,
	}
	return nil
}

func (s *Store) ClaimBatch(_ context.Context, n int) ([]int64, error) {
	s.lck.Lock()
	defer s.lck.Unlock()

	now := s.now()
	var due []int64
	for id, evt := range s.events {
		if evt.status == "pending" && !evt.availableAt.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })
	if len(due) > n {
		due = due[:n]
	}

	for _, id := range due {
		s.events[id].status = "processing"
		s.events[id].updatedAt = now
	}
	return due, nil
}

func (s *Store) FetchEvent(_ context.Context, id int64) (*storage.InboundEvent, error) {
	s.lck.Lock()
	defer s.lck.Unlock()

	evt, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	return &storage.InboundEvent{
		ID:      evt.id,
		Channel: evt.channel,
		From:    evt.from,
		To:      evt.to,
		Payload: append([]byte(nil), evt.payload...),
	}, nil
}

func (s *Store) MarkProcessed(_ context.Context, id int64) error {
	s.lck.Lock()
	defer s.lck.Unlock()

	evt, ok := s.events[id]
	if !ok {
		return nil
	}
	now := s.now()
	evt.status = "done"
	evt.processedAt = now
	evt.updatedAt = now
	return nil
}

func (s *Store) MarkError(_ context.Context, id int64, code, message string, maxRetries int, backoffBase time.Duration) (bool, error) {
	s.lck.Lock()
	defer s.lck.Unlock()

	evt, ok := s.events[id]
	if !ok {
		return false, nil
	}

	now := s.now()
	evt.attempts++
	evt.errorCode = code
	evt.errorMessage = message
	evt.updatedAt = now
	if evt.attempts > maxRetries {
		evt.status = "dead"
		return true, nil
	}
	evt.status = "pending"
	evt.availableAt = now.Add(storage.BackoffDelay(evt.attempts, backoffBase))
	return false, nil
}

func (s *Store) ReapStale(_ context.Context, timeout time.Duration) (int64, error) {
	s.lck.Lock()
	defer s.lck.Unlock()

	now := s.now()
	cutoff := now.Add(-timeout)
	var n int64
	for _, evt := range s.events {
		if evt.status == "processing" && evt.updatedAt.Before(cutoff) {
			evt.status = "pending"
			evt.updatedAt = now
			n++
		}
	}
	return n, nil
}
