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

// Package outbound carries accepted API messages from the HTTP layer to
// the provider adapters. The queue is a bounded in-memory buffer: accepted
// means "will try to dispatch", not "dispatched", and a process restart
// loses whatever is still buffered.
package outbound

import (
	"strings"

	"github.com/foxcpp/gale/framework/log"
	"github.com/foxcpp/gale/internal/conversation"
)

// Event names produced by the API handlers.
const (
	EventSMS   = "api.messages.sms"
	EventEmail = "api.messages.email"
)

// Payload is the decoded request body of an accepted outbound message.
type Payload struct {
	Type        string   `json:"type,omitempty"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments,omitempty"`
	Timestamp   string   `json:"timestamp,omitempty"`
}

// Event is one queued outbound request.
type Event struct {
	Name           string
	Payload        Payload
	IdempotencyKey string
}

// Channel infers the target channel. An sms event carries mms traffic when
// the payload type says so; the match ignores case.
func (e Event) Channel() conversation.Channel {
	switch e.Name {
	case EventEmail:
		return conversation.ChannelEmail
	case EventSMS:
		if strings.EqualFold(e.Payload.Type, "mms") {
			return conversation.ChannelMMS
		}
	}
	return conversation.ChannelSMS
}

type Queue struct {
	log log.Logger
	ch  chan Event
}

func NewQueue(capacity int, logger log.Logger) *Queue {
	return &Queue{log: logger, ch: make(chan Event, capacity)}
}

// TryEnqueue never blocks. A full buffer drops the event with a warning;
// the HTTP layer still answers 202 either way.
func (q *Queue) TryEnqueue(evt Event) bool {
	select {
	case q.ch <- evt:
		return true
	default:
		q.log.Msg("outbound queue full, dropping event", "event", evt.Name, "capacity", cap(q.ch))
		return false
	}
}

// Events exposes the consume side for the dispatch worker.
func (q *Queue) Events() <-chan Event {
	return q.ch
}

// Len reports the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}
