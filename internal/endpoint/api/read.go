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

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxcpp/gale/internal/snippet"
)

type conversationDto struct {
	ID             string `json:"id"`
	Key            string `json:"key"`
	Channel        string `json:"channel"`
	ParticipantA   string `json:"participant_a"`
	ParticipantB   string `json:"participant_b"`
	MessageCount   int64  `json:"message_count"`
	LastActivityAt string `json:"last_activity_at"`
}

type messageDto struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Type      string `json:"type"`
	Snippet   string `json:"snippet"`
	Timestamp string `json:"timestamp"`
}

// pagingParams reads page and pageSize, tolerating garbage: anything that
// does not parse keeps the default (page 1, pageSize 0). The raw values are
// echoed back in the response meta.
func pagingParams(r *http.Request) (page, pageSize int64) {
	page = 1
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			page = n
		}
	}
	if v := q.Get("pageSize"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			pageSize = n
		}
	}
	return page, pageSize
}

// pageWindow turns paging into a limit/offset pair. pageSize zero means the
// default window of 100 rows from the top, whatever the page says.
func pageWindow(page, pageSize int64) (limit, offset int64) {
	if pageSize == 0 {
		return 100, 0
	}
	return pageSize, (page - 1) * pageSize
}

func rfc3339OrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// Listing never fails the request: a store error turns into an empty page
// and a log line, the same as an id that does not exist.
func (e *Endpoint) listConversations(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagingParams(r)
	limit, offset := pageWindow(page, pageSize)

	items := []conversationDto{}
	var total int64

	rows, err := e.store.Conversations(r.Context(), limit, offset)
	if err != nil {
		e.log.Error("conversation listing failed", err)
	}
	for _, c := range rows {
		items = append(items, conversationDto{
			ID:             strconv.FormatInt(c.ID, 10),
			Key:            c.Key,
			Channel:        c.Channel,
			ParticipantA:   c.ParticipantA,
			ParticipantB:   c.ParticipantB,
			MessageCount:   c.MessageCount,
			LastActivityAt: rfc3339OrEmpty(c.LastActivityAt),
		})
	}
	if err == nil {
		total, err = e.store.ConversationsTotal(r.Context())
		if err != nil {
			e.log.Error("conversation count failed", err)
			total = int64(len(items))
		}
	}

	writeJSON(w, http.StatusOK, listResponse{
		Items: items,
		Meta:  pageMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func (e *Endpoint) listMessages(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagingParams(r)
	limit, offset := pageWindow(page, pageSize)

	items := []messageDto{}
	var total int64

	// A non-numeric or unknown id yields an empty page, not an error.
	convID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err == nil {
		conv, ok, err := e.store.ConversationByID(r.Context(), convID)
		if err != nil {
			e.log.Error("conversation lookup failed", err, "conversation_id", convID)
		} else if ok {
			rows, err := e.store.Messages(r.Context(), convID, limit, offset)
			if err != nil {
				e.log.Error("message listing failed", err, "conversation_id", convID)
			}
			for _, m := range rows {
				ts := m.ReceivedAt
				if ts.IsZero() {
					ts = m.SentAt
				}
				items = append(items, messageDto{
					ID:        strconv.FormatInt(m.ID, 10),
					From:      conv.ParticipantA,
					To:        conv.ParticipantB,
					Type:      conv.Channel,
					Snippet:   snippet.Make(m.Body, e.cfg.SnippetLength),
					Timestamp: ts.Format(time.RFC3339),
				})
			}
			if err == nil {
				total, err = e.store.MessagesTotal(r.Context(), convID)
				if err != nil {
					e.log.Error("message count failed", err, "conversation_id", convID)
					total = int64(len(items))
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, listResponse{
		Items: items,
		Meta:  pageMeta{Page: page, PageSize: pageSize, Total: total},
	})
}
