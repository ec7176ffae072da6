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
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/foxcpp/gale/framework/exterrors"
	"github.com/foxcpp/gale/internal/config"
	"github.com/foxcpp/gale/internal/conversation"
	"github.com/foxcpp/gale/internal/outbound"
)

var accepted = statusBody{Status: "accepted"}

type smsRequest struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	Type        string   `json:"type"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"`
	Timestamp   string   `json:"timestamp"`
}

func (r *smsRequest) validate() error {
	if r.From == "" {
		return errors.New("missing field: from")
	}
	if r.To == "" {
		return errors.New("missing field: to")
	}
	switch {
	case strings.EqualFold(r.Type, "sms"):
	case strings.EqualFold(r.Type, "mms"):
		if len(r.Attachments) == 0 {
			return errors.New("mms requires at least one attachment")
		}
	default:
		return errors.New("invalid type: must be \"sms\" or \"mms\"")
	}
	return nil
}

type emailRequest struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"`
	Timestamp   string   `json:"timestamp"`
}

func (r *emailRequest) validate() error {
	if r.From == "" {
		return errors.New("missing field: from")
	}
	if r.To == "" {
		return errors.New("missing field: to")
	}
	return nil
}

// suppressDuplicate reports whether the request carries an Idempotency-Key
// that was already seen. The duplicate is still answered 202; only the side
// effect is skipped.
func (e *Endpoint) suppressDuplicate(r *http.Request) bool {
	key := idempotencyKey(r.Context())
	if key == "" {
		return false
	}
	if e.idem.SeenOrInsert(key) {
		return false
	}
	e.log.DebugMsg("duplicate idempotency key, suppressing", "key", key, "path", r.URL.Path)
	return true
}

func (e *Endpoint) postSMS(w http.ResponseWriter, r *http.Request) {
	var req smsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, exterrors.BadRequest(err.Error()))
		return
	}
	if e.suppressDuplicate(r) {
		writeJSON(w, http.StatusAccepted, accepted)
		return
	}
	if !e.senderLimit.Take(req.From) {
		w.Header().Set("Retry-After", "60")
		writeError(w, exterrors.RateLimited("Too many requests for sender"))
		return
	}
	if len(req.Attachments) > e.cfg.MaxAttachments {
		writeError(w, exterrors.BadRequest("too many attachments"))
		return
	}

	e.queue.TryEnqueue(outbound.Event{
		Name: outbound.EventSMS,
		Payload: outbound.Payload{
			Type:        req.Type,
			From:        req.From,
			To:          req.To,
			Body:        req.Body,
			Attachments: req.Attachments,
			Timestamp:   req.Timestamp,
		},
		IdempotencyKey: idempotencyKey(r.Context()),
	})
	writeJSON(w, http.StatusAccepted, accepted)
}

func (e *Endpoint) postEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, exterrors.BadRequest(err.Error()))
		return
	}
	if e.suppressDuplicate(r) {
		writeJSON(w, http.StatusAccepted, accepted)
		return
	}
	if !e.senderLimit.Take(req.From) {
		w.Header().Set("Retry-After", "60")
		writeError(w, exterrors.RateLimited("Too many requests for sender"))
		return
	}
	if len(req.Attachments) > e.cfg.MaxAttachments {
		writeError(w, exterrors.BadRequest("too many attachments"))
		return
	}

	e.queue.TryEnqueue(outbound.Event{
		Name: outbound.EventEmail,
		Payload: outbound.Payload{
			From:        req.From,
			To:          req.To,
			Body:        req.Body,
			Attachments: req.Attachments,
			Timestamp:   req.Timestamp,
		},
		IdempotencyKey: idempotencyKey(r.Context()),
	})
	writeJSON(w, http.StatusAccepted, accepted)
}

type webhookSMSRequest struct {
	From                string   `json:"from"`
	To                  string   `json:"to"`
	Type                string   `json:"type"`
	MessagingProviderID string   `json:"messaging_provider_id"`
	Body                string   `json:"body"`
	Attachments         []string `json:"attachments"`
	Timestamp           string   `json:"timestamp"`
}

type webhookEmailRequest struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	XillioID    string   `json:"xillio_id"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"`
	Timestamp   string   `json:"timestamp"`
}

// storeInboundEvent enqueues one provider event for the inbound worker.
// The provider message id makes redelivered webhooks collapse into one
// event; an empty id disables that and relies on the message duplicate
// check downstream.
func (e *Endpoint) storeInboundEvent(w http.ResponseWriter, r *http.Request,
	ch conversation.Channel, from, to, providerMessageID string, payload interface{}) {

	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	if err := e.store.InsertInboundEvent(r.Context(), ch, from, to, providerMessageID, raw); err != nil {
		e.log.Error("failed to store inbound event", err, "channel", ch)
		writeError(w, exterrors.ServiceUnavailable("failed to store event"))
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

// Webhook payloads are stored as received; missing fields fall back to
// defaults in the worker rather than being rejected here, because the
// provider retries on anything but 2xx.
func (e *Endpoint) postWebhookSMS(w http.ResponseWriter, r *http.Request) {
	var req webhookSMSRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if e.suppressDuplicate(r) {
		writeJSON(w, http.StatusAccepted, accepted)
		return
	}
	if !e.senderLimit.Take(req.From) {
		w.Header().Set("Retry-After", "60")
		writeError(w, exterrors.RateLimited("Too many requests for sender"))
		return
	}
	if len(req.Attachments) > e.cfg.MaxAttachments {
		writeError(w, exterrors.BadRequest("too many attachments"))
		return
	}

	ch := conversation.ChannelSMS
	if strings.EqualFold(req.Type, "mms") {
		ch = conversation.ChannelMMS
	}
	e.storeInboundEvent(w, r, ch, req.From, req.To, req.MessagingProviderID, &req)
}

func (e *Endpoint) postWebhookEmail(w http.ResponseWriter, r *http.Request) {
	var req webhookEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if e.suppressDuplicate(r) {
		writeJSON(w, http.StatusAccepted, accepted)
		return
	}
	if len(req.Attachments) > e.cfg.MaxAttachments {
		writeError(w, exterrors.BadRequest("too many attachments"))
		return
	}

	e.storeInboundEvent(w, r, conversation.ChannelEmail, req.From, req.To, req.XillioID, &req)
}

type mockInboundRequest struct {
	Channel     string   `json:"channel"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"`
	Timestamp   string   `json:"timestamp"`
}

func (r *mockInboundRequest) validate(maxAttachments int) error {
	ch := conversation.Channel(r.Channel)
	if !ch.Valid() {
		return errors.New("invalid channel: must be \"sms\", \"mms\" or \"email\"")
	}
	if r.From == "" {
		return errors.New("missing field: from")
	}
	if r.To == "" {
		return errors.New("missing field: to")
	}
	if ch == conversation.ChannelMMS && len(r.Attachments) == 0 {
		return errors.New("mms requires at least one attachment")
	}
	if len(r.Attachments) > maxAttachments {
		return errors.New("too many attachments")
	}
	return nil
}

// postMockInbound injects a provider-originated message without a real
// provider: the event takes the same store path as a webhook.
func (e *Endpoint) postMockInbound(w http.ResponseWriter, r *http.Request) {
	var req mockInboundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.validate(e.cfg.MaxAttachments); err != nil {
		writeError(w, exterrors.BadRequest(err.Error()))
		return
	}

	e.storeInboundEvent(w, r, conversation.Channel(req.Channel), req.From, req.To, "", &req)
}

type mockConfigDto struct {
	TimeoutPct   int     `json:"timeout_pct"`
	ErrorPct     int     `json:"error_pct"`
	RatelimitPct int     `json:"ratelimit_pct"`
	Seed         *uint64 `json:"seed,omitempty"`
}

func (e *Endpoint) getMockConfig(w http.ResponseWriter, r *http.Request) {
	e.faultsLck.Lock()
	dto := mockConfigDto{
		TimeoutPct:   e.faults.TimeoutPct,
		ErrorPct:     e.faults.ErrorPct,
		RatelimitPct: e.faults.RatelimitPct,
		Seed:         e.faults.Seed,
	}
	e.faultsLck.Unlock()
	writeJSON(w, http.StatusOK, dto)
}

// putMockConfig applies the fault settings to every registered mock, both
// channels at once. There is no per-provider override on this endpoint.
func (e *Endpoint) putMockConfig(w http.ResponseWriter, r *http.Request) {
	var dto mockConfigDto
	if !decodeJSON(w, r, &dto) {
		return
	}

	faults := config.Faults{
		TimeoutPct:   dto.TimeoutPct,
		ErrorPct:     dto.ErrorPct,
		RatelimitPct: dto.RatelimitPct,
		Seed:         dto.Seed,
	}

	e.faultsLck.Lock()
	e.faults = faults
	e.faultsLck.Unlock()

	for _, m := range e.mocks {
		m.SetFaults(faults)
	}
	e.log.Msg("mock provider faults updated", "timeout_pct", faults.TimeoutPct,
		"error_pct", faults.ErrorPct, "ratelimit_pct", faults.RatelimitPct)

	writeJSON(w, http.StatusOK, dto)
}
