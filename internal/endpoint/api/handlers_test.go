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
	"context"
	"strings"
	"testing"

	"github.com/foxcpp/gale/internal/conversation"
	"github.com/foxcpp/gale/internal/outbound"
	"github.com/foxcpp/gale/internal/storage"
)

func TestPostSMSValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{
			"missing from",
			`{"to":"+15550200","type":"sms","body":"hi"}`,
			"missing field: from",
		},
		{
			"missing to",
			`{"from":"+15550100","type":"sms","body":"hi"}`,
			"missing field: to",
		},
		{
			"invalid type",
			`{"from":"+15550100","to":"+15550200","type":"fax","body":"hi"}`,
			`invalid type: must be "sms" or "mms"`,
		},
		{
			"mms without attachments",
			`{"from":"+15550100","to":"+15550200","type":"mms","body":"hi"}`,
			"mms requires at least one attachment",
		},
		{
			"malformed json",
			`{"from":`,
			"malformed JSON body",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			g := testEndpoint(t, testConfig())
			w := g.do(t, "POST", "/api/messages/sms", test.body, nil)
			if w.Code != 400 {
				t.Fatalf("status = %d, want 400 (body: %s)", w.Code, w.Body.String())
			}
			var errBody errorBody
			decodeBody(t, w, &errBody)
			if errBody.Code != "bad_request" {
				t.Errorf("code = %q, want bad_request", errBody.Code)
			}
			if errBody.Message != test.wantMsg {
				t.Errorf("message = %q, want %q", errBody.Message, test.wantMsg)
			}
			if g.queue.Len() != 0 {
				t.Errorf("queue len = %d, want 0", g.queue.Len())
			}
		})
	}
}

func TestPostSMSEnqueues(t *testing.T) {
	g := testEndpoint(t, testConfig())

	w := g.do(t, "POST", "/api/messages/sms", validSMS, nil)
	if w.Code != 202 {
		t.Fatalf("status = %d, want 202 (body: %s)", w.Code, w.Body.String())
	}
	var body statusBody
	decodeBody(t, w, &body)
	if body.Status != "accepted" {
		t.Errorf("status field = %q, want accepted", body.Status)
	}

	if g.queue.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", g.queue.Len())
	}
	evt := <-g.queue.Events()
	if evt.Name != outbound.EventSMS {
		t.Errorf("event name = %q, want %q", evt.Name, outbound.EventSMS)
	}
	if evt.Payload.From != "+15550100" || evt.Payload.To != "+15550200" {
		t.Errorf("payload from/to = %q/%q", evt.Payload.From, evt.Payload.To)
	}
	if evt.Payload.Body != "hi" {
		t.Errorf("payload body = %q, want hi", evt.Payload.Body)
	}
	if ch := evt.Channel(); ch != conversation.ChannelSMS {
		t.Errorf("channel = %q, want sms", ch)
	}
}

func TestPostMMSRoutesChannel(t *testing.T) {
	g := testEndpoint(t, testConfig())

	body := `{"from":"+15550100","to":"+15550200","type":"MMS","body":"pic","attachments":["https://cdn/img.png"]}`
	if w := g.do(t, "POST", "/api/messages/sms", body, nil); w.Code != 202 {
		t.Fatalf("status = %d, want 202 (body: %s)", w.Code, w.Body.String())
	}
	evt := <-g.queue.Events()
	if ch := evt.Channel(); ch != conversation.ChannelMMS {
		t.Errorf("channel = %q, want mms", ch)
	}
	if len(evt.Payload.Attachments) != 1 {
		t.Errorf("attachments = %d, want 1", len(evt.Payload.Attachments))
	}
}

func TestPostEmailEnqueues(t *testing.T) {
	g := testEndpoint(t, testConfig())

	body := `{"from":"ann@example.com","to":"bob@example.com","body":"hello","timestamp":"2024-03-01T10:00:00Z"}`
	if w := g.do(t, "POST", "/api/messages/email", body, nil); w.Code != 202 {
		t.Fatalf("status = %d, want 202 (body: %s)", w.Code, w.Body.String())
	}
	evt := <-g.queue.Events()
	if evt.Name != outbound.EventEmail {
		t.Errorf("event name = %q, want %q", evt.Name, outbound.EventEmail)
	}
	if ch := evt.Channel(); ch != conversation.ChannelEmail {
		t.Errorf("channel = %q, want email", ch)
	}
}

func TestPostEmailValidation(t *testing.T) {
	g := testEndpoint(t, testConfig())

	w := g.do(t, "POST", "/api/messages/email", `{"to":"bob@example.com","body":"x"}`, nil)
	if w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var errBody errorBody
	decodeBody(t, w, &errBody)
	if errBody.Message != "missing field: from" {
		t.Errorf("message = %q, want missing field: from", errBody.Message)
	}
}

func TestTooManyAttachments(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttachments = 2
	g := testEndpoint(t, cfg)

	body := `{"from":"+15550100","to":"+15550200","type":"mms","body":"x",` +
		`"attachments":["https://a","https://b","https://c"]}`
	w := g.do(t, "POST", "/api/messages/sms", body, nil)
	if w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var errBody errorBody
	decodeBody(t, w, &errBody)
	if errBody.Message != "too many attachments" {
		t.Errorf("message = %q, want too many attachments", errBody.Message)
	}
}

func TestIdempotencySuppression(t *testing.T) {
	g := testEndpoint(t, testConfig())

	hdr := map[string]string{"Idempotency-Key": "k1"}
	if w := g.do(t, "POST", "/api/messages/sms", validSMS, hdr); w.Code != 202 {
		t.Fatalf("first post: status = %d, want 202", w.Code)
	}
	if g.queue.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", g.queue.Len())
	}

	// The replay is accepted but produces no second event.
	if w := g.do(t, "POST", "/api/messages/sms", validSMS, hdr); w.Code != 202 {
		t.Fatalf("replay: status = %d, want 202", w.Code)
	}
	if g.queue.Len() != 1 {
		t.Errorf("queue len after replay = %d, want 1", g.queue.Len())
	}

	if w := g.do(t, "POST", "/api/messages/sms", validSMS, map[string]string{"Idempotency-Key": "k2"}); w.Code != 202 {
		t.Fatalf("second key: status = %d, want 202", w.Code)
	}
	if g.queue.Len() != 2 {
		t.Errorf("queue len after second key = %d, want 2", g.queue.Len())
	}

	evt := <-g.queue.Events()
	if evt.IdempotencyKey != "k1" {
		t.Errorf("event idempotency key = %q, want k1", evt.IdempotencyKey)
	}
}

func TestNoIdempotencyKeyNoSuppression(t *testing.T) {
	g := testEndpoint(t, testConfig())

	g.do(t, "POST", "/api/messages/sms", validSMS, nil)
	g.do(t, "POST", "/api/messages/sms", validSMS, nil)
	if g.queue.Len() != 2 {
		t.Errorf("queue len = %d, want 2", g.queue.Len())
	}
}

func TestSenderRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerSenderPerMin = 1
	g := testEndpoint(t, cfg)

	if w := g.do(t, "POST", "/api/messages/sms", validSMS, nil); w.Code != 202 {
		t.Fatalf("first post: status = %d, want 202", w.Code)
	}

	w := g.do(t, "POST", "/api/messages/sms", validSMS, nil)
	if w.Code != 429 {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	var errBody errorBody
	decodeBody(t, w, &errBody)
	if errBody.Message != "Too many requests for sender" {
		t.Errorf("message = %q", errBody.Message)
	}

	// Only IP-level denials feed the rate_limited counter.
	if got := g.metrics.RateLimited.Load(); got != 0 {
		t.Errorf("rate_limited counter = %d, want 0", got)
	}

	other := `{"from":"+15559999","to":"+15550200","type":"sms","body":"hi"}`
	if w := g.do(t, "POST", "/api/messages/sms", other, nil); w.Code != 202 {
		t.Errorf("other sender: status = %d, want 202", w.Code)
	}
}

func claimOne(t *testing.T, g *testGateway) *storage.InboundEvent {
	t.Helper()
	ids, err := g.store.ClaimBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("claimed %d events, want 1", len(ids))
	}
	evt, err := g.store.FetchEvent(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("FetchEvent: %v", err)
	}
	if evt == nil {
		t.Fatal("FetchEvent returned nil for a just-claimed id")
	}
	return evt
}

func TestWebhookSMSStoresEvent(t *testing.T) {
	g := testEndpoint(t, testConfig())

	body := `{"from":"+15550300","to":"+15550400","type":"sms","messaging_provider_id":"prov-1",` +
		`"body":"hello","timestamp":"2024-03-01T10:00:00Z"}`
	w := g.do(t, "POST", "/api/webhooks/sms", body, nil)
	if w.Code != 202 {
		t.Fatalf("status = %d, want 202 (body: %s)", w.Code, w.Body.String())
	}

	evt := claimOne(t, g)
	if evt.Channel != "sms" {
		t.Errorf("channel = %q, want sms", evt.Channel)
	}
	if evt.From != "+15550300" || evt.To != "+15550400" {
		t.Errorf("from/to = %q/%q", evt.From, evt.To)
	}
	if !strings.Contains(string(evt.Payload), `"body":"hello"`) {
		t.Errorf("payload does not carry the body: %s", evt.Payload)
	}
}

func TestWebhookProviderIDDedup(t *testing.T) {
	g := testEndpoint(t, testConfig())

	body := `{"from":"+15550300","to":"+15550400","type":"sms","messaging_provider_id":"prov-7","body":"x"}`
	for i := 0; i < 2; i++ {
		if w := g.do(t, "POST", "/api/webhooks/sms", body, nil); w.Code != 202 {
			t.Fatalf("post %d: status = %d, want 202", i+1, w.Code)
		}
	}

	ids, err := g.store.ClaimBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("redelivered webhook produced %d events, want 1", len(ids))
	}
}

func TestWebhookSMSTypeSelectsMMS(t *testing.T) {
	g := testEndpoint(t, testConfig())

	body := `{"from":"+15550300","to":"+15550400","type":"MMS","messaging_provider_id":"prov-2",` +
		`"body":"pic","attachments":["https://cdn/img.png"]}`
	if w := g.do(t, "POST", "/api/webhooks/sms", body, nil); w.Code != 202 {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if evt := claimOne(t, g); evt.Channel != "mms" {
		t.Errorf("channel = %q, want mms", evt.Channel)
	}
}

func TestWebhookSkipsFieldValidation(t *testing.T) {
	g := testEndpoint(t, testConfig())

	// Providers retry on non-2xx, so an empty payload is still stored. The
	// worker substitutes defaults later.
	if w := g.do(t, "POST", "/api/webhooks/sms", `{}`, nil); w.Code != 202 {
		t.Fatalf("status = %d, want 202 (body: %s)", w.Code, w.Body.String())
	}
	evt := claimOne(t, g)
	if evt.From != "" || evt.To != "" {
		t.Errorf("from/to = %q/%q, want empty", evt.From, evt.To)
	}
}

func TestWebhookEmailStoresEvent(t *testing.T) {
	g := testEndpoint(t, testConfig())

	body := `{"from":"ann@example.com","to":"bob@example.com","xillio_id":"x-1","body":"hello"}`
	for i := 0; i < 2; i++ {
		if w := g.do(t, "POST", "/api/webhooks/email", body, nil); w.Code != 202 {
			t.Fatalf("post %d: status = %d, want 202", i+1, w.Code)
		}
	}

	evt := claimOne(t, g)
	if evt.Channel != "email" {
		t.Errorf("channel = %q, want email", evt.Channel)
	}
	if evt.From != "ann@example.com" {
		t.Errorf("from = %q", evt.From)
	}
}

func TestWebhookSenderLimitAsymmetry(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerSenderPerMin = 1
	g := testEndpoint(t, cfg)

	// The sms webhook shares the sender limiter with message submission.
	smsBody := `{"from":"+15550300","to":"+15550400","type":"sms","body":"x"}`
	if w := g.do(t, "POST", "/api/webhooks/sms", smsBody, nil); w.Code != 202 {
		t.Fatalf("first sms webhook: status = %d, want 202", w.Code)
	}
	if w := g.do(t, "POST", "/api/webhooks/sms", smsBody, nil); w.Code != 429 {
		t.Errorf("second sms webhook: status = %d, want 429", w.Code)
	}

	// The email webhook has no sender limit at all.
	emailBody := `{"from":"ann@example.com","to":"bob@example.com","body":"x"}`
	for i := 0; i < 3; i++ {
		if w := g.do(t, "POST", "/api/webhooks/email", emailBody, nil); w.Code != 202 {
			t.Errorf("email webhook %d: status = %d, want 202", i+1, w.Code)
		}
	}
}

func TestMockInbound(t *testing.T) {
	g := testEndpoint(t, testConfig())

	body := `{"channel":"sms","from":"+15550300","to":"+15550400","body":"injected"}`
	if w := g.do(t, "POST", "/api/provider/mock/inbound", body, nil); w.Code != 202 {
		t.Fatalf("status = %d, want 202 (body: %s)", w.Code, w.Body.String())
	}
	evt := claimOne(t, g)
	if evt.Channel != "sms" || evt.From != "+15550300" {
		t.Errorf("event = %+v", evt)
	}
}

func TestMockInboundValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{
			"invalid channel",
			`{"channel":"fax","from":"a","to":"b"}`,
			`invalid channel: must be "sms", "mms" or "email"`,
		},
		{
			"missing from",
			`{"channel":"sms","to":"b"}`,
			"missing field: from",
		},
		{
			"mms without attachments",
			`{"channel":"mms","from":"a","to":"b"}`,
			"mms requires at least one attachment",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			g := testEndpoint(t, testConfig())
			w := g.do(t, "POST", "/api/provider/mock/inbound", test.body, nil)
			if w.Code != 400 {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			var errBody errorBody
			decodeBody(t, w, &errBody)
			if errBody.Message != test.wantMsg {
				t.Errorf("message = %q, want %q", errBody.Message, test.wantMsg)
			}
		})
	}
}

func TestMockConfigRoundTrip(t *testing.T) {
	g := testEndpoint(t, testConfig())

	w := g.do(t, "GET", "/api/provider/mock/config", "", nil)
	if w.Code != 200 {
		t.Fatalf("GET status = %d, want 200", w.Code)
	}
	var dto mockConfigDto
	decodeBody(t, w, &dto)
	if dto.TimeoutPct != 0 || dto.ErrorPct != 0 || dto.RatelimitPct != 0 || dto.Seed != nil {
		t.Errorf("initial config = %+v, want zeros", dto)
	}

	put := `{"timeout_pct":50,"error_pct":10,"ratelimit_pct":5,"seed":42}`
	w = g.do(t, "PUT", "/api/provider/mock/config", put, nil)
	if w.Code != 200 {
		t.Fatalf("PUT status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	decodeBody(t, w, &dto)
	if dto.TimeoutPct != 50 || dto.ErrorPct != 10 || dto.RatelimitPct != 5 {
		t.Errorf("PUT echo = %+v", dto)
	}
	if dto.Seed == nil || *dto.Seed != 42 {
		t.Errorf("PUT echo seed = %v, want 42", dto.Seed)
	}

	// Both mocks pick the faults up, and GET reflects the new state.
	smsFaults := g.mockSMS.Faults()
	emailFaults := g.mockEmail.Faults()
	if smsFaults.TimeoutPct != 50 || smsFaults.ErrorPct != 10 || smsFaults.RatelimitPct != 5 {
		t.Errorf("sms mock faults = %+v", smsFaults)
	}
	if smsFaults.Seed == nil || *smsFaults.Seed != 42 {
		t.Errorf("sms mock seed = %v, want 42", smsFaults.Seed)
	}
	if emailFaults.TimeoutPct != 50 || emailFaults.ErrorPct != 10 {
		t.Errorf("email mock faults = %+v", emailFaults)
	}

	w = g.do(t, "GET", "/api/provider/mock/config", "", nil)
	decodeBody(t, w, &dto)
	if dto.TimeoutPct != 50 || dto.Seed == nil || *dto.Seed != 42 {
		t.Errorf("GET after PUT = %+v", dto)
	}
}
